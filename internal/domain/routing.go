package domain

// RouteRequest carries the inputs the router scores.
type RouteRequest struct {
	Payload  string
	TaskType string
	Question string
}

// RouteReason records which rule selected a descriptor.
type RouteReason string

const (
	ReasonExplicit RouteReason = "explicit"
	ReasonQuestion RouteReason = "question"
	ReasonScore    RouteReason = "score"
	ReasonFallback RouteReason = "fallback"
	ReasonDirect   RouteReason = "direct"
)

// RoutingDecision is the chosen descriptor for one request plus the raw
// score that produced it. It is never persisted.
type RoutingDecision struct {
	Descriptor AgentDescriptor `json:"descriptor"`
	Score      int             `json:"score"`
	Reason     RouteReason     `json:"reason"`
}
