package multiagent

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// discardLogger returns a no-op logger for components created without one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DefaultGeneralAgentIDs are the agent ids treated as general Q&A handlers
// when no list is configured.
var DefaultGeneralAgentIDs = []string{"general", "general-agent"}

// Router selects the descriptor that should handle a request.
//
// Precedence: an explicit task type that resolves to a descriptor, then a
// question routed to the general Q&A descriptor, then keyword scoring.
type Router struct {
	registry   *Registry
	generalIDs map[string]struct{}
	logger     *slog.Logger
}

// NewRouter creates a Router over registry. generalAgentIDs names the agent
// ids that denote general-purpose handling; nil selects DefaultGeneralAgentIDs.
func NewRouter(registry *Registry, generalAgentIDs []string) *Router {
	return NewRouterWithLogger(registry, generalAgentIDs, discardLogger())
}

// NewRouterWithLogger creates a Router with debug logging.
func NewRouterWithLogger(registry *Registry, generalAgentIDs []string, logger *slog.Logger) *Router {
	if generalAgentIDs == nil {
		generalAgentIDs = DefaultGeneralAgentIDs
	}
	ids := make(map[string]struct{}, len(generalAgentIDs))
	for _, id := range generalAgentIDs {
		ids[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Router{registry: registry, generalIDs: ids, logger: logger}
}

// Route picks exactly one descriptor for req, or fails with ErrNoRoute when
// the registry is empty. When no descriptor scores above zero the
// lowest-priority fallback (no indicators) is chosen; a registry without
// fallbacks falls back to the lowest-priority descriptor overall.
func (r *Router) Route(_ context.Context, req domain.RouteRequest) (domain.RoutingDecision, error) {
	candidates := r.registry.List()
	if len(candidates) == 0 {
		return domain.RoutingDecision{}, domain.NewDomainError("Router.Route", domain.ErrNoRoute, "no agents configured")
	}

	if task := strings.TrimSpace(req.TaskType); task != "" {
		if d, ok := r.registry.Resolve(task); ok {
			r.logger.Debug("task type matched agent", "task_type", task, "endpoint", d.EndpointPath)
			return domain.RoutingDecision{Descriptor: d, Score: Score(req.Payload, d), Reason: domain.ReasonExplicit}, nil
		}
		r.logger.Debug("unknown task type, scoring payload", "task_type", task)
	}

	if strings.TrimSpace(req.Question) != "" {
		if d, ok := r.generalDescriptor(candidates); ok {
			r.logger.Debug("question routed to general agent", "endpoint", d.EndpointPath)
			return domain.RoutingDecision{Descriptor: d, Reason: domain.ReasonQuestion}, nil
		}
	}

	payload := strings.ToLower(req.Payload)
	best, bestScore := 0, scoreLower(payload, candidates[0])
	for i := 1; i < len(candidates); i++ {
		s := scoreLower(payload, candidates[i])
		if s > bestScore || (s == bestScore && candidates[i].Priority < candidates[best].Priority) {
			best, bestScore = i, s
		}
	}

	reason := domain.ReasonScore
	if bestScore == 0 {
		reason = domain.ReasonFallback
		if i := lowestPriority(candidates, domain.AgentDescriptor.IsFallback); i >= 0 {
			best = i
		}
	}
	d := candidates[best]
	r.logger.Debug("payload scored",
		"endpoint", d.EndpointPath,
		"score", bestScore,
		"reason", string(reason),
		"candidates", len(candidates),
	)
	return domain.RoutingDecision{Descriptor: d, Score: bestScore, Reason: reason}, nil
}

// IsGeneral reports whether d is a general Q&A descriptor: no indicators and
// an agent id that denotes general-purpose handling.
func (r *Router) IsGeneral(d domain.AgentDescriptor) bool {
	if !d.IsFallback() {
		return false
	}
	_, ok := r.generalIDs[strings.ToLower(d.AgentID)]
	return ok
}

// generalDescriptor returns the lowest-priority general descriptor.
func (r *Router) generalDescriptor(candidates []domain.AgentDescriptor) (domain.AgentDescriptor, bool) {
	i := lowestPriority(candidates, r.IsGeneral)
	if i < 0 {
		return domain.AgentDescriptor{}, false
	}
	return candidates[i], true
}

// lowestPriority returns the index of the lowest-priority candidate
// accepted by keep, first registered on ties, or -1 when none is.
func lowestPriority(candidates []domain.AgentDescriptor, keep func(domain.AgentDescriptor) bool) int {
	found := -1
	for i, d := range candidates {
		if !keep(d) {
			continue
		}
		if found < 0 || d.Priority < candidates[found].Priority {
			found = i
		}
	}
	return found
}

// Score counts the indicators of d that occur in payload, ignoring case.
// Descriptors without indicators always score zero.
func Score(payload string, d domain.AgentDescriptor) int {
	return scoreLower(strings.ToLower(payload), d)
}

func scoreLower(payload string, d domain.AgentDescriptor) int {
	n := 0
	for _, ind := range d.Indicators {
		if ind != "" && strings.Contains(payload, strings.ToLower(ind)) {
			n++
		}
	}
	return n
}
