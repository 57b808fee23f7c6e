package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/metrics"
	"github.com/cfieandres/cyphr-tableau/internal/infra/tracer"
	"github.com/cfieandres/cyphr-tableau/internal/usecase/multiagent"
)

// discardLogger returns a no-op logger for components created without one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Dispatcher defaults.
const (
	DefaultLLMTimeout     = 120 * time.Second
	DefaultMaxTokens      = 4096
	DefaultPromptLogLimit = 4000
)

// DispatchRequest is one agent invocation. Endpoint selects a descriptor
// directly; when it is empty the router picks one from TaskType, Question
// and Data.
type DispatchRequest struct {
	Endpoint  string
	TaskType  string
	Data      string
	Question  string
	SessionID string
	// RequireSession makes an unknown SessionID an error instead of
	// creating the session.
	RequireSession bool
	Format         FormatType
	// RequestPath is the HTTP path the request arrived on, for logging.
	RequestPath string
	ClientIP    string
	// RequestID correlates the request log with transport logs. A new
	// ULID is generated when empty.
	RequestID string
}

// DispatchResult is the outcome of a successful dispatch.
type DispatchResult struct {
	Response       string             `json:"response"`
	Endpoint       string             `json:"endpoint"`
	AgentID        string             `json:"agent_id"`
	Model          string             `json:"model"`
	SessionID      string             `json:"session_id,omitempty"`
	SessionCreated bool               `json:"session_created,omitempty"`
	Reason         domain.RouteReason `json:"route_reason"`
	Score          int                `json:"score"`
	Usage          domain.Usage       `json:"usage"`
	Duration       time.Duration      `json:"-"`
	RequestID      string             `json:"request_id"`
}

// DispatcherDeps holds the collaborators of a Dispatcher. Logs, Metrics and
// Tokens are optional.
type DispatcherDeps struct {
	Registry *multiagent.Registry
	Router   *multiagent.Router
	Sessions *SessionStore
	LLM      domain.ProviderResolver
	Logs     domain.RequestLogStore
	Metrics  *metrics.Metrics
	Tokens   *TokenCounter
	Logger   *slog.Logger
}

// DispatcherConfig tunes a Dispatcher. Zero values select the defaults.
type DispatcherConfig struct {
	Timeout        time.Duration
	MaxTokens      int
	PromptLogLimit int
}

// Dispatcher runs a request end to end: pick a descriptor, build the prompt
// from the payload and session history, invoke the LLM, format the answer,
// record the conversation and write the request log.
type Dispatcher struct {
	deps DispatcherDeps
	cfg  DispatcherConfig
	now  func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	if deps.Tokens == nil {
		deps.Tokens = NewTokenCounter("")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLLMTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.PromptLogLimit <= 0 {
		cfg.PromptLogLimit = DefaultPromptLogLimit
	}
	return &Dispatcher{deps: deps, cfg: cfg, now: time.Now}
}

// Decide returns the routing decision for req without invoking the LLM.
func (d *Dispatcher) Decide(ctx context.Context, req DispatchRequest) (domain.RoutingDecision, error) {
	if ep := strings.TrimSpace(req.Endpoint); ep != "" {
		if !strings.HasPrefix(ep, "/") {
			ep = "/" + ep
		}
		desc, err := d.deps.Registry.Get(ep)
		if err != nil {
			return domain.RoutingDecision{}, err
		}
		return domain.RoutingDecision{Descriptor: desc, Score: multiagent.Score(req.Data, desc), Reason: domain.ReasonDirect}, nil
	}

	ctx, span := tracer.StartSpan(ctx, "router.route")
	defer span.End()
	decision, err := d.deps.Router.Route(ctx, domain.RouteRequest{
		Payload:  req.Data,
		TaskType: req.TaskType,
		Question: req.Question,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return domain.RoutingDecision{}, err
	}
	span.SetAttributes(
		tracer.StringAttr("route.endpoint", decision.Descriptor.EndpointPath),
		tracer.StringAttr("route.reason", string(decision.Reason)),
		tracer.IntAttr("route.score", decision.Score),
	)
	tracer.SetOK(span)
	return decision, nil
}

// Handle dispatches req. Routing, session and LLM errors are returned with
// their domain classification intact. The user turn is recorded before the
// LLM call and kept if the call fails; the assistant turn is recorded only
// on success.
func (d *Dispatcher) Handle(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	ctx, span := tracer.StartSpan(ctx, "dispatch.handle")
	defer span.End()

	start := d.now()
	requestID := req.RequestID
	if requestID == "" {
		requestID = ulid.Make().String()
	}

	format := req.Format
	if format == "" {
		format = FormatAuto
	}

	decision, err := d.Decide(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Dispatcher.Handle", err)
	}
	desc := decision.Descriptor
	span.SetAttributes(tracer.StringAttr("agent.endpoint", desc.EndpointPath))

	question := strings.TrimSpace(req.Question)
	sessionID, created, history, err := d.openSession(ctx, req, question)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Dispatcher.Handle", err)
	}

	span.SetAttributes(
		tracer.StringAttr("route.reason", string(decision.Reason)),
		tracer.BoolAttr("session", sessionID != ""),
	)

	prompt := PreprocessPrompt(BuildPrompt(history, question, RenderPayload(req.Data)))

	result := &DispatchResult{
		Endpoint:       desc.EndpointPath,
		AgentID:        desc.AgentID,
		Model:          desc.Model,
		SessionID:      sessionID,
		SessionCreated: created,
		Reason:         decision.Reason,
		Score:          decision.Score,
		RequestID:      requestID,
	}

	resp, err := d.invoke(ctx, desc, prompt)
	if err != nil {
		tracer.RecordError(span, err)
		result.Duration = d.now().Sub(start)
		d.record(ctx, req, result, prompt, "", err)
		d.deps.Logger.Warn("dispatch failed",
			"request_id", requestID,
			"endpoint", desc.EndpointPath,
			"session_id", sessionID,
			"error", err,
		)
		return nil, domain.WrapOp("Dispatcher.Handle", err)
	}

	result.Response = FormatResponse(resp.Message.Content, format)
	if resp.Model != "" {
		result.Model = resp.Model
	}
	result.Usage = resp.Usage
	if result.Usage.PromptTokens == 0 {
		result.Usage.PromptTokens = d.deps.Tokens.Count(desc.Instructions) + d.deps.Tokens.Count(prompt)
	}
	if result.Usage.CompletionTokens == 0 {
		result.Usage.CompletionTokens = d.deps.Tokens.Count(resp.Message.Content)
	}
	if result.Usage.TotalTokens == 0 {
		result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
	}

	if sessionID != "" {
		if _, err := d.deps.Sessions.AppendMessage(ctx, sessionID, domain.RoleAssistant, result.Response); err != nil {
			d.deps.Logger.Warn("failed to record assistant turn", "session_id", sessionID, "error", err)
		}
	}

	result.Duration = d.now().Sub(start)
	d.record(ctx, req, result, prompt, result.Response, nil)
	tracer.SetOK(span)

	d.deps.Logger.Info("dispatch completed",
		"request_id", requestID,
		"endpoint", desc.EndpointPath,
		"reason", string(decision.Reason),
		"session_id", sessionID,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// openSession engages the session store when the request names a session or
// asks a question. It returns the rendered history from before this request
// and records the question as the user turn. Data-only calls add no user
// turn. RequireSession applies only to an explicit session id.
func (d *Dispatcher) openSession(ctx context.Context, req DispatchRequest, question string) (id string, created bool, history string, err error) {
	if d.deps.Sessions == nil || (req.SessionID == "" && question == "") {
		return "", false, "", nil
	}

	var snap SessionSnapshot
	if req.RequireSession && req.SessionID != "" {
		snap, err = d.deps.Sessions.Get(ctx, req.SessionID)
	} else {
		snap, created, err = d.deps.Sessions.GetOrCreate(ctx, req.SessionID)
	}
	if err != nil {
		return "", false, "", err
	}
	history = RenderTranscript(snap.Messages)

	if question != "" {
		if _, err := d.deps.Sessions.AppendMessage(ctx, snap.ID, domain.RoleUser, question); err != nil {
			return "", false, "", err
		}
	}
	return snap.ID, created, history, nil
}

// invoke calls the LLM for desc. No lock is held during the call.
func (d *Dispatcher) invoke(ctx context.Context, desc domain.AgentDescriptor, prompt string) (*domain.ChatResponse, error) {
	provider, err := d.deps.LLM.Resolve(desc.Model)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	resp, err := provider.Chat(callCtx, domain.ChatRequest{
		Model: desc.Model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: desc.Instructions},
			{Role: domain.RoleUser, Content: prompt},
		},
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: desc.Temperature,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstreamUnavailable) {
			err = errors.Join(domain.ErrUpstreamUnavailable, domain.ErrTimeout, err)
		}
		return nil, err
	}
	return resp, nil
}

// record writes the request log and updates metrics. Failures are logged
// and never fail the request.
func (d *Dispatcher) record(ctx context.Context, req DispatchRequest, res *DispatchResult, prompt, response string, callErr error) {
	status := domain.StatusSuccess
	if callErr != nil {
		status = domain.StatusError
	}
	d.deps.Metrics.ObserveDispatch(res.Endpoint, string(res.Reason), status, res.Duration)
	d.deps.Metrics.AddTokens(res.Model, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	if d.deps.Sessions != nil {
		d.deps.Metrics.SetActiveSessions(d.deps.Sessions.Len())
	}

	if d.deps.Logs == nil {
		return
	}
	entry := domain.RequestLog{
		ID:               res.RequestID,
		Endpoint:         req.RequestPath,
		SelectedEndpoint: res.Endpoint,
		AgentID:          res.AgentID,
		RouteReason:      string(res.Reason),
		SessionID:        res.SessionID,
		PromptData:       truncate(prompt, d.cfg.PromptLogLimit),
		Response:         response,
		ExecutionTimeMS:  res.Duration.Milliseconds(),
		InputTokens:      res.Usage.PromptTokens,
		OutputTokens:     res.Usage.CompletionTokens,
		Model:            res.Model,
		Status:           status,
		ClientIP:         req.ClientIP,
		Timestamp:        d.now().UTC(),
	}
	if entry.Endpoint == "" {
		entry.Endpoint = res.Endpoint
	}
	if callErr != nil {
		entry.Error = callErr.Error()
		entry.InputTokens = d.deps.Tokens.Count(prompt)
	}
	if err := d.deps.Logs.InsertLog(context.WithoutCancel(ctx), entry); err != nil {
		d.deps.Logger.Warn("failed to write request log", "request_id", res.RequestID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
