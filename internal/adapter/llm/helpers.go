package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/tracer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// defaultMaxTokens is used when a request does not set MaxTokens.
const defaultMaxTokens = 4096

// chatCall performs one provider round trip for an already defaulted request.
type chatCall func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)

// runChat wraps call with the llm.chat span, model defaulting, error
// classification and completion logging shared by every provider.
func runChat(ctx context.Context, provider, defaultModel string, logger *slog.Logger, req domain.ChatRequest, call chatCall, classify func(error) error) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = defaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", provider),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := call(ctx, req)
	if err != nil {
		err = classifyTransport(ctx, err)
		if classify != nil {
			err = classify(err)
		}
		err = fmt.Errorf("%s: %w", provider, err)
		tracer.RecordError(span, err)
		logger.Warn("llm chat failed",
			"provider", provider,
			"model", req.Model,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	resp.Message.Role = domain.RoleAssistant
	if resp.Message.Timestamp.IsZero() {
		resp.Message.Timestamp = resp.CreatedAt
	}

	setUsageAttrs(span, resp.Usage)
	tracer.SetOK(span)
	logChatCompleted(logger, provider, resp, time.Since(start))
	return resp, nil
}

// splitMessages separates the system prompt from the conversation turns.
// Multiple system messages are joined with a blank line.
func splitMessages(req domain.ChatRequest) (string, []domain.Message) {
	var system []string
	turns := make([]domain.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// logChatCompleted logs the standard debug message after a successful LLM chat.
func logChatCompleted(logger *slog.Logger, providerName string, result *domain.ChatResponse, d time.Duration) {
	logger.Debug("llm chat completed",
		"provider", providerName,
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
		"duration_ms", d.Milliseconds(),
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// classifyTransport marks timeouts and network failures as transient.
// Errors already carrying a domain classification pass through.
func classifyTransport(ctx context.Context, err error) error {
	if alreadyClassified(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Join(domain.ErrUpstreamUnavailable, domain.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Join(domain.ErrUpstreamUnavailable, err)
	}
	return err
}

func alreadyClassified(err error) bool {
	for _, sentinel := range []error{
		domain.ErrUpstreamUnavailable,
		domain.ErrAuthInvalid,
		domain.ErrContextOverflow,
		domain.ErrProviderError,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// mapHTTPError maps an upstream HTTP status to a domain error. Rate limits
// and server-side failures are transient; everything else is fatal for
// the request.
func mapHTTPError(statusCode int, detail string) error {
	detail = fmt.Sprintf("API error %d: %s", statusCode, detail)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusBadRequest && looksLikeOverflow(detail):
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrUpstreamUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	}
}

func looksLikeOverflow(detail string) bool {
	d := strings.ToLower(detail)
	return strings.Contains(d, "context length") ||
		strings.Contains(d, "context window") ||
		strings.Contains(d, "too long") ||
		strings.Contains(d, "maximum context")
}
