package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// FailoverProvider tries a primary provider, then each fallback in order.
// It reports the primary's name so routing and logs stay stable.
type FailoverProvider struct {
	primary   domain.LLMProvider
	fallbacks []domain.LLMProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = discardLogger()
	}
	return &FailoverProvider{primary: primary, fallbacks: fallbacks, logger: logger}
}

// Chat tries the primary provider first, then each fallback on failure.
// A cancelled or expired context stops the chain. Fallbacks use their own
// default model since the requested one belongs to the primary.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := f.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	errs := []error{fmt.Errorf("%s: %w", f.primary.Name(), err)}

	for _, fb := range f.fallbacks {
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("llm provider failed, trying fallback",
			"provider", f.primary.Name(), "fallback", fb.Name(), "error", err)

		fbReq := req
		fbReq.Model = ""
		resp, err = fb.Chat(ctx, fbReq)
		if err == nil {
			f.logger.Info("failover succeeded", "provider", fb.Name())
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", fb.Name(), err))
	}

	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// Name implements domain.LLMProvider.
func (f *FailoverProvider) Name() string { return f.primary.Name() }

var _ domain.LLMProvider = (*FailoverProvider)(nil)
