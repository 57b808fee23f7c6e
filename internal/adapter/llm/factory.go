package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

// NewProvider builds the provider for one config entry.
func NewProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	switch cfg.Type {
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "openai", "ollama", "openrouter":
		return NewOpenAIProvider(cfg, logger), nil
	case "gemini":
		return NewGeminiProvider(cfg, logger), nil
	case "bedrock":
		return NewBedrockProvider(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// hasCredentials reports whether cfg can authenticate. Ollama needs no
// key and Bedrock uses the AWS credential chain.
func hasCredentials(cfg config.ProviderConfig) bool {
	switch cfg.Type {
	case "ollama", "bedrock":
		return true
	default:
		return cfg.APIKey != ""
	}
}

// BuildRegistry creates every configured provider that has credentials,
// wraps each in a circuit breaker when enabled, and chains fallbacks onto
// the default provider when failover is enabled. Providers without
// credentials are skipped and logged; they are not an error here.
func BuildRegistry(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = discardLogger()
	}

	built := make(map[string]domain.LLMProvider, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if !hasCredentials(pc) {
			logger.Warn("llm provider skipped: no api key", "provider", pc.Name, "type", pc.Type)
			continue
		}
		p, err := NewProvider(ctx, pc, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		built[pc.Name] = p
	}

	if cfg.Failover.Enabled {
		if primary, ok := built[cfg.DefaultProvider]; ok {
			var fallbacks []domain.LLMProvider
			for _, name := range cfg.Failover.Fallbacks {
				if fb, ok := built[name]; ok && name != cfg.DefaultProvider {
					fallbacks = append(fallbacks, fb)
				}
			}
			if len(fallbacks) > 0 {
				built[cfg.DefaultProvider] = NewFailoverProvider(primary, fallbacks, logger)
			}
		}
	}

	reg := NewRegistry(cfg.DefaultProvider, cfg.ModelRoutes)
	for _, pc := range cfg.Providers {
		if p, ok := built[pc.Name]; ok {
			if err := reg.Register(p); err != nil {
				return nil, err
			}
		}
	}
	if _, err := reg.Get(cfg.DefaultProvider); err != nil {
		logger.Warn("default llm provider unavailable", "provider", cfg.DefaultProvider)
	}
	logger.Info("llm providers ready", "providers", reg.List())
	return reg, nil
}
