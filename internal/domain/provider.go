package domain

import "context"

// LLMProvider is the interface for any LLM backend.
//
// Implementations classify failures: transient ones wrap
// ErrUpstreamUnavailable, fatal ones wrap ErrAuthInvalid,
// ErrContextOverflow or ErrProviderError.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "anthropic", "openai").
	Name() string
}

// ProviderResolver picks the provider that serves a model.
type ProviderResolver interface {
	Resolve(model string) (LLMProvider, error)
}
