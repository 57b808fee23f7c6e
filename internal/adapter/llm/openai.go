package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

// Base URLs for OpenAI-compatible provider types.
const (
	defaultOllamaURL     = "http://localhost:11434/v1"
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
)

// OpenAIProvider implements domain.LLMProvider via the Chat Completions
// API. It also serves OpenAI-compatible backends (Ollama, OpenRouter)
// selected by base URL.
type OpenAIProvider struct {
	name   string
	model  string
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates an OpenAI or OpenAI-compatible provider.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = discardLogger()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch cfg.Type {
		case "ollama":
			baseURL = defaultOllamaURL
		case "openrouter":
			baseURL = defaultOpenRouterURL
		}
	}
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.Type == "ollama" {
		// Ollama ignores the key but the SDK requires one.
		apiKey = "ollama"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(NewHTTPClient(cfg)),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.Type == "openrouter" {
		opts = append(opts, option.WithHeader("X-Title", "cyphr"))
	}

	return &OpenAIProvider{
		name:   cfg.Name,
		model:  cfg.Model,
		client: openai.NewClient(opts...),
		logger: logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return runChat(ctx, p.name, p.model, p.logger, req, p.send, mapOpenAIError)
}

func (p *OpenAIProvider) send(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, toOpenAIParams(req))
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, domain.NewDomainError("OpenAIProvider.Chat", domain.ErrProviderError, "no choices returned")
	}

	return &domain.ChatResponse{
		ID:    completion.ID,
		Model: completion.Model,
		Message: domain.Message{
			Role:    domain.RoleAssistant,
			Content: completion.Choices[0].Message.Content,
		},
		Usage: domain.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

func toOpenAIParams(req domain.ChatRequest) openai.ChatCompletionNewParams {
	system, turns := splitMessages(req)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, m := range turns {
		switch m.Role {
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
	}
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return mapHTTPError(apiErr.StatusCode, apiErr.Error())
	}
	return err
}

var _ domain.LLMProvider = (*OpenAIProvider)(nil)
