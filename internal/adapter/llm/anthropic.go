package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

// AnthropicProvider implements domain.LLMProvider via the Messages API.
type AnthropicProvider struct {
	name   string
	model  string
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicProvider creates an Anthropic provider. Retries are left to
// callers; the SDK's own retry loop is disabled.
func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = discardLogger()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(NewHTTPClient(cfg)),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		name:   cfg.Name,
		model:  cfg.Model,
		client: anthropic.NewClient(opts...),
		logger: logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return runChat(ctx, p.name, p.model, p.logger, req, p.send, mapAnthropicError)
}

func (p *AnthropicProvider) send(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	msg, err := p.client.Messages.New(ctx, toAnthropicParams(req))
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &domain.ChatResponse{
		ID:    msg.ID,
		Model: string(msg.Model),
		Message: domain.Message{
			Role:    domain.RoleAssistant,
			Content: text.String(),
		},
		Usage: domain.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// Name implements domain.LLMProvider.
func (p *AnthropicProvider) Name() string { return p.name }

func toAnthropicParams(req domain.ChatRequest) anthropic.MessageNewParams {
	system, turns := splitMessages(req)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages:    make([]anthropic.MessageParam, 0, len(turns)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range turns {
		switch m.Role {
		case domain.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return params
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is Anthropic's "overloaded" status.
		return mapHTTPError(apiErr.StatusCode, apiErr.Error())
	}
	return err
}

var _ domain.LLMProvider = (*AnthropicProvider)(nil)
