package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

// GeminiProvider implements domain.LLMProvider via the Gemini API.
// The SDK client is created on first use.
type GeminiProvider struct {
	name   string
	model  string
	cfg    config.ProviderConfig
	logger *slog.Logger

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(cfg config.ProviderConfig, logger *slog.Logger) *GeminiProvider {
	if logger == nil {
		logger = discardLogger()
	}
	return &GeminiProvider{name: cfg.Name, model: cfg.Model, cfg: cfg, logger: logger}
}

func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:     p.cfg.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: NewHTTPClient(p.cfg),
		}
		if p.cfg.BaseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.BaseURL}
		}
		p.client, p.clientErr = genai.NewClient(ctx, cc)
		if p.clientErr != nil {
			p.clientErr = fmt.Errorf("%w: create gemini client: %v", domain.ErrProviderError, p.clientErr)
		}
	})
	return p.client, p.clientErr
}

// Chat implements domain.LLMProvider.
func (p *GeminiProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return runChat(ctx, p.name, p.model, p.logger, req, p.send, mapGeminiError)
}

func (p *GeminiProvider) send(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	contents, cfg := toGeminiRequest(req)
	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, err
	}
	return fromGeminiResponse(resp), nil
}

// Name implements domain.LLMProvider.
func (p *GeminiProvider) Name() string { return p.name }

func toGeminiRequest(req domain.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, turns := splitMessages(req)

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.RoleUser
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	temperature := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return contents, cfg
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) *domain.ChatResponse {
	out := &domain.ChatResponse{
		ID:    resp.ResponseID,
		Model: resp.ModelVersion,
		Message: domain.Message{
			Role: domain.RoleAssistant,
		},
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var text strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text.WriteString(part.Text)
		}
		out.Message.Content = text.String()
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = domain.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return mapHTTPError(apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return mapHTTPError(apiErrPtr.Code, apiErrPtr.Message)
	}
	return err
}

var _ domain.LLMProvider = (*GeminiProvider)(nil)
