package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

// bedrockConverseAPI abstracts the Bedrock runtime method used, for tests.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements domain.LLMProvider via the AWS Bedrock Converse API.
type BedrockProvider struct {
	name   string
	model  string
	client bedrockConverseAPI
	logger *slog.Logger
}

// NewBedrockProvider creates a Bedrock provider using the default AWS
// credential chain.
func NewBedrockProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(NewHTTPClient(cfg)),
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newBedrockProviderWithClient(cfg.Name, cfg.Model, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockProviderWithClient(name, model string, client bedrockConverseAPI, logger *slog.Logger) *BedrockProvider {
	if logger == nil {
		logger = discardLogger()
	}
	return &BedrockProvider{name: name, model: model, client: client, logger: logger}
}

// Chat implements domain.LLMProvider.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return runChat(ctx, p.name, p.model, p.logger, req, p.send, mapBedrockError)
}

func (p *BedrockProvider) send(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	output, err := p.client.Converse(ctx, toBedrockConverseInput(req))
	if err != nil {
		return nil, err
	}
	return fromBedrockConverseOutput(output), nil
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return p.name }

func toBedrockConverseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	system, turns := splitMessages(req)

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(req.MaxTokens)),
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}
	for _, m := range turns {
		role := types.ConversationRoleUser
		if m.Role == domain.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return input
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput) *domain.ChatResponse {
	result := &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant}}

	if output.Usage != nil {
		result.Usage = domain.Usage{
			PromptTokens:     int(aws.ToInt32(output.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}

	if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		var text strings.Builder
		for _, block := range msg.Value.Content {
			if b, ok := block.(*types.ContentBlockMemberText); ok {
				text.WriteString(b.Value)
			}
		}
		result.Message.Content = text.String()
	}
	return result
}

func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	msg := err.Error()
	switch code := apiErr.ErrorCode(); {
	case code == "ThrottlingException" || code == "TooManyRequestsException":
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
	case code == "AccessDeniedException" || code == "UnrecognizedClientException":
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
	case code == "ValidationException" && looksLikeOverflow(msg):
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
	case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
		code == "InternalServerException" || code == "ModelTimeoutException":
		return fmt.Errorf("%w: %s", domain.ErrUpstreamUnavailable, msg)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
	}
}

var _ domain.LLMProvider = (*BedrockProvider)(nil)
