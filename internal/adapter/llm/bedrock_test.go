package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

type mockBedrockClient struct {
	input  *bedrockruntime.ConverseInput
	output *bedrockruntime.ConverseOutput
	err    error
}

func (m *mockBedrockClient) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.input = params
	return m.output, m.err
}

func bedrockReply(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
		}},
		Usage: &types.TokenUsage{
			InputTokens:  aws.Int32(14),
			OutputTokens: aws.Int32(4),
			TotalTokens:  aws.Int32(18),
		},
	}
}

func TestBedrockChat(t *testing.T) {
	client := &mockBedrockClient{output: bedrockReply("Churn is flat.")}
	p := newBedrockProviderWithClient("bedrock", "anthropic.claude-test", client, nil)

	resp, err := p.Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	assert.Equal(t, "Churn is flat.", resp.Message.Content)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, domain.Usage{PromptTokens: 14, CompletionTokens: 4, TotalTokens: 18}, resp.Usage)

	in := client.input
	require.NotNil(t, in)
	assert.Equal(t, "test-model", aws.ToString(in.ModelId))
	assert.EqualValues(t, 256, aws.ToInt32(in.InferenceConfig.MaxTokens))
	require.Len(t, in.System, 1)
	assert.Equal(t, "Be brief.", in.System[0].(*types.SystemContentBlockMemberText).Value)
	require.Len(t, in.Messages, 1)
	assert.Equal(t, types.ConversationRoleUser, in.Messages[0].Role)
}

func TestBedrockDefaultModel(t *testing.T) {
	client := &mockBedrockClient{output: bedrockReply("ok")}
	p := newBedrockProviderWithClient("bedrock", "anthropic.claude-test", client, nil)

	req := chatRequest()
	req.Model = ""
	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "anthropic.claude-test", aws.ToString(client.input.ModelId))
}

func TestFromBedrockConverseOutputWithoutMessage(t *testing.T) {
	resp := fromBedrockConverseOutput(&bedrockruntime.ConverseOutput{})
	assert.Empty(t, resp.Message.Content)
	assert.Equal(t, domain.Usage{}, resp.Usage)
}

func TestMapBedrockError(t *testing.T) {
	tests := []struct {
		code    string
		message string
		want    error
	}{
		{"ThrottlingException", "slow down", domain.ErrRateLimit},
		{"AccessDeniedException", "denied", domain.ErrAuthInvalid},
		{"ValidationException", "input is too long for requested model", domain.ErrContextOverflow},
		{"ValidationException", "bad temperature", domain.ErrProviderError},
		{"ServiceUnavailableException", "try later", domain.ErrUpstreamUnavailable},
		{"ModelTimeoutException", "slow model", domain.ErrUpstreamUnavailable},
		{"ResourceNotFoundException", "no model", domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.code+"_"+tt.message, func(t *testing.T) {
			err := mapBedrockError(&smithy.GenericAPIError{Code: tt.code, Message: tt.message})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	plain := errors.New("dial tcp: refused")
	assert.Equal(t, plain, mapBedrockError(plain))
}

func TestBedrockChatError(t *testing.T) {
	client := &mockBedrockClient{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	p := newBedrockProviderWithClient("bedrock", "m", client, nil)

	_, err := p.Chat(context.Background(), chatRequest())
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.True(t, domain.IsRetryableError(err))
}
