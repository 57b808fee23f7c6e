package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

func newAnthropicTestServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAnthropicChat(t *testing.T) {
	var sent map[string]any
	server := newAnthropicTestServer(t, http.StatusOK, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "Sales are up."}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 4}
	}`, &sent)

	p := NewAnthropicProvider(config.ProviderConfig{
		Name:    "anthropic",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "claude-default",
	}, nil)

	resp, err := p.Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	assert.Equal(t, "msg_01", resp.ID)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, "Sales are up.", resp.Message.Content)
	assert.Equal(t, domain.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}, resp.Usage)

	assert.Equal(t, "test-model", sent["model"])
	assert.EqualValues(t, 256, sent["max_tokens"])
	assert.InDelta(t, 0.3, sent["temperature"], 1e-9)
	system, _ := sent["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "Be brief.", system[0].(map[string]any)["text"])
	messages, _ := sent["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestAnthropicChatUsesDefaultModel(t *testing.T) {
	var sent map[string]any
	server := newAnthropicTestServer(t, http.StatusOK, `{
		"id": "msg_02", "type": "message", "role": "assistant", "model": "claude-default",
		"content": [{"type": "text", "text": "ok"}], "usage": {"input_tokens": 1, "output_tokens": 1}
	}`, &sent)

	p := NewAnthropicProvider(config.ProviderConfig{Name: "anthropic", BaseURL: server.URL, APIKey: "test-key", Model: "claude-default"}, nil)
	req := chatRequest()
	req.Model = ""
	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "claude-default", sent["model"])
}

func TestAnthropicChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuthInvalid},
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimit},
		{"overloaded", 529, domain.ErrUpstreamUnavailable},
		{"bad request", http.StatusBadRequest, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newAnthropicTestServer(t, tt.status,
				`{"type":"error","error":{"type":"api_error","message":"nope"}}`, nil)
			p := NewAnthropicProvider(config.ProviderConfig{Name: "anthropic", BaseURL: server.URL, APIKey: "test-key"}, nil)

			_, err := p.Chat(context.Background(), chatRequest())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAnthropicName(t *testing.T) {
	p := NewAnthropicProvider(config.ProviderConfig{Name: "claude"}, nil)
	assert.Equal(t, "claude", p.Name())
}
