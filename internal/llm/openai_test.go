package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adminpilot/control-plane/internal/config"
	"github.com/adminpilot/control-plane/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, handler http.HandlerFunc) *llm.OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return llm.NewOpenAIClient(config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})
}

func TestComplete_ToolCalls(t *testing.T) {
	var got map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "delete_conversation", "arguments": "{\"conversation_id\":\"C1\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 12, "total_tokens": 112}
		}`))
	})

	resp, err := c.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are an admin assistant."},
			{Role: llm.RoleUser, Content: "delete the conversation with id C1"},
		},
		Tools: []llm.ToolSpec{{
			Name:        "delete_conversation",
			Description: "Permanently delete a conversation.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"conversation_id": map[string]any{"type": "string"}}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_abc", resp.ToolCalls[0].ID)
	assert.Equal(t, "delete_conversation", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"conversation_id":"C1"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, 100, resp.Usage.PromptTokens)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.Equal(t, "auto", got["tool_choice"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "delete_conversation", fn["name"])
}

func TestComplete_ToolResultsRoundTrip(t *testing.T) {
	var got struct {
		Messages []map[string]any `json:"messages"`
		Tools    []any            `json:"tools"`
	}
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Deleted conversation C1."}}]}`))
	})

	resp, err := c.Complete(context.Background(), llm.Request{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "delete C1"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_abc", Name: "delete_conversation", Arguments: `{"conversation_id":"C1"}`}}},
		{Role: llm.RoleTool, ToolCallID: "call_abc", Content: `{"success":true}`},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Deleted conversation C1.", resp.Content)

	assert.Empty(t, got.Tools, "summary requests are sent without tools")
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "call_abc", got.Messages[2]["tool_call_id"])
	calls := got.Messages[1]["tool_calls"].([]any)
	assert.Equal(t, "call_abc", calls[0].(map[string]any)["id"])
}

func TestComplete_ErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			want:   llm.ErrRateLimited,
		},
		{
			name:   "quota exhausted",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`,
			want:   llm.ErrQuotaExhausted,
		},
		{
			name:   "payment required",
			status: http.StatusPaymentRequired,
			body:   `{"error":{"message":"Insufficient credits","type":"billing"}}`,
			want:   llm.ErrQuotaExhausted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestComplete_ServerErrorIsNotRateLimit(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})
	_, err := c.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, llm.ErrRateLimited))
	assert.False(t, errors.Is(err, llm.ErrQuotaExhausted))
}

func TestComplete_NotConfigured(t *testing.T) {
	c := llm.NewOpenAIClient(config.LLMConfig{Model: "gpt-4o-mini"})
	_, err := c.Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}
