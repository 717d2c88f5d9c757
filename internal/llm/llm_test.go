package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorsync-ai/vectorsync/internal/config"
)

func testTools() []Tool {
	return []Tool{
		{
			Name:        "request_more_context_by_question",
			Description: "Ask for more schema context.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]interface{}{"type": "string"},
				},
				"required": []string{"question"},
			},
		},
	}
}

func TestAnthropicProvider_ChatMapsToolsAndChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys prompt", req.System)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "request_more_context_by_question", req.Tools[0].Name)
		assert.Equal(t, map[string]interface{}{"type": "tool", "name": "answer"}, req.ToolChoice)
		assert.Equal(t, "vectorsync", req.Metadata["user_id"])

		w.Write([]byte(`{
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "thinking"},
				{"type": "tool_use", "name": "answer", "input": {"sql_statement": "SELECT 1"}}
			]
		}`))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider("claude-3-5-sonnet-20241022", "test-key", srv.URL, time.Minute)
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), &Request{
		System:     "sys prompt",
		Messages:   []Message{{Role: RoleUser, Content: "hello"}},
		Tools:      testTools(),
		ToolChoice: ToolChoiceForced,
		ForcedTool: "answer",
	})
	require.NoError(t, err)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, "thinking", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "answer", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"sql_statement": "SELECT 1"}`, string(resp.ToolCalls[0].Input))
}

func TestAnthropicProvider_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "too long"}}`))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider("m", "k", srv.URL, time.Minute)
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too long")
}

func TestOpenAIChatProvider_ChatMapsToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req openaiChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// System prompt travels as the first message.
		require.NotEmpty(t, req.Messages)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)
		assert.Equal(t, "required", req.ToolChoice)

		w.Write([]byte(`{
			"choices": [{
				"finish_reason": "tool_calls",
				"message": {
					"content": "",
					"tool_calls": [{"function": {"name": "request_more_context_by_question", "arguments": "{\"question\": \"what tables?\"}"}}]
				}
			}]
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIChatProvider("gpt-4o", "k", srv.URL, time.Minute)
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), &Request{
		System:     "sys",
		Messages:   []Message{{Role: RoleUser, Content: "q"}},
		Tools:      testTools(),
		ToolChoice: ToolChoiceRequired,
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "request_more_context_by_question", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"question": "what tables?"}`, string(resp.ToolCalls[0].Input))
}

func TestCohereProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		w.Write([]byte(`{
			"finish_reason": "TOOL_CALL",
			"message": {
				"content": [{"type": "text", "text": "ok"}],
				"tool_calls": [{"function": {"name": "answer", "arguments": "{}"}}]
			}
		}`))
	}))
	defer srv.Close()

	p, err := NewCohereProvider("command-r-plus", "k", srv.URL, time.Minute)
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "q"}},
		Tools:    testTools(),
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
}

func TestOllamaChatProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)

		w.Write([]byte(`{
			"done_reason": "stop",
			"message": {
				"content": "",
				"tool_calls": [{"function": {"name": "answer", "arguments": {"sql_statement": "SELECT 1"}}}]
			}
		}`))
	}))
	defer srv.Close()

	p, err := NewOllamaChatProvider("llama3.1", srv.URL, time.Minute)
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "q"}},
		Tools:    testTools(),
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.JSONEq(t, `{"sql_statement": "SELECT 1"}`, string(resp.ToolCalls[0].Input))
}

func TestNew_Dispatch(t *testing.T) {
	p, err := New("anthropic", "m", "k", config.ProviderConfig{})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicProvider{}, p)

	p, err = New("ollama", "m", "", config.ProviderConfig{})
	require.NoError(t, err)
	assert.IsType(t, &OllamaChatProvider{}, p)

	_, err = New("gemini", "m", "k", config.ProviderConfig{})
	assert.Error(t, err)
}
