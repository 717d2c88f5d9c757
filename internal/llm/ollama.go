package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaChatProvider calls a local ollama chat endpoint.
type OllamaChatProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllamaChatProvider creates an ollama chat provider. No API key; the
// endpoint is assumed local or otherwise secured.
func NewOllamaChatProvider(model, baseURL string, timeout time.Duration) (*OllamaChatProvider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaChatProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []ollamaChatTool    `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error,omitempty"`
}

// Chat implements ChatProvider. Ollama has no server-side tool forcing; the
// agent's loop bound covers models that never call the answer tool.
func (p *OllamaChatProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	oreq := ollamaChatRequest{Model: p.model, Stream: false}
	if req.System != "" {
		oreq.Messages = append(oreq.Messages, ollamaChatMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		oreq.Messages = append(oreq.Messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		var ot ollamaChatTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.InputSchema
		oreq.Tools = append(oreq.Tools, ot)
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var oresp ollamaChatResponse
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || oresp.Error != "" {
		msg := oresp.Error
		if msg == "" {
			msg = string(respBody)
		}
		return nil, fmt.Errorf("ollama: %s (status %d)", msg, resp.StatusCode)
	}

	out := &Response{
		StopReason: oresp.DoneReason,
		Text:       oresp.Message.Content,
	}
	for _, tc := range oresp.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}
	return out, nil
}

// Model implements ChatProvider.
func (p *OllamaChatProvider) Model() string { return p.model }
