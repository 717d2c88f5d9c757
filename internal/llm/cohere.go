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

// CohereProvider calls the Cohere v2 chat API.
type CohereProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewCohereProvider creates a Cohere chat provider.
func NewCohereProvider(model, apiKey, baseURL string, timeout time.Duration) (*CohereProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("cohere: API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("cohere: model is required")
	}
	if baseURL == "" {
		baseURL = "https://api.cohere.com/v2"
	}
	return &CohereProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}, nil
}

type cohereMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cohereTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type cohereRequest struct {
	Model    string          `json:"model"`
	Messages []cohereMessage `json:"messages"`
	Tools    []cohereTool    `json:"tools,omitempty"`
}

type cohereResponse struct {
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
}

// Chat implements ChatProvider. Cohere has no forced tool choice; the agent
// compensates by re-prompting when the final iteration yields no answer
// tool call.
func (p *CohereProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	creq := cohereRequest{Model: p.model}
	if req.System != "" {
		creq.Messages = append(creq.Messages, cohereMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		creq.Messages = append(creq.Messages, cohereMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		var ct cohereTool
		ct.Type = "function"
		ct.Function.Name = t.Name
		ct.Function.Description = t.Description
		ct.Function.Parameters = t.InputSchema
		creq.Tools = append(creq.Tools, ct)
	}

	body, err := json.Marshal(creq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cohere request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cohere: %s (status %d)", respBody, resp.StatusCode)
	}

	var cresp cohereResponse
	if err := json.Unmarshal(respBody, &cresp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	out := &Response{StopReason: cresp.FinishReason}
	for _, c := range cresp.Message.Content {
		if c.Type == "text" {
			out.Text += c.Text
		}
	}
	for _, tc := range cresp.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Model implements ChatProvider.
func (p *CohereProvider) Model() string { return p.model }
