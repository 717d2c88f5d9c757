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

// OpenAIChatProvider calls the OpenAI chat completions API.
type OpenAIChatProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewOpenAIChatProvider creates an OpenAI chat provider.
func NewOpenAIChatProvider(model, apiKey, baseURL string, timeout time.Duration) (*OpenAIChatProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIChatProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}, nil
}

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type openaiChatRequest struct {
	Model      string              `json:"model"`
	Messages   []openaiChatMessage `json:"messages"`
	Tools      []openaiChatTool    `json:"tools,omitempty"`
	ToolChoice interface{}         `json:"tool_choice,omitempty"`
	MaxTokens  int                 `json:"max_tokens,omitempty"`
}

type openaiChatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat implements ChatProvider.
func (p *OpenAIChatProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	oreq := openaiChatRequest{
		Model:     p.model,
		MaxTokens: req.MaxTokens,
	}
	if req.System != "" {
		oreq.Messages = append(oreq.Messages, openaiChatMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		oreq.Messages = append(oreq.Messages, openaiChatMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		var ot openaiChatTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.InputSchema
		oreq.Tools = append(oreq.Tools, ot)
	}
	switch req.ToolChoice {
	case ToolChoiceRequired:
		oreq.ToolChoice = "required"
	case ToolChoiceForced:
		oreq.ToolChoice = map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": req.ForcedTool},
		}
	case ToolChoiceAuto, "":
		if len(oreq.Tools) > 0 {
			oreq.ToolChoice = "auto"
		}
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var oresp openaiChatResponse
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if oresp.Error != nil {
			msg = oresp.Error.Message
		}
		return nil, fmt.Errorf("openai: %s (status %d)", msg, resp.StatusCode)
	}
	if len(oresp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	choice := oresp.Choices[0]
	out := &Response{
		StopReason: choice.FinishReason,
		Text:       choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Model implements ChatProvider.
func (p *OpenAIChatProvider) Model() string { return p.model }
