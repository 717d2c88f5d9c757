// Package llm provides the chat-completion capability used by the
// text-to-SQL agent, with adapters for anthropic, openai, cohere, and
// ollama. The adapters translate one neutral tool schema to each vendor's
// wire format and back.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vectorsync-ai/vectorsync/internal/config"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role    string
	Content string
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema object describing the arguments.
	InputSchema map[string]interface{}
}

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"     // model decides
	ToolChoiceRequired = "required" // model must call some tool
	ToolChoiceForced   = "forced"   // model must call ForcedTool
)

// Request is a chat completion request.
type Request struct {
	Model      string
	System     string
	Messages   []Message
	Tools      []Tool
	ToolChoice string
	ForcedTool string
	MaxTokens  int
}

// ToolCall is one tool invocation in a response, in emission order.
type ToolCall struct {
	Name  string
	Input json.RawMessage
}

// Response is a chat completion response.
type Response struct {
	StopReason string
	Text       string
	ToolCalls  []ToolCall
}

// ChatProvider sends a chat request to one vendor.
type ChatProvider interface {
	Chat(ctx context.Context, req *Request) (*Response, error)
	Model() string
}

// New creates the adapter for a configured provider. apiKey may be empty for
// ollama.
func New(provider, model, apiKey string, pcfg config.ProviderConfig) (ChatProvider, error) {
	timeout := pcfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	switch provider {
	case "anthropic":
		return NewAnthropicProvider(model, apiKey, pcfg.BaseURL, timeout)
	case "openai":
		return NewOpenAIChatProvider(model, apiKey, pcfg.BaseURL, timeout)
	case "cohere":
		return NewCohereProvider(model, apiKey, pcfg.BaseURL, timeout)
	case "ollama":
		return NewOllamaChatProvider(model, pcfg.BaseURL, timeout)
	default:
		return nil, fmt.Errorf("unknown chat provider %q", provider)
	}
}
