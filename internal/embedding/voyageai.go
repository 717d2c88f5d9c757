package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VoyageAIProvider generates embeddings through the Voyage AI API.
type VoyageAIProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	inputType  string
}

// NewVoyageAIProvider creates a Voyage AI embedding provider. inputType is
// "query", "document", or empty.
func NewVoyageAIProvider(cfg Config, inputType string) (*VoyageAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("voyageai: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("voyageai: model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.voyageai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &VoyageAIProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		inputType:  inputType,
	}, nil
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model  string `json:"model"`
	Detail string `json:"detail,omitempty"`
}

// Embed implements Provider.
func (p *VoyageAIProvider) Embed(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := voyageRequest{
		Input:     texts,
		Model:     p.model,
		InputType: p.inputType,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp voyageResponse
		msg := string(body)
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
			msg = errResp.Detail
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &TransportError{StatusCode: resp.StatusCode, Message: msg}
		}
		return nil, fmt.Errorf("voyageai: %s (status %d)", msg, resp.StatusCode)
	}

	var embResp voyageResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	results := make([]Result, len(texts))
	for i := range results {
		results[i] = Result{Index: i, Err: fmt.Errorf("no embedding returned for input %d", i)}
	}
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(results) {
			results[data.Index] = Result{Index: data.Index, Vector: data.Embedding}
		}
	}
	return results, nil
}

// Model implements Provider.
func (p *VoyageAIProvider) Model() string { return p.model }

// Dimensions implements Provider.
func (p *VoyageAIProvider) Dimensions() int { return p.dimensions }
