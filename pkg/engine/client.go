// Package engine provides the public Go SDK for the vectorsync API.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the public SDK client for the vectorsync API.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new vectorsync API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8090"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// VectorizerStatus reports the queue and progress state of one vectorizer.
type VectorizerStatus struct {
	ID            int32  `json:"id"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	Pending       int64  `json:"pending"`
	PendingCapped bool   `json:"pendingCapped"`
	SuccessCount  int64  `json:"successCount"`
	ErrorCount    int64  `json:"errorCount"`
	LastError     string `json:"lastError,omitempty"`
}

// Worker is one registered worker process.
type Worker struct {
	ID            string    `json:"id"`
	Version       string    `json:"version"`
	Started       time.Time `json:"started"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Alive         bool      `json:"alive"`
	SuccessCount  int64     `json:"successCount"`
	ErrorCount    int64     `json:"errorCount"`
}

// TextToSQLRequest asks the agent to generate SQL for a question.
type TextToSQLRequest struct {
	Question            string   `json:"question"`
	IncludeEntireSchema bool     `json:"includeEntireSchema,omitempty"`
	OnlyTheseObjects    []string `json:"onlyTheseObjects,omitempty"`
	MaxIterations       int      `json:"maxIterations,omitempty"`
}

// TextToSQLResponse carries the generated statement and its validation
// estimates. Answered is false when the agent gave up.
type TextToSQLResponse struct {
	Answered    bool            `json:"answered"`
	SQL         string          `json:"sql,omitempty"`
	CommandType string          `json:"commandType,omitempty"`
	Iterations  int             `json:"iterations"`
	QueryPlan   json.RawMessage `json:"queryPlan,omitempty"`
	EstCost     float64         `json:"estCost,omitempty"`
	EstRows     float64         `json:"estRows,omitempty"`
}

// HealthResponse is the service health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ListVectorizers returns the status of every installed vectorizer.
func (c *Client) ListVectorizers(ctx context.Context) ([]VectorizerStatus, error) {
	var out struct {
		Vectorizers []VectorizerStatus `json:"vectorizers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/vectorizers", nil, &out); err != nil {
		return nil, err
	}
	return out.Vectorizers, nil
}

// GetVectorizerStatus returns the status of one vectorizer.
func (c *Client) GetVectorizerStatus(ctx context.Context, id int32) (*VectorizerStatus, error) {
	var out VectorizerStatus
	path := fmt.Sprintf("/api/v1/vectorizers/%d/status", id)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkers returns every worker process the registry knows about.
func (c *Client) ListWorkers(ctx context.Context) ([]Worker, error) {
	var out struct {
		Workers []Worker `json:"workers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/workers", nil, &out); err != nil {
		return nil, err
	}
	return out.Workers, nil
}

// TextToSQL runs the text-to-SQL agent against the semantic catalog.
func (c *Client) TextToSQL(ctx context.Context, req TextToSQLRequest) (*TextToSQLResponse, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("question is required")
	}
	var out TextToSQLResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/text-to-sql", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the service health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
