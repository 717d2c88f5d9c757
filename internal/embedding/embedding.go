// Package embedding provides the embedding provider capability and its
// vendor adapters (openai, ollama, voyageai).
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// Result is the embedding produced for one input text. Err is set for
// per-input failures (for example an input exceeding the model's token
// limit); transport failures are returned from Embed itself.
type Result struct {
	Index  int
	Vector []float32
	Err    error
}

// Provider generates embeddings for batches of texts. Implementations carry
// their model and options; one provider instance serves one vectorizer.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([]Result, error)
	Model() string
	Dimensions() int
}

// TransportError is a retryable provider failure: a connection problem, a
// rate limit, or a server error. The worker retries these with backoff;
// anything else is treated as deterministic.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("embedding transport error: %s", e.Message)
	}
	return fmt.Sprintf("embedding transport error: status %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether an error is a transport error worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode == 0 ||
			te.StatusCode == http.StatusTooManyRequests ||
			te.StatusCode >= 500
	}
	return false
}

// Config holds the settings common to all embedding adapters.
type Config struct {
	Model      string
	Dimensions int
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
}

// New creates the adapter named by a vectorizer's embedding config. The API
// key must already be resolved through the secret store.
func New(vcfg vectorizer.EmbeddingConfig, apiKey string, timeout time.Duration) (Provider, error) {
	cfg := Config{
		Model:      vcfg.Model,
		Dimensions: vcfg.Dimensions,
		APIKey:     apiKey,
		BaseURL:    vcfg.BaseURL,
		Timeout:    timeout,
	}
	switch vcfg.Implementation {
	case vectorizer.EmbeddingOpenAI:
		return NewOpenAIProvider(cfg)
	case vectorizer.EmbeddingOllama:
		p, err := NewOllamaProvider(cfg)
		if err != nil {
			return nil, err
		}
		if vcfg.KeepAlive != "" {
			p.SetKeepAlive(vcfg.KeepAlive)
		}
		if vcfg.Truncate != nil {
			p.SetTruncate(*vcfg.Truncate)
		}
		return p, nil
	case vectorizer.EmbeddingVoyageAI:
		return NewVoyageAIProvider(cfg, vcfg.InputType)
	default:
		return nil, fmt.Errorf("unknown embedding implementation %q", vcfg.Implementation)
	}
}
