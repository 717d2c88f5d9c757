package embedding

import (
	"context"
	"math"
)

// MockProvider generates deterministic hash-based embeddings for testing.
type MockProvider struct {
	dimensions int
}

// NewMockProvider creates a mock provider.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockProvider{dimensions: dimensions}
}

// Embed implements Provider with a normalized character-hash embedding, so
// equal texts always embed equally.
func (p *MockProvider) Embed(_ context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))
	for i, text := range texts {
		vec := make([]float32, p.dimensions)
		for j, char := range text {
			vec[j%p.dimensions] += float32(char) / 1000.0
		}
		// Keep the zero vector out: the dimension guard rejects it.
		vec[0] += 1.0
		results[i] = Result{Index: i, Vector: normalize(vec)}
	}
	return results, nil
}

// Model implements Provider.
func (p *MockProvider) Model() string { return "mock-embedding-model" }

// Dimensions implements Provider.
func (p *MockProvider) Dimensions() int { return p.dimensions }

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}
