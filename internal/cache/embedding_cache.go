package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// EmbeddingCache memoizes question embeddings keyed by model and question
// text, so repeated agent invocations (and repeated questions inside one
// loop) skip the provider round trip.
type EmbeddingCache struct {
	client Client
	ttl    time.Duration
}

// NewEmbeddingCache creates an embedding cache. A zero ttl defaults to one
// hour.
func NewEmbeddingCache(client Client, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &EmbeddingCache{client: client, ttl: ttl}
}

// Get returns the cached vector for a question, or nil on a miss.
func (c *EmbeddingCache) Get(ctx context.Context, model, question string) ([]float32, error) {
	data, err := c.client.Get(ctx, embeddingKey(model, question))
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		// A corrupt entry behaves like a miss.
		return nil, nil
	}
	return vec, nil
}

// Put stores a question's vector.
func (c *EmbeddingCache) Put(ctx context.Context, model, question string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, embeddingKey(model, question), data, c.ttl)
}

func embeddingKey(model, question string) string {
	sum := sha256.Sum256([]byte(question))
	return CacheKey("emb", model, hex.EncodeToString(sum[:]))
}
