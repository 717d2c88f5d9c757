package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_SetGet(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Expiry(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "emb:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "emb:b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "other", []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, "emb:"))

	_, err := c.Get(ctx, "emb:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "other")
	assert.NoError(t, err)
}

func TestMemoryClient_Eviction(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	// The entry closest to expiry was evicted to make room.
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "emb:model:abc", CacheKey("emb", "model", "abc"))
	assert.Equal(t, "solo", CacheKey("solo"))
}

func TestEmbeddingCache_RoundTrip(t *testing.T) {
	ec := NewEmbeddingCache(NewMemoryClient(10), time.Minute)
	ctx := context.Background()

	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, ec.Put(ctx, "text-embedding-3-small", "how many posts?", vec))

	got, err := ec.Get(ctx, "text-embedding-3-small", "how many posts?")
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	// A miss is nil, nil.
	got, err = ec.Get(ctx, "text-embedding-3-small", "different question")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The same question under another model is a separate entry.
	got, err = ec.Get(ctx, "other-model", "how many posts?")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEmbeddingCache_CorruptEntryIsMiss(t *testing.T) {
	client := NewMemoryClient(10)
	ec := NewEmbeddingCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, embeddingKey("m", "q"), []byte("not json"), time.Minute))

	got, err := ec.Get(ctx, "m", "q")
	require.NoError(t, err)
	assert.Nil(t, got)
}
