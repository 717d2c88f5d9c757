package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vectorsync-ai/vectorsync/internal/cache"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestRedisEmbeddingCache(t *testing.T) {
	skipUnlessDocker(t)

	addr := startRedis(t)
	client, err := cache.NewRedisClient(cache.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ec := cache.NewEmbeddingCache(client, time.Minute)

	// Miss before put.
	vec, err := ec.Get(ctx, "test-model", "how many posts are there")
	require.NoError(t, err)
	assert.Nil(t, vec)

	want := []float32{0.1, 0.2, 0.3}
	require.NoError(t, ec.Put(ctx, "test-model", "how many posts are there", want))

	got, err := ec.Get(ctx, "test-model", "how many posts are there")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Entries are model-scoped.
	other, err := ec.Get(ctx, "other-model", "how many posts are there")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestRedisClientExpiry(t *testing.T) {
	skipUnlessDocker(t)

	addr := startRedis(t)
	client, err := cache.NewRedisClient(cache.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, client.Set(ctx, "k", []byte("v"), 500*time.Millisecond))

	data, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	time.Sleep(time.Second)

	_, err = client.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
