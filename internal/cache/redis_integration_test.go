//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisClient_RoundTrip(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, RedisConfig{Addr: addr, PoolSize: 4, Prefix: "test:"})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, client.Set(ctx, "ret:1", []byte("one"), time.Minute))
	require.NoError(t, client.Set(ctx, "ret:2", []byte("two"), time.Minute))

	got, err := client.Get(ctx, "ret:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, client.DeleteByPrefix(ctx, "ret:"))
	_, err = client.Get(ctx, "ret:2")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestTiered_WithRedis(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	far, err := NewRedisClient(ctx, RedisConfig{URL: "redis://" + addr + "/1", Prefix: "tier:"})
	require.NoError(t, err)
	near, err := NewMemoryClient(1 << 20)
	require.NoError(t, err)

	tiered := NewTiered(near, far, time.Minute, time.Hour)
	defer tiered.Close()

	require.NoError(t, far.Set(ctx, "shared", []byte("payload"), time.Hour))

	val, origin, err := tiered.Lookup(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, OriginRedis, origin)
	assert.Equal(t, []byte("payload"), val)

	_, origin, err = tiered.Lookup(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, OriginMemory, origin)
}
