package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// MemoryClient implements an in-process cache bounded by total byte cost.
type MemoryClient struct {
	store *ristretto.Cache[string, []byte]

	// ristretto has no key iteration, so keys are tracked for DeleteByPrefix.
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMemoryClient creates a new in-memory cache client holding at most
// maxCost bytes of values.
func NewMemoryClient(maxCost int64) (*MemoryClient, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}

	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 100_000,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}

	return &MemoryClient{
		store: store,
		keys:  make(map[string]struct{}),
	}, nil
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := c.store.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return val, nil
}

// Set stores a value with TTL. The write is flushed before returning so a
// following Get observes it.
func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("negative ttl for key %q", key)
	}
	if !c.store.SetWithTTL(key, value, int64(len(value)), ttl) {
		return fmt.Errorf("memory cache rejected key %q", key)
	}
	c.store.Wait()

	c.mu.Lock()
	c.keys[key] = struct{}{}
	if len(c.keys)%keySweepInterval == 0 {
		c.sweepLocked()
	}
	c.mu.Unlock()
	return nil
}

const keySweepInterval = 4096

// sweepLocked forgets tracked keys that ristretto has evicted or expired.
func (c *MemoryClient) sweepLocked() {
	for key := range c.keys {
		if _, ok := c.store.Get(key); !ok {
			delete(c.keys, key)
		}
	}
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *MemoryClient) DeleteByPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix == "" {
		c.store.Clear()
		c.keys = make(map[string]struct{})
		return nil
	}
	for key := range c.keys {
		if strings.HasPrefix(key, prefix) {
			c.store.Del(key)
			delete(c.keys, key)
		}
	}
	return nil
}

// Close stops the cache's background goroutines.
func (c *MemoryClient) Close() error {
	c.store.Close()
	return nil
}
