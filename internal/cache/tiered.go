package cache

import (
	"context"
	"errors"
	"time"
)

// Origin names the backend that served a cache hit.
type Origin string

const (
	OriginNone   Origin = ""
	OriginMemory Origin = "mem"
	OriginRedis  Origin = "redis"
)

// Tiered reads through an in-process near cache and an optional networked
// far cache. Writes go to both. Backend errors surface to the caller, which
// is expected to treat them as misses.
type Tiered struct {
	near    Client
	far     Client
	nearTTL time.Duration
	farTTL  time.Duration
}

// NewTiered creates a two-level cache. far may be nil.
func NewTiered(near, far Client, nearTTL, farTTL time.Duration) *Tiered {
	return &Tiered{near: near, far: far, nearTTL: nearTTL, farTTL: farTTL}
}

// Lookup returns the cached value and the backend it came from. A far hit is
// copied into the near cache.
func (t *Tiered) Lookup(ctx context.Context, key string) ([]byte, Origin, error) {
	var errs []error

	if t.near != nil {
		val, err := t.near.Get(ctx, key)
		if err == nil {
			return val, OriginMemory, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			errs = append(errs, err)
		}
	}

	if t.far != nil {
		val, err := t.far.Get(ctx, key)
		if err == nil {
			if t.near != nil {
				if nerr := t.near.Set(ctx, key, val, t.nearTTL); nerr != nil {
					errs = append(errs, nerr)
				}
			}
			return val, OriginRedis, errors.Join(errs...)
		}
		if !errors.Is(err, ErrCacheMiss) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, OriginNone, errors.Join(append(errs, ErrCacheMiss)...)
	}
	return nil, OriginNone, ErrCacheMiss
}

// Store writes the value to every configured backend.
func (t *Tiered) Store(ctx context.Context, key string, value []byte) error {
	var errs []error
	if t.near != nil {
		if err := t.near.Set(ctx, key, value, t.nearTTL); err != nil {
			errs = append(errs, err)
		}
	}
	if t.far != nil {
		if err := t.far.Set(ctx, key, value, t.farTTL); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Invalidate removes keys with the given prefix from every backend.
func (t *Tiered) Invalidate(ctx context.Context, prefix string) error {
	var errs []error
	for _, c := range []Client{t.near, t.far} {
		if c == nil {
			continue
		}
		if err := c.DeleteByPrefix(ctx, prefix); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every backend.
func (t *Tiered) Close() error {
	var errs []error
	for _, c := range []Client{t.near, t.far} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
