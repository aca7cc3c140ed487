package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/cache"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

func newMemoryClient(t *testing.T) *cache.MemoryClient {
	t.Helper()
	c, err := cache.NewMemoryClient(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleResult() *Result {
	return &Result{
		Hits: []Hit{{
			Document:  storage.Document{Table: storage.TableGuides, ID: "재발급 안내_merged", Title: "재발급 안내", Score: 0.4},
			RRF:       0.03,
			CardMatch: true,
		}},
		Decision: routing.Decision{Route: routing.RouteCardUsage, Scope: routing.ScopeGuideTable},
		Tiers:    []string{TierKeyword},
	}
}

func TestRetrievalCache_SetThenGet(t *testing.T) {
	ctx := context.Background()
	rc := NewRetrievalCache(cache.NewTiered(newMemoryClient(t), nil, time.Minute, 0), nil, true)
	d := sampleResult().Decision

	key := rc.Key("재발급", d, 4)
	got, status := rc.Get(ctx, key)
	assert.Nil(t, got)
	assert.Equal(t, CacheMiss, status)

	require.NoError(t, rc.Set(ctx, key, sampleResult()))

	got, status = rc.Get(ctx, key)
	require.NotNil(t, got)
	assert.Equal(t, CacheHitMemory, status)
	assert.True(t, status.Hit())
	assert.Equal(t, sampleResult().Keys(), got.Keys())

	require.NoError(t, rc.Invalidate(ctx))
	_, status = rc.Get(ctx, key)
	assert.Equal(t, CacheMiss, status)
}

func TestRetrievalCache_FarHitReportsRedis(t *testing.T) {
	ctx := context.Background()
	far := newMemoryClient(t)
	writer := NewRetrievalCache(cache.NewTiered(nil, far, 0, time.Minute), nil, true)
	reader := NewRetrievalCache(cache.NewTiered(newMemoryClient(t), far, time.Minute, time.Minute), nil, true)

	key := writer.Key("재발급", sampleResult().Decision, 4)
	require.NoError(t, writer.Set(ctx, key, sampleResult()))

	_, status := reader.Get(ctx, key)
	assert.Equal(t, CacheHitRedis, status)
	_, status = reader.Get(ctx, key)
	assert.Equal(t, CacheHitMemory, status, "a far hit is promoted to memory")
}

func TestRetrievalCache_KeyTracksFilters(t *testing.T) {
	rc := NewRetrievalCache(nil, nil, true)
	d := routing.Decision{Route: routing.RouteCardInfo, Scope: routing.ScopeBoth}

	base := rc.Key("k패스 혜택", d, 4)
	assert.Equal(t, base, rc.Key("k패스 혜택", d.Clone(), 4))

	withCard := d.Clone()
	withCard.Filters.CardNames = []string{"K-패스"}
	assert.NotEqual(t, base, rc.Key("k패스 혜택", withCard, 4))
	assert.NotEqual(t, base, rc.Key("k패스 혜택", d, 5))
	assert.NotEqual(t, base, rc.Key("k패스 혜택", d.Flipped(), 4))
}

func TestRetrievalCache_Disabled(t *testing.T) {
	ctx := context.Background()

	for name, rc := range map[string]*RetrievalCache{
		"no backend": NewRetrievalCache(nil, nil, true),
		"switched off": NewRetrievalCache(cache.NewTiered(newMemoryClient(t), nil, time.Minute, 0), nil, false),
	} {
		t.Run(name, func(t *testing.T) {
			assert.False(t, rc.Enabled())
			require.NoError(t, rc.Set(ctx, "retrieve:x", sampleResult()))
			_, status := rc.Get(ctx, "retrieve:x")
			assert.Equal(t, CacheOff, status)
		})
	}
}

func TestAnswerCache(t *testing.T) {
	ctx := context.Background()
	ac := NewAnswerCache(cache.NewTiered(newMemoryClient(t), nil, time.Minute, 0), nil, true)

	k := AnswerKey{
		Query:   "나라사랑 잃어버렸어요",
		DocKeys: []string{"service_guide_documents:narasarang_faq_005", "service_guide_documents:재발급 안내_merged"},
		Model:   "gpt-4o-mini",
	}
	require.NoError(t, ac.Set(ctx, k, Answer{Text: "분실 신고 후 재발급을 신청하세요."}))

	got, status := ac.Get(ctx, k)
	require.NotNil(t, got)
	assert.Equal(t, CacheHitMemory, status)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, k.DocKeys, got.DocKeys)
	assert.False(t, got.CreatedAt.IsZero())

	t.Run("document order matters", func(t *testing.T) {
		swapped := k
		swapped.DocKeys = []string{k.DocKeys[1], k.DocKeys[0]}
		assert.NotEqual(t, ac.Key(k), ac.Key(swapped))
		_, status := ac.Get(ctx, swapped)
		assert.Equal(t, CacheMiss, status)
	})

	t.Run("model matters", func(t *testing.T) {
		other := k
		other.Model = "claude"
		_, status := ac.Get(ctx, other)
		assert.Equal(t, CacheMiss, status)
	})

	t.Run("route and filters matter", func(t *testing.T) {
		d := routing.Decision{
			Route:   routing.RouteCardUsage,
			Scope:   routing.ScopeGuideTable,
			Filters: routing.Filters{CardNames: []string{"나라사랑카드"}, Intents: []string{"분실"}},
		}
		routed := NewAnswerKey(k.Query, d, k.DocKeys, k.Model)
		require.NoError(t, ac.Set(ctx, routed, Answer{Text: "분실 신고 후 재발급을 신청하세요."}))
		_, status := ac.Get(ctx, routed)
		assert.Equal(t, CacheHitMemory, status)

		flipped := NewAnswerKey(k.Query, d.Flipped(), k.DocKeys, k.Model)
		_, status = ac.Get(ctx, flipped)
		assert.Equal(t, CacheMiss, status)

		refiltered := d.Clone()
		refiltered.Filters.CardNames = []string{"K-패스"}
		_, status = ac.Get(ctx, NewAnswerKey(k.Query, refiltered, k.DocKeys, k.Model))
		assert.Equal(t, CacheMiss, status)
	})

	t.Run("query is normalized", func(t *testing.T) {
		spaced := k
		spaced.Query = "  나라사랑   잃어버렸어요 "
		assert.Equal(t, ac.Key(k), ac.Key(spaced))
	})
}
