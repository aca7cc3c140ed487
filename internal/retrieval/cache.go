package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/cache"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/vocab"
)

// CacheStatus reports how a lookup was served.
type CacheStatus string

const (
	CacheOff       CacheStatus = "off"
	CacheMiss      CacheStatus = "miss"
	CacheHitMemory CacheStatus = "hit(mem)"
	CacheHitRedis  CacheStatus = "hit(redis)"
)

const (
	retrievalPrefix = "retrieve:"
	answerPrefix    = "answer:"
)

// Hit reports whether the status is a cache hit.
func (s CacheStatus) Hit() bool {
	return s == CacheHitMemory || s == CacheHitRedis
}

func statusOf(o cache.Origin) CacheStatus {
	if o == cache.OriginRedis {
		return CacheHitRedis
	}
	return CacheHitMemory
}

// fingerprint is a short stable digest of a query for logs.
func fingerprint(query string) string {
	sum := sha256.Sum256([]byte(vocab.Normalize(query)))
	return hex.EncodeToString(sum[:6])
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CachedRetrieval is the stored form of a retrieval result.
type CachedRetrieval struct {
	Result   *Result   `json:"result"`
	CachedAt time.Time `json:"cached_at"`
}

// RetrievalCache caches retrieval results keyed by query and decision.
type RetrievalCache struct {
	tiered  *cache.Tiered
	logger  *observability.Logger
	enabled bool
}

// NewRetrievalCache creates a retrieval cache. A nil tiered cache disables it.
func NewRetrievalCache(tiered *cache.Tiered, logger *observability.Logger, enabled bool) *RetrievalCache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RetrievalCache{tiered: tiered, logger: logger.WithComponent("retrieval_cache"), enabled: enabled && tiered != nil}
}

// Enabled reports whether lookups can hit.
func (c *RetrievalCache) Enabled() bool {
	return c != nil && c.enabled
}

// Key fingerprints the normalized query, the route, the scope, the filters
// and top-k. Any filter change changes the key.
func (c *RetrievalCache) Key(normalized string, d routing.Decision, topK int) string {
	return retrievalPrefix + digest(normalized, string(d.Route), string(d.Scope), filterFingerprint(d.Filters), strconv.Itoa(topK))
}

func filterFingerprint(f routing.Filters) string {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf("%v", f)
	}
	return string(data)
}

// Get returns the cached result for key.
func (c *RetrievalCache) Get(ctx context.Context, key string) (*Result, CacheStatus) {
	if !c.Enabled() {
		return nil, CacheOff
	}

	data, origin, err := c.tiered.Lookup(ctx, key)
	if err != nil && err != cache.ErrCacheMiss {
		c.logger.Debug().Err(err).Str("key", key).Msg("Cache get error")
	}
	if data == nil {
		return nil, CacheMiss
	}

	var cached CachedRetrieval
	if err := json.Unmarshal(data, &cached); err != nil || cached.Result == nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached retrieval")
		return nil, CacheMiss
	}

	c.logger.Debug().Str("key", key).Str("origin", string(origin)).Msg("Cache hit")
	return cached.Result, statusOf(origin)
}

// Set caches a result under key. Concurrent writers of the same key race
// and the last one wins.
func (c *RetrievalCache) Set(ctx context.Context, key string, res *Result) error {
	if !c.Enabled() || res == nil {
		return nil
	}

	data, err := json.Marshal(CachedRetrieval{Result: res, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal retrieval: %w", err)
	}
	if err := c.tiered.Store(ctx, key, data); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Failed to cache retrieval")
		return err
	}
	return nil
}

// Invalidate drops every cached retrieval.
func (c *RetrievalCache) Invalidate(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	c.logger.Info().Msg("Invalidating retrieval cache")
	return c.tiered.Invalidate(ctx, retrievalPrefix)
}

// Answer is a generated answer stored for an exact retrieval outcome.
type Answer struct {
	Text      string         `json:"text"`
	Model     string         `json:"model"`
	DocKeys   []string       `json:"doc_keys"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AnswerKey identifies an answer by the query, the decision that
// retrieved its documents, the ordered document keys and the model.
type AnswerKey struct {
	Query    string
	Template string
	Route    routing.Route
	Scope    routing.Scope
	Filters  routing.Filters
	DocKeys  []string
	Model    string
}

// NewAnswerKey builds the answer key for documents retrieved under d.
func NewAnswerKey(query string, d routing.Decision, docKeys []string, model string) AnswerKey {
	return AnswerKey{
		Query:    query,
		Template: d.QueryTemplate,
		Route:    d.Route,
		Scope:    d.Scope,
		Filters:  d.Filters,
		DocKeys:  docKeys,
		Model:    model,
	}
}

// AnswerCache caches generated answers keyed by query, decision, the
// ordered retrieved document ids and the model, so any retrieval change
// misses.
type AnswerCache struct {
	tiered  *cache.Tiered
	logger  *observability.Logger
	enabled bool
}

// NewAnswerCache creates an answer cache. A nil tiered cache disables it.
func NewAnswerCache(tiered *cache.Tiered, logger *observability.Logger, enabled bool) *AnswerCache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AnswerCache{tiered: tiered, logger: logger.WithComponent("answer_cache"), enabled: enabled && tiered != nil}
}

// Enabled reports whether lookups can hit.
func (c *AnswerCache) Enabled() bool {
	return c != nil && c.enabled
}

// Key fingerprints an answer key. Document order is significant.
func (c *AnswerCache) Key(k AnswerKey) string {
	return answerPrefix + digest(
		vocab.Normalize(k.Query),
		vocab.Normalize(k.Template),
		string(k.Route),
		string(k.Scope),
		filterFingerprint(k.Filters),
		strings.Join(k.DocKeys, ","),
		k.Model,
	)
}

// Get returns the cached answer for k.
func (c *AnswerCache) Get(ctx context.Context, k AnswerKey) (*Answer, CacheStatus) {
	if !c.Enabled() {
		return nil, CacheOff
	}

	key := c.Key(k)
	data, origin, err := c.tiered.Lookup(ctx, key)
	if err != nil && err != cache.ErrCacheMiss {
		c.logger.Debug().Err(err).Str("key", key).Msg("Cache get error")
	}
	if data == nil {
		return nil, CacheMiss
	}

	var ans Answer
	if err := json.Unmarshal(data, &ans); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached answer")
		return nil, CacheMiss
	}
	return &ans, statusOf(origin)
}

// Set stores an answer for k.
func (c *AnswerCache) Set(ctx context.Context, k AnswerKey, ans Answer) error {
	if !c.Enabled() {
		return nil
	}
	if ans.CreatedAt.IsZero() {
		ans.CreatedAt = time.Now().UTC()
	}
	if ans.Model == "" {
		ans.Model = k.Model
	}
	if ans.DocKeys == nil {
		ans.DocKeys = k.DocKeys
	}

	data, err := json.Marshal(ans)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	key := c.Key(k)
	if err := c.tiered.Store(ctx, key, data); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Failed to cache answer")
		return err
	}
	c.logger.Debug().Str("key", key).Msg("Cached answer")
	return nil
}
