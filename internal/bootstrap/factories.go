// Package bootstrap is the composition root shared by the API server and the
// CLI. It builds every long-lived component from one validated config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/cache"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/config"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/consult"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/embedding"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/policy"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/search"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/vocab"
)

// Components holds the singletons of a running process.
type Components struct {
	Config    *config.Config
	Logger    *observability.Logger
	Embedder  embedding.Embedder
	Store     storage.Backend
	Cache     *cache.Tiered
	Index     *vocab.Index
	Pins      *policy.Store
	Extractor *routing.Extractor
	Router    *routing.Router
	Engine    *retrieval.Engine
	Service   *search.Service
}

// NewLogger creates the process logger from config.
func NewLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
}

// NewEmbedder creates the configured embedding provider.
func NewEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	e := cfg.Embedding
	if e.Provider == "mock" {
		return embedding.NewMockClient(e.Dimension), nil
	}
	client, err := embedding.NewClient(embedding.Config{
		APIKey:     e.APIKey,
		Model:      e.Model,
		BaseURL:    e.BaseURL,
		Dimension:  e.Dimension,
		Timeout:    e.Timeout,
		MaxRetries: e.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}

// StoreOptions maps the database section to storage options.
func StoreOptions(cfg *config.Config) storage.Options {
	db := cfg.Database
	return storage.Options{
		Driver: db.Driver,
		SQLite: storage.SQLiteOptions{
			Path:         db.SQLite.Path,
			MaxOpenConns: db.SQLite.MaxOpenConns,
			JournalMode:  db.SQLite.JournalMode,
		},
		Postgres: storage.PostgresOptions{
			DSN:             db.Postgres.DSN,
			MaxOpenConns:    db.Postgres.MaxOpenConns,
			MaxIdleConns:    db.Postgres.MaxIdleConns,
			ConnMaxLifetime: db.Postgres.ConnMaxLifetime,
			VectorDimension: db.Postgres.VectorDimension,
		},
		SeedPath: db.SeedPath,
	}
}

// NewCache creates the two-tier cache. Redis is optional; when it cannot be
// reached the memory tier is used alone.
func NewCache(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*cache.Tiered, error) {
	c := cfg.Cache
	if !c.RetrievalEnabled && !c.AnswerEnabled {
		return nil, nil
	}

	near, err := cache.NewMemoryClient(c.MemoryMaxCost)
	if err != nil {
		return nil, err
	}

	var far cache.Client
	if c.RedisEnabled {
		rc, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			URL:         c.Redis.URL,
			Addr:        c.Redis.Addr,
			Password:    c.Redis.Password,
			DB:          c.Redis.DB,
			PoolSize:    c.Redis.PoolSize,
			Prefix:      c.Redis.Prefix,
			DialTimeout: c.Redis.DialTimeout,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, using memory cache only")
		} else {
			far = rc
		}
	}
	return cache.NewTiered(near, far, c.MemoryTTL, c.RedisTTL), nil
}

// RoutingConfig maps the routing section to router settings.
func RoutingConfig(cfg *config.Config) routing.Config {
	r := cfg.Routing
	return routing.Config{
		StrictSearchMode:     r.StrictSearchMode,
		MinQueryLength:       r.MinQueryLength,
		ActionAllowlist:      r.ActionAllowlist,
		PaymentAllowlist:     r.PaymentAllowlist,
		ConsultCaseSearch:    r.ConsultCaseSearch,
		DomainConfidenceFlip: r.DomainConfidenceFlip,
	}
}

// VocabOptions maps the routing fuzzy settings to index options.
func VocabOptions(cfg *config.Config, logger *observability.Logger) vocab.Options {
	r := cfg.Routing
	return vocab.Options{
		FuzzyEnabled:       r.FuzzyMatchingEnabled,
		FuzzyTopN:          r.FuzzyTopN,
		FuzzyMaxCandidates: r.FuzzyMaxCandidates,
		FuzzyMinLength:     r.FuzzyMinLength,
		CardTokenMinScore:  r.CardTokenMinScore,
		CardTokenMaxHits:   r.CardTokenMaxHits,
		Logger:             logger,
	}
}

// New wires every component. ctx bounds the background catalog refresh.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Components, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	c := &Components{Config: cfg, Logger: logger}

	var err error
	if c.Embedder, err = NewEmbedder(cfg); err != nil {
		return nil, err
	}

	// a missing dictionary is fatal; the catalog is not
	if c.Index, err = vocab.Load(cfg.Vocabulary.DictionaryPath, VocabOptions(cfg, logger)); err != nil {
		return nil, err
	}

	if c.Pins, err = policy.Load(cfg.Pins.Path); err != nil {
		return nil, err
	}

	storeOpts := StoreOptions(cfg)
	storeOpts.Logger = logger
	if c.Store, err = storage.Open(ctx, storeOpts, c.Embedder); err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	c.Index.StartCatalogRefresh(ctx, c.Store, cfg.Vocabulary.CatalogRefreshInterval)

	if c.Cache, err = NewCache(ctx, cfg, logger); err != nil {
		_ = c.Store.Close()
		return nil, err
	}

	c.Extractor = routing.NewExtractor(c.Index, cfg.Routing.FuzzyThreshold, cfg.Routing.FuzzyCardThreshold)
	c.Router = routing.NewRouter(RoutingConfig(cfg), c.Index)
	c.Engine = retrieval.NewEngine(c.Store, c.Embedder, c.Index, c.Pins, retrieval.ConfigFrom(cfg), logger)

	var consultRetriever *consult.Retriever
	if cfg.Consult.Enabled {
		consultRetriever = consult.NewRetriever(c.Store, cfg.Consult.TopK, logger)
	}

	c.Service = search.NewService(
		c.Extractor,
		c.Router,
		c.Engine,
		retrieval.NewRetrievalCache(c.Cache, logger, cfg.Cache.RetrievalEnabled),
		retrieval.NewAnswerCache(c.Cache, logger, cfg.Cache.AnswerEnabled),
		consultRetriever,
		c.Store,
		search.Options{
			TopK:           cfg.Retrieval.TopK,
			MaxConcurrency: cfg.Retrieval.MaxConcurrentStoreCalls,
			ConsultEnabled: cfg.Consult.Enabled,
			MaxHintSteps:   cfg.Consult.MaxSteps,
			MaxHintQs:      cfg.Consult.MaxQs,
		},
		logger,
	)

	logger.Info().
		Str("database", cfg.Database.Driver).
		Str("embedding", cfg.Embedding.Provider).
		Str("vocab_version", c.Index.Version()).
		Str("pins_version", c.Pins.Version()).
		Bool("redis", cfg.Cache.RedisEnabled).
		Msg("Retrieval core initialized")
	return c, nil
}

// Close releases the store and cache connections.
func (c *Components) Close() error {
	var errs []error
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
