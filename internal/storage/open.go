package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/embedding"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
)

// Options selects and configures a backend.
type Options struct {
	Driver   string // sqlite, postgres or memory
	SQLite   SQLiteOptions
	Postgres PostgresOptions
	// SeedPath is loaded into the memory driver at startup.
	SeedPath string
	Logger   *observability.Logger
}

// Open connects to the configured backend. The memory driver is seeded from
// SeedPath, embedding documents with emb.
func Open(ctx context.Context, opts Options, emb embedding.Embedder) (Backend, error) {
	opts.SQLite.Logger = opts.Logger
	opts.Postgres.Logger = opts.Logger
	switch opts.Driver {
	case "sqlite":
		return OpenSQLite(ctx, opts.SQLite)
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return OpenPostgres(connectCtx, opts.Postgres)
	case "memory":
		store := NewMemoryStore()
		if opts.SeedPath == "" {
			return store, nil
		}
		seed, err := LoadSeed(opts.SeedPath)
		if err != nil {
			return nil, err
		}
		if err := Seed(ctx, store, seed, emb, SeedOptions{}); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
}
