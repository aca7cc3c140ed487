package storage

import (
	"context"
	"fmt"
)

// Dialect selects the SQL flavour of a store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS card_products (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	card_name TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding TEXT
);
CREATE TABLE IF NOT EXISTS service_guide_documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	card_name TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding TEXT
);
CREATE TABLE IF NOT EXISTS consult_cases (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL DEFAULT '',
	intent TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_card_products_card_name ON card_products(card_name);
CREATE INDEX IF NOT EXISTS idx_guide_source ON service_guide_documents(source);
CREATE INDEX IF NOT EXISTS idx_consult_category ON consult_cases(category);
`

func postgresSchema(dim int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;
CREATE TABLE IF NOT EXISTS card_products (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	card_name TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%[1]d)
);
CREATE TABLE IF NOT EXISTS service_guide_documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	card_name TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%[1]d)
);
CREATE TABLE IF NOT EXISTS consult_cases (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL DEFAULT '',
	intent TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_card_products_title_trgm ON card_products USING gin (title gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_card_products_content_trgm ON card_products USING gin (content gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_guide_title_trgm ON service_guide_documents USING gin (title gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_guide_content_trgm ON service_guide_documents USING gin (content gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_consult_transcript_trgm ON consult_cases USING gin (transcript gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_guide_source ON service_guide_documents(source);
`, dim)
}

// Migrate creates the tables of the dialect if they are missing.
func Migrate(ctx context.Context, db DB, dialect Dialect, vectorDim int) error {
	var schema string
	switch dialect {
	case DialectSQLite:
		schema = sqliteSchema
	case DialectPostgres:
		if vectorDim <= 0 {
			return fmt.Errorf("migrate: vector dimension must be positive, got %d", vectorDim)
		}
		schema = postgresSchema(vectorDim)
	default:
		return fmt.Errorf("migrate: unsupported dialect %q", dialect)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return classify("migrate", err)
	}
	return nil
}
