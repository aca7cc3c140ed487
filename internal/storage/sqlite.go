package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
)

// SQLiteOptions configures a SQLite store.
type SQLiteOptions struct {
	Path         string
	MaxOpenConns int
	JournalMode  string
	Logger       *observability.Logger
}

// SQLiteStore is the development store. Rows are filtered in SQL by term
// containment and ranked in process; embeddings are stored as JSON.
type SQLiteStore struct {
	db     *sql.DB
	logger *observability.Logger
}

var _ Backend = (*SQLiteStore)(nil)

// OpenSQLite opens the database file and applies the schema.
func OpenSQLite(ctx context.Context, opts SQLiteOptions) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.JournalMode != "" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode="+opts.JournalMode); err != nil {
			db.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
	}
	if err := Migrate(ctx, db, DialectSQLite, 0); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLiteStore(db, opts.Logger), nil
}

// NewSQLiteStore wraps an open, migrated database. A nil logger discards.
func NewSQLiteStore(db *sql.DB, logger *observability.Logger) *SQLiteStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SQLiteStore{db: db, logger: logger.WithComponent("sqlite_store")}
}

const sqliteDocColumns = "id, title, content, category, card_name, source, metadata, embedding"

func (s *SQLiteStore) queryDocs(ctx context.Context, table Table, where string, args ...any) ([]Document, error) {
	if _, err := ParseTable(string(table)); err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s", sqliteDocColumns, table)
	if where != "" {
		q += " WHERE " + where
	}
	rows, err := s.db.QueryContext(ctx, q+" ORDER BY id", args...)
	if err != nil {
		return nil, classify("sqlite query", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d         = Document{Table: table}
			metadata  string
			embedding sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Category, &d.CardName, &d.Source, &metadata, &embedding); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &d.Metadata); err != nil {
				s.logger.Debug().Err(err).Str("table", string(table)).Str("id", d.ID).Msg("Ignoring malformed document metadata")
			}
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &d.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding of %s: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	return out, classify("sqlite rows", rows.Err())
}

// VectorSearch loads the embedded rows and ranks them by cosine similarity.
func (s *SQLiteStore) VectorSearch(ctx context.Context, table Table, vec []float32, limit int, f SearchFilters) ([]Document, error) {
	docs, err := s.queryDocs(ctx, table, "embedding IS NOT NULL")
	if err != nil {
		return nil, err
	}
	return rankByVector(docs, vec, limit, f), nil
}

// TextSearch selects rows containing any term and ranks them by trigram
// similarity.
func (s *SQLiteStore) TextSearch(ctx context.Context, table Table, terms []string, limit int, f SearchFilters) ([]Document, error) {
	var (
		clauses []string
		args    []any
	)
	for _, t := range terms {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		like := containsPattern(t)
		clauses = append(clauses, `(title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\' OR category LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	docs, err := s.queryDocs(ctx, table, strings.Join(clauses, " OR "), args...)
	if err != nil {
		return nil, err
	}
	return rankByText(docs, terms, limit, f), nil
}

// FetchByIDs returns rows in the order of ids.
func (s *SQLiteStore) FetchByIDs(ctx context.Context, table Table, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	docs, err := s.queryDocs(ctx, table, "id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Embedding = nil
	}
	return orderByIDs(docs, ids), nil
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return classify("sqlite ping", s.db.PingContext(ctx))
}

// CardNames lists distinct card names of the card table.
func (s *SQLiteStore) CardNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT card_name FROM card_products WHERE card_name <> '' ORDER BY card_name")
	if err != nil {
		return nil, classify("sqlite card names", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SearchConsultCases ranks transcripts in process.
func (s *SQLiteStore) SearchConsultCases(ctx context.Context, q ConsultQuery) ([]ConsultCase, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, category, intent, title, transcript, summary FROM consult_cases ORDER BY id")
	if err != nil {
		return nil, classify("sqlite consult cases", err)
	}
	defer rows.Close()
	var cases []ConsultCase
	for rows.Next() {
		var c ConsultCase
		if err := rows.Scan(&c.ID, &c.Category, &c.Intent, &c.Title, &c.Transcript, &c.Summary); err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankConsultCases(cases, q), nil
}

// UpsertDocuments writes documents in one transaction.
func (s *SQLiteStore) UpsertDocuments(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("sqlite begin", err)
	}
	defer tx.Rollback()

	for _, d := range docs {
		if _, err := ParseTable(string(d.Table)); err != nil {
			return err
		}
		metadata, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", d.ID, err)
		}
		var embedding any
		if len(d.Embedding) > 0 {
			raw, err := json.Marshal(d.Embedding)
			if err != nil {
				return fmt.Errorf("encode embedding of %s: %w", d.ID, err)
			}
			embedding = string(raw)
		}
		q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title=excluded.title, content=excluded.content,
			category=excluded.category, card_name=excluded.card_name, source=excluded.source,
			metadata=excluded.metadata, embedding=excluded.embedding`, d.Table, sqliteDocColumns)
		if _, err := tx.ExecContext(ctx, q, d.ID, d.Title, d.Content, d.Category, d.CardName, d.Source, string(metadata), embedding); err != nil {
			return fmt.Errorf("upsert %s: %w", d.Key(), err)
		}
	}
	return tx.Commit()
}

// UpsertConsultCases writes transcripts in one transaction.
func (s *SQLiteStore) UpsertConsultCases(ctx context.Context, cases []ConsultCase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("sqlite begin", err)
	}
	defer tx.Rollback()

	for _, c := range cases {
		if _, err := tx.ExecContext(ctx, `INSERT INTO consult_cases (id, category, intent, title, transcript, summary)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET category=excluded.category, intent=excluded.intent,
			title=excluded.title, transcript=excluded.transcript, summary=excluded.summary`,
			c.ID, c.Category, c.Intent, c.Title, c.Transcript, c.Summary); err != nil {
			return fmt.Errorf("upsert consult case %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
