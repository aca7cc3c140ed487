package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
)

// PostgresOptions configures a Postgres store.
type PostgresOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	VectorDimension int
	// SkipMigrate leaves the schema alone, for read-only replicas.
	SkipMigrate bool
	Logger      *observability.Logger
}

// PostgresStore searches with pgvector cosine distance and pg_trgm
// similarity. When pg_trgm is missing it falls back to ILIKE selection with
// in-process trigram ranking.
type PostgresStore struct {
	db      *sql.DB
	hasTrgm bool
	logger  *observability.Logger
}

var _ Backend = (*PostgresStore)(nil)

// OpenPostgres connects, migrates and checks for pg_trgm.
func OpenPostgres(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify("postgres ping", err)
	}
	if !opts.SkipMigrate {
		if err := Migrate(ctx, db, DialectPostgres, opts.VectorDimension); err != nil {
			db.Close()
			return nil, err
		}
	}
	return NewPostgresStore(ctx, db, opts.Logger)
}

// NewPostgresStore wraps an open database. A nil logger discards.
func NewPostgresStore(ctx context.Context, db *sql.DB, logger *observability.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &PostgresStore{db: db, logger: logger.WithComponent("postgres_store")}
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM pg_extension WHERE extname = 'pg_trgm'").Scan(&one)
	switch {
	case err == nil:
		s.hasTrgm = true
	case err == sql.ErrNoRows:
	default:
		return nil, classify("check pg_trgm", err)
	}
	return s, nil
}

const pgDocColumns = "id, title, content, category, card_name, source, metadata"

// filterSQL renders the filters as predicates starting at placeholder next.
func filterSQL(table Table, f SearchFilters, next int) ([]string, []any) {
	var (
		preds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(next+len(args)-1)
	}
	if table == TableGuides && len(f.Sources) > 0 {
		preds = append(preds, "source = ANY("+arg(pq.Array(f.Sources))+")")
	}
	if f.IDPrefix != "" {
		preds = append(preds, "id LIKE "+arg(likeEscaper.Replace(f.IDPrefix)+"%"))
	}
	if len(f.ExcludeTitleTerms) > 0 {
		patterns := make([]string, 0, len(f.ExcludeTitleTerms))
		for _, t := range f.ExcludeTitleTerms {
			patterns = append(patterns, containsPattern(t))
		}
		preds = append(preds, "NOT (title ILIKE ANY("+arg(pq.Array(patterns))+"))")
	}
	if f.RequireCardMatch && len(f.CardNames) > 0 {
		patterns := make([]string, 0, len(f.CardNames))
		for _, c := range f.CardNames {
			patterns = append(patterns, containsPattern(squash(c)))
		}
		preds = append(preds, "lower(replace(card_name || title, ' ', '')) LIKE ANY("+arg(pq.Array(patterns))+")")
	}
	return preds, args
}

func (s *PostgresStore) queryDocs(ctx context.Context, table Table, q string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("postgres query "+string(table), err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d        = Document{Table: table}
			metadata []byte
		)
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Category, &d.CardName, &d.Source, &metadata, &d.Score); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
				s.logger.Debug().Err(err).Str("table", string(table)).Str("id", d.ID).Msg("Ignoring malformed document metadata")
			}
		}
		out = append(out, d)
	}
	return out, classify("postgres rows", rows.Err())
}

// VectorSearch orders rows by cosine distance; Score is 1 - distance.
func (s *PostgresStore) VectorSearch(ctx context.Context, table Table, vec []float32, limit int, f SearchFilters) ([]Document, error) {
	if _, err := ParseTable(string(table)); err != nil {
		return nil, err
	}
	preds, args := filterSQL(table, f, 3)
	where := "embedding IS NOT NULL"
	if len(preds) > 0 {
		where += " AND " + strings.Join(preds, " AND ")
	}
	q := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $1::vector) AS score
		FROM %s WHERE %s
		ORDER BY embedding <=> $1::vector, id LIMIT $2`, pgDocColumns, table, where)
	return s.queryDocs(ctx, table, q, append([]any{vectorLiteral(vec), limit}, args...)...)
}

// TextSearch ranks rows by trigram similarity of title and word similarity
// of content.
func (s *PostgresStore) TextSearch(ctx context.Context, table Table, terms []string, limit int, f SearchFilters) ([]Document, error) {
	if _, err := ParseTable(string(table)); err != nil {
		return nil, err
	}
	var patterns []string
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			patterns = append(patterns, containsPattern(t))
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	query := strings.Join(terms, " ")
	preds, args := filterSQL(table, f, 4)
	where := "(title ILIKE ANY($2) OR content ILIKE ANY($2) OR category ILIKE ANY($2))"
	if len(preds) > 0 {
		where += " AND " + strings.Join(preds, " AND ")
	}

	if !s.hasTrgm {
		q := fmt.Sprintf(`SELECT %s, 0::float8 AS score FROM %s WHERE %s AND $1::text IS NOT NULL
			ORDER BY id LIMIT $3`, pgDocColumns, table, where)
		docs, err := s.queryDocs(ctx, table, q, append([]any{query, pq.Array(patterns), limit * 4}, args...)...)
		if err != nil {
			return nil, err
		}
		for i := range docs {
			docs[i].Score = textScore(query, docs[i])
		}
		return topN(docs, limit), nil
	}

	q := fmt.Sprintf(`SELECT %s, GREATEST(similarity(title, $1), word_similarity($1, content)) AS score
		FROM %s WHERE %s
		ORDER BY score DESC, id LIMIT $3`, pgDocColumns, table, where)
	return s.queryDocs(ctx, table, q, append([]any{query, pq.Array(patterns), limit}, args...)...)
}

// FetchByIDs returns rows in the order of ids.
func (s *PostgresStore) FetchByIDs(ctx context.Context, table Table, ids []string) ([]Document, error) {
	if _, err := ParseTable(string(table)); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf("SELECT %s, 0::float8 AS score FROM %s WHERE id = ANY($1)", pgDocColumns, table)
	docs, err := s.queryDocs(ctx, table, q, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return orderByIDs(docs, ids), nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify("postgres ping", s.db.PingContext(ctx))
}

// CardNames lists distinct card names of the card table.
func (s *PostgresStore) CardNames(ctx context.Context) ([]string, error) {
	var names []string
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT card_name FROM card_products WHERE card_name <> '' ORDER BY card_name")
	if err != nil {
		return nil, classify("postgres card names", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SearchConsultCases ranks transcripts by similarity with category and
// intent bonuses.
func (s *PostgresStore) SearchConsultCases(ctx context.Context, q ConsultQuery) ([]ConsultCase, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	categories := pq.Array(nonNil(q.Categories))
	intents := pq.Array(nonNil(q.Intents))

	var sqlText string
	if s.hasTrgm {
		sqlText = `SELECT id, category, intent, title, transcript, summary,
			GREATEST(similarity(title, $1), word_similarity($1, transcript || ' ' || summary))
			+ CASE WHEN category = ANY($2) THEN 0.2 ELSE 0 END
			+ CASE WHEN intent <> '' AND intent = ANY($3) THEN 0.1 ELSE 0 END AS score
			FROM consult_cases
			WHERE transcript % $1 OR category = ANY($2) OR intent = ANY($3)
			ORDER BY score DESC, id LIMIT $4`
	} else {
		sqlText = `SELECT id, category, intent, title, transcript, summary, 0::float8 AS score
			FROM consult_cases
			WHERE $1::text IS NOT NULL AND (category = ANY($2) OR intent = ANY($3))
			ORDER BY id LIMIT $4`
	}
	rows, err := s.db.QueryContext(ctx, sqlText, q.Text, categories, intents, limit)
	if err != nil {
		return nil, classify("postgres consult cases", err)
	}
	defer rows.Close()

	var cases []ConsultCase
	for rows.Next() {
		var c ConsultCase
		if err := rows.Scan(&c.ID, &c.Category, &c.Intent, &c.Title, &c.Transcript, &c.Summary, &c.Score); err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !s.hasTrgm {
		return rankConsultCases(cases, q), nil
	}
	return cases, nil
}

// UpsertDocuments writes documents in one transaction.
func (s *PostgresStore) UpsertDocuments(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("postgres begin", err)
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
		if d.Metadata == nil {
			metadata = []byte("{}")
		}
		var embedding any
		if len(d.Embedding) > 0 {
			embedding = vectorLiteral(d.Embedding)
		}
		q := fmt.Sprintf(`INSERT INTO %s (id, title, content, category, card_name, source, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::vector)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content,
			category = EXCLUDED.category, card_name = EXCLUDED.card_name, source = EXCLUDED.source,
			metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, d.Table)
		if _, err := tx.ExecContext(ctx, q, d.ID, d.Title, d.Content, d.Category, d.CardName, d.Source, string(metadata), embedding); err != nil {
			return classify("upsert "+d.Key(), err)
		}
	}
	return tx.Commit()
}

// UpsertConsultCases writes transcripts in one transaction.
func (s *PostgresStore) UpsertConsultCases(ctx context.Context, cases []ConsultCase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("postgres begin", err)
	}
	defer tx.Rollback()

	for _, c := range cases {
		if _, err := tx.ExecContext(ctx, `INSERT INTO consult_cases (id, category, intent, title, transcript, summary)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET category = EXCLUDED.category, intent = EXCLUDED.intent,
			title = EXCLUDED.title, transcript = EXCLUDED.transcript, summary = EXCLUDED.summary`,
			c.ID, c.Category, c.Intent, c.Title, c.Transcript, c.Summary); err != nil {
			return classify("upsert consult case "+c.ID, err)
		}
	}
	return tx.Commit()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// vectorLiteral renders a pgvector text literal.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
