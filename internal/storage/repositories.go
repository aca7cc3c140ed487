package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Common errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnreachable means the backing database cannot be reached. It is
	// fatal for the request, unlike a failed query.
	ErrUnreachable = errors.New("store unreachable")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DocumentStore searches the card and guide tables.
type DocumentStore interface {
	// VectorSearch returns the rows nearest to vec, best first.
	VectorSearch(ctx context.Context, table Table, vec []float32, limit int, f SearchFilters) ([]Document, error)
	// TextSearch returns rows ranked by trigram similarity to the terms.
	TextSearch(ctx context.Context, table Table, terms []string, limit int, f SearchFilters) ([]Document, error)
	// FetchByIDs returns the rows with the given ids in id order.
	FetchByIDs(ctx context.Context, table Table, ids []string) ([]Document, error)
	Ping(ctx context.Context) error
}

// CatalogSource lists the card product names known to the card table.
type CatalogSource interface {
	CardNames(ctx context.Context) ([]string, error)
}

// TranscriptStore searches historical consult transcripts.
type TranscriptStore interface {
	SearchConsultCases(ctx context.Context, q ConsultQuery) ([]ConsultCase, error)
}

// Writer loads rows into a store.
type Writer interface {
	UpsertDocuments(ctx context.Context, docs []Document) error
	UpsertConsultCases(ctx context.Context, cases []ConsultCase) error
}

// Backend is a store implementing every read interface.
type Backend interface {
	DocumentStore
	CatalogSource
	TranscriptStore
	Writer
	Close() error
}

// classify wraps connection-level failures in ErrUnreachable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) ||
		strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("%s: %w: %w", op, ErrUnreachable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern is a LIKE pattern matching s anywhere, with any wildcard
// in s taken literally. Backslash is the escape character.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// orderByIDs returns docs in the order of ids, dropping missing ones.
func orderByIDs(docs []Document, ids []string) []Document {
	byID := make(map[string]Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
			delete(byID, id)
		}
	}
	return out
}
