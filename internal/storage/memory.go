package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps every table in process. It backs the `memory` driver and
// unit tests.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[Table]map[string]Document
	cases  map[string]ConsultCase
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: map[Table]map[string]Document{
			TableCards:  {},
			TableGuides: {},
		},
		cases: make(map[string]ConsultCase),
	}
}

var _ Backend = (*MemoryStore)(nil)

// UpsertDocuments inserts or replaces documents by (table, id).
func (s *MemoryStore) UpsertDocuments(_ context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		rows, ok := s.docs[d.Table]
		if !ok {
			return ErrUnknownTable
		}
		d.Score = 0
		rows[d.ID] = d
	}
	return nil
}

// UpsertConsultCases inserts or replaces transcripts by id.
func (s *MemoryStore) UpsertConsultCases(_ context.Context, cases []ConsultCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cases {
		c.Score = 0
		s.cases[c.ID] = c
	}
	return nil
}

// snapshot copies a table's rows in id order.
func (s *MemoryStore) snapshot(table Table) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrUnreachable
	}
	rows, ok := s.docs[table]
	if !ok {
		return nil, ErrUnknownTable
	}
	out := make([]Document, 0, len(rows))
	for _, d := range rows {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// VectorSearch ranks rows by cosine similarity.
func (s *MemoryStore) VectorSearch(_ context.Context, table Table, vec []float32, limit int, f SearchFilters) ([]Document, error) {
	docs, err := s.snapshot(table)
	if err != nil {
		return nil, err
	}
	return rankByVector(docs, vec, limit, f), nil
}

// TextSearch ranks rows mentioning any term by trigram similarity.
func (s *MemoryStore) TextSearch(_ context.Context, table Table, terms []string, limit int, f SearchFilters) ([]Document, error) {
	docs, err := s.snapshot(table)
	if err != nil {
		return nil, err
	}
	return rankByText(docs, terms, limit, f), nil
}

// FetchByIDs returns rows in the order of ids.
func (s *MemoryStore) FetchByIDs(_ context.Context, table Table, ids []string) ([]Document, error) {
	docs, err := s.snapshot(table)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Embedding = nil
	}
	return orderByIDs(docs, ids), nil
}

// Ping fails once the store is closed.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrUnreachable
	}
	return nil
}

// CardNames lists distinct card names of the card table.
func (s *MemoryStore) CardNames(context.Context) ([]string, error) {
	docs, err := s.snapshot(TableCards)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range docs {
		if d.CardName != "" && !slices.Contains(names, d.CardName) {
			names = append(names, d.CardName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// SearchConsultCases ranks transcripts by trigram similarity with category
// and intent bonuses.
func (s *MemoryStore) SearchConsultCases(_ context.Context, q ConsultQuery) ([]ConsultCase, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrUnreachable
	}
	cases := make([]ConsultCase, 0, len(s.cases))
	for _, c := range s.cases {
		cases = append(cases, c)
	}
	s.mu.RUnlock()
	return rankConsultCases(cases, q), nil
}

// Close marks the store unreachable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
