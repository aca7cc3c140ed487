// Package storage provides the document, catalog and transcript stores the
// retrieval core reads from.
package storage

import (
	"fmt"
	"strings"
)

// Table names a document store.
type Table string

const (
	TableCards        Table = "card_products"
	TableGuides       Table = "service_guide_documents"
	TableConsultCases Table = "consult_cases"
)

// ParseTable validates a table name.
func ParseTable(s string) (Table, error) {
	switch t := Table(s); t {
	case TableCards, TableGuides:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, s)
}

// Guide partitions, stored in the `source` column of guide rows.
const (
	SourceMerged  = "merged"
	SourceGeneral = "general"
	SourceTerms   = "terms"
)

// Document is one row of a document store. Score carries the similarity of
// the phase that produced it and is zero for rows fetched by id.
type Document struct {
	Table     Table          `json:"table"`
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Category  string         `json:"category,omitempty"`
	CardName  string         `json:"card_name,omitempty"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
	Score     float64        `json:"score,omitempty"`
}

// Key identifies the document across stores.
func (d Document) Key() string {
	return string(d.Table) + ":" + d.ID
}

// SearchFilters are the store-side predicates of a search.
type SearchFilters struct {
	// Sources restricts guide rows to these partitions; empty admits all.
	Sources []string
	// IDPrefix restricts rows to ids with this prefix.
	IDPrefix string
	// ExcludeTitleTerms drops rows whose title contains any term.
	ExcludeTitleTerms []string
	// CardNames with RequireCardMatch keeps only rows about these cards.
	CardNames        []string
	RequireCardMatch bool
}

// Admits applies the filters to a document in process.
func (f SearchFilters) Admits(d Document) bool {
	if d.Table == TableGuides && len(f.Sources) > 0 && !containsFold(f.Sources, d.Source) {
		return false
	}
	if f.IDPrefix != "" && !strings.HasPrefix(d.ID, f.IDPrefix) {
		return false
	}
	title := strings.ToLower(d.Title)
	for _, term := range f.ExcludeTitleTerms {
		if term != "" && strings.Contains(title, strings.ToLower(term)) {
			return false
		}
	}
	if f.RequireCardMatch && len(f.CardNames) > 0 && !MentionsCard(d, f.CardNames) {
		return false
	}
	return true
}

// MentionsCard reports whether the document is about one of the cards,
// comparing names with spaces removed.
func MentionsCard(d Document, cards []string) bool {
	hay := squash(d.CardName + " " + d.Title)
	for _, c := range cards {
		if n := squash(c); n != "" && strings.Contains(hay, n) {
			return true
		}
	}
	return false
}

// ConsultCase is a historical call transcript.
type ConsultCase struct {
	ID         string  `json:"id"`
	Category   string  `json:"category"`
	Intent     string  `json:"intent,omitempty"`
	Title      string  `json:"title,omitempty"`
	Transcript string  `json:"transcript"`
	Summary    string  `json:"summary,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// ConsultQuery searches consult cases.
type ConsultQuery struct {
	Text       string
	Intents    []string
	Categories []string
	Limit      int
}

func squash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
