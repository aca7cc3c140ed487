package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/embedding"
)

// SeedData is the JSON fixture format of `cardrag-cli seed` and the memory
// driver.
type SeedData struct {
	Cards        []Document    `json:"cards"`
	Guides       []Document    `json:"guides"`
	ConsultCases []ConsultCase `json:"consult_cases"`
}

// Documents returns every card and guide row with its table set.
func (s *SeedData) Documents() []Document {
	out := make([]Document, 0, len(s.Cards)+len(s.Guides))
	for _, d := range s.Cards {
		d.Table = TableCards
		out = append(out, d)
	}
	for _, d := range s.Guides {
		d.Table = TableGuides
		if d.Source == "" {
			d.Source = SourceGeneral
		}
		out = append(out, d)
	}
	return out
}

// LoadSeed reads a fixture file.
func LoadSeed(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed SeedData
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &seed, nil
}

// SeedOptions controls Seed.
type SeedOptions struct {
	BatchSize int
	// Progress is called with the number of documents written so far.
	Progress func(done, total int)
}

// Seed embeds documents that carry no vector and writes everything to w.
func Seed(ctx context.Context, w Writer, seed *SeedData, emb embedding.Embedder, opts SeedOptions) error {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 32
	}
	docs := seed.Documents()
	for start := 0; start < len(docs); start += batch {
		end := min(start+batch, len(docs))
		chunk := docs[start:end]
		if emb != nil {
			if err := embedMissing(ctx, emb, chunk); err != nil {
				return err
			}
		}
		if err := w.UpsertDocuments(ctx, chunk); err != nil {
			return err
		}
		if opts.Progress != nil {
			opts.Progress(end, len(docs))
		}
	}
	if len(seed.ConsultCases) > 0 {
		if err := w.UpsertConsultCases(ctx, seed.ConsultCases); err != nil {
			return err
		}
	}
	return nil
}

func embedMissing(ctx context.Context, emb embedding.Embedder, docs []Document) error {
	var (
		idx   []int
		texts []string
	)
	for i, d := range docs {
		if len(d.Embedding) == 0 {
			idx = append(idx, i)
			texts = append(texts, EmbeddingText(d))
		}
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed seed documents: %w", err)
	}
	for j, i := range idx {
		docs[i].Embedding = vecs[j]
	}
	return nil
}

// EmbeddingText is the text a document is embedded from.
func EmbeddingText(d Document) string {
	parts := []string{d.Title}
	if d.CardName != "" && !strings.Contains(d.Title, d.CardName) {
		parts = append(parts, d.CardName)
	}
	parts = append(parts, d.Content)
	return strings.Join(parts, "\n")
}
