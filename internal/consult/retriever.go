// Package consult looks up historical consult transcripts similar to a query
// and turns them into agent hints.
package consult

import (
	"context"
	"time"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// Retriever searches consult cases for routed queries.
type Retriever struct {
	store  storage.TranscriptStore
	topK   int
	logger *observability.Logger
}

// NewRetriever creates a consult case retriever. A nil store disables it.
func NewRetriever(store storage.TranscriptStore, topK int, logger *observability.Logger) *Retriever {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if topK <= 0 {
		topK = 2
	}
	return &Retriever{store: store, topK: topK, logger: logger.WithComponent("consult")}
}

// Retrieve returns the consult cases for query when the decision asks for
// them. Failures degrade to an empty list and never affect document search.
func (r *Retriever) Retrieve(ctx context.Context, query string, d routing.Decision) []storage.ConsultCase {
	if r == nil || r.store == nil || !d.NeedConsultCaseSearch {
		return nil
	}

	start := time.Now()
	q := storage.ConsultQuery{
		Text:       query,
		Categories: d.ConsultCategories,
		Limit:      r.topK,
	}
	if len(d.Signals.Actions) > 0 {
		q.Intents = []string{d.Signals.Actions[0]}
	}

	cases, err := r.store.SearchConsultCases(ctx, q)
	if err != nil {
		r.logger.Warn().Err(err).Strs("categories", q.Categories).Msg("Consult case search failed")
		return nil
	}

	r.logger.Debug().
		Int("cases", len(cases)).
		Strs("intents", q.Intents).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("Consult cases retrieved")
	return cases
}
