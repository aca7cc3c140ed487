package retrieval

import (
	"context"
	"errors"
	"slices"
	"sort"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/policy"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// applyPins merges the firing policy pins into hits. A pinned document that
// is already ranked only gets the pin flag; missing ones are fetched and
// appended, at most the assessed cap, in pin order then list order.
func (e *Engine) applyPins(ctx context.Context, r *run, d routing.Decision, hits []Hit, res *Result) ([]Hit, error) {
	if e.pins == nil || e.cfg.MaxPins <= 0 || r.budget.expired() {
		return hits, nil
	}

	assessment := policy.Assess(policy.Subject{
		Route:       string(d.Route),
		Normalized:  d.Signals.Normalized,
		Entity:      d.Signals.Entity,
		PhoneLookup: d.Filters.PhoneLookup,
	}, e.cfg.MaxPins)
	if assessment.Cap == 0 {
		return hits, nil
	}

	top1, _ := topScores(hits)
	allowed := assessment.Critical || (!r.budget.spent() && top1 >= e.cfg.Thresholds.PinMinScore)
	requests := e.pins.Match(policy.Query{
		Route:      string(d.Route),
		Normalized: d.Signals.Normalized,
		Compact:    d.Signals.Compact,
		Allowed:    allowed,
	})
	if len(requests) == 0 {
		return hits, nil
	}

	index := make(map[string]int, len(hits))
	for i, h := range hits {
		index[h.Key()] = i
	}

	s := scorer{
		weights:     e.cfg.Weights,
		rrfK:        e.cfg.RRFK,
		minGuideLen: e.cfg.MinGuideContentLength,
		ctx:         NewSearchContext(r.query, d, e.vocab),
		route:       d.Route,
	}

	type pinned struct {
		hit  Hit
		rank int
		pos  int
	}
	var appended []pinned
	appendedKeys := make(map[string]bool)
	applied := make(map[string]bool)

	for rank, req := range requests {
		var missing []string
		for _, id := range req.DocIDs {
			key := storage.Document{Table: req.Table, ID: id}.Key()
			if i, ok := index[key]; ok {
				if !hits[i].Pinned {
					hits[i].Pinned = true
					hits[i].Pin = req.Pin
					applied[req.Pin] = true
				}
				continue
			}
			if !appendedKeys[key] {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 || len(appended) >= assessment.Cap {
			continue
		}

		if assessment.Critical || req.Force {
			r.budget.force()
		} else if !r.budget.take() {
			continue
		}
		docs, err := e.store.FetchByIDs(ctx, req.Table, missing)
		if err != nil {
			if errors.Is(err, storage.ErrUnreachable) {
				return nil, err
			}
			e.logger.Warn().Err(err).Str("pin", req.Pin).Msg("Failed to fetch pinned documents")
			continue
		}

		byID := make(map[string]storage.Document, len(docs))
		for _, doc := range docs {
			byID[doc.ID] = doc
		}
		for _, id := range missing {
			if len(appended) >= assessment.Cap {
				break
			}
			doc, ok := byID[id]
			if !ok {
				continue
			}
			doc.Table = req.Table
			key := doc.Key()
			if _, ok := index[key]; ok || appendedKeys[key] {
				continue
			}
			h := Hit{Document: doc, Pinned: true, Pin: req.Pin}
			s.score(&h)
			h.CardMatch = true
			appendedKeys[key] = true
			appended = append(appended, pinned{hit: h, rank: rank, pos: slices.Index(req.DocIDs, id)})
			applied[req.Pin] = true
		}
	}

	sort.SliceStable(appended, func(i, j int) bool {
		a, b := appended[i], appended[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.pos < b.pos
	})
	for _, p := range appended {
		hits = append(hits, p.hit)
	}

	for _, req := range requests {
		if applied[req.Pin] {
			res.Pins = append(res.Pins, req.Pin)
		}
	}
	if len(appended) > 0 {
		e.metrics.PinnedCount.Add(int64(len(appended)))
		e.logger.Debug().
			Strs("pins", res.Pins).
			Int("appended", len(appended)).
			Bool("critical", assessment.Critical).
			Msg("Applied policy pins")
	}
	return hits, nil
}
