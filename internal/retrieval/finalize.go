package retrieval

import (
	"sort"
	"unicode/utf8"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// sortHits orders by score, then title score, then table and id, so equal
// inputs always produce the same order.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TitleScore != b.TitleScore {
			return a.TitleScore > b.TitleScore
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.ID < b.ID
	})
}

// filterCardMatch drops candidates that are not about the named card as
// soon as one candidate is. Guide rows survive when the decision allows
// guides without a card match.
func filterCardMatch(hits []Hit, allowGuide bool) []Hit {
	anyMatch := false
	for _, h := range hits {
		if h.CardMatch {
			anyMatch = true
			break
		}
	}
	if !anyMatch {
		return hits
	}
	out := hits[:0:0]
	for _, h := range hits {
		if h.CardMatch || (allowGuide && h.Table == storage.TableGuides) {
			out = append(out, h)
		}
	}
	return out
}

// dedupe keeps one hit per title, or per table:id for untitled rows,
// preferring longer content and then the higher score.
func dedupe(hits []Hit) []Hit {
	best := make(map[string]int)
	var out []Hit
	for _, h := range hits {
		key := h.Title
		if key == "" {
			key = "__no_title__" + h.Key()
		}
		i, ok := best[key]
		if !ok {
			best[key] = len(out)
			out = append(out, h)
			continue
		}
		cur := out[i]
		hl, cl := utf8.RuneCountInString(h.Content), utf8.RuneCountInString(cur.Content)
		if hl > cl || (hl == cl && h.Score > cur.Score) {
			out[i] = h
		}
	}
	// a title shared across stores collapses to one row, but the same row
	// must never appear twice either way
	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, h := range out {
		if seen[h.Key()] {
			continue
		}
		seen[h.Key()] = true
		uniq = append(uniq, h)
	}
	return uniq
}

// selectLanes picks the final top-k. The dominant store is the card table
// for card_info and the guide table otherwise, or the only store in scope.
func selectLanes(hits []Hit, d routing.Decision, topK int) []Hit {
	var cards, guides []Hit
	for _, h := range hits {
		if h.Table == storage.TableCards {
			cards = append(cards, h)
		} else {
			guides = append(guides, h)
		}
	}

	dominant := guides
	if d.Route == routing.RouteCardInfo {
		dominant = cards
	}
	switch {
	case !d.Scope.IncludesGuides():
		dominant = cards
	case !d.Scope.IncludesCards():
		dominant = guides
	}

	mixed := d.LaneAllowMixed && d.Scope == routing.ScopeBoth
	if !mixed {
		return head(dominant, topK)
	}

	var picked []Hit
	if d.Route == routing.RouteCardInfo {
		picked = append(picked, head(cards, max(1, topK-1))...)
		if len(picked) < topK {
			picked = append(picked, head(guides, 1)...)
		}
	} else {
		picked = append(picked, head(cards, 1)...)
		picked = append(picked, head(guides, 1)...)
	}

	taken := make(map[string]bool, len(picked))
	for _, h := range picked {
		taken[h.Key()] = true
	}
	for _, h := range hits {
		if len(picked) >= topK {
			break
		}
		if !taken[h.Key()] {
			picked = append(picked, h)
			taken[h.Key()] = true
		}
	}
	if len(picked) > topK {
		picked = picked[:topK]
	}
	sortHits(picked)
	return picked
}

func head(hits []Hit, n int) []Hit {
	if n < 0 {
		n = 0
	}
	if len(hits) > n {
		hits = hits[:n]
	}
	return append([]Hit(nil), hits...)
}

// finalize turns the fused candidates of a tier into the ranked top-k.
func finalize(hits []Hit, d routing.Decision, topK int) []Hit {
	sortHits(hits)
	hits = filterCardMatch(hits, d.AllowGuideWithoutCardMatch)
	hits = dedupe(hits)
	sortHits(hits)
	return selectLanes(hits, d, topK)
}
