package retrieval

import (
	"strings"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/config"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// Tier names recorded in Result.Tiers.
const (
	TierKeyword = "keyword_only"
	TierHybrid  = "hybrid"
	TierFlip    = "route_flip"
)

// topScores returns the scores of the first and second hit.
func topScores(hits []Hit) (top1, top2 float64) {
	if len(hits) > 0 {
		top1 = hits[0].Score
	}
	if len(hits) > 1 {
		top2 = hits[1].Score
	}
	return top1, top2
}

// cardGroupKey identifies the card a hit is about. Guide rows without a
// card group by their own id so they never look like one card.
func cardGroupKey(h Hit) string {
	if h.CardName != "" {
		return "card:" + strings.ReplaceAll(strings.ToLower(h.CardName), " ", "")
	}
	if h.Table == storage.TableCards && h.Title != "" {
		return "card:" + strings.ReplaceAll(strings.ToLower(h.Title), " ", "")
	}
	return "doc:" + h.Key()
}

// topGroups counts distinct card groups among the first three hits.
func topGroups(hits []Hit) int {
	seen := make(map[string]bool, 3)
	for i, h := range hits {
		if i == 3 {
			break
		}
		seen[cardGroupKey(h)] = true
	}
	return len(seen)
}

// isWeak decides whether a keyword-only result should be retried with the
// vector phase.
func isWeak(hits []Hit, d routing.Decision, th config.Thresholds) bool {
	top1, top2 := topScores(hits)
	gap := top1 - top2

	switch d.Route {
	case routing.RouteCardInfo:
		if len(hits) == 0 {
			return true
		}
		confident := top1 >= th.CardInfoHigh && (len(hits) < 2 || gap >= th.CardInfoGap)
		oneCard := len(hits) >= 3 && topGroups(hits) == 1
		if confident || oneCard {
			return false
		}
		if top1 < th.CardInfoLow || topGroups(hits) > 1 {
			return true
		}
		return len(hits) >= 2 && gap < th.CardInfoGapLow
	case routing.RouteCardUsage, routing.RoutePhoneLookup:
		if len(hits) == 0 {
			return true
		}
		return top1 < th.CardUsageWeak && d.Filters.ScopeFilter != routing.ScopeFilterWithTerms
	}
	return len(hits) == 0
}

// canFlip reports whether an empty result may be retried on the other
// route.
func canFlip(d routing.Decision, threshold float64) bool {
	if d.Route != routing.RouteCardInfo && d.Route != routing.RouteCardUsage {
		return false
	}
	return d.DomainConfidence >= threshold
}
