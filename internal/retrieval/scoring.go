package retrieval

import (
	"strings"
	"unicode/utf8"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/config"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

var (
	// issuanceHintTokens enable the issuance title bonus in ISSUE mode.
	issuanceHintTokens = []string{"발급", "신청", "재발급", "대상", "서류"}
	issuanceTitleBonus = map[string]int{"발급 대상": 2, "발급대상": 2, "신청": 1, "서류": 1}
	issuanceDemote     = []string{"적립", "할인"}

	categoryTitleBonus = map[string]int{"적립": 1, "혜택": 1, "할인": 1}
	categoryDemote     = []string{"발급 대상", "서류"}

	// guideOrientedTokens ask for a procedure, which card rows rarely hold.
	guideOrientedTokens = []string{"방법", "신고", "절차", "어떻게", "등록", "해지", "변경", "재발급"}
)

// Hit is a ranked document with the inputs of its score.
type Hit struct {
	storage.Document
	RRF        float64 `json:"rrf"`
	TitleScore int     `json:"title_score"`
	CardMatch  bool    `json:"card_match"`
	Pinned     bool    `json:"pinned,omitempty"`
	Pin        string  `json:"pin,omitempty"`
}

// phaseRows are the rows one phase returned for one table, best first.
type phaseRows struct {
	table storage.Table
	phase string
	rows  []storage.Document
}

// scorer fuses phase results and applies the additive boosts.
type scorer struct {
	weights     config.BoostWeights
	rrfK        int
	minGuideLen int
	ctx         SearchContext
	route       routing.Route
}

// isNoisyGuide drops guide rows without a title or with almost no content.
func (s scorer) isNoisyGuide(d storage.Document) bool {
	if d.Table != storage.TableGuides {
		return false
	}
	return strings.TrimSpace(d.Title) == "" || utf8.RuneCountInString(strings.TrimSpace(d.Content)) < s.minGuideLen
}

// fuse merges the phases of one tier into scored hits. A row missing from a
// phase contributes nothing from it.
func (s scorer) fuse(phases []phaseRows) []Hit {
	byKey := make(map[string]*Hit)
	var order []string
	for _, p := range phases {
		rank := 0
		for _, d := range p.rows {
			d.Table = p.table
			if s.isNoisyGuide(d) {
				continue
			}
			rank++
			h, ok := byKey[d.Key()]
			if !ok {
				d.Embedding = nil
				h = &Hit{Document: d}
				byKey[d.Key()] = h
				order = append(order, d.Key())
			}
			h.RRF += 1.0 / float64(s.rrfK+rank)
		}
	}

	out := make([]Hit, 0, len(order))
	for _, k := range order {
		h := byKey[k]
		s.score(h)
		out = append(out, *h)
	}
	return out
}

// score fills TitleScore, CardMatch and the final Score of a hit.
func (s scorer) score(h *Hit) {
	w := s.weights
	sc := s.ctx
	title := h.Title

	cardMeta := cardMetaScore(h.CardName, sc.CardValues, w.CardMeta)
	ts := countIn(title, sc.CardTerms) * w.CardTitle
	ts += countIn(title, sc.RankTerms) * w.RankTermTitle
	ts += countIn(title, sc.QueryTerms) * w.QueryTitle
	ts += countIn(h.Content, sc.QueryTerms) * w.QueryContent

	matched := cardMeta > 0 || countIn(title, sc.CardTerms) > 0 || countIn(h.Content, sc.CardTerms) > 0

	category, issuance, categoryBonus := 0, 0, 0
	switch sc.Mode {
	case SearchModeIssue:
		issuance = bonusIn(title, sc.CategoryTerms, issuanceHintTokens, issuanceTitleBonus, issuanceDemote)
	case SearchModeBenefit:
		category = countIn(categoryText(h.Document), sc.QueryTerms) * w.Category
		categoryBonus = bonusIn(title, sc.CategoryTerms, []string{"적립", "혜택"}, categoryTitleBonus, categoryDemote)
	}
	if len(sc.CardValues) > 0 && !matched {
		category, issuance, categoryBonus = 0, 0, 0
	}
	ts += category + issuance + categoryBonus

	if h.Table == storage.TableGuides && countIn(title+" "+h.Content, sc.QueryTerms) >= 2 {
		ts += w.GuideCoverage
	}
	if h.Table == storage.TableCards && s.route != routing.RouteCardInfo && containsAnyFold(sc.Normalized, guideOrientedTokens) {
		ts -= w.NonGuidePenalty
	}
	if strings.Contains(title, "재발급") {
		if sc.WantsReissue {
			ts += w.Reissue
		} else {
			ts -= w.Reissue
		}
	}
	ts += cardMeta

	h.TitleScore = ts
	h.CardMatch = len(sc.CardValues) == 0 || matched
	h.Score = h.RRF + float64(ts)*w.TitleScore
}

// cardMetaScore compares the row's card_name with the filter values, with
// and without spaces.
func cardMetaScore(cardName string, values []string, weight int) int {
	if cardName == "" || len(values) == 0 {
		return 0
	}
	nameNorm := strings.ReplaceAll(cardName, " ", "")
	for _, v := range values {
		vNorm := strings.ReplaceAll(v, " ", "")
		if v == "" {
			continue
		}
		if cardName == v || nameNorm == vNorm || strings.Contains(cardName, v) || strings.Contains(nameNorm, vNorm) {
			return weight
		}
	}
	return 0
}

func categoryText(d storage.Document) string {
	parts := []string{d.Category}
	for _, k := range []string{"category", "category1", "category2"} {
		if v, ok := d.Metadata[k].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// countIn counts the terms found in text, case-insensitively.
func countIn(text string, terms []string) int {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	n := 0
	for _, t := range terms {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			n++
		}
	}
	return n
}

func bonusIn(title string, categoryTerms, hints []string, bonus map[string]int, demote []string) int {
	if title == "" || !anyIn(categoryTerms, hints) {
		return 0
	}
	score := 0
	for token, b := range bonus {
		if strings.Contains(title, token) {
			score += b
		}
	}
	for _, token := range demote {
		if strings.Contains(title, token) {
			score -= 2
			break
		}
	}
	return score
}

func containsAnyFold(text string, terms []string) bool {
	return countIn(text, terms) > 0
}
