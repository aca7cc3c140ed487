package routing

import (
	"strings"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/vocab"
)

// Signals is everything the router reads from one query. Every list is
// de-duplicated and keeps first-seen order.
type Signals struct {
	Raw          string   `json:"raw"`
	Normalized   string   `json:"normalized"`
	Compact      string   `json:"compact"`
	CardNames    []string `json:"cardNames,omitempty"`
	Actions      []string `json:"actions,omitempty"`
	Payments     []string `json:"payments,omitempty"`
	WeakIntents  []string `json:"weakIntents,omitempty"`
	CompoundHits []string `json:"compoundHits,omitempty"`
	Contacts     []string `json:"contacts,omitempty"`
	Regions      []string `json:"regions,omitempty"`
	BenefitTypes []string `json:"benefitTypes,omitempty"`
	Entity       string   `json:"entity,omitempty"`
}

// HasLossTerms reports whether the query talks about a lost or stolen card.
func (s Signals) HasLossTerms() bool {
	return vocab.ContainsAny(s.Normalized, LossTerms...) || vocab.ContainsAny(s.Compact, LossTerms...)
}

// HasAny reports whether the normalized or compact text contains any term.
func (s Signals) HasAny(terms ...string) bool {
	return vocab.ContainsAny(s.Normalized, terms...) || vocab.ContainsAny(s.Compact, terms...)
}

// Empty reports whether no dictionary group matched.
func (s Signals) Empty() bool {
	return len(s.CardNames) == 0 && len(s.Actions) == 0 && len(s.Payments) == 0 &&
		len(s.WeakIntents) == 0 && len(s.Contacts) == 0
}

var (
	// LossTerms mark a lost or stolen card.
	LossTerms = []string{"분실", "도난", "잃어버", "분실신고", "도난신고"}

	// lossInfoTerms mark an information question that merely mentions loss.
	lossInfoTerms = []string{"혜택", "연회비", "추천", "전월", "실적", "적립"}

	// specialEntities are matched in this order; the first hit wins.
	specialEntities = []struct {
		key   string
		terms []string
	}{
		{"다둥이", []string{"다둥이", "서울시다둥이"}},
		{"국민행복", []string{"국민행복"}},
		{"K-패스", []string{"k패스", "k-패스", "kpass", "k패스카드", "k패스체크"}},
		{"나라사랑", []string{"나라사랑"}},
		{"으랏차차", []string{"으랏차차", "으랏차"}},
	}
)

// Extractor turns query text into Signals using a vocabulary index.
type Extractor struct {
	index              *vocab.Index
	fuzzyThreshold     int
	fuzzyCardThreshold int
}

// NewExtractor creates an extractor.
func NewExtractor(index *vocab.Index, fuzzyThreshold, fuzzyCardThreshold int) *Extractor {
	return &Extractor{
		index:              index,
		fuzzyThreshold:     fuzzyThreshold,
		fuzzyCardThreshold: fuzzyCardThreshold,
	}
}

// Extract reads signals from the query. It has no side effects.
func (e *Extractor) Extract(query string) Signals {
	normalized := vocab.Normalize(query)
	s := Signals{
		Raw:        query,
		Normalized: normalized,
		Compact:    vocab.Compact(normalized),
	}
	if normalized == "" {
		return s
	}

	s.CardNames = e.matchCards(normalized)
	s.Actions = e.matchWithFuzzy(vocab.GroupAction, normalized)
	s.Payments = e.matchWithFuzzy(vocab.GroupPayment, normalized)
	s.WeakIntents = e.match(vocab.GroupWeakIntent, normalized)
	s.Contacts = e.match(vocab.GroupContact, normalized)
	s.Regions = e.match(vocab.GroupRegion, normalized)
	s.BenefitTypes = e.match(vocab.GroupBenefit, normalized)

	s.CompoundHits = e.index.MatchCompound(query)
	if len(s.CompoundHits) > 0 {
		s.Actions = vocab.UniqueInOrder(append(s.Actions, s.CompoundHits...))
	}

	s.Entity = detectEntity(normalized, s.Compact)
	return s
}

// match runs exact lookup and falls back to substring containment.
func (e *Extractor) match(g vocab.Group, text string) []string {
	if hits := e.index.MatchExact(g, text); len(hits) > 0 {
		return hits
	}
	return e.index.MatchContains(g, text)
}

func (e *Extractor) matchWithFuzzy(g vocab.Group, text string) []string {
	if hits := e.match(g, text); len(hits) > 0 {
		return hits
	}
	return e.index.MatchFuzzy(g, text, e.fuzzyThreshold)
}

// matchCards tries exact, substring, token overlap and fuzzy matching in
// turn, stopping at the first step that finds anything.
func (e *Extractor) matchCards(text string) []string {
	if hits := e.match(vocab.GroupCard, text); len(hits) > 0 {
		return hits
	}
	if hits := e.index.MatchCardNameByTokens(text); len(hits) > 0 {
		return hits
	}
	return e.index.MatchFuzzy(vocab.GroupCard, text, e.fuzzyCardThreshold)
}

func detectEntity(normalized, compact string) string {
	for _, ent := range specialEntities {
		for _, term := range ent.terms {
			if strings.Contains(normalized, term) || strings.Contains(compact, term) {
				return ent.key
			}
		}
	}
	return ""
}
