package retrieval

import (
	"regexp"
	"slices"
	"strings"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/vocab"
)

// Vocabulary expands canonical terms into their surface forms.
type Vocabulary interface {
	Synonyms(g vocab.Group, canonical string) []string
	IsStopword(term string) bool
}

// SearchMode selects the title bonuses applied during scoring.
type SearchMode string

const (
	SearchModeIssue   SearchMode = "ISSUE"
	SearchModeBenefit SearchMode = "BENEFIT"
	SearchModeGeneral SearchMode = "GENERAL"
)

var (
	// categoryMatchTokens are the category hints looked for inside terms.
	categoryMatchTokens = []string{"발급", "신청", "재발급", "대상", "서류", "적립", "혜택"}

	issueTerms   = []string{"발급", "신청", "재발급", "대상", "서류", "오류", "에러"}
	benefitTerms = []string{"적립", "혜택", "할인", "포인트"}
	reissueTerms = []string{"재발급", "재발행"}

	// keywordStopwords never reach the keyword phase on their own.
	keywordStopwords = []string{"카드"}

	// lossIntentKeys switch intent-only guide search to the strict filter.
	lossIntentKeys = []string{"분실", "도난", "분실도난", "도난분실", "잃어버"}

	termSepRE = regexp.MustCompile(`[\s\-/·]+`)
)

// SearchContext is the per-query view of a decision that scoring and the
// keyword phase work from.
type SearchContext struct {
	QueryText     string
	Normalized    string
	CardValues    []string
	CardTerms     []string
	IntentTerms   []string
	WeakTerms     []string
	PaymentTerms  []string
	QueryTerms    []string
	CategoryTerms []string
	RankTerms     []string
	ExtraTerms    []string
	Mode          SearchMode
	WantsReissue  bool
	PaymentOnly   bool
}

// NewSearchContext builds the search context of a query under a decision.
func NewSearchContext(query string, d routing.Decision, voc Vocabulary) SearchContext {
	f := d.Filters
	sc := SearchContext{
		QueryText:    buildQueryText(query, d.QueryTemplate),
		Normalized:   vocab.Normalize(query),
		CardValues:   slices.Clone(f.CardNames),
		CardTerms:    expand(voc, vocab.GroupCard, f.CardNames),
		IntentTerms:  expand(voc, vocab.GroupAction, f.Intents),
		WeakTerms:    expand(voc, vocab.GroupWeakIntent, f.WeakIntents),
		PaymentTerms: expandPayments(voc, f.PaymentMethods),
	}
	sc.QueryTerms = queryTerms(query, voc)
	sc.CategoryTerms = categoryTerms(concat(sc.QueryTerms, sc.WeakTerms, sc.IntentTerms))
	sc.Mode = selectMode(concat(sc.CategoryTerms, sc.QueryTerms, sc.WeakTerms, sc.IntentTerms))
	sc.WantsReissue = anyIn(concat(sc.QueryTerms, sc.IntentTerms), reissueTerms)
	sc.RankTerms = vocab.UniqueInOrder(concat(sc.IntentTerms, sc.PaymentTerms, sc.WeakTerms, sc.QueryTerms))
	sc.PaymentOnly = len(sc.PaymentTerms) > 0 && len(sc.CardTerms) == 0 && len(sc.IntentTerms) == 0

	paid := make(map[string]bool, len(sc.PaymentTerms))
	for _, p := range sc.PaymentTerms {
		paid[vocab.StripSpaces(strings.ToLower(p))] = true
	}
	for _, t := range sc.QueryTerms {
		if !paid[vocab.StripSpaces(t)] {
			sc.ExtraTerms = append(sc.ExtraTerms, t)
		}
	}
	return sc
}

// IntentOnly reports whether the query names an action or weak intent but
// no card.
func (sc SearchContext) IntentOnly() bool {
	return (len(sc.IntentTerms) > 0 || len(sc.WeakTerms) > 0) && len(sc.CardTerms) == 0
}

// GuideTerms are the expanded intent terms used for intent-only guide
// search, falling back to the query terms.
func (sc SearchContext) GuideTerms() []string {
	terms := vocab.UniqueInOrder(concat(sc.IntentTerms, sc.WeakTerms))
	if len(terms) == 0 {
		terms = sc.QueryTerms
	}
	return terms
}

// StrictGuideFilter reports whether intent-only guide rows must contain a
// guide term. Only loss and theft flows are filtered this strictly.
func (sc SearchContext) StrictGuideFilter() bool {
	for _, t := range sc.GuideTerms() {
		if slices.Contains(lossIntentKeys, matchKey(t)) {
			return true
		}
	}
	return false
}

// KeywordTerms are the terms handed to the keyword phase: canonical filter
// values, then query terms, then category hints and synonyms.
func (sc SearchContext) KeywordTerms(limit int) []string {
	var terms []string
	if sc.IntentOnly() {
		terms = concat(sc.GuideTerms(), sc.ExtraTerms, sc.CategoryTerms)
	} else {
		terms = concat(sc.CardValues, sc.PaymentTerms, sc.IntentTerms, sc.WeakTerms, sc.ExtraTerms, sc.CategoryTerms, sc.CardTerms)
	}
	out := make([]string, 0, len(terms))
	for _, t := range vocab.UniqueInOrder(terms) {
		if t == "" || slices.Contains(keywordStopwords, t) {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func buildQueryText(query, template string) string {
	if template == "" {
		return query
	}
	if merged := strings.TrimSpace(template + " " + query); merged != "" {
		return merged
	}
	return query
}

// queryTerms splits the query on whitespace and keeps non-numeric terms of
// at least two runes that are not stopwords.
func queryTerms(query string, voc Vocabulary) []string {
	var out []string
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if isDigits(term) || len([]rune(term)) < 2 {
			continue
		}
		if voc != nil && voc.IsStopword(term) {
			continue
		}
		out = append(out, term)
	}
	return vocab.UniqueInOrder(out)
}

func categoryTerms(terms []string) []string {
	var hits []string
	for _, term := range terms {
		for _, hint := range categoryMatchTokens {
			if strings.Contains(term, hint) {
				hits = append(hits, hint)
			}
		}
	}
	if slices.Contains(hits, "발급") && slices.Contains(hits, "대상") {
		hits = append(hits, "발급 대상")
	}
	return vocab.UniqueInOrder(hits)
}

func selectMode(terms []string) SearchMode {
	switch {
	case anyIn(terms, issueTerms):
		return SearchModeIssue
	case anyIn(terms, benefitTerms):
		return SearchModeBenefit
	}
	return SearchModeGeneral
}

func expand(voc Vocabulary, g vocab.Group, canonicals []string) []string {
	out := slices.Clone(canonicals)
	if voc != nil {
		for _, c := range canonicals {
			out = append(out, voc.Synonyms(g, c)...)
		}
	}
	return vocab.UniqueInOrder(out)
}

// expandPayments also adds the space-free spelling of every form.
func expandPayments(voc Vocabulary, canonicals []string) []string {
	combined := expand(voc, vocab.GroupPayment, canonicals)
	out := slices.Clone(combined)
	for _, t := range combined {
		if c := strings.ReplaceAll(t, " ", ""); c != "" && c != t {
			out = append(out, c)
		}
	}
	return vocab.UniqueInOrder(out)
}

func matchKey(s string) string {
	return termSepRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

func anyIn(terms, set []string) bool {
	for _, t := range terms {
		if slices.Contains(set, t) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
