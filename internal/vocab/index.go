// Package vocab holds the canonical term dictionaries used to read signals
// out of customer queries: card names, actions, payment methods, weak
// intents, contact-lookup terms, regions and benefit types.
//
// An Index is an immutable snapshot behind an atomic pointer. Catalog
// refreshes build a new snapshot and swap it in; readers never lock.
package vocab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
)

// ErrCatalogUnavailable is returned when the card catalog cannot be read.
// The previous snapshot stays in service.
var ErrCatalogUnavailable = errors.New("card catalog unavailable")

// CardCatalog lists the card product names known to the document store.
type CardCatalog interface {
	CardNames(ctx context.Context) ([]string, error)
}

// Options tunes lookup behaviour.
type Options struct {
	FuzzyEnabled       bool
	FuzzyTopN          int
	FuzzyMaxCandidates int
	FuzzyMinLength     int
	CardTokenMinScore  int
	CardTokenMaxHits   int
	Logger             *observability.Logger
}

// DefaultOptions returns the production lookup settings.
func DefaultOptions() Options {
	return Options{
		FuzzyEnabled:       true,
		FuzzyTopN:          3,
		FuzzyMaxCandidates: 1000,
		FuzzyMinLength:     3,
		CardTokenMinScore:  3,
		CardTokenMaxHits:   3,
	}
}

var cardTokenStopwords = map[string]struct{}{
	"카드": {}, "연회비": {}, "발급": {}, "신청": {}, "조건": {}, "가능": {}, "여부": {},
	"있어요": {}, "있나요": {}, "있나": {}, "뭐에요": {}, "뭐예요": {}, "뭐야": {},
	"어떻게": {}, "어떤": {},
}

type termGroup struct {
	canonicals []string
	synonyms   map[string][]string
	matcher    *keywordMatcher
	fuzzy      []fuzzyCandidate
}

type compiledPattern struct {
	category string
	re       *regexp.Regexp
}

type snapshot struct {
	dict        *Dictionary
	groups      map[Group]*termGroup
	patterns    []compiledPattern
	weakRoutes  map[string]string
	catalog     []string
	fingerprint string
}

// Index answers term lookups against the current snapshot.
type Index struct {
	snap   atomic.Pointer[snapshot]
	opts   Options
	logger *observability.Logger
}

// Load reads the dictionary at path and builds an index. A failure here is
// fatal for startup.
func Load(path string, opts Options) (*Index, error) {
	dict, err := LoadDictionary(path)
	if err != nil {
		return nil, err
	}
	return NewIndex(dict, opts), nil
}

// NewIndex builds an index over a parsed dictionary with an empty catalog.
func NewIndex(dict *Dictionary, opts Options) *Index {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	ix := &Index{opts: opts, logger: logger.WithComponent("vocab")}
	ix.snap.Store(ix.build(dict, nil))
	return ix
}

func (ix *Index) build(dict *Dictionary, catalog []string) *snapshot {
	stop := make(map[string]struct{}, len(dict.Stopwords))
	for _, w := range dict.Stopwords {
		stop[strings.ToLower(w)] = struct{}{}
	}

	s := &snapshot{
		dict:       dict,
		groups:     make(map[Group]*termGroup),
		weakRoutes: make(map[string]string),
		catalog:    catalog,
	}
	if len(catalog) > 0 {
		s.fingerprint = catalogFingerprint(catalog)
	}

	for _, g := range []Group{GroupAction, GroupWeakIntent, GroupPayment, GroupContact, GroupRegion, GroupBenefit, GroupCard} {
		entries := dict.group(g)
		syn := make(map[string][]string, len(entries))
		for canonical, entry := range entries {
			syn[canonical] = collectTerms(canonical, entry, stop)
			if g == GroupWeakIntent && entry.Route != "" {
				s.weakRoutes[canonical] = entry.Route
			}
		}
		if g == GroupCard {
			for _, name := range catalog {
				syn[name] = UniqueInOrder(append(syn[name], collectTerms(name, Entry{}, stop)...))
			}
		}
		s.groups[g] = newTermGroup(syn)
	}

	for _, canonical := range s.groups[GroupAction].canonicals {
		for _, p := range dict.Actions[canonical].CompoundPatterns {
			if p.Pattern == "" || p.Category == "" {
				continue
			}
			re, err := regexp.Compile("(?i)" + p.Pattern)
			if err != nil {
				ix.logger.Warn().Err(err).Str("pattern", p.Pattern).Msg("Skipping invalid compound pattern")
				continue
			}
			s.patterns = append(s.patterns, compiledPattern{category: p.Category, re: re})
		}
	}
	return s
}

func collectTerms(canonical string, entry Entry, stop map[string]struct{}) []string {
	var terms []string
	raw := append([]string{canonical}, entry.Synonyms...)
	raw = append(raw, entry.Variations...)
	for _, p := range entry.CompoundPatterns {
		raw = append(raw, p.Keywords...)
	}
	for _, t := range raw {
		for _, v := range ExpandVariants(t) {
			if _, skip := stop[strings.ToLower(v)]; skip {
				continue
			}
			terms = append(terms, v)
		}
	}
	return UniqueInOrder(terms)
}

func newTermGroup(syn map[string][]string) *termGroup {
	canonicals := make([]string, 0, len(syn))
	for c := range syn {
		canonicals = append(canonicals, c)
	}
	sort.Strings(canonicals)

	seen := make(map[string]struct{})
	var fuzzy []fuzzyCandidate
	for _, c := range canonicals {
		for _, term := range append([]string{c}, syn[c]...) {
			if _, ok := seen[term]; ok || term == "" {
				continue
			}
			seen[term] = struct{}{}
			fuzzy = append(fuzzy, fuzzyCandidate{term: term, canonical: c})
		}
	}

	return &termGroup{
		canonicals: canonicals,
		synonyms:   syn,
		matcher:    newKeywordMatcher(syn),
		fuzzy:      fuzzy,
	}
}

func catalogFingerprint(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:8])
}

func (ix *Index) group(g Group) *termGroup {
	return ix.snap.Load().groups[g]
}

// Canonicals returns the canonical terms of a group in sorted order.
func (ix *Index) Canonicals(g Group) []string {
	tg := ix.group(g)
	if tg == nil {
		return nil
	}
	return append([]string(nil), tg.canonicals...)
}

// Synonyms returns every indexed surface form of a canonical term.
func (ix *Index) Synonyms(g Group, canonical string) []string {
	tg := ix.group(g)
	if tg == nil {
		return nil
	}
	return append([]string(nil), tg.synonyms[canonical]...)
}

// MatchExact scans text for dictionary terms of the group.
func (ix *Index) MatchExact(g Group, text string) []string {
	tg := ix.group(g)
	if tg == nil {
		return nil
	}
	return tg.matcher.extract(text)
}

// MatchContains is the substring fallback: a canonical hits when any of its
// terms occurs in text, or in text with whitespace removed.
func (ix *Index) MatchContains(g Group, text string) []string {
	tg := ix.group(g)
	if tg == nil {
		return nil
	}
	lowered := strings.ToLower(text)
	compact := StripSpaces(lowered)

	type hit struct {
		canonical string
		pos       int
	}
	var hits []hit
	for _, c := range tg.canonicals {
		best := -1
		for _, term := range append([]string{c}, tg.synonyms[c]...) {
			t := strings.ToLower(term)
			if t == "" {
				continue
			}
			pos := strings.Index(lowered, t)
			if pos < 0 {
				if p := strings.Index(compact, StripSpaces(t)); p >= 0 {
					pos = p
				}
			}
			if pos >= 0 && (best < 0 || pos < best) {
				best = pos
			}
		}
		if best >= 0 {
			hits = append(hits, hit{canonical: c, pos: best})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.canonical)
	}
	return out
}

// MatchFuzzy ranks the group's surface forms by similarity to text. Card
// names are compared by partial ratio over compacted text; other groups use
// the weighted ratio. Nothing is returned for text shorter than the minimum.
func (ix *Index) MatchFuzzy(g Group, text string, threshold int) []string {
	if !ix.opts.FuzzyEnabled {
		return nil
	}
	if text == "" || len([]rune(text)) < ix.opts.FuzzyMinLength {
		return nil
	}
	tg := ix.group(g)
	if tg == nil || len(tg.fuzzy) == 0 {
		return nil
	}

	scorer, process := WeightedRatio, (func(string) string)(nil)
	if g == GroupCard {
		scorer, process = PartialRatio, Compact
	}
	return extract(text, tg.fuzzy, scorer, process, float64(threshold), ix.opts.FuzzyTopN, ix.opts.FuzzyMaxCandidates)
}

// MatchCardNameByTokens scores every card name by the total length of query
// tokens it contains. It returns the best-scoring names only when the score
// clears the minimum and the tie is small enough to be meaningful.
func (ix *Index) MatchCardNameByTokens(text string) []string {
	var variants []string
	for _, tok := range Tokens(text) {
		if _, stop := cardTokenStopwords[tok]; stop {
			continue
		}
		variants = append(variants, expandCardToken(tok)...)
	}
	if len(variants) == 0 {
		return nil
	}

	tg := ix.group(GroupCard)
	if tg == nil {
		return nil
	}

	best := 0
	var hits []string
	for _, name := range tg.canonicals {
		compact := Compact(name)
		score := 0
		for _, v := range variants {
			if strings.Contains(compact, v) {
				score += len([]rune(v))
			}
		}
		switch {
		case score <= 0:
		case score > best:
			best = score
			hits = []string{name}
		case score == best:
			hits = append(hits, name)
		}
	}

	if best < ix.opts.CardTokenMinScore || len(hits) == 0 || len(hits) > ix.opts.CardTokenMaxHits {
		return nil
	}
	return hits
}

func expandCardToken(tok string) []string {
	out := []string{tok}
	r := []rune(tok)
	if len(r) > 2 && strings.HasSuffix(tok, "카드") {
		out = append(out, string(r[:len(r)-2]))
	}
	if len(r) > 2 && strings.HasPrefix(tok, "카드") {
		out = append(out, string(r[2:]))
	}
	var kept []string
	for _, v := range UniqueInOrder(out) {
		if _, stop := cardTokenStopwords[v]; !stop && v != "" {
			kept = append(kept, v)
		}
	}
	return kept
}

// MatchCompound evaluates the compound regex patterns against raw text and
// returns the categories that fired.
func (ix *Index) MatchCompound(raw string) []string {
	var hits []string
	for _, p := range ix.snap.Load().patterns {
		if p.re.MatchString(raw) {
			hits = append(hits, p.category)
		}
	}
	return UniqueInOrder(hits)
}

// WeakIntentRoute returns the route hint configured for a weak intent.
func (ix *Index) WeakIntentRoute(canonical string) (string, bool) {
	r, ok := ix.snap.Load().weakRoutes[canonical]
	return r, ok
}

// IsStopword reports whether term is a dictionary stopword.
func (ix *Index) IsStopword(term string) bool {
	for _, w := range ix.snap.Load().dict.Stopwords {
		if strings.EqualFold(w, strings.TrimSpace(term)) {
			return true
		}
	}
	return false
}

// Version returns the dictionary version string.
func (ix *Index) Version() string {
	return ix.snap.Load().dict.Version
}

// CatalogSize returns the number of catalog card names in the snapshot.
func (ix *Index) CatalogSize() int {
	return len(ix.snap.Load().catalog)
}

// RefreshCatalog reloads card names from the catalog. The snapshot is rebuilt
// only when the catalog fingerprint changed; on error the current snapshot is
// kept and ErrCatalogUnavailable is returned.
func (ix *Index) RefreshCatalog(ctx context.Context, src CardCatalog) (bool, error) {
	names, err := src.CardNames(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	cleaned = UniqueInOrder(cleaned)

	cur := ix.snap.Load()
	fp := ""
	if len(cleaned) > 0 {
		fp = catalogFingerprint(cleaned)
	}
	if fp == cur.fingerprint {
		return false, nil
	}

	ix.snap.Store(ix.build(cur.dict, cleaned))
	ix.logger.Info().
		Int("card_names", len(cleaned)).
		Str("fingerprint", fp).
		Msg("Card catalog refreshed")
	return true, nil
}

// StartCatalogRefresh refreshes the catalog immediately and then on every
// tick until ctx is cancelled.
func (ix *Index) StartCatalogRefresh(ctx context.Context, src CardCatalog, interval time.Duration) {
	refresh := func() {
		if _, err := ix.RefreshCatalog(ctx, src); err != nil {
			ix.logger.Warn().Err(err).Msg("Card catalog refresh failed, keeping previous snapshot")
		}
	}
	refresh()
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()
}
