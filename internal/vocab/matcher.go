package vocab

import (
	"sort"
	"strings"
)

// keywordMatcher finds dictionary terms in text, longest match first, left to
// right, without overlaps. Terms edged by ASCII letters or digits only match
// on ASCII word boundaries; Hangul terms match anywhere.
type keywordMatcher struct {
	byFirst map[rune][]matcherTerm
}

type matcherTerm struct {
	runes     []rune
	canonical string
}

func newKeywordMatcher(synonyms map[string][]string) *keywordMatcher {
	m := &keywordMatcher{byFirst: make(map[rune][]matcherTerm)}
	for canonical, terms := range synonyms {
		for _, term := range terms {
			r := []rune(strings.ToLower(term))
			if len(r) == 0 {
				continue
			}
			m.byFirst[r[0]] = append(m.byFirst[r[0]], matcherTerm{runes: r, canonical: canonical})
		}
	}
	for first, terms := range m.byFirst {
		sort.Slice(terms, func(i, j int) bool {
			if len(terms[i].runes) != len(terms[j].runes) {
				return len(terms[i].runes) > len(terms[j].runes)
			}
			if terms[i].canonical != terms[j].canonical {
				return terms[i].canonical < terms[j].canonical
			}
			return string(terms[i].runes) < string(terms[j].runes)
		})
		m.byFirst[first] = terms
	}
	return m
}

func (m *keywordMatcher) extract(text string) []string {
	src := []rune(strings.ToLower(text))
	var hits []string
	for i := 0; i < len(src); {
		matched := 0
		for _, term := range m.byFirst[src[i]] {
			n := len(term.runes)
			if i+n > len(src) || !runesEqual(src[i:i+n], term.runes) {
				continue
			}
			if !boundaryOK(src, i, i+n) {
				continue
			}
			hits = append(hits, term.canonical)
			matched = n
			break
		}
		if matched > 0 {
			i += matched
		} else {
			i++
		}
	}
	return UniqueInOrder(hits)
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isASCIIWord(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func boundaryOK(src []rune, start, end int) bool {
	if isASCIIWord(src[start]) && start > 0 && isASCIIWord(src[start-1]) {
		return false
	}
	if isASCIIWord(src[end-1]) && end < len(src) && isASCIIWord(src[end]) {
		return false
	}
	return true
}
