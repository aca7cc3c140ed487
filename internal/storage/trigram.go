package storage

import (
	"strings"
	"unicode"
)

// trigrams splits s into pg_trgm style trigrams: each word is lower-cased
// and padded with two leading blanks and one trailing blank.
func trigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			out[string(padded[i:i+3])] = struct{}{}
		}
	}
	return out
}

// Similarity is the Jaccard index of the trigram sets, as pg_trgm's
// similarity().
func Similarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

// WordSimilarity is the share of the query's trigrams found in text. It
// approximates pg_trgm's word_similarity() for short queries over long text.
func WordSimilarity(query, text string) float64 {
	tq, tt := trigrams(query), trigrams(text)
	if len(tq) == 0 || len(tt) == 0 {
		return 0
	}
	shared := 0
	for g := range tq {
		if _, ok := tt[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(tq))
}

// textScore ranks a document for a keyword query the same way the Postgres
// store does in SQL.
func textScore(query string, d Document) float64 {
	return max(Similarity(query, d.Title), WordSimilarity(query, d.Content))
}
