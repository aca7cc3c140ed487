package vocab

import (
	"sort"
	"strings"

	"github.com/xrash/smetrics"
)

// Scorer rates the similarity of two strings on a 0-100 scale.
type Scorer func(a, b string) float64

// remap rewrites the runes of a and b onto single bytes so the byte-oriented
// edit distance in smetrics treats each Hangul syllable as one symbol.
func remap(a, b string) (string, string) {
	table := make(map[rune]byte)
	encode := func(s string) string {
		var sb strings.Builder
		for _, r := range s {
			code, ok := table[r]
			if !ok {
				if len(table) >= 255 {
					code = 255
				} else {
					code = byte(len(table))
					table[r] = code
				}
			}
			sb.WriteByte(code)
		}
		return sb.String()
	}
	return encode(a), encode(b)
}

// Ratio is the normalized indel similarity of a and b.
func Ratio(a, b string) float64 {
	ea, eb := remap(a, b)
	total := len(ea) + len(eb)
	if total == 0 {
		return 100
	}
	dist := smetrics.WagnerFischer(ea, eb, 1, 1, 2)
	return 100 * (1 - float64(dist)/float64(total))
}

// PartialRatio is the best Ratio of the shorter string against every
// equally long window of the longer one.
func PartialRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		if len(rb) == 0 {
			return 100
		}
		return 0
	}
	short := string(ra)
	best := 0.0
	for i := 0; i+len(ra) <= len(rb); i++ {
		score := Ratio(short, string(rb[i:i+len(ra)]))
		if score > best {
			best = score
			if best == 100 {
				break
			}
		}
	}
	return best
}

// WeightedRatio blends full, token-sorted and partial similarity depending on
// how different the two lengths are.
func WeightedRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	best := Ratio(a, b)

	lenRatio := float64(max(la, lb)) / float64(min(la, lb))
	if lenRatio < 1.5 {
		if s := Ratio(sortedTokens(a), sortedTokens(b)) * 0.95; s > best {
			best = s
		}
		return best
	}

	scale := 0.9
	if lenRatio > 8 {
		scale = 0.6
	}
	if s := PartialRatio(a, b) * scale; s > best {
		best = s
	}
	return best
}

func sortedTokens(s string) string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

// fuzzyCandidate is one indexed surface form and the canonical it maps to.
type fuzzyCandidate struct {
	term      string
	canonical string
}

type fuzzyHit struct {
	canonical string
	score     float64
	order     int
}

// extract ranks candidates against query and returns the canonicals of the
// topN scoring at or above threshold.
func extract(query string, candidates []fuzzyCandidate, scorer Scorer, process func(string) string, threshold float64, topN, maxCandidates int) []string {
	if len(candidates) > maxCandidates && maxCandidates > 0 {
		candidates = candidates[:maxCandidates]
	}
	if process != nil {
		query = process(query)
	}

	var hits []fuzzyHit
	for i, c := range candidates {
		term := c.term
		if process != nil {
			term = process(term)
		}
		if term == "" {
			continue
		}
		score := scorer(query, term)
		if score >= threshold {
			hits = append(hits, fuzzyHit{canonical: c.canonical, score: score, order: i})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].order < hits[j].order
	})
	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.canonical)
	}
	return UniqueInOrder(out)
}
