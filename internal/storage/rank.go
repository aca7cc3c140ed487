package storage

import (
	"math"
	"sort"
	"strings"
)

// The in-process stores share these helpers so their ranking matches the
// SQL of the Postgres store.

func mentionsAnyTerm(d Document, terms []string) bool {
	hay := strings.ToLower(d.Title + " " + d.Content + " " + d.Category)
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" && strings.Contains(hay, t) {
			return true
		}
	}
	return false
}

func rankByText(docs []Document, terms []string, limit int, f SearchFilters) []Document {
	query := strings.Join(terms, " ")
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if !f.Admits(d) || !mentionsAnyTerm(d, terms) {
			continue
		}
		d.Score = textScore(query, d)
		d.Embedding = nil
		out = append(out, d)
	}
	return topN(out, limit)
}

func rankByVector(docs []Document, vec []float32, limit int, f SearchFilters) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if len(d.Embedding) != len(vec) || !f.Admits(d) {
			continue
		}
		d.Score = cosineSimilarity(vec, d.Embedding)
		d.Embedding = nil
		out = append(out, d)
	}
	return topN(out, limit)
}

// topN sorts by score descending, then id, and truncates.
func topN(docs []Document, limit int) []Document {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func rankConsultCases(cases []ConsultCase, q ConsultQuery) []ConsultCase {
	out := make([]ConsultCase, 0, len(cases))
	for _, c := range cases {
		score := max(Similarity(q.Text, c.Title), WordSimilarity(q.Text, c.Transcript+" "+c.Summary))
		if containsFold(q.Categories, c.Category) {
			score += 0.2
		}
		if c.Intent != "" && containsFold(q.Intents, c.Intent) {
			score += 0.1
		}
		if score <= 0 {
			continue
		}
		c.Score = score
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
