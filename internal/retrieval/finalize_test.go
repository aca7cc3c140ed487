package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

func hit(table storage.Table, id string, score float64) Hit {
	return Hit{Document: storage.Document{Table: table, ID: id, Title: id, Score: score}, CardMatch: true}
}

func ids(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestSortHits_TieBreaks(t *testing.T) {
	hits := []Hit{
		hit(storage.TableGuides, "b", 1),
		hit(storage.TableGuides, "a", 1),
		hit(storage.TableCards, "z", 1),
		hit(storage.TableGuides, "top", 2),
	}

	sortHits(hits)

	assert.Equal(t, []string{"top", "z", "a", "b"}, ids(hits))
}

func TestFilterCardMatch(t *testing.T) {
	match := hit(storage.TableCards, "match", 1)
	card := hit(storage.TableCards, "card", 2)
	card.CardMatch = false
	g := hit(storage.TableGuides, "guide", 3)
	g.CardMatch = false

	assert.Equal(t, []string{"match"}, ids(filterCardMatch([]Hit{match, card, g}, false)))
	assert.Equal(t, []string{"match", "guide"}, ids(filterCardMatch([]Hit{match, card, g}, true)))

	t.Run("no match keeps everything", func(t *testing.T) {
		assert.Len(t, filterCardMatch([]Hit{card, g}, false), 2)
	})
}

func TestDedupe(t *testing.T) {
	short := hit(storage.TableGuides, "g1", 3)
	short.Title = "재발급 안내"
	short.Content = "짧은 본문"
	long := hit(storage.TableGuides, "g2", 1)
	long.Title = "재발급 안내"
	long.Content = "조금 더 긴 재발급 안내 본문"
	untitledA := hit(storage.TableCards, "u1", 1)
	untitledA.Title = ""
	untitledB := hit(storage.TableCards, "u2", 1)
	untitledB.Title = ""

	out := dedupe([]Hit{short, long, untitledA, untitledB, untitledA})

	assert.Equal(t, []string{"g2", "u1", "u2"}, ids(out))
}

func TestSelectLanes(t *testing.T) {
	hits := []Hit{
		hit(storage.TableCards, "c1", 0.9),
		hit(storage.TableCards, "c2", 0.8),
		hit(storage.TableCards, "c3", 0.7),
		hit(storage.TableCards, "c4", 0.6),
		hit(storage.TableGuides, "g1", 0.5),
		hit(storage.TableGuides, "g2", 0.4),
	}

	tests := []struct {
		name string
		d    routing.Decision
		want []string
	}{
		{
			name: "card_info mixed reserves one guide",
			d:    routing.Decision{Route: routing.RouteCardInfo, Scope: routing.ScopeBoth, LaneAllowMixed: true},
			want: []string{"c1", "c2", "c3", "g1"},
		},
		{
			name: "card_info single lane",
			d:    routing.Decision{Route: routing.RouteCardInfo, Scope: routing.ScopeBoth},
			want: []string{"c1", "c2", "c3", "c4"},
		},
		{
			name: "card_usage single lane is guides",
			d:    routing.Decision{Route: routing.RouteCardUsage, Scope: routing.ScopeBoth},
			want: []string{"g1", "g2"},
		},
		{
			name: "card_usage mixed takes one of each then backfills",
			d:    routing.Decision{Route: routing.RouteCardUsage, Scope: routing.ScopeBoth, LaneAllowMixed: true},
			want: []string{"c1", "c2", "c3", "g1"},
		},
		{
			name: "guide scope only",
			d:    routing.Decision{Route: routing.RouteCardInfo, Scope: routing.ScopeGuideTable, LaneAllowMixed: true},
			want: []string{"g1", "g2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(selectLanes(hits, tt.d, 4)))
		})
	}
}

func TestFinalize(t *testing.T) {
	a := hit(storage.TableGuides, "a", 0.2)
	b := hit(storage.TableGuides, "b", 0.5)
	dup := hit(storage.TableGuides, "b", 0.1)
	off := hit(storage.TableGuides, "off", 0.9)
	off.CardMatch = false

	out := finalize([]Hit{a, b, dup, off}, routing.Decision{Route: routing.RouteCardUsage, Scope: routing.ScopeGuideTable}, 4)

	require.Len(t, out, 2)
	assert.Equal(t, []string{"b", "a"}, ids(out))
	assert.Equal(t, 0.5, out[0].Score)
}
