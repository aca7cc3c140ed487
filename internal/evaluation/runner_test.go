package evaluation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/search"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

func result(route routing.Route, shouldSearch bool, ids ...string) *search.Result {
	res := &search.Result{Decision: routing.Decision{Route: route, ShouldSearch: shouldSearch}}
	for _, id := range ids {
		res.Documents = append(res.Documents, retrieval.Hit{Document: storage.Document{ID: id}})
	}
	return res
}

type mapSearcher struct {
	mu      sync.Mutex
	results map[string]*search.Result
	errs    map[string]error
	calls   atomic.Int32
}

func (m *mapSearcher) Search(_ context.Context, q string) (*search.Result, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[q], m.errs[q]
}

func TestParseCases(t *testing.T) {
	cases, err := ParseCases([]byte(`
cases:
  - id: T001
    query: 나라사랑 잃어버렸어요
    expect_route: card_usage
    must_have_doc_ids: [narasarang_faq_005]
    must_not_have_doc_ids: [k패스_24]
  - query: 문의 드립니다
    expect_route: none
`))
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, []string{"narasarang_faq_005"}, cases[0].MustHave)
	assert.Equal(t, "case-002", cases[1].ID)

	_, err = ParseCases([]byte("cases:\n  - id: a\n    query: x\n  - id: a\n    query: y\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseCases([]byte("cases:\n  - id: a\n    query: ' '\n"))
	assert.ErrorContains(t, err, "query is required")
}

func TestCheck(t *testing.T) {
	lost := Case{
		ID:          "T001",
		ExpectRoute: "card_usage",
		MustHave:    []string{"narasarang_faq_005"},
		MustNotHave: []string{"k패스_24"},
	}

	tests := []struct {
		name      string
		c         Case
		res       *search.Result
		passed    bool
		routeOK   bool
		missing   []string
		forbidden []string
	}{
		{"pass", lost, result(routing.RouteCardUsage, true, "narasarang_faq_005", "x"), true, true, nil, nil},
		{"wrong route", lost, result(routing.RouteCardInfo, true, "narasarang_faq_005"), false, false, nil, nil},
		{"missing doc", lost, result(routing.RouteCardUsage, true, "x"), false, true, []string{"narasarang_faq_005"}, nil},
		{"forbidden doc", lost, result(routing.RouteCardUsage, true, "narasarang_faq_005", "k패스_24"), false, true, nil, []string{"k패스_24"}},
		{"none means not searched", Case{ExpectRoute: RouteNone}, result(routing.RouteCardUsage, false), true, true, nil, nil},
		{"none but searched", Case{ExpectRoute: RouteNone}, result(routing.RouteCardUsage, true), false, false, nil, nil},
		{"no route expectation", Case{}, result(routing.RouteCardInfo, true), true, true, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Check(tt.c, tt.res)
			assert.Equal(t, tt.passed, o.Passed)
			assert.Equal(t, tt.routeOK, o.RouteOK)
			assert.Equal(t, tt.missing, o.Missing)
			assert.Equal(t, tt.forbidden, o.Forbidden)
		})
	}
}

func TestRunner_Run(t *testing.T) {
	s := &mapSearcher{
		results: map[string]*search.Result{
			"나라사랑 잃어버렸어요": result(routing.RouteCardUsage, true, "narasarang_faq_005"),
			"k패스 다자녀":      result(routing.RouteCardInfo, true, "k패스_24"),
			"문의 드립니다":      result(routing.RouteNone, false),
		},
		errs: map[string]error{"db down": storage.ErrUnreachable},
	}
	cases := []Case{
		{ID: "T001", Query: "나라사랑 잃어버렸어요", ExpectRoute: "card_usage", MustHave: []string{"narasarang_faq_005"}},
		{ID: "T006", Query: "k패스 다자녀", ExpectRoute: "card_info", MustNotHave: []string{"k패스_24"}},
		{ID: "T029", Query: "문의 드립니다", ExpectRoute: RouteNone},
		{ID: "T099", Query: "db down", ExpectRoute: "card_usage"},
	}

	var done atomic.Int32
	report, err := NewRunner(s, 3, nil).Run(context.Background(), cases, func(Outcome) { done.Add(1) })
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, []string{"T006", "T099"}, report.FailedIDs())
	assert.Equal(t, int32(4), done.Load())
	assert.Equal(t, int32(4), s.calls.Load())

	for i, o := range report.Outcomes {
		assert.Equal(t, cases[i].ID, o.Case.ID, "outcomes keep suite order")
	}
	assert.NotEmpty(t, report.Outcomes[3].Error)
}

func TestRunner_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(&mapSearcher{}, 2, nil).Run(ctx, []Case{{ID: "a", Query: "q"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
