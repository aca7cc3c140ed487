package grpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/consult"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/search"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

type fakeSearcher struct {
	res *search.Result
	err error
}

func (f fakeSearcher) Search(context.Context, string) (*search.Result, error) {
	return f.res, f.err
}

func newClient(t *testing.T, s Searcher) *connect.Client[SearchRequest, SearchResponse] {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(NewSearchService(nil, s).Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return connect.NewClient[SearchRequest, SearchResponse](srv.Client(), srv.URL+SearchProcedure, connect.WithCodec(JSONCodec{}))
}

func TestSearchService_Search(t *testing.T) {
	res := &search.Result{
		Decision: routing.Decision{Route: routing.RouteCardUsage, Scope: routing.ScopeGuideTable, ShouldSearch: true},
		Documents: []retrieval.Hit{{
			Document: storage.Document{
				Table:    storage.TableGuides,
				ID:       "narasarang_faq_005",
				Title:    "나라사랑카드 분실 신고",
				Content:  "분실 신고 방법",
				Metadata: map[string]any{"category": "분실", "page": 3},
				Score:    0.42,
			},
			Pinned: true,
		}},
		ConsultDocuments: []storage.ConsultCase{{ID: "cc1", Category: "분실", Score: 0.3}},
		ConsultHints:     consult.Hints{FlowSteps: []string{"분실 카드 확인"}},
		CacheStatus:      retrieval.CacheMiss,
	}
	client := newClient(t, fakeSearcher{res: res})

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&SearchRequest{Query: "나라사랑 잃어버렸어요"}))
	require.NoError(t, err)

	msg := resp.Msg
	assert.Equal(t, "card_usage", msg.Route)
	assert.True(t, msg.ShouldSearch)
	require.Len(t, msg.Documents, 1)
	doc := msg.Documents[0]
	assert.Equal(t, "service_guide_documents", doc.Store)
	assert.Equal(t, "narasarang_faq_005", doc.ID)
	assert.Equal(t, "분실 신고 방법", doc.Content)
	assert.Equal(t, map[string]string{"category": "분실"}, doc.Metadata)
	assert.True(t, doc.Pinned)
	assert.Equal(t, []string{"분실 카드 확인"}, msg.FlowSteps)
	require.Len(t, msg.ConsultDocuments, 1)
	assert.Equal(t, "miss", msg.CacheStatus)

	t.Run("omit content", func(t *testing.T) {
		resp, err := client.CallUnary(context.Background(), connect.NewRequest(&SearchRequest{Query: "x", OmitContent: true}))
		require.NoError(t, err)
		assert.Empty(t, resp.Msg.Documents[0].Content)
	})
}

func TestSearchService_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		err   error
		code  connect.Code
	}{
		{"empty query", " ", nil, connect.CodeInvalidArgument},
		{"store unreachable", "q", fmt.Errorf("search: %w", storage.ErrUnreachable), connect.CodeUnavailable},
		{"internal", "q", errors.New("boom"), connect.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, fakeSearcher{err: tt.err})
			_, err := client.CallUnary(context.Background(), connect.NewRequest(&SearchRequest{Query: tt.query}))
			require.Error(t, err)
			assert.Equal(t, tt.code, connect.CodeOf(err))
		})
	}

	t.Run("unreachable message is the clarification", func(t *testing.T) {
		client := newClient(t, fakeSearcher{err: storage.ErrUnreachable})
		_, err := client.CallUnary(context.Background(), connect.NewRequest(&SearchRequest{Query: "q"}))
		var cerr *connect.Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, search.ClarificationMessage, cerr.Message())
	})
}
