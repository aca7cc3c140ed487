package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/api/grpc"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/search"
)

type stubService struct{}

func (stubService) Search(_ context.Context, q string) (*search.Result, error) {
	return &search.Result{
		Query:       q,
		Decision:    routing.Decision{Route: routing.RouteCardInfo, ShouldSearch: true},
		Documents:   []retrieval.Hit{},
		CacheStatus: retrieval.CacheOff,
	}, nil
}

func (stubService) Route(string) routing.Decision { return routing.Decision{Route: routing.RouteCardInfo} }

func (stubService) LookupAnswer(context.Context, retrieval.AnswerKey) (*retrieval.Answer, retrieval.CacheStatus) {
	return nil, retrieval.CacheOff
}

func (stubService) StoreAnswer(context.Context, retrieval.AnswerKey, retrieval.Answer) error { return nil }

func (stubService) InvalidateCache(context.Context) error { return nil }

func (stubService) Ready(context.Context) error { return nil }

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(observability.NopLogger(), stubService{}, DefaultAppConfig()))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter_Routes(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/ready", "", http.StatusOK},
		{http.MethodPost, "/api/v1/search", `{"query":"k패스 혜택"}`, http.StatusOK},
		{http.MethodPost, "/api/v1/route", `{"query":"k패스 혜택"}`, http.StatusOK},
		{http.MethodPost, "/api/v1/answers/lookup", `{"query":"q"}`, http.StatusNotFound},
		{http.MethodPut, "/api/v1/answers", `{"query":"q","docKeys":["a"],"text":"t"}`, http.StatusNoContent},
		{http.MethodPost, "/api/v1/cache/invalidate", "", http.StatusNoContent},
		{http.MethodGet, "/api/v1/search", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}
}

func TestRouter_ConnectSearch(t *testing.T) {
	srv := newServer(t)
	client := connect.NewClient[grpc.SearchRequest, grpc.SearchResponse](
		srv.Client(),
		srv.URL+grpc.SearchProcedure,
		connect.WithCodec(grpc.JSONCodec{}),
	)

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&grpc.SearchRequest{Query: "k패스 혜택"}))
	require.NoError(t, err)
	assert.Equal(t, "card_info", resp.Msg.Route)
	assert.True(t, resp.Msg.ShouldSearch)
}
