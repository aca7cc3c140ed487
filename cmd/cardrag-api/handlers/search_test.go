package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/search"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

type fakeService struct {
	result   *search.Result
	err      error
	answer   *retrieval.Answer
	stored   *retrieval.Answer
	lastKey  retrieval.AnswerKey
	storeErr error
	readyErr error
}

func (f *fakeService) Search(context.Context, string) (*search.Result, error) {
	return f.result, f.err
}

func (f *fakeService) Route(query string) routing.Decision {
	return routing.Decision{Route: routing.RouteCardUsage, ShouldSearch: query != "안녕"}
}

func (f *fakeService) LookupAnswer(context.Context, retrieval.AnswerKey) (*retrieval.Answer, retrieval.CacheStatus) {
	if f.answer == nil {
		return nil, retrieval.CacheMiss
	}
	return f.answer, retrieval.CacheHitMemory
}

func (f *fakeService) StoreAnswer(_ context.Context, k retrieval.AnswerKey, ans retrieval.Answer) error {
	f.lastKey = k
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = &ans
	return nil
}

func (f *fakeService) InvalidateCache(context.Context) error { return nil }

func (f *fakeService) Ready(context.Context) error { return f.readyErr }

func do(t *testing.T, fn http.HandlerFunc, method, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestSearchHandler_Search(t *testing.T) {
	svc := &fakeService{result: &search.Result{
		Query:       "나라사랑 잃어버렸어요",
		Decision:    routing.Decision{Route: routing.RouteCardUsage, ShouldSearch: true},
		Documents:   []retrieval.Hit{{Document: storage.Document{Table: storage.TableGuides, ID: "narasarang_faq_005"}}},
		CacheStatus: retrieval.CacheMiss,
	}}
	h := NewSearchHandler(observability.NopLogger(), svc)

	rec := do(t, h.Search, http.MethodPost, `{"query":"나라사랑 잃어버렸어요"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Documents, 1)
	assert.Equal(t, "narasarang_faq_005", got.Documents[0].ID)
	assert.Equal(t, retrieval.CacheMiss, got.CacheStatus)
}

func TestSearchHandler_SearchErrors(t *testing.T) {
	unreachable := &search.Result{
		Message: search.ClarificationMessage,
		Failure: search.FailureStoreUnreachable,
	}

	tests := []struct {
		name   string
		body   string
		svc    *fakeService
		status int
	}{
		{"malformed body", `{`, &fakeService{}, http.StatusBadRequest},
		{"empty query", `{"query":"  "}`, &fakeService{}, http.StatusBadRequest},
		{"store unreachable", `{"query":"q"}`, &fakeService{result: unreachable, err: fmt.Errorf("search: %w", storage.ErrUnreachable)}, http.StatusServiceUnavailable},
		{"internal", `{"query":"q"}`, &fakeService{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSearchHandler(observability.NopLogger(), tt.svc)
			rec := do(t, h.Search, http.MethodPost, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	t.Run("unreachable body carries the failure marker", func(t *testing.T) {
		h := NewSearchHandler(observability.NopLogger(), &fakeService{result: unreachable, err: storage.ErrUnreachable})
		rec := do(t, h.Search, http.MethodPost, `{"query":"q"}`)

		var got search.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, search.FailureStoreUnreachable, got.Failure)
		assert.Equal(t, search.ClarificationMessage, got.Message)
	})
}

func TestSearchHandler_Route(t *testing.T) {
	h := NewSearchHandler(observability.NopLogger(), &fakeService{})

	rec := do(t, h.Route, http.MethodPost, `{"query":"안녕"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var d routing.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.False(t, d.ShouldSearch)
	assert.Equal(t, routing.RouteCardUsage, d.Route)
}

func TestSearchHandler_Answers(t *testing.T) {
	svc := &fakeService{}
	h := NewSearchHandler(observability.NopLogger(), svc)
	body := `{"query":"q","docKeys":["service_guide_documents:a"],"model":"m","text":"답변"}`

	rec := do(t, h.LookupAnswer, http.MethodPost, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cacheStatus":"miss"`)

	rec = do(t, h.StoreAnswer, http.MethodPut, body)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, svc.stored)
	assert.Equal(t, "답변", svc.stored.Text)

	svc.answer = svc.stored
	rec = do(t, h.LookupAnswer, http.MethodPost, body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "답변")

	t.Run("decision fields reach the key", func(t *testing.T) {
		body := `{"query":"q","route":"card_info","scope":"both","filters":{"card_name":["K-패스"]},"docKeys":["a"],"model":"m","text":"t"}`
		rec := do(t, h.StoreAnswer, http.MethodPut, body)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, routing.RouteCardInfo, svc.lastKey.Route)
		assert.Equal(t, routing.ScopeBoth, svc.lastKey.Scope)
		assert.Equal(t, []string{"K-패스"}, svc.lastKey.Filters.CardNames)
	})

	t.Run("text is required", func(t *testing.T) {
		rec := do(t, h.StoreAnswer, http.MethodPut, `{"query":"q","docKeys":["a"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store error", func(t *testing.T) {
		h := NewSearchHandler(observability.NopLogger(), &fakeService{storeErr: errors.New("answer key needs document keys")})
		rec := do(t, h.StoreAnswer, http.MethodPut, `{"query":"q","text":"t"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSearchHandler_Ready(t *testing.T) {
	rec := do(t, NewSearchHandler(observability.NopLogger(), &fakeService{}).Ready, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, NewSearchHandler(observability.NopLogger(), &fakeService{readyErr: storage.ErrUnreachable}).Ready, http.MethodGet, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
