// Package handlers provides HTTP handlers for the card retrieval API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/search"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// Service is the search surface the handlers need.
type Service interface {
	Search(ctx context.Context, query string) (*search.Result, error)
	Route(query string) routing.Decision
	LookupAnswer(ctx context.Context, k retrieval.AnswerKey) (*retrieval.Answer, retrieval.CacheStatus)
	StoreAnswer(ctx context.Context, k retrieval.AnswerKey, ans retrieval.Answer) error
	InvalidateCache(ctx context.Context) error
	Ready(ctx context.Context) error
}

// SearchHandler handles search, routing and answer cache requests.
type SearchHandler struct {
	logger  *observability.Logger
	service Service
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(logger *observability.Logger, service Service) *SearchHandler {
	return &SearchHandler{
		logger:  logger,
		service: service,
	}
}

// QueryRequestDTO is the body of search and route requests.
type QueryRequestDTO struct {
	Query string `json:"query"`
}

// AnswerRequestDTO identifies a cached answer. Text and metadata are only
// read when storing.
type AnswerRequestDTO struct {
	Query    string          `json:"query"`
	Template string          `json:"template,omitempty"`
	Route    string          `json:"route,omitempty"`
	Scope    string          `json:"scope,omitempty"`
	Filters  routing.Filters `json:"filters"`
	DocKeys  []string        `json:"docKeys"`
	Model    string          `json:"model"`
	Text     string          `json:"text,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

func (a AnswerRequestDTO) key() retrieval.AnswerKey {
	return retrieval.AnswerKey{
		Query:    a.Query,
		Template: a.Template,
		Route:    routing.Route(a.Route),
		Scope:    routing.Scope(a.Scope),
		Filters:  a.Filters,
		DocKeys:  a.DocKeys,
		Model:    a.Model,
	}
}

// AnswerResponseDTO is the answer lookup response.
type AnswerResponseDTO struct {
	CacheStatus string            `json:"cacheStatus"`
	Answer      *retrieval.Answer `json:"answer,omitempty"`
}

// ErrorDTO is the error body.
type ErrorDTO struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req QueryRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(w, http.StatusBadRequest, "query is required", "")
		return
	}

	res, err := h.service.Search(ctx, req.Query)
	if err != nil {
		if errors.Is(err, storage.ErrUnreachable) && res != nil {
			h.writeJSON(w, http.StatusServiceUnavailable, res)
			return
		}
		h.logger.WithContext(ctx).Error().Err(err).Msg("Search failed")
		h.writeError(w, http.StatusInternalServerError, "search failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// Route handles POST /api/v1/route. It never touches the document store.
func (h *SearchHandler) Route(w http.ResponseWriter, r *http.Request) {
	var req QueryRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(w, http.StatusBadRequest, "query is required", "")
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.Route(req.Query))
}

// LookupAnswer handles POST /api/v1/answers/lookup.
func (h *SearchHandler) LookupAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	ans, status := h.service.LookupAnswer(r.Context(), req.key())
	if ans == nil {
		h.writeJSON(w, http.StatusNotFound, AnswerResponseDTO{CacheStatus: string(status)})
		return
	}
	h.writeJSON(w, http.StatusOK, AnswerResponseDTO{CacheStatus: string(status), Answer: ans})
}

// StoreAnswer handles PUT /api/v1/answers.
func (h *SearchHandler) StoreAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		h.writeError(w, http.StatusBadRequest, "text is required", "")
		return
	}

	err := h.service.StoreAnswer(r.Context(), req.key(), retrieval.Answer{Text: req.Text, Metadata: req.Metadata})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "answer not stored", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateCache handles POST /api/v1/cache/invalidate.
func (h *SearchHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.InvalidateCache(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "invalidate failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ready handles GET /ready.
func (h *SearchHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness check failed")
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *SearchHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func (h *SearchHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *SearchHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	h.writeJSON(w, status, ErrorDTO{Error: message, Detail: detail})
}
