// Package grpc provides the Connect service implementations of the retrieval core.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/search"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// SearchProcedure is the fully-qualified name of the Search RPC.
const SearchProcedure = "/cardrag.v1.SearchService/Search"

// JSONCodec serializes messages as plain JSON. The service messages are Go
// structs, not generated protobuf types.
type JSONCodec struct{}

// Name implements connect.Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements connect.Codec.
func (JSONCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

// Unmarshal implements connect.Codec.
func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal %T: %w", msg, err)
	}
	return nil
}

// Searcher runs a search.
type Searcher interface {
	Search(ctx context.Context, query string) (*search.Result, error)
}

// SearchService implements the Connect search service.
type SearchService struct {
	logger   *observability.Logger
	searcher Searcher
}

// NewSearchService creates a new search service.
func NewSearchService(logger *observability.Logger, searcher Searcher) *SearchService {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SearchService{logger: logger.WithComponent("connect"), searcher: searcher}
}

// SearchRequest is the request message.
type SearchRequest struct {
	Query string `json:"query"`
	// OmitContent drops document bodies from the response.
	OmitContent bool `json:"omit_content,omitempty"`
}

// SearchResponse is the response message.
type SearchResponse struct {
	Route            string         `json:"route"`
	Scope            string         `json:"scope"`
	ShouldSearch     bool           `json:"should_search"`
	AppliedRules     []string       `json:"applied_rules,omitempty"`
	Documents        []*Document    `json:"documents"`
	ConsultDocuments []*ConsultCase `json:"consult_documents,omitempty"`
	FlowSteps        []string       `json:"flow_steps,omitempty"`
	Questions        []string       `json:"common_questions,omitempty"`
	CacheStatus      string         `json:"cache_status"`
	Message          string         `json:"message,omitempty"`
	LatencyMs        int64          `json:"latency_ms"`
}

// Document is a ranked document.
type Document struct {
	Store    string            `json:"store"`
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content,omitempty"`
	CardName string            `json:"card_name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
	Pinned   bool              `json:"pinned,omitempty"`
}

// ConsultCase is a similar historical consultation.
type ConsultCase struct {
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Title    string  `json:"title,omitempty"`
	Summary  string  `json:"summary,omitempty"`
	Score    float64 `json:"score"`
}

// Handler returns the mount path and HTTP handler of the service.
func (s *SearchService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
	return SearchProcedure, connect.NewUnaryHandler(SearchProcedure, s.Search, opts...)
}

// Search handles Connect search calls.
func (s *SearchService) Search(ctx context.Context, req *connect.Request[SearchRequest]) (*connect.Response[SearchResponse], error) {
	msg := req.Msg
	if strings.TrimSpace(msg.Query) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query is required"))
	}

	res, err := s.searcher.Search(ctx, msg.Query)
	if err != nil {
		if errors.Is(err, storage.ErrUnreachable) {
			s.logger.Error().Err(err).Msg("Search failed, store unreachable")
			return nil, connect.NewError(connect.CodeUnavailable, errors.New(search.ClarificationMessage))
		}
		s.logger.Error().Err(err).Msg("Search failed")
		return nil, connect.NewError(connect.CodeInternal, errors.New("search failed"))
	}

	return connect.NewResponse(toResponse(res, msg.OmitContent)), nil
}

func toResponse(res *search.Result, omitContent bool) *SearchResponse {
	out := &SearchResponse{
		Route:        string(res.Decision.Route),
		Scope:        string(res.Decision.Scope),
		ShouldSearch: res.Decision.ShouldSearch,
		AppliedRules: res.Decision.AppliedRules,
		Documents:    make([]*Document, 0, len(res.Documents)),
		FlowSteps:    res.ConsultHints.FlowSteps,
		Questions:    res.ConsultHints.Questions,
		CacheStatus:  string(res.CacheStatus),
		Message:      res.Message,
		LatencyMs:    res.LatencyMs,
	}

	for _, h := range res.Documents {
		doc := &Document{
			Store:    string(h.Table),
			ID:       h.ID,
			Title:    h.Title,
			CardName: h.CardName,
			Score:    h.Score,
			Pinned:   h.Pinned,
		}
		if !omitContent {
			doc.Content = h.Content
		}
		if len(h.Metadata) > 0 {
			doc.Metadata = make(map[string]string, len(h.Metadata))
			for k, v := range h.Metadata {
				if str, ok := v.(string); ok {
					doc.Metadata[k] = str
				}
			}
		}
		out.Documents = append(out.Documents, doc)
	}

	for _, c := range res.ConsultDocuments {
		out.ConsultDocuments = append(out.ConsultDocuments, &ConsultCase{
			ID:       c.ID,
			Category: c.Category,
			Title:    c.Title,
			Summary:  c.Summary,
			Score:    c.Score,
		})
	}
	return out
}
