// Package search is the single entry point of the retrieval core. It routes
// a query, serves it from the retrieval cache or the engine, and looks up
// similar consult cases alongside.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/consult"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// ClarificationMessage is shown instead of documents when a query is not
// searched.
const ClarificationMessage = "문의하신 내용을 조금 더 구체적으로 말씀해 주시겠어요? 카드 이름이나 원하시는 업무를 함께 알려주시면 정확히 안내해 드리겠습니다."

// FailureStoreUnreachable marks a result degraded by an unreachable store.
const FailureStoreUnreachable = "store_unreachable"

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// Extractor reads signals from query text.
type Extractor interface {
	Extract(query string) routing.Signals
}

// Decider maps signals to a routing decision.
type Decider interface {
	Decide(sig routing.Signals) routing.Decision
}

// Pinger checks that the document store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options holds service tunables.
type Options struct {
	TopK           int
	MaxConcurrency int
	ConsultEnabled bool
	MaxHintSteps   int
	MaxHintQs      int
}

// Result is the outcome of one search.
type Result struct {
	Query            string                `json:"query"`
	Decision         routing.Decision      `json:"decision"`
	Documents        []retrieval.Hit       `json:"documents"`
	ConsultDocuments []storage.ConsultCase `json:"consult_documents"`
	ConsultHints     consult.Hints         `json:"consult_hints"`
	CacheStatus      retrieval.CacheStatus `json:"cache_status"`
	Tiers            []string              `json:"tiers,omitempty"`
	Pins             []string              `json:"pins,omitempty"`
	StoreCalls       int                   `json:"store_calls"`
	Message          string                `json:"message,omitempty"`
	Failure          string                `json:"failure,omitempty"`
	LatencyMs        int64                 `json:"latency_ms"`
}

// DocKeys returns the table:id keys of the documents in rank order.
func (r *Result) DocKeys() []string {
	keys := make([]string, len(r.Documents))
	for i, d := range r.Documents {
		keys[i] = d.Key()
	}
	return keys
}

// Service answers search requests.
type Service struct {
	extractor Extractor
	router    Decider
	engine    *retrieval.Engine
	cache     *retrieval.RetrievalCache
	answers   *retrieval.AnswerCache
	consult   *consult.Retriever
	store     Pinger
	opts      Options
	logger    *observability.Logger
}

// NewService creates a search service. cache, answers, consult and store
// may be nil.
func NewService(
	extractor Extractor,
	router Decider,
	engine *retrieval.Engine,
	cache *retrieval.RetrievalCache,
	answers *retrieval.AnswerCache,
	consultRetriever *consult.Retriever,
	store Pinger,
	opts Options,
	logger *observability.Logger,
) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if opts.TopK <= 0 {
		opts.TopK = engine.Config().TopK
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 2
	}
	if opts.MaxHintSteps <= 0 {
		opts.MaxHintSteps = 3
	}
	if opts.MaxHintQs <= 0 {
		opts.MaxHintQs = 2
	}
	return &Service{
		extractor: extractor,
		router:    router,
		engine:    engine,
		cache:     cache,
		answers:   answers,
		consult:   consultRetriever,
		store:     store,
		opts:      opts,
		logger:    logger.WithComponent("search"),
	}
}

// Route returns the routing decision for query without searching.
func (s *Service) Route(query string) routing.Decision {
	return s.router.Decide(s.extractor.Extract(query))
}

// Search routes query and returns the ranked documents. When the document
// store is unreachable the result asks for clarification, carries
// FailureStoreUnreachable, and the error wraps storage.ErrUnreachable.
func (s *Service) Search(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	logger := s.logger.WithContext(ctx)
	d := s.Route(query)
	res := &Result{
		Query:       query,
		Decision:    d,
		Documents:   []retrieval.Hit{},
		CacheStatus: retrieval.CacheOff,
	}

	if !d.ShouldSearch {
		res.Message = ClarificationMessage
		res.LatencyMs = time.Since(start).Milliseconds()
		logger.Debug().Str("route", string(d.Route)).Msg("Query not searched")
		return res, nil
	}

	var (
		retrieved *retrieval.Result
		status    = retrieval.CacheOff
		cases     []storage.ConsultCase
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)
	g.Go(func() error {
		var err error
		retrieved, status, err = s.retrieve(gctx, query, d)
		return err
	})
	if s.opts.ConsultEnabled && d.NeedConsultCaseSearch {
		g.Go(func() error {
			cases = s.consult.Retrieve(gctx, query, d)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, storage.ErrUnreachable) {
			logger.Error().Err(err).Str("route", string(d.Route)).Msg("Document store unreachable")
			res.Decision.ShouldSearch = false
			res.Message = ClarificationMessage
			res.Failure = FailureStoreUnreachable
			res.LatencyMs = time.Since(start).Milliseconds()
			return res, fmt.Errorf("search: %w", err)
		}
		return nil, err
	}

	res.Decision = retrieved.Decision
	res.Documents = retrieved.Hits
	res.Tiers = retrieved.Tiers
	res.Pins = retrieved.Pins
	res.StoreCalls = retrieved.StoreCalls
	res.CacheStatus = status
	if cases != nil {
		res.ConsultDocuments = cases
	}
	if d.NeedConsultCaseSearch {
		res.ConsultHints = consult.BuildHints(cases, d.Signals.Actions, s.opts.MaxHintSteps, s.opts.MaxHintQs)
	}
	res.LatencyMs = time.Since(start).Milliseconds()

	logger.Info().
		Str("route", string(res.Decision.Route)).
		Str("cache", string(status)).
		Int("documents", len(res.Documents)).
		Int("consult_documents", len(res.ConsultDocuments)).
		Int64("latency_ms", res.LatencyMs).
		Msg("Search complete")
	return res, nil
}

// retrieve serves a decision from the retrieval cache or the engine.
func (s *Service) retrieve(ctx context.Context, query string, d routing.Decision) (*retrieval.Result, retrieval.CacheStatus, error) {
	if !s.cache.Enabled() {
		res, err := s.engine.Retrieve(ctx, query, d)
		return res, retrieval.CacheOff, err
	}

	key := s.cache.Key(d.Signals.Normalized, d, s.opts.TopK)
	if cached, status := s.cache.Get(ctx, key); cached != nil {
		return cached, status, nil
	}

	res, err := s.engine.Retrieve(ctx, query, d)
	if err != nil {
		return nil, retrieval.CacheMiss, err
	}
	// an exhausted budget yields a partial result that must not be served again
	if !res.BudgetExhausted {
		_ = s.cache.Set(ctx, key, res)
	}
	return res, retrieval.CacheMiss, nil
}

// LookupAnswer returns a cached answer for the exact retrieval outcome.
func (s *Service) LookupAnswer(ctx context.Context, k retrieval.AnswerKey) (*retrieval.Answer, retrieval.CacheStatus) {
	return s.answers.Get(ctx, k)
}

// StoreAnswer caches a generated answer.
func (s *Service) StoreAnswer(ctx context.Context, k retrieval.AnswerKey, ans retrieval.Answer) error {
	if len(k.DocKeys) == 0 {
		return errors.New("answer key needs document keys")
	}
	return s.answers.Set(ctx, k, ans)
}

// InvalidateCache drops every cached retrieval, e.g. after a data load.
func (s *Service) InvalidateCache(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

// Ready reports whether the document store answers.
func (s *Service) Ready(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}
