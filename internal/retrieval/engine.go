// Package retrieval executes routing decisions against the document stores:
// keyword and vector phases fused by reciprocal rank, additive boosts,
// escalation tiers, and policy pins.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/config"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/embedding"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/policy"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// Config holds engine configuration.
type Config struct {
	TopK                  int
	RRFK                  int
	CardInfoMinFetch      int
	KeywordMaxTerms       int
	MaxStoreCalls         int
	MaxConcurrency        int
	TimeBudget            time.Duration
	MinGuideContentLength int
	MaxPins               int
	DomainConfidenceFlip  float64
	Weights               config.BoostWeights
	Thresholds            config.Thresholds
}

// ConfigFrom maps the application configuration onto the engine.
func ConfigFrom(cfg *config.Config) Config {
	r := cfg.Retrieval
	return Config{
		TopK:                  r.TopK,
		RRFK:                  r.RRFKConstant,
		CardInfoMinFetch:      r.CardInfoMinFetch,
		KeywordMaxTerms:       r.KeywordMaxTerms,
		MaxStoreCalls:         r.MaxStoreCallsPerQuery,
		MaxConcurrency:        r.MaxConcurrentStoreCalls,
		TimeBudget:            r.TimeBudget,
		MinGuideContentLength: r.MinGuideContentLength,
		MaxPins:               cfg.Pins.MaxPinsPerQuery,
		DomainConfidenceFlip:  cfg.Routing.DomainConfidenceFlip,
		Weights:               r.Weights,
		Thresholds:            r.Thresholds,
	}
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultConfig())
}

// FetchSize is the per-phase row limit for a route.
func (c Config) FetchSize(route routing.Route) int {
	f := max(2*c.TopK, c.TopK+5)
	if route == routing.RouteCardInfo {
		f = max(f, c.CardInfoMinFetch)
	}
	return f
}

// Metrics tracks engine outcomes.
type Metrics struct {
	KeywordOnlyCount atomic.Int64
	HybridCount      atomic.Int64
	FlipCount        atomic.Int64
	PinnedCount      atomic.Int64
	BudgetHitCount   atomic.Int64
}

// Result is the outcome of one retrieval.
type Result struct {
	Hits []Hit `json:"hits"`
	// Decision is the decision the hits were produced under, after any
	// escalation or route flip.
	Decision        routing.Decision `json:"decision"`
	Tiers           []string         `json:"tiers,omitempty"`
	Pins            []string         `json:"pins,omitempty"`
	StoreCalls      int              `json:"store_calls"`
	BudgetExhausted bool             `json:"budget_exhausted,omitempty"`
	LatencyMs       int64            `json:"latency_ms"`
}

// Keys returns the table:id of every hit in order.
func (r *Result) Keys() []string {
	out := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.Key()
	}
	return out
}

// Engine runs decisions against the stores.
type Engine struct {
	store    storage.DocumentStore
	embedder embedding.Embedder
	vocab    Vocabulary
	pins     *policy.Store
	cfg      Config
	logger   *observability.Logger
	metrics  *Metrics
}

// NewEngine creates a retrieval engine. embedder and pins may be nil, which
// disables the vector phase and pin injection respectively.
func NewEngine(
	store storage.DocumentStore,
	embedder embedding.Embedder,
	voc Vocabulary,
	pins *policy.Store,
	cfg Config,
	logger *observability.Logger,
) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		vocab:    voc,
		pins:     pins,
		cfg:      cfg,
		logger:   logger.WithComponent("retrieval"),
		metrics:  &Metrics{},
	}
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// run is the per-request state shared by every tier.
type run struct {
	query  string
	budget *budget

	vecText string
	vec     []float32
}

// Retrieve executes the decision for query. A decision that should not
// search returns an empty result without touching any store. Only
// storage.ErrUnreachable is returned as an error; every other failure
// degrades the result.
func (e *Engine) Retrieve(ctx context.Context, query string, d routing.Decision) (*Result, error) {
	start := time.Now()
	res := &Result{Decision: d, Hits: []Hit{}}
	if !d.ShouldSearch || d.Scope == routing.ScopeNone {
		return res, nil
	}

	if e.cfg.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TimeBudget)
		defer cancel()
	}
	r := &run{query: query, budget: newBudget(e.cfg.MaxStoreCalls, e.cfg.TimeBudget)}

	hits, exec, err := e.escalate(ctx, r, d, res)
	if err != nil {
		return nil, err
	}

	if len(hits) == 0 && canFlip(d, e.cfg.DomainConfidenceFlip) && !r.budget.spent() {
		flipped := d.Flipped()
		res.Tiers = append(res.Tiers, TierFlip)
		e.metrics.FlipCount.Add(1)
		e.logger.Debug().
			Str("from", string(d.Route)).
			Str("to", string(flipped.Route)).
			Float64("domain_confidence", d.DomainConfidence).
			Msg("Empty result, flipping route")

		fh, fexec, err := e.escalate(ctx, r, flipped, res)
		if err != nil {
			return nil, err
		}
		if len(fh) > 0 {
			hits, exec = fh, fexec
		}
	}

	hits, err = e.applyPins(ctx, r, exec, hits, res)
	if err != nil {
		return nil, err
	}

	res.Hits = hits
	res.Decision = exec
	res.StoreCalls = r.budget.used()
	res.BudgetExhausted = r.budget.hit()
	res.LatencyMs = time.Since(start).Milliseconds()
	if res.BudgetExhausted {
		e.metrics.BudgetHitCount.Add(1)
	}

	e.logger.Info().
		Str("route", string(exec.Route)).
		Str("scope", string(exec.Scope)).
		Strs("tiers", res.Tiers).
		Int("hits", len(res.Hits)).
		Int("store_calls", res.StoreCalls).
		Bool("budget_exhausted", res.BudgetExhausted).
		Int64("latency_ms", res.LatencyMs).
		Msg("Retrieval complete")

	return res, nil
}

// escalate runs the keyword tier and, when its result is weak, the hybrid
// tier. It returns the better result and the decision that produced it.
func (e *Engine) escalate(ctx context.Context, r *run, d routing.Decision, res *Result) ([]Hit, routing.Decision, error) {
	kw := d.WithMode(routing.ModeKeywordOnly)
	hits, err := e.runTier(ctx, r, kw)
	res.Tiers = append(res.Tiers, TierKeyword)
	if err != nil {
		return nil, kw, err
	}

	if !isWeak(hits, kw, e.cfg.Thresholds) {
		e.metrics.KeywordOnlyCount.Add(1)
		return hits, kw, nil
	}
	if e.embedder == nil || r.budget.spent() {
		return hits, kw, nil
	}

	top1, _ := topScores(hits)
	e.logger.Debug().
		Int("keyword_hits", len(hits)).
		Float64("top1", top1).
		Msg("Weak keyword result, escalating to hybrid")

	hy := d.WithMode(routing.ModeHybrid)
	hh, err := e.runTier(ctx, r, hy)
	res.Tiers = append(res.Tiers, TierHybrid)
	if err != nil {
		return nil, hy, err
	}
	if len(hh) == 0 {
		return hits, kw, nil
	}
	e.metrics.HybridCount.Add(1)
	return hh, hy, nil
}

type phaseJob struct {
	table storage.Table
	phase string
}

// runTier searches every store in scope and returns the finalized top-k.
func (e *Engine) runTier(ctx context.Context, r *run, d routing.Decision) ([]Hit, error) {
	sc := NewSearchContext(r.query, d, e.vocab)
	fetch := e.cfg.FetchSize(d.Route)

	// embed before any store call so no pooled connection waits on the
	// provider
	var vec []float32
	if d.RetrievalMode == routing.ModeHybrid {
		vec = e.embed(ctx, r, sc.QueryText)
	}

	var jobs []phaseJob
	for _, table := range scopeTables(d.Scope) {
		jobs = append(jobs, phaseJob{table: table, phase: "keyword"})
		if vec != nil {
			jobs = append(jobs, phaseJob{table: table, phase: "vector"})
		}
	}

	results := make([]phaseRows, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, job := range jobs {
		g.Go(func() error {
			rows, err := e.searchPhase(gctx, r, sc, d, job, fetch, vec)
			if err != nil {
				if errors.Is(err, storage.ErrUnreachable) {
					return err
				}
				e.logger.Warn().
					Err(err).
					Str("store", string(job.table)).
					Str("phase", job.phase).
					Str("query_fp", fingerprint(r.query)).
					Msg("Search phase failed")
				rows = nil
			}
			results[i] = phaseRows{table: job.table, phase: job.phase, rows: rows}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := scorer{
		weights:     e.cfg.Weights,
		rrfK:        e.cfg.RRFK,
		minGuideLen: e.cfg.MinGuideContentLength,
		ctx:         sc,
		route:       d.Route,
	}
	hits := finalize(s.fuse(results), d, e.cfg.TopK)

	e.logger.Debug().
		Str("mode", string(d.RetrievalMode)).
		Str("route", string(d.Route)).
		Int("phases", len(jobs)).
		Int("hits", len(hits)).
		Msg("Tier complete")
	return hits, nil
}

func (e *Engine) searchPhase(
	ctx context.Context,
	r *run,
	sc SearchContext,
	d routing.Decision,
	job phaseJob,
	fetch int,
	vec []float32,
) ([]storage.Document, error) {
	f := storeFilters(d, job.table)

	if job.phase == "vector" {
		if !r.budget.take() {
			return nil, nil
		}
		rows, err := e.store.VectorSearch(ctx, job.table, vec, fetch, f)
		if err != nil {
			return nil, fmt.Errorf("vector search %s: %w", job.table, err)
		}
		return rows, nil
	}

	terms := sc.KeywordTerms(e.cfg.KeywordMaxTerms)
	if len(terms) == 0 {
		return nil, nil
	}
	if !r.budget.take() {
		return nil, nil
	}
	rows, err := e.store.TextSearch(ctx, job.table, terms, fetch, f)
	if err != nil {
		return nil, fmt.Errorf("text search %s: %w", job.table, err)
	}
	if job.table == storage.TableGuides && sc.IntentOnly() && sc.StrictGuideFilter() {
		rows = strictGuideRows(rows, sc.GuideTerms(), len(sc.CardValues) == 0)
	}
	return rows, nil
}

// embed returns the query vector, embedding at most once per request. A
// provider failure disables the vector phase only.
func (e *Engine) embed(ctx context.Context, r *run, text string) []float32 {
	if e.embedder == nil {
		return nil
	}
	if r.vec != nil && r.vecText == text {
		return r.vec
	}
	vec, err := e.embedder.EmbedSingle(ctx, text)
	if err != nil {
		e.logger.Warn().Err(err).Str("query_fp", fingerprint(r.query)).Msg("Failed to generate query embedding, skipping vector search")
		return nil
	}
	r.vec, r.vecText = vec, text
	return vec
}

// storeFilters maps decision filters onto the store predicates of a table.
func storeFilters(d routing.Decision, table storage.Table) storage.SearchFilters {
	f := storage.SearchFilters{
		ExcludeTitleTerms: d.Filters.ExcludeTitleTerms,
		CardNames:         d.Filters.CardNames,
		RequireCardMatch:  d.Filters.RequireCardMatch,
	}
	if table == storage.TableGuides {
		f.Sources = d.Filters.ScopeFilter.GuideSources()
		f.IDPrefix = d.Filters.IDPrefix
	}
	if d.Route == routing.RouteCardInfo && table == storage.TableCards && len(d.Filters.CardNames) > 0 {
		f.RequireCardMatch = true
	}
	return f
}

// strictGuideRows keeps the rows containing a guide term and, without a
// named card, the generic rows. Either filter is skipped when it would
// leave nothing.
func strictGuideRows(rows []storage.Document, terms []string, preferGeneric bool) []storage.Document {
	var matched []storage.Document
	for _, d := range rows {
		text := d.Title + " " + d.Content
		if countIn(text, terms) > 0 || countIn(matchKey(text), keysOf(terms)) > 0 {
			matched = append(matched, d)
		}
	}
	if len(matched) > 0 {
		rows = matched
	}
	if preferGeneric {
		var generic []storage.Document
		for _, d := range rows {
			if d.CardName == "" {
				generic = append(generic, d)
			}
		}
		if len(generic) > 0 {
			rows = generic
		}
	}
	return rows
}

func keysOf(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if k := matchKey(t); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func scopeTables(s routing.Scope) []storage.Table {
	var out []storage.Table
	if s.IncludesCards() {
		out = append(out, storage.TableCards)
	}
	if s.IncludesGuides() {
		out = append(out, storage.TableGuides)
	}
	return out
}
