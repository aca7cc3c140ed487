// Package evaluation runs the retrieval regression suite: each case names the
// route it expects and the document ids that must or must not be returned.
package evaluation

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"gopkg.in/yaml.v3"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/search"
)

// RouteNone expects the query not to be searched at all.
const RouteNone = "none"

// Case is one evaluation case.
type Case struct {
	ID          string   `yaml:"id"`
	Query       string   `yaml:"query"`
	ExpectRoute string   `yaml:"expect_route"`
	MustHave    []string `yaml:"must_have_doc_ids,omitempty"`
	MustNotHave []string `yaml:"must_not_have_doc_ids,omitempty"`
	Notes       string   `yaml:"notes,omitempty"`
}

type suiteFile struct {
	Cases []Case `yaml:"cases"`
}

// LoadCases reads a YAML suite file.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eval cases: %w", err)
	}
	return ParseCases(data)
}

// ParseCases parses and validates a YAML suite.
func ParseCases(data []byte) ([]Case, error) {
	var f suiteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse eval cases: %w", err)
	}

	seen := make(map[string]bool, len(f.Cases))
	for i := range f.Cases {
		c := &f.Cases[i]
		if c.ID == "" {
			c.ID = fmt.Sprintf("case-%03d", i+1)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate eval case id %q", c.ID)
		}
		seen[c.ID] = true
		if strings.TrimSpace(c.Query) == "" {
			return nil, fmt.Errorf("eval case %s: query is required", c.ID)
		}
	}
	return f.Cases, nil
}

// Outcome is the verdict of one case.
type Outcome struct {
	Case         Case     `json:"case"`
	Passed       bool     `json:"passed"`
	RouteOK      bool     `json:"route_ok"`
	Route        string   `json:"route"`
	ShouldSearch bool     `json:"should_search"`
	DocIDs       []string `json:"doc_ids"`
	Missing      []string `json:"missing,omitempty"`
	Forbidden    []string `json:"forbidden,omitempty"`
	Error        string   `json:"error,omitempty"`
	LatencyMs    int64    `json:"latency_ms"`
}

// Check grades a search result against a case.
func Check(c Case, res *search.Result) Outcome {
	out := Outcome{
		Case:         c,
		Route:        string(res.Decision.Route),
		ShouldSearch: res.Decision.ShouldSearch,
		LatencyMs:    res.LatencyMs,
	}

	switch c.ExpectRoute {
	case "":
		out.RouteOK = true
	case RouteNone:
		out.RouteOK = !res.Decision.ShouldSearch
	default:
		out.RouteOK = out.Route == c.ExpectRoute
	}

	out.DocIDs = make([]string, 0, len(res.Documents))
	for _, d := range res.Documents {
		out.DocIDs = append(out.DocIDs, d.ID)
	}
	for _, id := range c.MustHave {
		if !slices.Contains(out.DocIDs, id) {
			out.Missing = append(out.Missing, id)
		}
	}
	for _, id := range c.MustNotHave {
		if slices.Contains(out.DocIDs, id) {
			out.Forbidden = append(out.Forbidden, id)
		}
	}

	out.Passed = out.RouteOK && len(out.Missing) == 0 && len(out.Forbidden) == 0
	return out
}

// Report summarizes a run. Outcomes keep the suite order.
type Report struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Outcomes []Outcome     `json:"outcomes"`
	Duration time.Duration `json:"duration"`
}

// FailedIDs lists the ids of failed cases.
func (r *Report) FailedIDs() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if !o.Passed {
			ids = append(ids, o.Case.ID)
		}
	}
	return ids
}

// Searcher runs one query.
type Searcher interface {
	Search(ctx context.Context, query string) (*search.Result, error)
}

// Runner evaluates cases concurrently on a bounded worker pool.
type Runner struct {
	searcher Searcher
	workers  int
	logger   *observability.Logger
}

// NewRunner creates a runner. workers <= 0 runs one case at a time.
func NewRunner(searcher Searcher, workers int, logger *observability.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Runner{
		searcher: searcher,
		workers:  workers,
		logger:   logger.WithComponent("evaluation"),
	}
}

// Run evaluates every case. onDone, when set, is called from worker
// goroutines as each case finishes and must be safe for concurrent use.
func (r *Runner) Run(ctx context.Context, cases []Case, onDone func(Outcome)) (*Report, error) {
	start := time.Now()

	pool, err := ants.NewPool(r.workers)
	if err != nil {
		return nil, fmt.Errorf("create eval pool: %w", err)
	}
	defer pool.Release()

	results := cmap.New[Outcome]()
	var wg sync.WaitGroup

	for i, c := range cases {
		if ctx.Err() != nil {
			break
		}
		key := strconv.Itoa(i)
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			o := r.runCase(ctx, c)
			results.Set(key, o)
			if onDone != nil {
				onDone(o)
			}
		})
		if err != nil {
			wg.Done()
			results.Set(key, Outcome{Case: c, Error: err.Error()})
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("eval run interrupted: %w", err)
	}

	report := &Report{Total: len(cases), Outcomes: make([]Outcome, 0, len(cases))}
	for i := range cases {
		o, ok := results.Get(strconv.Itoa(i))
		if !ok {
			o = Outcome{Case: cases[i], Error: "not run"}
		}
		if o.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Outcomes = append(report.Outcomes, o)
	}
	report.Duration = time.Since(start)

	r.logger.Info().
		Int("total", report.Total).
		Int("passed", report.Passed).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Evaluation complete")
	return report, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) Outcome {
	res, err := r.searcher.Search(ctx, c.Query)
	if err != nil && res == nil {
		r.logger.Warn().Err(err).Str("case", c.ID).Msg("Eval case failed")
		return Outcome{Case: c, Error: err.Error()}
	}
	o := Check(c, res)
	if err != nil {
		o.Passed = false
		o.Error = err.Error()
		r.logger.Warn().Err(err).Str("case", c.ID).Msg("Eval case degraded")
	}
	return o
}
