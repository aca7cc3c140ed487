// Package engine provides the public Go SDK for the card retrieval API.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// ErrStoreUnreachable is returned by Search when the server could not reach
// its document store. The response still carries the clarification message.
var ErrStoreUnreachable = errors.New("document store unreachable")

// Client is the public SDK client for the card retrieval API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
	HTTPClient *http.Client
}

// NewClient creates a new client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8086"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Decision is the routing outcome of a query.
type Decision struct {
	Route            string         `json:"route"`
	Scope            string         `json:"scope"`
	ShouldSearch     bool           `json:"shouldSearch"`
	RetrievalMode    string         `json:"retrievalMode"`
	DomainConfidence float64        `json:"domainConfidence"`
	AppliedRules     []string       `json:"appliedRules,omitempty"`
	QueryTemplate    string         `json:"queryTemplate,omitempty"`
	Filters          map[string]any `json:"filters,omitempty"`
}

// Document is a ranked document.
type Document struct {
	Table    string         `json:"table"`
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Category string         `json:"category,omitempty"`
	CardName string         `json:"card_name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
	Pinned   bool           `json:"pinned,omitempty"`
}

// Key identifies the document for the answer cache.
func (d Document) Key() string {
	return d.Table + ":" + d.ID
}

// ConsultCase is a similar historical consultation.
type ConsultCase struct {
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Title    string  `json:"title,omitempty"`
	Summary  string  `json:"summary,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// ConsultHints are guidance lines for the answer generator.
type ConsultHints struct {
	FlowSteps []string `json:"flow_steps,omitempty"`
	Questions []string `json:"common_questions,omitempty"`
}

// SearchResponse is the search result.
type SearchResponse struct {
	Query            string        `json:"query"`
	Decision         Decision      `json:"decision"`
	Documents        []Document    `json:"documents"`
	ConsultDocuments []ConsultCase `json:"consult_documents,omitempty"`
	ConsultHints     ConsultHints  `json:"consult_hints"`
	CacheStatus      string        `json:"cache_status"`
	Message          string        `json:"message,omitempty"`
	Failure          string        `json:"failure,omitempty"`
	LatencyMs        int64         `json:"latency_ms"`
	RequestID        string        `json:"-"`
}

// DocKeys returns the document keys in rank order.
func (r *SearchResponse) DocKeys() []string {
	keys := make([]string, len(r.Documents))
	for i, d := range r.Documents {
		keys[i] = d.Key()
	}
	return keys
}

// AnswerRequest returns the answer cache key for this result and model.
func (r *SearchResponse) AnswerRequest(model string) AnswerRequest {
	return AnswerRequest{
		Query:    r.Query,
		Template: r.Decision.QueryTemplate,
		Route:    r.Decision.Route,
		Scope:    r.Decision.Scope,
		Filters:  r.Decision.Filters,
		DocKeys:  r.DocKeys(),
		Model:    model,
	}
}

// Answer is a cached generated answer.
type Answer struct {
	Text      string         `json:"text"`
	Model     string         `json:"model"`
	DocKeys   []string       `json:"doc_keys"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AnswerRequest identifies an answer; Text and Metadata are used when storing.
type AnswerRequest struct {
	Query    string         `json:"query"`
	Template string         `json:"template,omitempty"`
	Route    string         `json:"route,omitempty"`
	Scope    string         `json:"scope,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
	DocKeys  []string       `json:"docKeys"`
	Model    string         `json:"model"`
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Search routes and searches query.
func (c *Client) Search(ctx context.Context, query string) (*SearchResponse, error) {
	var out SearchResponse
	status, reqID, err := c.call(ctx, http.MethodPost, "/api/v1/search", map[string]string{"query": query}, &out, http.StatusServiceUnavailable)
	if err != nil {
		return nil, err
	}
	out.RequestID = reqID
	if status == http.StatusServiceUnavailable {
		return &out, ErrStoreUnreachable
	}
	return &out, nil
}

// Route returns the routing decision without searching.
func (c *Client) Route(ctx context.Context, query string) (*Decision, error) {
	var out Decision
	if _, _, err := c.call(ctx, http.MethodPost, "/api/v1/route", map[string]string{"query": query}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupAnswer returns the cached answer, or nil on a miss.
func (c *Client) LookupAnswer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	var out struct {
		CacheStatus string  `json:"cacheStatus"`
		Answer      *Answer `json:"answer"`
	}
	if _, _, err := c.call(ctx, http.MethodPost, "/api/v1/answers/lookup", req, &out, http.StatusNotFound); err != nil {
		return nil, err
	}
	return out.Answer, nil
}

// StoreAnswer caches a generated answer for the exact retrieval outcome.
func (c *Client) StoreAnswer(ctx context.Context, req AnswerRequest) error {
	_, _, err := c.call(ctx, http.MethodPut, "/api/v1/answers", req, nil)
	return err
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
}

// Health checks the service liveness.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if _, _, err := c.call(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call sends one request, retrying transport failures and 5xx responses.
// Statuses in accept are decoded into out like a 2xx.
func (c *Client) call(ctx context.Context, method, path string, in, out any, accept ...int) (int, string, error) {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return 0, "", fmt.Errorf("marshal request: %w", err)
		}
	}
	reqID := uuid.NewString()

	var status int
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", reqID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		status = resp.StatusCode

		accepted := status < 300
		for _, s := range accept {
			accepted = accepted || status == s
		}
		if !accepted {
			apiErr := &APIError{Status: status}
			_ = json.Unmarshal(raw, apiErr)
			if status >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return status, reqID, err
	}
	return status, reqID, nil
}
