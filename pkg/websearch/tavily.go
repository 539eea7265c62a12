// Package websearch queries the Tavily search API.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/resilience"
)

// DefaultBaseURL is the Tavily API endpoint.
const DefaultBaseURL = "https://api.tavily.com"

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is the answer to one query.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Searcher runs web searches. *Client implements it.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (*Response, error)
}

// Client is a rate limited Tavily client with retries on transient errors.
type Client struct {
	baseURL string
	apiKey  string
	depth   string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit bounds outgoing requests to r per second with burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithRetry sets the retry policy.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = rc
	}
}

// WithCircuitBreaker stops calling Tavily while cb is open.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithSearchDepth sets "basic" or "advanced".
func WithSearchDepth(depth string) Option {
	return func(c *Client) {
		if depth != "" {
			c.depth = depth
		}
	}
}

// New creates a Tavily client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		depth:   "basic",
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

// Search runs one query.
func (c *Client) Search(ctx context.Context, query string, maxResults int) (*Response, error) {
	if query == "" {
		return nil, errors.New(errors.CodeInvalidInput, "empty search query", nil)
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	body, err := json.Marshal(searchRequest{Query: query, SearchDepth: c.depth, MaxResults: maxResults})
	if err != nil {
		return nil, err
	}

	return resilience.CallValue(ctx, c.breaker, func(ctx context.Context) (*Response, error) {
		return resilience.DoValue(ctx, c.retry, func(ctx context.Context) (*Response, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, errors.New(errors.CodeToolFailure, "search rate limit wait", err)
			}
			return c.do(ctx, query, body)
		})
	})
}

func (c *Client) do(ctx context.Context, query string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "build search request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "search request failed", err).WithRecoverable(ctx.Err() == nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resilience.StatusError("tavily", resp, msg).WithContext("query", query)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New(errors.CodeToolFailure, "decode search response", err)
	}
	if out.Query == "" {
		out.Query = query
	}
	return &out, nil
}
