// Package weather fetches current conditions from OpenWeather and turns them
// into a short human summary.
package weather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/resilience"
)

// DefaultBaseURL is the OpenWeather current weather endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// Conditions are the current conditions for a city.
type Conditions struct {
	City        string
	Description string
	TempC       float64
	// Raw is the decoded provider payload.
	Raw map[string]any
}

// Provider returns current conditions. *Client implements it.
type Provider interface {
	Current(ctx context.Context, city string) (*Conditions, error)
}

// Client queries OpenWeather in metric units.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
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

// WithRetry sets the retry policy.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = rc
	}
}

// WithCircuitBreaker stops calling OpenWeather while cb is open.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// New creates an OpenWeather client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type payload struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
}

// Current fetches conditions for city.
func (c *Client) Current(ctx context.Context, city string) (*Conditions, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, errors.New(errors.CodeInvalidInput, "empty city", nil)
	}
	return resilience.CallValue(ctx, c.breaker, func(ctx context.Context) (*Conditions, error) {
		return resilience.DoValue(ctx, c.retry, func(ctx context.Context) (*Conditions, error) {
			return c.fetch(ctx, city)
		})
	})
}

func (c *Client) fetch(ctx context.Context, city string) (*Conditions, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "build weather request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "weather request failed", err).WithRecoverable(ctx.Err() == nil)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "read weather response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("openweather", resp, body).WithContext("city", city)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.New(errors.CodeToolFailure, "decode weather response", err)
	}
	if len(p.Weather) == 0 || p.Main.Temp == nil {
		return nil, errors.New(errors.CodeToolFailure, "weather response lacks description or temperature", nil).WithContext("city", city)
	}
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	return &Conditions{
		City:        city,
		Description: p.Weather[0].Description,
		TempC:       *p.Main.Temp,
		Raw:         raw,
	}, nil
}
