// Package mealdb queries the public TheMealDB recipe API.
//
// Two layers are exposed. Search and Lookup report failures as errors
// wrapping ErrUpstream. The By* helpers, CombinedSearch and FetchAllLetters
// log failures and collapse them to an empty result, so "no match" and
// "request failed" look the same to their callers.
package mealdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0xReLogic/recettes/internal/circuitbreaker"
	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/metrics"
)

const (
	// DefaultBaseURL is the free public endpoint of TheMealDB
	DefaultBaseURL = "https://www.themealdb.com/api/json/v1/1"

	maxBodyBytes = 8 << 20
	userAgent    = "recettes/1.0"
)

// ErrUpstream marks every failure of an external call: transport, status or decoding.
var ErrUpstream = errors.New("recipe api call failed")

// StatusError reports a non-2xx answer from the recipe API
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Kind is one of the lookups the recipe API supports
type Kind int

const (
	KindLetter Kind = iota
	KindName
	KindIngredient
	KindCountry
	KindID
)

var kindNames = [...]string{"letter", "name", "ingredient", "country", "id"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Endpoint returns the API path and query parameter used for the kind
func (k Kind) Endpoint() (path, param string) {
	switch k {
	case KindLetter:
		return "search.php", "f"
	case KindName:
		return "search.php", "s"
	case KindIngredient:
		return "filter.php", "i"
	case KindCountry:
		return "filter.php", "a"
	case KindID:
		return "lookup.php", "i"
	default:
		return "", ""
	}
}

// Observer receives one observation per upstream call
type Observer interface {
	ObserveUpstream(kind, outcome string, d time.Duration)
}

// Client talks to the recipe API
type Client struct {
	baseURL        *url.URL
	httpClient     *http.Client
	breaker        *circuitbreaker.CircuitBreaker
	observer       Observer
	fanOut         bool
	maxConcurrency int
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for upstream calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every upstream call; zero keeps the client default
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithBreaker guards upstream calls with a circuit breaker
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// WithObserver reports every upstream call
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithFanOut runs the sub-queries of CombinedSearch and FetchAllLetters
// concurrently, at most limit at a time. Output is the same as sequential.
func WithFanOut(enabled bool, limit int) Option {
	return func(c *Client) {
		c.fanOut = enabled
		if limit > 0 {
			c.maxConcurrency = limit
		}
	}
}

// New creates a client for the API rooted at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid recipe api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid recipe api url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:        u,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		maxConcurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns a copy of the API root
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Breaker returns the circuit breaker guarding the client, if any
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// Search runs one query and returns the meals in API order.
// No match yields an empty, non-nil slice and a nil error.
func (c *Client) Search(ctx context.Context, kind Kind, value string) ([]Meal, error) {
	path, _ := kind.Endpoint()
	if path == "" {
		return nil, fmt.Errorf("unsupported query kind %d", int(kind))
	}

	start := time.Now()
	var meals []Meal
	call := func(ctx context.Context) error {
		var err error
		meals, err = c.fetch(ctx, kind, value)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	if c.observer != nil {
		c.observer.ObserveUpstream(kind.String(), outcome(meals, err), time.Since(start))
	}

	if err != nil {
		// breaker rejections and cancellations arrive unwrapped
		if !errors.Is(err, ErrUpstream) {
			err = fmt.Errorf("%w: %s %q: %w", ErrUpstream, kind, value, err)
		}
		return nil, err
	}
	return meals, nil
}

// Lookup fetches the full record of one meal. found is false when the API
// knows no meal with that id.
func (c *Client) Lookup(ctx context.Context, id string) (meal Meal, found bool, err error) {
	meals, err := c.Search(ctx, KindID, id)
	if err != nil {
		return Meal{}, false, err
	}
	if len(meals) == 0 {
		return Meal{}, false, nil
	}
	return meals[0], true, nil
}

// ByLetter returns the meals whose name starts with letter
func (c *Client) ByLetter(ctx context.Context, letter string) []Meal {
	return c.collapse(ctx, KindLetter, letter)
}

// ByName returns the meals whose name matches query
func (c *Client) ByName(ctx context.Context, query string) []Meal {
	return c.collapse(ctx, KindName, query)
}

// ByIngredient returns the meals using ingredient
func (c *Client) ByIngredient(ctx context.Context, ingredient string) []Meal {
	return c.collapse(ctx, KindIngredient, ingredient)
}

// ByCountry returns the meals of a cuisine, e.g. "Canadian"
func (c *Client) ByCountry(ctx context.Context, country string) []Meal {
	return c.collapse(ctx, KindCountry, country)
}

// ByID returns the meal with the given id. A failed call is reported as absent.
func (c *Client) ByID(ctx context.Context, id string) (Meal, bool) {
	meal, found, err := c.Lookup(ctx, id)
	if err != nil {
		logFailure(ctx, KindID, id, err)
		return Meal{}, false
	}
	return meal, found
}

func (c *Client) collapse(ctx context.Context, kind Kind, value string) []Meal {
	meals, err := c.Search(ctx, kind, value)
	if err != nil {
		logFailure(ctx, kind, value, err)
		return []Meal{}
	}
	return meals
}

func logFailure(ctx context.Context, kind Kind, value string, err error) {
	logging.WithContext(ctx).Error().
		Err(err).
		Str("kind", kind.String()).
		Str("query", value).
		Msg("recipe api lookup failed")
}

func (c *Client) endpoint(kind Kind, value string) string {
	path, param := kind.Endpoint()
	u := c.baseURL.JoinPath(path)
	u.RawQuery = url.Values{param: []string{value}}.Encode()
	return u.String()
}

type envelope struct {
	Meals []Meal `json:"meals"`
}

func (c *Client) fetch(ctx context.Context, kind Kind, value string) ([]Meal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(kind, value), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: build request: %w", ErrUpstream, kind, value, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %w", ErrUpstream, kind, value, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s %q: %w", ErrUpstream, kind, value, &StatusError{Code: resp.StatusCode})
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %s %q: decode response: %w", ErrUpstream, kind, value, err)
	}
	if env.Meals == nil {
		return []Meal{}, nil
	}
	return env.Meals, nil
}

func outcome(meals []Meal, err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return metrics.OutcomeRejects
	case err != nil:
		return metrics.OutcomeError
	case len(meals) == 0:
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeOK
	}
}

// IsBreakerFailure reports whether err should count against the circuit.
// Client-side statuses (4xx) and cancellations say nothing about upstream health.
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
		return false
	}
	return true
}

// NormalizeLetter lower-cases a single-letter query; ok is false for
// anything other than one ASCII letter.
func NormalizeLetter(s string) (letter string, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 1 || s[0] < 'a' || s[0] > 'z' {
		return "", false
	}
	return s, true
}
