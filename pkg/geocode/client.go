// Package geocode resolves company queries to coordinates through the Google
// Geocoding API under a daily call quota.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/resilience"
)

var (
	// ErrQuotaExceeded is returned when the daily call quota is spent. No
	// request is sent.
	ErrQuotaExceeded = eris.New("geocode: daily quota exceeded")

	// ErrRetriesExhausted is matched by errors.Is when every attempt failed
	// with a transient error.
	ErrRetriesExhausted = eris.New("geocode: retries exhausted")

	// ErrNoAPIKey is returned when the client has no API key.
	ErrNoAPIKey = eris.New("geocode: api key not configured")
)

// Client geocodes company queries.
type Client interface {
	// Geocode resolves a company query. A query the provider cannot place
	// returns a Result with Matched false and a nil error.
	Geocode(ctx context.Context, q Query) (*Result, error)

	// Reverse resolves coordinates to the nearest address.
	Reverse(ctx context.Context, lat, lng float64) (*Result, error)

	// Usage reports quota consumption for the current window.
	Usage() Usage
}

// Query is one geocoding request.
type Query struct {
	Company  string
	SiteHint string // free text such as "Pune, India"
	Country  string // ISO-2, restricts results when set
}

// Text is the address string sent to the provider.
func (q Query) Text() string {
	company := strings.TrimSpace(q.Company)
	if site := strings.TrimSpace(q.SiteHint); site != "" {
		return company + ", " + site
	}
	return company
}

// Result is the provider's best candidate.
type Result struct {
	FormattedAddress   string
	Latitude           float64
	Longitude          float64
	LocationType       string // ROOFTOP, RANGE_INTERPOLATED, GEOMETRIC_CENTER, APPROXIMATE
	Types              []string
	PartialMatch       bool
	PlaceID            string
	Components         model.Components
	ProviderConfidence float64
	Matched            bool
}

// ExhaustedError carries the last failure after the retry budget is spent.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("geocode: retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is makes errors.Is(err, ErrRetriesExhausted) hold.
func (e *ExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// ProviderError is a permanent error status from the provider.
type ProviderError struct {
	Status  string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "geocode: provider status " + e.Status
	}
	return "geocode: provider status " + e.Status + ": " + e.Message
}

// Outcome labels one HTTP attempt for an AttemptObserver.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeNoResult  Outcome = "zero_results"
	OutcomeTransient Outcome = "transient"
	OutcomeError     Outcome = "error"
	OutcomeRefused   Outcome = "quota_exceeded"
)

// AttemptObserver is told the outcome of every attempt, including refusals.
type AttemptObserver func(op string, outcome Outcome)

// Option configures the client.
type Option func(*google)

// WithAPIKey sets the Google API key.
func WithAPIKey(key string) Option {
	return func(g *google) { g.apiKey = key }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *google) { g.httpClient = hc }
}

// WithBaseURL overrides the geocoding endpoint.
func WithBaseURL(u string) Option {
	return func(g *google) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(g *google) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithQuota sets the quota the client reserves against.
func WithQuota(q *Quota) Option {
	return func(g *google) { g.quota = q }
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(g *google) { g.policy = p }
}

// WithAttemptObserver registers a per-attempt callback.
func WithAttemptObserver(fn AttemptObserver) Option {
	return func(g *google) { g.observe = fn }
}

type google struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	quota      *Quota
	policy     resilience.Policy
	observe    AttemptObserver
}

// NewClient creates a Google geocoding Client.
func NewClient(opts ...Option) Client {
	g := &google{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    googleGeocodeURL,
		limiter:    rate.NewLimiter(10, 10),
		policy:     resilience.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.quota == nil {
		g.quota = NewQuota(DefaultDailyLimit, DefaultWarnAt)
	}
	if g.policy.OnRetry == nil {
		g.policy.OnRetry = resilience.LogRetries("geocode", "google")
	}
	return g
}

func (g *google) Usage() Usage {
	return g.quota.Usage()
}
