package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/voyagen/releasecal/internal/metrics"
)

const (
	defaultBaseURL     = "https://api.themoviedb.org/3"
	defaultHTTPTimeout = 30 * time.Second
	defaultRate        = 20
	maxBodyBytes       = 8 << 20
)

// Endpoint labels used in logs and metrics.
const (
	EndpointShow   = "show"
	EndpointSeason = "season"
	EndpointSearch = "search"
)

var (
	// ErrUpstreamUnavailable matches every transport, timeout, malformed body and
	// non-2xx failure. Such failures are retryable by the caller.
	ErrUpstreamUnavailable = errors.New("metadata provider unavailable")
	// ErrNotFound is returned when the provider answers 404.
	ErrNotFound = errors.New("not found at metadata provider")
)

// UpstreamError describes a failed provider request. It matches ErrUpstreamUnavailable.
type UpstreamError struct {
	Endpoint   string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tmdb %s: HTTP %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tmdb %s: %v", e.Endpoint, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

// IsRetryable reports whether err is a provider failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	Token             string // TMDB API read access token, sent as a bearer credential
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client is a TMDB v3 HTTP client. It never retries; callers decide retry policy.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a TMDB client. m may be nil.
func NewClient(cfg Config, log zerolog.Logger, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRate
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		log:     log.With().Str("component", "tmdb").Logger(),
		metrics: m,
	}
}

// FetchShow fetches show details, including the season list.
func (c *Client) FetchShow(ctx context.Context, showID int) (Validated[Show], error) {
	return fetch[Show](ctx, c, EndpointShow, fmt.Sprintf("/tv/%d", showID), nil)
}

// FetchSeason fetches one season of a show with its episodes.
func (c *Client) FetchSeason(ctx context.Context, showID, seasonNumber int) (Validated[Season], error) {
	return fetch[Season](ctx, c, EndpointSeason, fmt.Sprintf("/tv/%d/season/%d", showID, seasonNumber), nil)
}

// SearchShows searches TV shows by name. page starts at 1; values below 1 mean 1.
func (c *Client) SearchShows(ctx context.Context, query string, page int) (Validated[SearchResults], error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Validated[SearchResults]{}, fmt.Errorf("search query is required")
	}
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("include_adult", "false")
	return fetch[SearchResults](ctx, c, EndpointSearch, "/search/tv", q)
}

// fetch performs the request and decodes it. Shape mismatches are logged and the
// best-effort value is returned without error.
func fetch[T any](ctx context.Context, c *Client, endpoint, path string, query url.Values) (Validated[T], error) {
	body, err := c.get(ctx, endpoint, path, query)
	if err != nil {
		return Validated[T]{}, err
	}
	v, err := decode[T](body)
	if err != nil {
		return Validated[T]{}, &UpstreamError{Endpoint: endpoint, Err: err}
	}
	if !v.OK() {
		c.metrics.ValidationMismatches.WithLabelValues(endpoint).Inc()
		c.log.Warn().
			Str("endpoint", endpoint).
			Str("path", path).
			Strs("issues", v.Issues).
			Msg("response does not match expected shape, using best-effort data")
	}
	return v, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Endpoint: endpoint, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, &UpstreamError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("tmdb %s %s: %w", endpoint, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var tmdbErr errorResponse
		_ = json.Unmarshal(body, &tmdbErr)
		msg := tmdbErr.StatusMessage
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
	return body, nil
}
