// Package client provides the HTTP fetch primitive for the MIT registry
// with throttling, optional caching, and error classification.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/mit-registry-export/pkg/cache"
	"github.com/Sternrassler/mit-registry-export/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the OpenTelemetry instrumentation name used for fetch spans.
const TracerName = "github.com/Sternrassler/mit-registry-export/pkg/client"

// Prometheus metrics for registry fetches.
var (
	mitRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mit_requests_total",
		Help: "Total registry requests by kind and status",
	}, []string{"kind", "status"})

	mitRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mit_request_duration_seconds",
		Help:    "Registry request duration in seconds by kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	mitErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mit_errors_total",
		Help: "Total registry fetch failures by class",
	}, []string{"class"})
)

// Request kinds used as the "kind" metric label.
const (
	KindCount  = "count"
	KindPage   = "page"
	KindDetail = "detail"
)

// Request describes one GET against the registry.
type Request struct {
	// URL is the absolute endpoint without query string.
	URL string

	// Query is appended to URL when non-empty.
	Query url.Values

	// Kind labels the request in metrics and logs.
	Kind string

	// Cache allows the response to be served from and stored in the cache.
	Cache bool
}

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single request, including reading the body.
	Timeout time.Duration

	// Throttle is waited on before every network request. Nil disables it.
	Throttle *ratelimit.Throttle

	// Cache serves and stores responses for requests with Cache set.
	// Nil disables caching.
	Cache *cache.Manager

	// Transport overrides the HTTP transport (tests use httpmock).
	Transport http.RoundTripper

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration with a 30 second timeout.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// Client fetches JSON documents from the registry.
type Client struct {
	httpClient *http.Client
	throttle   *ratelimit.Throttle
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// New creates a registry client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	logger := log.With().Str("component", "client").Logger()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "client").Logger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		throttle: cfg.Throttle,
		cache:    cfg.Cache,
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer(TracerName),
	}, nil
}

// Fetch performs a single GET and returns the body of a 200 response
// holding valid JSON. Any other outcome is a *FetchError, or the context
// error when ctx is done. Fetch never retries; see Retry.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	kind := req.Kind
	if kind == "" {
		kind = "other"
	}

	target, err := buildURL(req.URL, req.Query)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "registry.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mit.kind", kind),
			attribute.String("http.url", target),
		),
	)
	defer span.End()

	var key cache.CacheKey
	useCache := req.Cache && c.cache != nil
	if useCache {
		key = cache.NewKey(req.URL, req.Query)
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			span.SetAttributes(attribute.Bool("mit.cache_hit", true))
			span.SetStatus(codes.Ok, "")
			mitRequestsTotal.WithLabelValues(kind, "cached").Inc()
			c.logger.Debug().Str("url", target).Msg("Served from cache")
			return entry.Data, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("url", target).Msg("Cache get error")
		}
	}

	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}
	}

	body, err := c.do(ctx, kind, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if class := ClassOf(err); class != "" {
			span.SetAttributes(attribute.String("mit.error_class", string(class)))
		}
		return nil, err
	}
	span.SetStatus(codes.Ok, "")

	if useCache {
		if err := c.cache.Set(ctx, key, body); err != nil {
			c.logger.Warn().Err(err).Str("url", target).Msg("Failed to cache response")
		}
	}
	return body, nil
}

// do issues the request and validates the response.
func (c *Client) do(ctx context.Context, kind, target string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		mitRequestDuration.WithLabelValues(kind).Observe(time.Since(startTime).Seconds())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("kind", kind).
		Str("url", target).
		Msg("Executing registry request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.fail(kind, &FetchError{
			URL:        target,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}, "network_error")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.fail(kind, &FetchError{
			URL:        target,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}, "network_error")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(kind, &FetchError{
			URL:        target,
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}, strconv.Itoa(resp.StatusCode))
	}

	if !json.Valid(body) {
		return nil, c.fail(kind, &FetchError{
			URL:        target,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "response body is not valid JSON",
		}, "invalid_json")
	}

	mitRequestsTotal.WithLabelValues(kind, "200").Inc()
	return body, nil
}

// fail records metrics and logs for a failed fetch.
func (c *Client) fail(kind string, fe *FetchError, status string) error {
	mitErrorsTotal.WithLabelValues(string(fe.ErrorClass)).Inc()
	mitRequestsTotal.WithLabelValues(kind, status).Inc()

	c.logger.Warn().
		Str("kind", kind).
		Str("url", fe.URL).
		Int("status", fe.StatusCode).
		Str("error_class", string(fe.ErrorClass)).
		Err(fe.Err).
		Msg("Registry request failed")
	return fe
}

func buildURL(base string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", base, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for name, values := range query {
			for _, v := range values {
				q.Add(name, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the cache manager, or nil when caching is disabled.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}
