// Package identity talks to the identity provider: token introspection,
// refresh, third-party token exchange and login state creation.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/metrics"
)

const (
	tracerName = "github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/identity"

	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
	defaultBackoff  = time.Second

	maxResponseBytes = 1 << 20
)

// Client calls the directory API and the auth API.
type Client struct {
	directoryURL string
	authURL      string

	httpClient *http.Client
	timeout    time.Duration
	attempts   int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error

	tracer  trace.Tracer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each HTTP attempt (default: 10s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries sets the maximum number of exchange attempts (default: 3).
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithBackoff sets the delay before the second exchange attempt. Later
// delays double (default: 1s).
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

// WithSleep replaces the backoff wait. Tests use it to record delays
// instead of waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithTracer sets the tracer (default: the global tracer provider).
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithMetrics records call counts and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client. directoryURL serves refresh, exchange and state
// creation; authURL serves introspection.
func New(directoryURL, authURL string, opts ...Option) *Client {
	c := &Client{
		directoryURL: strings.TrimRight(directoryURL, "/"),
		authURL:      strings.TrimRight(authURL, "/"),
		httpClient:   http.DefaultClient,
		timeout:      defaultTimeout,
		attempts:     defaultAttempts,
		backoff:      defaultBackoff,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// post sends body as JSON to url and returns the status and response body.
// err is only set for transport-level failures.
func (c *Client) post(ctx context.Context, url string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "identity."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("identity.operation", operation)),
	)
}

// finish closes span and records the call outcome.
func (c *Client) finish(span trace.Span, operation string, start time.Time, status int, err error) {
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	result := "ok"
	if err != nil {
		result = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	c.metrics.IdentityCall(operation, result, time.Since(start))
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
