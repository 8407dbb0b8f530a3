// Package metrics holds the prometheus collectors for the token lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the collectors.
type Config struct {
	// Namespace prefixes every metric name (default: "directory_auth").
	Namespace string

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is where collectors are registered.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the prometheus registry. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "directory_auth",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	identityCalls    *prometheus.CounterVec
	identityDuration *prometheus.HistogramVec
	exchangeAttempts prometheus.Histogram
	gateDecisions    *prometheus.CounterVec
	fetchRefreshes   *prometheus.CounterVec
	logoutEvents     *prometheus.CounterVec
	sweptSessions    prometheus.Counter

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)
	ns := config.Namespace

	return &Metrics{
		identityCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "identity_calls_total",
			Help:      "Calls to the identity provider by operation and result.",
		}, []string{"operation", "result"}),

		identityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "identity_call_duration_seconds",
			Help:      "Identity provider call latency in seconds, retries included.",
			Buckets:   config.Buckets,
		}, []string{"operation"}),

		exchangeAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "exchange_attempts",
			Help:      "Attempts used per third-party token exchange.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),

		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "gate_decisions_total",
			Help:      "Edge gate decisions by outcome.",
		}, []string{"outcome"}),

		fetchRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "fetch_refreshes_total",
			Help:      "Refreshes triggered by authenticated fetches by result.",
		}, []string{"result"}),

		logoutEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "logout_events_total",
			Help:      "Logout broadcasts by reason.",
		}, []string{"reason"}),

		sweptSessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "swept_sessions_total",
			Help:      "Expired server-side sessions purged.",
		}),

		httpInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   config.Buckets,
		}, []string{"method", "route", "status"}),
	}
}

// IdentityCall records one identity provider operation.
func (m *Metrics) IdentityCall(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.identityCalls.WithLabelValues(operation, result).Inc()
	m.identityDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ExchangeAttempts records how many attempts an exchange used.
func (m *Metrics) ExchangeAttempts(n int) {
	if m == nil {
		return
	}
	m.exchangeAttempts.Observe(float64(n))
}

// GateDecision counts one gate outcome.
func (m *Metrics) GateDecision(outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(outcome).Inc()
}

// FetchRefresh counts one refresh attempted on behalf of a fetch.
func (m *Metrics) FetchRefresh(result string) {
	if m == nil {
		return
	}
	m.fetchRefreshes.WithLabelValues(result).Inc()
}

// Logout counts one logout broadcast.
func (m *Metrics) Logout(reason string) {
	if m == nil {
		return
	}
	m.logoutEvents.WithLabelValues(reason).Inc()
}

// Swept adds n purged sessions.
func (m *Metrics) Swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptSessions.Add(float64(n))
}

// Instrument measures request count, latency and in-flight requests. The
// route label is the chi route pattern so path parameters do not explode
// cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// Handler serves the metrics in gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
