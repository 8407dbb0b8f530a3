// Package gate runs the per-request token lifecycle at the edge: validate
// the access token, refresh it when needed and clear credentials that can
// no longer be renewed.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/identity"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/metrics"
)

// Outcome is the terminal state of one evaluation.
type Outcome int

const (
	// PassThrough forwards the bundle unchanged.
	PassThrough Outcome = iota
	// Refreshed forwards a newly issued bundle that has been persisted.
	Refreshed
	// Cleared forwards an empty bundle after wiping all credentials.
	Cleared
)

func (o Outcome) String() string {
	switch o {
	case PassThrough:
		return "pass_through"
	case Refreshed:
		return "refreshed"
	case Cleared:
		return "cleared"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reasons recorded on a Decision.
const (
	ReasonAnonymous        = "no_refresh_token"
	ReasonAccessTokenValid = "access_token_valid"
	ReasonRefreshed        = "refreshed"
	ReasonRefreshFailed    = "refresh_failed"
	ReasonStoreReadFailed  = "store_read_failed"
	ReasonStoreWriteFailed = "store_write_failed"
	ReasonPanic            = "panic"
)

// Decision is the result of evaluating one request.
type Decision struct {
	Outcome Outcome
	Bundle  credential.Bundle
	// LoggedIn is the derived flag downstream code reads. It is true for
	// PassThrough with credentials and for Refreshed.
	LoggedIn bool
	Reason   string
}

// Identity is the part of the identity client the gate needs.
type Identity interface {
	Introspect(ctx context.Context, accessToken string) identity.Validity
	Refresh(ctx context.Context, refreshToken string) (credential.Bundle, error)
}

const defaultTimeout = 10 * time.Second

// Gate evaluates credentials for each request.
type Gate struct {
	idp          Identity
	opts         credential.CookieOptions
	stores       credential.RequestStoreFunc
	timeout      time.Duration
	skipPrefixes []string
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithStores sets how the store for a request is built (default: cookie
// EdgeStores).
func WithStores(stores credential.RequestStoreFunc) Option {
	return func(g *Gate) {
		g.stores = stores
	}
}

// WithTimeout bounds introspection and refresh together (default: 10s).
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		g.timeout = d
	}
}

// WithSkipPrefixes lists path prefixes the middleware does not gate.
func WithSkipPrefixes(prefixes ...string) Option {
	return func(g *Gate) {
		g.skipPrefixes = append(g.skipPrefixes, prefixes...)
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithMetrics counts decisions by outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// New creates a Gate. opts names the cookies, including the isLoggedIn flag.
func New(idp Identity, opts credential.CookieOptions, options ...Option) *Gate {
	g := &Gate{
		idp:     idp,
		opts:    opts,
		timeout: defaultTimeout,
	}
	for _, opt := range options {
		opt(g)
	}
	if g.stores == nil {
		g.stores = credential.EdgeStores(opts)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Evaluate runs the state machine against store. It never panics and never
// returns an error: every failure degrades to Cleared.
func (g *Gate) Evaluate(ctx context.Context, store credential.Store) (d Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.ErrorContext(ctx, "panic during credential evaluation", "panic", rec)
			d = g.clear(ctx, store, ReasonPanic)
		}
	}()

	b, err := store.Read(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "reading credentials failed", "error", err)
		return g.clear(ctx, store, ReasonStoreReadFailed)
	}
	if !b.LoggedIn() {
		return Decision{Outcome: PassThrough, Bundle: b, Reason: ReasonAnonymous}
	}

	authCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		authCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if b.AccessToken != "" && g.idp.Introspect(authCtx, b.AccessToken) == identity.Valid {
		return Decision{Outcome: PassThrough, Bundle: b, LoggedIn: true, Reason: ReasonAccessTokenValid}
	}

	fresh, err := g.idp.Refresh(authCtx, b.RefreshToken)
	if err != nil {
		return g.clear(ctx, store, ReasonRefreshFailed)
	}
	if err := store.Write(ctx, fresh); err != nil {
		g.logger.WarnContext(ctx, "persisting refreshed credentials failed", "error", err)
		return g.clear(ctx, store, ReasonStoreWriteFailed)
	}
	return Decision{Outcome: Refreshed, Bundle: fresh, LoggedIn: true, Reason: ReasonRefreshed}
}

// clear wipes the store. A failing or panicking Clear is logged and the
// decision is still Cleared.
func (g *Gate) clear(ctx context.Context, store credential.Store, reason string) Decision {
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.ErrorContext(ctx, "panic while clearing credentials", "panic", rec)
			}
		}()
		if err := store.Clear(ctx); err != nil {
			g.logger.WarnContext(ctx, "clearing credentials failed", "error", err)
		}
	}()
	return Decision{Outcome: Cleared, Reason: reason}
}

// Middleware evaluates every request that is not skipped, maintains the
// isLoggedIn flag cookie and stores the Decision in the request context. It
// never writes an error response.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		store := g.stores(w, r)
		d := g.Evaluate(r.Context(), store)

		switch {
		case d.Outcome == Cleared:
			credential.ClearLoggedIn(w, g.opts)
		case d.LoggedIn:
			credential.SetLoggedIn(w, g.opts, d.Bundle.RefreshToken)
		}
		g.record(r, d)

		// Edge stores rewrite the request so downstream handlers see new cookies.
		if fwd, ok := store.(interface{ Request() *http.Request }); ok {
			r = fwd.Request()
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), d)))
	})
}

func (g *Gate) skipped(path string) bool {
	for _, prefix := range g.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) record(r *http.Request, d Decision) {
	g.metrics.GateDecision(d.Outcome.String())
	if d.Reason == ReasonAnonymous {
		return
	}

	attrs := []any{
		"outcome", d.Outcome.String(),
		"reason", d.Reason,
		"path", r.URL.Path,
	}
	if d.Bundle.UserInfo != nil {
		attrs = append(attrs, "uid", d.Bundle.UserInfo.UID)
	}
	level := slog.LevelDebug
	if d.Outcome != PassThrough {
		level = slog.LevelInfo
	}
	g.logger.Log(r.Context(), level, "credential gate decision", attrs...)
}
