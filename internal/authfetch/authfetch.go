// Package authfetch wraps outbound API calls with bearer tokens, renewing
// the access token once when the API answers 401.
package authfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/logout"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/metrics"
)

// ErrLoggedOut is returned when an authenticated call was short-circuited
// because no usable credentials remain. A logout has already been broadcast.
var ErrLoggedOut = errors.New("credentials unavailable, logged out")

// Refresher exchanges a refresh token for a new bundle.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credential.Bundle, error)
}

// Client performs authenticated calls against one credential store.
type Client struct {
	httpClient *http.Client
	store      credential.Store
	refresher  Refresher
	notifier   *logout.Notifier
	group      *singleflight.Group
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client for outbound calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithNotifier sets where logouts are broadcast (default: logout.Default()).
func WithNotifier(n *logout.Notifier) Option {
	return func(c *Client) {
		c.notifier = n
	}
}

// WithoutSingleFlight lets every caller that hits a 401 issue its own
// refresh, with the last write to the store winning.
func WithoutSingleFlight() Option {
	return func(c *Client) {
		c.group = nil
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics counts refreshes and logouts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a Client. Concurrent refreshes of the same refresh token are
// coalesced into one call unless WithoutSingleFlight is given.
func New(store credential.Store, refresher Refresher, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		store:      store,
		refresher:  refresher,
		notifier:   logout.Default(),
		group:      &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, url string, requiresAuth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req, requiresAuth)
}

// Post issues an authenticated POST.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader, requiresAuth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req, requiresAuth)
}

// Do sends req. Without requiresAuth it is a plain passthrough. Otherwise
// the access token is attached as a bearer header and a 401 triggers exactly
// one refresh and retry. Responses other than 401 are returned untouched.
func (c *Client) Do(req *http.Request, requiresAuth bool) (*http.Response, error) {
	if !requiresAuth {
		return c.httpClient.Do(req)
	}
	ctx := req.Context()

	b, err := c.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	if !b.LoggedIn() {
		c.broadcast(ctx, logout.ReasonNoCredentials)
		return nil, ErrLoggedOut
	}

	body, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	if b.AccessToken == "" {
		fresh, err := c.refresh(ctx, b.RefreshToken)
		if err != nil {
			return nil, ErrLoggedOut
		}
		resp, err := c.send(req, body, fresh.AccessToken)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.broadcast(ctx, logout.ReasonUnauthorizedAfterRefresh)
		}
		return resp, nil
	}

	resp, err := c.send(req, body, b.AccessToken)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	fresh, err := c.refresh(ctx, b.RefreshToken)
	if err != nil {
		return nil, ErrLoggedOut
	}
	resp, err = c.send(req, body, fresh.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.broadcast(ctx, logout.ReasonUnauthorizedAfterRefresh)
	}
	return resp, nil
}

// refresh renews the bundle, persists it and returns it. On failure the store
// is cleared and a logout is broadcast before the error is returned.
func (c *Client) refresh(ctx context.Context, refreshToken string) (credential.Bundle, error) {
	if c.group == nil {
		return c.renew(ctx, refreshToken)
	}

	v, err, shared := c.group.Do(refreshToken, func() (any, error) {
		// Another caller may have finished renewing this token already.
		if cur, err := c.store.Read(ctx); err == nil && cur.Complete() && cur.RefreshToken != refreshToken {
			c.metrics.FetchRefresh("reused")
			return cur, nil
		}
		// The shared call outlives any single caller's cancellation.
		return c.renew(context.WithoutCancel(ctx), refreshToken)
	})
	if !shared {
		if err != nil {
			return credential.Bundle{}, err
		}
		return v.(credential.Bundle), nil
	}

	// Callers of a shared flight may hold different stores; bring each one
	// in line with the flight's result. The logout was broadcast once, by
	// the caller that ran the flight.
	c.metrics.FetchRefresh("shared")
	if err != nil {
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.logger.WarnContext(ctx, "clearing credentials failed", "error", clearErr)
		}
		return credential.Bundle{}, err
	}
	fresh := v.(credential.Bundle)
	if err := c.store.Write(ctx, fresh); err != nil {
		c.logger.WarnContext(ctx, "persisting shared refresh failed", "error", err)
	}
	return fresh, nil
}

func (c *Client) renew(ctx context.Context, refreshToken string) (credential.Bundle, error) {
	fresh, err := c.refresher.Refresh(ctx, refreshToken)
	if err == nil {
		err = c.store.Write(ctx, fresh)
	}
	if err != nil {
		c.metrics.FetchRefresh("failed")
		c.logger.WarnContext(ctx, "refreshing credentials for fetch failed", "error", err)
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.logger.WarnContext(ctx, "clearing credentials failed", "error", clearErr)
		}
		c.broadcast(ctx, logout.ReasonRefreshFailed)
		return credential.Bundle{}, err
	}
	c.metrics.FetchRefresh("ok")
	return fresh, nil
}

func (c *Client) send(req *http.Request, body func() (io.ReadCloser, error), accessToken string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if body != nil {
		rc, err := body()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		out.Body = rc
		out.GetBody = body
	}
	out.Header.Set("Authorization", "Bearer "+accessToken)
	return c.httpClient.Do(out)
}

func (c *Client) broadcast(ctx context.Context, reason logout.Reason) {
	c.logger.InfoContext(ctx, "broadcasting logout", "reason", string(reason))
	c.metrics.Logout(string(reason))
	c.notifier.Emit(reason)
}

// replayableBody returns a function yielding a fresh copy of the request
// body, or nil when there is none.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
