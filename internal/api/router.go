package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/handler"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/middleware"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/authfetch"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/gate"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/logout"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/metrics"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Version        string
	SessionBackend string
	BackendPinger  handler.BackendPinger
	OpenAPISpec    []byte

	Gate          *gate.Gate
	Exchanger     handler.Exchanger
	Stores        credential.RequestStoreFunc
	CookieOptions credential.CookieOptions
	Notifier      *logout.Notifier

	// Fetcher and DirectoryAPIURL enable /v1/members/me.
	Fetcher         *authfetch.Shared
	DirectoryAPIURL string

	// Upstream, when set, serves every unmatched route behind the gate.
	Upstream http.Handler

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)
	r.Use(deps.Metrics.Instrument)

	healthHandler := handler.NewHealthHandler(deps.SessionBackend, deps.BackendPinger, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		r.Get("/openapi.json", openapiHandler.ServeHTTP)
	}

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	if deps.Exchanger != nil && deps.Stores != nil {
		authHandler := handler.NewAuthHandler(deps.Exchanger, deps.Stores, deps.CookieOptions, deps.Notifier)
		r.Route("/v1/auth", func(r chi.Router) {
			r.Post("/state", authHandler.State)
			r.Post("/exchange", authHandler.Exchange)
			r.Post("/logout", authHandler.Logout)
		})
	}

	if deps.Gate != nil {
		sessionHandler := handler.NewSessionHandler()
		r.Route("/v1/session", func(r chi.Router) {
			r.Use(deps.Gate.Middleware)
			r.Get("/", sessionHandler.Get)
			r.With(middleware.RequireLoggedIn).Get("/me", sessionHandler.Me)
		})

		if deps.Fetcher != nil && deps.Stores != nil && deps.DirectoryAPIURL != "" {
			memberHandler := handler.NewMemberHandler(deps.Fetcher, deps.Stores, deps.CookieOptions, deps.DirectoryAPIURL)
			r.Route("/v1/members", func(r chi.Router) {
				r.Use(deps.Gate.Middleware)
				r.With(middleware.RequireLoggedIn).Get("/me", memberHandler.Me)
			})
		}

		if deps.Upstream != nil {
			r.With(deps.Gate.Middleware).Handle("/*", deps.Upstream)
		}
	}

	return r
}
