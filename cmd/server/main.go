package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	specpkg "github.com/memser-spaceport/pln-directory-portal-v2-sub000/api"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/api/handler"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/authfetch"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/config"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/credential"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/database"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/gate"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/identity"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/logout"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/metrics"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.WithRegistry(registry))

	cookieOpts := credential.CookieOptions{
		Prefix: cfg.CookiePrefix,
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
	}

	backend, err := openBackend(ctx, cfg, cookieOpts)
	if err != nil {
		slog.Error("failed to open session backend", "backend", cfg.SessionBackend, "error", err)
		os.Exit(1)
	}
	defer backend.close()

	if backend.purger != nil {
		go sweeper.New(backend.purger, cfg.SweepInterval, m).Start(ctx)
	}

	idp := identity.New(cfg.DirectoryAPIURL, cfg.AuthAPIURL,
		identity.WithTimeout(cfg.AuthTimeout),
		identity.WithRetries(cfg.ExchangeRetries),
		identity.WithBackoff(cfg.ExchangeBackoff),
		identity.WithMetrics(m),
	)

	g := gate.New(idp, cookieOpts,
		gate.WithStores(backend.stores),
		gate.WithTimeout(cfg.AuthTimeout),
		gate.WithSkipPrefixes("/health", "/metrics", "/openapi.json", "/v1/auth/"),
		gate.WithMetrics(m),
	)

	notifier := logout.Default()
	unsubscribe := notifier.OnLogout(func(ev logout.Event) {
		slog.Info("member logged out", "reason", string(ev.Reason), "at", ev.At)
	})
	defer unsubscribe()

	fetcher := authfetch.NewShared(idp,
		authfetch.WithHTTPClient(&http.Client{Timeout: cfg.AuthTimeout}),
		authfetch.WithNotifier(notifier),
		authfetch.WithMetrics(m),
	)

	var upstream http.Handler
	if cfg.UpstreamURL != "" {
		target, err := url.Parse(cfg.UpstreamURL)
		if err != nil {
			slog.Error("invalid upstream URL", "error", err)
			os.Exit(1)
		}
		upstream = handler.NewUpstreamProxy(target)
	}

	router := api.NewRouter(api.RouterDeps{
		Version:         cfg.Version,
		SessionBackend:  cfg.SessionBackend,
		BackendPinger:   backend.pinger,
		OpenAPISpec:     specpkg.OpenAPISpec,
		Gate:            g,
		Exchanger:       idp,
		Stores:          backend.stores,
		CookieOptions:   cookieOpts,
		Notifier:        notifier,
		Fetcher:         fetcher,
		DirectoryAPIURL: cfg.DirectoryAPIURL,
		Upstream:        upstream,
		Metrics:         m,
		Gatherer:        registry,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting directory auth server",
			"port", cfg.Port,
			"version", cfg.Version,
			"sessionBackend", cfg.SessionBackend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// sessionBackend is the credential storage selected by SESSION_BACKEND.
type sessionBackend struct {
	stores credential.RequestStoreFunc
	pinger handler.BackendPinger
	purger sweeper.Purger
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config, opts credential.CookieOptions) (*sessionBackend, error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		store := credential.NewRedisStore(client, cfg.CookiePrefix, nil)
		if err := store.Ping(ctx); err != nil {
			slog.Warn("redis unreachable at startup; health will report degraded", "error", err)
		}
		return &sessionBackend{
			stores: credential.ServerSideStores(store, opts),
			pinger: store,
			close:  func() { _ = client.Close() },
		}, nil

	case config.BackendPostgres:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, credential.Schema); err != nil {
			db.Close()
			return nil, err
		}
		store := credential.NewPostgresStore(db.Pool(), nil)
		return &sessionBackend{
			stores: credential.ServerSideStores(store, opts),
			pinger: store,
			purger: store,
			close:  db.Close,
		}, nil

	default:
		return &sessionBackend{
			stores: credential.EdgeStores(opts),
			close:  func() {},
		}, nil
	}
}
