package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Session backends.
const (
	BackendCookie   = "cookie"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"VERSION" default:"dev"`

	CookiePrefix string `envconfig:"COOKIE_PREFIX" required:"true"`
	CookieDomain string `envconfig:"COOKIE_DOMAIN" default:""`
	CookieSecure bool   `envconfig:"COOKIE_SECURE" default:"true"`

	DirectoryAPIURL string        `envconfig:"DIRECTORY_API_URL" required:"true"`
	AuthAPIURL      string        `envconfig:"AUTH_API_URL" required:"true"`
	AuthTimeout     time.Duration `envconfig:"AUTH_TIMEOUT" default:"10s"`
	ExchangeRetries int           `envconfig:"EXCHANGE_RETRIES" default:"3"`
	ExchangeBackoff time.Duration `envconfig:"EXCHANGE_BACKOFF" default:"1s"`

	SessionBackend string        `envconfig:"SESSION_BACKEND" default:"cookie"`
	RedisURL       string        `envconfig:"REDIS_URL" default:""`
	DatabaseURL    string        `envconfig:"DATABASE_URL" default:""`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`

	// UpstreamURL, when set, receives every request no other route matches,
	// after the gate has run.
	UpstreamURL string `envconfig:"UPSTREAM_URL" default:""`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.SessionBackend {
	case BackendCookie:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_BACKEND=%s", BackendRedis)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_BACKEND=%s", BackendPostgres)
		}
		if c.SweepInterval <= 0 {
			return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.ExchangeRetries < 1 {
		return fmt.Errorf("EXCHANGE_RETRIES must be at least 1, got %d", c.ExchangeRetries)
	}
	if c.UpstreamURL != "" {
		u, err := url.Parse(c.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("UPSTREAM_URL must be an absolute http(s) URL, got %q", c.UpstreamURL)
		}
	}
	return nil
}
