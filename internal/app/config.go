package app

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	RateLimit         int           `envconfig:"RATE_LIMIT" default:"600"`

	LogFormat   string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	TraceStdout bool   `envconfig:"TRACE_STDOUT" default:"false"`

	APIBaseURL      string        `envconfig:"API_BASE_URL" default:"http://localhost:5000/api"`
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"10s"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	CSRFSecret    string        `envconfig:"CSRF_SECRET" required:"true"`

	RevalidateInterval time.Duration `envconfig:"SESSION_REVALIDATE_INTERVAL" default:"5m"`
	IdleThreshold      time.Duration `envconfig:"SESSION_IDLE_THRESHOLD" default:"25m"`
	WarningCountdown   time.Duration `envconfig:"SESSION_WARNING_COUNTDOWN" default:"60s"`
	WatchdogDelay      time.Duration `envconfig:"SESSION_WATCHDOG_DELAY" default:"60s"`
	WatchdogPoll       time.Duration `envconfig:"SESSION_WATCHDOG_POLL" default:"30s"`
	BootstrapWait      time.Duration `envconfig:"SESSION_BOOTSTRAP_WAIT" default:"2s"`
	VisitorIdleEvict   time.Duration `envconfig:"VISITOR_IDLE_EVICT" default:"30m"`
	JanitorInterval    time.Duration `envconfig:"VISITOR_JANITOR_INTERVAL" default:"1m"`
	CountsCacheTTL     time.Duration `envconfig:"DASHBOARD_CACHE_TTL" default:"1m"`

	AsynqEnabled      bool   `envconfig:"ASYNQ_ENABLED" default:"false"`
	AsynqConcurrency  int    `envconfig:"ASYNQ_CONCURRENCY" default:"5"`
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
}

// LoadConfig reads configuration from an optional .env file and the
// environment. Variables already set take precedence over the file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret must be provided")
	}
	if cfg.CSRFSecret == "" {
		return nil, errors.New("csrf secret must be provided")
	}
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", cfg.APIBaseURL)
	}
	if cfg.WarningCountdown <= 0 || cfg.IdleThreshold <= 0 || cfg.RevalidateInterval <= 0 {
		return nil, errors.New("session monitor intervals must be positive")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// MonitorConfig returns the session monitor timings.
func (c *Config) MonitorConfig() authz.MonitorConfig {
	return authz.MonitorConfig{
		RevalidateInterval: c.RevalidateInterval,
		IdleThreshold:      c.IdleThreshold,
		WarningCountdown:   c.WarningCountdown,
		WatchdogDelay:      c.WatchdogDelay,
		WatchdogPoll:       c.WatchdogPoll,
	}
}

// RegistryConfig returns the visitor registry settings. Upstream cookies and
// activity stamps live as long as the console session.
func (c *Config) RegistryConfig() console.Config {
	return console.Config{
		Monitor:       c.MonitorConfig(),
		BootstrapWait: c.BootstrapWait,
		IdleEvict:     c.VisitorIdleEvict,
		StateTTL:      c.SessionTTL,
	}
}
