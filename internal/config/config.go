// Package config assembles the process configuration.
//
// Values are layered: built-in defaults, then the YAML file named by
// DIRECTOR_CONFIG when set, then individual environment variables. Malformed
// environment values keep the lower layer's value and are reported as
// fallbacks; Validate then checks the merged result as a whole.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	envconfig "director/pkg/config"
)

// FileEnvKey names the environment variable holding the YAML overlay path.
const FileEnvKey = "DIRECTOR_CONFIG"

// AppConfig is the complete process configuration.
type AppConfig struct {
	LogLevel string         `yaml:"log_level"`
	HTTP     HTTPConfig     `yaml:"http"`
	Health   HealthConfig   `yaml:"health"`
	Database DatabaseConfig `yaml:"database"`
	Telegram TelegramConfig `yaml:"telegram"`
	Outbound OutboundConfig `yaml:"outbound"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// HTTPConfig configures the public HTTP server.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

// HealthConfig configures the health and metrics listener.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the PostgreSQL pool. An empty URL disables it.
type DatabaseConfig struct {
	URL                string        `yaml:"url"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"conn_max_idle_time"`
	ConnectMaxAttempts int           `yaml:"connect_max_attempts"`
	ConnectRetryDelay  time.Duration `yaml:"connect_retry_delay"`
}

// Enabled reports whether a database URL is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// TelegramConfig configures the chat bot. An empty token disables it.
type TelegramConfig struct {
	Token              string        `yaml:"token"`
	BaseURL            string        `yaml:"base_url"`
	ConnectMaxAttempts int           `yaml:"connect_max_attempts"`
	ConnectRetryDelay  time.Duration `yaml:"connect_retry_delay"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	SendRate           float64       `yaml:"send_rate"`
}

// Enabled reports whether a bot token is configured.
func (c TelegramConfig) Enabled() bool { return c.Token != "" }

// OutboundConfig configures the shared outbound HTTP client.
type OutboundConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	BreakerEnabled bool          `yaml:"breaker_enabled"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// WorkerConfig configures the job scheduler. An empty schedule disables the
// periodic job.
type WorkerConfig struct {
	CronSchedule string        `yaml:"cron_schedule"`
	Timezone     string        `yaml:"timezone"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	// HeartbeatURL receives a JSON status report on every run; empty skips it.
	HeartbeatURL string `yaml:"heartbeat_url"`
	// NotifyChatID is told about failed runs when the bot is enabled.
	NotifyChatID int64 `yaml:"notify_chat_id"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *AppConfig {
	return &AppConfig{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ShutdownTimeout:   60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			RequestTimeout:    30 * time.Second,
			MaxBodyBytes:      1 << 20,
		},
		Health: HealthConfig{Addr: ":9091"},
		Database: DatabaseConfig{
			MaxOpenConns:       25,
			MaxIdleConns:       10,
			ConnMaxLifetime:    time.Hour,
			ConnMaxIdleTime:    30 * time.Minute,
			ConnectMaxAttempts: 10,
			ConnectRetryDelay:  time.Second,
		},
		Telegram: TelegramConfig{
			BaseURL:            "https://api.telegram.org",
			ConnectMaxAttempts: 5,
			ConnectRetryDelay:  2 * time.Second,
			PollTimeout:        30 * time.Second,
			SendRate:           25,
		},
		Outbound: OutboundConfig{
			Timeout:        30 * time.Second,
			BreakerEnabled: true,
		},
		Tracing: TracingConfig{
			ServiceName: "director",
			SampleRate:  1.0,
		},
		Worker: WorkerConfig{
			Timezone:   "UTC",
			JobTimeout: 5 * time.Minute,
		},
	}
}

// Load builds the configuration from lookup (os.LookupEnv when nil). It
// returns the fallbacks applied to malformed environment values alongside
// the merged, validated configuration.
func Load(lookup envconfig.LookupFunc) (*AppConfig, []envconfig.Fallback, error) {
	env := envconfig.NewEnv(lookup)
	cfg := Default()

	if path := env.String(FileEnvKey, ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, nil, err
		}
	}

	cfg.applyEnv(env)

	if err := cfg.Validate(); err != nil {
		return nil, env.Fallbacks(), err
	}
	return cfg, env.Fallbacks(), nil
}

func (c *AppConfig) overlayFile(path string) error {
	// #nosec G304 -- path comes from the operator's environment
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return c.overlay(bytes.NewReader(data))
}

// overlay decodes YAML over c. Keys absent from the document keep their
// current value; unknown keys are an error.
func (c *AppConfig) overlay(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *AppConfig) applyEnv(env *envconfig.Env) {
	positive := envconfig.ValidatePositiveDuration
	nonNegative := envconfig.ValidateIntRange(0, 1000)

	c.LogLevel = env.String("LOG_LEVEL", c.LogLevel, validateLogLevel)

	c.HTTP.Addr = env.String("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.ShutdownTimeout = env.Duration("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout, positive)
	c.HTTP.RequestTimeout = env.Duration("HTTP_REQUEST_TIMEOUT", c.HTTP.RequestTimeout, positive)
	c.HTTP.MaxBodyBytes = env.Int64("HTTP_MAX_BODY_BYTES", c.HTTP.MaxBodyBytes)
	c.Health.Addr = env.String("HEALTH_ADDR", c.Health.Addr)

	c.Database.URL = env.Secret("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = env.Int("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns, envconfig.ValidateIntRange(1, 1000))
	c.Database.MaxIdleConns = env.Int("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns, nonNegative)
	c.Database.ConnMaxLifetime = env.Duration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime, positive)
	c.Database.ConnMaxIdleTime = env.Duration("DB_CONN_MAX_IDLE_TIME", c.Database.ConnMaxIdleTime, positive)
	c.Database.ConnectMaxAttempts = env.Int("DB_CONNECT_MAX_ATTEMPTS", c.Database.ConnectMaxAttempts, nonNegative)
	c.Database.ConnectRetryDelay = env.Duration("DB_CONNECT_RETRY_DELAY", c.Database.ConnectRetryDelay, positive)

	c.Telegram.Token = env.Secret("TELEGRAM_TOKEN", c.Telegram.Token)
	c.Telegram.ConnectMaxAttempts = env.Int("TELEGRAM_CONNECT_MAX_ATTEMPTS", c.Telegram.ConnectMaxAttempts, nonNegative)
	c.Telegram.ConnectRetryDelay = env.Duration("TELEGRAM_CONNECT_RETRY_DELAY", c.Telegram.ConnectRetryDelay, positive)
	c.Telegram.PollTimeout = env.Duration("TELEGRAM_POLL_TIMEOUT", c.Telegram.PollTimeout,
		envconfig.ValidateDuration(time.Second, 50*time.Second))
	c.Telegram.SendRate = env.Float("TELEGRAM_SEND_RATE", c.Telegram.SendRate, validatePositiveRate)

	c.Outbound.Timeout = env.Duration("OUTBOUND_TIMEOUT", c.Outbound.Timeout, positive)
	c.Outbound.BreakerEnabled = env.Bool("OUTBOUND_BREAKER_ENABLED", c.Outbound.BreakerEnabled)

	c.Tracing.Enabled = env.Bool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = env.String("TRACING_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.ServiceName = env.String("TRACING_SERVICE_NAME", c.Tracing.ServiceName)
	c.Tracing.SampleRate = env.Float("TRACING_SAMPLE_RATE", c.Tracing.SampleRate, envconfig.ValidateFraction)
	c.Tracing.Insecure = env.Bool("TRACING_INSECURE", c.Tracing.Insecure)

	c.Worker.CronSchedule = env.String("CRON_SCHEDULE", c.Worker.CronSchedule, envconfig.ValidateCronSchedule)
	c.Worker.Timezone = env.String("WORKER_TIMEZONE", c.Worker.Timezone, envconfig.ValidateTimezone)
	c.Worker.JobTimeout = env.Duration("WORKER_JOB_TIMEOUT", c.Worker.JobTimeout, positive)
	c.Worker.HeartbeatURL = env.String("WORKER_HEARTBEAT_URL", c.Worker.HeartbeatURL, validateHTTPURL)
	c.Worker.NotifyChatID = env.Int64("WORKER_NOTIFY_CHAT_ID", c.Worker.NotifyChatID)
}

// Validate checks the merged configuration and reports every problem at once.
func (c *AppConfig) Validate() error {
	var errs []error
	add := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	required := func(v string) error {
		if strings.TrimSpace(v) == "" {
			return errors.New("must not be empty")
		}
		return nil
	}

	add("log_level", validateLogLevel(c.LogLevel))

	add("http.addr", required(c.HTTP.Addr))
	add("http.shutdown_timeout", envconfig.ValidatePositiveDuration(c.HTTP.ShutdownTimeout))
	add("http.request_timeout", envconfig.ValidatePositiveDuration(c.HTTP.RequestTimeout))
	if c.HTTP.MaxBodyBytes <= 0 {
		add("http.max_body_bytes", fmt.Errorf("must be positive, got %d", c.HTTP.MaxBodyBytes))
	}
	add("health.addr", required(c.Health.Addr))
	if c.Health.Addr != "" && c.Health.Addr == c.HTTP.Addr {
		add("health.addr", fmt.Errorf("must differ from http.addr %q", c.HTTP.Addr))
	}

	if c.Database.Enabled() {
		add("database.max_open_conns", envconfig.ValidateIntRange(1, 1000)(c.Database.MaxOpenConns))
		if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			add("database.max_idle_conns", fmt.Errorf("%d exceeds max_open_conns %d", c.Database.MaxIdleConns, c.Database.MaxOpenConns))
		}
		add("database.connect_max_attempts", envconfig.ValidateIntRange(0, 1000)(c.Database.ConnectMaxAttempts))
		add("database.connect_retry_delay", envconfig.ValidatePositiveDuration(c.Database.ConnectRetryDelay))
	}

	if c.Telegram.Enabled() {
		add("telegram.base_url", required(c.Telegram.BaseURL))
		add("telegram.connect_max_attempts", envconfig.ValidateIntRange(0, 1000)(c.Telegram.ConnectMaxAttempts))
		add("telegram.poll_timeout", envconfig.ValidateDuration(time.Second, 50*time.Second)(c.Telegram.PollTimeout))
		add("telegram.send_rate", validatePositiveRate(c.Telegram.SendRate))
	}

	add("outbound.timeout", envconfig.ValidatePositiveDuration(c.Outbound.Timeout))

	if c.Tracing.Enabled {
		add("tracing.endpoint", required(c.Tracing.Endpoint))
		add("tracing.service_name", required(c.Tracing.ServiceName))
		add("tracing.sample_rate", envconfig.ValidateFraction(c.Tracing.SampleRate))
	}

	if c.Worker.CronSchedule != "" {
		add("worker.cron_schedule", envconfig.ValidateCronSchedule(c.Worker.CronSchedule))
	}
	add("worker.timezone", envconfig.ValidateTimezone(c.Worker.Timezone))
	add("worker.job_timeout", envconfig.ValidatePositiveDuration(c.Worker.JobTimeout))
	if c.Worker.HeartbeatURL != "" {
		add("worker.heartbeat_url", validateHTTPURL(c.Worker.HeartbeatURL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// LogValue summarises the configuration for startup logs without secrets.
func (c *AppConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("log_level", c.LogLevel),
		slog.String("http_addr", c.HTTP.Addr),
		slog.String("health_addr", c.Health.Addr),
		slog.Bool("database", c.Database.Enabled()),
		slog.Bool("telegram", c.Telegram.Enabled()),
		slog.Bool("tracing", c.Tracing.Enabled),
		slog.String("cron_schedule", c.Worker.CronSchedule),
		slog.String("timezone", c.Worker.Timezone),
	)
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func validatePositiveRate(r float64) error {
	if r <= 0 {
		return fmt.Errorf("rate must be positive, got %v", r)
	}
	return nil
}
