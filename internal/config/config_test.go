package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, fallbacks, err := Load(lookupFrom(nil))
	require.NoError(t, err)
	assert.Empty(t, fallbacks)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 60*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Telegram.Enabled())
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "UTC", cfg.Worker.Timezone)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	cfg, fallbacks, err := Load(lookupFrom(map[string]string{
		"HTTP_ADDR":               ":8000",
		"HTTP_SHUTDOWN_TIMEOUT":   "5s",
		"DATABASE_URL":            "postgres://app:secret@db/app",
		"DB_MAX_OPEN_CONNS":       "50",
		"DB_CONNECT_MAX_ATTEMPTS": "3",
		"TELEGRAM_TOKEN":          "123456:token",
		"TRACING_ENABLED":         "true",
		"TRACING_ENDPOINT":        "collector:4317",
		"TRACING_SAMPLE_RATE":     "0.1",
		"CRON_SCHEDULE":           "*/5 * * * *",
		"WORKER_TIMEZONE":         "Asia/Tokyo",
	}))
	require.NoError(t, err)
	assert.Empty(t, fallbacks)

	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
	assert.Equal(t, 3, cfg.Database.ConnectMaxAttempts)
	assert.True(t, cfg.Telegram.Enabled())
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.1, cfg.Tracing.SampleRate)
	assert.Equal(t, "*/5 * * * *", cfg.Worker.CronSchedule)
	assert.Equal(t, "Asia/Tokyo", cfg.Worker.Timezone)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	cfg, fallbacks, err := Load(lookupFrom(map[string]string{
		"HTTP_SHUTDOWN_TIMEOUT": "forever",
		"TRACING_SAMPLE_RATE":   "2",
		"CRON_SCHEDULE":         "whenever",
	}))
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRate)
	assert.Empty(t, cfg.Worker.CronSchedule)

	keys := make([]string, 0, len(fallbacks))
	for _, fb := range fallbacks {
		keys = append(keys, fb.Key)
	}
	assert.ElementsMatch(t, []string{"HTTP_SHUTDOWN_TIMEOUT", "TRACING_SAMPLE_RATE", "CRON_SCHEDULE"}, keys)
}

func TestLoad_FileOverlayThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "director.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":7000"
  shutdown_timeout: 15s
database:
  url: postgres://file/app
  max_open_conns: 5
  max_idle_conns: 2
worker:
  cron_schedule: "@hourly"
`), 0o600))

	cfg, _, err := Load(lookupFrom(map[string]string{
		FileEnvKey:  path,
		"HTTP_ADDR": ":7001",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.HTTP.Addr, "environment wins over file")
	assert.Equal(t, 15*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "postgres://file/app", cfg.Database.URL)
	assert.Equal(t, 5, cfg.Database.MaxOpenConns)
	assert.Equal(t, 10, cfg.Database.ConnectMaxAttempts, "keys absent from the file keep defaults")
	assert.Equal(t, "@hourly", cfg.Worker.CronSchedule)
}

func TestLoad_FileErrors(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("http:\n  adress: \":1\"\n"), 0o600))

	_, _, err := Load(lookupFrom(map[string]string{FileEnvKey: unknown}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")

	_, _, err = Load(lookupFrom(map[string]string{FileEnvKey: filepath.Join(dir, "missing.yaml")}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, _, err := Load(lookupFrom(map[string]string{FileEnvKey: path}))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate_AggregatesEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Addr = ""
	cfg.Health.Addr = ":8080"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = ""
	cfg.Database.URL = "postgres://x"
	cfg.Database.MaxIdleConns = 100
	cfg.Worker.Timezone = "Nowhere/Special"

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	for _, field := range []string{"http.addr", "tracing.endpoint", "database.max_idle_conns", "worker.timezone"} {
		assert.True(t, strings.Contains(msg, field), "missing %s in %q", field, msg)
	}
}

func TestValidate_HealthAddrMustDiffer(t *testing.T) {
	cfg := Default()
	cfg.Health.Addr = cfg.HTTP.Addr

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health.addr")
}

func TestLogValue_OmitsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Database.URL = "postgres://app:hunter2@db/app"
	cfg.Telegram.Token = "123456:secret"

	rendered := cfg.LogValue().String()
	assert.NotContains(t, rendered, "hunter2")
	assert.NotContains(t, rendered, "secret")
	assert.Contains(t, rendered, "database")
}

func TestLoad_WorkerSettings(t *testing.T) {
	cfg, fallbacks, err := Load(lookupFrom(map[string]string{
		"WORKER_JOB_TIMEOUT":    "90s",
		"WORKER_HEARTBEAT_URL":  "ftp://status.example.com/beat",
		"WORKER_NOTIFY_CHAT_ID": "-100123",
	}))
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Worker.JobTimeout)
	assert.Equal(t, int64(-100123), cfg.Worker.NotifyChatID)
	assert.Empty(t, cfg.Worker.HeartbeatURL)
	require.Len(t, fallbacks, 1)
	assert.Equal(t, "WORKER_HEARTBEAT_URL", fallbacks[0].Key)
}
