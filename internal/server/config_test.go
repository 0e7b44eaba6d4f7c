package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hallchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, ":61673", cfg.ListenAddr)
	assert.Equal(t, 600*time.Second, cfg.PingTimeout)
	assert.Equal(t, 60*time.Second, cfg.MaxNonAdminSchedule)
	assert.True(t, cfg.TopChatter)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":7000"
http_addr: ""
allowed_origins:
  - https://chat.example.com
max_line_length: 1024
rate_limit:
  burst: 10
  refill_interval: 2s
ping_timeout: 5m
sweep_interval: 30s
max_non_admin_schedule: 90s
plugin_dir: /etc/hallchat/plugins
credentials:
  root: hunter2
console: true
topchatter: false
log_level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 1024, cfg.MaxLineLength)
	assert.Equal(t, RateLimitConfig{Burst: 10, RefillInterval: 2 * time.Second}, cfg.RateLimit)
	assert.Equal(t, 5*time.Minute, cfg.PingTimeout)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, time.Second, cfg.SchedulerInterval, "unset keys keep their default")
	assert.Equal(t, 90*time.Second, cfg.MaxNonAdminSchedule)
	assert.Equal(t, "/etc/hallchat/plugins", cfg.PluginDir)
	assert.Equal(t, map[string]string{"root": "hunter2"}, cfg.Credentials)
	assert.True(t, cfg.Console)
	assert.False(t, cfg.TopChatter)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadConfig(writeConfig(t, "ping_timeout: [1, 2]\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "bare port",
			env:  map[string]string{"SERVER_PORT": "9000"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, ":9000", cfg.ListenAddr)
			},
		},
		{
			name: "host and port",
			env:  map[string]string{"SERVER_PORT": "127.0.0.1:9000"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
			},
		},
		{
			name: "empty http address disables http",
			env:  map[string]string{"HTTP_ADDR": ""},
			check: func(t *testing.T, cfg Config) {
				assert.Empty(t, cfg.HTTPAddr)
			},
		},
		{
			name: "origins",
			env:  map[string]string{"ALLOWED_ORIGINS": "http://a.example, https://b.example"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
			},
		},
		{
			name: "numbers",
			env: map[string]string{
				"MAX_MESSAGE_SIZE":           "2048",
				"RATE_LIMIT_BURST":           "20",
				"RATE_LIMIT_REFILL_INTERVAL": "3",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 2048, cfg.MaxLineLength)
				assert.Equal(t, 20, cfg.RateLimit.Burst)
				assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
			},
		},
		{
			name: "duration refill interval",
			env:  map[string]string{"RATE_LIMIT_REFILL_INTERVAL": "500ms"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RefillInterval)
			},
		},
		{
			name: "invalid numbers keep the current values",
			env: map[string]string{
				"MAX_MESSAGE_SIZE":           "lots",
				"RATE_LIMIT_BURST":           "-1",
				"RATE_LIMIT_REFILL_INTERVAL": "soon",
			},
			check: func(t *testing.T, cfg Config) {
				def := DefaultConfig()
				assert.Equal(t, def.MaxLineLength, cfg.MaxLineLength)
				assert.Equal(t, def.RateLimit, cfg.RateLimit)
			},
		},
		{
			name: "plugins and log level",
			env:  map[string]string{"PLUGIN_DIR": "/srv/plugins", "LOG_LEVEL": "warn"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "/srv/plugins", cfg.PluginDir)
				assert.Equal(t, "warn", cfg.LogLevel)
			},
		},
		{
			name: "nothing set",
			env:  map[string]string{},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ApplyEnv(envLookup(tt.env))
			tt.check(t, cfg)
		})
	}
}

func TestNormalize(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := Config{
		ListenAddr:  "7000",
		HTTPAddr:    "8081",
		Credentials: map[string]string{"root": string(hashed)},
	}
	got, err := cfg.Normalize()
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, ":7000", got.ListenAddr)
	assert.Equal(t, ":8081", got.HTTPAddr)
	assert.Equal(t, def.MaxLineLength, got.MaxLineLength)
	assert.Equal(t, def.RateLimit, got.RateLimit)
	assert.Equal(t, def.PingTimeout, got.PingTimeout)
	assert.Equal(t, def.SweepInterval, got.SweepInterval)
	assert.Equal(t, def.SchedulerInterval, got.SchedulerInterval)
	assert.Equal(t, def.MaxNonAdminSchedule, got.MaxNonAdminSchedule)
	assert.Equal(t, "info", got.LogLevel)
	assert.Equal(t, string(hashed), got.Credentials["root"], "hashes are kept")

	again, err := got.Normalize()
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestNormalizeHashesPlaintextCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Credentials = map[string]string{"admin": "password"}
	got, err := cfg.Normalize()
	require.NoError(t, err)

	assert.NotEqual(t, "password", got.Credentials["admin"])
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(got.Credentials["admin"]), []byte("password")))
	assert.Equal(t, "password", cfg.Credentials["admin"], "the receiver is not modified")
}

func TestNormalizeRejectsUnknownLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "chatty"
	_, err := cfg.Normalize()
	assert.ErrorContains(t, err, "invalid log level")
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := Config{LogLevel: in}.SlogLevel()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
