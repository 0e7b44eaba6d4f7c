package server

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/hallchat/internal/chat"
)

// RateLimitConfig defines the parameters for per-connection line rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration. Durations are written as Go
// duration strings in YAML ("10s", "1m").
type Config struct {
	ListenAddr          string            `yaml:"listen_addr"`
	HTTPAddr            string            `yaml:"http_addr"`
	AllowedOrigins      []string          `yaml:"allowed_origins"`
	MaxLineLength       int               `yaml:"max_line_length"`
	RateLimit           RateLimitConfig   `yaml:"rate_limit"`
	PingTimeout         time.Duration     `yaml:"ping_timeout"`
	SweepInterval       time.Duration     `yaml:"sweep_interval"`
	SchedulerInterval   time.Duration     `yaml:"scheduler_interval"`
	MaxNonAdminSchedule time.Duration     `yaml:"max_non_admin_schedule"`
	PluginDir           string            `yaml:"plugin_dir"`
	Credentials         map[string]string `yaml:"credentials"`
	Console             bool              `yaml:"console"`
	TopChatter          bool              `yaml:"topchatter"`
	LogLevel            string            `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":61673",
		HTTPAddr:   ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxLineLength: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		PingTimeout:         600 * time.Second,
		SweepInterval:       10 * time.Second,
		SchedulerInterval:   time.Second,
		MaxNonAdminSchedule: 60 * time.Second,
		PluginDir:           "plugins",
		Credentials:         map[string]string{"admin": "password"},
		TopChatter:          true,
		LogLevel:            "info",
	}
}

// LoadConfig returns the defaults overlaid with the YAML file at path. An
// empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays the environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if port, ok := lookup("SERVER_PORT"); ok && port != "" {
		c.ListenAddr = normalizeAddr(port)
	}
	if addr, ok := lookup("HTTP_ADDR"); ok {
		c.HTTPAddr = addr
	}
	if origins, ok := lookup("ALLOWED_ORIGINS"); ok && origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize, ok := lookup("MAX_MESSAGE_SIZE"); ok {
		c.MaxLineLength = parseIntValue(maxSize, c.MaxLineLength)
	}
	if burst, ok := lookup("RATE_LIMIT_BURST"); ok {
		c.RateLimit.Burst = parseIntValue(burst, c.RateLimit.Burst)
	}
	if interval, ok := lookup("RATE_LIMIT_REFILL_INTERVAL"); ok {
		c.RateLimit.RefillInterval = parseRefillInterval(interval, c.RateLimit.RefillInterval)
	}
	if dir, ok := lookup("PLUGIN_DIR"); ok && dir != "" {
		c.PluginDir = dir
	}
	if level, ok := lookup("LOG_LEVEL"); ok && level != "" {
		c.LogLevel = level
	}
}

// Normalize replaces unusable values with defaults and hashes plaintext
// credentials. It is idempotent.
func (c Config) Normalize() (Config, error) {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	c.ListenAddr = normalizeAddr(c.ListenAddr)
	if c.HTTPAddr != "" {
		c.HTTPAddr = normalizeAddr(c.HTTPAddr)
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = def.MaxLineLength
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.SchedulerInterval <= 0 {
		c.SchedulerInterval = def.SchedulerInterval
	}
	if c.MaxNonAdminSchedule <= 0 {
		c.MaxNonAdminSchedule = def.MaxNonAdminSchedule
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if _, err := c.SlogLevel(); err != nil {
		return Config{}, err
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	creds, err := chat.HashCredentials(c.Credentials, bcrypt.DefaultCost)
	if err != nil {
		return Config{}, err
	}
	c.Credentials = creds
	return c, nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// normalizeAddr turns a bare port into a listen address.
func normalizeAddr(addr string) string {
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts whole seconds or a duration string.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
