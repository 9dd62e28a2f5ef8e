package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cl3t4p/ip-notifier/internal/retry"
	"github.com/cl3t4p/ip-notifier/internal/store"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath         = "config/config.toml"
	DefaultLookupURL    = "https://api.ipify.org"
	DefaultWaitSeconds  = 60
	DefaultStateFile    = "config/old_ip.tmp"
	DefaultTemplateFile = "config/webhook.json"
	DefaultRedisKey     = "ip-notifier:last-known-address"

	defaultRequestTimeoutSec = 10
)

var (
	// ErrConfigCreated means a default config file was just written and the
	// operator has to fill it in before the next start.
	ErrConfigCreated = errors.New("config file created")
	// ErrWebhookMissing means the config has no webhook URL.
	ErrWebhookMissing = errors.New("webhook url is not set")
)

type Config struct {
	Webhook   WebhookConfig
	Lookup    LookupConfig
	Bootstrap BootstrapConfig
	State     StateConfig
	Server    ServerConfig
	Log       LogConfig
	Tracing   TracingConfig
}

type WebhookConfig struct {
	URL          string
	TemplateFile string
}

type LookupConfig struct {
	URL               string
	WaitSeconds       int
	RequestTimeoutSec int
	BlacklistWords    []string
	// StrictStatus rejects non-2xx lookup responses instead of using the body.
	StrictStatus bool
}

type BootstrapConfig struct {
	InitialBackoffMS int
	MaxBackoffMS     int
	Multiplier       float64
	MaxAttempts      int
}

type StateConfig struct {
	Backend  string
	File     string
	RedisURL string
	RedisKey string
	DBURL    string
}

type ServerConfig struct {
	// HealthPort of zero disables the status server.
	HealthPort int
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
	// SampleRatio is the fraction of traces kept, in (0, 1].
	SampleRatio float64
}

// fileConfig mirrors the on-disk keys. Pointers distinguish an absent key
// from an explicit zero.
type fileConfig struct {
	Webhook                    string   `toml:"webhook" yaml:"webhook"`
	WaitSeconds                *int     `toml:"wait_seconds" yaml:"wait_seconds"`
	IPGrabURL                  string   `toml:"ip_grab_url" yaml:"ip_grab_url"`
	BlacklistWords             []any    `toml:"blacklist_words" yaml:"blacklist_words"`
	LookupStrictStatus         bool     `toml:"lookup_strict_status" yaml:"lookup_strict_status"`
	LogLevel                   string   `toml:"log_level" yaml:"log_level"`
	StateBackend               string   `toml:"state_backend" yaml:"state_backend"`
	StateFile                  string   `toml:"state_file" yaml:"state_file"`
	TemplateFile               string   `toml:"template_file" yaml:"template_file"`
	RedisURL                   string   `toml:"redis_url" yaml:"redis_url"`
	RedisKey                   string   `toml:"redis_key" yaml:"redis_key"`
	DBURL                      string   `toml:"db_url" yaml:"db_url"`
	HealthPort                 int      `toml:"health_port" yaml:"health_port"`
	RequestTimeoutSeconds      *int     `toml:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	BootstrapInitialBackoffMS  *int     `toml:"bootstrap_initial_backoff_ms" yaml:"bootstrap_initial_backoff_ms"`
	BootstrapMaxBackoffMS      *int     `toml:"bootstrap_max_backoff_ms" yaml:"bootstrap_max_backoff_ms"`
	BootstrapBackoffMultiplier *float64 `toml:"bootstrap_backoff_multiplier" yaml:"bootstrap_backoff_multiplier"`
	BootstrapMaxAttempts       int      `toml:"bootstrap_max_attempts" yaml:"bootstrap_max_attempts"`
	TracingEnabled             bool     `toml:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint            string   `toml:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingInsecure            bool     `toml:"tracing_insecure" yaml:"tracing_insecure"`
	TracingSampleRatio         *float64 `toml:"tracing_sample_ratio" yaml:"tracing_sample_ratio"`
}

// Load reads the config file at path, applies environment overrides and
// validates the result. A missing file is created with defaults and
// ErrConfigCreated is returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Webhook: WebhookConfig{
			URL:          getEnv("WEBHOOK_URL", fc.Webhook),
			TemplateFile: getEnv("TEMPLATE_FILE", orDefault(fc.TemplateFile, DefaultTemplateFile)),
		},
		Lookup: LookupConfig{
			URL:               getEnv("IP_GRAB_URL", orDefault(fc.IPGrabURL, DefaultLookupURL)),
			WaitSeconds:       getEnvInt("WAIT_SECONDS", intOr(fc.WaitSeconds, DefaultWaitSeconds)),
			RequestTimeoutSec: getEnvInt("REQUEST_TIMEOUT_SEC", intOr(fc.RequestTimeoutSeconds, defaultRequestTimeoutSec)),
			BlacklistWords:    blacklistPatterns(fc.BlacklistWords),
			StrictStatus:      getEnvBool("LOOKUP_STRICT_STATUS", fc.LookupStrictStatus),
		},
		Bootstrap: BootstrapConfig{
			InitialBackoffMS: getEnvInt("BOOTSTRAP_INITIAL_BACKOFF_MS", intOr(fc.BootstrapInitialBackoffMS, int(retry.DefaultInitialBackoff/time.Millisecond))),
			MaxBackoffMS:     getEnvInt("BOOTSTRAP_MAX_BACKOFF_MS", intOr(fc.BootstrapMaxBackoffMS, int(retry.DefaultMaxBackoff/time.Millisecond))),
			Multiplier:       getEnvFloat("BOOTSTRAP_BACKOFF_MULTIPLIER", floatOr(fc.BootstrapBackoffMultiplier, retry.DefaultMultiplier)),
			MaxAttempts:      getEnvInt("BOOTSTRAP_MAX_ATTEMPTS", fc.BootstrapMaxAttempts),
		},
		State: StateConfig{
			Backend:  strings.ToLower(getEnv("STATE_BACKEND", orDefault(fc.StateBackend, store.BackendFile))),
			File:     getEnv("STATE_FILE", orDefault(fc.StateFile, DefaultStateFile)),
			RedisURL: getEnv("REDIS_URL", fc.RedisURL),
			RedisKey: getEnv("REDIS_KEY", orDefault(fc.RedisKey, DefaultRedisKey)),
			DBURL:    getEnv("DB_URL", fc.DBURL),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", fc.HealthPort),
		},
		Log: LogConfig{
			Level: strings.ToLower(getEnv("LOG_LEVEL", orDefault(fc.LogLevel, "info"))),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", fc.TracingEnabled),
			Endpoint:    getEnv("TRACING_ENDPOINT", fc.TracingEndpoint),
			Insecure:    getEnvBool("TRACING_INSECURE", fc.TracingInsecure),
			SampleRatio: getEnvFloat("TRACING_SAMPLE_RATIO", floatOr(fc.TracingSampleRatio, 1)),
		},
	}

	// One pattern per line; commas are valid inside a regex.
	if words := os.Getenv("BLACKLIST_WORDS"); words != "" {
		cfg.Lookup.BlacklistWords = nil
		for _, w := range strings.Split(words, "\n") {
			w = strings.TrimSpace(w)
			if w != "" {
				cfg.Lookup.BlacklistWords = append(cfg.Lookup.BlacklistWords, w)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeDefault(path); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrConfigCreated, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	fc := &fileConfig{}
	if isYAML(path) {
		if err := yaml.Unmarshal(raw, fc); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
		return fc, nil
	}
	if _, err := toml.Decode(string(raw), fc); err != nil {
		return nil, fmt.Errorf("parse toml config %s: %w", path, err)
	}
	return fc, nil
}

// blacklistPatterns keeps string entries in order. Any other value becomes
// an empty pattern, which the filter skips.
func blacklistPatterns(raw []any) []string {
	if raw == nil {
		return nil
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	content := "webhook = \"\"\nwait_seconds = 60\n"
	if isYAML(path) {
		content = "webhook: \"\"\nwait_seconds: 60\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (c *Config) validate() error {
	if c.Webhook.URL == "" {
		return ErrWebhookMissing
	}
	if c.Lookup.URL == "" {
		return fmt.Errorf("IP_GRAB_URL is required")
	}
	if c.Lookup.WaitSeconds <= 0 {
		return fmt.Errorf("wait_seconds must be > 0, got %d", c.Lookup.WaitSeconds)
	}
	if c.Lookup.RequestTimeoutSec <= 0 {
		return fmt.Errorf("request_timeout_seconds must be > 0, got %d", c.Lookup.RequestTimeoutSec)
	}
	if c.Webhook.TemplateFile == "" {
		return fmt.Errorf("TEMPLATE_FILE is required")
	}

	switch c.State.Backend {
	case store.BackendFile:
		if c.State.File == "" {
			return fmt.Errorf("STATE_FILE is required for the file backend")
		}
	case store.BackendRedis:
		if c.State.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	case store.BackendPostgres:
		if c.State.DBURL == "" {
			return fmt.Errorf("DB_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q (want file, redis or postgres)", c.State.Backend)
	}

	if c.Bootstrap.InitialBackoffMS < 0 || c.Bootstrap.MaxBackoffMS < 0 {
		return fmt.Errorf("bootstrap backoff must be >= 0")
	}
	if c.Bootstrap.Multiplier < 1 {
		return fmt.Errorf("bootstrap_backoff_multiplier must be >= 1, got %v", c.Bootstrap.Multiplier)
	}
	if c.Bootstrap.MaxAttempts < 0 {
		return fmt.Errorf("bootstrap_max_attempts must be >= 0, got %d", c.Bootstrap.MaxAttempts)
	}
	if c.Server.HealthPort < 0 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("HEALTH_PORT out of range: %d", c.Server.HealthPort)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing_sample_ratio must be in (0, 1], got %v", c.Tracing.SampleRatio)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("TRACING_ENDPOINT is required when tracing is enabled")
	}
	return nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Lookup.WaitSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Lookup.RequestTimeoutSec) * time.Second
}

func (c *Config) BootstrapBackoff() retry.Backoff {
	return retry.Backoff{
		Initial:     time.Duration(c.Bootstrap.InitialBackoffMS) * time.Millisecond,
		Max:         time.Duration(c.Bootstrap.MaxBackoffMS) * time.Millisecond,
		Multiplier:  c.Bootstrap.Multiplier,
		MaxAttempts: c.Bootstrap.MaxAttempts,
	}
}

func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
