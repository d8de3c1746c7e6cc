package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "2500ms" or plain numbers (seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// SizeBytes parses YAML values like "512KB" (via humanize) or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// TypingConfig tunes the typing-indicator cache.
type TypingConfig struct {
	Throttle      Duration `yaml:"throttle"`
	ExpireAfter   Duration `yaml:"expire_after"`
	SweepInterval Duration `yaml:"sweep_interval"`
	StaleAfter    Duration `yaml:"stale_after"`
}

// RateLimitConfig tunes the per-user message limiter.
type RateLimitConfig struct {
	Window Duration `yaml:"window"`
	Max    int      `yaml:"max"`
}

// HTTPLimitConfig tunes the per-IP limiter on the public auth endpoints.
type HTTPLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Config struct {
	Addr            string          `yaml:"addr"`
	DatabaseDSN     string          `yaml:"database_dsn"`
	JWTSecret       string          `yaml:"jwt_secret"`
	RedisAddr       string          `yaml:"redis_addr"`
	LogLevel        string          `yaml:"log_level"`
	MaxMessageBytes SizeBytes       `yaml:"max_message_bytes"`
	EditWindow      Duration        `yaml:"edit_window"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	HTTPLimit       HTTPLimitConfig `yaml:"http_limit"`
	Typing          TypingConfig    `yaml:"typing"`
}

// Default returns the built-in configuration. File and environment values
// override it field by field.
func Default() Config {
	return Config{
		Addr:            ":8080",
		LogLevel:        "info",
		MaxMessageBytes: 512 * 1024,
		EditWindow:      Duration(15 * time.Minute),
		RateLimit:       RateLimitConfig{Window: Duration(60 * time.Second), Max: 10},
		HTTPLimit:       HTTPLimitConfig{RPS: 5, Burst: 10},
		Typing: TypingConfig{
			Throttle:      Duration(200 * time.Millisecond),
			ExpireAfter:   Duration(2500 * time.Millisecond),
			SweepInterval: Duration(1000 * time.Millisecond),
			StaleAfter:    Duration(3000 * time.Millisecond),
		},
	}
}

// Load builds the effective config: .env file (if present), then the YAML
// file named by CONFIG_FILE, then environment variables. Env wins.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("DB_DSN is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAX_MESSAGE_BYTES"); v != "" {
		if n, err := humanize.ParseBytes(v); err == nil {
			cfg.MaxMessageBytes = SizeBytes(n)
		}
	}
	if v := os.Getenv("EDIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.EditWindow = Duration(d)
		}
	}
}

// SlogLevel maps the configured level string onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
