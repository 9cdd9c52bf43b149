// ABOUTME: Configuration loading and parsing for lostfound
// ABOUTME: Supports YAML or TOML files, ${VAR} expansion, LOSTFOUND_* overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LOSTFOUND_DATABASE_PATH.
const EnvPrefix = "LOSTFOUND_"

// Config represents the complete lostfound configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" toml:"database" envPrefix:"DATABASE_"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	Limits    LimitsConfig    `yaml:"limits" toml:"limits" envPrefix:"LIMITS_"`
	Responder ResponderConfig `yaml:"responder" toml:"responder" envPrefix:"RESPONDER_"`
	Claims    ClaimsConfig    `yaml:"claims" toml:"claims" envPrefix:"CLAIMS_"`
	Events    EventsConfig    `yaml:"events" toml:"events" envPrefix:"EVENTS_"`
	Tracing   TracingConfig   `yaml:"tracing" toml:"tracing" envPrefix:"TRACING_"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path" env:"PATH"`
}

// AuthConfig holds authentication configuration. An empty secret turns on
// development mode, where the X-User-ID header is trusted.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
}

// LimitsConfig bounds user-supplied text and timestamps
type LimitsConfig struct {
	MaxTitleLength    int           `yaml:"max_title_length" toml:"max_title_length" env:"MAX_TITLE_LENGTH"`
	MaxLocationLength int           `yaml:"max_location_length" toml:"max_location_length" env:"MAX_LOCATION_LENGTH"`
	MaxBodyLength     int           `yaml:"max_body_length" toml:"max_body_length" env:"MAX_BODY_LENGTH"`
	ClockSkew         time.Duration `yaml:"-" toml:"-"`

	ClockSkewRaw string `yaml:"clock_skew" toml:"clock_skew" env:"CLOCK_SKEW"`
}

// ResponderConfig controls the automated first reply
type ResponderConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Body       string        `yaml:"body" toml:"body" env:"BODY"`
	DedupeSize int           `yaml:"dedupe_size" toml:"dedupe_size" env:"DEDUPE_SIZE"`
	Delay      time.Duration `yaml:"-" toml:"-"`
	DedupeTTL  time.Duration `yaml:"-" toml:"-"`

	DelayRaw     string `yaml:"delay" toml:"delay" env:"DELAY"`
	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl" env:"DEDUPE_TTL"`
}

// ClaimsConfig selects the claim-acceptance policy
type ClaimsConfig struct {
	RequireClaimant bool `yaml:"require_claimant" toml:"require_claimant" env:"REQUIRE_CLAIMANT"`
}

// EventsConfig configures the optional Redis mirror of engine events
type EventsConfig struct {
	RedisAddr    string `yaml:"redis_addr" toml:"redis_addr" env:"REDIS_ADDR"`
	RedisChannel string `yaml:"redis_channel" toml:"redis_channel" env:"REDIS_CHANNEL"`
}

// TracingConfig configures OTLP trace export; empty endpoint disables it
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// Default returns the configuration used for anything a file leaves unset.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Database: DatabaseConfig{Path: "lostfound.db"},
		Limits: LimitsConfig{
			MaxTitleLength:    120,
			MaxLocationLength: 200,
			MaxBodyLength:     2000,
			ClockSkewRaw:      "5m",
		},
		Responder: ResponderConfig{
			Enabled:      true,
			Body:         "Thanks for your message! I'll get back to you as soon as possible.",
			DelayRaw:     "1s",
			DedupeTTLRaw: "24h",
			DedupeSize:   100_000,
		},
		Events:  EventsConfig{RedisChannel: "lostfound.events"},
		Tracing: TracingConfig{ServiceName: "lostfound"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file and returns a parsed Config. Files ending in
// .toml are TOML, anything else is YAML. An empty path loads defaults only.
// Environment variables in the format ${VAR_NAME} are expanded, then LOSTFOUND_*
// variables override individual fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Limits.MaxTitleLength <= 0 {
		return fmt.Errorf("limits.max_title_length must be positive")
	}
	if c.Limits.MaxLocationLength <= 0 {
		return fmt.Errorf("limits.max_location_length must be positive")
	}
	if c.Limits.MaxBodyLength <= 0 {
		return fmt.Errorf("limits.max_body_length must be positive")
	}
	if c.Limits.ClockSkew < 0 {
		return fmt.Errorf("limits.clock_skew cannot be negative")
	}

	if c.Responder.Enabled {
		if strings.TrimSpace(c.Responder.Body) == "" {
			return fmt.Errorf("responder.body is required when the responder is enabled")
		}
		if c.Responder.Delay <= 0 {
			return fmt.Errorf("responder.delay must be positive")
		}
	}

	if c.Events.RedisAddr != "" && c.Events.RedisChannel == "" {
		return fmt.Errorf("events.redis_channel is required when events.redis_addr is set")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// DevMode reports whether requests are trusted without a bearer token.
func (c *Config) DevMode() bool {
	return c.Auth.JWTSecret == ""
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"limits.clock_skew", cfg.Limits.ClockSkewRaw, &cfg.Limits.ClockSkew},
		{"responder.delay", cfg.Responder.DelayRaw, &cfg.Responder.Delay},
		{"responder.dedupe_ttl", cfg.Responder.DedupeTTLRaw, &cfg.Responder.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Marshal renders the configuration as YAML, durations in their raw form.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
