// Package config loads the gateway configuration from a YAML file and
// applies CLAWGUARD_* environment overrides on top. Defaults are resolved
// once at load time; the rest of the program never consults the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/IT-HUSET/clawguard/internal/classify"
	"github.com/IT-HUSET/clawguard/internal/patterns"
)

// Config is the full server configuration.
type Config struct {
	Server     Server              `yaml:"server"`
	Storage    Storage             `yaml:"storage"`
	Classifier Classifier          `yaml:"classifier"`
	URL        URL                 `yaml:"url"`
	Allowlist  []string            `yaml:"allowlist"`
	Patterns   []patterns.Spec     `yaml:"blocked_patterns"`
	Routes     map[string][]string `yaml:"routes"`
	Schemas    map[string]any      `yaml:"tool_schemas"`
	FailOpen   FailOpen            `yaml:"fail_open"`
}

// Server holds HTTP listener settings.
type Server struct {
	Port          string  `yaml:"port"`
	LogLevel      string  `yaml:"log_level"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
}

// Storage holds the persistence DSNs. Either may be empty; the server
// degrades to in-memory auth and log-only event output.
type Storage struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	CacheTTL      int    `yaml:"cache_ttl_seconds"`
}

// Classifier configures the external content-risk model.
type Classifier struct {
	Mode           string  `yaml:"mode"` // "grpc" or "http"
	Addr           string  `yaml:"addr"`
	WarnThreshold  float64 `yaml:"warn_threshold"`
	BlockThreshold float64 `yaml:"block_threshold"`
	Sensitivity    float64 `yaml:"sensitivity"`
	ChunkSize      int     `yaml:"chunk_size"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Thresholds converts the classifier settings to classify thresholds.
func (c Classifier) Thresholds() classify.Thresholds {
	return classify.Thresholds{
		Warn:        c.WarnThreshold,
		Block:       c.BlockThreshold,
		Sensitivity: c.Sensitivity,
	}
}

// Timeout returns the per-evaluation classifier deadline.
func (c Classifier) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// URL configures SSRF validation. InspectContent additionally pre-fetches
// validated targets and runs the content classifier on the response body.
type URL struct {
	ResolveDNS     bool `yaml:"resolve_dns"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	InspectContent bool `yaml:"inspect_content"`
}

// Timeout returns the DNS and pre-fetch hop deadline.
func (u URL) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// FailOpen marks which deterministic guards turn internal failures into
// allows. The content classifier is intentionally absent: it always fails
// closed.
type FailOpen struct {
	URLGuard     bool `yaml:"url_guard"`
	PatternGuard bool `yaml:"pattern_guard"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:          "8080",
			LogLevel:      "info",
			RatePerSecond: 50,
			RateBurst:     100,
		},
		Storage: Storage{CacheTTL: 60},
		Classifier: Classifier{
			Mode:           "grpc",
			WarnThreshold:  0.5,
			BlockThreshold: 0.8,
			Sensitivity:    0.5,
			ChunkSize:      classify.DefaultChunkSize,
			TimeoutSeconds: 10,
		},
		URL: URL{ResolveDNS: true, TimeoutSeconds: 10},
		Routes: map[string][]string{
			"url_safety":       {"fetch", "web_fetch", "browse", "http_request", "download"},
			"command_patterns": {"exec", "bash", "shell", "run_command", "read_file", "write_file"},
			"content_risk":     {"send_message", "post", "create_comment", "publish"},
		},
	}
}

// Load reads the YAML file at path (skipped when empty), layers environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "CLAWGUARD_PORT")
	setString(&c.Server.LogLevel, "CLAWGUARD_LOG_LEVEL")
	setFloat(&c.Server.RatePerSecond, "CLAWGUARD_RATE_PER_SECOND")
	setInt(&c.Server.RateBurst, "CLAWGUARD_RATE_BURST")
	setString(&c.Storage.PostgresDSN, "CLAWGUARD_POSTGRES_DSN")
	setString(&c.Storage.ClickHouseDSN, "CLAWGUARD_CLICKHOUSE_DSN")
	setInt(&c.Storage.CacheTTL, "CLAWGUARD_CACHE_TTL")
	setString(&c.Classifier.Mode, "CLAWGUARD_CLASSIFIER_MODE")
	setString(&c.Classifier.Addr, "CLAWGUARD_CLASSIFIER_ADDR")
	setFloat(&c.Classifier.WarnThreshold, "CLAWGUARD_WARN_THRESHOLD")
	setFloat(&c.Classifier.BlockThreshold, "CLAWGUARD_BLOCK_THRESHOLD")
	setFloat(&c.Classifier.Sensitivity, "CLAWGUARD_SENSITIVITY")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func (c *Config) validate() error {
	if err := c.Classifier.Thresholds().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Classifier.Mode {
	case "grpc", "http":
	default:
		return fmt.Errorf("config: classifier mode %q must be grpc or http", c.Classifier.Mode)
	}
	if c.Server.RatePerSecond <= 0 {
		return fmt.Errorf("config: rate_per_second must be positive")
	}
	return nil
}

// BlockedPatterns compiles the configured pattern set. A malformed set is
// logged and replaced by the hardcoded defaults rather than disabling the
// guard.
func (c *Config) BlockedPatterns(logger *zap.Logger) []patterns.BlockedPattern {
	if len(c.Patterns) == 0 {
		return patterns.DefaultBlockedPatterns()
	}
	compiled, err := patterns.Compile(c.Patterns)
	if err != nil {
		logger.Warn("blocked pattern config invalid, using defaults", zap.Error(err))
		return patterns.DefaultBlockedPatterns()
	}
	return compiled
}

// SchemaDocs renders the YAML tool schemas as JSON documents for the schema
// compiler.
func (c *Config) SchemaDocs() (map[string]json.RawMessage, error) {
	if len(c.Schemas) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(c.Schemas))
	for tool, doc := range c.Schemas {
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("config: tool schema %q: %w", tool, err)
		}
		out[tool] = encoded
	}
	return out, nil
}
