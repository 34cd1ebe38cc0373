// Package config loads server configuration from the environment, with an
// optional YAML profile file layered underneath for deployment presets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full server configuration. Every policy value the
// pipeline consumes (rate limits, retry budgets, breaker thresholds,
// timeouts, audience list) lives here; nothing is hard-coded downstream.
type Config struct {
	Port     string
	LogLevel string

	// HashKey, when set, switches commitment hashing from plain SHA-256
	// to keyed HMAC-SHA256. Changing it invalidates all stored proofs.
	HashKey string

	PubMed    PubMedConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Breaker   BreakerConfig
	Summary   SummaryConfig
	Ledger    LedgerConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
}

// PubMedConfig configures the document source client.
type PubMedConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// RateLimitConfig bounds outbound calls to the document source.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RetryConfig is the bounded exponential-backoff policy shared by the
// retriever and the ledger client.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// BreakerConfig configures the ledger circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

// SummaryConfig configures the generator chain.
type SummaryConfig struct {
	Audiences       []string
	DefaultAudience string
	Timeout         time.Duration
	PrimaryURL      string
	PrimaryModel    string
	PrimaryAPIKey   string
	FallbackURL     string
	FallbackModel   string
	FallbackAPIKey  string
}

// LedgerConfig selects and configures the ledger backend.
// Driver is one of "sqlite", "postgres" or "remote".
type LedgerConfig struct {
	Driver           string
	DSN              string
	RemoteURL        string
	ExplorerTemplate string
	Timeout          time.Duration
}

// RedisConfig configures the optional Redis backends (distributed rate
// limiting, document cache). Disabled when Addr is empty.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DocCacheTTL time.Duration
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool
}

// Load builds a Config from defaults, an optional profile file named by
// MEDHASH_PROFILE, and environment variable overrides, in that order.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("MEDHASH_PROFILE"); path != "" {
		if err := loadProfile(cfg, path); err != nil {
			return nil, fmt.Errorf("config: load profile %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "INFO",
		PubMed: PubMedConfig{
			BaseURL:   "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			UserAgent: "medhash/1.0 (mailto:contact@medhash.dev)",
			Timeout:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			// PubMed allows 3 requests per second without an API key.
			Limit:  3,
			Window: time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           30 * time.Second,
			Cooldown:         10 * time.Second,
		},
		Summary: SummaryConfig{
			Audiences:       []string{"short", "medium", "long"},
			DefaultAudience: "medium",
			Timeout:         30 * time.Second,
			PrimaryURL:      "https://api.openai.com/v1/chat/completions",
			PrimaryModel:    "gpt-4o-mini",
			FallbackURL:     "http://localhost:1234/v1/chat/completions",
			FallbackModel:   "llama-3.1-8b-instruct",
		},
		Ledger: LedgerConfig{
			Driver:           "sqlite",
			DSN:              "file:medhash.db?_pragma=journal_mode(WAL)",
			ExplorerTemplate: "https://explorer.medhash.dev/tx/{ref}",
			Timeout:          15 * time.Second,
		},
		Redis: RedisConfig{
			DocCacheTTL: time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "medhash",
			OTLPEndpoint: "localhost:4317",
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.HashKey, "COMMITMENT_HMAC_KEY")

	setString(&cfg.PubMed.BaseURL, "PUBMED_BASE_URL")
	setString(&cfg.PubMed.UserAgent, "PUBMED_USER_AGENT")
	setDuration(&cfg.PubMed.Timeout, "PUBMED_TIMEOUT")

	setInt(&cfg.RateLimit.Limit, "RATE_LIMIT")
	setDuration(&cfg.RateLimit.Window, "RATE_WINDOW")

	setInt(&cfg.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "RETRY_MAX_DELAY")

	setInt(&cfg.Breaker.FailureThreshold, "BREAKER_THRESHOLD")
	setDuration(&cfg.Breaker.Window, "BREAKER_WINDOW")
	setDuration(&cfg.Breaker.Cooldown, "BREAKER_COOLDOWN")

	if v := os.Getenv("SUMMARY_AUDIENCES"); v != "" {
		parts := strings.Split(v, ",")
		audiences := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				audiences = append(audiences, p)
			}
		}
		cfg.Summary.Audiences = audiences
	}
	setString(&cfg.Summary.DefaultAudience, "SUMMARY_DEFAULT_AUDIENCE")
	setDuration(&cfg.Summary.Timeout, "SUMMARY_TIMEOUT")
	setString(&cfg.Summary.PrimaryURL, "SUMMARY_PRIMARY_URL")
	setString(&cfg.Summary.PrimaryModel, "SUMMARY_PRIMARY_MODEL")
	setString(&cfg.Summary.PrimaryAPIKey, "SUMMARY_PRIMARY_API_KEY")
	setString(&cfg.Summary.FallbackURL, "SUMMARY_FALLBACK_URL")
	setString(&cfg.Summary.FallbackModel, "SUMMARY_FALLBACK_MODEL")
	setString(&cfg.Summary.FallbackAPIKey, "SUMMARY_FALLBACK_API_KEY")

	setString(&cfg.Ledger.Driver, "LEDGER_DRIVER")
	setString(&cfg.Ledger.DSN, "LEDGER_DSN")
	setString(&cfg.Ledger.RemoteURL, "LEDGER_REMOTE_URL")
	setString(&cfg.Ledger.ExplorerTemplate, "LEDGER_EXPLORER_TEMPLATE")
	setDuration(&cfg.Ledger.Timeout, "LEDGER_TIMEOUT")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setDuration(&cfg.Redis.DocCacheTTL, "REDIS_DOC_CACHE_TTL")

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true"
	}
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	if v := os.Getenv("OTEL_INSECURE"); v != "" {
		cfg.Telemetry.Insecure = v == "true"
	}
}

func (c *Config) validate() error {
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("config: rate limit and window must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry max attempts must be at least 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("config: breaker failure threshold must be at least 1")
	}
	if len(c.Summary.Audiences) == 0 {
		return fmt.Errorf("config: at least one summary audience is required")
	}
	if !contains(c.Summary.Audiences, c.Summary.DefaultAudience) {
		return fmt.Errorf("config: default audience %q is not in the audience list", c.Summary.DefaultAudience)
	}
	switch c.Ledger.Driver {
	case "sqlite", "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("config: ledger driver %q requires a DSN", c.Ledger.Driver)
		}
	case "remote":
		if c.Ledger.RemoteURL == "" {
			return fmt.Errorf("config: remote ledger requires LEDGER_REMOTE_URL")
		}
	default:
		return fmt.Errorf("config: unknown ledger driver %q", c.Ledger.Driver)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
