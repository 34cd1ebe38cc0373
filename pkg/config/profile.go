package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the YAML deployment preset. Durations are expressed as
// millisecond integers so profiles stay plain YAML scalars.
// Zero values leave the corresponding Config field untouched.
type Profile struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	PubMed struct {
		BaseURL   string `yaml:"base_url"`
		UserAgent string `yaml:"user_agent"`
		TimeoutMs int    `yaml:"timeout_ms"`
	} `yaml:"pubmed"`

	RateLimit struct {
		Limit    int `yaml:"limit"`
		WindowMs int `yaml:"window_ms"`
	} `yaml:"rate_limit"`

	Retry struct {
		MaxAttempts int `yaml:"max_attempts"`
		BaseDelayMs int `yaml:"base_delay_ms"`
		MaxDelayMs  int `yaml:"max_delay_ms"`
	} `yaml:"retry"`

	Breaker struct {
		FailureThreshold int `yaml:"failure_threshold"`
		WindowMs         int `yaml:"window_ms"`
		CooldownMs       int `yaml:"cooldown_ms"`
	} `yaml:"breaker"`

	Summary struct {
		Audiences       []string `yaml:"audiences"`
		DefaultAudience string   `yaml:"default_audience"`
		TimeoutMs       int      `yaml:"timeout_ms"`
		PrimaryURL      string   `yaml:"primary_url"`
		PrimaryModel    string   `yaml:"primary_model"`
		FallbackURL     string   `yaml:"fallback_url"`
		FallbackModel   string   `yaml:"fallback_model"`
	} `yaml:"summary"`

	Ledger struct {
		Driver           string `yaml:"driver"`
		DSN              string `yaml:"dsn"`
		RemoteURL        string `yaml:"remote_url"`
		ExplorerTemplate string `yaml:"explorer_template"`
		TimeoutMs        int    `yaml:"timeout_ms"`
	} `yaml:"ledger"`

	Redis struct {
		Addr          string `yaml:"addr"`
		DB            int    `yaml:"db"`
		DocCacheTTLMs int    `yaml:"doc_cache_ttl_ms"`
	} `yaml:"redis"`

	Telemetry struct {
		Enabled      bool   `yaml:"enabled"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		ServiceName  string `yaml:"service_name"`
		Insecure     bool   `yaml:"insecure"`
	} `yaml:"telemetry"`
}

func loadProfile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return err
	}
	p.apply(cfg)
	return nil
}

func (p *Profile) apply(cfg *Config) {
	overrideString(&cfg.Port, p.Port)
	overrideString(&cfg.LogLevel, p.LogLevel)

	overrideString(&cfg.PubMed.BaseURL, p.PubMed.BaseURL)
	overrideString(&cfg.PubMed.UserAgent, p.PubMed.UserAgent)
	overrideMs(&cfg.PubMed.Timeout, p.PubMed.TimeoutMs)

	overrideInt(&cfg.RateLimit.Limit, p.RateLimit.Limit)
	overrideMs(&cfg.RateLimit.Window, p.RateLimit.WindowMs)

	overrideInt(&cfg.Retry.MaxAttempts, p.Retry.MaxAttempts)
	overrideMs(&cfg.Retry.BaseDelay, p.Retry.BaseDelayMs)
	overrideMs(&cfg.Retry.MaxDelay, p.Retry.MaxDelayMs)

	overrideInt(&cfg.Breaker.FailureThreshold, p.Breaker.FailureThreshold)
	overrideMs(&cfg.Breaker.Window, p.Breaker.WindowMs)
	overrideMs(&cfg.Breaker.Cooldown, p.Breaker.CooldownMs)

	if len(p.Summary.Audiences) > 0 {
		cfg.Summary.Audiences = p.Summary.Audiences
	}
	overrideString(&cfg.Summary.DefaultAudience, p.Summary.DefaultAudience)
	overrideMs(&cfg.Summary.Timeout, p.Summary.TimeoutMs)
	overrideString(&cfg.Summary.PrimaryURL, p.Summary.PrimaryURL)
	overrideString(&cfg.Summary.PrimaryModel, p.Summary.PrimaryModel)
	overrideString(&cfg.Summary.FallbackURL, p.Summary.FallbackURL)
	overrideString(&cfg.Summary.FallbackModel, p.Summary.FallbackModel)

	overrideString(&cfg.Ledger.Driver, p.Ledger.Driver)
	overrideString(&cfg.Ledger.DSN, p.Ledger.DSN)
	overrideString(&cfg.Ledger.RemoteURL, p.Ledger.RemoteURL)
	overrideString(&cfg.Ledger.ExplorerTemplate, p.Ledger.ExplorerTemplate)
	overrideMs(&cfg.Ledger.Timeout, p.Ledger.TimeoutMs)

	overrideString(&cfg.Redis.Addr, p.Redis.Addr)
	overrideInt(&cfg.Redis.DB, p.Redis.DB)
	overrideMs(&cfg.Redis.DocCacheTTL, p.Redis.DocCacheTTLMs)

	if p.Telemetry.Enabled {
		cfg.Telemetry.Enabled = true
	}
	overrideString(&cfg.Telemetry.OTLPEndpoint, p.Telemetry.OTLPEndpoint)
	overrideString(&cfg.Telemetry.ServiceName, p.Telemetry.ServiceName)
	if p.Telemetry.Insecure {
		cfg.Telemetry.Insecure = true
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func overrideMs(dst *time.Duration, ms int) {
	if ms != 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}
