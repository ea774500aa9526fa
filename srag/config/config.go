package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Search     SearchConfig     `mapstructure:"search"`
	Harness    HarnessConfig    `mapstructure:"harness"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Server     ServerConfig     `mapstructure:"server"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// StoreConfig locates the read-only analytical store and the chart output directory.
type StoreConfig struct {
	Path        string `mapstructure:"path"`         // libsql database file produced by the ETL
	Table       string `mapstructure:"table"`        // analytical table name
	PlotsDir    string `mapstructure:"plots_dir"`    // where chart PNGs are written
	WatchSchema bool   `mapstructure:"watch_schema"` // refresh the schema prompt when the store file changes
}

// LLMConfig stores language model provider configuration.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // "openai" (any OpenAI-compatible endpoint)
	Model           string        `mapstructure:"model"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Temperature     float32       `mapstructure:"temperature"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// SearchConfig stores the web search provider configuration.
type SearchConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Endpoint    string        `mapstructure:"endpoint"`
	MaxResults  int           `mapstructure:"max_results"`
	SearchDepth string        `mapstructure:"search_depth"` // "basic" | "advanced"
	Timeout     time.Duration `mapstructure:"timeout"`
}

// HarnessConfig stores orchestration loop settings.
type HarnessConfig struct {
	MaxTurns      int           `mapstructure:"max_turns"`       // model calls per run
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`    // per tool invocation
	MaxResultRows int           `mapstructure:"max_result_rows"` // query tool row ceiling

	// Rate limiting of provider calls across concurrent runs
	RateLimitEnabled   bool    `mapstructure:"rate_limit_enabled"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`

	EnableTracing bool `mapstructure:"enable_tracing"` // structured span logging
}

// GuardrailsConfig stores the input predicate chain configuration.
type GuardrailsConfig struct {
	MaxInputTokens   int      `mapstructure:"max_input_tokens"`
	InputPredicates  []string `mapstructure:"input_predicates"` // evaluation order
	ToxicTerms       []string `mapstructure:"toxic_terms"`
	InjectionPhrases []string `mapstructure:"injection_phrases"`
}

// ServerConfig stores the HTTP front door settings.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ArchiveConfig stores where report bundles are archived (file://, s3://, gs://).
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// LoggingConfig stores logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" | "json"
}

// TelemetryConfig stores metrics and tracing export settings.
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"` // empty disables OTLP export
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`
	ServiceName    string `mapstructure:"service_name"`
}

// DefaultInputPredicates is the fixed evaluation order of the input guardrail chain.
var DefaultInputPredicates = []string{"max_length", "pii", "prompt_injection", "toxicity"}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. llm.api_key becomes LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and env are used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.path", internal.DefaultStorePath)
	v.SetDefault("store.table", internal.DefaultTable)
	v.SetDefault("store.plots_dir", internal.DefaultPlotsDir)
	v.SetDefault("store.watch_schema", true)

	// LLM defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4.1-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_output_tokens", 2000)
	v.SetDefault("llm.timeout", "60s")

	// Search defaults
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.endpoint", "https://api.tavily.com/search")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.search_depth", "basic")
	v.SetDefault("search.timeout", "20s")

	// Harness defaults
	v.SetDefault("harness.max_turns", 12)
	v.SetDefault("harness.tool_timeout", "30s")
	v.SetDefault("harness.max_result_rows", 20)
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_per_second", 2.0)
	v.SetDefault("harness.rate_limit_burst", 4)
	v.SetDefault("harness.enable_tracing", true)

	// Guardrail defaults
	v.SetDefault("guardrails.max_input_tokens", 1000)
	v.SetDefault("guardrails.input_predicates", DefaultInputPredicates)
	v.SetDefault("guardrails.toxic_terms", []string{})
	v.SetDefault("guardrails.injection_phrases", []string{})

	// Server defaults
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.request_timeout", "5m")

	// Archive defaults (off unless a bucket is configured)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", internal.DefaultAppName)
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Store.Table == "" {
		return fmt.Errorf("store.table must be set")
	}
	if c.Harness.MaxResultRows < 1 {
		return fmt.Errorf("harness.max_result_rows must be positive: %d", c.Harness.MaxResultRows)
	}
	known := make(map[string]bool, len(DefaultInputPredicates))
	for _, name := range DefaultInputPredicates {
		known[name] = true
	}
	for _, name := range c.Guardrails.InputPredicates {
		if !known[name] {
			return fmt.Errorf("unknown input predicate %q", name)
		}
	}
	if c.Archive.Enabled && c.Archive.URL == "" {
		return fmt.Errorf("archive.url is required when archive.enabled is true")
	}
	return nil
}
