package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Guardrail    GuardrailConfig    `mapstructure:"guardrail"`
	Generation   GenerationConfig   `mapstructure:"generation"`
	Runtime      RuntimeConfig      `mapstructure:"runtime"`
	Knowledge    KnowledgeConfig    `mapstructure:"knowledge"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig stores HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // "libsql" or "sqlite"
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// OrchestratorConfig tunes the per-turn pipeline.
type OrchestratorConfig struct {
	DefaultTopK            int           `mapstructure:"default_top_k"`
	MaxTopK                int           `mapstructure:"max_top_k"`
	HistoryTurns           int           `mapstructure:"history_turns"`   // turns fed into the grounding context
	MaxHistory             int           `mapstructure:"max_history"`     // turns hydrated from the store
	MaxMessageLength       int           `mapstructure:"max_message_length"`
	RetrievalTimeout       time.Duration `mapstructure:"retrieval_timeout"`
	GenerationTimeout      time.Duration `mapstructure:"generation_timeout"`
	SentimentTimeout       time.Duration `mapstructure:"sentiment_timeout"`
	TicketTimeout          time.Duration `mapstructure:"ticket_timeout"`
	StoreTimeout           time.Duration `mapstructure:"store_timeout"`
	MinReferenceConfidence float64       `mapstructure:"min_reference_confidence"`
	MaxReferences          int           `mapstructure:"max_references"`
	SnippetLength          int           `mapstructure:"snippet_length"`
}

// GuardrailRule is an operator supplied block rule, appended after the built-ins.
type GuardrailRule struct {
	Pattern string `mapstructure:"pattern"`
	Reason  string `mapstructure:"reason"`
}

// GuardrailConfig stores guardrail settings.
type GuardrailConfig struct {
	PrivilegedRoles []string        `mapstructure:"privileged_roles"`
	ExtraRules      []GuardrailRule `mapstructure:"extra_rules"`
	LogMessageLimit int             `mapstructure:"log_message_limit"`
}

// GenerationConfig selects and tunes the text generation backend.
type GenerationConfig struct {
	Provider        string  `mapstructure:"provider"` // "extractive" or "genai"
	Model           string  `mapstructure:"model"`
	APIKey          string  `mapstructure:"api_key"`
	Temperature     float32 `mapstructure:"temperature"`
	MaxOutputTokens int32   `mapstructure:"max_output_tokens"`
}

// RuntimeConfig stores cache, throttling and tracing settings.
type RuntimeConfig struct {
	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // Memoize retrieval results
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`     // Throttle turns per session
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`    // Token bucket capacity
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"` // Refill rate

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"` // Enable structured span logging
}

// KnowledgeConfig stores knowledge base ingestion settings.
type KnowledgeConfig struct {
	Dir         string        `mapstructure:"dir"`
	IgnoreFile  string        `mapstructure:"ignore_file"`
	ChunkTarget int           `mapstructure:"chunk_target"`
	ChunkMax    int           `mapstructure:"chunk_max"`
	Concurrency int           `mapstructure:"concurrency"`
	Watch       bool          `mapstructure:"watch"`
	Debounce    time.Duration `mapstructure:"debounce"`
}

// MetricsConfig stores Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
	Window    int    `mapstructure:"window"` // latency samples kept for summaries
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// generation.api_key becomes GENERATION_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
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
	v.SetDefault("server.addr", internal.DefaultListenAddr)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("database.driver", internal.DefaultDatabaseType)
	v.SetDefault("database.path", internal.DefaultDatabaseDSN)
	v.SetDefault("database.max_open_conns", 8)

	v.SetDefault("orchestrator.default_top_k", 5)
	v.SetDefault("orchestrator.max_top_k", 20)
	v.SetDefault("orchestrator.history_turns", 5)
	v.SetDefault("orchestrator.max_history", 50)
	v.SetDefault("orchestrator.max_message_length", 4000)
	v.SetDefault("orchestrator.retrieval_timeout", "5s")
	v.SetDefault("orchestrator.generation_timeout", "30s")
	v.SetDefault("orchestrator.sentiment_timeout", "1s")
	v.SetDefault("orchestrator.ticket_timeout", "5s")
	v.SetDefault("orchestrator.store_timeout", "5s")
	v.SetDefault("orchestrator.min_reference_confidence", 0.3)
	v.SetDefault("orchestrator.max_references", 3)
	v.SetDefault("orchestrator.snippet_length", 200)

	v.SetDefault("guardrail.privileged_roles", []string{"admin", "support_engineer"})
	v.SetDefault("guardrail.log_message_limit", 500)

	v.SetDefault("generation.provider", "extractive")
	v.SetDefault("generation.model", "gemini-2.5-flash")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.temperature", 0.2)
	v.SetDefault("generation.max_output_tokens", 1000)

	v.SetDefault("runtime.cache_enabled", true)
	v.SetDefault("runtime.cache_capacity", 1000)
	v.SetDefault("runtime.cache_ttl_seconds", 300)
	v.SetDefault("runtime.rate_limit_enabled", true)
	v.SetDefault("runtime.rate_limit_capacity", 10)
	v.SetDefault("runtime.rate_limit_refill_rate", "2s")
	v.SetDefault("runtime.enable_tracing", true)

	v.SetDefault("knowledge.dir", internal.DefaultKnowledgeDir)
	v.SetDefault("knowledge.ignore_file", ".kbignore")
	v.SetDefault("knowledge.chunk_target", 400)
	v.SetDefault("knowledge.chunk_max", 800)
	v.SetDefault("knowledge.concurrency", 4)
	v.SetDefault("knowledge.watch", false)
	v.SetDefault("knowledge.debounce", "500ms")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "helpdesk")
	v.SetDefault("metrics.window", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "libsql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be libsql or sqlite, got %q", c.Database.Driver)
	}
	if c.Orchestrator.DefaultTopK < 1 || c.Orchestrator.DefaultTopK > c.Orchestrator.MaxTopK {
		return fmt.Errorf("orchestrator.default_top_k must be within [1, %d], got %d",
			c.Orchestrator.MaxTopK, c.Orchestrator.DefaultTopK)
	}
	if c.Orchestrator.HistoryTurns < 0 {
		return fmt.Errorf("orchestrator.history_turns cannot be negative")
	}
	if c.Orchestrator.MinReferenceConfidence < 0 || c.Orchestrator.MinReferenceConfidence > 1 {
		return fmt.Errorf("orchestrator.min_reference_confidence must be within [0, 1]")
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"retrieval_timeout", c.Orchestrator.RetrievalTimeout},
		{"generation_timeout", c.Orchestrator.GenerationTimeout},
		{"sentiment_timeout", c.Orchestrator.SentimentTimeout},
		{"ticket_timeout", c.Orchestrator.TicketTimeout},
		{"store_timeout", c.Orchestrator.StoreTimeout},
	} {
		if d.val <= 0 {
			return fmt.Errorf("orchestrator.%s must be positive", d.name)
		}
	}
	switch c.Generation.Provider {
	case "extractive":
	case "genai":
		if c.Generation.APIKey == "" {
			return fmt.Errorf("generation.api_key is required for the genai provider")
		}
	default:
		return fmt.Errorf("generation.provider must be extractive or genai, got %q", c.Generation.Provider)
	}
	if c.Runtime.RateLimitEnabled && (c.Runtime.RateLimitCapacity < 1 || c.Runtime.RateLimitRefillRate <= 0) {
		return fmt.Errorf("runtime rate limit needs a positive capacity and refill rate")
	}
	return nil
}
