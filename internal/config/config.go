// Package config loads the triage service configuration from YAML and
// TRIAGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/embeddings"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/graphstore"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/vectordb"
)

const (
	// EnvConfigPath names the config file when no flag is given.
	EnvConfigPath     = "TRIAGE_CONFIG"
	DefaultConfigPath = "./config/triage.yaml"
	envPrefix         = "TRIAGE"
)

// ErrConfiguration marks every configuration failure.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports the offending key.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	HTTPPort    int    `mapstructure:"http_port"`
	// AdminPort serves /metrics and health; 0 shares HTTPPort.
	AdminPort int `mapstructure:"admin_port"`
	// APIToken enables bearer auth on the turn API when set.
	APIToken string `mapstructure:"api_token"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LLMConfig struct {
	// Provider is http or gemini.
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"base_url"`
	AgentID       string        `mapstructure:"agent_id"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Temperature   float64       `mapstructure:"temperature"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

type Neo4jConfig struct {
	graphstore.Config `mapstructure:",squash"`
	Enabled           bool `mapstructure:"enabled"`
	Limit             int  `mapstructure:"limit"`
}

type VectorConfig struct {
	vectordb.Config `mapstructure:",squash"`
	Enabled         bool `mapstructure:"enabled"`
	ResearchTopK    int  `mapstructure:"research_top_k"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type FactsConfig struct {
	// Backend is redis, file or memory.
	Backend   string        `mapstructure:"backend"`
	Dir       string        `mapstructure:"dir"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	MaxCached int           `mapstructure:"max_cached"`
}

type SlotsConfig struct {
	ExtractionTimeout time.Duration `mapstructure:"extraction_timeout"`
}

type FusionConfig struct {
	MaxTokens  int     `mapstructure:"max_tokens"`
	MaxItems   int     `mapstructure:"max_items"`
	GraphBoost float64 `mapstructure:"graph_boost"`
	Encoding   string  `mapstructure:"encoding"`
}

type EscalationConfig struct {
	// Sink is file, sql, stream, multi or none.
	Sink         string        `mapstructure:"sink"`
	LogPath      string        `mapstructure:"log_path"`
	SQLDriver    string        `mapstructure:"sql_driver"`
	SQLDSN       string        `mapstructure:"sql_dsn"`
	Stream       string        `mapstructure:"stream"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type ComplianceConfig struct {
	RulesFile  string           `mapstructure:"rules_file"`
	WatchRules bool             `mapstructure:"watch_rules"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	NoAnswer   string           `mapstructure:"no_answer"`
}

type TimeoutsConfig struct {
	Stage  time.Duration `mapstructure:"stage"`
	LLM    time.Duration `mapstructure:"llm"`
	Graph  time.Duration `mapstructure:"graph"`
	Vector time.Duration `mapstructure:"vector"`
	Save   time.Duration `mapstructure:"save"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// Config is the full service configuration.
type Config struct {
	Service    ServiceConfig     `mapstructure:"service"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	LLM        LLMConfig         `mapstructure:"llm"`
	Neo4j      Neo4jConfig       `mapstructure:"neo4j"`
	Vector     VectorConfig      `mapstructure:"vector"`
	Embeddings embeddings.Config `mapstructure:"embeddings"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Facts      FactsConfig       `mapstructure:"facts"`
	Slots      SlotsConfig       `mapstructure:"slots"`
	Fusion     FusionConfig      `mapstructure:"fusion"`
	Compliance ComplianceConfig  `mapstructure:"compliance"`
	Timeouts   TimeoutsConfig    `mapstructure:"timeouts"`
	Temporal   TemporalConfig    `mapstructure:"temporal"`
	Tracing    tracing.Config    `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "triage")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.http_port", 8080)
	v.SetDefault("service.admin_port", 2112)
	v.SetDefault("service.api_token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("llm.provider", "http")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.agent_id", "triage")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.max_tokens", 512)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.rate_per_second", 0)
	v.SetDefault("llm.burst", 1)

	v.SetDefault("neo4j.enabled", true)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "")
	v.SetDefault("neo4j.max_pool_size", 10)
	v.SetDefault("neo4j.timeout", 5*time.Second)
	v.SetDefault("neo4j.limit", 20)

	v.SetDefault("vector.enabled", true)
	v.SetDefault("vector.url", "")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6333)
	v.SetDefault("vector.collection", "medical_passages")
	v.SetDefault("vector.top_k", 8)
	v.SetDefault("vector.research_top_k", 3)
	v.SetDefault("vector.threshold", 0)
	v.SetDefault("vector.timeout", 5*time.Second)
	v.SetDefault("vector.expected_dim", 0)

	v.SetDefault("embeddings.base_url", "")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", 5*time.Second)
	v.SetDefault("embeddings.redis_addr", "")
	v.SetDefault("embeddings.cache_ttl", time.Hour)
	v.SetDefault("embeddings.max_lru", 2048)
	v.SetDefault("embeddings.chunking.max_words", 200)
	v.SetDefault("embeddings.chunking.overlap_words", 20)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("facts.backend", "memory")
	v.SetDefault("facts.dir", "./data/facts")
	v.SetDefault("facts.key_prefix", "triage:facts:")
	v.SetDefault("facts.ttl", 24*time.Hour)
	v.SetDefault("facts.max_cached", 1000)

	v.SetDefault("slots.extraction_timeout", 20*time.Second)

	v.SetDefault("fusion.max_tokens", 1600)
	v.SetDefault("fusion.max_items", 16)
	v.SetDefault("fusion.graph_boost", 1.2)
	v.SetDefault("fusion.encoding", "cl100k_base")

	v.SetDefault("compliance.rules_file", "")
	v.SetDefault("compliance.watch_rules", true)
	v.SetDefault("compliance.no_answer", "")
	v.SetDefault("compliance.escalation.sink", "file")
	v.SetDefault("compliance.escalation.log_path", "./data/escalations.jsonl")
	v.SetDefault("compliance.escalation.sql_driver", "sqlite3")
	v.SetDefault("compliance.escalation.sql_dsn", "")
	v.SetDefault("compliance.escalation.stream", "triage:escalations")
	v.SetDefault("compliance.escalation.stream_max_len", 10000)
	v.SetDefault("compliance.escalation.timeout", 5*time.Second)

	v.SetDefault("timeouts.stage", 60*time.Second)
	v.SetDefault("timeouts.llm", 20*time.Second)
	v.SetDefault("timeouts.graph", 5*time.Second)
	v.SetDefault("timeouts.vector", 5*time.Second)
	v.SetDefault("timeouts.save", 5*time.Second)

	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "triage-turns")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "triage")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// Path resolves the config file location: flag value, then TRIAGE_CONFIG,
// then the default.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load reads path (a missing file is allowed), applies TRIAGE_* overrides
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings main relies on before serving.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "http":
		if c.LLM.BaseURL == "" {
			return &ConfigurationError{Key: "llm.base_url", Reason: "required when llm.provider is http"}
		}
	case "gemini":
		if c.LLM.APIKey == "" {
			return &ConfigurationError{Key: "llm.api_key", Reason: "required when llm.provider is gemini"}
		}
	default:
		return &ConfigurationError{Key: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}

	switch c.Facts.Backend {
	case "redis", "memory":
	case "file":
		if c.Facts.Dir == "" {
			return &ConfigurationError{Key: "facts.dir", Reason: "required when facts.backend is file"}
		}
	default:
		return &ConfigurationError{Key: "facts.backend", Reason: fmt.Sprintf("must be redis, file or memory, got %q", c.Facts.Backend)}
	}

	if c.Fusion.MaxTokens <= 0 {
		return &ConfigurationError{Key: "fusion.max_tokens", Reason: "must be > 0"}
	}
	if c.Fusion.MaxItems <= 0 {
		return &ConfigurationError{Key: "fusion.max_items", Reason: "must be > 0"}
	}
	if c.Fusion.GraphBoost <= 0 {
		return &ConfigurationError{Key: "fusion.graph_boost", Reason: "must be > 0"}
	}

	switch c.Compliance.Escalation.Sink {
	case "none", "file", "stream", "multi":
	case "sql":
		if c.Compliance.Escalation.SQLDSN == "" {
			return &ConfigurationError{Key: "compliance.escalation.sql_dsn", Reason: "required when sink is sql"}
		}
	default:
		return &ConfigurationError{Key: "compliance.escalation.sink", Reason: fmt.Sprintf("unknown sink %q", c.Compliance.Escalation.Sink)}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return &ConfigurationError{Key: "logging.format", Reason: "must be json or console"}
	}
	if c.Service.HTTPPort <= 0 {
		return &ConfigurationError{Key: "service.http_port", Reason: "must be > 0"}
	}
	return nil
}
