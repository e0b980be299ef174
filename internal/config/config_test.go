package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/compliance"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_DefaultsWithEnv(t *testing.T) {
	t.Setenv("TRIAGE_LLM_BASE_URL", "http://llm:8000")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://llm:8000", cfg.LLM.BaseURL)
	assert.Equal(t, "http", cfg.LLM.Provider)
	assert.Equal(t, 8080, cfg.Service.HTTPPort)
	assert.Equal(t, "memory", cfg.Facts.Backend)
	assert.Equal(t, 1600, cfg.Fusion.MaxTokens)
	assert.Equal(t, 16, cfg.Fusion.MaxItems)
	assert.InDelta(t, 1.2, cfg.Fusion.GraphBoost, 1e-9)
	assert.Equal(t, 20, cfg.Neo4j.Limit)
	assert.Equal(t, 8, cfg.Vector.TopK)
	assert.Equal(t, 3, cfg.Vector.ResearchTopK)
	assert.Equal(t, "medical_passages", cfg.Vector.Collection)
	assert.Equal(t, 5*time.Second, cfg.Neo4j.Timeout)
	assert.Equal(t, 200, cfg.Embeddings.Chunking.MaxWords)
	assert.Equal(t, "triage-turns", cfg.Temporal.TaskQueue)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeFile(t, "triage.yaml", `
service:
  http_port: 9090
llm:
  base_url: http://from-file
facts:
  backend: redis
  ttl: 2h
neo4j:
  uri: bolt://graph:7687
  limit: 5
vector:
  collection: passages
compliance:
  rules_file: /etc/triage/rules.yaml
  escalation:
    sink: stream
`)
	t.Setenv("TRIAGE_SERVICE_HTTP_PORT", "7070")
	t.Setenv("TRIAGE_NEO4J_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Service.HTTPPort)
	assert.Equal(t, "http://from-file", cfg.LLM.BaseURL)
	assert.Equal(t, "redis", cfg.Facts.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Facts.TTL)
	assert.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
	assert.Equal(t, 5, cfg.Neo4j.Limit)
	assert.Equal(t, "passages", cfg.Vector.Collection)
	assert.Equal(t, "/etc/triage/rules.yaml", cfg.Compliance.RulesFile)
	assert.Equal(t, "stream", cfg.Compliance.Escalation.Sink)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeFile(t, "bad.yaml", "service: [unterminated\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("TRIAGE_LLM_BASE_URL", "http://llm")
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"http provider without url", func(c *Config) { c.LLM.BaseURL = "" }, "llm.base_url"},
		{"gemini without key", func(c *Config) { c.LLM.Provider = "gemini" }, "llm.api_key"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "carrier-pigeon" }, "llm.provider"},
		{"unknown facts backend", func(c *Config) { c.Facts.Backend = "etcd" }, "facts.backend"},
		{"file backend without dir", func(c *Config) { c.Facts.Backend = "file"; c.Facts.Dir = "" }, "facts.dir"},
		{"zero token budget", func(c *Config) { c.Fusion.MaxTokens = 0 }, "fusion.max_tokens"},
		{"zero item limit", func(c *Config) { c.Fusion.MaxItems = 0 }, "fusion.max_items"},
		{"sql sink without dsn", func(c *Config) { c.Compliance.Escalation.Sink = "sql" }, "compliance.escalation.sql_dsn"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.key, ce.Key)
		})
	}

	t.Run("gemini with key", func(t *testing.T) {
		cfg := base()
		cfg.LLM.Provider = "gemini"
		cfg.LLM.APIKey = "k"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad_InvalidFromEnv(t *testing.T) {
	t.Setenv("TRIAGE_LLM_BASE_URL", "")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultConfigPath, Path(""))
	t.Setenv(EnvConfigPath, "/env.yaml")
	assert.Equal(t, "/env.yaml", Path(""))
	assert.Equal(t, "/flag.yaml", Path("/flag.yaml"))
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = NewLogger(LoggingConfig{Level: "loud", Format: "json"})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "triage.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Facts.Backend)
	assert.Equal(t, 1600, cfg.Fusion.MaxTokens)
	assert.Equal(t, "file", cfg.Compliance.Escalation.Sink)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Stage)

	_, err = compliance.LoadRules(filepath.Join("..", "..", cfg.Compliance.RulesFile))
	assert.NoError(t, err)
}
