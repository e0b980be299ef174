// Package activities holds the per-turn stage handlers. Each handler reads
// and mutates a conversation.State and recovers its own external failures.
package activities

import (
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/compliance"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/graphstore"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/vectordb"
)

// Config bounds retrieval and generation for the stages.
type Config struct {
	GraphLimit    int           `mapstructure:"graph_limit"`
	VectorTopK    int           `mapstructure:"vector_top_k"`
	ResearchTopK  int           `mapstructure:"research_top_k"`
	LLMTimeout    time.Duration `mapstructure:"llm"`
	GraphTimeout  time.Duration `mapstructure:"graph"`
	VectorTimeout time.Duration `mapstructure:"vector"`
}

// DefaultConfig returns the standard stage limits.
func DefaultConfig() Config {
	return Config{
		GraphLimit:    20,
		VectorTopK:    8,
		ResearchTopK:  3,
		LLMTimeout:    20 * time.Second,
		GraphTimeout:  5 * time.Second,
		VectorTimeout: 5 * time.Second,
	}
}

// Deps are the collaborators the stages call. Graph, Vector and LLM may be
// nil; the affected stage then behaves as if the call returned nothing.
type Deps struct {
	LLM        llm.Completer
	Graph      graphstore.Querier
	Vector     vectordb.Searcher
	Schema     slots.Schema
	Extractor  *slots.Extractor
	Questioner *slots.Questioner
	Fusion     *evidence.Engine
	Gate       *compliance.Gate
}

// Activities struct holds dependencies for the stage handlers
type Activities struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewActivities creates the stage handlers. Zero config values use defaults.
func NewActivities(deps Deps, cfg Config, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.GraphLimit <= 0 {
		cfg.GraphLimit = def.GraphLimit
	}
	if cfg.VectorTopK <= 0 {
		cfg.VectorTopK = def.VectorTopK
	}
	if cfg.ResearchTopK <= 0 {
		cfg.ResearchTopK = def.ResearchTopK
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = def.LLMTimeout
	}
	if cfg.GraphTimeout <= 0 {
		cfg.GraphTimeout = def.GraphTimeout
	}
	if cfg.VectorTimeout <= 0 {
		cfg.VectorTimeout = def.VectorTimeout
	}
	if len(deps.Schema.Fields) == 0 {
		deps.Schema = slots.DefaultSchema()
	}
	if deps.Fusion == nil {
		deps.Fusion = evidence.NewEngine(nil, evidence.DefaultOptions())
	}
	if deps.Questioner == nil {
		deps.Questioner = slots.NewQuestioner(deps.LLM, deps.Schema, cfg.LLMTimeout, logger)
	}
	if deps.Gate == nil {
		deps.Gate = compliance.NewGate(compliance.DefaultRules(), nil, 0, logger)
	}
	return &Activities{deps: deps, cfg: cfg, logger: logger}
}

// Schema returns the intake schema the stages use.
func (a *Activities) Schema() slots.Schema { return a.deps.Schema }
