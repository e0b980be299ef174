// Package app assembles the triage engine and its backing services from
// configuration. Both the server and the chat binary build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/compliance"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/config"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/embeddings"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/factstore"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/graphstore"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/health"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/vectordb"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/workflows"
)

// App holds the assembled engine and everything that must be closed.
type App struct {
	Config *config.Config
	Engine *workflows.Engine
	Gate   *compliance.Gate
	Health *health.Manager
	// Graph and Vector are nil when disabled or unreachable at startup.
	Graph  *graphstore.Store
	Vector *vectordb.Store

	logger  *zap.Logger
	closers []func(context.Context) error
}

// Build connects every configured backend. Unreachable retrieval backends
// are logged and skipped; the turn then runs without them. Configuration
// mistakes and an unusable facts or escalation backend are returned.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Health: health.NewManager(logger), logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	shutdown, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}
	a.closers = append(a.closers, shutdown)

	completer, err := a.buildLLM(ctx)
	if err != nil {
		return nil, err
	}

	store, err := a.buildFactStore()
	if err != nil {
		return nil, err
	}

	a.buildGraph(ctx)
	a.buildVector(ctx)

	gate, err := a.buildGate(ctx)
	if err != nil {
		return nil, err
	}
	a.Gate = gate

	schema := slots.DefaultSchema()
	extractor, err := slots.NewExtractor(completer, schema, cfg.Slots.ExtractionTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("slot extractor: %w", err)
	}

	deps := activities.Deps{
		LLM:       completer,
		Schema:    schema,
		Extractor: extractor,
		Fusion: evidence.NewEngine(evidence.NewTokenizer(cfg.Fusion.Encoding, logger), evidence.Options{
			MaxTokens:  cfg.Fusion.MaxTokens,
			MaxItems:   cfg.Fusion.MaxItems,
			GraphBoost: cfg.Fusion.GraphBoost,
		}),
		Gate: gate,
	}
	if a.Graph != nil {
		deps.Graph = a.Graph
	}
	if a.Vector != nil {
		deps.Vector = a.Vector
	}
	acts := activities.NewActivities(deps, activities.Config{
		GraphLimit:    cfg.Neo4j.Limit,
		VectorTopK:    cfg.Vector.TopK,
		ResearchTopK:  cfg.Vector.ResearchTopK,
		LLMTimeout:    cfg.Timeouts.LLM,
		GraphTimeout:  cfg.Timeouts.Graph,
		VectorTimeout: cfg.Timeouts.Vector,
	}, logger)

	a.Engine = workflows.NewEngine(acts, store, workflows.Options{
		StageTimeout: cfg.Timeouts.Stage,
		SaveTimeout:  cfg.Timeouts.Save,
		NoAnswer:     cfg.Compliance.NoAnswer,
	}, logger)
	ok = true
	return a, nil
}

func (a *App) buildLLM(ctx context.Context) (llm.Completer, error) {
	c := a.Config.LLM
	switch c.Provider {
	case "gemini":
		g, err := llm.NewGenAIClient(ctx, llm.GenAIConfig{
			APIKey:      c.APIKey,
			Model:       c.Model,
			MaxTokens:   int32(c.MaxTokens),
			Temperature: float32(c.Temperature),
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return g, nil
	default:
		h := llm.NewHTTPClient(llm.HTTPConfig{
			BaseURL:       c.BaseURL,
			AgentID:       c.AgentID,
			MaxTokens:     c.MaxTokens,
			Temperature:   c.Temperature,
			Timeout:       c.Timeout,
			RatePerSecond: c.RatePerSecond,
			Burst:         c.Burst,
		}, a.logger)
		_ = a.Health.RegisterChecker(health.NewLLMServiceHealthChecker(c.BaseURL, h, a.logger))
		return h, nil
	}
}

func (a *App) buildFactStore() (factstore.Store, error) {
	c := a.Config
	switch c.Facts.Backend {
	case factstore.BackendRedis:
		rs, err := factstore.NewRedisStore(factstore.RedisConfig{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Facts.KeyPrefix,
			TTL:       c.Facts.TTL,
			MaxCached: c.Facts.MaxCached,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("facts store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
		_ = a.Health.RegisterChecker(health.NewRedisHealthChecker("facts_store", rs.RedisWrapper()))
		return rs, nil
	case factstore.BackendFile:
		fs, err := factstore.NewFileStore(c.Facts.Dir)
		if err != nil {
			return nil, fmt.Errorf("facts store: %w", err)
		}
		return fs, nil
	default:
		a.logger.Warn("Facts are kept in memory and lost on restart")
		return factstore.NewMemoryStore(), nil
	}
}

func (a *App) buildGraph(ctx context.Context) {
	c := a.Config.Neo4j
	if !c.Enabled {
		return
	}
	g, err := graphstore.New(ctx, c.Config, a.logger)
	if err != nil {
		a.logger.Warn("Knowledge graph unavailable, continuing without it", zap.String("uri", c.URI), zap.Error(err))
		return
	}
	a.Graph = g
	a.closers = append(a.closers, g.Close)
	_ = a.Health.RegisterChecker(health.NewDependencyChecker("graph", g, false))
}

func (a *App) buildVector(ctx context.Context) {
	c := a.Config
	if !c.Vector.Enabled {
		return
	}
	ecfg := c.Embeddings
	if ecfg.BaseURL == "" {
		ecfg.BaseURL = c.LLM.BaseURL
	}
	if ecfg.BaseURL == "" {
		a.logger.Warn("Vector retrieval disabled: no embeddings endpoint configured")
		return
	}
	var cache embeddings.Cache
	if ecfg.RedisAddr != "" {
		rc, err := embeddings.NewRedisCache(ecfg.RedisAddr, a.logger)
		if err != nil {
			a.logger.Warn("Embedding cache unavailable, using local cache only", zap.Error(err))
		} else {
			cache = rc
			a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
		}
	}
	v := vectordb.New(c.Vector.Config, embeddings.New(ecfg, cache, a.logger), a.logger)
	if err := v.ValidateEmbeddingDimensions(ctx); err != nil {
		a.logger.Warn("Vector collection check failed", zap.String("collection", c.Vector.Collection), zap.Error(err))
	}
	a.Vector = v
	_ = a.Health.RegisterChecker(health.NewVectorHealthChecker(v))
}

func (a *App) buildGate(ctx context.Context) (*compliance.Gate, error) {
	c := a.Config.Compliance
	rules := compliance.DefaultRules()
	if c.RulesFile != "" {
		r, err := compliance.LoadRules(c.RulesFile)
		if err != nil {
			return nil, &config.ConfigurationError{Key: "compliance.rules_file", Reason: err.Error()}
		}
		rules = r
	}
	sink, err := a.buildSink(ctx)
	if err != nil {
		return nil, err
	}
	gate := compliance.NewGate(rules, sink, c.Escalation.Timeout, a.logger)

	if c.RulesFile != "" && c.WatchRules {
		fw, err := config.NewFileWatcher(c.RulesFile, gate.ReloadFrom, a.logger)
		if err != nil {
			return nil, err
		}
		if err := fw.Start(ctx); err != nil {
			a.logger.Warn("Compliance rules will not hot reload", zap.Error(err))
			_ = fw.Stop()
		} else {
			a.closers = append(a.closers, func(context.Context) error { return fw.Stop() })
		}
	}
	return gate, nil
}

func (a *App) buildSink(ctx context.Context) (compliance.Sink, error) {
	e := a.Config.Compliance.Escalation
	fileSink := func() (compliance.Sink, error) {
		s, err := compliance.NewFileSink(e.LogPath)
		if err != nil {
			return nil, fmt.Errorf("escalation log: %w", err)
		}
		return s, nil
	}
	sqlSink := func() (compliance.Sink, error) {
		s, err := compliance.OpenSQLSink(ctx, e.SQLDriver, e.SQLDSN)
		if err != nil {
			return nil, fmt.Errorf("escalation database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil
	}
	streamSink := func() (compliance.Sink, error) {
		rc := redisv9.NewClient(&redisv9.Options{Addr: a.Config.Redis.Addr, Password: a.Config.Redis.Password, DB: a.Config.Redis.DB})
		a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
		return compliance.NewStreamSink(rc, e.Stream, e.StreamMaxLen), nil
	}

	switch e.Sink {
	case "none":
		return nil, nil
	case "file":
		return fileSink()
	case "sql":
		return sqlSink()
	case "stream":
		return streamSink()
	case "multi":
		var multi compliance.MultiSink
		builders := []func() (compliance.Sink, error){fileSink, streamSink}
		if e.SQLDSN != "" {
			builders = append(builders, sqlSink)
		}
		for _, b := range builders {
			s, err := b()
			if err != nil {
				return nil, err
			}
			multi = append(multi, s)
		}
		return multi, nil
	}
	return nil, &config.ConfigurationError{Key: "compliance.escalation.sink", Reason: fmt.Sprintf("unknown sink %q", e.Sink)}
}

// Close releases backends in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// CloseTimeout closes with a bounded context.
func (a *App) CloseTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return a.Close(ctx)
}
