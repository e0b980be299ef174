// Package graphstore reads disease/symptom relations from Neo4j.
package graphstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
)

// Config holds connection settings.
type Config struct {
	URI         string        `mapstructure:"uri"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	MaxPoolSize int           `mapstructure:"max_pool_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Querier is the read surface used by the specialist stage.
type Querier interface {
	QueryBySymptom(ctx context.Context, q string, limit int) ([]evidence.GraphHit, error)
	QueryByAllSymptoms(ctx context.Context, symptoms []string, limit int) ([]evidence.GraphHit, error)
}

// runner executes one Cypher statement and returns its records as maps.
type runner interface {
	read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	write(ctx context.Context, cypher string, params map[string]any) error
	verify(ctx context.Context) error
	close(ctx context.Context) error
}

// Store queries the graph through a circuit breaker.
type Store struct {
	r      runner
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
			c.SocketConnectTimeout = cfg.Timeout
		})
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return newStore(&driverRunner{driver: driver, database: cfg.Database}, logger), nil
}

func newStore(r runner, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.GetGraphConfig().ToConfig(), logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("neo4j", "graph-store", cb)
	return &Store{r: r, cb: cb, logger: logger}
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	var rows []map[string]any
	err := s.cb.Execute(ctx, func() error {
		var err error
		rows, err = s.r.read(ctx, cypher, params)
		return err
	})
	circuitbreaker.GlobalMetricsCollector.RecordRequest("neo4j", "graph-store", s.cb.State(), err == nil)
	return rows, err
}

// QueryBySymptom returns relations whose object name contains q. The
// Disease/IS_SYMPTOM/Symptom schema is tried first, then any relation.
func (s *Store) QueryBySymptom(ctx context.Context, q string, limit int) (hits []evidence.GraphHit, err error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	defer observe(time.Now(), &err)

	params := map[string]any{"q": q, "limit": int64(limit)}
	rows, err := s.read(ctx, cypherSymptomPrimary, params)
	if err != nil {
		return nil, fmt.Errorf("symptom query: %w", err)
	}
	if len(rows) == 0 {
		if rows, err = s.read(ctx, cypherSymptomGeneric, params); err != nil {
			return nil, fmt.Errorf("symptom fallback query: %w", err)
		}
	}
	return toHits(rows), nil
}

// FindSimilarSymptoms lists stored symptom names containing any target.
func (s *Store) FindSimilarSymptoms(ctx context.Context, targets []string) ([]string, error) {
	clean := cleanSymptoms(targets)
	if len(clean) == 0 {
		return nil, nil
	}
	rows, err := s.read(ctx, cypherSimilarSymptoms, map[string]any{"targets": clean})
	if err != nil {
		return nil, fmt.Errorf("similar symptoms: %w", err)
	}
	var names []string
	for _, row := range rows {
		if n := str(row["name"]); n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

// QueryByAllSymptoms returns relations for diseases connected to every listed
// symptom. Stored names similar to the input replace it when found. When the
// exact match is empty a partial match (at least two symptoms, or one when
// only one was given) is tried, then the generic relation schema.
func (s *Store) QueryByAllSymptoms(ctx context.Context, symptoms []string, limit int) (hits []evidence.GraphHit, err error) {
	clean := cleanSymptoms(symptoms)
	if len(clean) == 0 {
		return nil, nil
	}
	defer observe(time.Now(), &err)

	search := clean
	if similar, serr := s.FindSimilarSymptoms(ctx, clean); serr == nil && len(similar) > 0 {
		search = cleanSymptoms(similar)
	} else if serr != nil {
		s.logger.Debug("Similar symptom lookup failed", zap.Error(serr))
	}

	params := map[string]any{
		"symptoms":      search,
		"symptom_count": int64(len(search)),
		"min_matches":   int64(min(2, len(search))),
		"limit":         int64(limit),
	}
	for _, cypher := range []string{cypherAllExact, cypherAllPartial, cypherAllGeneric} {
		rows, err := s.read(ctx, cypher, params)
		if err != nil {
			return nil, fmt.Errorf("all-symptoms query: %w", err)
		}
		if len(rows) > 0 {
			return toHits(rows), nil
		}
	}
	return nil, nil
}

// InsertTriples merges relations into the graph. IS_SYMPTOM triples use the
// Disease/Symptom schema; any other predicate is stored as a generic REL.
func (s *Store) InsertTriples(ctx context.Context, triples []evidence.GraphHit) error {
	var medical, generic []map[string]any
	for _, t := range triples {
		row := map[string]any{"s": t.Subject, "p": t.Predicate, "o": t.Object}
		if strings.EqualFold(t.Predicate, "IS_SYMPTOM") {
			medical = append(medical, row)
		} else {
			generic = append(generic, row)
		}
	}
	if len(medical) > 0 {
		if err := s.r.write(ctx, cypherInsertTriples, map[string]any{"rows": medical}); err != nil {
			return fmt.Errorf("insert triples: %w", err)
		}
	}
	if len(generic) > 0 {
		if err := s.r.write(ctx, cypherInsertGeneric, map[string]any{"rows": generic}); err != nil {
			return fmt.Errorf("insert relations: %w", err)
		}
	}
	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.r.verify(ctx) }

// IsCircuitBreakerOpen reports whether graph calls are being rejected.
func (s *Store) IsCircuitBreakerOpen() bool { return s.cb.State() == circuitbreaker.StateOpen }

func (s *Store) Close(ctx context.Context) error { return s.r.close(ctx) }

func observe(start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	metrics.RecordRetrievalMetrics("graph", status, time.Since(start).Seconds())
}

func cleanSymptoms(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func toHits(rows []map[string]any) []evidence.GraphHit {
	hits := make([]evidence.GraphHit, 0, len(rows))
	for _, row := range rows {
		h := evidence.GraphHit{Subject: str(row["s"]), Predicate: str(row["p"]), Object: str(row["o"])}
		if h.Subject == "" || h.Object == "" {
			continue
		}
		hits = append(hits, h)
	}
	return hits
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *driverRunner) read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: d.database})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			rows = append(rows, rec.AsMap())
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]map[string]any), nil
}

func (d *driverRunner) write(ctx context.Context, cypher string, params map[string]any) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: d.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func (d *driverRunner) verify(ctx context.Context) error { return d.driver.VerifyConnectivity(ctx) }

func (d *driverRunner) close(ctx context.Context) error { return d.driver.Close(ctx) }
