package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/vectordb"
)

const slowThreshold = 100 * time.Millisecond

// Pinger is a dependency that can be probed and sits behind a breaker.
type Pinger interface {
	Ping(ctx context.Context) error
	IsCircuitBreakerOpen() bool
}

// DependencyChecker pings a store. Used for the facts store and the graph.
type DependencyChecker struct {
	name     string
	dep      Pinger
	critical bool
	timeout  time.Duration
}

func NewDependencyChecker(name string, dep Pinger, critical bool) *DependencyChecker {
	return &DependencyChecker{name: name, dep: dep, critical: critical, timeout: 5 * time.Second}
}

func (d *DependencyChecker) Name() string           { return d.name }
func (d *DependencyChecker) IsCritical() bool       { return d.critical }
func (d *DependencyChecker) Timeout() time.Duration { return d.timeout }

func (d *DependencyChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if d.dep.IsCircuitBreakerOpen() {
		return CheckResult{Status: StatusUnhealthy, Error: "circuit breaker open", Message: d.name + " circuit breaker is open"}
	}
	if err := d.dep.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: d.name + " ping failed",
		}
	}
	return latencyResult(d.name, time.Since(start), nil)
}

// RedisHealthChecker pings Redis through the breaker wrapper.
type RedisHealthChecker struct {
	name    string
	wrapper *circuitbreaker.RedisWrapper
	timeout time.Duration
}

func NewRedisHealthChecker(name string, wrapper *circuitbreaker.RedisWrapper) *RedisHealthChecker {
	return &RedisHealthChecker{name: name, wrapper: wrapper, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return r.name }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{Status: StatusUnhealthy, Error: "circuit breaker open", Message: "Redis circuit breaker is open"}
	}
	if err := r.wrapper.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Redis ping failed",
			Details: map[string]interface{}{"latency_ms": time.Since(start).Milliseconds()},
		}
	}
	return latencyResult("Redis", time.Since(start), nil)
}

// CollectionInspector is the part of the vector store the checker needs.
type CollectionInspector interface {
	CollectionInfo(ctx context.Context) (*vectordb.CollectionInfo, error)
	IsCircuitBreakerOpen() bool
}

// VectorHealthChecker confirms the passage collection exists. Retrieval
// degrades to graph-only without it, so it is not critical.
type VectorHealthChecker struct {
	store   CollectionInspector
	timeout time.Duration
}

func NewVectorHealthChecker(store CollectionInspector) *VectorHealthChecker {
	return &VectorHealthChecker{store: store, timeout: 5 * time.Second}
}

func (v *VectorHealthChecker) Name() string           { return "vector" }
func (v *VectorHealthChecker) IsCritical() bool       { return false }
func (v *VectorHealthChecker) Timeout() time.Duration { return v.timeout }

func (v *VectorHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if v.store.IsCircuitBreakerOpen() {
		return CheckResult{Status: StatusUnhealthy, Error: "circuit breaker open", Message: "Vector store circuit breaker is open"}
	}
	info, err := v.store.CollectionInfo(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "Vector collection unavailable"}
	}
	return latencyResult("Vector store", time.Since(start), map[string]interface{}{
		"collection":   info.Name,
		"vector_size":  info.VectorSize,
		"points_count": info.PointsCount,
	})
}

// LLMServiceHealthChecker calls GET {base}/health on the LLM service.
type LLMServiceHealthChecker struct {
	baseURL string
	client  *http.Client
	breaker interface{ IsCircuitBreakerOpen() bool }
	logger  *zap.Logger
	timeout time.Duration
}

// NewLLMServiceHealthChecker checks the LLM service. breaker may be nil.
func NewLLMServiceHealthChecker(baseURL string, breaker interface{ IsCircuitBreakerOpen() bool }, logger *zap.Logger) *LLMServiceHealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMServiceHealthChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		breaker: breaker,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (l *LLMServiceHealthChecker) Name() string { return "llm_service" }

// IsCritical is false: every generation step has a deterministic fallback.
func (l *LLMServiceHealthChecker) IsCritical() bool       { return false }
func (l *LLMServiceHealthChecker) Timeout() time.Duration { return l.timeout }

func (l *LLMServiceHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if l.breaker != nil && l.breaker.IsCircuitBreakerOpen() {
		return CheckResult{Status: StatusUnhealthy, Error: "circuit breaker open", Message: "LLM circuit breaker is open"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "invalid LLM service URL"}
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "LLM service unreachable"}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   fmt.Sprintf("status %d", resp.StatusCode),
			Message: "LLM service unhealthy",
		}
	}
	return latencyResult("LLM service", time.Since(start), map[string]interface{}{"base_url": l.baseURL})
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string                          { return c.name }
func (c *CustomHealthChecker) IsCritical() bool                      { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration                { return c.timeout }
func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult { return c.checkFn(ctx) }

func latencyResult(what string, latency time.Duration, details map[string]interface{}) CheckResult {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["latency_ms"] = latency.Milliseconds()
	if latency > slowThreshold {
		return CheckResult{Status: StatusDegraded, Message: what + " responding but with high latency", Details: details}
	}
	return CheckResult{Status: StatusHealthy, Message: what + " healthy", Details: details}
}
