package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/vectordb"
)

type fakePinger struct {
	err  error
	open bool
}

func (f fakePinger) Ping(context.Context) error { return f.err }
func (f fakePinger) IsCircuitBreakerOpen() bool { return f.open }

type fakeCollection struct {
	info *vectordb.CollectionInfo
	err  error
}

func (f fakeCollection) CollectionInfo(context.Context) (*vectordb.CollectionInfo, error) {
	return f.info, f.err
}
func (fakeCollection) IsCircuitBreakerOpen() bool { return false }

func TestManager_CriticalFailureNotReady(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(NewDependencyChecker("graph", fakePinger{err: errors.New("bolt refused")}, true)))
	require.NoError(t, m.RegisterChecker(NewDependencyChecker("facts", fakePinger{}, true)))

	d := m.GetDetailedHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, d.Overall.Status)
	assert.False(t, d.Overall.Ready)
	assert.True(t, d.Overall.Live)
	assert.Equal(t, 2, d.Summary.Total)
	assert.Equal(t, 1, d.Summary.Unhealthy)
	assert.Equal(t, "bolt refused", d.Components["graph"].Error)
	assert.Equal(t, StatusHealthy, d.Components["facts"].Status)
	assert.Len(t, m.GetLastResults(), 2)
}

func TestManager_NonCriticalFailureDegrades(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(NewVectorHealthChecker(fakeCollection{err: vectordb.ErrCollectionMissing})))
	require.NoError(t, m.RegisterChecker(NewDependencyChecker("facts", fakePinger{}, true)))

	o := m.GetOverallHealth(context.Background())
	assert.Equal(t, StatusDegraded, o.Status)
	assert.True(t, o.Ready)
	assert.True(t, o.Degraded)
}

func TestManager_DuplicateAndEmptyNames(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewDependencyChecker("graph", fakePinger{}, true)))
	assert.Error(t, m.RegisterChecker(NewDependencyChecker("graph", fakePinger{}, true)))
	assert.Error(t, m.RegisterChecker(NewDependencyChecker("", fakePinger{}, true)))
}

func TestManager_PanickingCheckerIsUnhealthy(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewCustomHealthChecker("boom", true, time.Second, func(context.Context) CheckResult {
		panic("nil driver")
	})))
	d := m.GetDetailedHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, d.Components["boom"].Status)
	assert.True(t, d.Components["boom"].Critical)
}

func TestDependencyChecker_OpenBreaker(t *testing.T) {
	r := NewDependencyChecker("graph", fakePinger{open: true}, true).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "circuit breaker open", r.Error)
}

func TestRedisHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	w := circuitbreaker.NewRedisWrapper(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "facts", zaptest.NewLogger(t))
	defer w.Close()

	c := NewRedisHealthChecker("facts_store", w)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	mr.Close()
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)
}

func TestVectorHealthChecker_Details(t *testing.T) {
	c := NewVectorHealthChecker(fakeCollection{info: &vectordb.CollectionInfo{Name: "medical_passages", VectorSize: 1536, PointsCount: 42}})
	r := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, "medical_passages", r.Details["collection"])
	assert.False(t, c.IsCritical())
}

func TestLLMServiceHealthChecker(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewLLMServiceHealthChecker(srv.URL+"/", nil, zaptest.NewLogger(t))
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
	healthy = false
	r := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "status 503", r.Error)
}

func TestHTTPHandler_Routes(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewDependencyChecker("graph", fakePinger{err: errors.New("down")}, true)))
	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	tests := []struct {
		path string
		code int
		key  string
		want interface{}
	}{
		{"/health", http.StatusServiceUnavailable, "status", "unhealthy"},
		{"/health/ready", http.StatusServiceUnavailable, "ready", false},
		{"/health/live", http.StatusOK, "live", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body[tt.key])
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var d struct {
		Components map[string]struct {
			Status string `json:"status"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "unhealthy", d.Components["graph"].Status)
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.SetCheckInterval(10 * time.Millisecond)
	require.NoError(t, m.RegisterChecker(NewDependencyChecker("facts", fakePinger{}, true)))
	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return len(m.GetLastResults()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}
