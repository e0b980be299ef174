package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/config"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/workflows"
)

// llmServer answers /agent/query with a router choice or an extraction,
// depending on the system prompt it receives.
func llmServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw, _ := json.Marshal(body)
		text := "[]"
		switch {
		case strings.Contains(string(raw), "router"):
			text = `["Nurse"]`
		case strings.Contains(string(raw), "extract"):
			text = `{"symptom":"cough","duration":null,"severity":null,"medical_history":null,"medications":null,"allergies":null,"negated_symptoms":[]}`
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "response": text})
	}))
}

func testConfig(t *testing.T, llmURL string) *config.Config {
	t.Helper()
	t.Setenv("TRIAGE_LLM_BASE_URL", llmURL)
	t.Setenv("TRIAGE_NEO4J_ENABLED", "false")
	t.Setenv("TRIAGE_VECTOR_ENABLED", "false")
	t.Setenv("TRIAGE_COMPLIANCE_ESCALATION_LOG_PATH", filepath.Join(t.TempDir(), "escalations.jsonl"))
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuild_MemoryBackendRunsTurn(t *testing.T) {
	srv := llmServer(t)
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Nil(t, a.Graph)
	assert.Nil(t, a.Vector)

	res, err := a.Engine.RunTurn(context.Background(), workflows.TurnRequest{ThreadID: "app-1", Utterance: "I have a cough"})
	require.NoError(t, err)
	assert.Equal(t, workflows.OutcomeFollowup, res.Outcome)
	assert.NotEmpty(t, res.Text)

	d := a.Health.GetDetailedHealth(context.Background())
	assert.Contains(t, d.Components, "llm_service")
}

func TestBuild_FileStoreAndSQLSink(t *testing.T) {
	srv := llmServer(t)
	defer srv.Close()
	cfg := testConfig(t, srv.URL)
	cfg.Facts.Backend = "file"
	cfg.Facts.Dir = t.TempDir()
	cfg.Compliance.Escalation.Sink = "sql"
	cfg.Compliance.Escalation.SQLDriver = "sqlite3"
	cfg.Compliance.Escalation.SQLDSN = ":memory:"

	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
}

func TestBuild_RulesFile(t *testing.T) {
	srv := llmServer(t)
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	bad := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("block_phrases: {oops\n"), 0o644))
	cfg.Compliance.RulesFile = bad
	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, config.ErrConfiguration)

	good := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(good, []byte("block_phrases: [cough]\n"), 0o644))
	cfg.Compliance.RulesFile = good
	a, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close(context.Background())
	assert.Equal(t, []string{"policy_phrase:cough"}, a.Gate.Rules().Check("a cough"))
}

func TestBuild_UnreachableRedisFails(t *testing.T) {
	srv := llmServer(t)
	defer srv.Close()
	cfg := testConfig(t, srv.URL)
	cfg.Facts.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
