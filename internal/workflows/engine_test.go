package workflows

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/compliance"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/factstore"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type llmFunc func(system, user string) (string, error)

func (f llmFunc) Complete(_ context.Context, system, user string) (string, error) {
	return f(system, user)
}

// triageLLM routes by system prompt: router, extraction and synthesis get
// scripted answers; everything else returns nothing.
func triageLLM(route string, extract func(user string) string, synth string) llmFunc {
	return func(system, user string) (string, error) {
		switch {
		case strings.Contains(system, "router"):
			return route, nil
		case strings.Contains(system, "extract"):
			return extract(user), nil
		case strings.Contains(system, "reasoning"):
			return synth, nil
		}
		return "", errors.New("unscripted")
	}
}

type fakeGraph struct {
	mu      sync.Mutex
	hits    map[string][]evidence.GraphHit
	queries []string
	panics  bool
}

func (f *fakeGraph) QueryBySymptom(_ context.Context, q string, _ int) ([]evidence.GraphHit, error) {
	if f.panics {
		panic("driver exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.hits[q], nil
}

func (f *fakeGraph) QueryByAllSymptoms(context.Context, []string, int) ([]evidence.GraphHit, error) {
	return nil, nil
}

type failingStore struct{ *factstore.MemoryStore }

func (failingStore) Save(context.Context, string, slots.Facts) error { return errors.New("disk full") }

func newEngine(t *testing.T, c llmFunc, g *fakeGraph, store factstore.Store, sink compliance.Sink) *Engine {
	t.Helper()
	logger := zaptest.NewLogger(t)
	schema := slots.DefaultSchema()
	ex, err := slots.NewExtractor(c, schema, time.Second, logger)
	require.NoError(t, err)
	deps := activities.Deps{
		LLM:       c,
		Schema:    schema,
		Extractor: ex,
		Gate:      compliance.NewGate(compliance.DefaultRules(), sink, time.Second, logger),
	}
	if g != nil {
		deps.Graph = g
	}
	acts := activities.NewActivities(deps, activities.Config{}, logger)
	return NewEngine(acts, store, Options{StageTimeout: 5 * time.Second}, logger)
}

func extractJSON(js string) func(string) string { return func(string) string { return js } }

func TestRunTurn_CoughAsksForDuration(t *testing.T) {
	store := factstore.NewMemoryStore()
	e := newEngine(t, triageLLM(`["Nurse"]`, extractJSON(`{"symptom":"cough","duration":null}`), ""), nil, store, nil)

	res, err := e.RunTurn(context.Background(), TurnRequest{ThreadID: "a", Utterance: "I have a cough"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFollowup, res.Outcome)
	assert.Equal(t, "How long have you been experiencing this?", res.Text)

	saved, err := store.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "cough", saved.Get(slots.FieldSymptom))
	assert.Equal(t, "", saved.Get(slots.FieldDuration))
}

func TestRunTurn_NoFeverRunsSpecialist(t *testing.T) {
	ctx := context.Background()
	store := factstore.NewMemoryStore()
	prior := slots.DefaultSchema().NewFacts()
	prior.Values[slots.FieldSymptom] = "cough"
	prior.Values[slots.FieldDuration] = "3 days"
	require.NoError(t, store.Save(ctx, "b", prior))

	g := &fakeGraph{hits: map[string][]evidence.GraphHit{
		"cough": {{Subject: "Bronchitis", Predicate: "IS_SYMPTOM", Object: "Cough"}},
	}}
	e := newEngine(t, triageLLM(`["Nurse"]`, extractJSON(`{"negated_symptoms":["fever"]}`), ""), g, store, nil)

	res, err := e.RunTurn(ctx, TurnRequest{ThreadID: "b", Utterance: "no fever"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.Equal(t, []string{"cough"}, g.queries)
	assert.Contains(t, res.Text, "1. Bronchitis (matches: Cough)")
	assert.True(t, strings.HasSuffix(res.Text, compliance.DefaultDisclaimer))

	saved, err := store.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "cough", saved.Get(slots.FieldSymptom))
	assert.Equal(t, "3 days", saved.Get(slots.FieldDuration))
	assert.Equal(t, []string{"fever"}, saved.Negated)
	assert.Equal(t, "", saved.Get(slots.FieldSeverity), "auto-filled defaults are not persisted")
	assert.Equal(t, "unspecified", res.Facts.Get(slots.FieldSeverity))
}

func TestRunTurn_EscalatesAndLogs(t *testing.T) {
	ctx := context.Background()
	store := factstore.NewMemoryStore()
	full := slots.DefaultSchema().NewFacts()
	for _, f := range slots.DefaultSchema().Fields {
		full.Values[f] = "x"
	}
	require.NoError(t, store.Save(ctx, "c", full))

	path := filepath.Join(t.TempDir(), "escalations.jsonl")
	sink, err := compliance.NewFileSink(path)
	require.NoError(t, err)

	draft := "You should definitely stop medication now"
	e := newEngine(t, triageLLM(`["Doctor"]`, extractJSON(`{}`), draft), &fakeGraph{}, store, sink)

	res, err := e.RunTurn(ctx, TurnRequest{ThreadID: "c", Utterance: "what should I do?"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, res.Outcome)
	assert.Contains(t, res.Issues, "policy_phrase:definitely")
	assert.Contains(t, res.Issues, "policy_phrase:stop medication")
	assert.NotContains(t, res.Text, draft)
	require.NotNil(t, res.Escalation)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
		assert.Contains(t, sc.Text(), `"thread_id":"c"`)
	}
	assert.Equal(t, 1, lines)
}

func TestRunTurn_ResearchOnlyStillGated(t *testing.T) {
	e := newEngine(t, triageLLM(`["Research"]`, extractJSON(`{}`), ""), nil, nil, nil)
	res, err := e.RunTurn(context.Background(), TurnRequest{ThreadID: "r", Utterance: "latest studies?"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.True(t, strings.HasPrefix(res.Text, "Could you describe your main symptom(s)?"))
	assert.True(t, strings.HasSuffix(res.Text, compliance.DefaultDisclaimer))
}

func TestRunTurn_StagePanicsAreContained(t *testing.T) {
	panicky := llmFunc(func(system, _ string) (string, error) {
		if strings.Contains(system, "extract") {
			panic("bad model client")
		}
		return `["Nurse"]`, nil
	})
	e := newEngine(t, panicky, nil, factstore.NewMemoryStore(), nil)
	res, err := e.RunTurn(context.Background(), TurnRequest{ThreadID: "p", Utterance: "help"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFollowup, res.Outcome)
	assert.Equal(t, "Could you describe your main symptom(s)?", res.Text)

	store := factstore.NewMemoryStore()
	prior := slots.DefaultSchema().NewFacts()
	prior.Values[slots.FieldSymptom] = "rash"
	prior.Values[slots.FieldDuration] = "1 day"
	require.NoError(t, store.Save(context.Background(), "q", prior))
	e = newEngine(t, triageLLM(`["Nurse"]`, extractJSON(`{}`), ""), &fakeGraph{panics: true}, store, nil)
	res, err = e.RunTurn(context.Background(), TurnRequest{ThreadID: "q", Utterance: "still itchy"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinal, res.Outcome)
	assert.NotEmpty(t, res.Text)
}

func TestRunTurn_RouterFailureDefaultsToIntakeAndSaveFailureIsSoft(t *testing.T) {
	c := llmFunc(func(system, _ string) (string, error) {
		if strings.Contains(system, "extract") {
			return `{"symptom":"headache"}`, nil
		}
		return "", errors.New("503")
	})
	e := newEngine(t, c, nil, failingStore{factstore.NewMemoryStore()}, nil)
	res, err := e.RunTurn(context.Background(), TurnRequest{ThreadID: "f", Utterance: "my head hurts"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFollowup, res.Outcome)
	assert.Equal(t, "How long have you been experiencing this?", res.Text)
	assert.Equal(t, "headache", res.Facts.Get(slots.FieldSymptom))
}

func TestRunTurn_InvalidRequest(t *testing.T) {
	e := newEngine(t, triageLLM("", extractJSON(`{}`), ""), nil, nil, nil)
	_, err := e.RunTurn(context.Background(), TurnRequest{ThreadID: "  "})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunTurn_SerializesPerThread(t *testing.T) {
	var inflight, maxInflight int32
	c := llmFunc(func(system, _ string) (string, error) {
		if strings.Contains(system, "router") {
			n := atomic.AddInt32(&inflight, 1)
			for {
				m := atomic.LoadInt32(&maxInflight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInflight, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
			return `["Nurse"]`, nil
		}
		return `{"symptom":"cough"}`, nil
	})
	e := newEngine(t, c, nil, factstore.NewMemoryStore(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RunTurn(context.Background(), TurnRequest{ThreadID: "same", Utterance: "cough"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInflight))
}
