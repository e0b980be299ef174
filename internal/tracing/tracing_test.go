package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	UseProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)), "triage-test")
	return rec
}

func TestTurnAndStageSpansNest(t *testing.T) {
	rec := recordSpans(t)

	ctx, turn := StartTurnSpan(context.Background(), "thread-9")
	_, stage := StartStageSpan(ctx, "fusion")
	RecordError(stage, errors.New("token budget exceeded"))
	RecordError(stage, nil)
	stage.End()
	turn.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	s, root := spans[0], spans[1]

	assert.Equal(t, "triage.stage.fusion", s.Name())
	assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID())
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Len(t, s.Events(), 1)

	assert.Equal(t, "triage.turn", root.Name())
	assert.Equal(t, trace.SpanKindServer, root.SpanKind())
	assert.Contains(t, root.Attributes(), attribute.String("triage.thread_id", "thread-9"))
}

func TestTraceparentRoundTrip(t *testing.T) {
	recordSpans(t)

	ctx, span := StartHTTPSpan(context.Background(), http.MethodPost, "http://llm:8000/agent/query")
	defer span.End()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", nil)
	InjectTraceparent(ctx, req)
	require.NotEmpty(t, req.Header.Get("traceparent"))

	remote := trace.SpanContextFromContext(Extract(context.Background(), req.Header))
	assert.True(t, remote.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), remote.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), remote.SpanID())
}

func TestInjectWithoutSpanLeavesHeaderEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	InjectTraceparent(context.Background(), req)
	assert.Empty(t, req.Header.Get("traceparent"))
}

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
