package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/workflows"
)

type echoRunner struct{ reqs []workflows.TurnRequest }

func (e *echoRunner) RunTurn(_ context.Context, req workflows.TurnRequest) (*workflows.TurnResult, error) {
	e.reqs = append(e.reqs, req)
	return &workflows.TurnResult{ThreadID: req.ThreadID, Text: "heard: " + req.Utterance}, nil
}

func TestChat_LoopsUntilQuit(t *testing.T) {
	r := &echoRunner{}
	var out bytes.Buffer
	in := strings.NewReader("I have a cough\n\n  for two days \nQUIT\nignored\n")

	require.NoError(t, chat(context.Background(), r, "th-1", in, &out))

	require.Len(t, r.reqs, 2)
	assert.Equal(t, "th-1", r.reqs[1].ThreadID)
	assert.Equal(t, "for two days", r.reqs[1].Utterance)
	require.Len(t, r.reqs[1].Prior, 2)
	assert.Equal(t, "assistant", r.reqs[1].Prior[1].Role)
	assert.Equal(t, "heard: I have a cough", r.reqs[1].Prior[1].Content)
	assert.Contains(t, out.String(), "Assistant: heard: for two days")
	assert.Contains(t, out.String(), "Goodbye.")
}

func TestChat_EOFEndsCleanly(t *testing.T) {
	r := &echoRunner{}
	var out bytes.Buffer
	require.NoError(t, chat(context.Background(), r, "th-2", strings.NewReader("hello"), &out))
	assert.Len(t, r.reqs, 1)
}
