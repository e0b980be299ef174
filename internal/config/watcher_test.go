package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/compliance"
)

func TestFileWatcher_ReloadsComplianceRules(t *testing.T) {
	logger := zaptest.NewLogger(t)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_phrases: [prescribe]\n"), 0o644))

	gate := compliance.NewGate(nil, nil, time.Second, logger)
	require.NoError(t, gate.ReloadFrom(path))

	var reloads atomic.Int32
	fw, err := NewFileWatcher(path, func(p string) error {
		reloads.Add(1)
		return gate.ReloadFrom(p)
	}, logger)
	require.NoError(t, err)
	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()

	res := gate.Handle(context.Background(), "t", "q", "rest and fluids help")
	require.Equal(t, compliance.StatusApproved, res.Status)

	require.NoError(t, os.WriteFile(path, []byte("block_phrases: [fluids]\n"), 0o644))

	require.Eventually(t, func() bool {
		return gate.Handle(context.Background(), "t", "q", "rest and fluids help").Status == compliance.StatusEscalated
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))
}

func TestFileWatcher_InvalidFileKeepsRules(t *testing.T) {
	logger := zaptest.NewLogger(t)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_phrases: [fluids]\n"), 0o644))
	gate := compliance.NewGate(nil, nil, time.Second, logger)
	require.NoError(t, gate.ReloadFrom(path))

	var failures atomic.Int32
	fw, err := NewFileWatcher(path, func(p string) error {
		err := gate.ReloadFrom(p)
		if err != nil {
			failures.Add(1)
		}
		return err
	}, logger)
	require.NoError(t, err)
	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()

	require.NoError(t, os.WriteFile(path, []byte("block_phrases: {not: [a list\n"), 0o644))
	require.Eventually(t, func() bool { return failures.Load() > 0 }, 5*time.Second, 20*time.Millisecond)

	res := gate.Handle(context.Background(), "t", "q", "drink fluids")
	assert.Equal(t, compliance.StatusEscalated, res.Status)
}

func TestFileWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_phrases: []\n"), 0o644))

	var calls atomic.Int32
	fw, err := NewFileWatcher(path, func(string) error { calls.Add(1); return nil }, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, fw.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))
	time.Sleep(4 * defaultDebounce)
	assert.Equal(t, int32(0), calls.Load())

	cancel()
	assert.NoError(t, fw.Stop())
}

func TestNewFileWatcher_EmptyPath(t *testing.T) {
	_, err := NewFileWatcher("", func(string) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}
