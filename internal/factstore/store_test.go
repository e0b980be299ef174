package factstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

func sampleFacts() slots.Facts {
	f := slots.DefaultSchema().NewFacts()
	f.Values[slots.FieldSymptom] = "cough"
	f.Values[slots.FieldDuration] = "3 days"
	f.Values[slots.FieldMedications] = "ibuprofen"
	f.Negated = []string{"fever"}
	return f
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(rc, RedisConfig{TTL: time.Hour}, zaptest.NewLogger(t))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestStores_RoundTrip(t *testing.T) {
	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	redisStore, _ := newRedisStore(t)

	stores := map[string]Store{
		BackendMemory: NewMemoryStore(),
		BackendFile:   fileStore,
		BackendRedis:  redisStore,
	}
	schema := slots.DefaultSchema()
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Load(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Save(ctx, "thread-1", sampleFacts()))
			got, err := s.Load(ctx, "thread-1")
			require.NoError(t, err)
			assert.True(t, schema.Conform(got).Equal(sampleFacts()))
		})
	}
}

func TestEncodeRecord_WritesAliases(t *testing.T) {
	raw, err := encodeRecord(sampleFacts())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "ibuprofen", m["medication"])
	assert.Contains(t, m, "allergy")
	assert.Nil(t, m["allergy"])
	assert.Equal(t, []any{"fever"}, m[slots.NegatedField])

	back, err := decodeRecord(raw)
	require.NoError(t, err)
	conformed := slots.DefaultSchema().Conform(back)
	assert.NotContains(t, conformed.Values, "medication")
}

func TestLoadOrEmpty_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o600))

	schema := slots.DefaultSchema()
	got := LoadOrEmpty(context.Background(), s, schema, "bad", zaptest.NewLogger(t))
	assert.True(t, got.Equal(schema.NewFacts()))

	got = LoadOrEmpty(context.Background(), nil, schema, "x", nil)
	assert.True(t, got.Equal(schema.NewFacts()))
}

func TestFileStore_UnsafeThreadIDs(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/b", "..", ""} {
		require.NoError(t, s.Save(ctx, id, sampleFacts()))
		_, err := s.Load(ctx, id)
		require.NoError(t, err, id)
	}
	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "escape.json", e.Name())
	}
}

func TestRedisStore_ExpiredKeyIsNotServed(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "t1", sampleFacts()))
	assert.Equal(t, time.Hour, mr.TTL("triage:facts:t1"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Load(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	s.mu.Lock()
	_, cached := s.cache["t1"]
	s.mu.Unlock()
	assert.False(t, cached, "a missing key drops the local copy")
}

func TestRedisStore_SeesWritesFromOtherWorkers(t *testing.T) {
	first, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, first.Save(ctx, "t1", sampleFacts()))

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	second := NewRedisStoreWithClient(rc, RedisConfig{TTL: time.Hour}, zaptest.NewLogger(t))
	t.Cleanup(func() { second.Close() })

	newer := sampleFacts()
	newer.Values[slots.FieldDuration] = "2 weeks"
	require.NoError(t, second.Save(ctx, "t1", newer))

	got, err := first.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "2 weeks", got.Get(slots.FieldDuration))

	// The newer record replaced the stale local copy, so an outage cannot
	// resurrect the old duration.
	mr.SetError("LOADING Redis is loading the dataset in memory")
	_, err = first.Load(ctx, "t1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_OutageFallbackBoundedByTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, "t1", sampleFacts()))
	mr.SetError("LOADING Redis is loading the dataset in memory")

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "cough", got.Get(slots.FieldSymptom))

	now = now.Add(time.Hour)
	_, err = s.Load(ctx, "t1")
	assert.Error(t, err, "the local copy must not outlive the record's TTL")
}

func TestRedisStore_FailedSaveDropsLocalCopy(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "t1", sampleFacts()))

	mr.SetError("READONLY You can't write against a read only replica.")
	require.Error(t, s.Save(ctx, "t1", sampleFacts()))

	_, err := s.Load(ctx, "t1")
	assert.Error(t, err)
	mr.SetError("")
}

func TestRedisStore_Eviction(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(rc, RedisConfig{MaxCached: 4}, nil)
	defer s.Close()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Save(context.Background(), id, sampleFacts()))
	}
	s.mu.Lock()
	size := len(s.cache)
	_, hasNewest := s.cache["e"]
	s.mu.Unlock()
	assert.LessOrEqual(t, size, 4)
	assert.True(t, hasNewest)
}

func TestLocker_SerializesPerThread(t *testing.T) {
	l := NewLocker()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "same")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Empty(t, l.locks)
}

func TestLocker_ContextCancel(t *testing.T) {
	l := NewLocker()
	unlock, err := l.Lock(context.Background(), "t")
	require.NoError(t, err)

	other, err := l.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "t")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	assert.Empty(t, l.locks)
}
