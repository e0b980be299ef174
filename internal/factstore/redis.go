package factstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	// MaxCached bounds the local fallback copy kept for Redis outages.
	MaxCached int `mapstructure:"max_cached"`
}

type cachedFacts struct {
	raw      []byte
	accessed time.Time
	expires  time.Time
}

// RedisStore keeps facts in Redis behind a circuit breaker. Redis is read on
// every Load so writes from other workers and key expiry are always seen; the
// local copy only answers while Redis is failing, and never past the TTL of
// the record it mirrors.
type RedisStore struct {
	client    *circuitbreaker.RedisWrapper
	logger    *zap.Logger
	prefix    string
	ttl       time.Duration
	maxCached int
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]*cachedFacts
}

// NewRedisStore dials Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	s := NewRedisStoreWithClient(rc, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rc *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "triage:facts:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.MaxCached <= 0 {
		cfg.MaxCached = 10000
	}
	return &RedisStore{
		client:    circuitbreaker.NewRedisWrapper(rc, "facts-store", logger),
		logger:    logger,
		prefix:    cfg.KeyPrefix,
		ttl:       cfg.TTL,
		maxCached: cfg.MaxCached,
		now:       time.Now,
		cache:     make(map[string]*cachedFacts),
	}
}

func (s *RedisStore) key(threadID string) string { return s.prefix + threadID }

func (s *RedisStore) Load(ctx context.Context, threadID string) (slots.Facts, error) {
	raw, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		s.forget(threadID)
		record(BackendRedis, "load", ErrNotFound)
		return slots.Facts{}, ErrNotFound
	case err != nil:
		if cached, ok := s.cached(threadID); ok {
			metrics.FactsCacheHits.Inc()
			s.logger.Warn("Serving cached facts while Redis is unavailable",
				zap.String("thread_id", threadID), zap.Error(err))
			f, derr := decodeRecord(cached)
			record(BackendRedis, "load", derr)
			return f, derr
		}
		metrics.FactsCacheMisses.Inc()
		record(BackendRedis, "load", err)
		return slots.Facts{}, fmt.Errorf("failed to get facts: %w", err)
	}

	f, err := decodeRecord(raw)
	record(BackendRedis, "load", err)
	if err != nil {
		s.forget(threadID)
		return slots.Facts{}, err
	}
	s.reconcile(threadID, raw)
	return f, nil
}

// reconcile drops the local copy when Redis holds a different record, such as
// one written by another worker. Its expiry is unknown here, so it is not
// cached until this store writes it.
func (s *RedisStore) reconcile(threadID string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cache[threadID]; ok && !bytes.Equal(c.raw, raw) {
		delete(s.cache, threadID)
		metrics.FactsCacheSize.Set(float64(len(s.cache)))
	}
}

// cached returns the local copy of a thread's record unless it has outlived
// the Redis TTL it was written with.
func (s *RedisStore) cached(threadID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[threadID]
	if !ok {
		return nil, false
	}
	now := s.now()
	if !now.Before(c.expires) {
		delete(s.cache, threadID)
		metrics.FactsCacheSize.Set(float64(len(s.cache)))
		return nil, false
	}
	c.accessed = now
	return c.raw, true
}

func (s *RedisStore) Save(ctx context.Context, threadID string, facts slots.Facts) error {
	raw, err := encodeRecord(facts)
	if err != nil {
		record(BackendRedis, "save", err)
		return fmt.Errorf("failed to marshal facts: %w", err)
	}
	if err := s.client.Set(ctx, s.key(threadID), raw, s.ttl).Err(); err != nil {
		// A stale cached copy would outlive the failed write.
		s.forget(threadID)
		record(BackendRedis, "save", err)
		return fmt.Errorf("failed to save facts: %w", err)
	}
	s.remember(threadID, raw)
	record(BackendRedis, "save", nil)
	return nil
}

// Delete removes a thread's record.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	s.forget(threadID)
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("failed to delete facts: %w", err)
	}
	return nil
}

func (s *RedisStore) remember(threadID string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.cache[threadID] = &cachedFacts{raw: raw, accessed: now, expires: now.Add(s.ttl)}
	s.evictLocked()
	metrics.FactsCacheSize.Set(float64(len(s.cache)))
}

func (s *RedisStore) forget(threadID string) {
	s.mu.Lock()
	delete(s.cache, threadID)
	metrics.FactsCacheSize.Set(float64(len(s.cache)))
	s.mu.Unlock()
}

// evictLocked drops the least recently used half once the cache is over
// capacity.
func (s *RedisStore) evictLocked() {
	if len(s.cache) <= s.maxCached {
		return
	}
	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.cache[ids[i]].accessed.Before(s.cache[ids[j]].accessed)
	})
	drop := len(s.cache) - s.maxCached/2
	for _, id := range ids[:drop] {
		delete(s.cache, id)
		metrics.FactsCacheEvictions.Inc()
	}
}

// Ping checks Redis reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// RedisWrapper exposes the breaker-wrapped client for health checks.
func (s *RedisStore) RedisWrapper() *circuitbreaker.RedisWrapper { return s.client }

func (s *RedisStore) Close() error { return s.client.Close() }
