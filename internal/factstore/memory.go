package factstore

import (
	"context"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, threadID string) (slots.Facts, error) {
	m.mu.RLock()
	raw, ok := m.data[threadID]
	m.mu.RUnlock()
	if !ok {
		record(BackendMemory, "load", ErrNotFound)
		return slots.Facts{}, ErrNotFound
	}
	f, err := decodeRecord(raw)
	record(BackendMemory, "load", err)
	return f, err
}

func (m *MemoryStore) Save(_ context.Context, threadID string, facts slots.Facts) error {
	raw, err := encodeRecord(facts)
	if err != nil {
		record(BackendMemory, "save", err)
		return err
	}
	m.mu.Lock()
	m.data[threadID] = raw
	m.mu.Unlock()
	record(BackendMemory, "save", nil)
	return nil
}
