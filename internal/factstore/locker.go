package factstore

import (
	"context"
	"sync"
)

// Locker serializes turns per thread. Locks for different threads are
// independent; idle entries are released when their last holder unlocks.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	ch   chan struct{}
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*threadLock)}
}

// Lock blocks until the thread is free or ctx ends. The returned function
// releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{ch: make(chan struct{}, 1)}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
		return func() {
			<-tl.ch
			l.release(threadID, tl)
		}, nil
	case <-ctx.Done():
		l.release(threadID, tl)
		return nil, ctx.Err()
	}
}

func (l *Locker) release(threadID string, tl *threadLock) {
	l.mu.Lock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, threadID)
	}
	l.mu.Unlock()
}
