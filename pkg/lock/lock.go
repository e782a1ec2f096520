// Package lock provides keyed mutual exclusion for the grouping pipeline.
// A single writer per (currency, side, system) key is required so that two
// orders for the same key never open separate exposure groups.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes work under a string key. Acquire blocks until the key
// lock is held or the context is done; the returned release function must be
// called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// MemoryLocker is an in-process Locker for single-instance deployments and
// tests. Multi-instance deployments must use RedisLocker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return m.Unlock, nil
	case <-ctx.Done():
		// The goroutine will eventually take the mutex; hand it straight back.
		go func() {
			<-acquired
			m.Unlock()
		}()
		return nil, ctx.Err()
	}
}
