package commands

import (
	"context"
	"sync"
)

// aggregateLocks serializes work on the same order within the process.
// Distinct orders never contend. Entries are dropped once unused.
type aggregateLocks struct {
	mu    sync.Mutex
	locks map[string]*aggregateLock
}

type aggregateLock struct {
	sem  chan struct{}
	refs int
}

func newAggregateLocks() *aggregateLocks {
	return &aggregateLocks{locks: make(map[string]*aggregateLock)}
}

// acquire blocks until the lock for key is held or ctx is done.
func (l *aggregateLocks) acquire(ctx context.Context, key string) (release func(), err error) {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &aggregateLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, lock)
		return nil, ctx.Err()
	}

	return func() {
		<-lock.sem
		l.unref(key, lock)
	}, nil
}

func (l *aggregateLocks) unref(key string, lock *aggregateLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}
