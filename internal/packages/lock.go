package packages

import (
	"context"
	"sync"
)

// keyLock is a mutex whose acquisition can be abandoned when a context ends.
type keyLock struct {
	ch chan struct{}
}

func newKeyLock() *keyLock {
	return &keyLock{ch: make(chan struct{}, 1)}
}

func (l *keyLock) lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *keyLock) tryLock() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *keyLock) unlock() {
	<-l.ch
}

// lockRegistry maps cache entries to their locks. Entries are inserted with
// LoadOrStore so two first-time callers always end up sharing one lock.
// Locks are never removed; there is one per package ever resolved.
type lockRegistry struct {
	locks sync.Map // string -> *keyLock
}

// processLocks is shared by every Cache in the process, so two caches over
// the same directory serialize against each other.
var processLocks = &lockRegistry{}

func (r *lockRegistry) get(key string) *keyLock {
	if l, ok := r.locks.Load(key); ok {
		return l.(*keyLock)
	}
	l, _ := r.locks.LoadOrStore(key, newKeyLock())
	return l.(*keyLock)
}
