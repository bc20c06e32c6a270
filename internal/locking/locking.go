// Package locking serializes operations on the same application id.
package locking

import (
	"context"
	"sync"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/metrics"
)

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker grants exclusive access per key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker. Waiters queue until the holder
// releases or their context ends.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	default:
		metrics.LockContention.WithLabelValues("local", "waited").Inc()
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			k.release(key, e, false)
			metrics.LockContention.WithLabelValues("local", "gave_up").Inc()
			return nil, errors.NewConcurrentModificationError(key).WithMetadata("cause", ctx.Err().Error())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(key, e, true) })
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry, held bool) {
	if held {
		<-e.sem
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// size is the number of keys currently tracked.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
