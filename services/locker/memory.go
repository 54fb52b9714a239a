package lockersvc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/edupay/feeledger/core"
)

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is an in-process core.Locker with one mutex per key.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyedEntry
}

var _ core.Locker = (*KeyedMutex)(nil)

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyedEntry)}
}

func (km *KeyedMutex) acquireEntry(key string) *keyedEntry {
	km.mu.Lock()
	defer km.mu.Unlock()

	e, ok := km.keys[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		km.keys[key] = e
	}
	e.refs++
	return e
}

func (km *KeyedMutex) releaseEntry(key string, e *keyedEntry) {
	km.mu.Lock()
	defer km.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(km.keys, key)
	}
}

func (km *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	e := km.acquireEntry(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		km.releaseEntry(key, e)
		return nil, errors.Wrapf(ctx.Err(), "locking %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			km.releaseEntry(key, e)
		})
	}, nil
}

// Held reports how many callers currently hold or wait for key.
func (km *KeyedMutex) Held(key string) int {
	km.mu.Lock()
	defer km.mu.Unlock()
	if e, ok := km.keys[key]; ok {
		return e.refs
	}
	return 0
}
