package reconcile

import (
	"sync"

	dm "github.com/dmitrijs2005/couplesync/internal/models"
)

// keyedMutex serializes work per entity. Locks are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[dm.Key]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key dm.Key) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
