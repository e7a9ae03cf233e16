package services

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes writers per key (contract id, or tenant id for numbering).
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key uuid.UUID) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
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
