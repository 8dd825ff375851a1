// Package keymutex provides a mutex keyed by an arbitrary comparable value.
//
// The orchestrator uses it to linearize session start/stop per machine: two
// concurrent operations on the same machine serialize, while operations on
// different machines proceed in parallel.
package keymutex

import "sync"

// KeyMutex is a set of named mutexes. The zero value is not usable; call New.
type KeyMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty KeyMutex.
func New[K comparable]() *KeyMutex[K] {
	return &KeyMutex[K]{locks: make(map[K]*entry)}
}

// Lock acquires the mutex for key, blocking until it is available.
func (km *KeyMutex[K]) Lock(key K) {
	km.mu.Lock()
	e, ok := km.locks[key]
	if !ok {
		e = &entry{}
		km.locks[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()
}

// TryLock attempts to acquire the mutex for key without blocking.
// Returns true if the lock was acquired.
func (km *KeyMutex[K]) TryLock(key K) bool {
	km.mu.Lock()
	e, ok := km.locks[key]
	if !ok {
		e = &entry{}
		km.locks[key] = e
	}
	e.refs++
	km.mu.Unlock()

	if e.mu.TryLock() {
		return true
	}

	km.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()
	return false
}

// Unlock releases the mutex for key. Entries with no waiters are removed so
// the map does not grow with the number of distinct keys ever seen.
func (km *KeyMutex[K]) Unlock(key K) {
	km.mu.Lock()
	e, ok := km.locks[key]
	if !ok {
		km.mu.Unlock()
		panic("keymutex: unlock of unlocked key")
	}
	e.refs--
	if e.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	e.mu.Unlock()
}
