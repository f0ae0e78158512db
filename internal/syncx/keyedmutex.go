// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package syncx provides synchronization primitives beyond the sync package.
package syncx

import "sync"

// KeyedMutex serializes callers that share a key while letting distinct keys
// proceed in parallel. The zero value is ready to use.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until the lock for key is held and returns its release func.
func (k *KeyedMutex[K]) Lock(key K) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[K]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Held reports the number of keys with a holder or waiter.
func (k *KeyedMutex[K]) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
