// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package syncx

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_SameKeySerializes(t *testing.T) {
	var km KeyedMutex[string]
	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("build-1")
			defer unlock()
			mu.Lock()
			inside++
			maxInside = max(maxInside, inside)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if km.Held() != 0 {
		t.Errorf("Held() = %d after release, want 0", km.Held())
	}
}

func TestKeyedMutex_DistinctKeysIndependent(t *testing.T) {
	var km KeyedMutex[string]
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Lock(b) blocked behind Lock(a)")
	}
	unlockA()
	unlockA() // Repeated release is a no-op.
	if km.Held() != 0 {
		t.Errorf("Held() = %d, want 0", km.Held())
	}
}
