// Copyright 2024 The OSS Rebuild Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides an interface and implementations for caching.
package cache

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Cache is a simple interface defining a cache.
type Cache interface {
	Get(any) (any, error)
	Set(any, func() (any, error)) error
	GetOrSet(any, func() (any, error)) (any, error)
	Del(any)
	Clear()
}

// ErrNotExist is returned when a key does not exist in the cache.
var ErrNotExist = errors.New("does not exist")

// CoalescingMemoryCache is a simple cache that coalesces concurrent requests for the same key.
// Failed fetches are never retained.
type CoalescingMemoryCache struct {
	mu   sync.Mutex
	data map[any]*entry
}

type entry struct {
	load func() (any, error)
}

func (c *CoalescingMemoryCache) resolve(key any, e *entry) (any, error) {
	val, err := e.load()
	if err != nil {
		c.mu.Lock()
		if c.data[key] == e {
			delete(c.data, key)
		}
		c.mu.Unlock()
	}
	return val, err
}

// Get returns the value for the given key.
func (c *CoalescingMemoryCache) Get(key any) (any, error) {
	c.mu.Lock()
	e, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNotExist
	}
	return c.resolve(key, e)
}

// Set replaces the value for the given key with the one returned by fetch.
func (c *CoalescingMemoryCache) Set(key any, fetch func() (any, error)) error {
	e := &entry{sync.OnceValues(fetch)}
	c.mu.Lock()
	if c.data == nil {
		c.data = make(map[any]*entry)
	}
	c.data[key] = e
	c.mu.Unlock()
	_, err := c.resolve(key, e)
	return err
}

// GetOrSet returns the value for the given key, or sets it if it does not exist.
// Simultaneous callers for the same key share a single fetch.
func (c *CoalescingMemoryCache) GetOrSet(key any, fetch func() (any, error)) (any, error) {
	c.mu.Lock()
	if c.data == nil {
		c.data = make(map[any]*entry)
	}
	e, ok := c.data[key]
	if !ok {
		e = &entry{sync.OnceValues(fetch)}
		c.data[key] = e
	}
	c.mu.Unlock()
	return c.resolve(key, e)
}

// Del deletes the value for the given key.
func (c *CoalescingMemoryCache) Del(key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Clear drops every entry.
func (c *CoalescingMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

var _ Cache = &CoalescingMemoryCache{}

// ExpiringCache wraps a Cache and forgets entries older than TTL.
// Reference metadata changes upstream, so long-running services should not
// hold responses forever.
type ExpiringCache struct {
	Cache
	TTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	stored map[any]time.Time
}

var _ Cache = &ExpiringCache{}

func (c *ExpiringCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// expire drops key from the underlying cache when its entry is stale.
func (c *ExpiringCache) expire(key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if at, ok := c.stored[key]; ok && c.now().Sub(at) >= c.TTL {
		delete(c.stored, key)
		c.Cache.Del(key)
	}
}

func (c *ExpiringCache) touch(key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stored == nil {
		c.stored = make(map[any]time.Time)
	}
	if _, ok := c.stored[key]; !ok {
		c.stored[key] = c.now()
	}
}

// Get returns the value for key if it is present and fresh.
func (c *ExpiringCache) Get(key any) (any, error) {
	c.expire(key)
	return c.Cache.Get(key)
}

// Set stores a fresh value for key.
func (c *ExpiringCache) Set(key any, fetch func() (any, error)) error {
	c.mu.Lock()
	delete(c.stored, key)
	c.mu.Unlock()
	if err := c.Cache.Set(key, fetch); err != nil {
		return err
	}
	c.touch(key)
	return nil
}

// GetOrSet returns the fresh value for key, fetching it when absent or stale.
func (c *ExpiringCache) GetOrSet(key any, fetch func() (any, error)) (any, error) {
	c.expire(key)
	val, err := c.Cache.GetOrSet(key, fetch)
	if err != nil {
		return nil, err
	}
	c.touch(key)
	return val, nil
}

// Del deletes the value for key.
func (c *ExpiringCache) Del(key any) {
	c.mu.Lock()
	delete(c.stored, key)
	c.mu.Unlock()
	c.Cache.Del(key)
}

// Clear drops every entry.
func (c *ExpiringCache) Clear() {
	c.mu.Lock()
	c.stored = nil
	c.mu.Unlock()
	c.Cache.Clear()
}
