// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package lfu provides the bounded least-frequently-used response cache
// sitting in front of the lookup pipeline. Each frequency has an
// insertion-ordered bucket, so among equally-used entries the coldest
// goes first. All operations are O(1).
package lfu

import (
	"container/list"
	"sync"
)

type node[V any] struct {
	key   string
	value V
	freq  int
}

// Stats are the cache hit/miss/eviction counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

// Cache is a fixed-capacity LFU cache. Safe for concurrent use; the
// critical sections are microseconds, so one coarse mutex suffices.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	buckets  map[int]*list.List
	minFreq  int

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache holding at most capacity entries. A capacity of
// zero disables caching: every Get misses and Set is a no-op.
func New[V any](capacity int) *Cache[V] {
	return &Cache[V]{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		buckets:  make(map[int]*list.List),
	}
}

// Get returns the cached value and bumps the entry's frequency.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.promote(el)
	return el.Value.(*node[V]).value, true
}

// Set stores a value, evicting the least-frequently-used entry at
// capacity. Setting an existing key updates the value and counts as a
// use.
func (c *Cache[V]) Set(key string, value V) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*node[V]).value = value
		c.promote(el)
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOne()
	}

	n := &node[V]{key: key, value: value, freq: 1}
	c.entries[key] = c.bucket(1).PushFront(n)
	c.minFreq = 1
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
		Capacity:  c.capacity,
	}
}

// Reset drops every entry, keeping the counters.
func (c *Cache[V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.buckets = make(map[int]*list.List)
	c.minFreq = 0
}

// promote moves an entry to the head of the next frequency bucket.
func (c *Cache[V]) promote(el *list.Element) {
	n := el.Value.(*node[V])
	old := c.buckets[n.freq]
	old.Remove(el)
	if old.Len() == 0 {
		delete(c.buckets, n.freq)
		if c.minFreq == n.freq {
			c.minFreq++
		}
	}
	n.freq++
	c.entries[n.key] = c.bucket(n.freq).PushFront(n)
}

// evictOne removes the tail of the lowest non-empty frequency bucket.
func (c *Cache[V]) evictOne() {
	b, ok := c.buckets[c.minFreq]
	if !ok {
		// minFreq went stale (e.g. after Reset); rescan.
		lowest := -1
		for f := range c.buckets {
			if lowest < 0 || f < lowest {
				lowest = f
			}
		}
		if lowest < 0 {
			return
		}
		c.minFreq = lowest
		b = c.buckets[lowest]
	}
	el := b.Back()
	if el == nil {
		return
	}
	n := el.Value.(*node[V])
	b.Remove(el)
	if b.Len() == 0 {
		delete(c.buckets, c.minFreq)
	}
	delete(c.entries, n.key)
	c.evictions++
}

func (c *Cache[V]) bucket(freq int) *list.List {
	b, ok := c.buckets[freq]
	if !ok {
		b = list.New()
		c.buckets[freq] = b
	}
	return b
}
