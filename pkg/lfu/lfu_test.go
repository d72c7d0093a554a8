// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package lfu

import "testing"

func TestGetSet(t *testing.T) {
	c := New[string](4)

	if _, ok := c.Get("a"); ok {
		t.Error("empty cache should miss")
	}

	c.Set("a", "1")
	v, ok := c.Get("a")
	if !ok || v != "1" {
		t.Errorf("Get(a) = %q, %v; want 1, true", v, ok)
	}

	c.Set("a", "2")
	if v, _ := c.Get("a"); v != "2" {
		t.Errorf("Get(a) after update = %q, want 2", v)
	}

	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 {
		t.Errorf("stats = %+v, want 2 hits, 1 miss", st)
	}
}

func TestEvictsLeastFrequentlyUsed(t *testing.T) {
	c := New[int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// a and c get used; b stays cold.
	c.Get("a")
	c.Get("a")
	c.Get("c")

	c.Set("d", 4)
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted as least frequently used")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if st := c.Stats(); st.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", st.Evictions)
	}
}

func TestEvictsColdestAmongEqualFrequency(t *testing.T) {
	c := New[int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// All at frequency 1; "a" is the oldest insertion, so it goes.
	c.Set("d", 4)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted as the coldest equal-frequency entry")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should still be cached")
	}
}

func TestZeroCapacityDisablesCache(t *testing.T) {
	c := New[int](0)
	c.Set("a", 1)
	if _, ok := c.Get("a"); ok {
		t.Error("zero-capacity cache should never store")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestReset(t *testing.T) {
	c := New[int](4)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Reset()

	if c.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Reset should drop entries")
	}

	// Cache keeps working after Reset, including eviction.
	for i, k := range []string{"w", "x", "y", "z", "q"} {
		c.Set(k, i)
	}
	if c.Len() != 4 {
		t.Errorf("Len = %d, want capacity 4", c.Len())
	}
}
