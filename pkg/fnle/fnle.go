// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package fnle implements the fast network lookup engine: an interval
// index over IPv4 and IPv6 ranges that tolerates arbitrary overlap,
// resolves multiple matches by a configurable policy, and persists to a
// compact binary snapshot that reloads in constant time.
package fnle

import (
	"fmt"
	"net/netip"
	"reflect"

	"ipintel/pkg/model"
	"ipintel/pkg/util/ipcodec"
)

// Policy selects among overlapping ranges at query time.
type Policy int

const (
	// First returns the smallest-slot-id match (typically first-added).
	First Policy = iota
	// Smallest returns the payload of the narrowest containing range.
	Smallest
	// Largest returns the payload of the widest containing range.
	Largest
	// All returns every containing range's payload.
	All
)

func (p Policy) String() string {
	switch p {
	case First:
		return "first"
	case Smallest:
		return "smallest"
	case Largest:
		return "largest"
	case All:
		return "all"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Family limits. A range larger than this is rejected at add time;
// catch-all allocations that wide carry no signal and bloat the line.
const (
	maxRangeSizeV4Log2 = 29
	maxRangeSizeV6Log2 = 114

	// maxSlot bounds slot ids to the 27 bits the event encoding carries.
	maxSlot = 1<<27 - 1
)

// Sentinel errors for add-time rejections.
const (
	ErrOversizeRange  = model.Error("range exceeds the family size limit")
	ErrDuplicateRange = model.Error("duplicate range")
	ErrTooManyRanges  = model.Error("slot id space exhausted")
)

// BuildStats counts what happened during index construction.
type BuildStats struct {
	Ranges4           int
	Ranges6           int
	Direct4           int
	Direct6           int
	RejectedOversize  int
	RejectedDuplicate int
}

// Engine is the lookup engine. P is the payload type associated with
// every range; payloads are stored by slot id and returned verbatim.
//
// Lifecycle: Add repeatedly, seal with Build, then query. Persist
// writes a snapshot; Load replaces the engine state from one. Queries
// are pure reads over immutable buffers and need no locking; reloads
// swap whole engines by pointer.
type Engine[P any] struct {
	name   string
	policy Policy

	v4 *table[P]
	v6 *table[P]

	// direct maps host-scoped entries keyed by ipcodec.DirectKey. Kept
	// out of the sweep line so /32 floods do not pollute it.
	direct map[string][]P

	version int64
	stats   BuildStats
}

// New creates an empty engine. The name doubles as the snapshot
// directory name under the store dir.
func New[P any](name string, policy Policy) *Engine[P] {
	return &Engine[P]{
		name:   name,
		policy: policy,
		v4:     newTable[P](true),
		v6:     newTable[P](false),
		direct: make(map[string][]P),
	}
}

// Name returns the engine name.
func (e *Engine[P]) Name() string { return e.name }

// Policy returns the configured tie-break policy.
func (e *Engine[P]) Policy() Policy { return e.policy }

// Version returns the snapshot version stamp, zero before Persist/Load.
func (e *Engine[P]) Version() int64 { return e.version }

// Stats returns the build counters.
func (e *Engine[P]) Stats() BuildStats { return e.stats }

// Len returns the number of indexed ranges (direct hosts excluded).
func (e *Engine[P]) Len() int {
	return len(e.v4.payloads) + len(e.v6.payloads)
}

// CloneForReload returns an empty engine carrying this engine's name,
// policy and version. Loading the clone skips unchanged snapshots, and
// swapping the clone in wholesale keeps concurrent readers off any
// partially loaded state.
func (e *Engine[P]) CloneForReload() *Engine[P] {
	c := New[P](e.name, e.policy)
	c.version = e.version
	return c
}

// Add indexes a network given as CIDR, "start-end" inetnum, or a bare
// host address. Single-host entries go to the direct table.
func (e *Engine[P]) Add(network string, payload P) error {
	start, end, err := ipcodec.ParseNetwork(network)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidNetwork, err)
	}

	if start == end {
		return e.addDirect(start, payload)
	}

	t := e.tableFor(start)
	if t.sealed {
		return model.ErrSealed
	}

	s, en := coordOf(start), coordOf(end)
	if t.oversize(s, en) {
		e.stats.RejectedOversize++
		return fmt.Errorf("%w: %s", ErrOversizeRange, network)
	}
	if _, dup := t.dup[rangeKey{s, en}]; dup {
		e.stats.RejectedDuplicate++
		return fmt.Errorf("%w: %s", ErrDuplicateRange, network)
	}
	if len(t.starts) >= maxSlot {
		return ErrTooManyRanges
	}

	t.dup[rangeKey{s, en}] = struct{}{}
	t.starts = append(t.starts, s)
	t.ends = append(t.ends, en)
	t.payloads = append(t.payloads, payload)
	if t.is4 {
		e.stats.Ranges4++
	} else {
		e.stats.Ranges6++
	}
	return nil
}

func (e *Engine[P]) addDirect(addr netip.Addr, payload P) error {
	t := e.tableFor(addr)
	if t.sealed {
		return model.ErrSealed
	}
	key := ipcodec.DirectKey(addr)
	_, existed := e.direct[key]
	if e.policy == All {
		e.direct[key] = append(e.direct[key], payload)
	} else {
		e.direct[key] = []P{payload}
	}
	if !existed {
		if addr.Is4() {
			e.stats.Direct4++
		} else {
			e.stats.Direct6++
		}
	}
	return nil
}

// Build seals both families: sorts the sweep lines, computes overlap
// lists and mate pointers, and collapses equal direct lists. Add after
// Build is rejected with ErrSealed.
func (e *Engine[P]) Build() error {
	if e.v4.sealed || e.v6.sealed {
		return model.ErrSealed
	}
	e.v4.build()
	e.v6.build()

	if e.policy == All {
		for key, list := range e.direct {
			e.direct[key] = collapseEqual(list)
		}
	}
	return nil
}

// collapseEqual reduces a direct list to one element when every entry
// is equal, preserving insertion order otherwise.
func collapseEqual[P any](list []P) []P {
	if len(list) < 2 {
		return list
	}
	for i := 1; i < len(list); i++ {
		if !reflect.DeepEqual(list[0], list[i]) {
			return list
		}
	}
	return list[:1]
}

func (e *Engine[P]) tableFor(addr netip.Addr) *table[P] {
	if addr.Is4() {
		return e.v4
	}
	return e.v6
}

// coordOf maps an address to its uniform 128-bit coordinate; IPv4
// coordinates live in the low 32 bits.
func coordOf(addr netip.Addr) ipcodec.U128 {
	if addr.Is4() {
		return ipcodec.U128{Lo: uint64(ipcodec.IPv4ToUint32(addr))}
	}
	return ipcodec.U128FromAddr(addr)
}

func addrOf(c ipcodec.U128, is4 bool) netip.Addr {
	if is4 {
		return ipcodec.Uint32ToIPv4(uint32(c.Lo))
	}
	return ipcodec.AddrFromU128(c)
}
