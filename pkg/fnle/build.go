// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package fnle

import (
	"sort"

	"ipintel/pkg/util/ipcodec"
)

type buildEvent struct {
	kind byte
	coord ipcodec.U128
	slot uint32
}

// build seals one family: emits 2n events, sorts them (coordinate
// ascending, START before END at equal coordinate), computes overlap
// lists via a sweep with an open set, then encodes the line buffer with
// back-patched mate pointers. Cost is O(n log n) plus the total number
// of overlap pairs.
func (t *table[P]) build() {
	n := len(t.starts)
	evs := make([]buildEvent, 0, 2*n)
	for i := 0; i < n; i++ {
		evs = append(evs, buildEvent{kind: kindStart, coord: t.starts[i], slot: uint32(i)})
		evs = append(evs, buildEvent{kind: kindEnd, coord: t.ends[i], slot: uint32(i)})
	}
	sort.Slice(evs, func(a, b int) bool {
		c := evs[a].coord.Cmp(evs[b].coord)
		if c != 0 {
			return c < 0
		}
		if evs[a].kind != evs[b].kind {
			return evs[a].kind == kindStart
		}
		return evs[a].slot < evs[b].slot
	})

	// Sweep: a START while others are open marks the new slot as
	// overlapping every open one. A range starting exactly where another
	// ends counts as overlapping at that single coordinate, because END
	// sorts after START at equal coordinates.
	open := make(map[uint32]struct{})
	for _, ev := range evs {
		if ev.kind == kindStart {
			for j := range open {
				t.overlaps[ev.slot] = append(t.overlaps[ev.slot], j)
				t.overlaps[j] = append(t.overlaps[j], ev.slot)
			}
			open[ev.slot] = struct{}{}
		} else {
			delete(open, ev.slot)
		}
	}

	// Largest-first overlap lists make the extreme the first containing
	// entry at query time. Equal sizes order by slot id for determinism.
	for slot, list := range t.overlaps {
		sort.Slice(list, func(a, b int) bool {
			sa := t.ends[list[a]].Sub(t.starts[list[a]])
			sb := t.ends[list[b]].Sub(t.starts[list[b]])
			if c := sa.Cmp(sb); c != 0 {
				return c > 0
			}
			return list[a] < list[b]
		})
		t.overlaps[slot] = list
	}

	// Event positions: where[slot] is the START line index; each event's
	// mate field is the line index of its paired endpoint.
	startPos := make([]int, n)
	endPos := make([]int, n)
	for pos, ev := range evs {
		if ev.kind == kindStart {
			startPos[ev.slot] = pos
		} else {
			endPos[ev.slot] = pos
		}
	}

	t.nEvents = len(evs)
	t.line = make([]byte, t.nEvents*t.eventSize)
	t.where = make([]byte, n*4)
	for pos, ev := range evs {
		mate := endPos[ev.slot]
		if ev.kind == kindEnd {
			mate = startPos[ev.slot]
		}
		t.putEvent(pos, ev.kind, ev.coord, ev.slot, uint32(mate))
	}
	for slot := 0; slot < n; slot++ {
		putU32(t.where[slot*4:], uint32(startPos[slot]))
	}

	// The line plus where plus payloads now carry everything queries
	// need; drop the build arrays like a loaded snapshot would.
	t.starts, t.ends, t.dup = nil, nil, nil
	t.sealed = true
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
