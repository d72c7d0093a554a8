// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package fnle

import (
	"net/netip"
	"sort"

	"ipintel/pkg/util/ipcodec"
)

// overlapCutoff bounds the overlap walk per query. Degenerate datasets
// can stack thousands of ranges on one address; past this many
// neighbours the walk stops, so policy All may return a truncated set
// there. Persisted overlap lists are largest-first, which keeps
// Smallest/Largest exact for the retained prefix of the list.
const overlapCutoff = 200

// Match pairs a payload with the range that produced it, for callers
// that asked for the network alongside the payload.
type Match[P any] struct {
	Payload P
	Start   netip.Addr
	End     netip.Addr
}

// Network renders the matched range in compact notation.
func (m Match[P]) Network() string {
	return ipcodec.FormatRange(m.Start, m.End)
}

// Lookup resolves a textual IP to payloads under the configured policy.
// A non-IP input or a miss returns an empty slice. Policies other than
// All return at most one payload.
func (e *Engine[P]) Lookup(query string) []P {
	addr, err := ipcodec.ParseIP(query)
	if err != nil {
		return nil
	}
	return e.LookupAddr(addr)
}

// LookupAddr is Lookup for an already-parsed address.
func (e *Engine[P]) LookupAddr(addr netip.Addr) []P {
	var out []P
	direct, directHit := e.direct[ipcodec.DirectKey(addr)]
	if directHit {
		if e.policy != All {
			return direct[:1:1]
		}
		out = append(out, direct...)
	}

	t := e.tableFor(addr)
	for _, slot := range t.matchSlots(coordOf(addr), e.policy) {
		out = append(out, t.payloads[slot])
	}
	return out
}

// LookupNetworks resolves a textual IP to matches carrying the
// reconstructed [start, end] of each matched range.
func (e *Engine[P]) LookupNetworks(query string) []Match[P] {
	addr, err := ipcodec.ParseIP(query)
	if err != nil {
		return nil
	}
	return e.LookupNetworksAddr(addr)
}

// LookupNetworksAddr is LookupNetworks for an already-parsed address.
func (e *Engine[P]) LookupNetworksAddr(addr netip.Addr) []Match[P] {
	var out []Match[P]
	direct, directHit := e.direct[ipcodec.DirectKey(addr)]
	if directHit {
		for _, p := range direct {
			out = append(out, Match[P]{Payload: p, Start: addr, End: addr})
			if e.policy != All {
				return out
			}
		}
	}

	t := e.tableFor(addr)
	for _, slot := range t.matchSlots(coordOf(addr), e.policy) {
		s, en := t.rangeOf(slot)
		out = append(out, Match[P]{
			Payload: t.payloads[slot],
			Start:   addrOf(s, t.is4),
			End:     addrOf(en, t.is4),
		})
	}
	return out
}

// matchSlots is the sweep-line query. It binary-searches the line for
// the coordinate, classifies the hit (straight match, open range, or
// between ranges), then applies the policy over the anchor slot and its
// overlap list.
func (t *table[P]) matchSlots(c ipcodec.U128, policy Policy) []uint32 {
	if t.nEvents == 0 {
		return nil
	}

	i := sort.Search(t.nEvents, func(k int) bool {
		return t.coordAt(k).Cmp(c) >= 0
	})

	var anchor uint32
	contained := false
	switch {
	case i < t.nEvents && t.coordAt(i).Cmp(c) == 0:
		// Straight match: the coordinate sits on an event. Both
		// endpoints are inclusive, so END counts as inside too.
		anchor = t.slotAt(i)
		contained = true
	case i == 0:
		// Below every event.
		return nil
	default:
		// The preceding event decides: a START means we are inside that
		// slot's range; an END means no primary range contains us, but a
		// wider range whose START lies further left may, and it is
		// reachable through the END slot's overlap list.
		anchor = t.slotAt(i - 1)
		contained = t.kindAt(i-1) == kindStart
	}

	switch policy {
	case First:
		if contained {
			return []uint32{anchor}
		}
		return nil

	case Smallest, Largest:
		return t.pickExtreme(anchor, contained, c, policy)

	case All:
		var out []uint32
		if contained {
			out = append(out, anchor)
		}
		neigh := t.overlaps[anchor]
		for k, j := range neigh {
			if k == overlapCutoff {
				break
			}
			if t.slotContains(j, c) {
				out = append(out, j)
			}
		}
		return out
	}
	return nil
}

// pickExtreme resolves Smallest/Largest over the anchor and its overlap
// list. The list is pre-sorted largest-first: for Largest the first
// containing neighbour already is the widest, for Smallest the walk
// keeps the last containing one. Ties on size keep the originally
// located slot.
func (t *table[P]) pickExtreme(anchor uint32, contained bool, c ipcodec.U128, policy Policy) []uint32 {
	var best uint32
	var bestSize ipcodec.U128
	have := false
	if contained {
		best, bestSize, have = anchor, t.sizeOf(anchor), true
	}

	neigh := t.overlaps[anchor]
	for k, j := range neigh {
		if k == overlapCutoff {
			break
		}
		if !t.slotContains(j, c) {
			continue
		}
		size := t.sizeOf(j)
		if !have {
			best, bestSize, have = j, size, true
			if policy == Largest {
				break
			}
			continue
		}
		if policy == Largest {
			if size.Cmp(bestSize) > 0 {
				best, bestSize = j, size
			}
			// Neighbours only shrink from here.
			break
		}
		if size.Cmp(bestSize) < 0 {
			best, bestSize = j, size
		}
	}

	if !have {
		return nil
	}
	return []uint32{best}
}
