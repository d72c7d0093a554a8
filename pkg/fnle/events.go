// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package fnle

import (
	"encoding/binary"

	"ipintel/pkg/util/ipcodec"
)

// Event kinds on the sweep line, stored in the low 2 bits of the kind
// byte. The upper 6 bits carry bits 24-26 of the slot and mate ids, so
// ids are 27 bits wide in 3 stored bytes.
const (
	kindStart byte = 0
	kindEnd   byte = 1
)

// Fixed event widths: kind byte + coordinate + 3-byte slot + 3-byte mate.
const (
	eventSizeV4 = 1 + 4 + 3 + 3
	eventSizeV6 = 1 + 16 + 3 + 3
)

type rangeKey struct {
	start ipcodec.U128
	end   ipcodec.U128
}

// table holds one address family of an engine. Before build, starts and
// ends accumulate per add; after build (or load) only the encoded sweep
// line, the where table, the overlap lists and the payloads remain, and
// every query decodes events lazily off the line buffer.
type table[P any] struct {
	is4       bool
	eventSize int
	sealed    bool

	// build-time bookkeeping, released by build()
	starts []ipcodec.U128
	ends   []ipcodec.U128
	dup    map[rangeKey]struct{}

	line     []byte
	nEvents  int
	where    []byte // u32 little-endian per slot: line index of the START event
	overlaps map[uint32][]uint32
	payloads []P
}

func newTable[P any](is4 bool) *table[P] {
	size := eventSizeV6
	if is4 {
		size = eventSizeV4
	}
	return &table[P]{
		is4:       is4,
		eventSize: size,
		dup:       make(map[rangeKey]struct{}),
		overlaps:  make(map[uint32][]uint32),
	}
}

func (t *table[P]) oversize(start, end ipcodec.U128) bool {
	span := end.Sub(start)
	if t.is4 {
		return span.Hi != 0 || span.Lo >= 1<<maxRangeSizeV4Log2
	}
	return span.Hi >= 1<<(maxRangeSizeV6Log2-64)
}

// putEvent encodes one event at line index i.
func (t *table[P]) putEvent(i int, kind byte, coord ipcodec.U128, slot, mate uint32) {
	b := t.line[i*t.eventSize:]
	b[0] = kind&0x3 | byte(slot>>24&0x7)<<2 | byte(mate>>24&0x7)<<5
	if t.is4 {
		binary.LittleEndian.PutUint32(b[1:5], uint32(coord.Lo))
		putID24(b[5:8], slot)
		putID24(b[8:11], mate)
		return
	}
	binary.LittleEndian.PutUint64(b[1:9], coord.Hi)
	binary.LittleEndian.PutUint64(b[9:17], coord.Lo)
	putID24(b[17:20], slot)
	putID24(b[20:23], mate)
}

func (t *table[P]) kindAt(i int) byte {
	return t.line[i*t.eventSize] & 0x3
}

func (t *table[P]) coordAt(i int) ipcodec.U128 {
	b := t.line[i*t.eventSize:]
	if t.is4 {
		return ipcodec.U128{Lo: uint64(binary.LittleEndian.Uint32(b[1:5]))}
	}
	return ipcodec.U128{
		Hi: binary.LittleEndian.Uint64(b[1:9]),
		Lo: binary.LittleEndian.Uint64(b[9:17]),
	}
}

func (t *table[P]) slotAt(i int) uint32 {
	b := t.line[i*t.eventSize:]
	hi := uint32(b[0]>>2&0x7) << 24
	if t.is4 {
		return hi | id24(b[5:8])
	}
	return hi | id24(b[17:20])
}

func (t *table[P]) mateAt(i int) int {
	b := t.line[i*t.eventSize:]
	hi := uint32(b[0]>>5&0x7) << 24
	if t.is4 {
		return int(hi | id24(b[8:11]))
	}
	return int(hi | id24(b[20:23]))
}

// whereAt returns the line index of slot's START event.
func (t *table[P]) whereAt(slot uint32) int {
	return int(binary.LittleEndian.Uint32(t.where[slot*4:]))
}

// rangeOf reconstructs slot's [start, end] from the line via the where
// table and the back-patched mate pointer.
func (t *table[P]) rangeOf(slot uint32) (start, end ipcodec.U128) {
	sPos := t.whereAt(slot)
	return t.coordAt(sPos), t.coordAt(t.mateAt(sPos))
}

func (t *table[P]) sizeOf(slot uint32) ipcodec.U128 {
	s, e := t.rangeOf(slot)
	return e.Sub(s)
}

func (t *table[P]) slotContains(slot uint32, c ipcodec.U128) bool {
	s, e := t.rangeOf(slot)
	return s.Cmp(c) <= 0 && c.Cmp(e) <= 0
}

func putID24(b []byte, id uint32) {
	b[0] = byte(id)
	b[1] = byte(id >> 8)
	b[2] = byte(id >> 16)
}

func id24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
