// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package ipcodec converts between textual network notation (CIDR,
// inetnum, bare host) and the integer coordinates the lookup engine
// indexes: uint32 for IPv4, U128 for IPv6.
package ipcodec

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net/netip"
	"strings"
)

// U128 is an unsigned 128-bit integer, the coordinate type of the IPv6
// address space. Hi holds the most significant 64 bits.
type U128 struct {
	Hi uint64
	Lo uint64
}

// Cmp returns -1, 0 or 1 comparing a to b.
func (a U128) Cmp(b U128) int {
	if a.Hi != b.Hi {
		if a.Hi < b.Hi {
			return -1
		}
		return 1
	}
	if a.Lo != b.Lo {
		if a.Lo < b.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// Sub returns a-b. The caller guarantees a >= b.
func (a U128) Sub(b U128) U128 {
	lo, borrow := bits.Sub64(a.Lo, b.Lo, 0)
	hi, _ := bits.Sub64(a.Hi, b.Hi, borrow)
	return U128{Hi: hi, Lo: lo}
}

// AddOne returns a+1 with wraparound.
func (a U128) AddOne() U128 {
	lo, carry := bits.Add64(a.Lo, 1, 0)
	hi, _ := bits.Add64(a.Hi, 0, carry)
	return U128{Hi: hi, Lo: lo}
}

// IsZero reports whether a == 0.
func (a U128) IsZero() bool {
	return a.Hi == 0 && a.Lo == 0
}

// U128FromAddr converts a 16-byte address to its coordinate.
func U128FromAddr(ip netip.Addr) U128 {
	b := ip.As16()
	return U128{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// AddrFromU128 converts a coordinate back to an IPv6 address.
func AddrFromU128(v U128) netip.Addr {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], v.Hi)
	binary.BigEndian.PutUint64(b[8:16], v.Lo)
	return netip.AddrFrom16(b)
}

// IPv4ToUint32 converts an IPv4 address to its 32-bit coordinate.
func IPv4ToUint32(ip netip.Addr) uint32 {
	b := ip.As4()
	return binary.BigEndian.Uint32(b[:])
}

// Uint32ToIPv4 converts a 32-bit coordinate to an IPv4 address.
func Uint32ToIPv4(n uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return netip.AddrFrom4(b)
}

// ParseIP parses an IP address string. IPv4-mapped IPv6 addresses are
// unmapped so "::ffff:1.2.3.4" is looked up in the IPv4 family.
func ParseIP(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP address: %w", err)
	}
	return addr.Unmap(), nil
}

// CIDRToRange converts a CIDR string to inclusive start and end addresses.
func CIDRToRange(cidr string) (start, end netip.Addr, err error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("invalid CIDR: %w", err)
	}
	prefix = prefix.Masked()
	start = prefix.Addr().Unmap()

	hostBits := start.BitLen() - prefix.Bits()
	if hostBits == 0 {
		return start, start, nil
	}

	// Set all host bits, byte by byte, so IPv6 prefixes with more than
	// 64 host bits do not overflow an integer intermediate.
	endBytes := start.AsSlice()
	fullBytes := hostBits / 8
	remainingBits := hostBits % 8
	for i := len(endBytes) - 1; i >= len(endBytes)-fullBytes && i >= 0; i-- {
		endBytes[i] = 0xFF
	}
	if remainingBits > 0 {
		byteIdx := len(endBytes) - fullBytes - 1
		if byteIdx >= 0 {
			endBytes[byteIdx] |= byte((1 << remainingBits) - 1)
		}
	}

	end, ok := netip.AddrFromSlice(endBytes)
	if !ok {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("failed to derive end address for %s", cidr)
	}
	return start, end.Unmap(), nil
}

// ParseNetwork parses CIDR ("10.0.0.0/8"), inetnum ("10.0.0.0-10.1.2.3")
// or a bare host address, returning the inclusive range.
func ParseNetwork(s string) (start, end netip.Addr, err error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.Contains(s, "/"):
		return CIDRToRange(s)
	case strings.Contains(s, "-"):
		parts := strings.SplitN(s, "-", 2)
		start, err = ParseIP(parts[0])
		if err != nil {
			return netip.Addr{}, netip.Addr{}, fmt.Errorf("invalid inetnum start: %w", err)
		}
		end, err = ParseIP(parts[1])
		if err != nil {
			return netip.Addr{}, netip.Addr{}, fmt.Errorf("invalid inetnum end: %w", err)
		}
		if start.Is4() != end.Is4() {
			return netip.Addr{}, netip.Addr{}, fmt.Errorf("inetnum mixes address families: %s", s)
		}
		if start.Compare(end) > 0 {
			return netip.Addr{}, netip.Addr{}, fmt.Errorf("inetnum start after end: %s", s)
		}
		return start, end, nil
	default:
		addr, err := ParseIP(s)
		if err != nil {
			return netip.Addr{}, netip.Addr{}, err
		}
		return addr, addr, nil
	}
}

// IsInRange checks if an IP is within [start, end] inclusive.
func IsInRange(ip, start, end netip.Addr) bool {
	return ip.Compare(start) >= 0 && ip.Compare(end) <= 0
}

// FormatRange renders a range in the most compact notation: CIDR when
// the range is an exact prefix, inetnum otherwise.
func FormatRange(start, end netip.Addr) string {
	if start == end {
		return start.String()
	}
	if p, ok := RangeToPrefix(start, end); ok {
		return p.String()
	}
	return start.String() + "-" + end.String()
}

// RangeToPrefix reports whether [start, end] is exactly one CIDR prefix.
func RangeToPrefix(start, end netip.Addr) (netip.Prefix, bool) {
	bitLen := start.BitLen()
	for prefixLen := bitLen; prefixLen >= 0; prefixLen-- {
		p := netip.PrefixFrom(start, prefixLen)
		if p.Masked().Addr() != start {
			continue
		}
		s2, e2, err := CIDRToRange(p.String())
		if err != nil {
			return netip.Prefix{}, false
		}
		if s2 == start && e2 == end {
			return p, true
		}
		if e2.Compare(end) > 0 {
			return netip.Prefix{}, false
		}
	}
	return netip.Prefix{}, false
}

// DirectKey is the textual key used by the direct-host table: the
// decimal form of the 32-bit integer for IPv4, the canonical compressed
// form for IPv6.
func DirectKey(ip netip.Addr) string {
	if ip.Is4() {
		return fmt.Sprintf("%d", IPv4ToUint32(ip))
	}
	return ip.String()
}
