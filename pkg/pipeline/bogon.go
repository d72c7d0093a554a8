// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package pipeline

import (
	"fmt"
	"net/netip"

	"ipintel/pkg/fnle"
	"ipintel/pkg/util/ipcodec"
)

// Reserved and special-use allocations. Addresses inside these never
// reach the classification indexes.
var bogonNetworks = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.88.99.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::/128",
	"::1/128",
	"100::/64",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"fec0::/10",
	"ff00::/8",
}

// The index rejects IPv6 ranges wider than 2^114 addresses, so the
// shortest prefix it can hold directly is a /14.
const minV6PrefixBits = 14

func newBogonEngine() (*fnle.Engine[string], error) {
	e := fnle.New[string]("bogon", fnle.First)
	for _, n := range bogonNetworks {
		if err := addBogon(e, n); err != nil {
			return nil, fmt.Errorf("failed to index bogon network %s: %w", n, err)
		}
	}
	if err := e.Build(); err != nil {
		return nil, fmt.Errorf("failed to build bogon index: %w", err)
	}
	return e, nil
}

// addBogon indexes one reserved network, splitting IPv6 prefixes that
// exceed the engine's range size limit into /14 blocks.
func addBogon(e *fnle.Engine[string], network string) error {
	prefix, err := netip.ParsePrefix(network)
	if err != nil {
		return err
	}
	if prefix.Addr().Is4() || prefix.Bits() >= minV6PrefixBits {
		return e.Add(network, "reserved")
	}

	blocks := 1 << (minV6PrefixBits - prefix.Bits())
	step := ipcodec.U128{Hi: 1 << (128 - minV6PrefixBits - 64)}
	start := ipcodec.U128FromAddr(prefix.Masked().Addr())
	for i := 0; i < blocks; i++ {
		block := netip.PrefixFrom(ipcodec.AddrFromU128(start), minV6PrefixBits)
		if err := e.Add(block.String(), "reserved"); err != nil {
			return err
		}
		lo := start.Lo + step.Lo
		hi := start.Hi + step.Hi
		if lo < start.Lo {
			hi++
		}
		start = ipcodec.U128{Hi: hi, Lo: lo}
	}
	return nil
}
