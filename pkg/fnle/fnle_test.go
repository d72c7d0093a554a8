// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package fnle

import (
	"errors"
	"math/rand/v2"
	"net/netip"
	"os"
	"sort"
	"testing"

	"ipintel/pkg/util/ipcodec"
)

// nestedNetworks is the canonical four-deep nesting fixture.
var nestedNetworks = []struct {
	network string
	payload string
}{
	{"87.122.0.0-87.122.0.63", "/26"},
	{"87.122.0.0-87.122.3.255", "/22"},
	{"87.122.0.0-87.122.15.255", "/20"},
	{"87.122.0.0-87.123.255.255", "/15"},
}

func buildNested(t *testing.T, policy Policy) *Engine[string] {
	t.Helper()
	e := New[string]("test", policy)
	for _, n := range nestedNetworks {
		if err := e.Add(n.network, n.payload); err != nil {
			t.Fatalf("Add(%s) failed: %v", n.network, err)
		}
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return e
}

func TestSmallestOverNestedNetworks(t *testing.T) {
	e := buildNested(t, Smallest)

	cases := []struct {
		ip   string
		want string
	}{
		{"87.122.0.1", "/26"},
		{"87.122.0.64", "/22"},
		{"87.122.4.0", "/20"},
		{"87.123.255.255", "/15"},
	}
	for _, c := range cases {
		got := e.Lookup(c.ip)
		if len(got) != 1 || got[0] != c.want {
			t.Errorf("Lookup(%s) = %v, want [%s]", c.ip, got, c.want)
		}
	}

	if got := e.Lookup("87.124.0.0"); len(got) != 0 {
		t.Errorf("Lookup(87.124.0.0) = %v, want empty", got)
	}
}

func TestAllReturnsCompleteSet(t *testing.T) {
	e := buildNested(t, All)

	got := e.Lookup("87.122.0.1")
	want := []string{"/15", "/20", "/22", "/26"}
	if !sameSet(got, want) {
		t.Errorf("Lookup(87.122.0.1) = %v, want set %v", got, want)
	}
}

func TestLargestOverNestedNetworks(t *testing.T) {
	e := buildNested(t, Largest)

	if got := e.Lookup("87.122.0.1"); len(got) != 1 || got[0] != "/15" {
		t.Errorf("Lookup(87.122.0.1) = %v, want [/15]", got)
	}
	if got := e.Lookup("87.122.4.0"); len(got) != 1 || got[0] != "/15" {
		t.Errorf("Lookup(87.122.4.0) = %v, want [/15]", got)
	}
}

func TestIPv6CompressionIndependentMatching(t *testing.T) {
	e := New[string]("test6", First)
	if err := e.Add("2604:a880:0:1011::/64", "NY"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, ip := range []string{
		"2604:a880:0000:1011::1",
		"2604:a880:0:1011:ffff:ffff:ffff:ffff",
	} {
		if got := e.Lookup(ip); len(got) != 1 || got[0] != "NY" {
			t.Errorf("Lookup(%s) = %v, want [NY]", ip, got)
		}
	}
	if got := e.Lookup("2604:a880:0:1012::1"); len(got) != 0 {
		t.Errorf("Lookup outside prefix = %v, want empty", got)
	}
}

func TestDirectHostCoexistsWithRange(t *testing.T) {
	e := New[string]("direct", All)
	if err := e.Add("10.0.0.0/8", "net"); err != nil {
		t.Fatalf("Add range failed: %v", err)
	}
	if err := e.Add("10.0.0.5", "host"); err != nil {
		t.Fatalf("Add host failed: %v", err)
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	got := e.Lookup("10.0.0.5")
	if !sameSet(got, []string{"host", "net"}) {
		t.Errorf("Lookup(10.0.0.5) = %v, want {host, net}", got)
	}

	got = e.Lookup("10.0.0.6")
	if !sameSet(got, []string{"net"}) {
		t.Errorf("Lookup(10.0.0.6) = %v, want {net}", got)
	}
}

func TestDirectOverwriteOutsideAll(t *testing.T) {
	e := New[string]("direct2", First)
	if err := e.Add("192.0.2.1", "old"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Add("192.0.2.1/32", "new"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if got := e.Lookup("192.0.2.1"); len(got) != 1 || got[0] != "new" {
		t.Errorf("Lookup = %v, want [new]", got)
	}
}

func TestEndpointsInclusive(t *testing.T) {
	e := New[string]("edges", First)
	if err := e.Add("10.1.0.0-10.1.0.255", "r"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, ip := range []string{"10.1.0.0", "10.1.0.255"} {
		if got := e.Lookup(ip); len(got) != 1 || got[0] != "r" {
			t.Errorf("Lookup(%s) = %v, want [r]", ip, got)
		}
	}
	for _, ip := range []string{"10.0.255.255", "10.1.1.0"} {
		if got := e.Lookup(ip); len(got) != 0 {
			t.Errorf("Lookup(%s) = %v, want empty", ip, got)
		}
	}
}

// A wide range can contain an address whose nearest preceding event is
// the END of a nested range; the wide match is reachable only through
// the overlap list of that END slot.
func TestMatchThroughEndAnchor(t *testing.T) {
	e := New[string]("anchor", Largest)
	if err := e.Add("10.0.0.0-10.0.3.255", "wide"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Add("10.0.0.16-10.0.0.31", "nested"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// 10.0.1.0 sits after "nested" ended but well inside "wide".
	if got := e.Lookup("10.0.1.0"); len(got) != 1 || got[0] != "wide" {
		t.Errorf("Lookup(10.0.1.0) = %v, want [wide]", got)
	}
}

func TestNonIPInputReturnsEmpty(t *testing.T) {
	e := buildNested(t, First)
	for _, q := range []string{"", "hello", "300.1.2.3", "10.0.0"} {
		if got := e.Lookup(q); len(got) != 0 {
			t.Errorf("Lookup(%q) = %v, want empty", q, got)
		}
	}
}

func TestOversizeAndDuplicateRejection(t *testing.T) {
	e := New[string]("rejects", First)

	if err := e.Add("1.0.0.0-255.0.0.0", "huge"); !errors.Is(err, ErrOversizeRange) {
		t.Errorf("oversize add error = %v, want ErrOversizeRange", err)
	}
	if err := e.Add("10.0.0.0/8", "a"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Add("10.0.0.0-10.255.255.255", "b"); !errors.Is(err, ErrDuplicateRange) {
		t.Errorf("duplicate add error = %v, want ErrDuplicateRange", err)
	}

	st := e.Stats()
	if st.RejectedOversize != 1 || st.RejectedDuplicate != 1 || st.Ranges4 != 1 {
		t.Errorf("stats = %+v, want 1 oversize, 1 duplicate, 1 range", st)
	}
}

func TestAddAfterBuildRejected(t *testing.T) {
	e := buildNested(t, First)
	if err := e.Add("10.0.0.0/24", "late"); err == nil {
		t.Error("Add after Build should fail")
	}
}

func TestTouchingRangesOverlapAtSharedCoordinate(t *testing.T) {
	e := New[string]("touch", All)
	if err := e.Add("10.0.0.0-10.0.0.9", "left"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Add("10.0.0.9-10.0.0.20", "right"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if got := e.Lookup("10.0.0.9"); !sameSet(got, []string{"left", "right"}) {
		t.Errorf("Lookup(10.0.0.9) = %v, want {left, right}", got)
	}
	if got := e.Lookup("10.0.0.8"); !sameSet(got, []string{"left"}) {
		t.Errorf("Lookup(10.0.0.8) = %v, want {left}", got)
	}
	if got := e.Lookup("10.0.0.10"); !sameSet(got, []string{"right"}) {
		t.Errorf("Lookup(10.0.0.10) = %v, want {right}", got)
	}
}

func TestLookupNetworks(t *testing.T) {
	e := buildNested(t, Smallest)
	ms := e.LookupNetworks("87.122.0.1")
	if len(ms) != 1 {
		t.Fatalf("LookupNetworks returned %d matches, want 1", len(ms))
	}
	if ms[0].Payload != "/26" {
		t.Errorf("payload = %s, want /26", ms[0].Payload)
	}
	if got := ms[0].Network(); got != "87.122.0.0/26" {
		t.Errorf("network = %s, want 87.122.0.0/26", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "fnle-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	e := New[string]("roundtrip", Smallest)
	for _, n := range nestedNetworks {
		if err := e.Add(n.network, n.payload); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if err := e.Add("2604:a880:0:1011::/64", "NY6"); err != nil {
		t.Fatalf("Add v6 failed: %v", err)
	}
	if err := e.Add("87.200.0.1", "host"); err != nil {
		t.Fatalf("Add host failed: %v", err)
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := e.Persist(dir); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if e.Version() == 0 {
		t.Fatal("Persist left version stamp at zero")
	}

	fresh := New[string]("roundtrip", Smallest)
	res, err := fresh.Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res != LoadOK {
		t.Fatalf("Load result = %s, want success", res)
	}

	cases := []struct {
		ip   string
		want string
	}{
		{"87.122.0.1", "/26"},
		{"87.122.0.64", "/22"},
		{"87.122.4.0", "/20"},
		{"87.123.255.255", "/15"},
		{"2604:a880:0:1011::1", "NY6"},
		{"87.200.0.1", "host"},
	}
	for _, c := range cases {
		got := fresh.Lookup(c.ip)
		if len(got) != 1 || got[0] != c.want {
			t.Errorf("after load, Lookup(%s) = %v, want [%s]", c.ip, got, c.want)
		}
	}
	if got := fresh.Lookup("87.124.0.0"); len(got) != 0 {
		t.Errorf("after load, Lookup(87.124.0.0) = %v, want empty", got)
	}

	// Second load with an unchanged stamp is a no-op.
	res, err = fresh.Load(dir)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if res != LoadNotNeeded {
		t.Errorf("second Load result = %s, want reloadNotNeeded", res)
	}

	// Adds are rejected on a loaded engine.
	if err := fresh.Add("1.2.3.0/24", "x"); err == nil {
		t.Error("Add on loaded engine should fail")
	}
}

func TestLoadMissingDir(t *testing.T) {
	e := New[string]("absent", First)
	res, err := e.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res != LoadNoDir {
		t.Errorf("Load result = %s, want ramDbStoreDirDoesNotExist", res)
	}
}

func TestLoadSanitizesOverlapRecords(t *testing.T) {
	dir := t.TempDir()

	e := New[string]("sane", All)
	if err := e.Add("10.0.0.0/24", "a"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Add("10.0.0.0/25", "b"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := e.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := e.Persist(dir); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	// Append a record referring to a slot outside the range array.
	f, err := os.OpenFile(dir+"/sane/overlapping.bin", os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open overlap file: %v", err)
	}
	if _, err := f.Write([]byte{99, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("append overlap record: %v", err)
	}
	f.Close()

	fresh := New[string]("sane", All)
	if res, err := fresh.Load(dir); err != nil || res != LoadOK {
		t.Fatalf("Load = %s, %v; want success", res, err)
	}
	if got := fresh.Lookup("10.0.0.1"); !sameSet(got, []string{"a", "b"}) {
		t.Errorf("Lookup after sanitized load = %v, want {a, b}", got)
	}
}

// Randomized agreement with a brute-force reference over a small
// coordinate space, all four policies.
func TestRandomizedAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	type ref struct {
		start, end uint32
		payload    string
	}

	for trial := 0; trial < 20; trial++ {
		var refs []ref
		seen := make(map[[2]uint32]bool)
		for len(refs) < 30 {
			s := rng.Uint32N(1 << 16)
			width := rng.Uint32N(1 << 10)
			en := s + width
			if width == 0 || seen[[2]uint32{s, en}] {
				continue
			}
			seen[[2]uint32{s, en}] = true
			refs = append(refs, ref{s, en, ipcodec.Uint32ToIPv4(s).String() + "#" + ipcodec.Uint32ToIPv4(en).String()})
		}

		engines := map[Policy]*Engine[string]{}
		for _, p := range []Policy{First, Smallest, Largest, All} {
			e := New[string]("fuzz", p)
			for _, r := range refs {
				net := ipcodec.Uint32ToIPv4(r.start).String() + "-" + ipcodec.Uint32ToIPv4(r.end).String()
				if err := e.Add(net, r.payload); err != nil {
					t.Fatalf("Add failed: %v", err)
				}
			}
			if err := e.Build(); err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			engines[p] = e
		}

		for q := 0; q < 200; q++ {
			coord := rng.Uint32N(1 << 17)
			addr := ipcodec.Uint32ToIPv4(coord)

			var containing []ref
			for _, r := range refs {
				if coord >= r.start && coord <= r.end {
					containing = append(containing, r)
				}
			}

			// All must return the exact containing set.
			var want []string
			for _, r := range containing {
				want = append(want, r.payload)
			}
			if got := engines[All].LookupAddr(addr); !sameSet(got, want) {
				t.Fatalf("All: Lookup(%s) = %v, want %v", addr, got, want)
			}

			// Smallest/Largest must return a containing range of
			// extreme size.
			checkExtreme := func(policy Policy, wantSmallest bool) {
				got := engines[policy].LookupAddr(addr)
				if len(containing) == 0 {
					if len(got) != 0 {
						t.Fatalf("%s: Lookup(%s) = %v, want empty", policy, addr, got)
					}
					return
				}
				if len(got) != 1 {
					t.Fatalf("%s: Lookup(%s) = %v, want one payload", policy, addr, got)
				}
				extreme := containing[0].end - containing[0].start
				for _, r := range containing[1:] {
					size := r.end - r.start
					if (wantSmallest && size < extreme) || (!wantSmallest && size > extreme) {
						extreme = size
					}
				}
				for _, r := range containing {
					if r.payload == got[0] {
						if r.end-r.start != extreme {
							t.Fatalf("%s: Lookup(%s) size = %d, want %d",
								policy, addr, r.end-r.start, extreme)
						}
						return
					}
				}
				t.Fatalf("%s: Lookup(%s) returned non-containing payload %v", policy, addr, got)
			}
			checkExtreme(Smallest, true)
			checkExtreme(Largest, false)

			// First returns something containing, or nothing when the
			// set is empty.
			if got := engines[First].LookupAddr(addr); len(containing) == 0 && len(got) != 0 {
				t.Fatalf("First: Lookup(%s) = %v, want empty", addr, got)
			}
		}
	}
}

func TestRangeEndpointsAlwaysMatch(t *testing.T) {
	e := buildNested(t, All)
	for _, n := range nestedNetworks {
		start, end, err := ipcodec.ParseNetwork(n.network)
		if err != nil {
			t.Fatalf("ParseNetwork(%s): %v", n.network, err)
		}
		for _, ep := range []netip.Addr{start, end} {
			got := e.LookupAddr(ep)
			if !contains(got, n.payload) {
				t.Errorf("Lookup(%s) = %v, missing %s", ep, got, n.payload)
			}
		}
	}
}

func sameSet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	g := append([]string{}, got...)
	w := append([]string{}, want...)
	sort.Strings(g)
	sort.Strings(w)
	for i := range g {
		if g[i] != w[i] {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
