// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package ratelimit

import (
	"net/http"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipintel/pkg/config"
	"ipintel/pkg/model"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.EnableRateLimit = true
	cfg.AdminKey = "admin-secret"
	cfg.Whitelist = []string{"vip-key"}
	cfg.Blacklist = []string{"198.51.100.0/24", "203.0.113.7-203.0.113.9"}
	cfg.RateLimits = config.RateLimits{
		NormalLookupsPerHour: 2,
		WhoisLookupsPerHour:  1,
		BulkLookupsPerHour:   1,
		DenyThreshold:        3,
	}
	return cfg
}

func TestAdminAndWhitelistBypass(t *testing.T) {
	l := New(testConfig(), nil)
	ip := netip.MustParseAddr("192.0.2.1")

	for i := 0; i < 10; i++ {
		assert.True(t, l.Check(ip, "admin-secret", ClassStandard).Allowed)
		assert.True(t, l.Check(ip, "vip-key", ClassBulk).Allowed)
	}
}

func TestBlacklistDenied(t *testing.T) {
	l := New(testConfig(), nil)

	d := l.Check(netip.MustParseAddr("198.51.100.42"), "", ClassStandard)
	require.False(t, d.Allowed)
	assert.Equal(t, model.CodeForbiddenBlacklisted, d.Code)
	assert.Equal(t, http.StatusForbidden, d.Status)

	// inetnum-style entry
	d = l.Check(netip.MustParseAddr("203.0.113.8"), "", ClassStandard)
	assert.Equal(t, model.CodeForbiddenBlacklisted, d.Code)

	// neighbours stay clean
	assert.True(t, l.Check(netip.MustParseAddr("203.0.113.10"), "", ClassStandard).Allowed)
}

func TestAPIKeyStatuses(t *testing.T) {
	l := New(testConfig(), nil)
	ip := netip.MustParseAddr("192.0.2.2")

	l.SetKeys(map[string]model.KeyStatus{
		"good": model.KeyAllowed,
		"over": model.KeyOverQuota,
		"bad":  model.KeyNotAllowed,
	})

	assert.True(t, l.Check(ip, "good", ClassStandard).Allowed)

	d := l.Check(ip, "over", ClassStandard)
	assert.Equal(t, model.CodeQuotaExceeded, d.Code)
	assert.Equal(t, http.StatusTooManyRequests, d.Status)

	d = l.Check(ip, "bad", ClassStandard)
	assert.Equal(t, model.CodeForbiddenNotAllowed, d.Code)

	d = l.Check(ip, "unknown", ClassStandard)
	assert.Equal(t, model.CodeForbiddenInvalidAPIKey, d.Code)

	// valid-key traffic is metered for the usage sync
	usage := l.Usage()
	assert.Equal(t, uint64(1), usage["good"])
}

func TestFailOpenBeforeFirstSync(t *testing.T) {
	l := New(testConfig(), nil)
	ip := netip.MustParseAddr("192.0.2.3")

	// No key map received yet: unknown keys pass.
	assert.True(t, l.Check(ip, "whatever", ClassStandard).Allowed)

	l.SetKeys(map[string]model.KeyStatus{"good": model.KeyAllowed})
	d := l.Check(ip, "whatever", ClassStandard)
	assert.Equal(t, model.CodeForbiddenInvalidAPIKey, d.Code)
}

func TestHourlyCapPerClass(t *testing.T) {
	l := New(testConfig(), nil)
	ip := netip.MustParseAddr("192.0.2.4")

	// normalLookupsPerHour = 2
	assert.True(t, l.Check(ip, "", ClassStandard).Allowed)
	assert.True(t, l.Check(ip, "", ClassStandard).Allowed)
	d := l.Check(ip, "", ClassStandard)
	require.False(t, d.Allowed)
	assert.Equal(t, model.CodeRateLimitExceeded, d.Code)
	assert.Equal(t, http.StatusTooManyRequests, d.Status)

	// other classes have their own counters
	assert.True(t, l.Check(ip, "", ClassWhois).Allowed)
	assert.False(t, l.Check(ip, "", ClassWhois).Allowed)

	// another client is unaffected
	assert.True(t, l.Check(netip.MustParseAddr("192.0.2.5"), "", ClassStandard).Allowed)

	// the hourly epoch clears the counters
	l.ResetHourly()
	assert.True(t, l.Check(ip, "", ClassStandard).Allowed)
}

func TestScenarioSingleLookupThenLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits.NormalLookupsPerHour = 1
	l := New(cfg, nil)
	ip := netip.MustParseAddr("192.0.2.77")

	assert.True(t, l.Check(ip, "", ClassStandard).Allowed)
	d := l.Check(ip, "", ClassStandard)
	require.False(t, d.Allowed)
	assert.Equal(t, model.CodeRateLimitExceeded, d.Code)
}

func TestFirewallHookOncePerEpoch(t *testing.T) {
	var mu sync.Mutex
	var blocked []netip.Addr
	hook := func(ip netip.Addr) {
		mu.Lock()
		blocked = append(blocked, ip)
		mu.Unlock()
	}

	cfg := testConfig()
	cfg.RateLimits.NormalLookupsPerHour = 1
	cfg.RateLimits.DenyThreshold = 2
	l := New(cfg, hook)
	ip := netip.MustParseAddr("192.0.2.66")

	for i := 0; i < 6; i++ {
		l.Check(ip, "", ClassStandard)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(blocked) == 1
	})

	// Same IP again within the epoch: no second call.
	for i := 0; i < 6; i++ {
		l.Check(ip, "", ClassStandard)
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Len(t, blocked, 1)
	assert.Equal(t, ip, blocked[0])
	mu.Unlock()

	// A new epoch allows another block.
	l.ResetFirewall()
	for i := 0; i < 6; i++ {
		l.Check(ip, "", ClassStandard)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(blocked) == 2
	})
}

func TestRegisteredUsersNeverFirewalled(t *testing.T) {
	var mu sync.Mutex
	count := 0
	hook := func(netip.Addr) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	cfg := testConfig()
	cfg.RateLimits.NormalLookupsPerHour = 1
	cfg.RateLimits.DenyThreshold = 2
	l := New(cfg, hook)
	l.SetKeys(map[string]model.KeyStatus{"good": model.KeyAllowed})
	ip := netip.MustParseAddr("192.0.2.55")

	// Mark as registered with one valid keyed request, then flood.
	require.True(t, l.Check(ip, "good", ClassStandard).Allowed)
	for i := 0; i < 10; i++ {
		l.Check(ip, "", ClassStandard)
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, count)
	mu.Unlock()
}

func TestDrainAndRestoreUsage(t *testing.T) {
	l := New(testConfig(), nil)
	l.SetKeys(map[string]model.KeyStatus{"good": model.KeyAllowed})
	ip := netip.MustParseAddr("192.0.2.9")

	l.Check(ip, "good", ClassStandard)
	l.Check(ip, "good", ClassStandard)

	drained := l.DrainUsage()
	assert.Equal(t, uint64(2), drained["good"])
	assert.Empty(t, l.Usage())

	// A failed upload puts the counters back.
	l.RestoreUsage(drained)
	l.Check(ip, "good", ClassStandard)
	assert.Equal(t, uint64(3), l.Usage()["good"])
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
