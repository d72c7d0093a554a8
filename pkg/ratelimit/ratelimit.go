// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package ratelimit implements per-client admission control: admin and
// whitelisted keys pass, blacklisted networks are refused, API keys are
// checked against the synced status map, and keyless clients fall under
// per-IP hourly caps. Persistent offenders are handed to the firewall
// hook once per epoch.
package ratelimit

import (
	"net/http"
	"net/netip"
	"sync"
	"time"

	"ipintel/pkg/config"
	"ipintel/pkg/model"
	"ipintel/pkg/util/ipcodec"
)

// Class is the request class a cap applies to.
type Class int

const (
	ClassStandard Class = iota
	ClassWhois
	ClassBulk
)

func (c Class) String() string {
	switch c {
	case ClassWhois:
		return "whois"
	case ClassBulk:
		return "bulk"
	default:
		return "standard"
	}
}

// Decision is the limiter's verdict for one request.
type Decision struct {
	Allowed bool
	Code    model.ErrorCode
	Status  int
	Message string
}

func allow() Decision {
	return Decision{Allowed: true, Status: http.StatusOK}
}

func deny(code model.ErrorCode, status int, msg string) Decision {
	return Decision{Code: code, Status: status, Message: msg}
}

// FirewallHook receives client IPs that exceeded the deny threshold.
// Invoked at most once per IP per firewall epoch.
type FirewallHook func(ip netip.Addr)

type netRange struct {
	start netip.Addr
	end   netip.Addr
}

type ipCounters struct {
	byClass [3]int
	denials int
}

// Limiter holds all admission state for one worker.
type Limiter struct {
	mu sync.Mutex

	enabled   bool
	limits    config.RateLimits
	adminKey  string
	whitelist map[string]struct{}
	blacklist []netRange

	// keys is the apiKey -> status view from the usage service; usage
	// accumulates per-key counters between syncs.
	keys     map[string]model.KeyStatus
	keysSeen bool
	usage    map[string]uint64

	counters   map[netip.Addr]*ipCounters
	registered map[netip.Addr]bool
	keyErrors  map[netip.Addr]int
	blockedAt  map[netip.Addr]time.Time

	hook FirewallHook
}

// New builds a limiter from the configuration. Blacklist entries may be
// CIDR or exact inetnum notation; unparseable entries are skipped.
func New(cfg *config.Config, hook FirewallHook) *Limiter {
	l := &Limiter{
		keys:       make(map[string]model.KeyStatus),
		usage:      make(map[string]uint64),
		counters:   make(map[netip.Addr]*ipCounters),
		registered: make(map[netip.Addr]bool),
		keyErrors:  make(map[netip.Addr]int),
		blockedAt:  make(map[netip.Addr]time.Time),
		hook:       hook,
	}
	l.Configure(cfg)
	return l
}

// Configure swaps in limits, whitelist and blacklist from a (re)loaded
// configuration.
func (l *Limiter) Configure(cfg *config.Config) {
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, k := range cfg.Whitelist {
		wl[k] = struct{}{}
	}
	var bl []netRange
	for _, n := range cfg.Blacklist {
		start, end, err := ipcodec.ParseNetwork(n)
		if err != nil {
			continue
		}
		bl = append(bl, netRange{start: start, end: end})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = cfg.EnableRateLimit
	l.limits = cfg.RateLimits
	l.adminKey = cfg.AdminKey
	l.whitelist = wl
	l.blacklist = bl
}

// Check runs the admission ladder for one request.
func (l *Limiter) Check(clientIP netip.Addr, apiKey string, class Class) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.adminKey != "" && apiKey == l.adminKey {
		return allow()
	}
	if _, ok := l.whitelist[apiKey]; ok && apiKey != "" {
		return allow()
	}

	for _, r := range l.blacklist {
		if ipcodec.IsInRange(clientIP, r.start, r.end) {
			l.noteDenial(clientIP)
			return deny(model.CodeForbiddenBlacklisted, http.StatusForbidden,
				"your network is blacklisted")
		}
	}

	if apiKey != "" {
		status, known := l.keys[apiKey]
		switch {
		case !known:
			// Before the first successful sync no key map exists; fail
			// open rather than locking out every customer.
			if !l.keysSeen {
				l.usage[apiKey]++
				return allow()
			}
			l.keyErrors[clientIP]++
			return deny(model.CodeForbiddenInvalidAPIKey, http.StatusForbidden,
				"unknown API key")
		case status == model.KeyOverQuota:
			return deny(model.CodeQuotaExceeded, http.StatusTooManyRequests,
				"API key is over quota")
		case status == model.KeyNotAllowed:
			return deny(model.CodeForbiddenNotAllowed, http.StatusForbidden,
				"API key is not allowed")
		default:
			l.registered[clientIP] = true
			l.usage[apiKey]++
			return allow()
		}
	}

	if !l.enabled {
		return allow()
	}

	limit := l.capFor(class)
	c := l.counters[clientIP]
	if c == nil {
		c = &ipCounters{}
		l.counters[clientIP] = c
	}
	c.byClass[class]++
	if c.byClass[class] > limit {
		l.noteDenial(clientIP)
		return deny(model.CodeRateLimitExceeded, http.StatusTooManyRequests,
			"hourly rate limit exceeded")
	}
	return allow()
}

// noteDenial counts a deny and escalates repeat offenders to the
// firewall hook, at most once per IP per firewall epoch. Registered
// users never get firewalled.
func (l *Limiter) noteDenial(ip netip.Addr) {
	c := l.counters[ip]
	if c == nil {
		c = &ipCounters{}
		l.counters[ip] = c
	}
	c.denials++
	if l.hook == nil || l.registered[ip] || c.denials < l.limits.DenyThreshold {
		return
	}
	if _, blocked := l.blockedAt[ip]; blocked {
		return
	}
	l.blockedAt[ip] = time.Now()
	go l.hook(ip)
}

func (l *Limiter) capFor(class Class) int {
	switch class {
	case ClassWhois:
		return l.limits.WhoisLookupsPerHour
	case ClassBulk:
		return l.limits.BulkLookupsPerHour
	default:
		return l.limits.NormalLookupsPerHour
	}
}

// SetKeys swaps in a fresh apiKey status map from the usage service.
func (l *Limiter) SetKeys(keys map[string]model.KeyStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if keys == nil {
		return
	}
	l.keys = keys
	l.keysSeen = true
}

// DrainUsage returns the accumulated per-key usage counters and zeroes
// them. Called after a successful sync upload.
func (l *Limiter) DrainUsage() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.usage
	l.usage = make(map[string]uint64)
	return out
}

// Usage returns a copy of the per-key counters without zeroing.
func (l *Limiter) Usage() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.usage))
	for k, v := range l.usage {
		out[k] = v
	}
	return out
}

// RestoreUsage merges counters back after a failed sync upload.
func (l *Limiter) RestoreUsage(counters map[string]uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range counters {
		l.usage[k] += v
	}
}

// ResetHourly clears the per-IP request counters (1 h epoch).
func (l *Limiter) ResetHourly() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters = make(map[netip.Addr]*ipCounters)
}

// ResetDaily clears the per-IP API-error counters (24 h epoch).
func (l *Limiter) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keyErrors = make(map[netip.Addr]int)
}

// ResetFirewall clears the once-per-epoch firewall marks (12 h epoch).
func (l *Limiter) ResetFirewall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockedAt = make(map[netip.Addr]time.Time)
}
