// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package pipeline

import (
	"net/netip"
	"strings"

	"ipintel/pkg/fnle"
	"ipintel/pkg/model"
	"ipintel/pkg/util/ipcodec"
)

// A company entry with an abuser score at or above this is surfaced
// ahead of its parent allocations, so abusive sub-delegations are not
// hidden behind a clean carrier record.
const highAbuserScore = 0.1

// Registry tags that mark a customer-scoped delegation. These are the
// most specific ownership statements a registry makes and win outright.
var customerRegistryTags = map[string]bool{
	"ARIN_CUST": true,
	"RWHOIS":    true,
}

// Organization types that always beat generic isp/business records.
var sensitiveTypes = map[string]bool{
	"education":  true,
	"government": true,
	"banking":    true,
}

// Well-known operators whose sub-allocations are usually the entry a
// caller wants to see.
var priorityOperators = map[string]bool{
	"cloudflare, inc.":          true,
	"google llc":                true,
	"amazon.com, inc.":          true,
	"microsoft corporation":     true,
	"akamai technologies, inc.": true,
	"ovh sas":                   true,
	"hetzner online gmbh":       true,
	"digitalocean, llc":         true,
}

// resolveCompany picks one entry out of the overlapping WHOIS matches.
// Last-resort records (RIR top-level allocations) are only considered
// when nothing better covers the address. The remaining candidates go
// through a fixed precedence ladder; the first non-empty rung wins, and
// within a rung the narrowest network wins.
func resolveCompany(matches []fnle.Match[model.CompanyPayload], asnOrg string) *fnle.Match[model.CompanyPayload] {
	if len(matches) == 0 {
		return nil
	}

	candidates := matches
	var real []fnle.Match[model.CompanyPayload]
	for _, m := range matches {
		if !m.Payload.LastResort {
			real = append(real, m)
		}
	}
	if len(real) > 0 {
		candidates = real
	}

	rungs := []func(model.CompanyPayload) bool{
		func(p model.CompanyPayload) bool { return customerRegistryTags[p.RegistryTag] },
		func(p model.CompanyPayload) bool { return p.AbuserScore >= highAbuserScore },
		func(p model.CompanyPayload) bool { return sensitiveTypes[p.Type] },
		func(p model.CompanyPayload) bool { return priorityOperators[strings.ToLower(p.Name)] },
	}
	for _, match := range rungs {
		if m := narrowestWhere(candidates, match); m != nil {
			return m
		}
	}

	// A single ISP among the candidates is the operator of record.
	var isp *fnle.Match[model.CompanyPayload]
	ispCount := 0
	for i := range candidates {
		if candidates[i].Payload.Type == "isp" {
			isp = &candidates[i]
			ispCount++
		}
	}
	if ispCount == 1 {
		return isp
	}

	// An entry named after the announcing AS operator, unless it is a
	// plain business record that merely shares the name.
	if asnOrg != "" {
		wantName := strings.ToLower(strings.TrimSpace(asnOrg))
		if m := narrowestWhere(candidates, func(p model.CompanyPayload) bool {
			return strings.ToLower(strings.TrimSpace(p.Name)) == wantName && p.Type != "business"
		}); m != nil {
			return m
		}
	}

	return narrowestWhere(candidates, func(model.CompanyPayload) bool { return true })
}

func narrowestWhere(ms []fnle.Match[model.CompanyPayload], keep func(model.CompanyPayload) bool) *fnle.Match[model.CompanyPayload] {
	var best *fnle.Match[model.CompanyPayload]
	var bestSize ipcodec.U128
	for i := range ms {
		if !keep(ms[i].Payload) {
			continue
		}
		size := matchSize(ms[i].Start, ms[i].End)
		if best == nil || size.Cmp(bestSize) < 0 {
			best, bestSize = &ms[i], size
		}
	}
	return best
}

func matchSize(start, end netip.Addr) ipcodec.U128 {
	return ipcodec.U128FromAddr(end).Sub(ipcodec.U128FromAddr(start))
}
