// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package pipeline composes the per-category lookup indexes, the ASN
// and geoname metastore, the bogon set and the static country table
// into single-address responses, ASN queries and bulk lookups.
package pipeline

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ipintel/pkg/fnle"
	"ipintel/pkg/logging"
	"ipintel/pkg/metastore"
	"ipintel/pkg/model"
	"ipintel/pkg/util/ipcodec"
	"ipintel/pkg/util/workers"
)

const (
	// BulkLimit caps one bulk request's distinct addresses.
	BulkLimit = 100

	bulkWorkers = 16
)

// Options configures a pipeline.
type Options struct {
	Meta *metastore.Store
	Log  *logging.Logger

	// DisableTimezone skips the timezone polygon index, for tooling
	// that never renders wall-clock fields.
	DisableTimezone bool
}

// Pipeline answers lookups against the currently loaded engine set.
// The set is swapped atomically on reload; queries never lock.
type Pipeline struct {
	eng       atomic.Pointer[Engines]
	bogon     *fnle.Engine[string]
	meta      *metastore.Store
	tz        *tzResolver
	countries map[string]countryInfo
	log       *logging.Logger
}

// New assembles a pipeline around an engine set.
func New(eng *Engines, opts Options) (*Pipeline, error) {
	bogon, err := newBogonEngine()
	if err != nil {
		return nil, err
	}
	countries, err := loadCountries()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		bogon:     bogon,
		meta:      opts.Meta,
		countries: countries,
		log:       opts.Log,
	}
	if p.log == nil {
		p.log = logging.New()
	}
	if !opts.DisableTimezone {
		p.tz, err = newTZResolver()
		if err != nil {
			return nil, err
		}
	}
	p.eng.Store(eng)
	return p, nil
}

// Engines returns the currently active engine set.
func (p *Pipeline) Engines() *Engines {
	return p.eng.Load()
}

// Lookup resolves one textual IP address.
func (p *Pipeline) Lookup(query string) (*model.Response, error) {
	started := time.Now()
	addr, err := ipcodec.ParseIP(query)
	if err != nil {
		return nil, model.ErrInvalidIP
	}
	resp := p.lookupAddr(addr, started)
	resp.ElapsedMS = elapsedMS(started)
	return resp, nil
}

// LookupASN answers a direct autonomous-system query.
func (p *Pipeline) LookupASN(asn uint32) (*model.ASNInfo, error) {
	if p.meta == nil {
		return nil, model.ErrNotFound
	}
	meta, err := p.meta.GetASN(asn)
	if err != nil {
		return nil, err
	}
	return asnInfoFromMeta(meta, ""), nil
}

// BulkLookup resolves up to BulkLimit distinct addresses in parallel,
// keyed by their input spelling. Invalid entries are dropped.
func (p *Pipeline) BulkLookup(ctx context.Context, queries []string) (map[string]*model.Response, error) {
	type item struct {
		query string
		addr  netip.Addr
	}
	seen := make(map[netip.Addr]struct{})
	var items []item
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		addr, err := ipcodec.ParseIP(q)
		if err != nil {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		items = append(items, item{query: q, addr: addr})
	}
	if len(items) == 0 {
		return nil, model.ErrBulkNoValid
	}
	if len(items) > BulkLimit {
		return nil, model.ErrBulkLimit
	}

	out := make(map[string]*model.Response, len(items))
	var mu sync.Mutex

	n := len(items)
	if n > bulkWorkers {
		n = bulkWorkers
	}
	pool := workers.NewPool(ctx, workers.Config{Workers: n})
	for i := range items {
		it := items[i]
		pool.Submit(i, func(context.Context) error {
			started := time.Now()
			resp := p.lookupAddr(it.addr, started)
			resp.ElapsedMS = elapsedMS(started)
			mu.Lock()
			out[it.query] = resp
			mu.Unlock()
			return nil
		})
	}
	pool.Wait()
	return out, nil
}

// RefreshTime recomputes the wall-clock location fields of a cached
// response so a cache hit never serves a stale local time.
func (p *Pipeline) RefreshTime(resp *model.Response) {
	if p.tz == nil || resp.Location == nil || resp.Location.Timezone == "" {
		return
	}
	p.tz.fill(resp.Location, time.Now())
}

func (p *Pipeline) lookupAddr(addr netip.Addr, now time.Time) *model.Response {
	eng := p.eng.Load()
	resp := &model.Response{IP: addr.String()}

	if len(p.bogon.LookupAddr(addr)) > 0 {
		resp.IsBogon = true
		return resp
	}

	var asnOrg string
	if ms := eng.ASN.LookupNetworksAddr(addr); len(ms) > 0 {
		m := ms[0]
		if p.meta != nil {
			if meta, err := p.meta.GetASN(m.Payload); err == nil {
				info := asnInfoFromMeta(meta, m.Network())
				resp.ASN = info
				resp.RIR = meta.RIR
				asnOrg = meta.Org
			}
		}
		if resp.ASN == nil {
			resp.ASN = &model.ASNInfo{ASN: m.Payload, Route: m.Network(), Active: true}
		}
	}

	if ms := eng.Datacenter.LookupNetworksAddr(addr); len(ms) > 0 {
		m := narrowestMatch(ms)
		resp.IsDatacenter = true
		resp.Datacenter = &model.Datacenter{
			Datacenter: m.Payload.Name,
			Domain:     m.Payload.Domain,
			Region:     m.Payload.Region,
			Network:    m.Network(),
		}
	}

	if ms := eng.Company.LookupNetworksAddr(addr); len(ms) > 0 {
		if m := resolveCompany(ms, asnOrg); m != nil {
			resp.Company = &model.Company{
				Name:        m.Payload.Name,
				Domain:      m.Payload.Domain,
				Type:        m.Payload.Type,
				Network:     m.Network(),
				AbuserScore: m.Payload.AbuserScore,
			}
			if m.Payload.AbuseEmail != "" || m.Payload.AbusePhone != "" || m.Payload.AbuseName != "" {
				resp.Abuse = &model.Abuse{
					Name:  m.Payload.AbuseName,
					Email: m.Payload.AbuseEmail,
					Phone: m.Payload.AbusePhone,
				}
			}
			if resp.RIR == "" {
				resp.RIR = m.Payload.RIR
			}
			if m.Payload.AbuserScore >= highAbuserScore {
				resp.IsAbuser = true
			}
		}
	}

	if labels := eng.Crawler.LookupAddr(addr); len(labels) > 0 {
		resp.IsCrawler = true
		resp.Crawler = labels[0]
	}
	resp.IsMobile = len(eng.Mobile.LookupAddr(addr)) > 0
	resp.IsSatellite = len(eng.Satellite.LookupAddr(addr)) > 0
	resp.IsTor = len(eng.Tor.LookupAddr(addr)) > 0
	resp.IsProxy = len(eng.Proxy.LookupAddr(addr)) > 0
	resp.IsVPN = len(eng.VPN.LookupAddr(addr)) > 0
	if len(eng.Abuser.LookupAddr(addr)) > 0 {
		resp.IsAbuser = true
	}

	if ms := eng.Geo.LookupNetworksAddr(addr); len(ms) > 0 && p.meta != nil {
		m := narrowestMatch(ms)
		if rec, err := p.meta.GetGeoname(m.Payload); err == nil {
			loc := &model.Location{
				Country:     rec.Country,
				CountryCode: rec.CountryCode,
				State:       rec.State,
				City:        rec.City,
				Zip:         rec.Zip,
				Latitude:    rec.Lat,
				Longitude:   rec.Lon,
			}
			if ci, ok := p.countries[rec.CountryCode]; ok {
				loc.Continent = ci.Continent
				loc.ContinentCode = ci.ContinentCode
				loc.CallingCode = ci.CallingCode
				loc.Currency = ci.Currency
				loc.IsEU = ci.IsEU
			}
			if p.tz != nil {
				p.tz.fill(loc, now)
			}
			resp.Location = loc
		}
	}

	return resp
}

// Reload swaps in fresh engines from storeDir. Engines whose snapshot
// stamp is unchanged (or whose snapshot is missing) stay as they are;
// the rest are rebuilt from disk and swapped atomically. On error the
// active set is left untouched.
func (p *Pipeline) Reload(storeDir string) (map[string]fnle.LoadResult, error) {
	cur := p.eng.Load()
	results := make(map[string]fnle.LoadResult, 11)
	var firstErr error

	next := &Engines{
		ASN:        reloadOne(cur.ASN, storeDir, NameASN, results, &firstErr),
		Datacenter: reloadOne(cur.Datacenter, storeDir, NameDatacenter, results, &firstErr),
		Company:    reloadOne(cur.Company, storeDir, NameCompany, results, &firstErr),
		Crawler:    reloadOne(cur.Crawler, storeDir, NameCrawler, results, &firstErr),
		Mobile:     reloadOne(cur.Mobile, storeDir, NameMobile, results, &firstErr),
		Satellite:  reloadOne(cur.Satellite, storeDir, NameSatellite, results, &firstErr),
		Tor:        reloadOne(cur.Tor, storeDir, NameTor, results, &firstErr),
		Proxy:      reloadOne(cur.Proxy, storeDir, NameProxy, results, &firstErr),
		VPN:        reloadOne(cur.VPN, storeDir, NameVPN, results, &firstErr),
		Abuser:     reloadOne(cur.Abuser, storeDir, NameAbuser, results, &firstErr),
		Geo:        reloadOne(cur.Geo, storeDir, NameGeo, results, &firstErr),
	}
	if firstErr != nil {
		return results, firstErr
	}
	p.eng.Store(next)
	return results, nil
}

func reloadOne[P any](cur *fnle.Engine[P], storeDir, name string, results map[string]fnle.LoadResult, firstErr *error) *fnle.Engine[P] {
	clone := cur.CloneForReload()
	res, err := clone.Load(storeDir)
	results[name] = res
	if err != nil {
		if *firstErr == nil {
			*firstErr = fmt.Errorf("failed to reload %s index: %w", name, err)
		}
		return cur
	}
	if res == fnle.LoadOK {
		return clone
	}
	return cur
}

// Versions reports the snapshot version of every active engine.
func (p *Pipeline) Versions() map[string]int64 {
	eng := p.eng.Load()
	return map[string]int64{
		NameASN:        eng.ASN.Version(),
		NameDatacenter: eng.Datacenter.Version(),
		NameCompany:    eng.Company.Version(),
		NameCrawler:    eng.Crawler.Version(),
		NameMobile:     eng.Mobile.Version(),
		NameSatellite:  eng.Satellite.Version(),
		NameTor:        eng.Tor.Version(),
		NameProxy:      eng.Proxy.Version(),
		NameVPN:        eng.VPN.Version(),
		NameAbuser:     eng.Abuser.Version(),
		NameGeo:        eng.Geo.Version(),
	}
}

// UpdateNeeded reports whether any on-disk snapshot is newer than the
// loaded engines.
func (p *Pipeline) UpdateNeeded(storeDir string) (bool, error) {
	for name, loaded := range p.Versions() {
		disk, err := fnle.SnapshotVersion(storeDir, name)
		if err != nil {
			return false, err
		}
		if disk != 0 && disk != loaded {
			return true, nil
		}
	}
	return false, nil
}

// Counts reports the indexed range count per engine, for /stats.
func (p *Pipeline) Counts() map[string]int {
	eng := p.eng.Load()
	return map[string]int{
		NameASN:        eng.ASN.Len(),
		NameDatacenter: eng.Datacenter.Len(),
		NameCompany:    eng.Company.Len(),
		NameCrawler:    eng.Crawler.Len(),
		NameMobile:     eng.Mobile.Len(),
		NameSatellite:  eng.Satellite.Len(),
		NameTor:        eng.Tor.Len(),
		NameProxy:      eng.Proxy.Len(),
		NameVPN:        eng.VPN.Len(),
		NameAbuser:     eng.Abuser.Len(),
		NameGeo:        eng.Geo.Len(),
	}
}

func asnInfoFromMeta(meta *model.ASNMeta, route string) *model.ASNInfo {
	return &model.ASNInfo{
		ASN:     meta.ASN,
		Org:     meta.Org,
		Descr:   meta.Descr,
		Country: meta.Country,
		Type:    meta.Type,
		Domain:  meta.Domain,
		Created: meta.Created,
		Updated: meta.Updated,
		RIR:     meta.RIR,
		Route:   route,
		Active:  meta.Active,
		Abuser:  meta.Abuser,
	}
}

func narrowestMatch[P any](ms []fnle.Match[P]) fnle.Match[P] {
	best := ms[0]
	bestSize := matchSize(best.Start, best.End)
	for _, m := range ms[1:] {
		if s := matchSize(m.Start, m.End); s.Cmp(bestSize) < 0 {
			best, bestSize = m, s
		}
	}
	return best
}

func elapsedMS(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000
}
