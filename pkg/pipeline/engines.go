// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package pipeline

import (
	"fmt"

	"ipintel/pkg/fnle"
	"ipintel/pkg/model"
)

// Engine names double as snapshot directory names under the data dir.
const (
	NameASN        = "asn"
	NameDatacenter = "datacenter"
	NameCompany    = "company"
	NameCrawler    = "crawler"
	NameMobile     = "mobile"
	NameSatellite  = "satellite"
	NameTor        = "tor"
	NameProxy      = "proxy"
	NameVPN        = "vpn"
	NameAbuser     = "abuser"
	NameGeo        = "geolocation"
)

// Engines groups the fixed set of lookup indexes the pipeline composes.
// Policies are part of the data contract: datacenter and company keep
// every overlapping match for downstream resolution, the boolean sets
// only need any match, and the rest prefer the narrowest entry.
type Engines struct {
	ASN        *fnle.Engine[uint32]
	Datacenter *fnle.Engine[model.DatacenterPayload]
	Company    *fnle.Engine[model.CompanyPayload]
	Crawler    *fnle.Engine[string]
	Mobile     *fnle.Engine[string]
	Satellite  *fnle.Engine[string]
	Tor        *fnle.Engine[string]
	Proxy      *fnle.Engine[string]
	VPN        *fnle.Engine[model.VPNPayload]
	Abuser     *fnle.Engine[string]
	Geo        *fnle.Engine[uint32]
}

// NewEngines creates the empty engine set with canonical policies.
func NewEngines() *Engines {
	return &Engines{
		ASN:        fnle.New[uint32](NameASN, fnle.Smallest),
		Datacenter: fnle.New[model.DatacenterPayload](NameDatacenter, fnle.All),
		Company:    fnle.New[model.CompanyPayload](NameCompany, fnle.All),
		Crawler:    fnle.New[string](NameCrawler, fnle.Smallest),
		Mobile:     fnle.New[string](NameMobile, fnle.Smallest),
		Satellite:  fnle.New[string](NameSatellite, fnle.Smallest),
		Tor:        fnle.New[string](NameTor, fnle.First),
		Proxy:      fnle.New[string](NameProxy, fnle.First),
		VPN:        fnle.New[model.VPNPayload](NameVPN, fnle.Smallest),
		Abuser:     fnle.New[string](NameAbuser, fnle.First),
		Geo:        fnle.New[uint32](NameGeo, fnle.All),
	}
}

// BuildAll seals every engine.
func (e *Engines) BuildAll() error {
	for name, b := range e.each() {
		if err := b.build(); err != nil {
			return fmt.Errorf("failed to build %s index: %w", name, err)
		}
	}
	return nil
}

// PersistAll snapshots every engine under storeDir.
func (e *Engines) PersistAll(storeDir string) error {
	for name, b := range e.each() {
		if err := b.persist(storeDir); err != nil {
			return fmt.Errorf("failed to persist %s index: %w", name, err)
		}
	}
	return nil
}

// LoadAll loads every engine's snapshot from storeDir. Missing
// snapshot directories leave the corresponding engine empty; that is
// normal for optional classifications.
func (e *Engines) LoadAll(storeDir string) (map[string]fnle.LoadResult, error) {
	results := make(map[string]fnle.LoadResult)
	for name, b := range e.each() {
		res, err := b.load(storeDir)
		if err != nil {
			return results, fmt.Errorf("failed to load %s index: %w", name, err)
		}
		results[name] = res
	}
	return results, nil
}

// loader erases the payload type so the engine set can be iterated.
type loader struct {
	build   func() error
	persist func(string) error
	load    func(string) (fnle.LoadResult, error)
}

func wrap[P any](e *fnle.Engine[P]) loader {
	return loader{build: e.Build, persist: e.Persist, load: e.Load}
}

func (e *Engines) each() map[string]loader {
	return map[string]loader{
		NameASN:        wrap(e.ASN),
		NameDatacenter: wrap(e.Datacenter),
		NameCompany:    wrap(e.Company),
		NameCrawler:    wrap(e.Crawler),
		NameMobile:     wrap(e.Mobile),
		NameSatellite:  wrap(e.Satellite),
		NameTor:        wrap(e.Tor),
		NameProxy:      wrap(e.Proxy),
		NameVPN:        wrap(e.VPN),
		NameAbuser:     wrap(e.Abuser),
		NameGeo:        wrap(e.Geo),
	}
}
