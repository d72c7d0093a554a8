// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"

	"ipintel/pkg/fnle"
	"ipintel/pkg/metastore"
	"ipintel/pkg/model"
	"ipintel/pkg/pipeline"
	"ipintel/pkg/util/workers"
)

type buildConfig struct {
	DataDir string
	MetaDB  string

	MMDBASN  string
	MMDBCity string

	ASNFile        string
	CompanyFile    string
	DatacenterFile string
	CrawlerFile    string
	VPNFile        string
	TorFile        string
	ProxyFile      string
	AbuserFile     string
	MobileFile     string
	SatelliteFile  string
	GeoFile        string

	Workers int
}

func (c *buildConfig) empty() bool {
	return c.MMDBASN == "" && c.MMDBCity == "" && c.ASNFile == "" &&
		c.CompanyFile == "" && c.DatacenterFile == "" && c.CrawlerFile == "" &&
		c.VPNFile == "" && c.TorFile == "" && c.ProxyFile == "" &&
		c.AbuserFile == "" && c.MobileFile == "" && c.SatelliteFile == "" &&
		c.GeoFile == ""
}

type builder struct {
	cfg   *buildConfig
	eng   *pipeline.Engines
	store *metastore.Store
}

func newBuilder(cfg *buildConfig) (*builder, error) {
	store, err := metastore.Open(cfg.MetaDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open metastore: %w", err)
	}
	return &builder{cfg: cfg, eng: pipeline.NewEngines(), store: store}, nil
}

func (b *builder) Close() error {
	return b.store.Close()
}

// Build ingests every configured feed, seals the indexes and persists
// the snapshots. Feed files are independent and read in parallel.
func (b *builder) Build(ctx context.Context) error {
	started := time.Now()

	tasks := b.feedTasks()
	pool := workers.NewPool(ctx, workers.Config{Workers: b.cfg.Workers})
	for i, task := range tasks {
		pool.Submit(i, task)
	}
	for _, res := range pool.Wait() {
		if res.Error != nil {
			return res.Error
		}
	}

	// The mmdb passes write to the metastore and to engines the feed
	// tasks may also touch, so they run after the pool drains.
	if b.cfg.ASNFile == "" && b.cfg.MMDBASN != "" {
		if err := b.ingestMMDBASN(); err != nil {
			return err
		}
	}
	if b.cfg.GeoFile == "" && b.cfg.MMDBCity != "" {
		if err := b.ingestMMDBCity(); err != nil {
			return err
		}
	}

	if err := b.eng.BuildAll(); err != nil {
		return err
	}
	if err := b.eng.PersistAll(b.cfg.DataDir); err != nil {
		return err
	}
	if err := b.store.SetBuiltAt(time.Now()); err != nil {
		return err
	}

	b.report(time.Since(started))
	return nil
}

func (b *builder) feedTasks() []workers.Task {
	var tasks []workers.Task
	add := func(path string, fn func(string) error) {
		if path == "" {
			return
		}
		tasks = append(tasks, func(context.Context) error { return fn(path) })
	}

	add(b.cfg.ASNFile, b.ingestASNFile)
	add(b.cfg.CompanyFile, b.ingestCompanyFile)
	add(b.cfg.DatacenterFile, b.ingestDatacenterFile)
	add(b.cfg.CrawlerFile, b.ingestCrawlerFile)
	add(b.cfg.VPNFile, b.ingestVPNFile)
	add(b.cfg.GeoFile, b.ingestGeoFile)
	add(b.cfg.TorFile, func(p string) error { return b.ingestList(b.eng.Tor, p, "tor") })
	add(b.cfg.ProxyFile, func(p string) error { return b.ingestList(b.eng.Proxy, p, "proxy") })
	add(b.cfg.AbuserFile, func(p string) error { return b.ingestList(b.eng.Abuser, p, "abuser") })
	add(b.cfg.MobileFile, func(p string) error { return b.ingestList(b.eng.Mobile, p, "mobile") })
	add(b.cfg.SatelliteFile, func(p string) error { return b.ingestList(b.eng.Satellite, p, "satellite") })
	return tasks
}

// ingestMMDBASN walks every network in the ASN mmdb, indexing the
// announced range and seeding minimal ASN metadata.
func (b *builder) ingestMMDBASN() error {
	reader, err := maxminddb.Open(b.cfg.MMDBASN)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", b.cfg.MMDBASN, err)
	}
	defer reader.Close()

	seeded := make(map[uint32]bool)
	networks := reader.Networks(maxminddb.SkipAliasedNetworks)
	for networks.Next() {
		var rec geoip2.ASN
		subnet, err := networks.Network(&rec)
		if err != nil {
			return fmt.Errorf("failed to decode ASN record: %w", err)
		}
		asn := uint32(rec.AutonomousSystemNumber)
		if asn == 0 {
			continue
		}
		if err := b.eng.ASN.Add(subnet.String(), asn); err != nil {
			// Oversize and duplicate entries are counted, not fatal.
			continue
		}
		if !seeded[asn] {
			seeded[asn] = true
			if _, err := b.store.GetASN(asn); errors.Is(err, model.ErrNotFound) {
				err = b.store.PutASN(&model.ASNMeta{
					ASN:    asn,
					Org:    rec.AutonomousSystemOrganization,
					Active: true,
				})
				if err != nil {
					return err
				}
			}
		}
	}
	if err := networks.Err(); err != nil {
		return fmt.Errorf("ASN mmdb walk failed: %w", err)
	}
	log.Printf("INFO: indexed %d ASN ranges, %d distinct ASNs", b.eng.ASN.Len(), len(seeded))
	return nil
}

// ingestMMDBCity walks the city blocks, indexing each network under its
// geoname id and storing the place record once per id.
func (b *builder) ingestMMDBCity() error {
	reader, err := maxminddb.Open(b.cfg.MMDBCity)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", b.cfg.MMDBCity, err)
	}
	defer reader.Close()

	stored := make(map[uint32]bool)
	networks := reader.Networks(maxminddb.SkipAliasedNetworks)
	for networks.Next() {
		var rec geoip2.City
		subnet, err := networks.Network(&rec)
		if err != nil {
			return fmt.Errorf("failed to decode city record: %w", err)
		}
		id := uint32(rec.City.GeoNameID)
		if id == 0 {
			id = uint32(rec.Country.GeoNameID)
		}
		if id == 0 {
			continue
		}
		if err := b.eng.Geo.Add(subnet.String(), id); err != nil {
			continue
		}
		if !stored[id] {
			stored[id] = true
			place := &model.GeonameRecord{
				ID:          id,
				Country:     rec.Country.Names["en"],
				CountryCode: rec.Country.IsoCode,
				City:        rec.City.Names["en"],
				Zip:         rec.Postal.Code,
				Lat:         rec.Location.Latitude,
				Lon:         rec.Location.Longitude,
			}
			if len(rec.Subdivisions) > 0 {
				place.State = rec.Subdivisions[0].Names["en"]
			}
			if err := b.store.PutGeoname(place); err != nil {
				return err
			}
		}
	}
	if err := networks.Err(); err != nil {
		return fmt.Errorf("city mmdb walk failed: %w", err)
	}
	log.Printf("INFO: indexed %d geolocation ranges, %d places", b.eng.Geo.Len(), len(stored))
	return nil
}

func (b *builder) report(elapsed time.Duration) {
	counts := map[string]int{
		"asn":        b.eng.ASN.Len(),
		"datacenter": b.eng.Datacenter.Len(),
		"company":    b.eng.Company.Len(),
		"crawler":    b.eng.Crawler.Len(),
		"vpn":        b.eng.VPN.Len(),
		"geo":        b.eng.Geo.Len(),
		"tor":        b.eng.Tor.Len(),
		"proxy":      b.eng.Proxy.Len(),
		"abuser":     b.eng.Abuser.Len(),
		"mobile":     b.eng.Mobile.Len(),
		"satellite":  b.eng.Satellite.Len(),
	}
	for name, n := range counts {
		if n > 0 {
			log.Printf("INFO: %-10s %8d ranges", name, n)
		}
	}
	log.Printf("INFO: snapshots written to %s in %s", b.cfg.DataDir, elapsed.Round(time.Millisecond))
}

func runVerify(dataDir string) error {
	eng := pipeline.NewEngines()
	results, err := eng.LoadAll(dataDir)
	if err != nil {
		return err
	}
	loaded := 0
	for name, res := range results {
		log.Printf("INFO: %-10s %s", name, res.String())
		if res == fnle.LoadOK {
			loaded++
		}
	}
	if loaded == 0 {
		return fmt.Errorf("no snapshots found under %s", dataDir)
	}
	return nil
}

func runStats(dataDir, metaDB string) error {
	eng := pipeline.NewEngines()
	if _, err := eng.LoadAll(dataDir); err != nil {
		return err
	}
	log.Printf("INFO: index ranges: asn=%d company=%d datacenter=%d geo=%d crawler=%d vpn=%d tor=%d proxy=%d abuser=%d mobile=%d satellite=%d",
		eng.ASN.Len(), eng.Company.Len(), eng.Datacenter.Len(), eng.Geo.Len(),
		eng.Crawler.Len(), eng.VPN.Len(), eng.Tor.Len(), eng.Proxy.Len(),
		eng.Abuser.Len(), eng.Mobile.Len(), eng.Satellite.Len())

	if metaDB == "" {
		return nil
	}
	store, err := metastore.Open(metaDB)
	if err != nil {
		return fmt.Errorf("failed to open metastore: %w", err)
	}
	defer store.Close()

	asns, err := store.CountASNs()
	if err != nil {
		return err
	}
	places, err := store.CountGeonames()
	if err != nil {
		return err
	}
	builtAt, err := store.BuiltAt()
	if err == nil {
		log.Printf("INFO: metastore built at %s", builtAt.Format(time.RFC3339))
	}
	log.Printf("INFO: metastore: %d ASNs, %d places", asns, places)
	return nil
}
