// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipintel/pkg/fnle"
	"ipintel/pkg/metastore"
	"ipintel/pkg/model"
)

func newTestStore(t *testing.T) *metastore.Store {
	t.Helper()
	s, err := metastore.Open(filepath.Join(t.TempDir(), "meta"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPipeline(t *testing.T, eng *Engines, meta *metastore.Store) *Pipeline {
	t.Helper()
	p, err := New(eng, Options{Meta: meta, DisableTimezone: true})
	require.NoError(t, err)
	return p
}

// fixtureEngines models 8.8.8.0/24: announced by AS15169, covered by a
// last-resort RIR allocation plus an ISP sub-delegation, hosted, and
// geolocated to Mountain View.
func fixtureEngines(t *testing.T) *Engines {
	t.Helper()
	eng := NewEngines()

	require.NoError(t, eng.ASN.Add("8.8.8.0/24", 15169))
	require.NoError(t, eng.Company.Add("8.0.0.0/8", model.CompanyPayload{
		Name: "ARIN", Type: "registry", RIR: "arin", LastResort: true,
	}))
	require.NoError(t, eng.Company.Add("8.8.8.0/24", model.CompanyPayload{
		Name: "Google LLC", Domain: "google.com", Type: "isp", RIR: "arin",
		AbuseEmail: "network-abuse@google.com",
	}))
	require.NoError(t, eng.Datacenter.Add("8.8.8.0/26", model.DatacenterPayload{
		Name: "Google Cloud", Domain: "cloud.google.com", Region: "us-west1",
	}))
	require.NoError(t, eng.Geo.Add("8.8.8.0/24", 5375480))
	require.NoError(t, eng.Proxy.Add("8.8.8.200", "proxy"))
	require.NoError(t, eng.BuildAll())
	return eng
}

func seedMeta(t *testing.T, s *metastore.Store) {
	t.Helper()
	require.NoError(t, s.PutASN(&model.ASNMeta{
		ASN: 15169, Org: "Google LLC", Country: "US", RIR: "arin",
		Type: "hosting", Domain: "google.com", Active: true,
	}))
	require.NoError(t, s.PutGeoname(&model.GeonameRecord{
		ID: 5375480, Country: "United States", CountryCode: "US",
		State: "California", City: "Mountain View",
		Lat: 37.386, Lon: -122.0838,
	}))
}

func TestLookupComposesAllBlocks(t *testing.T) {
	store := newTestStore(t)
	seedMeta(t, store)
	p := newTestPipeline(t, fixtureEngines(t), store)

	resp, err := p.Lookup("8.8.8.8")
	require.NoError(t, err)

	assert.Equal(t, "8.8.8.8", resp.IP)
	assert.False(t, resp.IsBogon)
	assert.Equal(t, "arin", resp.RIR)

	require.NotNil(t, resp.ASN)
	assert.Equal(t, uint32(15169), resp.ASN.ASN)
	assert.Equal(t, "Google LLC", resp.ASN.Org)
	assert.Equal(t, "8.8.8.0/24", resp.ASN.Route)

	require.NotNil(t, resp.Company)
	assert.Equal(t, "Google LLC", resp.Company.Name)
	assert.Equal(t, "8.8.8.0/24", resp.Company.Network)
	require.NotNil(t, resp.Abuse)
	assert.Equal(t, "network-abuse@google.com", resp.Abuse.Email)

	assert.True(t, resp.IsDatacenter)
	require.NotNil(t, resp.Datacenter)
	assert.Equal(t, "Google Cloud", resp.Datacenter.Datacenter)
	assert.Equal(t, "8.8.8.0/26", resp.Datacenter.Network)

	require.NotNil(t, resp.Location)
	assert.Equal(t, "Mountain View", resp.Location.City)
	assert.Equal(t, "North America", resp.Location.Continent)
	assert.Equal(t, "1", resp.Location.CallingCode)
	assert.Equal(t, "USD", resp.Location.Currency)

	assert.False(t, resp.IsProxy)
	assert.GreaterOrEqual(t, resp.ElapsedMS, 0.0)
}

func TestDirectProxyHost(t *testing.T) {
	p := newTestPipeline(t, fixtureEngines(t), nil)
	resp, err := p.Lookup("8.8.8.200")
	require.NoError(t, err)
	assert.True(t, resp.IsProxy)
}

func TestBogonShortCircuits(t *testing.T) {
	store := newTestStore(t)
	seedMeta(t, store)
	eng := NewEngines()
	// A feed mistake that covers private space must not leak through.
	require.NoError(t, eng.ASN.Add("10.0.0.0/16", 64500))
	require.NoError(t, eng.BuildAll())
	p := newTestPipeline(t, eng, store)

	resp, err := p.Lookup("10.0.1.2")
	require.NoError(t, err)
	assert.True(t, resp.IsBogon)
	assert.Nil(t, resp.ASN)
	assert.Nil(t, resp.Location)
}

func TestBogonCoversIPv6Reserved(t *testing.T) {
	p := newTestPipeline(t, NewEngines(), nil)
	for _, q := range []string{"::1", "fe80::1", "fd12:3456::1", "ff02::2"} {
		resp, err := p.Lookup(q)
		require.NoError(t, err)
		assert.True(t, resp.IsBogon, q)
	}
}

func TestLookupInvalidIP(t *testing.T) {
	p := newTestPipeline(t, NewEngines(), nil)
	_, err := p.Lookup("not-an-ip")
	assert.ErrorIs(t, err, model.ErrInvalidIP)
}

func TestLookupASN(t *testing.T) {
	store := newTestStore(t)
	seedMeta(t, store)
	p := newTestPipeline(t, NewEngines(), store)

	info, err := p.LookupASN(15169)
	require.NoError(t, err)
	assert.Equal(t, "Google LLC", info.Org)
	assert.True(t, info.Active)

	_, err = p.LookupASN(4200000000)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBulkLookup(t *testing.T) {
	p := newTestPipeline(t, fixtureEngines(t), nil)

	out, err := p.BulkLookup(context.Background(), []string{
		"8.8.8.8", " 8.8.8.8 ", "8.8.4.4", "garbage", "",
	})
	require.NoError(t, err)
	// Duplicate and invalid entries collapse away.
	assert.Len(t, out, 2)
	require.Contains(t, out, "8.8.8.8")
	assert.Equal(t, "8.8.8.8", out["8.8.8.8"].IP)
}

func TestBulkLookupLimit(t *testing.T) {
	p := newTestPipeline(t, NewEngines(), nil)
	queries := make([]string, 0, BulkLimit+1)
	for i := 0; i <= BulkLimit; i++ {
		queries = append(queries, fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	_, err := p.BulkLookup(context.Background(), queries)
	assert.ErrorIs(t, err, model.ErrBulkLimit)
}

func TestBulkLookupNoValidEntries(t *testing.T) {
	p := newTestPipeline(t, NewEngines(), nil)
	_, err := p.BulkLookup(context.Background(), []string{"x", "", "y"})
	assert.ErrorIs(t, err, model.ErrBulkNoValid)
}

func TestReloadSwapsOnlyChangedEngines(t *testing.T) {
	dir := t.TempDir()
	src := fixtureEngines(t)
	require.NoError(t, src.PersistAll(dir))

	p := newTestPipeline(t, NewEngines(), nil)
	results, err := p.Reload(dir)
	require.NoError(t, err)
	assert.Equal(t, fnle.LoadOK, results[NameASN])
	assert.Equal(t, fnle.LoadOK, results[NameCompany])

	resp, err := p.Lookup("8.8.8.8")
	require.NoError(t, err)
	assert.True(t, resp.IsDatacenter)

	// Nothing changed on disk: every engine skips.
	results, err = p.Reload(dir)
	require.NoError(t, err)
	for name, res := range results {
		assert.Equal(t, fnle.LoadNotNeeded, res, name)
	}

	needed, err := p.UpdateNeeded(dir)
	require.NoError(t, err)
	assert.False(t, needed)

	// A re-persist bumps the stamps; the pipeline notices and reloads.
	require.NoError(t, src.PersistAll(dir))
	needed, err = p.UpdateNeeded(dir)
	require.NoError(t, err)
	assert.True(t, needed)

	results, err = p.Reload(dir)
	require.NoError(t, err)
	assert.Equal(t, fnle.LoadOK, results[NameASN])
}

func TestReloadMissingDirKeepsCurrent(t *testing.T) {
	p := newTestPipeline(t, fixtureEngines(t), nil)
	results, err := p.Reload(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	for name, res := range results {
		assert.Equal(t, fnle.LoadNoDir, res, name)
	}
	// The previous engines still answer.
	resp, err := p.Lookup("8.8.8.8")
	require.NoError(t, err)
	assert.True(t, resp.IsDatacenter)
}

func TestCountsReflectIndexedRanges(t *testing.T) {
	p := newTestPipeline(t, fixtureEngines(t), nil)
	counts := p.Counts()
	assert.Equal(t, 1, counts[NameASN])
	assert.Equal(t, 2, counts[NameCompany])
	// The direct proxy host is not a range.
	assert.Equal(t, 0, counts[NameProxy])
}
