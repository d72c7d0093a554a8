// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package metastore

import (
	"errors"
	"testing"
	"time"

	"ipintel/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetASN(t *testing.T) {
	s := openTestStore(t)

	meta := &model.ASNMeta{
		ASN:     15169,
		Org:     "Google LLC",
		Country: "US",
		RIR:     "ARIN",
		Type:    "business",
		Domain:  "google.com",
		Active:  true,
	}
	if err := s.PutASN(meta); err != nil {
		t.Fatalf("PutASN failed: %v", err)
	}

	got, err := s.GetASN(15169)
	if err != nil {
		t.Fatalf("GetASN failed: %v", err)
	}
	if got.Org != meta.Org || got.RIR != meta.RIR || !got.Active {
		t.Errorf("GetASN = %+v, want %+v", got, meta)
	}

	if _, err := s.GetASN(64512); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetASN(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPutGetGeoname(t *testing.T) {
	s := openTestStore(t)

	rec := &model.GeonameRecord{
		ID:          5128581,
		Country:     "United States",
		CountryCode: "US",
		State:       "New York",
		City:        "New York City",
		Lat:         40.7128,
		Lon:         -74.006,
	}
	if err := s.PutGeoname(rec); err != nil {
		t.Fatalf("PutGeoname failed: %v", err)
	}

	got, err := s.GetGeoname(5128581)
	if err != nil {
		t.Fatalf("GetGeoname failed: %v", err)
	}
	if got.City != rec.City || got.Lat != rec.Lat {
		t.Errorf("GetGeoname = %+v, want %+v", got, rec)
	}
}

func TestBuiltAtAndCounts(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().Truncate(time.Second)
	if err := s.SetBuiltAt(now); err != nil {
		t.Fatalf("SetBuiltAt failed: %v", err)
	}
	got, err := s.BuiltAt()
	if err != nil {
		t.Fatalf("BuiltAt failed: %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("BuiltAt = %v, want %v", got, now)
	}

	for i := uint32(1); i <= 3; i++ {
		if err := s.PutASN(&model.ASNMeta{ASN: i, Org: "org"}); err != nil {
			t.Fatalf("PutASN failed: %v", err)
		}
	}
	n, err := s.CountASNs()
	if err != nil {
		t.Fatalf("CountASNs failed: %v", err)
	}
	if n != 3 {
		t.Errorf("CountASNs = %d, want 3", n)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.GetASN(1); !errors.Is(err, model.ErrStoreClosed) {
		t.Errorf("GetASN on closed store = %v, want ErrStoreClosed", err)
	}
	if err := s.Close(); !errors.Is(err, model.ErrStoreClosed) {
		t.Errorf("double Close = %v, want ErrStoreClosed", err)
	}
}
