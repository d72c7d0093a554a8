// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package metastore persists the auxiliary lookup tables that are not
// interval-indexed: ASN metadata and geoname records, keyed by integer
// id. Backed by LevelDB with msgpack-encoded values.
package metastore

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"

	"ipintel/pkg/model"
)

// Key prefixes.
const (
	prefixASN     = "asn:"
	prefixGeoname = "geo:"
	prefixMeta    = "meta:"
)

// Metadata keys.
const (
	metaKeySchema  = "schema"
	metaKeyBuiltAt = "built_at"
)

// SchemaVersion is written at build time and checked on open.
const SchemaVersion = 1

// Store wraps the LevelDB instance holding ASN and geoname records.
type Store struct {
	db     *leveldb.DB
	mu     sync.RWMutex
	path   string
	closed bool
}

// Open opens or creates a metastore at the given path.
func Open(path string) (*Store, error) {
	opts := &opt.Options{
		Compression: opt.SnappyCompression,
		WriteBuffer: 16 * 1024 * 1024,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open metastore: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.ErrStoreClosed
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the store path.
func (s *Store) Path() string { return s.path }

// PutASN stores an ASN metadata record.
func (s *Store) PutASN(meta *model.ASNMeta) error {
	return s.put(asnKey(meta.ASN), meta)
}

// GetASN retrieves an ASN metadata record, or ErrNotFound.
func (s *Store) GetASN(asn uint32) (*model.ASNMeta, error) {
	var meta model.ASNMeta
	if err := s.get(asnKey(asn), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// PutGeoname stores a geoname record.
func (s *Store) PutGeoname(rec *model.GeonameRecord) error {
	return s.put(geonameKey(rec.ID), rec)
}

// GetGeoname retrieves a geoname record, or ErrNotFound.
func (s *Store) GetGeoname(id uint32) (*model.GeonameRecord, error) {
	var rec model.GeonameRecord
	if err := s.get(geonameKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetBuiltAt records the build timestamp and schema version.
func (s *Store) SetBuiltAt(t time.Time) error {
	if err := s.putRaw([]byte(prefixMeta+metaKeySchema), []byte(strconv.Itoa(SchemaVersion))); err != nil {
		return err
	}
	return s.putRaw([]byte(prefixMeta+metaKeyBuiltAt), []byte(t.Format(time.RFC3339)))
}

// BuiltAt returns the build timestamp, zero when never set.
func (s *Store) BuiltAt() (time.Time, error) {
	data, err := s.getRaw([]byte(prefixMeta + metaKeyBuiltAt))
	if err != nil || data == nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid built_at value: %w", err)
	}
	return ts, nil
}

// CountASNs counts the stored ASN records.
func (s *Store) CountASNs() (int64, error) {
	return s.countPrefix(prefixASN)
}

// CountGeonames counts the stored geoname records.
func (s *Store) CountGeonames() (int64, error) {
	return s.countPrefix(prefixGeoname)
}

func (s *Store) countPrefix(prefix string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, model.ErrStoreClosed
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	var n int64
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

func (s *Store) put(key []byte, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.putRaw(key, data)
}

func (s *Store) get(key []byte, v any) error {
	data, err := s.getRaw(key)
	if err != nil {
		return err
	}
	if data == nil {
		return model.ErrNotFound
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

func (s *Store) putRaw(key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.ErrStoreClosed
	}
	return s.db.Put(key, value, nil)
}

func (s *Store) getRaw(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, model.ErrStoreClosed
	}
	value, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	return value, nil
}

func asnKey(asn uint32) []byte {
	return []byte(prefixASN + strconv.FormatUint(uint64(asn), 10))
}

func geonameKey(id uint32) []byte {
	return []byte(prefixGeoname + strconv.FormatUint(uint64(id), 10))
}
