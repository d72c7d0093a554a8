// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package fnle

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ipintel/pkg/model"
)

// LoadResult classifies the outcome of Load.
type LoadResult int

const (
	// LoadOK: the snapshot was read and the engine is query-ready.
	LoadOK LoadResult = iota
	// LoadNotNeeded: the stored version equals the in-memory one.
	LoadNotNeeded
	// LoadNoDir: the snapshot directory does not exist.
	LoadNoDir
)

func (r LoadResult) String() string {
	switch r {
	case LoadOK:
		return "success"
	case LoadNotNeeded:
		return "reloadNotNeeded"
	case LoadNoDir:
		return "ramDbStoreDirDoesNotExist"
	default:
		return fmt.Sprintf("loadResult(%d)", int(r))
	}
}

// Load replaces the engine state from <storeDir>/<name>/. Reload is
// skipped when the stored version matches the in-memory one. Loading
// seals both families; the build arrays are never reconstructed because
// the line, the where table and the payloads suffice for queries.
func (e *Engine[P]) Load(storeDir string) (LoadResult, error) {
	dir := filepath.Join(storeDir, e.name)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return LoadNoDir, nil
	}

	var stamp versionStamp
	if err := readJSON(filepath.Join(dir, fileVersion), &stamp); err != nil {
		return LoadOK, fmt.Errorf("%w: %v", model.ErrCorruptIndex, err)
	}
	if stamp.LutVersion != 0 && stamp.LutVersion == e.version {
		return LoadNotNeeded, nil
	}

	v4 := newTable[P](true)
	if err := v4.load(dir, fileLine4, fileWhere4, fileObjects4, fileOverlaps4); err != nil {
		return LoadOK, err
	}
	v6 := newTable[P](false)
	if err := v6.load(dir, fileLine6, fileWhere6, fileObjects6, fileOverlaps6); err != nil {
		return LoadOK, err
	}

	direct, err := loadDirect[P](filepath.Join(dir, fileDirect))
	if err != nil {
		return LoadOK, err
	}

	e.v4, e.v6, e.direct = v4, v6, direct
	e.version = stamp.LutVersion
	return LoadOK, nil
}

func (t *table[P]) load(dir, lineFile, whereFile, objectsFile, overlapsFile string) error {
	line, err := readMaybe(filepath.Join(dir, lineFile))
	if err != nil {
		return err
	}
	if len(line)%t.eventSize != 0 {
		return fmt.Errorf("%w: %s length %d is not a multiple of %d",
			model.ErrCorruptIndex, lineFile, len(line), t.eventSize)
	}

	where, err := readMaybe(filepath.Join(dir, whereFile))
	if err != nil {
		return err
	}
	if len(where)%4 != 0 {
		return fmt.Errorf("%w: %s is not a u32 array", model.ErrCorruptIndex, whereFile)
	}

	var payloads []P
	if data, err := readMaybe(filepath.Join(dir, objectsFile)); err != nil {
		return err
	} else if len(data) > 0 {
		if err := json.Unmarshal(data, &payloads); err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrCorruptIndex, objectsFile, err)
		}
	}

	if len(where)/4 != len(payloads) || len(line)/t.eventSize != 2*len(payloads) {
		return fmt.Errorf("%w: %s/%s/%s disagree on range count",
			model.ErrCorruptIndex, lineFile, whereFile, objectsFile)
	}

	t.line = line
	t.nEvents = len(line) / t.eventSize
	t.where = where
	t.payloads = payloads

	// Overlap records referring to slots outside the loaded range array
	// are dropped rather than trusted.
	raw, err := readMaybe(filepath.Join(dir, overlapsFile))
	if err != nil {
		return err
	}
	slots := uint32(len(payloads))
	t.overlaps = make(map[uint32][]uint32)
	for off := 0; off+8 <= len(raw); {
		key := binary.LittleEndian.Uint32(raw[off:])
		count := binary.LittleEndian.Uint32(raw[off+4:])
		off += 8
		if off+int(count)*4 > len(raw) {
			return fmt.Errorf("%w: %s truncated", model.ErrCorruptIndex, overlapsFile)
		}
		list := make([]uint32, 0, count)
		for i := uint32(0); i < count; i++ {
			nb := binary.LittleEndian.Uint32(raw[off:])
			off += 4
			if nb < slots {
				list = append(list, nb)
			}
		}
		if key < slots && len(list) > 0 {
			t.overlaps[key] = list
		}
	}

	t.starts, t.ends, t.dup = nil, nil, nil
	t.sealed = true
	return nil
}

func loadDirect[P any](path string) (map[string][]P, error) {
	direct := make(map[string][]P)
	data, err := readMaybe(path)
	if err != nil || len(data) == 0 {
		return direct, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrCorruptIndex, fileDirect, err)
	}
	for key, msg := range raw {
		var list []P
		if err := json.Unmarshal(msg, &list); err == nil {
			direct[key] = list
			continue
		}
		var single P
		if err := json.Unmarshal(msg, &single); err != nil {
			return nil, fmt.Errorf("%w: %s entry %q: %v", model.ErrCorruptIndex, fileDirect, key, err)
		}
		direct[key] = []P{single}
	}
	return direct, nil
}

// SnapshotVersion reads the version stamp of <storeDir>/<name>/ without
// loading the snapshot. A missing snapshot reports version 0.
func SnapshotVersion(storeDir, name string) (int64, error) {
	var stamp versionStamp
	err := readJSON(filepath.Join(storeDir, name, fileVersion), &stamp)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stamp.LutVersion, nil
}

// readMaybe reads a snapshot component, treating a missing file as
// empty. Zero-length overlap files are normal when nothing overlaps.
func readMaybe(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
