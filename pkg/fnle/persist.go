// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package fnle

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"ipintel/pkg/model"
)

// Snapshot file names inside the <name>/ directory.
const (
	fileLine4     = "line.bin"
	fileLine6     = "line6.bin"
	fileWhere4    = "where.bin"
	fileWhere6    = "where6.bin"
	fileObjects4  = "objects.json"
	fileObjects6  = "objects6.json"
	fileDirect    = "direct.json"
	fileOverlaps4 = "overlapping.bin"
	fileOverlaps6 = "overlapping6.bin"
	fileVersion   = "tsCreated.json"
)

type versionStamp struct {
	LutVersion int64 `json:"lutVersion"`
}

// Persist writes the sealed engine to <storeDir>/<name>/ and bumps the
// version stamp. The stamp is unix millis plus a random tail in [0,100)
// so concurrent persisters land on distinct versions without
// coordination.
func (e *Engine[P]) Persist(storeDir string) error {
	if !e.v4.sealed || !e.v6.sealed {
		return model.ErrNotSealed
	}

	dir := filepath.Join(storeDir, e.name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	if err := e.v4.persist(dir, fileLine4, fileWhere4, fileObjects4, fileOverlaps4); err != nil {
		return err
	}
	if err := e.v6.persist(dir, fileLine6, fileWhere6, fileObjects6, fileOverlaps6); err != nil {
		return err
	}

	directOut := make(map[string]any, len(e.direct))
	for key, list := range e.direct {
		if len(list) == 1 {
			directOut[key] = list[0]
		} else {
			directOut[key] = list
		}
	}
	if err := writeJSON(filepath.Join(dir, fileDirect), directOut); err != nil {
		return err
	}

	version := time.Now().UnixMilli() + rand.Int64N(100)
	if err := writeJSON(filepath.Join(dir, fileVersion), versionStamp{LutVersion: version}); err != nil {
		return err
	}
	e.version = version
	return nil
}

func (t *table[P]) persist(dir, lineFile, whereFile, objectsFile, overlapsFile string) error {
	if err := os.WriteFile(filepath.Join(dir, lineFile), t.line, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", lineFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, whereFile), t.where, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", whereFile, err)
	}

	payloads := t.payloads
	if payloads == nil {
		payloads = []P{}
	}
	if err := writeJSON(filepath.Join(dir, objectsFile), payloads); err != nil {
		return err
	}

	// Variable-width records: u32 key, u32 count, count neighbours. An
	// index with no overlaps produces a zero-length file.
	keys := make([]uint32, 0, len(t.overlaps))
	total := 0
	for k, list := range t.overlaps {
		keys = append(keys, k)
		total += 2 + len(list)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })

	buf := make([]byte, 0, total*4)
	var scratch [4]byte
	appendU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:], v)
		buf = append(buf, scratch[:]...)
	}
	for _, k := range keys {
		appendU32(k)
		appendU32(uint32(len(t.overlaps[k])))
		for _, nb := range t.overlaps[k] {
			appendU32(nb)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, overlapsFile), buf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", overlapsFile, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
