// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package server

import (
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ipintel/pkg/model"
)

// adminOnly gates a handler on the configured admin key, accepted under
// the usual key aliases. An unset admin key closes every admin route.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminKey := s.config().AdminKey
		if adminKey == "" || s.presentedKey(r) != adminKey {
			writeError(w, http.StatusForbidden, &model.APIError{
				Error: "admin key required",
				Code:  model.CodeForbidden,
			})
			return
		}
		next(w, r)
	}
}

func (s *Server) presentedKey(r *http.Request) string {
	if v := keyParam(r.URL.Query()); v != "" {
		return v
	}
	if h := strings.TrimSpace(r.Header.Get("X-Api-Key")); h != "" {
		return h
	}
	return ""
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cacheStats := s.cache.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_s": int64(time.Since(s.startedAt).Seconds()),
		"requests": map[string]uint64{
			"total":     s.stats.total.Load(),
			"succeeded": s.stats.succeeded.Load(),
			"failed":    s.stats.failed.Load(),
			"denied":    s.stats.denied.Load(),
		},
		"cache": map[string]any{
			"hits":      cacheStats.Hits,
			"misses":    cacheStats.Misses,
			"evictions": cacheStats.Evictions,
			"size":      cacheStats.Size,
			"capacity":  cacheStats.Capacity,
		},
		"indexes": s.pipe.Counts(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, line := range s.log.Recent(200) {
		w.Write([]byte(line + "\n"))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"pid":      os.Getpid(),
		"version":  APIVersion,
		"uptime_s": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleReloadAPI(w http.ResponseWriter, r *http.Request) {
	results, err := s.ReloadIndexes()
	if err != nil {
		s.log.Error("index reload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   err.Error(),
			"results": results,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleReloadUsers(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, http.StatusOK, map[string]any{"synced": false, "reason": "usage sync disabled"})
		return
	}
	s.usage.SyncOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"synced": true})
}

func (s *Server) handlePID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"pid": os.Getpid()})
}

func (s *Server) handleUpdateNeeded(w http.ResponseWriter, r *http.Request) {
	needed, err := s.pipe.UpdateNeeded(s.config().DataDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, &model.APIError{
			Error: err.Error(),
			Code:  model.CodeUnexpectedServerError,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updateNeeded": needed})
}

// handleConfig renders the active configuration with the admin key
// redacted.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *s.config()
	if cfg.AdminKey != "" {
		cfg.AdminKey = "<redacted>"
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, &model.APIError{
			Error: "failed to render config",
			Code:  model.CodeUnexpectedServerError,
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"apiVersion": APIVersion})
}

func (s *Server) handleSourceHash(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(SourceHash + "\n"))
}
