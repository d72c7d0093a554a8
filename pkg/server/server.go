// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package server is the HTTP surface: lookup endpoints in several
// output formats, bulk lookups, admin endpoints, and the Prometheus
// scrape handler. One Server instance runs per worker process.
package server

import (
	"context"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"ipintel/pkg/config"
	"ipintel/pkg/lfu"
	"ipintel/pkg/logging"
	"ipintel/pkg/metrics"
	"ipintel/pkg/model"
	"ipintel/pkg/pipeline"
	"ipintel/pkg/ratelimit"
	"ipintel/pkg/usagesync"
	"ipintel/pkg/util/ipcodec"
)

// APIVersion is reported by /apiVersion and /status.
const APIVersion = "1.92"

// SourceHash is stamped at build time via -ldflags.
var SourceHash = "dev"

// reqStats counts finished requests since process start.
type reqStats struct {
	total     atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	denied    atomic.Uint64
}

// Server wires the pipeline, cache and limiter behind the HTTP routes.
type Server struct {
	mu  sync.RWMutex
	cfg *config.Config

	pipe    *pipeline.Pipeline
	cache   *lfu.Cache[*model.Response]
	limiter *ratelimit.Limiter
	usage   *usagesync.Runner
	metrics *metrics.Collector
	log     *logging.Logger

	stats     reqStats
	startedAt time.Time
}

// New assembles a server. The usage runner may be nil when usage sync
// is disabled.
func New(cfg *config.Config, pipe *pipeline.Pipeline, limiter *ratelimit.Limiter,
	usage *usagesync.Runner, m *metrics.Collector, log *logging.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logging.New()
	}
	return &Server{
		cfg:       cfg,
		pipe:      pipe,
		cache:     lfu.New[*model.Response](cfg.CacheSize),
		limiter:   limiter,
		usage:     usage,
		metrics:   m,
		log:       log,
		startedAt: time.Now(),
	}
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Never rate limited: callers probe their own address with it.
	r.HandleFunc("/ip", s.handleClientIP)

	r.HandleFunc("/metrics", s.adminOnly(s.metrics.Handler().ServeHTTP))
	r.HandleFunc("/apiVersion", s.handleAPIVersion)
	r.HandleFunc("/getSourceCodeHash", s.handleSourceHash)

	r.HandleFunc("/stats", s.adminOnly(s.handleStats))
	r.HandleFunc("/logs", s.adminOnly(s.handleLogs))
	r.HandleFunc("/status", s.adminOnly(s.handleStatus))
	r.HandleFunc("/reloadApi", s.adminOnly(s.handleReloadAPI))
	r.HandleFunc("/reloadUsers", s.adminOnly(s.handleReloadUsers))
	r.HandleFunc("/pid", s.adminOnly(s.handlePID))
	r.HandleFunc("/isUpdateNeeded", s.adminOnly(s.handleUpdateNeeded))
	r.HandleFunc("/config", s.adminOnly(s.handleConfig))

	r.HandleFunc("/", s.handleLookup(formatJSON))
	r.HandleFunc("/json", s.handleLookup(formatJSON))
	r.HandleFunc("/toon", s.handleLookup(formatTOON))
	r.HandleFunc("/txt", s.handleLookup(formatText))
	r.HandleFunc("/text", s.handleLookup(formatText))
	r.HandleFunc("/csv", s.handleLookup(formatCSV))
	r.HandleFunc("/html", s.handleLookup(formatHTML))

	// /8.8.8.8 style: the path itself is the query.
	r.PathPrefix("/").HandlerFunc(s.handlePathLookup)

	return s.instrument(r)
}

// instrument wraps the router with the request counter middleware.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.stats.total.Add(1)
		switch {
		case rec.status < 400:
			s.stats.succeeded.Add(1)
		case rec.status == http.StatusForbidden || rec.status == http.StatusTooManyRequests:
			s.stats.denied.Add(1)
		default:
			s.stats.failed.Add(1)
		}
		s.metrics.ObserveRequest(strconv.Itoa(rec.status), formatForPath(r.URL.Path))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func formatForPath(path string) string {
	switch path {
	case "/toon":
		return formatTOON
	case "/txt", "/text":
		return formatText
	case "/csv":
		return formatCSV
	case "/html":
		return formatHTML
	case "/", "/json":
		return formatJSON
	default:
		if strings.HasPrefix(path, "/") && len(path) > 1 && !strings.Contains(path[1:], "/") {
			return formatJSON
		}
		return "other"
	}
}

// handleLookup serves the main lookup endpoints.
func (s *Server) handleLookup(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, &model.APIError{
				Error: "only GET and POST are supported",
				Code:  model.CodeInvalidHTTPMethod,
			})
			return
		}

		p, apiErr := parseParams(r)
		if apiErr != nil {
			writeError(w, http.StatusBadRequest, apiErr)
			return
		}
		s.serveLookup(w, r, p, format)
	}
}

// handlePathLookup treats the path segment as the query, JSON output.
func (s *Server) handlePathLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, &model.APIError{
			Error: "only GET and POST are supported",
			Code:  model.CodeInvalidHTTPMethod,
		})
		return
	}
	query := strings.Trim(r.URL.Path, "/")
	if strings.Contains(query, "/") {
		writeError(w, http.StatusBadRequest, &model.APIError{
			Error: "unrecognized path",
			Code:  model.CodeInvalidIPOrASN,
		})
		return
	}
	p, apiErr := parseParams(r)
	if apiErr != nil {
		writeError(w, http.StatusBadRequest, apiErr)
		return
	}
	p.query = query
	p.queryVia = "q"
	p.isBulk = false
	s.serveLookup(w, r, p, formatJSON)
}

func (s *Server) serveLookup(w http.ResponseWriter, r *http.Request, p *params, format string) {
	clientIP := s.clientIP(r)

	class := ratelimit.ClassStandard
	_, isASN := p.asn()
	switch {
	case p.isBulk:
		class = ratelimit.ClassBulk
	case isASN:
		class = ratelimit.ClassWhois
	}

	decision := s.limiter.Check(clientIP, p.apiKey, class)
	if !decision.Allowed {
		s.metrics.RateDenied(string(decision.Code))
		writeError(w, decision.Status, &model.APIError{Error: decision.Message, Code: decision.Code})
		return
	}

	if p.isBulk {
		s.serveBulk(w, r, p)
		return
	}

	query := p.query
	if query == "" {
		// No query means "who am I": resolve the caller's own address.
		query = clientIP.String()
	}

	if asnID, ok := p.asn(); ok {
		s.serveASN(w, asnID, format)
		return
	}

	addr, err := ipcodec.ParseIP(query)
	if err != nil {
		writeError(w, http.StatusBadRequest, &model.APIError{
			Error: "invalid IP address or ASN",
			Code:  model.CodeInvalidIPOrASN,
		})
		return
	}

	resp := s.lookupCached(addr)
	if format == formatJSON {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	renderEntries(w, format, responseEntries(resp))
}

// lookupCached consults the LFU cache before the pipeline. Hits are
// copied so the cached entry's wall-clock fields can be refreshed
// without racing other readers.
func (s *Server) lookupCached(addr netip.Addr) *model.Response {
	key := addr.String()
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit()
		started := time.Now()
		resp := cloneResponse(cached)
		s.pipe.RefreshTime(resp)
		resp.ElapsedMS = float64(time.Since(started).Microseconds()) / 1000
		return resp
	}
	s.metrics.CacheMiss()

	started := time.Now()
	resp, err := s.pipe.Lookup(addr.String())
	s.metrics.ObserveLookup(time.Since(started))
	if err != nil {
		// Unreachable for a parsed address; kept for the error contract.
		return &model.Response{IP: addr.String()}
	}
	s.cache.Set(key, resp)
	return cloneResponse(resp)
}

func cloneResponse(r *model.Response) *model.Response {
	out := *r
	if r.Datacenter != nil {
		d := *r.Datacenter
		out.Datacenter = &d
	}
	if r.Company != nil {
		c := *r.Company
		out.Company = &c
	}
	if r.Abuse != nil {
		a := *r.Abuse
		out.Abuse = &a
	}
	if r.ASN != nil {
		a := *r.ASN
		out.ASN = &a
	}
	if r.Location != nil {
		l := *r.Location
		out.Location = &l
	}
	return &out
}

func (s *Server) serveASN(w http.ResponseWriter, asn uint32, format string) {
	info, err := s.pipe.LookupASN(asn)
	if err != nil {
		writeError(w, http.StatusBadRequest, &model.APIError{
			Error: "unknown ASN",
			Code:  model.CodeInvalidIPOrASN,
		})
		return
	}
	if format == formatJSON {
		writeJSON(w, http.StatusOK, info)
		return
	}
	renderEntries(w, format, asnEntries(info))
}

func (s *Server) serveBulk(w http.ResponseWriter, r *http.Request, p *params) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, &model.APIError{
			Error: "bulk lookups require POST",
			Code:  model.CodeInvalidHTTPMethod,
		})
		return
	}
	out, err := s.pipe.BulkLookup(r.Context(), p.bulk)
	switch {
	case err == model.ErrBulkLimit:
		writeError(w, http.StatusBadRequest, &model.APIError{
			Error: err.Error(),
			Code:  model.CodeBulkLimitExceeded,
		})
		return
	case err == model.ErrBulkNoValid:
		writeError(w, http.StatusBadRequest, &model.APIError{
			Error: err.Error(),
			Code:  model.CodeInvalidBulkInputNoValid,
		})
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, &model.APIError{
			Error: "bulk lookup failed",
			Code:  model.CodeUnexpectedServerError,
		})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClientIP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.clientIP(r).String() + "\n"))
}

// clientIP resolves the caller's address, preferring proxy headers.
func (s *Server) clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := ipcodec.ParseIP(first); err == nil {
			return addr
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := ipcodec.ParseIP(xri); err == nil {
			return addr
		}
	}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	if addr, err := ipcodec.ParseIP(r.RemoteAddr); err == nil {
		return addr
	}
	return netip.IPv4Unspecified()
}

// Background runs the worker's periodic tasks until ctx is cancelled:
// config hot reload, the limiter's epoch resets, and usage sync.
func (s *Server) Background(ctx context.Context) {
	if s.usage != nil {
		go s.usage.Run(ctx)
	}

	configTick := time.NewTicker(time.Minute)
	hourly := time.NewTicker(time.Hour)
	daily := time.NewTicker(24 * time.Hour)
	firewall := time.NewTicker(12 * time.Hour)
	defer configTick.Stop()
	defer hourly.Stop()
	defer daily.Stop()
	defer firewall.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-configTick.C:
			s.reloadConfig()
		case <-hourly.C:
			s.limiter.ResetHourly()
		case <-daily.C:
			s.limiter.ResetDaily()
		case <-firewall.C:
			s.limiter.ResetFirewall()
		}
	}
}

func (s *Server) reloadConfig() {
	cur := s.config()
	fresh, changed, err := cur.Reload()
	if err != nil {
		s.log.Warn("config reload failed, keeping previous", "error", err)
		return
	}
	if !changed {
		return
	}
	s.mu.Lock()
	s.cfg = fresh
	s.mu.Unlock()
	s.limiter.Configure(fresh)
	s.log.Info("configuration reloaded", "path", fresh.Path)
}

// ReloadIndexes swaps in fresh index snapshots, used by /reloadApi and
// the SIGUSR1 in-place reload.
func (s *Server) ReloadIndexes() (map[string]string, error) {
	results, err := s.pipe.Reload(s.config().DataDir)
	out := make(map[string]string, len(results))
	for name, res := range results {
		out[name] = res.String()
	}
	if err != nil {
		return out, err
	}
	s.cache.Reset()
	s.metrics.ReloadDone()
	return out, nil
}

// IndexVersions reports the loaded snapshot stamp per index, so reload
// logs can show which generation each worker is serving.
func (s *Server) IndexVersions() map[string]int64 {
	return s.pipe.Versions()
}

// PID returns the worker process id, for /pid and the master's
// bookkeeping.
func (s *Server) PID() int { return os.Getpid() }
