// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package metrics exposes Prometheus instrumentation for the request
// path. The collector owns its registry so tests can create many.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the request-path metrics.
type Collector struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	lookupDuration prometheus.Histogram
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	rateDenied     *prometheus.CounterVec
	reloads        prometheus.Counter
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipintel_requests_total",
			Help: "HTTP requests by status code and format.",
		}, []string{"status", "format"}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ipintel_lookup_duration_seconds",
			Help: "Pipeline lookup latency.",
			// Sub-millisecond medians; buckets reach into microseconds.
			Buckets: []float64{5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 0.025, 0.1},
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipintel_cache_hits_total",
			Help: "LFU cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipintel_cache_misses_total",
			Help: "LFU cache misses.",
		}),
		rateDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipintel_rate_denied_total",
			Help: "Requests denied by the rate limiter, by error code.",
		}, []string{"code"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipintel_index_reloads_total",
			Help: "Completed index reloads.",
		}),
	}
	c.registry.MustRegister(c.requests, c.lookupDuration, c.cacheHits,
		c.cacheMisses, c.rateDenied, c.reloads)
	return c
}

// Handler returns the /metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (c *Collector) ObserveRequest(status, format string) {
	c.requests.WithLabelValues(status, format).Inc()
}

// ObserveLookup records the duration of one pipeline lookup.
func (c *Collector) ObserveLookup(d time.Duration) {
	c.lookupDuration.Observe(d.Seconds())
}

// CacheHit counts an LFU hit.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// CacheMiss counts an LFU miss.
func (c *Collector) CacheMiss() { c.cacheMisses.Inc() }

// RateDenied counts a limiter denial by error code.
func (c *Collector) RateDenied(code string) {
	c.rateDenied.WithLabelValues(code).Inc()
}

// ReloadDone counts a completed index reload.
func (c *Collector) ReloadDone() { c.reloads.Inc() }
