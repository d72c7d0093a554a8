// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package workers provides a bounded, optionally rate-limited worker
// pool. Bulk lookups fan out over it, and the dataset builder uses it
// to ingest source feeds in parallel.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Task is one unit of work.
type Task func(ctx context.Context) error

// Result reports the outcome of a submitted task by its index.
type Result struct {
	Index int
	Error error
}

// Config sizes a pool. A RateLimit of 0 means unthrottled.
type Config struct {
	Workers   int
	RateLimit float64
	BurstSize int
}

// Pool runs tasks with bounded concurrency.
type Pool struct {
	limiter   *rate.Limiter
	semaphore chan struct{}
	results   chan Result
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewPool creates a pool. It must be finished with Wait or Stop.
func NewPool(ctx context.Context, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.Workers
	}

	poolCtx, cancel := context.WithCancel(ctx)

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize)
	}

	return &Pool{
		limiter:   limiter,
		semaphore: make(chan struct{}, cfg.Workers),
		results:   make(chan Result, cfg.Workers*2),
		ctx:       poolCtx,
		cancel:    cancel,
	}
}

// Submit schedules a task. Submission never blocks; concurrency is
// bounded by the semaphore inside the spawned goroutine.
func (p *Pool) Submit(index int, task Task) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.semaphore <- struct{}{}:
			defer func() { <-p.semaphore }()
		case <-p.ctx.Done():
			p.results <- Result{Index: index, Error: p.ctx.Err()}
			return
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(p.ctx); err != nil {
				p.results <- Result{Index: index, Error: err}
				return
			}
		}

		p.results <- Result{Index: index, Error: task(p.ctx)}
	}()
}

// Wait blocks until every submitted task finished and returns their
// results in completion order. The pool cannot be reused afterwards.
func (p *Pool) Wait() []Result {
	go func() {
		p.wg.Wait()
		close(p.results)
	}()

	var results []Result
	for result := range p.results {
		results = append(results, result)
	}
	return results
}

// Stop cancels tasks that have not started yet.
func (p *Pool) Stop() {
	p.cancel()
}

// RetryConfig controls Retry's backoff schedule.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig is tuned for flaky upstream feed servers.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry runs fn with exponential backoff until it succeeds or the
// attempts are spent.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
