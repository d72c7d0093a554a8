// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package usagesync ships accumulated per-key usage counters to the
// central usage service and brings back the apiKey status map. Syncs
// run on a jittered schedule; a failed sync keeps the previous map and
// restores the counters for the next attempt.
package usagesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"ipintel/pkg/logging"
	"ipintel/pkg/model"
	"ipintel/pkg/ratelimit"
	"ipintel/pkg/util/workers"
)

const (
	defaultTimeout = 10 * time.Second

	// Sync every 6 to 8 minutes; the jitter spreads workers out so the
	// central service never sees a thundering herd.
	syncBase   = 6 * time.Minute
	syncJitter = 2 * time.Minute
)

// Client talks to the central usage service.
type Client struct {
	url        string
	instanceID string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a usage service client. The per-call timeout covers
// connect, send and receive.
func NewClient(url string) *Client {
	return &Client{
		url:        url,
		instanceID: uuid.NewString(),
		httpClient: &http.Client{Timeout: defaultTimeout},
		// One in-flight sync at a time is plenty; the limiter guards
		// against misconfigured tight schedules.
		limiter: rate.NewLimiter(rate.Every(time.Minute), 2),
	}
}

// Sync POSTs the counters and returns the fresh key status map.
func (c *Client) Sync(ctx context.Context, counters map[string]uint64) (map[string]model.KeyStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("sync throttled: %w", err)
	}

	report := model.UsageReport{
		InstanceID: c.instanceID,
		SentAt:     time.Now().UTC(),
		Counters:   counters,
	}
	body, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode usage report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("usage service returned %s", resp.Status)
	}

	var reply model.UsageReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode usage reply: %w", err)
	}
	return reply.Keys, nil
}

// Runner drives the periodic sync for one worker.
type Runner struct {
	client  *Client
	limiter *ratelimit.Limiter
	log     *logging.Logger
	retry   workers.RetryConfig
}

// NewRunner wires a client to the worker's rate limiter.
func NewRunner(client *Client, limiter *ratelimit.Limiter, log *logging.Logger) *Runner {
	return &Runner{
		client:  client,
		limiter: limiter,
		log:     log,
		// One quick second attempt covers transient upstream blips; the
		// client's burst allowance admits it without waiting. Anything
		// longer-lived waits for the next scheduled sync.
		retry: workers.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 5 * time.Second,
			MaxDelay:     5 * time.Second,
			Multiplier:   1,
		},
	}
}

// Run loops until the context is cancelled. Each tick drains the local
// counters, uploads them, and swaps the returned key map in. On failure
// the counters go back and the previous map stays: fail-open for known
// keys, and unknown keys are only refused once a map has been received.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(nextInterval()):
		}
		r.SyncOnce(ctx)
	}
}

// SyncOnce performs one sync cycle, retrying transient failures once.
// Also invoked by /reloadUsers.
func (r *Runner) SyncOnce(ctx context.Context) {
	counters := r.limiter.DrainUsage()
	var keys map[string]model.KeyStatus
	err := workers.Retry(ctx, r.retry, func() error {
		var syncErr error
		keys, syncErr = r.client.Sync(ctx, counters)
		return syncErr
	})
	if err != nil {
		r.limiter.RestoreUsage(counters)
		r.log.Warn("usage sync failed, keeping previous key map", "error", err)
		return
	}
	r.limiter.SetKeys(keys)
	r.log.Debug("usage sync complete", "keys", len(keys), "reported", len(counters))
}

func nextInterval() time.Duration {
	return syncBase + rand.N(syncJitter)
}
