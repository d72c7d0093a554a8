// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package logging provides the leveled structured logger. Verbosity
// follows the LOG_LEVEL environment variable: 0 off, 1 errors,
// 2 warnings and errors, 3 everything. A bounded in-memory ring keeps
// recent lines for the /logs admin endpoint.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
)

const ringSize = 512

// Logger wraps slog with the LOG_LEVEL contract and the ring buffer.
type Logger struct {
	slog *slog.Logger
	ring *ring
	off  bool
}

// New creates a logger honoring LOG_LEVEL. Output goes to stderr in
// logfmt-style text.
func New() *Logger {
	level := LevelFromEnv()
	r := &ring{lines: make([]string, ringSize)}

	if level <= 0 {
		return &Logger{slog: slog.New(discardHandler{}), ring: r, off: true}
	}

	var slogLevel slog.Level
	switch level {
	case 1:
		slogLevel = slog.LevelError
	case 2:
		slogLevel = slog.LevelWarn
	default:
		slogLevel = slog.LevelDebug
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	return &Logger{slog: slog.New(&tee{next: h, ring: r, min: slogLevel}), ring: r}
}

// LevelFromEnv parses LOG_LEVEL, defaulting to 3 (all).
func LevelFromEnv() int {
	v := os.Getenv("LOG_LEVEL")
	if v == "" {
		return 3
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 3 {
		return 3
	}
	return n
}

// With returns a logger carrying extra attributes on every line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), ring: l.ring, off: l.off}
}

// Debug logs at debug level (LOG_LEVEL 3 only).
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at info level (LOG_LEVEL 3 only).
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at warning level (LOG_LEVEL >= 2).
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at error level (LOG_LEVEL >= 1).
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Recent returns up to n recent log lines, oldest first.
func (l *Logger) Recent(n int) []string {
	return l.ring.recent(n)
}

type ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	count int
}

func (r *ring) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

func (r *ring) recent(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]string, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.lines)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}

// tee forwards records to the real handler and mirrors a rendered line
// into the ring.
type tee struct {
	next slog.Handler
	ring *ring
	min  slog.Level
}

func (t *tee) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= t.min
}

func (t *tee) Handle(ctx context.Context, rec slog.Record) error {
	line := fmt.Sprintf("%s %s %s", rec.Time.Format(time.RFC3339), rec.Level, rec.Message)
	rec.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	t.ring.add(line)
	return t.next.Handle(ctx, rec)
}

func (t *tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tee{next: t.next.WithAttrs(attrs), ring: t.ring, min: t.min}
}

func (t *tee) WithGroup(name string) slog.Handler {
	return &tee{next: t.next.WithGroup(name), ring: t.ring, min: t.min}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
