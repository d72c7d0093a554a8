// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package master

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// workerEnv marks a process as a forked worker.
const workerEnv = "IPINTEL_WORKER"

// Inherited file descriptors, after stdin/stdout/stderr.
const (
	listenerFD = 3
	ackFD      = 4
)

// IsWorker reports whether this process was forked by a master.
func IsWorker() bool {
	return os.Getenv(workerEnv) != ""
}

// InheritedListener recovers the listening socket the master passed in.
func InheritedListener() (net.Listener, error) {
	f := os.NewFile(listenerFD, "listener")
	if f == nil {
		return nil, fmt.Errorf("listener fd %d not inherited", listenerFD)
	}
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to recover inherited listener: %w", err)
	}
	return ln, nil
}

// NotifyReady tells the master this worker finished loading and is
// serving. Closes the ack pipe; calling it twice is harmless.
func NotifyReady() {
	f := os.NewFile(ackFD, "ack")
	if f == nil {
		return
	}
	f.Write([]byte{1})
	f.Close()
}

// OnReloadSignal invokes fn on every SIGUSR1 until ctx is cancelled.
// Workers use it for the in-place index reload.
func OnReloadSignal(ctx context.Context, fn func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGUSR1)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				fn()
			}
		}
	}()
}
