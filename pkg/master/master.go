// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package master implements the prefork process model: the master owns
// the listening socket and the pid file, forks one worker per
// configured slot, respawns workers that die, and coordinates the two
// reload flavors (SIGUSR1 in-place, SIGUSR2 rolling restart).
package master

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"ipintel/pkg/config"
	"ipintel/pkg/logging"
)

const (
	// ackTimeout bounds how long a freshly forked worker may take to
	// load its indexes and report ready.
	ackTimeout = 60 * time.Second

	respawnDelay = time.Second
)

// Master supervises the worker processes.
type Master struct {
	cfg *config.Config
	log *logging.Logger

	listenFile *os.File

	mu       sync.Mutex
	workers  map[int]*exec.Cmd
	stopping bool

	exits chan int
}

// New creates a master for the given configuration.
func New(cfg *config.Config, log *logging.Logger) *Master {
	if log == nil {
		log = logging.New()
	}
	return &Master{
		cfg:     cfg,
		log:     log,
		workers: make(map[int]*exec.Cmd),
		exits:   make(chan int, 16),
	}
}

// Run binds the listener, writes the pid file, forks the workers and
// supervises them until ctx is cancelled or a termination signal
// arrives.
func (m *Master) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", m.cfg.Listen, err)
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("listener on %s is not TCP", m.cfg.Listen)
	}
	m.listenFile, err = tcpLn.File()
	if err != nil {
		return fmt.Errorf("failed to dup listener fd: %w", err)
	}
	defer m.listenFile.Close()

	if err := WritePIDFile(m.cfg.PIDFile, os.Getpid()); err != nil {
		return err
	}
	defer RemovePIDFile(m.cfg.PIDFile)

	for i := 0; i < m.cfg.Workers; i++ {
		if err := m.spawn(); err != nil {
			m.shutdown()
			return err
		}
	}
	m.log.Info("master running", "pid", os.Getpid(), "workers", m.cfg.Workers, "listen", m.cfg.Listen)

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGUSR1, unix.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil

		case sig := <-sigs:
			switch sig {
			case unix.SIGTERM, unix.SIGINT:
				m.log.Info("terminating", "signal", sig.String())
				m.shutdown()
				return nil
			case unix.SIGUSR1:
				// In-place reload: each worker re-reads its snapshots
				// without dropping connections.
				m.forEachWorker(func(pid int) {
					unix.Kill(pid, unix.SIGUSR1)
				})
			case unix.SIGUSR2:
				if err := m.rollingRestart(); err != nil {
					m.log.Error("rolling restart failed", "error", err)
				}
			}

		case pid := <-m.exits:
			m.mu.Lock()
			stopping := m.stopping
			delete(m.workers, pid)
			m.mu.Unlock()
			if stopping {
				continue
			}
			m.log.Warn("worker died, respawning", "pid", pid)
			time.Sleep(respawnDelay)
			if err := m.spawn(); err != nil {
				m.log.Error("respawn failed", "error", err)
			}
		}
	}
}

// spawn forks one worker, handing it the listener as fd 3 and the ack
// pipe as fd 4, and waits for the ready byte.
func (m *Master) spawn() error {
	ackR, ackW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create ack pipe: %w", err)
	}
	defer ackR.Close()

	exe, err := os.Executable()
	if err != nil {
		ackW.Close()
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), workerEnv+"=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{m.listenFile, ackW}

	if err := cmd.Start(); err != nil {
		ackW.Close()
		return fmt.Errorf("failed to start worker: %w", err)
	}
	ackW.Close()

	if err := awaitAck(ackR); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("worker %d never became ready: %w", cmd.Process.Pid, err)
	}

	pid := cmd.Process.Pid
	m.mu.Lock()
	m.workers[pid] = cmd
	m.mu.Unlock()

	go func() {
		cmd.Wait()
		m.exits <- pid
	}()

	m.log.Info("worker ready", "pid", pid)
	return nil
}

func awaitAck(r *os.File) error {
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := r.Read(buf)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(ackTimeout):
		return fmt.Errorf("timed out after %s", ackTimeout)
	}
}

// rollingRestart replaces workers one at a time: the successor must ack
// before its predecessor is asked to exit, so capacity never drops.
func (m *Master) rollingRestart() error {
	m.mu.Lock()
	old := make([]int, 0, len(m.workers))
	for pid := range m.workers {
		old = append(old, pid)
	}
	m.mu.Unlock()

	for _, pid := range old {
		if err := m.spawn(); err != nil {
			return err
		}
		unix.Kill(pid, unix.SIGTERM)
	}
	return nil
}

func (m *Master) forEachWorker(fn func(pid int)) {
	m.mu.Lock()
	pids := make([]int, 0, len(m.workers))
	for pid := range m.workers {
		pids = append(pids, pid)
	}
	m.mu.Unlock()
	for _, pid := range pids {
		fn(pid)
	}
}

func (m *Master) shutdown() {
	m.mu.Lock()
	m.stopping = true
	cmds := make([]*exec.Cmd, 0, len(m.workers))
	for _, cmd := range m.workers {
		cmds = append(cmds, cmd)
	}
	m.mu.Unlock()

	for _, cmd := range cmds {
		cmd.Process.Signal(unix.SIGTERM)
	}
	// The per-worker Wait goroutines report each exit exactly once.
	for range cmds {
		<-m.exits
	}
}

// WritePIDFile records pid at path.
func WritePIDFile(path string, pid int) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// RemovePIDFile deletes the pid file, ignoring a missing one.
func RemovePIDFile(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// ReadPIDFile returns the pid stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pid file: %w", err)
	}
	pid, err := strconv.Atoi(string(trimNL(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s is malformed: %w", path, err)
	}
	return pid, nil
}

func trimNL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
