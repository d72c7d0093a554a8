// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// ipintel-server runs the lookup API. The initial process acts as the
// prefork master: it binds the listener, forks the workers and
// supervises them. Forked workers inherit the socket and serve.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"ipintel/pkg/config"
	"ipintel/pkg/logging"
	"ipintel/pkg/master"
	"ipintel/pkg/metastore"
	"ipintel/pkg/metrics"
	"ipintel/pkg/pipeline"
	"ipintel/pkg/ratelimit"
	"ipintel/pkg/server"
	"ipintel/pkg/usagesync"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	single := flag.Bool("single", false, "serve from this process without preforking")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ipintel-server %s (%s)\n", server.APIVersion, server.SourceHash)
		return
	}

	log := logging.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGTERM, unix.SIGINT)
	defer stop()

	switch {
	case master.IsWorker():
		err = runWorker(ctx, cfg, log)
	case *single:
		err = runSingle(ctx, cfg, log)
	default:
		err = master.New(cfg, log).Run(ctx)
	}
	if err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// runWorker serves on the socket inherited from the master.
func runWorker(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	ln, err := master.InheritedListener()
	if err != nil {
		return err
	}
	srv, err := buildServer(cfg, log)
	if err != nil {
		return err
	}

	master.OnReloadSignal(ctx, reloadIndexes(srv, log))
	go srv.Background(ctx)

	master.NotifyReady()
	return serve(ctx, ln, srv.Handler())
}

// runSingle binds its own socket, for development and tiny deployments.
func runSingle(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", cfg.Listen, err)
	}
	if err := master.WritePIDFile(cfg.PIDFile, os.Getpid()); err != nil {
		return err
	}
	defer master.RemovePIDFile(cfg.PIDFile)

	srv, err := buildServer(cfg, log)
	if err != nil {
		return err
	}
	master.OnReloadSignal(ctx, reloadIndexes(srv, log))
	go srv.Background(ctx)

	log.Info("serving", "listen", cfg.Listen, "pid", os.Getpid())
	return serve(ctx, ln, srv.Handler())
}

// reloadIndexes builds the SIGUSR1 callback. Completion is logged with
// the per-index load results and snapshot versions so a rolling reload
// across workers can be followed in the logs.
func reloadIndexes(srv *server.Server, log *logging.Logger) func() {
	return func() {
		results, err := srv.ReloadIndexes()
		if err != nil {
			log.Error("in-place reload failed", "error", err, "results", results)
			return
		}
		log.Info("in-place reload complete",
			"pid", os.Getpid(), "results", results, "versions", srv.IndexVersions())
	}
}

func buildServer(cfg *config.Config, log *logging.Logger) (*server.Server, error) {
	var store *metastore.Store
	if cfg.MetaDBDir != "" {
		var err error
		store, err = metastore.Open(cfg.MetaDBDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open metastore: %w", err)
		}
	}

	eng := pipeline.NewEngines()
	results, err := eng.LoadAll(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	for name, res := range results {
		log.Info("index loaded", "index", name, "result", res.String())
	}

	pipe, err := pipeline.New(eng, pipeline.Options{Meta: store, Log: log})
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg, func(ip netip.Addr) {
		// The firewall integration is deployment-specific; the hook
		// logs the offender so an external watcher can act on it.
		log.Warn("firewall candidate", "ip", ip.String())
	})

	var usage *usagesync.Runner
	if cfg.UsageSync.Enabled && cfg.UsageSync.URL != "" {
		usage = usagesync.NewRunner(usagesync.NewClient(cfg.UsageSync.URL), limiter, log)
	}

	return server.New(cfg, pipe, limiter, usage, metrics.New(), log), nil
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
