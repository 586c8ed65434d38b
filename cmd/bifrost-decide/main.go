// Package main runs the Bifrost decision service.
//
// It is the composition root: it loads configuration and the datafile, wires
// the profile store selected by configuration, and serves the decide API
// alongside the observability server until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/bifrost/internal/client"
	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/datafile"
	"github.com/rafaeljc/bifrost/internal/decideapi"
	"github.com/rafaeljc/bifrost/internal/errorhandler"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	// -------------------------------------------------------------------------
	// 2. Datafile
	// -------------------------------------------------------------------------
	project, err := datafile.Load(cfg.Datafile.Path, logger.Component(log, "projectconfig"))
	if err != nil {
		return fmt.Errorf("failed to load datafile: %w", err)
	}
	log.Info("datafile loaded",
		slog.String("path", cfg.Datafile.Path),
		slog.String("version", project.Version()),
		slog.String("revision", project.Revision()),
		slog.Int("experiments", len(project.Experiments())),
		slog.Int("features", len(project.FeatureFlags())),
	)
	observability.DatafileInfo.WithLabelValues(project.Version(), project.Revision()).Set(1)

	// -------------------------------------------------------------------------
	// 3. Profile store
	// -------------------------------------------------------------------------
	profiles, err := openProfiles(ctx, cfg)
	if err != nil {
		return err
	}
	defer profiles.close()

	// -------------------------------------------------------------------------
	// 4. Wiring
	// -------------------------------------------------------------------------
	decisions := client.New(logger.Component(log, "client"), project, client.Options{
		ErrorHandler: errorhandler.ByName(cfg.App.ErrorHandler, logger.Component(log, "errorhandler")),
		Profiles:     profiles.service,
		Listener:     client.NewLogListener(logger.Component(log, "facts")),
	})

	api := decideapi.NewAPI(logger.Component(log, "decideapi"), decisions, &cfg.Server.Decide)
	server := decideapi.NewServer(log, &cfg.Server.Decide, api.Router)

	obs := observability.NewServer(log, &cfg.Observability, profiles.checkers...)
	obsErrs := obs.Start()

	// -------------------------------------------------------------------------
	// 5. Serve until signalled
	// -------------------------------------------------------------------------
	var serveErr error
	select {
	case err, ok := <-server.Start():
		if ok {
			serveErr = fmt.Errorf("decide API server failed: %w", err)
		}
	case err, ok := <-obsErrs:
		if ok {
			serveErr = fmt.Errorf("observability server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	// -------------------------------------------------------------------------
	// 6. Graceful shutdown
	// -------------------------------------------------------------------------
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("decide API shutdown failed", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info("service exited successfully")
	return nil
}
