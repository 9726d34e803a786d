// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/sigil-dev/relay/internal/config"
	"github.com/sigil-dev/relay/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		Long:  "Start the HTTP API for dispatching runs, inspecting run history and managing backend availability.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "listen address (host:port), overrides server.listen")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, config.Binding{Key: "server.listen", Flag: cmd.Flags().Lookup("listen")})
	if err != nil {
		return err
	}

	app, err := wireApp(cfg)
	if err != nil {
		return err
	}

	svc, err := server.NewServices(app.Backends, app.Tracker, app.Executor, app.Events)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     app.Metrics,
		Gatherer:    app.Registry,
	}, svc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("relay server starting",
		"listen", cfg.Server.Listen,
		"backends", app.Backends.Len(),
		"config", cfg.Source,
	)
	err = srv.Start(ctx)
	stopActiveRuns(app)
	return err
}

// stopActiveRuns terminates runs still in flight at shutdown so their
// records are finalized as stopped.
func stopActiveRuns(app *App) {
	for _, id := range app.Executor.ActiveRuns() {
		if app.Executor.StopRun(id) {
			slog.Info("stopped run at shutdown", "run_id", id)
		}
	}
}
