// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/classify"
	"github.com/sigil-dev/relay/internal/config"
	"github.com/sigil-dev/relay/internal/metrics"
	"github.com/sigil-dev/relay/internal/provider"
	"github.com/sigil-dev/relay/internal/run"
	"github.com/sigil-dev/relay/internal/secrets"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// secretStoreFactory creates a secrets.Store. Tests substitute a mock.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

// App holds the wired core components.
type App struct {
	Config   *config.Config
	Backends *provider.Registry
	Tracker  *availability.Tracker
	Executor *run.Executor
	Events   *availability.Broadcaster
	Metrics  *metrics.Recorder
	Registry *prometheus.Registry
}

// wireApp builds the registry, tracker and executor from cfg. Tracker state
// is loaded from disk and elapsed recoveries are swept.
func wireApp(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, relayerr.Errorf(relayerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	if err := secrets.ResolveBackendKeys(cfg.Backends, secretStoreFactory()); err != nil {
		// Keyring URIs left in place fail at request time with an auth error.
		slog.Warn("unresolved backend secrets", "error", err)
	}

	backends, err := provider.NewRegistryFromConfig(cfg.Backends)
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeCLISetupFailure, "registering backends")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)
	events := availability.NewBroadcaster()

	tracker := availability.NewTracker(
		availability.NewFileStore(cfg.Availability.StatusFile),
		availability.Config{
			UsageLimitWait: cfg.Availability.UsageLimitWait,
			RateLimitWait:  cfg.Availability.RateLimitWait,
			Priority:       cfg.Availability.FallbackPriority,
		},
		availability.MultiPublisher{events, rec},
	)
	statuses, err := tracker.Init()
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeCLISetupFailure, "loading backend status")
	}
	for id, s := range statuses {
		if _, ok := backends.Get(id); !ok {
			slog.Debug("status recorded for unconfigured backend", "backend", id, "available", s.Available)
		}
	}

	executor, err := run.NewExecutor(run.ExecutorConfig{
		Backends:           backends,
		Tracker:            tracker,
		Store:              run.NewStore(cfg.Runs.Dir),
		MaxActive:          cfg.Runs.MaxActive,
		DefaultTimeout:     cfg.Runs.DefaultTimeout,
		PromptPreviewChars: cfg.Runs.PromptPreviewChars,
		Observer:           rec,
		ErrorHook: func(backendID string, c classify.Classification, _ string) {
			slog.Warn("run failure reported to error hook",
				"backend", backendID,
				"category", c.Category,
				"wait_time", c.WaitTime,
				"message", c.Message,
			)
		},
	})
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeCLISetupFailure, "creating executor")
	}

	return &App{
		Config:   cfg,
		Backends: backends,
		Tracker:  tracker,
		Executor: executor,
		Events:   events,
		Metrics:  rec,
		Registry: reg,
	}, nil
}
