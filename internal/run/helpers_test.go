// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package run_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/classify"
	"github.com/sigil-dev/relay/internal/provider"
	"github.com/sigil-dev/relay/internal/run"
	"github.com/stretchr/testify/require"
)

func shBackend(id, script string) provider.Backend {
	return provider.Backend{
		ID:      id,
		Kind:    provider.KindProcess,
		Command: "sh",
		Args:    []string{"-c", script},
		Enabled: true,
	}
}

type hookCall struct {
	backendID string
	category  classify.Category
	raw       string
}

type fixture struct {
	exec    *run.Executor
	tracker *availability.Tracker
	store   *run.Store

	mu    sync.Mutex
	hooks []hookCall
}

func (f *fixture) hookCalls() []hookCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hookCall(nil), f.hooks...)
}

func newFixture(t *testing.T, maxActive int, backends ...provider.Backend) *fixture {
	t.Helper()
	dir := t.TempDir()

	reg, err := provider.NewRegistry(backends...)
	require.NoError(t, err)

	tracker := availability.NewTracker(
		availability.NewFileStore(filepath.Join(dir, "status.json")),
		availability.Config{},
		nil,
	)
	_, err = tracker.Init()
	require.NoError(t, err)

	f := &fixture{tracker: tracker, store: run.NewStore(filepath.Join(dir, "runs"))}
	f.exec, err = run.NewExecutor(run.ExecutorConfig{
		Backends:       reg,
		Tracker:        tracker,
		Store:          f.store,
		MaxActive:      maxActive,
		DefaultTimeout: 10 * time.Second,
		ErrorHook: func(backendID string, c classify.Classification, raw string) {
			f.mu.Lock()
			f.hooks = append(f.hooks, hookCall{backendID: backendID, category: c.Category, raw: raw})
			f.mu.Unlock()
		},
	})
	require.NoError(t, err)
	return f
}

// captured collects callbacks and checks chunks precede completion.
type captured struct {
	mu              sync.Mutex
	chunks          []string
	completed       *run.Record
	chunkAfterFinal bool
}

func (c *captured) callbacks() run.Callbacks {
	return run.Callbacks{
		OnOutput: func(_ string, chunk string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.completed != nil {
				c.chunkAfterFinal = true
			}
			c.chunks = append(c.chunks, chunk)
		},
		OnComplete: func(rec *run.Record) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.completed = rec
		},
	}
}
