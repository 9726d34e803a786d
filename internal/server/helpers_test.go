// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/metrics"
	"github.com/sigil-dev/relay/internal/provider"
	"github.com/sigil-dev/relay/internal/run"
	"github.com/sigil-dev/relay/internal/server"
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

type fixture struct {
	srv     *server.Server
	exec    *run.Executor
	tracker *availability.Tracker
	events  *availability.Broadcaster
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, backends ...provider.Backend) *fixture {
	t.Helper()
	dir := t.TempDir()

	lookup, err := provider.NewRegistry(backends...)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	events := availability.NewBroadcaster()

	tracker := availability.NewTracker(
		availability.NewFileStore(filepath.Join(dir, "status.json")),
		availability.Config{},
		availability.MultiPublisher{events, rec},
	)
	_, err = tracker.Init()
	require.NoError(t, err)

	exec, err := run.NewExecutor(run.ExecutorConfig{
		Backends:       lookup,
		Tracker:        tracker,
		Store:          run.NewStore(filepath.Join(dir, "runs")),
		DefaultTimeout: 10 * time.Second,
		Observer:       rec,
	})
	require.NoError(t, err)

	svc, err := server.NewServices(lookup, tracker, exec, events)
	require.NoError(t, err)

	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		Metrics:    rec,
		Gatherer:   reg,
	}, svc)
	require.NoError(t, err)

	return &fixture{srv: srv, exec: exec, tracker: tracker, events: events, reg: reg}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// waitTerminal polls the run store until id has a terminal record.
func (f *fixture) waitTerminal(t *testing.T, id string) *run.Record {
	t.Helper()
	var rec *run.Record
	require.Eventually(t, func() bool {
		got, err := f.exec.Store().Get(id)
		if err != nil || !got.Terminal() || f.exec.IsRunActive(id) {
			return false
		}
		rec = got
		return true
	}, 10*time.Second, 20*time.Millisecond)
	return rec
}
