// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sigil-dev/relay/internal/provider"
	"github.com/sigil-dev/relay/internal/server"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_New_Validation(t *testing.T) {
	_, err := server.New(server.Config{}, &server.Services{})
	require.Error(t, err)
	assert.True(t, relayerr.HasCode(err, relayerr.CodeServerConfigInvalid))
	assert.Contains(t, err.Error(), "listen address is required")

	_, err = server.New(server.Config{ListenAddr: ":0"}, nil)
	require.Error(t, err)
	assert.True(t, relayerr.HasCode(err, relayerr.CodeServerConfigInvalid))
}

func TestNewServices_RequiresDependencies(t *testing.T) {
	_, err := server.NewServices(nil, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, relayerr.HasCode(err, relayerr.CodeServerConfigInvalid))
}

func TestServer_HealthEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestServer_OpenAPISpec(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/openapi.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "openapi")

	body := w.Body.String()
	for _, path := range []string{
		"/api/v1/backends",
		"/api/v1/backends/{id}/fallback",
		"/api/v1/runs",
		"/api/v1/runs/{id}/stop",
		"/api/v1/runs/stream",
		"/api/v1/events",
	} {
		assert.Contains(t, body, `"`+path+`"`, "OpenAPI spec must document %s", path)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/health", nil)
	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `relay_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_CORS(t *testing.T) {
	preflight := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/backends", nil)
		req.Header.Set("Origin", "http://ui.local")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	t.Run("no origins configured", func(t *testing.T) {
		f := newFixture(t)
		w := preflight(f.srv.Handler())
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("configured origin", func(t *testing.T) {
		f := newFixture(t)
		lookup, err := provider.NewRegistry()
		require.NoError(t, err)
		svc, err := server.NewServices(lookup, f.tracker, f.exec, f.events)
		require.NoError(t, err)
		srv, err := server.New(server.Config{
			ListenAddr:  "127.0.0.1:0",
			CORSOrigins: []string{"http://ui.local"},
		}, svc)
		require.NoError(t, err)

		w := preflight(srv.Handler())
		assert.Equal(t, "http://ui.local", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
