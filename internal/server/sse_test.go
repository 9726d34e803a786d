// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/run"
	"github.com/sigil-dev/relay/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	event string
	data  string
}

func readFrames(t *testing.T, r io.Reader) []frame {
	t.Helper()
	var frames []frame
	var cur frame
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.event != "":
			frames = append(frames, cur)
			cur = frame{}
		}
	}
	return frames
}

func TestRunStream_EmitsRunOutputComplete(t *testing.T) {
	f := newFixture(t, shBackend("echo", `printf 'one\n'; printf 'two\n'`))

	w := f.do(t, http.MethodPost, "/api/v1/runs/stream", server.RunRequestBody{Backend: "echo", Prompt: "p"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := readFrames(t, w.Body)
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, server.EventRun, frames[0].event)
	last := frames[len(frames)-1]
	assert.Equal(t, server.EventComplete, last.event)

	var output strings.Builder
	for _, fr := range frames[1 : len(frames)-1] {
		require.Equal(t, server.EventOutput, fr.event, "only output frames between run and complete")
		var c server.OutputChunk
		require.NoError(t, json.Unmarshal([]byte(fr.data), &c))
		output.WriteString(c.Chunk)
	}
	assert.Equal(t, "one\ntwo\n", output.String())

	var done server.RunView
	require.NoError(t, json.Unmarshal([]byte(last.data), &done))
	assert.Equal(t, run.StateSucceeded, done.State)
	require.NotNil(t, done.Run.Success)
	assert.True(t, *done.Run.Success)
}

func TestRunStream_DispatchErrorIsProblemJSON(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/runs/stream", server.RunRequestBody{Backend: "ghost", Prompt: "p"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/stream", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRunStream_ClientDisconnectStopsRun(t *testing.T) {
	f := newFixture(t, shBackend("slow", "sleep 30"))
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/v1/runs/stream",
		strings.NewReader(`{"backend":"slow","prompt":"p"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	sc := bufio.NewScanner(resp.Body)
	var runID string
	for sc.Scan() {
		if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
			var v server.RunView
			require.NoError(t, json.Unmarshal([]byte(data), &v))
			runID = v.Run.ID
			break
		}
	}
	require.NotEmpty(t, runID)
	cancel()

	rec := f.waitTerminal(t, runID)
	assert.Equal(t, run.TerminationStopped, rec.Termination)
}

func TestEvents_StreamsStatusTransitions(t *testing.T) {
	f := newFixture(t, shBackend("a", "true"))
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return f.events.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	_, err = f.tracker.MarkRateLimited("a")
	require.NoError(t, err)

	got := make(chan availability.Event, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				var e availability.Event
				if json.Unmarshal([]byte(data), &e) == nil {
					got <- e
					return
				}
			}
		}
	}()

	select {
	case e := <-got:
		assert.Equal(t, "a", e.BackendID)
		assert.Equal(t, availability.EventRateLimit, e.Type)
		assert.False(t, e.Status.Available)
	case <-time.After(5 * time.Second):
		t.Fatal("no status event received")
	}
}
