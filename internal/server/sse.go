// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sigil-dev/relay/internal/run"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// SSE event names.
const (
	EventRun      = "run"
	EventOutput   = "output"
	EventComplete = "complete"
	EventStatus   = "status"
)

// OutputChunk is the data of an output event.
type OutputChunk struct {
	RunID string `json:"run_id"`
	Chunk string `json:"chunk"`
}

const outputBuffer = 64

func (s *Server) registerSSERoutes() {
	s.router.Post("/api/v1/runs/stream", s.handleRunStream)
	s.router.Get("/api/v1/events", s.handleEvents)

	// The SSE handlers need the raw ResponseWriter, so they are chi routes
	// documented in the OpenAPI spec by hand.
	stream := &huma.Response{
		Description: "Server-sent event stream",
		Content: map[string]*huma.MediaType{
			"text/event-stream": {Schema: &huma.Schema{Type: "string"}},
		},
	}
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "stream-run",
		Method:      http.MethodPost,
		Path:        "/api/v1/runs/stream",
		Summary:     "Dispatch a run and stream its output via SSE",
		Description: "Emits one run event, output events as chunks arrive, then one complete event carrying the terminal record. Closing the stream stops the run.",
		Tags:        []string{"runs"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {Schema: s.api.OpenAPI().Components.Schemas.Schema(reflect.TypeOf(RunRequestBody{}), true, "")},
			},
		},
		Responses: map[string]*huma.Response{
			"200": stream,
			"400": {Description: "Invalid request body"},
			"404": {Description: "Unknown backend"},
			"422": {Description: "Backend disabled or unconfigured"},
			"429": {Description: "Active run cap reached"},
			"503": {Description: "Backend unavailable and no fallback"},
		},
	})
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/events",
		Summary:     "Stream backend availability transitions via SSE",
		Tags:        []string{"backends"},
		Responses: map[string]*huma.Response{
			"200": stream,
			"503": {Description: "Event stream not configured"},
		},
	})
}

func writeProblem(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(huma.NewError(status, msg))
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func startSSE(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// httptest.ResponseRecorder is not a Flusher; events are still written.
	flusher, _ := w.(http.Flusher)
	sw := &sseWriter{w: w, flusher: flusher}
	sw.flush()
	return sw
}

func (sw *sseWriter) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

func (sw *sseWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	sw.flush()
	return nil
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	var body RunRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Backend) == "" {
		writeProblem(w, http.StatusBadRequest, "backend is required")
		return
	}

	ctx := r.Context()
	chunks := make(chan OutputChunk, outputBuffer)
	h, done, err := s.services.executor.Dispatch(ctx, body.request(), run.Callbacks{
		OnOutput: func(runID, chunk string) {
			select {
			case chunks <- OutputChunk{RunID: runID, Chunk: chunk}:
			case <-ctx.Done():
			}
		},
	})
	if err != nil {
		writeProblem(w, relayerr.HTTPStatus(err), err.Error())
		return
	}

	sw := startSSE(w)
	if err := sw.send(EventRun, s.view(h.Record())); err != nil {
		s.abandon(h.RunID, err)
		return
	}

	for {
		select {
		case c := <-chunks:
			if err := sw.send(EventOutput, c); err != nil {
				s.abandon(h.RunID, err)
				return
			}
		case rec := <-done:
			// Every OnOutput send completed before the terminal record was
			// produced, so whatever is buffered precedes it.
		drain:
			for {
				select {
				case c := <-chunks:
					if err := sw.send(EventOutput, c); err != nil {
						return
					}
				default:
					break drain
				}
			}
			if rec != nil {
				_ = sw.send(EventComplete, s.view(*rec))
			}
			return
		case <-ctx.Done():
			s.abandon(h.RunID, ctx.Err())
			return
		}
	}
}

func (s *Server) abandon(runID string, cause error) {
	if s.services.executor.StopRun(runID) {
		slog.Info("stream client went away, run stopped", "run_id", runID, "error", cause)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.services.events == nil {
		writeProblem(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	sub := s.services.events.Subscribe(r.Context())
	sw := startSSE(w)
	for e := range sub {
		if err := sw.send(EventStatus, e); err != nil {
			return
		}
	}
}
