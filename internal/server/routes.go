// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/provider"
	"github.com/sigil-dev/relay/internal/run"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/sigil-dev/relay/pkg/health"
)

func (s *Server) registerBackendRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-backends",
		Method:      http.MethodGet,
		Path:        "/api/v1/backends",
		Summary:     "List configured backends with their availability",
		Tags:        []string{"backends"},
	}, s.handleListBackends)

	huma.Register(s.api, huma.Operation{
		OperationID: "backend-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/backends/{id}/status",
		Summary:     "Get backend availability",
		Tags:        []string{"backends"},
	}, s.handleBackendStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "recover-backend",
		Method:      http.MethodPost,
		Path:        "/api/v1/backends/{id}/recover",
		Summary:     "Mark a backend available",
		Tags:        []string{"backends"},
	}, s.handleRecoverBackend)

	huma.Register(s.api, huma.Operation{
		OperationID: "backend-fallback",
		Method:      http.MethodGet,
		Path:        "/api/v1/backends/{id}/fallback",
		Summary:     "Resolve the fallback for a backend",
		Tags:        []string{"backends"},
	}, s.handleBackendFallback)
}

func (s *Server) registerRunRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/api/v1/runs",
		Summary:       "Dispatch a run in the background",
		Tags:          []string{"runs"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleCreateRun)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs",
		Summary:     "List runs, newest first",
		Tags:        []string{"runs"},
	}, s.handleListRuns)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs/{id}",
		Summary:     "Get a run record",
		Tags:        []string{"runs"},
	}, s.handleGetRun)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-run-output",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs/{id}/output",
		Summary:     "Get the captured output of a finished run",
		Tags:        []string{"runs"},
	}, s.handleRunOutput)

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-run",
		Method:      http.MethodPost,
		Path:        "/api/v1/runs/{id}/stop",
		Summary:     "Stop an active run",
		Tags:        []string{"runs"},
	}, s.handleStopRun)

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-run",
		Method:        http.MethodDelete,
		Path:          "/api/v1/runs/{id}",
		Summary:       "Delete a finished run",
		Tags:          []string{"runs"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteRun)
}

// --- Request/Response types for huma ---

// BackendSummary describes a configured backend and its availability.
type BackendSummary struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Model    string          `json:"model,omitempty"`
	Enabled  bool            `json:"enabled"`
	Fallback string          `json:"fallback,omitempty"`
	Status   health.Snapshot `json:"status"`
}

type listBackendsOutput struct {
	Body struct {
		Backends []BackendSummary `json:"backends"`
	}
}

type backendIDInput struct {
	ID string `path:"id"`
}

type snapshotOutput struct {
	Body health.Snapshot
}

type fallbackInput struct {
	ID           string `path:"id"`
	TaskFallback string `query:"task_fallback" doc:"Task-level fallback backend tried first"`
}

// FallbackBody names the backend a run would be rerouted to.
type FallbackBody struct {
	RequestedBackendID string                      `json:"requested_backend_id"`
	BackendID          string                      `json:"backend_id"`
	Source             availability.FallbackSource `json:"source"`
}

type fallbackOutput struct {
	Body FallbackBody
}

// RunRequestBody is the JSON body accepted by run dispatch endpoints.
type RunRequestBody struct {
	Backend        string   `json:"backend" minLength:"1" doc:"Backend id"`
	Prompt         string   `json:"prompt" minLength:"1" doc:"Prompt text"`
	Model          string   `json:"model,omitempty" doc:"Model override"`
	WorkingDir     string   `json:"working_dir,omitempty" doc:"Working directory for process backends"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" minimum:"0" doc:"Timeout override"`
	TaskFallback   string   `json:"task_fallback,omitempty" doc:"Task-level fallback backend"`
	Images         []string `json:"images,omitempty" doc:"Image file paths readable by the server"`
}

func (b RunRequestBody) request() run.Request {
	return run.Request{
		BackendID:      b.Backend,
		Prompt:         b.Prompt,
		Model:          b.Model,
		WorkingDir:     b.WorkingDir,
		Timeout:        time.Duration(b.TimeoutSeconds) * time.Second,
		TaskFallbackID: b.TaskFallback,
		ImagePaths:     b.Images,
	}
}

// RunView is a run record with its derived state.
type RunView struct {
	Run    run.Record `json:"run"`
	State  run.State  `json:"state"`
	Active bool       `json:"active"`
}

func (s *Server) view(rec run.Record) RunView {
	return RunView{Run: rec, State: rec.State(), Active: s.services.executor.IsRunActive(rec.ID)}
}

type createRunInput struct {
	Body RunRequestBody
}

type runOutput struct {
	Body RunView
}

type listRunsOutput struct {
	Body struct {
		Runs []RunView `json:"runs"`
	}
}

type runIDInput struct {
	ID string `path:"id"`
}

type runTextOutput struct {
	Body struct {
		RunID  string `json:"run_id"`
		Output string `json:"output"`
	}
}

type stopRunOutput struct {
	Body struct {
		RunID   string `json:"run_id"`
		Stopped bool   `json:"stopped"`
	}
}

// --- Handlers ---

// NewBackendSummary combines a backend definition with its availability.
func NewBackendSummary(b provider.Backend, status health.Snapshot) BackendSummary {
	return BackendSummary{
		ID:       b.ID,
		Name:     b.DisplayName(),
		Kind:     string(b.Kind),
		Model:    b.Model,
		Enabled:  b.Enabled,
		Fallback: b.FallbackID,
		Status:   status,
	}
}

func (s *Server) summary(b provider.Backend) BackendSummary {
	return NewBackendSummary(b, s.services.tracker.Snapshot(b.ID))
}

func (s *Server) requireBackend(id string) (provider.Backend, error) {
	b, ok := s.services.backends.Get(id)
	if !ok {
		return provider.Backend{}, huma.Error404NotFound(fmt.Sprintf("backend %q not found", id))
	}
	return b, nil
}

func (s *Server) handleListBackends(_ context.Context, _ *struct{}) (*listBackendsOutput, error) {
	out := &listBackendsOutput{}
	out.Body.Backends = []BackendSummary{}
	for _, b := range s.services.backends.List() {
		out.Body.Backends = append(out.Body.Backends, s.summary(b))
	}
	return out, nil
}

func (s *Server) handleBackendStatus(_ context.Context, input *backendIDInput) (*snapshotOutput, error) {
	if _, err := s.requireBackend(input.ID); err != nil {
		return nil, err
	}
	return &snapshotOutput{Body: s.services.tracker.Snapshot(input.ID)}, nil
}

func (s *Server) handleRecoverBackend(_ context.Context, input *backendIDInput) (*snapshotOutput, error) {
	if _, err := s.requireBackend(input.ID); err != nil {
		return nil, err
	}
	if _, err := s.services.tracker.MarkAvailable(input.ID); err != nil {
		return nil, apiError(err)
	}
	return &snapshotOutput{Body: s.services.tracker.Snapshot(input.ID)}, nil
}

func (s *Server) handleBackendFallback(_ context.Context, input *fallbackInput) (*fallbackOutput, error) {
	if _, err := s.requireBackend(input.ID); err != nil {
		return nil, err
	}
	fb, ok := s.services.tracker.FallbackProvider(input.ID, s.services.backends.List(), input.TaskFallback)
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("no fallback available for backend %q", input.ID))
	}
	out := &fallbackOutput{}
	out.Body = FallbackBody{
		RequestedBackendID: input.ID,
		BackendID:          fb.Backend.ID,
		Source:             fb.Source,
	}
	return out, nil
}

func (s *Server) handleCreateRun(ctx context.Context, input *createRunInput) (*runOutput, error) {
	h, _, err := s.services.executor.Dispatch(ctx, input.Body.request(), run.Callbacks{})
	if err != nil {
		return nil, apiError(err)
	}
	rec := h.Record()
	return &runOutput{Body: RunView{Run: rec, State: rec.State(), Active: true}}, nil
}

func (s *Server) handleListRuns(_ context.Context, _ *struct{}) (*listRunsOutput, error) {
	recs, err := s.services.executor.Store().List()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing runs", err)
	}
	out := &listRunsOutput{}
	out.Body.Runs = make([]RunView, 0, len(recs))
	for _, rec := range recs {
		out.Body.Runs = append(out.Body.Runs, s.view(*rec))
	}
	return out, nil
}

func (s *Server) handleGetRun(_ context.Context, input *runIDInput) (*runOutput, error) {
	rec, err := s.services.executor.Store().Get(input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	return &runOutput{Body: s.view(*rec)}, nil
}

func (s *Server) handleRunOutput(_ context.Context, input *runIDInput) (*runTextOutput, error) {
	text, err := s.services.executor.Store().Output(input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	out := &runTextOutput{}
	out.Body.RunID = input.ID
	out.Body.Output = text
	return out, nil
}

func (s *Server) handleStopRun(_ context.Context, input *runIDInput) (*stopRunOutput, error) {
	if !s.services.executor.StopRun(input.ID) {
		if _, err := s.services.executor.Store().Get(input.ID); err != nil {
			return nil, apiError(err)
		}
		return nil, huma.Error409Conflict(fmt.Sprintf("run %q is not active", input.ID))
	}
	out := &stopRunOutput{}
	out.Body.RunID = input.ID
	out.Body.Stopped = true
	return out, nil
}

func (s *Server) handleDeleteRun(_ context.Context, input *runIDInput) (*struct{}, error) {
	if err := s.services.executor.DeleteRun(input.ID); err != nil {
		if relayerr.HasCode(err, relayerr.CodeRunRequestInvalid) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, apiError(err)
	}
	return nil, nil
}
