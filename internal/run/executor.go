// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package run executes prompts against backends as tracked, cancellable
// jobs. A run is created (validated, rerouted to a fallback if needed,
// persisted), executed by the process or streaming strategy, and finalized
// with exactly one terminal record.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/classify"
	"github.com/sigil-dev/relay/internal/provider"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

const (
	DefaultTimeout            = 10 * time.Minute
	DefaultPromptPreviewChars = 500
)

// ErrorHook is told about every failure that marks a backend unavailable.
type ErrorHook func(backendID string, c classify.Classification, rawOutput string)

// Observer watches run lifecycle transitions.
type Observer interface {
	RunStarted(rec *Record)
	RunFinished(rec *Record)
}

type noopObserver struct{}

func (noopObserver) RunStarted(*Record)  {}
func (noopObserver) RunFinished(*Record) {}

// ExecutorConfig holds dependencies for the Executor.
type ExecutorConfig struct {
	Backends provider.Lookup
	Tracker  *availability.Tracker
	Store    *Store

	// MaxActive caps concurrently active runs. Zero means no cap.
	MaxActive int
	// DefaultTimeout applies when neither the request nor the backend sets one.
	DefaultTimeout     time.Duration
	PromptPreviewChars int

	ErrorHook  ErrorHook
	Observer   Observer
	HTTPClient *http.Client
}

// Executor owns the active-run registry.
type Executor struct {
	backends   provider.Lookup
	tracker    *availability.Tracker
	store      *Store
	maxActive  int
	timeout    time.Duration
	preview    int
	errorHook  ErrorHook
	observer   Observer
	httpClient *http.Client

	mu      sync.Mutex
	active  map[string]*activeRun
	nowFunc func() time.Time
}

// activeRun is the cancellable handle of an in-flight run.
type activeRun struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	started  bool
	stopped  bool
	finished bool
}

func (a *activeRun) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.cancel != nil {
		a.cancel()
	}
}

// markFinished reports whether this call is the first to finish the run.
func (a *activeRun) markFinished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return false
	}
	a.finished = true
	return true
}

func (a *activeRun) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// NewExecutor creates an Executor. Backends, Tracker and Store are required.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Backends == nil || cfg.Tracker == nil || cfg.Store == nil {
		return nil, relayerr.New(relayerr.CodeConfigValidateInvalidValue,
			"executor requires backends, tracker and store")
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	preview := cfg.PromptPreviewChars
	if preview <= 0 {
		preview = DefaultPromptPreviewChars
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Executor{
		backends:   cfg.Backends,
		tracker:    cfg.Tracker,
		store:      cfg.Store,
		maxActive:  cfg.MaxActive,
		timeout:    timeout,
		preview:    preview,
		errorHook:  cfg.ErrorHook,
		observer:   observer,
		httpClient: cfg.HTTPClient,
		active:     make(map[string]*activeRun),
		nowFunc:    time.Now,
	}, nil
}

// SetNowFunc overrides the time source (for testing).
func (e *Executor) SetNowFunc(fn func() time.Time) {
	e.mu.Lock()
	e.nowFunc = fn
	e.mu.Unlock()
}

func (e *Executor) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nowFunc()
}

// Store returns the run store.
func (e *Executor) Store() *Store {
	return e.store
}

// CreateRun validates the request, resolves the effective backend, persists
// the initial record and registers the run as active. Configuration and
// availability problems are returned synchronously.
func (e *Executor) CreateRun(req Request) (*Handle, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, relayerr.New(relayerr.CodeRunRequestInvalid, "prompt must not be empty")
	}

	requested, err := e.usableBackend(req.BackendID)
	if err != nil {
		return nil, err
	}

	if err := e.tracker.Sweep(); err != nil {
		slog.Warn("persisting recovered backend status", "error", err)
	}

	effective := requested
	var source availability.FallbackSource
	if !e.tracker.IsAvailable(requested.ID) {
		fb, ok := e.tracker.FallbackProvider(requested.ID, e.backends.List(), req.TaskFallbackID)
		if !ok {
			recovery := e.tracker.TimeUntilRecovery(requested.ID)
			if recovery == "" {
				recovery = "unknown"
			}
			return nil, relayerr.New(relayerr.CodeRunBackendUnavailable,
				fmt.Sprintf("backend %s is unavailable and no fallback is available; recovery in %s", requested.ID, recovery),
				relayerr.FieldBackend(requested.ID))
		}
		if err := fb.Backend.Validate(); err != nil {
			return nil, err
		}
		effective = fb.Backend
		source = fb.Source
		slog.Info("routing run to fallback backend",
			"requested", requested.ID,
			"backend", effective.ID,
			"source", source,
		)
	}

	entry := &activeRun{}
	id := uuid.NewString()

	e.mu.Lock()
	if e.maxActive > 0 && len(e.active) >= e.maxActive {
		e.mu.Unlock()
		return nil, relayerr.New(relayerr.CodeRunCapacityExceeded,
			fmt.Sprintf("%d runs already active", e.maxActive))
	}
	e.active[id] = entry
	now := e.nowFunc()
	e.mu.Unlock()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = effective.Timeout
	}
	if timeout <= 0 {
		timeout = e.timeout
	}
	model := req.Model
	if model == "" {
		model = effective.Model
	}

	rec := Record{
		ID:                 id,
		RequestedBackendID: requested.ID,
		BackendID:          effective.ID,
		UsedFallback:       effective.ID != requested.ID,
		FallbackSource:     source,
		Model:              model,
		Prompt:             truncate(req.Prompt, e.preview),
		WorkingDir:         req.WorkingDir,
		StartedAt:          now,
	}
	if err := e.store.Create(&rec, req.Prompt); err != nil {
		e.release(id)
		return nil, err
	}

	slog.Debug("run created", "run_id", id, "backend", effective.ID)

	req.Model = model
	req.ImagePaths = slices.Clone(req.ImagePaths)
	return &Handle{
		RunID:   id,
		Backend: effective,
		Timeout: timeout,
		Request: req,
		record:  rec,
		entry:   entry,
	}, nil
}

func (e *Executor) usableBackend(id string) (provider.Backend, error) {
	b, ok := e.backends.Get(id)
	if !ok {
		return provider.Backend{}, relayerr.New(relayerr.CodeRunBackendNotFound,
			"backend not found: "+id, relayerr.FieldBackend(id))
	}
	if !b.Enabled {
		return provider.Backend{}, relayerr.New(relayerr.CodeRunBackendDisabled,
			"backend is disabled: "+id, relayerr.FieldBackend(id))
	}
	if err := b.Validate(); err != nil {
		return provider.Backend{}, err
	}
	return b, nil
}

// Execute runs a created handle with the strategy its backend kind selects
// and blocks until the terminal record is written. The returned error only
// reports persistence problems; execution failures are in the record.
func (e *Executor) Execute(ctx context.Context, h *Handle, cb Callbacks) (*Record, error) {
	switch h.Backend.Kind {
	case provider.KindHTTPStream:
		return e.ExecuteAPIRun(ctx, h, cb)
	default:
		return e.ExecuteCLIRun(ctx, h, cb)
	}
}

// Dispatch creates a run and executes it in the background. The returned
// channel yields the terminal record once and is then closed. The run is
// detached from ctx cancellation; use StopRun to end it.
func (e *Executor) Dispatch(ctx context.Context, req Request, cb Callbacks) (*Handle, <-chan *Record, error) {
	h, err := e.CreateRun(req)
	if err != nil {
		return nil, nil, err
	}

	done := make(chan *Record, 1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic while executing run",
					"run_id", h.RunID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				c := classify.Unknown(fmt.Sprintf("internal error: %v", r))
				if rec, _ := e.finish(h, outcome{classification: &c}, cb); rec != nil {
					done <- rec
				} else {
					e.release(h.RunID)
				}
			}
		}()
		rec, err := e.Execute(bg, h, cb)
		if err != nil {
			slog.Warn("persisting terminal run record", "run_id", h.RunID, "error", err)
		}
		done <- rec
	}()
	return h, done, nil
}

// StopRun terminates an active run. It reports false when runID has no
// active handle.
func (e *Executor) StopRun(runID string) bool {
	e.mu.Lock()
	entry, ok := e.active[runID]
	delete(e.active, runID)
	e.mu.Unlock()
	if !ok {
		return false
	}
	entry.stop()
	slog.Info("run stop requested", "run_id", runID)
	return true
}

// IsRunActive reports whether runID is in the active set.
func (e *Executor) IsRunActive(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[runID]
	return ok
}

// ActiveRuns returns the ids of every active run, sorted.
func (e *Executor) ActiveRuns() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// DeleteRun removes a finished run from the store.
func (e *Executor) DeleteRun(runID string) error {
	if e.IsRunActive(runID) {
		return relayerr.New(relayerr.CodeRunRequestInvalid, "run is still active: "+runID, relayerr.FieldRunID(runID))
	}
	return e.store.Delete(runID)
}

func (e *Executor) release(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}

// begin marks the handle started and derives the run context. The context
// is cancelled by StopRun or when the resolved timeout elapses.
func (e *Executor) begin(ctx context.Context, h *Handle) (context.Context, context.CancelFunc, error) {
	entry := h.entry
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.started {
		return nil, nil, relayerr.New(relayerr.CodeRunRequestInvalid,
			"run already executed: "+h.RunID, relayerr.FieldRunID(h.RunID))
	}
	entry.started = true

	runCtx, cancelTimeout := context.WithTimeout(ctx, h.Timeout)
	runCtx, cancel := context.WithCancel(runCtx)
	entry.cancel = cancel
	if entry.stopped {
		cancel()
	}

	rec := h.record
	e.observer.RunStarted(&rec)
	slog.Info("run started",
		"run_id", h.RunID,
		"backend", h.Backend.ID,
		"kind", h.Backend.Kind,
		"timeout", h.Timeout,
	)
	return runCtx, func() { cancel(); cancelTimeout() }, nil
}

// terminationOf explains an early end once execution has returned.
func terminationOf(runCtx context.Context, h *Handle) Termination {
	if h.entry.isStopped() {
		return TerminationStopped
	}
	switch runCtx.Err() {
	case nil:
		return TerminationNone
	case context.DeadlineExceeded:
		return TerminationTimeout
	default:
		return TerminationStopped
	}
}

// outcome is what a strategy hands to finish. A nil classification means
// success.
type outcome struct {
	output         string
	exitCode       *int
	signal         string
	termination    Termination
	classification *classify.Classification
	usedReasoning  bool
}

func stoppedClassification() classify.Classification {
	return classify.Unknown("Run stopped before completion")
}

// finish writes the single terminal update, notifies the tracker and hooks
// for unavailability failures, releases the active slot and fires
// OnComplete.
func (e *Executor) finish(h *Handle, o outcome, cb Callbacks) (*Record, error) {
	if !h.entry.markFinished() {
		return nil, nil
	}
	now := e.now()
	rec := h.record
	duration := now.Sub(rec.StartedAt).Milliseconds()
	success := o.classification == nil

	rec.EndedAt = &now
	rec.DurationMS = &duration
	rec.ExitCode = o.exitCode
	rec.Signal = o.signal
	rec.Success = &success
	rec.OutputSize = int64(len(o.output))
	rec.Termination = o.termination
	rec.UsedReasoningAsFallback = o.usedReasoning
	rec.Error = o.classification

	if !success && o.termination != TerminationStopped && o.classification.MarksUnavailable() {
		e.notifyUnavailable(rec.BackendID, *o.classification, o.output)
	}

	err := e.store.Finalize(&rec, o.output)
	e.release(h.RunID)
	e.observer.RunFinished(&rec)

	attrs := []any{
		"run_id", rec.ID,
		"backend", rec.BackendID,
		"state", rec.State(),
		"duration_ms", duration,
	}
	if o.classification != nil {
		attrs = append(attrs, "category", o.classification.Category)
		slog.Warn("run failed", attrs...)
	} else {
		slog.Info("run succeeded", attrs...)
	}

	if cb.OnComplete != nil {
		cb.OnComplete(&rec)
	}
	return &rec, err
}

func (e *Executor) notifyUnavailable(backendID string, c classify.Classification, raw string) {
	var err error
	switch c.Category {
	case classify.CategoryUsageLimit:
		_, err = e.tracker.MarkUsageLimit(backendID, availability.UsageLimit{
			Message:  c.Message,
			WaitTime: c.WaitTime,
		})
	case classify.CategoryRateLimit:
		_, err = e.tracker.MarkRateLimited(backendID)
	}
	if err != nil {
		slog.Warn("persisting backend status", "backend", backendID, "error", err)
	}
	if e.errorHook != nil {
		e.errorHook(backendID, c, raw)
	}
}
