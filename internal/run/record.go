// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package run

import (
	"time"
	"unicode/utf8"

	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/classify"
	"github.com/sigil-dev/relay/internal/provider"
)

// Termination records why a run ended early. Empty means the run ended on
// its own.
type Termination string

const (
	TerminationNone    Termination = ""
	TerminationTimeout Termination = "timeout"
	TerminationStopped Termination = "stopped"
)

// State is the derived lifecycle state of a Record.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Request asks for one prompt to be executed against a backend.
type Request struct {
	BackendID string `json:"backend_id"`
	Prompt    string `json:"prompt"`
	// Model overrides the backend's configured model.
	Model      string `json:"model,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`
	// Timeout overrides the backend's configured timeout.
	Timeout        time.Duration `json:"timeout,omitempty"`
	TaskFallbackID string        `json:"task_fallback_id,omitempty"`
	ImagePaths     []string      `json:"image_paths,omitempty"`
}

// Record is the persisted account of one run. Terminal fields are nil until
// the run finishes and are written exactly once.
type Record struct {
	ID                 string                      `json:"id"`
	RequestedBackendID string                      `json:"requested_backend_id"`
	BackendID          string                      `json:"backend_id"`
	UsedFallback       bool                        `json:"used_fallback"`
	FallbackSource     availability.FallbackSource `json:"fallback_source,omitempty"`
	Model              string                      `json:"model,omitempty"`
	Prompt             string                      `json:"prompt"`
	WorkingDir         string                      `json:"working_dir,omitempty"`
	StartedAt          time.Time                   `json:"started_at"`

	EndedAt                 *time.Time               `json:"ended_at"`
	DurationMS              *int64                   `json:"duration_ms"`
	ExitCode                *int                     `json:"exit_code"`
	Signal                  string                   `json:"signal,omitempty"`
	Success                 *bool                    `json:"success"`
	OutputSize              int64                    `json:"output_size"`
	Termination             Termination              `json:"termination,omitempty"`
	UsedReasoningAsFallback bool                     `json:"used_reasoning_as_fallback,omitempty"`
	Error                   *classify.Classification `json:"error,omitempty"`
}

// Terminal reports whether the terminal update has been written.
func (r *Record) Terminal() bool {
	return r.EndedAt != nil
}

// State derives the lifecycle state from the terminal fields.
func (r *Record) State() State {
	switch {
	case !r.Terminal():
		return StateRunning
	case r.Termination == TerminationStopped:
		return StateStopped
	case r.Success != nil && *r.Success:
		return StateSucceeded
	default:
		return StateFailed
	}
}

// Handle identifies a created run and carries everything needed to execute
// it.
type Handle struct {
	RunID   string
	Backend provider.Backend
	Timeout time.Duration
	Request Request

	record Record
	entry  *activeRun
}

// Record returns a copy of the initial (non-terminal) record.
func (h *Handle) Record() Record {
	return h.record
}

// Callbacks receive live run events. Every OnOutput call for a run happens
// before its OnComplete call.
type Callbacks struct {
	OnOutput   func(runID, chunk string)
	OnComplete func(rec *Record)
}

func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "..."
}
