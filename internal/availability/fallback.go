// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package availability

import "github.com/sigil-dev/relay/internal/provider"

// FallbackSource names the tier that produced a fallback.
type FallbackSource string

const (
	SourceTask     FallbackSource = "task"
	SourceProvider FallbackSource = "provider"
	SourceSystem   FallbackSource = "system"
)

// Fallback is a resolved substitute backend.
type Fallback struct {
	Backend provider.Backend
	Source  FallbackSource
}

// FallbackProvider resolves a substitute for primaryID. Candidates are tried
// in order: the task-level override, the primary's configured fallback, then
// the system priority list. A candidate is accepted only if it is enabled and
// available. It reports false when no tier yields a candidate.
func (t *Tracker) FallbackProvider(primaryID string, backends []provider.Backend, taskFallbackID string) (Fallback, bool) {
	byID := make(map[string]provider.Backend, len(backends))
	for _, b := range backends {
		byID[b.ID] = b
	}

	accept := func(id string) (provider.Backend, bool) {
		if id == "" || id == primaryID {
			return provider.Backend{}, false
		}
		b, ok := byID[id]
		if !ok || !b.Enabled || !t.IsAvailable(id) {
			return provider.Backend{}, false
		}
		return b, true
	}

	if b, ok := accept(taskFallbackID); ok {
		return Fallback{Backend: b, Source: SourceTask}, true
	}

	if primary, ok := byID[primaryID]; ok {
		if b, ok := accept(primary.FallbackID); ok {
			return Fallback{Backend: b, Source: SourceProvider}, true
		}
	}

	for _, id := range t.cfg.Priority {
		if b, ok := accept(id); ok {
			return Fallback{Backend: b, Source: SourceSystem}, true
		}
	}

	return Fallback{}, false
}

// Priority returns the configured system fallback order.
func (t *Tracker) Priority() []string {
	return append([]string(nil), t.cfg.Priority...)
}
