// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package availability tracks per-backend health, schedules recovery and
// resolves fallback backends when the requested one is degraded.
//
// A backend is Available until marked usage-limited or rate-limited. It
// returns to Available when explicitly marked so, or when a sweep (run by
// Init) finds its estimated recovery time has passed.
package availability

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/sigil-dev/relay/pkg/health"
)

const (
	DefaultUsageLimitWait = 24 * time.Hour
	DefaultRateLimitWait  = 5 * time.Minute

	rateLimitMessage = "Rate limited by backend"
)

// Config controls recovery estimates and the system fallback order.
type Config struct {
	UsageLimitWait time.Duration
	RateLimitWait  time.Duration
	// Priority is the system-wide fallback order of backend ids.
	Priority []string
}

// UsageLimit describes a usage-limit failure reported by a run.
type UsageLimit struct {
	Message  string
	WaitTime string
}

// Tracker owns the status map of every backend. It is constructed once per
// process and shared by reference.
type Tracker struct {
	mu        sync.RWMutex
	statuses  map[string]Status
	store     Store
	publisher Publisher
	cfg       Config
	nowFunc   func() time.Time
}

// NewTracker creates a Tracker backed by store. Zero waits fall back to the
// package defaults. A nil publisher drops events.
func NewTracker(store Store, cfg Config, publisher Publisher) *Tracker {
	if cfg.UsageLimitWait <= 0 {
		cfg.UsageLimitWait = DefaultUsageLimitWait
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = DefaultRateLimitWait
	}
	cfg.Priority = append([]string(nil), cfg.Priority...)
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Tracker{
		statuses:  make(map[string]Status),
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (t *Tracker) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	t.nowFunc = fn
	t.mu.Unlock()
}

// Init loads the persisted status map and sweeps entries whose recovery time
// has elapsed. An undecodable status file is discarded with a warning.
func (t *Tracker) Init() (map[string]Status, error) {
	loaded, err := t.store.Load()
	if err != nil {
		if !relayerr.HasCode(err, relayerr.CodeConfigParseInvalidFormat) {
			return nil, err
		}
		slog.Warn("discarding unreadable backend status file", "error", err)
		loaded = map[string]Status{}
	}

	t.mu.Lock()
	t.statuses = loaded
	t.mu.Unlock()

	if err := t.Sweep(); err != nil {
		return nil, err
	}
	return t.All(), nil
}

// Sweep returns every unavailable backend whose estimated recovery has
// passed to Available, persisting and announcing the change.
func (t *Tracker) Sweep() error {
	t.mu.Lock()
	now := t.nowFunc()
	var recovered []Event
	for id, s := range t.statuses {
		if !s.recoveryElapsed(now) {
			continue
		}
		next := availableStatus(now)
		t.statuses[id] = next
		recovered = append(recovered, Event{BackendID: id, Status: next, Type: EventRecovered})
	}
	var err error
	if len(recovered) > 0 {
		err = t.saveLocked()
	}
	t.mu.Unlock()

	for _, e := range recovered {
		slog.Info("backend recovery time elapsed", "backend", e.BackendID)
		t.publisher.Publish(e)
	}
	return err
}

// Status returns the stored record for id, or an Available record when the
// backend has never been recorded.
func (t *Tracker) Status(id string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.statuses[id]; ok {
		return s
	}
	return availableStatus(t.nowFunc())
}

// IsAvailable reports whether id is currently usable.
func (t *Tracker) IsAvailable(id string) bool {
	return t.Status(id).Available
}

// All returns a copy of every stored record.
func (t *Tracker) All() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.statuses)
}

// MarkUsageLimit records a usage-limit failure. The recovery estimate comes
// from info.WaitTime when it parses, else the configured usage-limit wait.
// The in-memory state is updated even when persisting fails.
func (t *Tracker) MarkUsageLimit(id string, info UsageLimit) (Status, error) {
	wait := t.cfg.UsageLimitWait
	if info.WaitTime != "" {
		if d, ok := ParseWaitTime(info.WaitTime); ok {
			wait = d
		}
	}
	return t.markUnavailable(id, ReasonUsageLimit, info.Message, info.WaitTime, wait, EventUsageLimit)
}

// MarkRateLimited records a rate-limit failure with the configured wait.
func (t *Tracker) MarkRateLimited(id string) (Status, error) {
	return t.markUnavailable(id, ReasonRateLimit, rateLimitMessage, "", t.cfg.RateLimitWait, EventRateLimit)
}

func (t *Tracker) markUnavailable(id string, reason Reason, message, waitTime string, wait time.Duration, typ EventType) (Status, error) {
	t.mu.Lock()
	now := t.nowFunc()
	recovery := now.Add(wait)
	since := now
	next := Status{
		Available:         false,
		Reason:            reason,
		Message:           message,
		WaitTime:          waitTime,
		UnavailableSince:  &since,
		EstimatedRecovery: &recovery,
		FailureCount:      t.statuses[id].FailureCount + 1,
		LastChecked:       now,
	}
	t.statuses[id] = next
	err := t.saveLocked()
	t.mu.Unlock()

	slog.Warn("backend marked unavailable",
		"backend", id,
		"reason", reason,
		"recovery_at", recovery,
		"failures", next.FailureCount,
	)
	t.publisher.Publish(Event{BackendID: id, Status: next, Type: typ})
	return next, err
}

// MarkAvailable forces id back to Available and resets its failure counter.
func (t *Tracker) MarkAvailable(id string) (Status, error) {
	t.mu.Lock()
	next := availableStatus(t.nowFunc())
	t.statuses[id] = next
	err := t.saveLocked()
	t.mu.Unlock()

	slog.Info("backend marked available", "backend", id)
	t.publisher.Publish(Event{BackendID: id, Status: next, Type: EventRecovered})
	return next, err
}

// TimeUntilRecovery returns a human phrase for the remaining wait, or ""
// when the backend is available or has no recovery estimate.
func (t *Tracker) TimeUntilRecovery(id string) string {
	t.mu.RLock()
	now := t.nowFunc()
	t.mu.RUnlock()

	s := t.Status(id)
	if s.Available || s.EstimatedRecovery == nil {
		return ""
	}
	return FormatTimeRemaining(s.EstimatedRecovery.Sub(now))
}

// Snapshot returns the display form of id's status.
func (t *Tracker) Snapshot(id string) health.Snapshot {
	s := t.Status(id)
	return health.Snapshot{
		BackendID:         id,
		Available:         s.Available,
		Reason:            string(s.Reason),
		Message:           s.Message,
		FailureCount:      s.FailureCount,
		UnavailableSince:  s.UnavailableSince,
		EstimatedRecovery: s.EstimatedRecovery,
		RecoveryIn:        t.TimeUntilRecovery(id),
		LastChecked:       s.LastChecked,
	}
}

// saveLocked persists the full map. The caller MUST hold t.mu.
func (t *Tracker) saveLocked() error {
	return t.store.Save(maps.Clone(t.statuses))
}
