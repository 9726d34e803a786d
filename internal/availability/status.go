// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package availability

import "time"

// Reason explains why a backend is in its current state.
type Reason string

const (
	ReasonOK         Reason = "ok"
	ReasonUsageLimit Reason = "usage-limit"
	ReasonRateLimit  Reason = "rate-limit"
)

// Status is the persisted health record of one backend. Available implies
// ReasonOK and no EstimatedRecovery.
type Status struct {
	Available         bool       `json:"available"`
	Reason            Reason     `json:"reason"`
	Message           string     `json:"message,omitempty"`
	WaitTime          string     `json:"wait_time,omitempty"`
	UnavailableSince  *time.Time `json:"unavailable_since,omitempty"`
	EstimatedRecovery *time.Time `json:"estimated_recovery,omitempty"`
	FailureCount      int        `json:"failure_count"`
	LastChecked       time.Time  `json:"last_checked"`
}

func availableStatus(now time.Time) Status {
	return Status{
		Available:   true,
		Reason:      ReasonOK,
		LastChecked: now,
	}
}

// recoveryElapsed reports whether an unavailable status has passed its
// estimated recovery time.
func (s Status) recoveryElapsed(now time.Time) bool {
	if s.Available || s.EstimatedRecovery == nil {
		return false
	}
	return !now.Before(*s.EstimatedRecovery)
}
