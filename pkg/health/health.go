// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

import "time"

// Snapshot exposes the current availability of a backend for monitoring
// and operator visibility. All fields are point-in-time values safe to
// serialize to JSON.
type Snapshot struct {
	BackendID         string     `json:"backend_id"`
	Available         bool       `json:"available"`
	Reason            string     `json:"reason"`
	Message           string     `json:"message,omitempty"`
	FailureCount      int        `json:"failure_count"`
	UnavailableSince  *time.Time `json:"unavailable_since,omitempty"`
	EstimatedRecovery *time.Time `json:"estimated_recovery,omitempty"`
	RecoveryIn        string     `json:"recovery_in,omitempty"`
	LastChecked       time.Time  `json:"last_checked"`
}
