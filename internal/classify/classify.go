// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package classify turns raw process output and HTTP error responses into a
// structured failure category with a remediation hint and, where the text
// carries one, a human-readable wait time before the backend recovers.
//
// Classification never fails: malformed or empty input degrades to a
// no-error result or to CategoryUnknown depending on the exit status.
package classify

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Category is the failure vocabulary shared with the availability tracker.
type Category string

const (
	CategoryNone          Category = ""
	CategoryRateLimit     Category = "rate-limit"
	CategoryUsageLimit    Category = "usage-limit"
	CategoryAuthError     Category = "auth-error"
	CategoryModelNotFound Category = "model-not-found"
	CategoryNetworkError  Category = "network-error"
	CategoryTimeout       Category = "timeout"
	CategoryQuotaExceeded Category = "quota-exceeded"
	CategoryUnknown       Category = "unknown"
)

// Classification is the result of analyzing a failure. It is only ever
// embedded in a run record or used to drive a status transition.
type Classification struct {
	HasError         bool     `json:"has_error"`
	Category         Category `json:"category,omitempty"`
	Message          string   `json:"message,omitempty"`
	WaitTime         string   `json:"wait_time,omitempty"`
	RequiresFallback bool     `json:"requires_fallback"`
	Actionable       bool     `json:"actionable"`
	Remediation      string   `json:"remediation,omitempty"`
}

// MarksUnavailable reports whether the classification should move the
// backend into an unavailable state.
func (c Classification) MarksUnavailable() bool {
	return c.Category == CategoryUsageLimit || c.Category == CategoryRateLimit
}

// ExitCode returns a pointer to n, for passing a known exit status to Classify.
func ExitCode(n int) *int {
	return &n
}

// Classify analyzes process output. A nil exitCode means the status is not
// known (e.g. a transport exception); a zero exit code always yields a
// no-error classification regardless of the text.
func Classify(text string, exitCode *int) Classification {
	if exitCode != nil && *exitCode == 0 {
		return Classification{}
	}

	if strings.TrimSpace(text) != "" {
		for _, r := range rules {
			if !r.pattern.MatchString(text) {
				continue
			}
			c := r.classification(text)
			if r.extractsWaitTime {
				c.WaitTime = ExtractWaitTime(text)
			}
			return c
		}
	}

	if exitCode == nil {
		return Classification{}
	}

	msg := ExtractMessage(text)
	if msg == "" {
		msg = fmt.Sprintf("Process exited with code %d", *exitCode)
	}
	return Unknown(msg)
}

// ClassifyHTTP analyzes a non-streaming HTTP failure. Status codes 429 and
// 401/403 are decided before the body is inspected; any other non-2xx status
// falls through to text classification of the body.
func ClassifyHTTP(status int, statusText, body string) Classification {
	if status >= 200 && status < 300 {
		return Classification{}
	}
	if statusText == "" {
		statusText = http.StatusText(status)
	}

	switch status {
	case http.StatusTooManyRequests:
		msg := ExtractMessage(body)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d: %s", status, statusText)
		}
		c := rateLimitRule.classification(msg)
		c.Message = msg
		c.WaitTime = ExtractWaitTime(body)
		return c
	case http.StatusUnauthorized, http.StatusForbidden:
		msg := ExtractMessage(body)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d: %s", status, statusText)
		}
		c := authRule.classification(msg)
		c.Message = msg
		return c
	}

	if strings.TrimSpace(body) != "" {
		return Classify(body, ExitCode(status))
	}
	return Unknown(fmt.Sprintf("HTTP %d: %s", status, statusText))
}

// Unknown builds the catch-all classification for an unrecognized failure.
func Unknown(message string) Classification {
	return Classification{
		HasError:    true,
		Category:    CategoryUnknown,
		Message:     capMessage(message),
		Remediation: "Inspect the captured output for details.",
	}
}

// Timeout builds the classification for a run terminated after exceeding
// its allotted time.
func Timeout(after time.Duration) Classification {
	return Classification{
		HasError:    true,
		Category:    CategoryTimeout,
		Message:     fmt.Sprintf("Run timed out after %s", after),
		Remediation: "Increase the backend timeout or simplify the prompt.",
	}
}
