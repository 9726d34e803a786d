// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package classify

import (
	"regexp"
	"strings"
)

const maxMessageLen = 200

// waitTimePatterns are tried in order; the first phrase that matches is
// returned. The result is display text, not a parsed duration.
var waitTimePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)resets? at\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)(?:\s*\([^)]+\))?`),
	regexp.MustCompile(`(?i)try again in\s+([^.,;\n]+)`),
	regexp.MustCompile(`(?i)\bwait\s+([^.,;\n]+)`),
	regexp.MustCompile(`(?i)\bin\s+(\d+\s*(?:days?|hours?|hrs?|minutes?|mins?|seconds?|secs?))\b`),
	regexp.MustCompile(`(?i)\d+\s*(?:days?|d)\b(?:[\s,]*\d+\s*(?:hours?|hrs?|h)\b)?(?:[\s,]*\d+\s*(?:minutes?|mins?|m)\b)?|\d+\s*(?:hours?|hrs?|h)\b(?:[\s,]*\d+\s*(?:minutes?|mins?|m)\b)?`),
}

var anyDurationToken = regexp.MustCompile(`(?i)\d+\s*(?:seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|[smhd])\b`)

// ExtractWaitTime returns the first wait-time phrase found in text, or ""
// when the text carries none.
func ExtractWaitTime(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	for _, re := range waitTimePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		phrase := m[0]
		if len(m) > 1 && m[1] != "" {
			phrase = m[1]
		}
		if phrase = normalizeSpace(phrase); phrase != "" {
			return phrase
		}
	}
	return normalizeSpace(anyDurationToken.FindString(text))
}

var messagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)error:\s*([^\n]+)`),
	regexp.MustCompile(`"error"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"message"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`(?i)failed:\s*([^\n]+)`),
}

// ExtractMessage pulls a human-readable message out of raw output: the first
// value matched by the known error shapes, else the first non-blank line.
// The result is capped at 200 characters.
func ExtractMessage(text string) string {
	for _, re := range messagePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if msg := strings.TrimSpace(m[1]); msg != "" {
				return capMessage(msg)
			}
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return capMessage(line)
		}
	}
	return ""
}

func capMessage(msg string) string {
	r := []rune(msg)
	if len(r) <= maxMessageLen {
		return msg
	}
	return string(r[:maxMessageLen])
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
