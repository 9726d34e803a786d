// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package availability

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var waitComponents = []struct {
	pattern *regexp.Regexp
	unit    time.Duration
}{
	{regexp.MustCompile(`(?i)(\d+)\s*(?:days?|d)\b`), 24 * time.Hour},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:hours?|hrs?|h)\b`), time.Hour},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:minutes?|mins?|m)\b`), time.Minute},
	{regexp.MustCompile(`(?i)(\d+)\s*(?:seconds?|secs?|s)\b`), time.Second},
}

// maxWait bounds a parsed wait. Larger values cannot be represented as a
// recovery timestamp.
const maxWait = time.Duration(math.MaxInt64)

// ParseWaitTime sums the day, hour, minute and second components found in
// free text, in any order and with any separators. Units may be spelled out
// ("2 hours") or abbreviated ("4h 30m"). Unmatched text is ignored, as is a
// component too large to represent. It reports false when no component
// matched.
func ParseWaitTime(text string) (time.Duration, bool) {
	var (
		total   time.Duration
		matched bool
	)
	for _, c := range waitComponents {
		m := c.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n > int64((maxWait-total)/c.unit) {
			continue
		}
		total += time.Duration(n) * c.unit
		matched = true
	}
	return total, matched
}

// FormatTimeRemaining renders a remaining duration as a short phrase such as
// "1d 2h", "2h 30m", "45m" or "< 1m". Zero or negative durations render as
// "any moment".
func FormatTimeRemaining(d time.Duration) string {
	if d <= 0 {
		return "any moment"
	}

	days := d / (24 * time.Hour)
	hours := (d % (24 * time.Hour)) / time.Hour
	minutes := (d % time.Hour) / time.Minute

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "< 1m"
	}
}
