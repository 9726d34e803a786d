// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package classify

import "regexp"

// rule maps a text pattern to a classification outcome. Rules are evaluated
// top to bottom and the first match wins, so a rule must come before any
// broader rule whose pattern would also match its text.
type rule struct {
	pattern          *regexp.Regexp
	category         Category
	requiresFallback bool
	actionable       bool
	remediation      string
	extractsWaitTime bool
}

func (r rule) classification(text string) Classification {
	return Classification{
		HasError:         true,
		Category:         r.category,
		Message:          ExtractMessage(text),
		RequiresFallback: r.requiresFallback,
		Actionable:       r.actionable,
		Remediation:      r.remediation,
	}
}

var (
	// Billing and credit phrasing also mentions limits; it must be checked
	// before the usage-limit rule.
	quotaRule = rule{
		pattern:          regexp.MustCompile(`(?i)billing|insufficient[ _-]?(credits?|funds|balance|quota)|credit balance|out of credits|quota[ _-]?exceeded|exceeded your (current )?quota|payment required`),
		category:         CategoryQuotaExceeded,
		requiresFallback: true,
		actionable:       true,
		remediation:      "Add credits or upgrade the plan for this backend.",
	}

	// A bare "limit resets" also appears in rate-limit replies, so reset
	// phrasing only counts next to usage wording.
	usageRule = rule{
		pattern:          regexp.MustCompile(`(?i)usage[ _-]?limit|usage cap|(daily|weekly|monthly|session|5-hour) limit|reached your (usage |message )?limit|hit your (usage )?limit|usage[^\n]{0,40}resets?|out of (extra )?usage`),
		category:         CategoryUsageLimit,
		requiresFallback: true,
		actionable:       false,
		remediation:      "Wait for the usage limit to reset or switch to another backend.",
		extractsWaitTime: true,
	}

	rateLimitRule = rule{
		pattern:          regexp.MustCompile(`(?i)rate[ _-]?limit|too many requests|\b429\b|throttl|slow down`),
		category:         CategoryRateLimit,
		requiresFallback: false,
		actionable:       false,
		remediation:      "Retry after a short pause.",
	}

	authRule = rule{
		pattern:          regexp.MustCompile(`(?i)unauthori[sz]ed|invalid[ _-]?api[ _-]?key|incorrect api key|authentication|\b401\b|\b403\b|forbidden|not logged in|please (log ?in|login)|invalid[ _-]?token|token (has )?expired`),
		category:         CategoryAuthError,
		requiresFallback: true,
		actionable:       true,
		remediation:      "Check the API key or log in to the CLI again.",
	}

	modelRule = rule{
		pattern:          regexp.MustCompile(`(?i)model[^\n]{0,60}(not found|does not exist|not available|not supported|unknown)|unknown model|invalid model|no such model`),
		category:         CategoryModelNotFound,
		requiresFallback: false,
		actionable:       true,
		remediation:      "Select a model the backend supports.",
	}

	networkRule = rule{
		pattern:          regexp.MustCompile(`(?i)ECONNREFUSED|ENOTFOUND|ETIMEDOUT|ECONNRESET|EAI_AGAIN|connection (refused|reset)|network (error|is unreachable|unreachable)|no such host|dial tcp|socket hang up|getaddrinfo`),
		category:         CategoryNetworkError,
		requiresFallback: true,
		actionable:       false,
		remediation:      "Check network connectivity to the backend.",
	}

	timeoutRule = rule{
		pattern:          regexp.MustCompile(`(?i)timed? ?out|deadline exceeded`),
		category:         CategoryTimeout,
		requiresFallback: false,
		actionable:       false,
		remediation:      "Increase the backend timeout or simplify the prompt.",
	}
)

// rules is the priority order used by Classify.
var rules = []rule{
	quotaRule,
	usageRule,
	rateLimitRule,
	authRule,
	modelRule,
	networkRule,
	timeoutRule,
}
