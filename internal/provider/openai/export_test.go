// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	openaisdk "github.com/openai/openai-go"
	"github.com/sigil-dev/relay/internal/provider"
)

// BuildParams exposes buildParams for white-box testing.
var BuildParams = func(req provider.ChatRequest) openaisdk.ChatCompletionNewParams {
	return buildParams(req)
}

// ReasoningOf exposes reasoningOf for white-box testing.
var ReasoningOf = reasoningOf
