// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package run

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sigil-dev/relay/internal/classify"
	"github.com/sigil-dev/relay/internal/provider"
	"github.com/sigil-dev/relay/internal/provider/anthropic"
	"github.com/sigil-dev/relay/internal/provider/google"
	"github.com/sigil-dev/relay/internal/provider/openai"
)

// ExecuteAPIRun streams a chat completion from the backend endpoint. Visible
// content is forwarded as output chunks; reasoning tokens are kept aside and
// become the output when no visible content arrived.
func (e *Executor) ExecuteAPIRun(ctx context.Context, h *Handle, cb Callbacks) (*Record, error) {
	runCtx, cancel, err := e.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	defer cancel()

	images := make([]provider.Image, 0, len(h.Request.ImagePaths))
	for _, path := range h.Request.ImagePaths {
		img, err := provider.LoadImage(path)
		if err != nil {
			c := classify.Unknown(err.Error())
			return e.finish(h, outcome{classification: &c}, cb)
		}
		images = append(images, img)
	}

	client, err := e.streamer(runCtx, h.Backend)
	if err != nil {
		c := classify.Unknown(err.Error())
		return e.finish(h, outcome{classification: &c}, cb)
	}

	var content, reasoning strings.Builder
	streamErr := client.Stream(runCtx, provider.ChatRequest{
		Model:  h.Request.Model,
		Prompt: h.Request.Prompt,
		Images: images,
	}, func(d provider.Delta) {
		if d.Content != "" {
			content.WriteString(d.Content)
			if cb.OnOutput != nil {
				cb.OnOutput(h.RunID, d.Content)
			}
		}
		reasoning.WriteString(d.Reasoning)
	})

	o := outcome{output: content.String()}
	if o.output == "" && reasoning.Len() > 0 {
		o.output = reasoning.String()
		o.usedReasoning = true
	}

	if streamErr == nil {
		return e.finish(h, o, cb)
	}

	o.termination = terminationOf(runCtx, h)
	c := classifyStreamError(streamErr, o.termination, h)
	o.classification = &c
	return e.finish(h, o, cb)
}

// streamer builds the client for the backend's wire protocol.
func (e *Executor) streamer(ctx context.Context, b provider.Backend) (provider.Streamer, error) {
	switch b.API {
	case provider.APIAnthropic:
		return anthropic.New(anthropic.Config{
			Endpoint:   b.Endpoint,
			APIKey:     b.APIKey,
			HTTPClient: e.httpClient,
		})
	case provider.APIGemini:
		return google.New(ctx, google.Config{
			Endpoint:   b.Endpoint,
			APIKey:     b.APIKey,
			HTTPClient: e.httpClient,
		})
	}
	return openai.New(openai.Config{
		Endpoint:   b.Endpoint,
		APIKey:     b.APIKey,
		HTTPClient: e.httpClient,
	})
}

func classifyStreamError(err error, term Termination, h *Handle) classify.Classification {
	switch term {
	case TerminationStopped:
		return stoppedClassification()
	case TerminationTimeout:
		return classify.Timeout(h.Timeout)
	}

	var se *provider.StatusError
	if errors.As(err, &se) {
		return classify.ClassifyHTTP(se.StatusCode, se.Status, se.Body)
	}

	c := classify.Classify(err.Error(), nil)
	if !c.HasError {
		c = classify.Unknown(fmt.Sprintf("stream failed: %v", err))
	}
	return c
}
