// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package openai streams chat completions from any OpenAI-compatible
// endpoint, separating visible answer tokens from reasoning tokens.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sigil-dev/relay/internal/provider"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// Config holds client configuration.
type Config struct {
	// Endpoint is the API base, e.g. "http://localhost:11434/v1". The client
	// posts to <Endpoint>/chat/completions.
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client // optional
}

// Client wraps the openai-go SDK for a single endpoint.
type Client struct {
	client openaisdk.Client
	config Config
}

// New creates a Client. Returns an error if the endpoint is missing.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, relayerr.New(relayerr.CodeProviderRequestInvalid, "openai: missing endpoint in config")
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.Endpoint),
		// One execution attempt per run; retries belong to the caller.
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{client: openaisdk.NewClient(opts...), config: cfg}, nil
}

// Stream issues the request and calls onDelta for every non-empty fragment,
// in arrival order. It returns a *provider.StatusError for non-2xx responses and the
// transport error otherwise. Cancelling ctx aborts the stream.
func (c *Client) Stream(ctx context.Context, req provider.ChatRequest, onDelta func(provider.Delta)) error {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Images) == 0 {
		return relayerr.New(relayerr.CodeProviderRequestInvalid, "openai: empty prompt")
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, buildParams(req))
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			d := provider.Delta{
				Content:   choice.Delta.Content,
				Reasoning: reasoningOf(choice.Delta.RawJSON()),
			}
			if d.Content == "" && d.Reasoning == "" {
				continue
			}
			if onDelta != nil {
				onDelta(d)
			}
		}
	}

	return translateError(stream.Err())
}

// buildParams converts a ChatRequest into SDK params. Images become data-URL
// content parts following the text part.
func buildParams(req provider.ChatRequest) openaisdk.ChatCompletionNewParams {
	var msg openaisdk.ChatCompletionMessageParamUnion
	if len(req.Images) == 0 {
		msg = openaisdk.UserMessage(req.Prompt)
	} else {
		parts := make([]openaisdk.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
		parts = append(parts, openaisdk.TextContentPart(req.Prompt))
		for _, img := range req.Images {
			parts = append(parts, openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{
				URL: img.DataURL(),
			}))
		}
		msg = openaisdk.UserMessage(parts)
	}

	return openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{msg},
	}
}

// reasoningFields covers the two spellings servers use for thinking tokens.
type reasoningFields struct {
	Reasoning        string `json:"reasoning"`
	ReasoningContent string `json:"reasoning_content"`
}

func reasoningOf(raw string) string {
	if raw == "" || !strings.Contains(raw, "reasoning") {
		return ""
	}
	var f reasoningFields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return ""
	}
	if f.Reasoning != "" {
		return f.Reasoning
	}
	return f.ReasoningContent
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openaisdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return &provider.StatusError{
		StatusCode: apiErr.StatusCode,
		Status:     http.StatusText(apiErr.StatusCode),
		Body:       apiErr.RawJSON(),
	}
}
