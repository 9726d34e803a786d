// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package anthropic streams replies from the Anthropic Messages API,
// reporting thinking blocks as reasoning.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sigil-dev/relay/internal/provider"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// DefaultMaxTokens caps reply length when Config.MaxTokens is zero.
const DefaultMaxTokens = 4096

// Config holds client configuration.
type Config struct {
	// Endpoint is the API base, e.g. "https://api.anthropic.com". The client
	// posts to <Endpoint>/v1/messages.
	Endpoint   string
	APIKey     string
	MaxTokens  int64
	HTTPClient *http.Client // optional
}

// Client wraps the Anthropic SDK for a single endpoint.
type Client struct {
	client anthropicsdk.Client
	config Config
}

// New creates a Client. Returns an error if the endpoint is missing.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, relayerr.New(relayerr.CodeProviderRequestInvalid, "anthropic: missing endpoint in config")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.Endpoint),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{client: anthropicsdk.NewClient(opts...), config: cfg}, nil
}

// Stream issues the request and calls onDelta for every text or thinking
// fragment, in arrival order. Cancelling ctx aborts the stream.
func (c *Client) Stream(ctx context.Context, req provider.ChatRequest, onDelta func(provider.Delta)) error {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Images) == 0 {
		return relayerr.New(relayerr.CodeProviderRequestInvalid, "anthropic: empty prompt")
	}

	stream := c.client.Messages.NewStreaming(ctx, buildParams(req, c.config.MaxTokens))
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}

		var d provider.Delta
		switch event.Delta.Type {
		case "text_delta":
			d.Content = event.Delta.Text
		case "thinking_delta":
			d.Reasoning = event.Delta.Thinking
		default:
			continue
		}
		if (d.Content != "" || d.Reasoning != "") && onDelta != nil {
			onDelta(d)
		}
	}

	return translateError(stream.Err())
}

// buildParams converts a ChatRequest into SDK params. Images precede the
// text block.
func buildParams(req provider.ChatRequest, maxTokens int64) anthropicsdk.MessageNewParams {
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, anthropicsdk.NewImageBlockBase64(img.MediaType, img.Base64()))
	}
	blocks = append(blocks, anthropicsdk.NewTextBlock(req.Prompt))

	return anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  []anthropicsdk.MessageParam{anthropicsdk.NewUserMessage(blocks...)},
	}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropicsdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return &provider.StatusError{
		StatusCode: apiErr.StatusCode,
		Status:     http.StatusText(apiErr.StatusCode),
		Body:       apiErr.RawJSON(),
	}
}
