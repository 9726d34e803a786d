// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package google streams replies from the Gemini API. Parts flagged as
// thoughts are reported as reasoning.
package google

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sigil-dev/relay/internal/provider"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"google.golang.org/genai"
)

// Config holds client configuration.
type Config struct {
	// Endpoint overrides the API base, e.g. for a proxy. Empty uses the
	// public Gemini endpoint.
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client // optional
}

// Client wraps the genai SDK.
type Client struct {
	client *genai.Client
}

// New creates a Client. Returns an error if the API key is missing.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, relayerr.New(relayerr.CodeProviderRequestInvalid, "google: missing api_key in config")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions.BaseURL = strings.TrimRight(cfg.Endpoint, "/") + "/"
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeProviderRequestInvalid, "google: creating client")
	}
	return &Client{client: client}, nil
}

// Stream issues the request and calls onDelta for every text part, in
// arrival order. Cancelling ctx aborts the stream.
func (c *Client) Stream(ctx context.Context, req provider.ChatRequest, onDelta func(provider.Delta)) error {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Images) == 0 {
		return relayerr.New(relayerr.CodeProviderRequestInvalid, "google: empty prompt")
	}

	for result, err := range c.client.Models.GenerateContentStream(ctx, req.Model, buildContents(req), nil) {
		if err != nil {
			return translateError(err)
		}
		for _, candidate := range result.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text == "" || onDelta == nil {
					continue
				}
				if part.Thought {
					onDelta(provider.Delta{Reasoning: part.Text})
				} else {
					onDelta(provider.Delta{Content: part.Text})
				}
			}
		}
	}
	return nil
}

// buildContents renders a single user turn: the prompt then inline images.
func buildContents(req provider.ChatRequest) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	parts = append(parts, &genai.Part{Text: req.Prompt})
	for _, img := range req.Images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MediaType, Data: img.Data}})
	}
	return []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
}

func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return statusError(*apiErrPtr)
	}
	return err
}

func statusError(e genai.APIError) *provider.StatusError {
	status := e.Status
	if status == "" {
		status = http.StatusText(e.Code)
	}
	return &provider.StatusError{StatusCode: e.Code, Status: status, Body: e.Message}
}
