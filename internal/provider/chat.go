// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// Wire protocols spoken by http-stream backends.
const (
	APIOpenAI    = "openai"
	APIAnthropic = "anthropic"
	APIGemini    = "gemini"
)

// ChatRequest is a single-turn streaming completion request.
type ChatRequest struct {
	Model  string
	Prompt string
	Images []Image
}

// Image is an inline image attachment.
type Image struct {
	MediaType string
	Data      []byte
}

// Delta is one streamed fragment. Either field may be empty.
type Delta struct {
	Content   string
	Reasoning string
}

// Streamer issues a ChatRequest and calls onDelta for every non-empty
// fragment in arrival order. Non-2xx responses are returned as *StatusError.
type Streamer interface {
	Stream(ctx context.Context, req ChatRequest, onDelta func(Delta)) error
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// Base64 returns the standard base64 encoding of the image data.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL renders the image as a base64 data URL.
func (i Image) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Base64()
}

// LoadImage reads an image attachment from disk and sniffs its media type.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, relayerr.Wrap(err, relayerr.CodeProviderRequestInvalid,
			"reading image attachment", relayerr.FieldPath(path))
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return Image{}, relayerr.Errorf(relayerr.CodeProviderRequestInvalid,
			"attachment %s is %s, not an image", path, mediaType)
	}
	return Image{MediaType: mediaType, Data: data}, nil
}
