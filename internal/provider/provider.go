// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"strings"
	"time"

	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// Kind selects how a backend executes prompts.
type Kind string

const (
	// KindProcess runs a local CLI tool with the prompt as its last argument.
	KindProcess Kind = "process"
	// KindHTTPStream calls a streaming chat API, OpenAI-compatible unless
	// API says otherwise.
	KindHTTPStream Kind = "http-stream"
)

// Backend describes a configured AI backend. The ID is unique and never
// changes once the backend is registered.
type Backend struct {
	ID         string
	Name       string
	Kind       Kind
	Command    string
	Args       []string
	Env        map[string]string
	Endpoint   string
	API        string
	APIKey     string
	Model      string
	Timeout    time.Duration
	Enabled    bool
	FallbackID string
}

// Lookup is the read-only view of backend configuration the core consumes.
type Lookup interface {
	Get(id string) (Backend, bool)
	// List returns backends in configuration order.
	List() []Backend
}

// DisplayName returns Name, or ID when no name is configured.
func (b Backend) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}

// Validate reports descriptors that cannot execute: an empty id, an unknown
// kind, a process backend without a command, or an http-stream backend
// without an endpoint.
func (b Backend) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return relayerr.New(relayerr.CodeProviderConfigInvalid, "backend id must not be empty")
	}

	switch b.Kind {
	case KindProcess:
		if strings.TrimSpace(b.Command) == "" {
			return relayerr.New(relayerr.CodeRunBackendUnconfigured,
				"process backend has no command", relayerr.FieldBackend(b.ID))
		}
	case KindHTTPStream:
		if strings.TrimSpace(b.Endpoint) == "" {
			return relayerr.New(relayerr.CodeRunBackendUnconfigured,
				"http-stream backend has no endpoint", relayerr.FieldBackend(b.ID))
		}
		switch b.API {
		case "", APIOpenAI, APIAnthropic, APIGemini:
		default:
			return relayerr.Errorf(relayerr.CodeProviderConfigInvalid,
				"backend %q has unknown api %q", b.ID, b.API)
		}
	default:
		return relayerr.Errorf(relayerr.CodeProviderConfigInvalid,
			"backend %q has unknown kind %q", b.ID, b.Kind)
	}
	return nil
}
