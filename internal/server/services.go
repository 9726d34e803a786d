// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/provider"
	"github.com/sigil-dev/relay/internal/run"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// Services holds the components route handlers depend on.
type Services struct {
	backends provider.Lookup
	tracker  *availability.Tracker
	executor *run.Executor
	events   *availability.Broadcaster // optional; nil disables /api/v1/events
}

// NewServices validates and bundles handler dependencies.
func NewServices(backends provider.Lookup, tracker *availability.Tracker, executor *run.Executor, events *availability.Broadcaster) (*Services, error) {
	if backends == nil {
		return nil, relayerr.New(relayerr.CodeServerConfigInvalid, "backend lookup is required")
	}
	if tracker == nil {
		return nil, relayerr.New(relayerr.CodeServerConfigInvalid, "availability tracker is required")
	}
	if executor == nil {
		return nil, relayerr.New(relayerr.CodeServerConfigInvalid, "run executor is required")
	}
	return &Services{
		backends: backends,
		tracker:  tracker,
		executor: executor,
		events:   events,
	}, nil
}
