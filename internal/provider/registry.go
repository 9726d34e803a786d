// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"slices"
	"sync"

	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// Registry is an ordered, in-memory backend lookup.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	backends map[string]Backend
}

// Compile-time check that Registry implements Lookup.
var _ Lookup = (*Registry)(nil)

// NewRegistry creates a Registry holding backends in the given order.
// Duplicate ids are rejected.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a backend. The id must not already be registered.
func (r *Registry) Register(b Backend) error {
	if b.ID == "" {
		return relayerr.New(relayerr.CodeProviderConfigInvalid, "backend id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[b.ID]; ok {
		return relayerr.New(relayerr.CodeProviderConflict,
			"backend already registered: "+b.ID, relayerr.FieldBackend(b.ID))
	}
	b.Args = slices.Clone(b.Args)
	r.order = append(r.order, b.ID)
	r.backends[b.ID] = b
	return nil
}

// Get retrieves a backend by id.
func (r *Registry) Get(id string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// Require is like Get but returns a not-found error for unknown ids.
func (r *Registry) Require(id string) (Backend, error) {
	b, ok := r.Get(id)
	if !ok {
		return Backend{}, relayerr.New(relayerr.CodeProviderNotFound,
			"backend not found: "+id, relayerr.FieldBackend(id))
	}
	return b, nil
}

// List returns all backends in registration order.
func (r *Registry) List() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id])
	}
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
