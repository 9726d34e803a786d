// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import "github.com/sigil-dev/relay/internal/config"

// FromConfig converts a backend config entry into a descriptor.
func FromConfig(bc config.BackendConfig) Backend {
	var env map[string]string
	if len(bc.Env) > 0 {
		env = make(map[string]string, len(bc.Env))
		for k, v := range bc.Env {
			env[k] = v
		}
	}
	return Backend{
		ID:         bc.ID,
		Name:       bc.Name,
		Kind:       Kind(bc.Kind),
		Command:    bc.Command,
		Args:       bc.Args,
		Env:        env,
		Endpoint:   bc.Endpoint,
		API:        bc.API,
		APIKey:     bc.APIKey,
		Model:      bc.Model,
		Timeout:    bc.Timeout,
		Enabled:    bc.IsEnabled(),
		FallbackID: bc.Fallback,
	}
}

// NewRegistryFromConfig registers every configured backend in order.
func NewRegistryFromConfig(entries []config.BackendConfig) (*Registry, error) {
	backends := make([]Backend, 0, len(entries))
	for _, bc := range entries {
		backends = append(backends, FromConfig(bc))
	}
	return NewRegistry(backends...)
}
