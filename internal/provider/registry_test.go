// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"testing"

	"github.com/sigil-dev/relay/internal/provider"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg, err := provider.NewRegistry(
		provider.Backend{ID: "claude", Kind: provider.KindProcess, Command: "claude", Enabled: true},
	)
	require.NoError(t, err)

	got, ok := reg.Get("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", got.Command)

	_, ok = reg.Get("nonexistent")
	assert.False(t, ok)

	_, err = reg.Require("nonexistent")
	require.Error(t, err)
	assert.True(t, relayerr.HasCode(err, relayerr.CodeProviderNotFound))
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	reg, err := provider.NewRegistry(provider.Backend{ID: "a", Kind: provider.KindProcess, Command: "a"})
	require.NoError(t, err)

	err = reg.Register(provider.Backend{ID: "a", Kind: provider.KindProcess, Command: "other"})
	require.Error(t, err)
	assert.True(t, relayerr.IsConflict(err))
	assert.Equal(t, 1, reg.Len())

	_, err = provider.NewRegistry(provider.Backend{ID: "x"}, provider.Backend{ID: "x"})
	require.Error(t, err)
}

func TestRegistry_RejectsEmptyID(t *testing.T) {
	reg, err := provider.NewRegistry()
	require.NoError(t, err)

	err = reg.Register(provider.Backend{})
	require.Error(t, err)
	assert.True(t, relayerr.HasCode(err, relayerr.CodeProviderConfigInvalid))
}

func TestRegistry_ListPreservesOrder(t *testing.T) {
	reg, err := provider.NewRegistry(
		provider.Backend{ID: "zeta"},
		provider.Backend{ID: "alpha"},
		provider.Backend{ID: "mid"},
	)
	require.NoError(t, err)

	var ids []string
	for _, b := range reg.List() {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, ids)
}

func TestRegistry_CopiesArgs(t *testing.T) {
	args := []string{"-p"}
	reg, err := provider.NewRegistry(provider.Backend{ID: "a", Args: args})
	require.NoError(t, err)

	args[0] = "mutated"
	got, _ := reg.Get("a")
	assert.Equal(t, []string{"-p"}, got.Args)
}

func TestBackend_Validate(t *testing.T) {
	tests := []struct {
		name    string
		backend provider.Backend
		code    relayerr.Code
	}{
		{
			name:    "process ok",
			backend: provider.Backend{ID: "a", Kind: provider.KindProcess, Command: "claude"},
		},
		{
			name:    "http ok",
			backend: provider.Backend{ID: "a", Kind: provider.KindHTTPStream, Endpoint: "http://localhost:8080/v1"},
		},
		{
			name:    "empty id",
			backend: provider.Backend{Kind: provider.KindProcess, Command: "claude"},
			code:    relayerr.CodeProviderConfigInvalid,
		},
		{
			name:    "process without command",
			backend: provider.Backend{ID: "a", Kind: provider.KindProcess},
			code:    relayerr.CodeRunBackendUnconfigured,
		},
		{
			name:    "http without endpoint",
			backend: provider.Backend{ID: "a", Kind: provider.KindHTTPStream},
			code:    relayerr.CodeRunBackendUnconfigured,
		},
		{
			name:    "anthropic api ok",
			backend: provider.Backend{ID: "a", Kind: provider.KindHTTPStream, Endpoint: "https://api.anthropic.com", API: provider.APIAnthropic},
		},
		{
			name:    "unknown api",
			backend: provider.Backend{ID: "a", Kind: provider.KindHTTPStream, Endpoint: "http://x", API: "soap"},
			code:    relayerr.CodeProviderConfigInvalid,
		},
		{
			name:    "unknown kind",
			backend: provider.Backend{ID: "a", Kind: "carrier-pigeon"},
			code:    relayerr.CodeProviderConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.backend.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, relayerr.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestBackend_DisplayName(t *testing.T) {
	assert.Equal(t, "Claude", provider.Backend{ID: "claude", Name: "Claude"}.DisplayName())
	assert.Equal(t, "claude", provider.Backend{ID: "claude"}.DisplayName())
}
