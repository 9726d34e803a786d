// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"errors"
	"strings"

	"github.com/sigil-dev/relay/internal/config"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI extracts service and key from keyring://service/key.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", relayerr.Errorf(relayerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, keyringScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", relayerr.Errorf(relayerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return parts[0], parts[1], nil
}

// ResolveKeyringURI returns the secret a keyring URI points at. Any other
// value is returned unchanged.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", relayerr.Wrapf(err, relayerr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveBackendKeys replaces keyring URIs in backend api_key values with
// the stored secrets, in place. Every unresolvable entry is reported; entries
// that fail keep their URI.
func ResolveBackendKeys(backends []config.BackendConfig, store Store) error {
	var errs []error
	for i := range backends {
		b := &backends[i]
		if !IsKeyringURI(b.APIKey) {
			continue
		}
		resolved, err := ResolveKeyringURI(store, b.APIKey)
		if err != nil {
			errs = append(errs, relayerr.Wrapf(err, relayerr.CodeSecretResolveFailure,
				"backend %q api_key", b.ID))
			continue
		}
		b.APIKey = resolved
	}
	if len(errs) == 0 {
		return nil
	}
	return relayerr.Errorf(relayerr.CodeSecretResolveFailure, "resolving backend secrets: %w", errors.Join(errs...))
}
