// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets resolves keyring://service/key references in backend
// configuration against the OS keyring.
package secrets

// Store provides secret storage operations.
type Store interface {
	Store(service, key, value string) error

	// Retrieve returns a CodeSecretNotFound error when the key does not exist.
	Retrieve(service, key string) (string, error)

	// Delete returns a CodeSecretNotFound error when the key does not exist.
	Delete(service, key string) error

	// List returns the key names stored under service.
	List(service string) ([]string, error)
}

// DefaultService is the keyring service used by the CLI when none is given.
const DefaultService = "relay"
