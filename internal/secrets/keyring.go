// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/zalando/go-keyring"
)

// keysIndexSuffix names the entry holding a JSON list of the service's keys.
// go-keyring cannot enumerate entries itself.
const keysIndexSuffix = "::keys-index"

// KeyringStore implements Store on the OS keyring (Keychain, secret-service
// or Credential Manager).
type KeyringStore struct{}

var _ Store = (*KeyringStore)(nil)

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func checkInput(op, service, key string) error {
	if service == "" {
		return relayerr.Errorf(relayerr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return relayerr.Errorf(relayerr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkInput("store", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		return append(keys, key)
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkInput("retrieve", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", relayerr.Errorf(relayerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkInput("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return relayerr.Errorf(relayerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return relayerr.Wrapf(err, relayerr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	if service == "" {
		return nil, relayerr.New(relayerr.CodeSecretInvalidInput, "secret list: service must not be empty")
	}
	return s.loadIndex(service)
}

func (s *KeyringStore) loadIndex(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+keysIndexSuffix)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "loading key index for %s", service)
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) updateIndex(service string, fn func([]string) []string) error {
	keys, err := s.loadIndex(service)
	if err != nil {
		return err
	}
	keys = fn(keys)

	indexKey := service + keysIndexSuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("failed to remove empty key index", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "saving key index for %s", service)
	}
	return nil
}
