// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package availability

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// Store persists the backend status map.
type Store interface {
	Load() (map[string]Status, error)
	Save(statuses map[string]Status) error
}

// statusDocument is the on-disk layout of the status file.
type statusDocument struct {
	Providers   map[string]Status `json:"providers"`
	LastUpdated time.Time         `json:"last_updated"`
}

// FileStore keeps the status map in a single JSON document.
type FileStore struct {
	path    string
	nowFunc func() time.Time
}

// NewFileStore returns a FileStore writing to path. Parent directories are
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, nowFunc: time.Now}
}

// Path returns the location of the status document.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the status document. A missing file yields an empty map.
func (s *FileStore) Load() (map[string]Status, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Status{}, nil
		}
		return nil, relayerr.Wrap(err, relayerr.CodeAvailabilityStoreFailure,
			"reading status file", relayerr.FieldPath(s.path))
	}

	var doc statusDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, relayerr.Wrap(err, relayerr.CodeConfigParseInvalidFormat,
			"decoding status file", relayerr.FieldPath(s.path))
	}
	if doc.Providers == nil {
		doc.Providers = map[string]Status{}
	}
	return doc.Providers, nil
}

// Save replaces the status document. The write goes through a temp file and
// rename so readers never see a partial document.
func (s *FileStore) Save(statuses map[string]Status) error {
	doc := statusDocument{Providers: statuses, LastUpdated: s.nowFunc().UTC()}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return relayerr.Wrap(err, relayerr.CodeAvailabilityStoreFailure, "encoding status file")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return relayerr.Wrap(err, relayerr.CodeAvailabilityStoreFailure,
			"creating status directory", relayerr.FieldPath(s.path))
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return relayerr.Wrap(err, relayerr.CodeAvailabilityStoreFailure,
			"writing status file", relayerr.FieldPath(s.path))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return relayerr.Wrap(err, relayerr.CodeAvailabilityStoreFailure,
			"replacing status file", relayerr.FieldPath(s.path))
	}
	return nil
}
