// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package run

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

const (
	metaFile   = "meta.json"
	promptFile = "prompt.txt"
	outputFile = "output.txt"
)

// Store keeps one directory per run under a root path:
//
//	<root>/<run-id>/meta.json    the Record
//	<root>/<run-id>/prompt.txt   the full prompt
//	<root>/<run-id>/output.txt   captured output, written at finalization
type Store struct {
	root string
}

// NewStore returns a Store rooted at root. The directory is created lazily.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// dir resolves the directory of a run. Only generator-shaped ids are
// accepted, so a caller-supplied id cannot escape the root.
func (s *Store) dir(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", relayerr.New(relayerr.CodeRunStoreNotFound, "run not found: "+id, relayerr.FieldRunID(id))
	}
	return filepath.Join(s.root, id), nil
}

// Create writes the initial record and the full prompt.
func (s *Store) Create(rec *Record, prompt string) error {
	dir, err := s.dir(rec.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "creating run directory", relayerr.FieldRunID(rec.ID))
	}
	if err := os.WriteFile(filepath.Join(dir, promptFile), []byte(prompt), 0o644); err != nil {
		return relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "writing prompt", relayerr.FieldRunID(rec.ID))
	}
	return s.writeMeta(dir, rec)
}

// Finalize writes the captured output and the terminal record.
func (s *Store) Finalize(rec *Record, output string) error {
	dir, err := s.dir(rec.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "creating run directory", relayerr.FieldRunID(rec.ID))
	}
	if err := os.WriteFile(filepath.Join(dir, outputFile), []byte(output), 0o644); err != nil {
		return relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "writing output", relayerr.FieldRunID(rec.ID))
	}
	return s.writeMeta(dir, rec)
}

func (s *Store) writeMeta(dir string, rec *Record) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "encoding run record", relayerr.FieldRunID(rec.ID))
	}
	tmp := filepath.Join(dir, metaFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "writing run record", relayerr.FieldRunID(rec.ID))
	}
	if err := os.Rename(tmp, filepath.Join(dir, metaFile)); err != nil {
		_ = os.Remove(tmp)
		return relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "replacing run record", relayerr.FieldRunID(rec.ID))
	}
	return nil
}

// Get reads a run record.
func (s *Store) Get(id string) (*Record, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, relayerr.New(relayerr.CodeRunStoreNotFound, "run not found: "+id, relayerr.FieldRunID(id))
		}
		return nil, relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "reading run record", relayerr.FieldRunID(id))
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "decoding run record", relayerr.FieldRunID(id))
	}
	return &rec, nil
}

// Prompt returns the full prompt of a run.
func (s *Store) Prompt(id string) (string, error) {
	return s.readText(id, promptFile)
}

// Output returns the captured output of a run. A run that has not finished
// yet has no output.
func (s *Store) Output(id string) (string, error) {
	if _, err := s.Get(id); err != nil {
		return "", err
	}
	out, err := s.readText(id, outputFile)
	if relayerr.IsNotFound(err) {
		return "", nil
	}
	return out, err
}

func (s *Store) readText(id, name string) (string, error) {
	dir, err := s.dir(id)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", relayerr.New(relayerr.CodeRunStoreNotFound, name+" not found for run "+id, relayerr.FieldRunID(id))
		}
		return "", relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "reading "+name, relayerr.FieldRunID(id))
	}
	return string(raw), nil
}

// List returns every readable record, newest first. Directories that do not
// hold a decodable record are skipped.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "listing runs", relayerr.FieldPath(s.root))
	}

	recs := make([]*Record, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := s.Get(e.Name())
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].StartedAt.After(recs[j].StartedAt)
	})
	return recs, nil
}

// Delete removes a run directory.
func (s *Store) Delete(id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return relayerr.New(relayerr.CodeRunStoreNotFound, "run not found: "+id, relayerr.FieldRunID(id))
	}
	if err := os.RemoveAll(dir); err != nil {
		return relayerr.Wrap(err, relayerr.CodeRunStoreFailure, "deleting run", relayerr.FieldRunID(id))
	}
	return nil
}
