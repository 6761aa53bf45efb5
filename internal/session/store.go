// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeranaias/scout/internal/util"
)

// Store persists the latest session between processes. After End it holds
// the closed session, so ending it again from another process is a no-op.
type Store interface {
	// Load returns the stored session; ok is false when nothing is stored.
	Load() (s Session, ok bool, err error)
	Save(s Session) error
}

// FileStore keeps the latest session in a small JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load() (Session, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, false, fmt.Errorf("corrupt session state %s: %w", f.path, err)
	}
	if s.ID == "" {
		return Session{}, false, nil
	}
	return s, true, nil
}

func (f *FileStore) Save(s Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	return util.AtomicWriteFile(f.path, data, 0600)
}
