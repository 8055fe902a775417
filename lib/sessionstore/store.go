// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/secret"
)

// FileName is the session file inside the storage directory.
const FileName = "session.json"

// ErrCorrupt marks a session file that exists but cannot be used.
var ErrCorrupt = errors.New("corrupt session file")

// Record is the persisted login.
type Record struct {
	HomeserverURL string       `json:"homeserver_url"`
	UserID        ref.UserID   `json:"user_id"`
	DeviceID      ref.DeviceID `json:"device_id"`
	AccessToken   string       `json:"access_token"`
	RefreshToken  string       `json:"refresh_token,omitempty"`
}

// Path returns the session file path for dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// EnsureDir creates dir and its parents with mode 0700. An existing
// directory is left untouched.
func EnsureDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("storage directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	return nil
}

// Load reads the session record from dir. It returns (nil, nil) when
// no session file exists, and an error wrapping ErrCorrupt when the
// file is not valid JSON or lacks the user ID, device ID, or access
// token.
func Load(dir string) (*Record, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}

	path := Path(dir)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from %s: %w", path, err)
	}

	var record Record
	err = json.Unmarshal(data, &record)
	secret.Zero(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	var missing []string
	if record.UserID.IsZero() {
		missing = append(missing, "user_id")
	}
	if record.DeviceID.IsZero() {
		missing = append(missing, "device_id")
	}
	if record.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: missing %v", ErrCorrupt, path, missing)
	}
	return &record, nil
}

// Save atomically replaces dir's session file with record.
func Save(dir string, record *Record) error {
	if record == nil {
		return fmt.Errorf("saving session: nil record")
	}
	if err := EnsureDir(dir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	data = append(data, '\n')
	defer secret.Zero(data)

	path := Path(dir)
	// CreateTemp opens with mode 0600.
	file, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary session file: %w", err)
	}
	temporaryPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary session file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary session file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary session file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming session file into place: %w", err)
	}

	// Make the rename itself durable.
	if directory, err := os.Open(dir); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}
