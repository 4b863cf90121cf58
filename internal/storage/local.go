/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LocalStore keeps objects as plain files under a root directory.
type LocalStore struct {
	root   string
	logger zerolog.Logger
}

// NewLocalStore creates a filesystem-backed object store rooted at dir.
func NewLocalStore(dir string, logger zerolog.Logger) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local store requires a directory")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	return &LocalStore{
		root:   dir,
		logger: logger.With().Str("component", "local_store").Logger(),
	}, nil
}

// Put writes data to key, replacing any existing object. The write goes
// through a temp file so readers never observe a partial object.
func (ls *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := ls.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write object: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("finalize object: %w", err)
	}

	return nil
}

// Get reads the object stored at key.
func (ls *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := ls.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object: %w", err)
	}

	return data, nil
}

// resolve maps a key to a path under root, rejecting traversal outside it.
func (ls *LocalStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}

	path := filepath.Join(ls.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(ls.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("object key %q escapes store root", key)
	}

	return path, nil
}
