package state

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hostbench/internal/util"
)

// FileStore keeps one JSON file per key in a directory. Writes are
// serialized and atomic.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := util.CreateDirectoryIfNotExists(dir, 0755); err != nil { // #nosec G301
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, NormalizeKey(key)+".json"), nil
}

// Get returns the item for key or ErrNotFound.
func (s *FileStore) Get(ctx context.Context, key string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state %s: %w", key, err)
	}
	var item Item
	if err := json.Unmarshal(content, &item); err != nil {
		return nil, fmt.Errorf("failed to parse state %s: %w", key, err)
	}
	return &item, nil
}

// Put replaces the item for key, preserving the original creation time.
func (s *FileStore) Put(ctx context.Context, key string, item *Item) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, item, false)
}

// Create stores item only if no item exists for key; otherwise ErrConflict.
func (s *FileStore) Create(ctx context.Context, key string, item *Item) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, item, true)
}

func (s *FileStore) write(key string, item *Item, createOnly bool) (*Item, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("state %s: nil item", key)
	}
	stored := item.Clone()
	stored.ID = key
	now := time.Now().UTC()
	if existing, err := os.ReadFile(path); err == nil { // #nosec G304
		if createOnly {
			return nil, ErrConflict
		}
		var prior Item
		if json.Unmarshal(existing, &prior) == nil && !prior.Created.IsZero() {
			stored.Created = prior.Created
		}
	}
	if stored.Created.IsZero() {
		stored.Created = now
	}
	stored.LastModified = now
	content, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state %s: %w", key, err)
	}
	if err := util.WriteFileAtomic(path, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write state %s: %w", key, err)
	}
	slog.Debug("state written", slog.String("key", key), slog.String("path", path))
	return stored, nil
}

// Delete removes the item for key. Deleting a missing key is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete state %s: %w", key, err)
	}
	return nil
}
