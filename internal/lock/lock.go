// Copyright 2025 The RouteMesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lock implements the singleton lock that prevents two engine
// instances from sharing one data directory. Acquisition is exclusive and
// non-blocking: a second caller fails immediately, it never waits.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrAlreadyLocked is returned when another process holds the lock.
	// It signals refusal, not failure, and is never escalated.
	ErrAlreadyLocked = errors.New("lock is held by another process")
)

// Handle represents a held singleton lock. Release it on every exit path;
// callers defer Release immediately after a successful Acquire.
type Handle struct {
	path string
	file *os.File

	mu       sync.Mutex
	released bool
}

// Acquire takes the exclusive lock at path, creating the file if needed.
// If the lock is already held it returns ErrAlreadyLocked without blocking.
// The holder PID is written into the file for diagnostics only; the flock,
// not the content, is the source of truth.
func Acquire(path string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	// Best effort: record the holder for operators inspecting the file.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0)
	_ = f.Sync()

	return &Handle{path: path, file: f}, nil
}

// Release drops the lock. It is idempotent: releasing an already released
// handle is a no-op.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	if err := funlock(h.file); err != nil {
		h.file.Close()
		return fmt.Errorf("failed to unlock %s: %w", h.path, err)
	}
	return h.file.Close()
}

// Path returns the lock file path.
func (h *Handle) Path() string {
	return h.path
}
