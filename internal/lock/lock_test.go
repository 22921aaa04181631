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

package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routemesh.lock")

	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Holder PID is recorded for diagnostics.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("lock file content %q is not a PID", data)
	}
	if pid != os.Getpid() {
		t.Errorf("lock file PID = %d, want %d", pid, os.Getpid())
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestAcquire_HeldReturnsAlreadyLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routemesh.lock")

	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer h.Release()

	// Second acquisition must fail immediately, never block.
	_, err = Acquire(path)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("second Acquire() error = %v, want ErrAlreadyLocked", err)
	}
}

func TestAcquire_FreeAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routemesh.lock")

	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	h2, err := Acquire(path)
	if err != nil {
		t.Fatalf("re-Acquire() after release error = %v", err)
	}
	h2.Release()
}

func TestRelease_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routemesh.lock")

	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := h.Release(); err != nil {
		t.Errorf("second Release() error = %v, want nil", err)
	}

	var nilHandle *Handle
	if err := nilHandle.Release(); err != nil {
		t.Errorf("nil Release() error = %v, want nil", err)
	}
}

func TestAcquire_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "routemesh.lock")

	h, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h.Release()

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("parent directory not created: %v", err)
	}
	if mode := info.Mode() & os.ModePerm; mode != 0700 {
		t.Errorf("parent directory mode = %04o, want 0700", mode)
	}
}
