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

package svchost

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routemesh/routemesh/internal/config"
	"github.com/routemesh/routemesh/internal/control"
	"github.com/routemesh/routemesh/internal/engine/enginetest"
	"github.com/routemesh/routemesh/internal/lock"
)

func writeConfig(t *testing.T, home string) {
	t.Helper()
	yaml := "token: test-token\nserver: broker.example.com:3478\nname: node-a\n"
	require.NoError(t, os.WriteFile(config.ConfigPath(home), []byte(yaml), 0600))
}

func TestHostStartStop(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home)
	eng := &enginetest.Fake{}
	host := NewHost(home, eng, nil, "test")

	require.NoError(t, host.Start(nil))

	// The lock is held for the host's lifetime.
	_, err := lock.Acquire(config.LockPath(home))
	assert.ErrorIs(t, err, lock.ErrAlreadyLocked)

	// The control channel answers while the host runs.
	status, err := control.FromHome(home).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "node-a", status.Name)
	assert.Equal(t, "test-token", eng.LastConfig().Token)

	require.NoError(t, host.Stop(nil))
	assert.True(t, eng.Handle.Stopped())

	h, err := lock.Acquire(config.LockPath(home))
	require.NoError(t, err)
	h.Release()
}

func TestHostStartRefusesHeldLock(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home)

	h, err := lock.Acquire(config.LockPath(home))
	require.NoError(t, err)
	defer h.Release()

	host := NewHost(home, &enginetest.Fake{}, nil, "test")
	err = host.Start(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another instance")
}

func TestHostStartRejectsBadConfig(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(config.ConfigPath(home), []byte("token: t\nserver: not-a-hostport\n"), 0600))

	host := NewHost(home, &enginetest.Fake{}, nil, "test")
	err := host.Start(nil)
	require.Error(t, err)

	// The lock must not leak on a failed start.
	h, err := lock.Acquire(config.LockPath(home))
	require.NoError(t, err)
	h.Release()
}
