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

package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routemesh/routemesh/internal/config"
	"github.com/routemesh/routemesh/internal/elevate"
	"github.com/routemesh/routemesh/internal/engine/enginetest"
	"github.com/routemesh/routemesh/internal/lock"
	"github.com/routemesh/routemesh/internal/registry"
)

// fakeRegistry is an in-memory service-control manager.
type fakeRegistry struct {
	mu           sync.Mutex
	registered   bool
	state        registry.State
	reg          registry.Registration
	queryErr     error
	startLatency int // QueryState calls spent in StartPending after Start

	createCalls int
	startCalls  int
	stopCalls   int
	deleteCalls int
	updateCalls int
}

func (f *fakeRegistry) QueryState(name string) (registry.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return registry.StateUnknown, f.queryErr
	}
	if !f.registered {
		return registry.StateNotInstalled, registry.ErrNotRegistered
	}
	if f.state == registry.StateStartPending {
		if f.startLatency > 0 {
			f.startLatency--
		} else {
			f.state = registry.StateRunning
		}
	}
	return f.state, nil
}

func (f *fakeRegistry) Create(reg registry.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.registered {
		return registry.ErrAlreadyRegistered
	}
	f.registered = true
	f.state = registry.StateStopped
	f.reg = reg
	return nil
}

func (f *fakeRegistry) Update(name string, startType registry.StartType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if !f.registered {
		return registry.ErrNotRegistered
	}
	f.reg.StartType = startType
	return nil
}

func (f *fakeRegistry) Delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if !f.registered {
		return registry.ErrNotRegistered
	}
	f.registered = false
	f.state = registry.StateNotInstalled
	return nil
}

func (f *fakeRegistry) Start(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if !f.registered {
		return registry.ErrNotRegistered
	}
	f.state = registry.StateStartPending
	return nil
}

func (f *fakeRegistry) Stop(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if !f.registered {
		return registry.ErrNotRegistered
	}
	f.state = registry.StateStopped
	return nil
}

func (f *fakeRegistry) calls() (create, start, stop, del, update int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.startCalls, f.stopCalls, f.deleteCalls, f.updateCalls
}

func newOrchestrator(t *testing.T, reg *fakeRegistry, eng *enginetest.Fake) *Orchestrator {
	t.Helper()
	home := t.TempDir()
	return &Orchestrator{
		Elevated:       true,
		Registry:       reg,
		Engine:         eng,
		LockPath:       filepath.Join(home, "routemesh.lock"),
		Events:         NewRecorder(filepath.Join(home, "lifecycle.log")),
		ExecutablePath: selfExe(t),
	}
}

func selfExe(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe
}

func resolveFixed(cfg config.StartConfig) func() (config.StartConfig, error) {
	return func() (config.StartConfig, error) { return cfg, nil }
}

func TestFullCycle(t *testing.T) {
	reg := &fakeRegistry{}
	o := newOrchestrator(t, reg, &enginetest.Fake{})
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "svc")

	require.NoError(t, o.Install(ctx, dir, false))
	assert.True(t, reg.registered)
	assert.Equal(t, registry.StartOnDemand, reg.reg.StartType)
	assert.FileExists(t, filepath.Join(dir, serviceBinaryFile()))

	outcome, err := o.Start(ctx, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StartedService, outcome)
	assert.Equal(t, registry.StateRunning, reg.state)

	require.NoError(t, o.Stop(ctx))
	assert.Equal(t, registry.StateStopped, reg.state)

	require.NoError(t, o.Uninstall(ctx))
	assert.False(t, reg.registered)

	// Lock was never taken on the registered path.
	h, err := lock.Acquire(o.LockPath)
	require.NoError(t, err)
	h.Release()
}

func TestInstallRefusesWhenRegistered(t *testing.T) {
	reg := &fakeRegistry{registered: true, state: registry.StateStopped}
	o := newOrchestrator(t, reg, &enginetest.Fake{})

	err := o.Install(context.Background(), t.TempDir(), false)
	require.ErrorIs(t, err, registry.ErrAlreadyRegistered)

	create, _, _, _, _ := reg.calls()
	assert.Zero(t, create)
}

func TestInstallAutoStartType(t *testing.T) {
	reg := &fakeRegistry{}
	o := newOrchestrator(t, reg, &enginetest.Fake{})

	require.NoError(t, o.Install(context.Background(), filepath.Join(t.TempDir(), "svc"), true))
	assert.Equal(t, registry.StartAutomatic, reg.reg.StartType)
}

func TestInstallMissingArtifact(t *testing.T) {
	reg := &fakeRegistry{}
	o := newOrchestrator(t, reg, &enginetest.Fake{})
	o.Artifacts = []string{"no-such-artifact.dll"}
	dir := filepath.Join(t.TempDir(), "svc")

	err := o.Install(context.Background(), dir, false)
	require.ErrorIs(t, err, ErrMissingDependency)

	// Nothing was written and nothing was registered.
	assert.NoDirExists(t, dir)
	create, _, _, _, _ := reg.calls()
	assert.Zero(t, create)
}

func TestUnelevatedOperationsMutateNothing(t *testing.T) {
	reg := &fakeRegistry{registered: true, state: registry.StateRunning}
	o := newOrchestrator(t, reg, &enginetest.Fake{})
	o.Elevated = false
	ctx := context.Background()

	assert.ErrorIs(t, o.Install(ctx, t.TempDir(), false), elevate.ErrElevationRequired)
	_, err := o.Start(ctx, nil, time.Second)
	assert.ErrorIs(t, err, elevate.ErrElevationRequired)
	assert.ErrorIs(t, o.Stop(ctx), elevate.ErrElevationRequired)
	assert.ErrorIs(t, o.Uninstall(ctx), elevate.ErrElevationRequired)
	assert.ErrorIs(t, o.Reconfigure(ctx, true), elevate.ErrElevationRequired)

	create, start, stop, del, update := reg.calls()
	assert.Zero(t, create+start+stop+del+update)
}

func TestStopNotStartedBeforeElevation(t *testing.T) {
	// No registration: Stop reports "not started" even without elevation.
	reg := &fakeRegistry{}
	o := newOrchestrator(t, reg, &enginetest.Fake{})
	o.Elevated = false

	err := o.Stop(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
	assert.NotErrorIs(t, err, elevate.ErrElevationRequired)
}

func TestStopRefusesWhenStopped(t *testing.T) {
	reg := &fakeRegistry{registered: true, state: registry.StateStopped}
	o := newOrchestrator(t, reg, &enginetest.Fake{})

	err := o.Stop(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
	_, _, stop, _, _ := reg.calls()
	assert.Zero(t, stop)
}

func TestStartRefusesWhenRunning(t *testing.T) {
	for _, state := range []registry.State{
		registry.StateRunning,
		registry.StateStopPending,
		registry.StateUnknown,
	} {
		t.Run(state.String(), func(t *testing.T) {
			reg := &fakeRegistry{registered: true, state: state}
			o := newOrchestrator(t, reg, &enginetest.Fake{})

			_, err := o.Start(context.Background(), nil, time.Second)
			require.ErrorIs(t, err, ErrNotStopped)
			_, start, _, _, _ := reg.calls()
			assert.Zero(t, start)
		})
	}
}

func TestStartPollsUntilRunning(t *testing.T) {
	reg := &fakeRegistry{registered: true, state: registry.StateStopped, startLatency: 2}
	o := newOrchestrator(t, reg, &enginetest.Fake{})

	outcome, err := o.Start(context.Background(), nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StartedService, outcome)
	assert.Equal(t, registry.StateRunning, reg.state)
}

func TestStartSurfacesQueryErrors(t *testing.T) {
	broken := errors.New("access denied opening service manager")
	reg := &fakeRegistry{queryErr: broken}
	eng := &enginetest.Fake{}
	o := newOrchestrator(t, reg, eng)

	_, err := o.Start(context.Background(), nil, time.Second)
	require.ErrorIs(t, err, broken)
	// Only the missing-registration signal triggers the fallback.
	assert.Zero(t, eng.StartCalls())
}

func TestStartFallbackRunsEngineUnderLock(t *testing.T) {
	reg := &fakeRegistry{}
	eng := &enginetest.Fake{}
	o := newOrchestrator(t, reg, eng)
	cfg := config.StartConfig{DeviceID: "dev-1", Name: "node-a", Server: "broker:3478"}

	type result struct {
		outcome StartOutcome
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		outcome, err := o.Start(context.Background(), resolveFixed(cfg), time.Second)
		resCh <- result{outcome, err}
	}()

	require.Eventually(t, func() bool { return eng.StartCalls() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The lock is held while the engine runs.
	_, err := lock.Acquire(o.LockPath)
	assert.ErrorIs(t, err, lock.ErrAlreadyLocked)

	eng.Handle.Terminate(nil)
	res := <-resCh
	require.NoError(t, res.err)
	assert.Equal(t, RanForeground, res.outcome)
	assert.Equal(t, cfg.DeviceID, eng.LastConfig().DeviceID)

	// Released once the run ends.
	h, err := lock.Acquire(o.LockPath)
	require.NoError(t, err)
	h.Release()

	// The registered-start path was never touched.
	_, start, _, _, _ := reg.calls()
	assert.Zero(t, start)
}

func TestStartFallbackRefusesHeldLock(t *testing.T) {
	reg := &fakeRegistry{}
	eng := &enginetest.Fake{}
	o := newOrchestrator(t, reg, eng)

	h, err := lock.Acquire(o.LockPath)
	require.NoError(t, err)
	defer h.Release()

	_, err = o.Start(context.Background(), resolveFixed(config.StartConfig{}), time.Second)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Zero(t, eng.StartCalls())
}

func TestStartFallbackEngineFailureReleasesLock(t *testing.T) {
	reg := &fakeRegistry{}
	eng := &enginetest.Fake{StartErr: errors.New("registration rejected")}
	o := newOrchestrator(t, reg, eng)

	_, err := o.Start(context.Background(), resolveFixed(config.StartConfig{}), time.Second)
	require.Error(t, err)

	h, err := lock.Acquire(o.LockPath)
	require.NoError(t, err)
	h.Release()
}

func TestUninstallWarnsWhenAbsent(t *testing.T) {
	reg := &fakeRegistry{}
	o := newOrchestrator(t, reg, &enginetest.Fake{})

	require.NoError(t, o.Uninstall(context.Background()))
	_, _, _, del, _ := reg.calls()
	assert.Equal(t, 1, del)
}

func TestReconfigureRequiresRegistration(t *testing.T) {
	reg := &fakeRegistry{}
	o := newOrchestrator(t, reg, &enginetest.Fake{})

	err := o.Reconfigure(context.Background(), true)
	require.ErrorIs(t, err, registry.ErrNotRegistered)
}

func TestReconfigureUpdatesStartType(t *testing.T) {
	reg := &fakeRegistry{registered: true, state: registry.StateStopped, reg: registry.Registration{StartType: registry.StartOnDemand}}
	o := newOrchestrator(t, reg, &enginetest.Fake{})

	require.NoError(t, o.Reconfigure(context.Background(), true))
	assert.Equal(t, registry.StartAutomatic, reg.reg.StartType)
}

func TestRecorderAppendsEvents(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "lifecycle.log")
	r := NewRecorder(path)

	r.Success("install", "ok")
	r.Failure("start", errors.New("boom"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"install"`)
	assert.Contains(t, string(data), `"success":false`)
	assert.Contains(t, string(data), "boom")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Success("install", "ok")
	r.Failure("start", errors.New("boom"))
}
