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

// Package lifecycle drives the service through its installable states:
// install, start, stop, reconfigure, uninstall. Every mutating operation
// requires elevation and refuses rather than races when the observed service
// state is not the one it needs. When no registration exists, Start falls
// back to running the engine directly in the foreground under the singleton
// lock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/routemesh/routemesh/internal/config"
	"github.com/routemesh/routemesh/internal/control"
	"github.com/routemesh/routemesh/internal/elevate"
	"github.com/routemesh/routemesh/internal/engine"
	"github.com/routemesh/routemesh/internal/lock"
	"github.com/routemesh/routemesh/internal/log"
	"github.com/routemesh/routemesh/internal/registry"
)

var (
	// ErrNotStopped is returned when an operation needs the service stopped
	// (or absent) and it is running or in a transient state.
	ErrNotStopped = errors.New("service is not stopped")

	// ErrNotStarted is returned by Stop when there is nothing to stop.
	ErrNotStarted = errors.New("service is not started")

	// ErrAlreadyRunning is returned when the singleton lock is held by
	// another instance. The engine is never invoked in that case.
	ErrAlreadyRunning = errors.New("another instance is already running")

	// ErrStartTimeout is returned when the service manager accepted the start
	// request but the service did not reach the running state in time.
	ErrStartTimeout = errors.New("service start was not confirmed")
)

const (
	startWaitDefault  = 10 * time.Second
	startPollInterval = 250 * time.Millisecond
)

// Orchestrator sequences lifecycle operations against the service manager
// and, in the unregistered fallback, against the engine directly. All
// collaborators are injected; Elevated is determined once by the caller and
// threaded through as a value.
type Orchestrator struct {
	Elevated bool
	Registry registry.Client
	Engine   engine.Engine
	LockPath string
	Events   *Recorder
	Log      *slog.Logger
	Out      io.Writer

	// Version is reported on the control channel of a direct run.
	Version string

	// ExecutablePath overrides the binary copied by Install. Empty means the
	// current executable.
	ExecutablePath string

	// Artifacts overrides the companion files Install requires. Nil means
	// the platform default.
	Artifacts []string
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

func (o *Orchestrator) out() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return io.Discard
}

func (o *Orchestrator) requireElevation(op string) error {
	if o.Elevated {
		return nil
	}
	o.Events.Failure(op, elevate.ErrElevationRequired)
	return elevate.ErrElevationRequired
}

// Install registers the service: copy the executable and its companion
// artifacts into dir, then create the registration. It refuses when a
// registration already exists and mutates nothing without elevation. A
// missing artifact is fatal before any file is written or any registration
// created.
func (o *Orchestrator) Install(ctx context.Context, dir string, auto bool) error {
	if err := o.requireElevation("install"); err != nil {
		return err
	}

	_, err := o.Registry.QueryState(registry.ServiceName)
	switch {
	case err == nil:
		o.Events.Failure("install", registry.ErrAlreadyRegistered)
		return registry.ErrAlreadyRegistered
	case !errors.Is(err, registry.ErrNotRegistered):
		o.Events.Failure("install", err)
		return err
	}

	exePath := o.ExecutablePath
	if exePath == "" {
		if exePath, err = os.Executable(); err != nil {
			return fmt.Errorf("resolving current executable: %w", err)
		}
	}
	artifacts := o.Artifacts
	if artifacts == nil {
		artifacts = platformArtifacts()
	}

	binPath, err := stageInstall(exePath, dir, artifacts)
	if err != nil {
		o.Events.Failure("install", err)
		return err
	}

	startType := registry.StartOnDemand
	if auto {
		startType = registry.StartAutomatic
	}
	reg := registry.Registration{
		Name:           registry.ServiceName,
		DisplayName:    registry.ServiceDisplayName,
		Description:    registry.ServiceDescription,
		ExecutablePath: binPath,
		HomeDir:        o.home(),
		StartType:      startType,
	}
	if err := o.Registry.Create(reg); err != nil {
		o.Events.Failure("install", err)
		return err
	}

	o.logger().Info("service installed",
		slog.String(log.ServiceKey, registry.ServiceName),
		slog.String("dir", dir),
		slog.String("start_type", startType.String()))
	o.Events.Record(Event{Event: "install", Success: true, Dir: dir, StartType: startType.String()})
	return nil
}

// StartOutcome reports which runtime path Start took. The decision is made
// exactly once, from the observed registration state.
type StartOutcome int

const (
	// StartedService means the service manager launched the registered
	// service and confirmed it running.
	StartedService StartOutcome = iota
	// RanForeground means no registration existed, so the engine ran
	// directly in this process until it terminated.
	RanForeground
)

// Start brings the engine up. With a registration present and stopped, it
// asks the service manager to start it and polls until the running state is
// confirmed or wait elapses. With no registration, it runs the engine
// directly under the singleton lock, serving the control channel until the
// engine terminates. Any other observed state is a refusal.
func (o *Orchestrator) Start(ctx context.Context, resolve func() (config.StartConfig, error), wait time.Duration) (StartOutcome, error) {
	if err := o.requireElevation("start"); err != nil {
		return StartedService, err
	}

	if err := HintFirewall(); err != nil {
		o.logger().Warn("firewall hint failed", log.Error(err))
	}

	state, err := o.Registry.QueryState(registry.ServiceName)
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		return RanForeground, o.runDirect(ctx, resolve)
	case err != nil:
		o.Events.Failure("start", err)
		return StartedService, err
	}

	if state != registry.StateStopped {
		err := fmt.Errorf("%w: service is %s", ErrNotStopped, state)
		o.Events.Failure("start", err)
		return StartedService, err
	}

	if err := o.Registry.Start(registry.ServiceName); err != nil {
		o.Events.Failure("start", err)
		return StartedService, err
	}
	if err := o.awaitRunning(ctx, wait); err != nil {
		o.Events.Failure("start", err)
		return StartedService, err
	}

	o.logger().Info("service started", slog.String(log.ServiceKey, registry.ServiceName))
	o.Events.Success("start", "service running")
	return StartedService, nil
}

// awaitRunning polls the service state until running, the wait elapses, or
// the context is cancelled.
func (o *Orchestrator) awaitRunning(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		wait = startWaitDefault
	}
	deadline := time.Now().Add(wait)
	for {
		state, err := o.Registry.QueryState(registry.ServiceName)
		if err != nil {
			return err
		}
		if state == registry.StateRunning {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: service is %s", ErrStartTimeout, state)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startPollInterval):
		}
	}
}

// runDirect is the unregistered fallback: hold the singleton lock, resolve
// the configuration, run the engine in the foreground with the control
// channel attached, and block until it terminates. The lock is released on
// every path.
func (o *Orchestrator) runDirect(ctx context.Context, resolve func() (config.StartConfig, error)) error {
	handle, err := lock.Acquire(o.LockPath)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			o.Events.Failure("start", ErrAlreadyRunning)
			return ErrAlreadyRunning
		}
		o.Events.Failure("start", err)
		return err
	}
	defer handle.Release()

	cfg, err := resolve()
	if err != nil {
		o.Events.Failure("start", err)
		return err
	}

	eng, err := o.Engine.Start(ctx, cfg)
	if err != nil {
		o.Events.Failure("start", err)
		return err
	}

	listener, err := control.Listen(o.home())
	if err != nil {
		eng.Stop(context.Background())
		o.Events.Failure("start", err)
		return err
	}
	srv := control.NewServer(eng, o.logger(), o.Version)
	go srv.Serve(listener)

	stop := context.AfterFunc(ctx, func() {
		eng.Stop(context.Background())
	})
	defer stop()

	o.logger().Info("engine running in foreground", slog.String(log.HomeKey, o.home()))
	o.Events.Success("start", "engine running in foreground")
	fmt.Fprintln(o.out(), "running without a service registration; press Ctrl-C to stop")

	waitErr := eng.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	if waitErr != nil {
		o.Events.Failure("stop", waitErr)
		return fmt.Errorf("engine terminated: %w", waitErr)
	}
	o.Events.Success("stop", "engine terminated cleanly")
	return nil
}

// Stop halts the running service. When there is nothing to stop, it refuses
// with ErrNotStarted before the elevation check, so an unprivileged status
// probe gets the accurate answer instead of a permissions complaint.
func (o *Orchestrator) Stop(ctx context.Context) error {
	state, err := o.Registry.QueryState(registry.ServiceName)
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		return ErrNotStarted
	case err != nil:
		o.Events.Failure("stop", err)
		return err
	}
	if state != registry.StateRunning {
		return fmt.Errorf("%w: service is %s", ErrNotStarted, state)
	}

	if err := o.requireElevation("stop"); err != nil {
		return err
	}

	if err := o.Registry.Stop(registry.ServiceName); err != nil {
		o.Events.Failure("stop", err)
		return err
	}

	o.logger().Info("service stopped", slog.String(log.ServiceKey, registry.ServiceName))
	o.Events.Success("stop", "service stopped")
	return nil
}

// Uninstall removes the registration, stopping the service first if needed.
// A missing registration is reported as a warning, not a failure: the goal
// state is already reached and cleanup stays best-effort.
func (o *Orchestrator) Uninstall(ctx context.Context) error {
	if err := o.requireElevation("uninstall"); err != nil {
		return err
	}

	err := o.Registry.Delete(registry.ServiceName)
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		o.logger().Warn("service was not registered")
		fmt.Fprintln(o.out(), "warning: service was not registered; nothing to remove")
		o.Events.Record(Event{Event: "uninstall", Success: true, Message: "service was not registered"})
		return nil
	case err != nil:
		o.Events.Failure("uninstall", err)
		return err
	}

	o.logger().Info("service uninstalled", slog.String(log.ServiceKey, registry.ServiceName))
	o.Events.Success("uninstall", "service uninstalled")
	return nil
}

// Reconfigure updates the registered start type. The stored executable path
// and home directory round-trip through the update unchanged. It requires an
// existing registration.
func (o *Orchestrator) Reconfigure(ctx context.Context, auto bool) error {
	if err := o.requireElevation("reconfigure"); err != nil {
		return err
	}

	startType := registry.StartOnDemand
	if auto {
		startType = registry.StartAutomatic
	}
	if err := o.Registry.Update(registry.ServiceName, startType); err != nil {
		o.Events.Failure("reconfigure", err)
		return err
	}

	o.logger().Info("service reconfigured",
		slog.String(log.ServiceKey, registry.ServiceName),
		slog.String("start_type", startType.String()))
	o.Events.Record(Event{Event: "reconfigure", Success: true, StartType: startType.String()})
	return nil
}

// home is the data directory implied by the lock path.
func (o *Orchestrator) home() string {
	return filepath.Dir(o.LockPath)
}
