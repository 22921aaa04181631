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

// Package registry wraps the operating system's service-control manager:
// querying, creating, updating, starting, stopping, and deleting the
// routemesh service registration. Connections to the manager are scoped to
// each call. The registration's existence is the sole source of truth for
// "installed" state; there is no separate persisted marker.
package registry

import (
	"errors"
	"fmt"
	"time"
)

// Fixed product identity. Exactly one registration exists per machine.
const (
	// ServiceName is the registration name known to the service manager.
	ServiceName = "routemesh-service-v1"
	// ServiceDisplayName is the human-readable service name.
	ServiceDisplayName = "RouteMesh Service"
	// ServiceDescription describes the service to operators.
	ServiceDescription = "RouteMesh peer-to-peer tunnel service"
	// ServiceBinaryName is the base name of the copied service executable.
	ServiceBinaryName = "routemesh-service"
)

// Launch-argument contract. The sentinel is a distinct argument, never
// embedded in a path string; changing these tokens is a compatibility break
// with existing registrations.
const (
	// SentinelFlag marks an invocation as the background-service host.
	SentinelFlag = "--service-host"
	// HomeFlag precedes the data directory argument.
	HomeFlag = "--home"
)

var (
	// ErrNotRegistered is the expected, non-fatal signal that the service is
	// not installed. Callers must distinguish it from transport or
	// permission errors, which are always surfaced verbatim.
	ErrNotRegistered = errors.New("service is not registered")

	// ErrAlreadyRegistered is returned by Create when a registration exists.
	ErrAlreadyRegistered = errors.New("service is already registered")

	// ErrStopTimeout is returned when a service does not reach Stopped
	// within the bounded wait before deletion.
	ErrStopTimeout = errors.New("timed out waiting for service to stop")
)

// State is the observed service state. It is never stored.
type State int

const (
	// StateNotInstalled means no registration exists.
	StateNotInstalled State = iota
	// StateStopped means the service is registered but not running.
	StateStopped
	// StateStartPending means a start was requested and has not completed.
	StateStartPending
	// StateRunning means the service is running.
	StateRunning
	// StateStopPending means a stop was requested and has not completed.
	StateStopPending
	// StateUnknown covers states the manager reports that have no mapping
	// here. Treated conservatively: not safe to proceed.
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateNotInstalled:
		return "not installed"
	case StateStopped:
		return "stopped"
	case StateStartPending:
		return "start pending"
	case StateRunning:
		return "running"
	case StateStopPending:
		return "stop pending"
	default:
		return "unknown"
	}
}

// Settled reports whether the state is safe to act on. Pending and unknown
// states are transient; operations refuse rather than race them.
func (s State) Settled() bool {
	return s == StateNotInstalled || s == StateStopped || s == StateRunning
}

// StartType controls when the service manager launches the service.
type StartType int

const (
	// StartOnDemand launches only on explicit request.
	StartOnDemand StartType = iota
	// StartAutomatic launches at boot.
	StartAutomatic
)

func (t StartType) String() string {
	if t == StartAutomatic {
		return "automatic"
	}
	return "on-demand"
}

// Registration is the identity of the background service as registered with
// the service manager. The account identity is always the local system
// account; it is deliberately not a field.
type Registration struct {
	Name           string
	DisplayName    string
	Description    string
	ExecutablePath string
	HomeDir        string
	StartType      StartType
	Dependencies   []string
}

// LaunchArguments returns the typed launch-argument list stored with the
// registration: the service-host sentinel followed by the home directory.
func (r Registration) LaunchArguments() []string {
	return []string{SentinelFlag, HomeFlag, r.HomeDir}
}

// HomeFromArguments extracts the home directory from stored launch
// arguments. It is the inverse of LaunchArguments.
func HomeFromArguments(args []string) (string, error) {
	for i, arg := range args {
		if arg == HomeFlag && i+1 < len(args) {
			return args[i+1], nil
		}
	}
	return "", fmt.Errorf("launch arguments %q carry no %s value", args, HomeFlag)
}

// Client is the transactional interface to the service-control manager.
// Implementations open and close the manager connection per call.
type Client interface {
	// QueryState returns the observed service state. ErrNotRegistered means
	// "not installed" and is expected control flow, not a failure.
	QueryState(name string) (State, error)

	// Create registers the service. Fails with ErrAlreadyRegistered if a
	// registration exists; idempotency is the caller's responsibility.
	Create(reg Registration) error

	// Update changes the start type of an existing registration,
	// re-deriving and preserving the stored executable path and launch
	// arguments exactly.
	Update(name string, startType StartType) error

	// Delete removes the registration. A non-stopped service is stopped
	// first, with a bounded wait for the transition; deletion is never
	// attempted on a non-stopped service.
	Delete(name string) error

	// Start requests a start. It does not block until Running; callers
	// poll QueryState if they need confirmation.
	Start(name string) error

	// Stop requests a stop.
	Stop(name string) error
}

// Bounds for the stop-before-delete wait.
const (
	stopWaitTimeout  = 10 * time.Second
	stopPollInterval = 250 * time.Millisecond
)

// stopThenDelete enforces the deletion ordering shared by the platform
// clients: del runs only once query has observed Stopped. A service in any
// other state is asked to stop first, with a bounded wait for the
// transition. Deletion is never attempted on a non-stopped service.
func stopThenDelete(query func() (State, error), stop, del func() error) error {
	state, err := query()
	if err != nil {
		return err
	}
	if state != StateStopped {
		if err := stop(); err != nil {
			return err
		}
		if err := waitForStopped(query); err != nil {
			return err
		}
	}
	return del()
}

// waitForStopped polls query until the service reports Stopped, bounded by
// stopWaitTimeout. A service that disappears mid-wait counts as stopped.
func waitForStopped(query func() (State, error)) error {
	deadline := time.Now().Add(stopWaitTimeout)
	for {
		state, err := query()
		if errors.Is(err, ErrNotRegistered) {
			return nil
		}
		if err != nil {
			return err
		}
		if state == StateStopped {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w (last state: %s)", ErrStopTimeout, state)
		}
		time.Sleep(stopPollInterval)
	}
}
