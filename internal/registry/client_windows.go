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

//go:build windows

package registry

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// scmClient talks to the Windows service control manager. Every operation
// opens and closes its own manager connection.
type scmClient struct{}

// NewClient returns the service-control manager client for this platform.
func NewClient() Client {
	return &scmClient{}
}

func (c *scmClient) QueryState(name string) (State, error) {
	m, err := mgr.Connect()
	if err != nil {
		return StateUnknown, fmt.Errorf("connecting to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return StateUnknown, mapOpenError(err)
	}
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return StateUnknown, fmt.Errorf("querying service %s: %w", name, err)
	}
	return stateFromSCM(status.State), nil
}

func (c *scmClient) Create(reg Registration) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connecting to service manager: %w", err)
	}
	defer m.Disconnect()

	if existing, err := m.OpenService(reg.Name); err == nil {
		existing.Close()
		return ErrAlreadyRegistered
	}

	s, err := m.CreateService(reg.Name, reg.ExecutablePath,
		mgr.Config{
			DisplayName:      reg.DisplayName,
			Description:      reg.Description,
			StartType:        scmStartType(reg.StartType),
			ErrorControl:     mgr.ErrorNormal,
			Dependencies:     reg.Dependencies,
			ServiceStartName: "", // run as LocalSystem
		},
		reg.LaunchArguments()...)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_EXISTS) {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("creating service %s: %w", reg.Name, err)
	}
	return s.Close()
}

func (c *scmClient) Update(name string, startType StartType) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connecting to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return mapOpenError(err)
	}
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return fmt.Errorf("reading config of service %s: %w", name, err)
	}

	// The SCM stores the executable path and launch arguments as one
	// command line. Re-derive both halves exactly, then write the record
	// back with only the start type changed.
	exe, args, err := DecodeCommandLine(cfg.BinaryPathName)
	if err != nil {
		return fmt.Errorf("decoding stored command line of service %s: %w", name, err)
	}
	cfg.BinaryPathName = EncodeCommandLine(exe, args)
	cfg.StartType = scmStartType(startType)

	if err := s.UpdateConfig(cfg); err != nil {
		return fmt.Errorf("updating service %s: %w", name, err)
	}
	return nil
}

func (c *scmClient) Delete(name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connecting to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return mapOpenError(err)
	}
	defer s.Close()

	query := func() (State, error) {
		status, err := s.Query()
		if err != nil {
			return StateUnknown, fmt.Errorf("querying service %s: %w", name, err)
		}
		return stateFromSCM(status.State), nil
	}
	stop := func() error {
		if _, err := s.Control(svc.Stop); err != nil {
			return fmt.Errorf("stopping service %s before delete: %w", name, err)
		}
		return nil
	}
	del := func() error {
		if err := s.Delete(); err != nil {
			return fmt.Errorf("deleting service %s: %w", name, err)
		}
		return nil
	}
	return stopThenDelete(query, stop, del)
}

func (c *scmClient) Start(name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connecting to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return mapOpenError(err)
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		return fmt.Errorf("starting service %s: %w", name, err)
	}
	return nil
}

func (c *scmClient) Stop(name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connecting to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return mapOpenError(err)
	}
	defer s.Close()

	if _, err := s.Control(svc.Stop); err != nil {
		return fmt.Errorf("stopping service %s: %w", name, err)
	}
	return nil
}

// mapOpenError distinguishes the expected "not installed" signal from
// transport and permission failures.
func mapOpenError(err error) error {
	if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
		return ErrNotRegistered
	}
	return fmt.Errorf("opening service: %w", err)
}

func scmStartType(t StartType) uint32 {
	if t == StartAutomatic {
		return mgr.StartAutomatic
	}
	return mgr.StartManual
}

func stateFromSCM(s svc.State) State {
	switch s {
	case svc.Stopped:
		return StateStopped
	case svc.StartPending:
		return StateStartPending
	case svc.Running:
		return StateRunning
	case svc.StopPending:
		return StateStopPending
	default:
		return StateUnknown
	}
}
