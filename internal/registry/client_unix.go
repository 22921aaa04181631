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

//go:build !windows

package registry

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kardianos/service"
)

// managedClient drives systemd or launchd through kardianos/service.
// The launch-argument contract is a typed list here; no command-line
// escaping is involved except when re-reading a stored systemd unit.
type managedClient struct{}

// NewClient returns the service-control manager client for this platform.
func NewClient() Client {
	return &managedClient{}
}

// noopProgram satisfies service.Interface for control-only operations; the
// callbacks are never invoked for install/status/start/stop calls.
type noopProgram struct{}

func (noopProgram) Start(service.Service) error { return nil }
func (noopProgram) Stop(service.Service) error  { return nil }

func controlHandle(reg Registration) (service.Service, error) {
	cfg := &service.Config{
		Name:         reg.Name,
		DisplayName:  reg.DisplayName,
		Description:  reg.Description,
		Executable:   reg.ExecutablePath,
		Arguments:    reg.LaunchArguments(),
		Dependencies: reg.Dependencies,
		UserName:     "", // run as the system account
		Option: service.KeyValue{
			"StartType": kardianosStartType(reg.StartType),
		},
	}
	return service.New(noopProgram{}, cfg)
}

// namedHandle builds a handle carrying only the service name, sufficient
// for status, start, stop, and uninstall.
func namedHandle(name string) (service.Service, error) {
	return service.New(noopProgram{}, &service.Config{Name: name})
}

func (c *managedClient) QueryState(name string) (State, error) {
	s, err := namedHandle(name)
	if err != nil {
		return StateUnknown, err
	}

	status, err := s.Status()
	if err != nil {
		if errors.Is(err, service.ErrNotInstalled) {
			return StateNotInstalled, ErrNotRegistered
		}
		return StateUnknown, fmt.Errorf("querying service %s: %w", name, err)
	}

	switch status {
	case service.StatusRunning:
		return StateRunning, nil
	case service.StatusStopped:
		return StateStopped, nil
	default:
		// The init system reported something kardianos cannot classify.
		// Not safe to proceed.
		return StateUnknown, nil
	}
}

func (c *managedClient) Create(reg Registration) error {
	if _, err := c.QueryState(reg.Name); err == nil {
		return ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotRegistered) {
		return err
	}

	s, err := controlHandle(reg)
	if err != nil {
		return err
	}
	if err := s.Install(); err != nil {
		return fmt.Errorf("installing service %s: %w", reg.Name, err)
	}
	return applyStartType(reg.Name, reg.StartType)
}

func (c *managedClient) Update(name string, startType StartType) error {
	if _, err := c.QueryState(name); err != nil {
		return err
	}

	reg, err := storedRegistration(name)
	if err != nil {
		return err
	}
	reg.StartType = startType

	// kardianos has no change-config call; rewrite the registration with
	// every field except the start type re-derived from the stored record.
	s, err := controlHandle(reg)
	if err != nil {
		return err
	}
	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("rewriting service %s: %w", name, err)
	}
	if err := s.Install(); err != nil {
		return fmt.Errorf("rewriting service %s: %w", name, err)
	}
	return applyStartType(name, startType)
}

func (c *managedClient) Delete(name string) error {
	s, err := namedHandle(name)
	if err != nil {
		return err
	}

	query := func() (State, error) { return c.QueryState(name) }
	stop := func() error {
		if err := c.Stop(name); err != nil {
			return fmt.Errorf("stopping service %s before delete: %w", name, err)
		}
		return nil
	}
	del := func() error {
		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("deleting service %s: %w", name, err)
		}
		return nil
	}
	return stopThenDelete(query, stop, del)
}

func (c *managedClient) Start(name string) error {
	s, err := namedHandle(name)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("starting service %s: %w", name, err)
	}
	return nil
}

func (c *managedClient) Stop(name string) error {
	s, err := namedHandle(name)
	if err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		return fmt.Errorf("stopping service %s: %w", name, err)
	}
	return nil
}

func kardianosStartType(t StartType) string {
	if t == StartAutomatic {
		return "automatic"
	}
	return "manual"
}

// applyStartType reconciles boot-time behavior on systemd, where start type
// is the unit's enabled state rather than a config field.
func applyStartType(name string, t StartType) error {
	if !systemdManaged() {
		return nil
	}
	verb := "disable"
	if t == StartAutomatic {
		verb = "enable"
	}
	out, err := exec.Command("systemctl", verb, "--quiet", name+".service").CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s %s: %v (%s)", verb, name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func systemdManaged() bool {
	return service.Platform() == "linux-systemd"
}

// storedRegistration re-derives the registration from the record the init
// system holds, so an update preserves the original executable path and
// home directory exactly.
func storedRegistration(name string) (Registration, error) {
	if !systemdManaged() {
		return Registration{}, fmt.Errorf("reconfigure is not supported on %s", service.Platform())
	}

	unit := "/etc/systemd/system/" + name + ".service"
	data, err := os.ReadFile(unit)
	if err != nil {
		return Registration{}, fmt.Errorf("reading stored unit %s: %w", unit, err)
	}

	cmdline, err := execStartLine(string(data))
	if err != nil {
		return Registration{}, fmt.Errorf("unit %s: %w", unit, err)
	}
	exe, args, err := DecodeCommandLine(cmdline)
	if err != nil {
		return Registration{}, fmt.Errorf("unit %s: %w", unit, err)
	}
	home, err := HomeFromArguments(args)
	if err != nil {
		return Registration{}, fmt.Errorf("unit %s: %w", unit, err)
	}

	return Registration{
		Name:           name,
		DisplayName:    ServiceDisplayName,
		Description:    ServiceDescription,
		ExecutablePath: exe,
		HomeDir:        home,
	}, nil
}

// execStartLine extracts the ExecStart command line from a systemd unit.
func execStartLine(unit string) (string, error) {
	for _, line := range strings.Split(unit, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "ExecStart="); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", errors.New("no ExecStart line found")
}
