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

package shared

import (
	"errors"
	"io"

	"github.com/routemesh/routemesh/internal/config"
	"github.com/routemesh/routemesh/internal/control"
	"github.com/routemesh/routemesh/internal/elevate"
	"github.com/routemesh/routemesh/internal/engine"
	"github.com/routemesh/routemesh/internal/lifecycle"
	"github.com/routemesh/routemesh/internal/log"
	"github.com/routemesh/routemesh/internal/registry"
)

// NewOrchestrator wires the lifecycle orchestrator for one CLI invocation:
// real service-manager client, real engine, elevation read once.
func NewOrchestrator(out io.Writer) (*lifecycle.Orchestrator, error) {
	home, err := config.HomeDir()
	if err != nil {
		return nil, err
	}
	logger := log.New(log.FromEnv())
	v, _, _ := GetVersion()

	return &lifecycle.Orchestrator{
		Elevated: elevate.Check(),
		Registry: registry.NewClient(),
		Engine:   engine.NewCore(logger),
		LockPath: config.LockPath(home),
		Events:   lifecycle.NewRecorder(config.LifecycleLogPath(home)),
		Log:      logger,
		Out:      out,
		Version:  v,
	}, nil
}

// Home resolves (and creates if needed) the data directory.
func Home() (string, error) {
	return config.HomeDir()
}

// WrapLifecycleError attaches the CLI exit code that matches a lifecycle
// failure. Errors with no dedicated code pass through unchanged.
func WrapLifecycleError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, elevate.ErrElevationRequired):
		return NewExitError(ExitElevationRequired, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrAlreadyRunning):
		return NewExitError(ExitAlreadyRunning, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrNotStarted):
		return NewExitError(ExitNotRunning, err.Error(), nil)
	case control.IsNotRunning(err):
		return NewExitError(ExitNotRunning, "service is not started", err)
	default:
		return err
	}
}
