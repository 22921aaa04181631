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

package config

import (
	"os"
	"path/filepath"
)

// Well-known file names inside the home directory.
const (
	// LockFileName is the singleton lock guarding one engine per home.
	LockFileName = "routemesh.lock"
	// ConfigFileName is the engine config the service host reads at start.
	ConfigFileName = "config.yaml"
	// LifecycleLogName is the structured diagnostic record for operators.
	LifecycleLogName = "lifecycle.log"
)

// HomeDir returns the routemesh data directory, creating it if needed.
// The singleton lock, control socket, engine config, and lifecycle log all
// live under it. Respects the ROUTEMESH_HOME environment variable.
func HomeDir() (string, error) {
	if home := os.Getenv("ROUTEMESH_HOME"); home != "" {
		if err := os.MkdirAll(home, 0700); err != nil {
			return "", err
		}
		return home, nil
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	home := filepath.Join(userHome, ".routemesh")
	if err := os.MkdirAll(home, 0700); err != nil {
		return "", err
	}
	return home, nil
}

// LockPath returns the singleton lock path under the given home directory.
func LockPath(home string) string {
	return filepath.Join(home, LockFileName)
}

// ConfigPath returns the engine config path under the given home directory.
func ConfigPath(home string) string {
	return filepath.Join(home, ConfigFileName)
}

// LifecycleLogPath returns the lifecycle event log path under the given home.
func LifecycleLogPath(home string) string {
	return filepath.Join(home, LifecycleLogName)
}
