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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/routemesh/routemesh/internal/registry"
)

// ErrMissingDependency is returned when a companion artifact the service
// needs at runtime cannot be found next to the installer. It is fatal before
// any registration mutation.
var ErrMissingDependency = errors.New("required artifact not found")

// platformArtifacts lists the companion files the service binary needs at
// runtime, by GOOS. They ship alongside the installer executable.
func platformArtifacts() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"wintun.dll"}
	default:
		return nil
	}
}

// serviceBinaryFile is the installed service executable's file name.
func serviceBinaryFile() string {
	if runtime.GOOS == "windows" {
		return registry.ServiceBinaryName + ".exe"
	}
	return registry.ServiceBinaryName
}

// stageInstall copies the running executable and every required artifact into
// dir, creating it if missing, and returns the installed binary's path. All
// artifacts are located before anything is written, so a missing dependency
// leaves the target directory untouched.
func stageInstall(exePath, dir string, artifacts []string) (string, error) {
	srcDir := filepath.Dir(exePath)
	located := make(map[string]string, len(artifacts))
	for _, name := range artifacts {
		src, err := locateArtifact(name, srcDir)
		if err != nil {
			return "", err
		}
		located[name] = src
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating install directory: %w", err)
	}

	binPath := filepath.Join(dir, serviceBinaryFile())
	if err := copyFile(exePath, binPath, 0755); err != nil {
		return "", fmt.Errorf("installing service binary: %w", err)
	}
	for name, src := range located {
		if err := copyFile(src, filepath.Join(dir, name), 0644); err != nil {
			return "", fmt.Errorf("installing %s: %w", name, err)
		}
	}
	return binPath, nil
}

// locateArtifact finds a companion artifact next to the installer executable,
// falling back to the working directory.
func locateArtifact(name, exeDir string) (string, error) {
	candidates := []string{filepath.Join(exeDir, name), name}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMissingDependency, name)
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
