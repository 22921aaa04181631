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

// Package svchost is the background-service side of the binary: the program
// the service manager launches with the service-host sentinel argument. It
// holds the singleton lock for its whole lifetime, runs the engine from the
// home directory's configuration, and serves the control channel.
package svchost

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kardianos/service"

	"github.com/routemesh/routemesh/internal/config"
	"github.com/routemesh/routemesh/internal/control"
	"github.com/routemesh/routemesh/internal/engine"
	"github.com/routemesh/routemesh/internal/lock"
	"github.com/routemesh/routemesh/internal/log"
	"github.com/routemesh/routemesh/internal/registry"
)

// Host implements service.Interface: the engine's life is scoped between the
// service manager's Start and Stop callbacks.
type Host struct {
	HomeDir string
	Engine  engine.Engine
	Log     *slog.Logger
	Version string

	mu       sync.Mutex
	lockFile *lock.Handle
	handle   engine.Handle
	ctrl     *control.Server
	listener net.Listener
}

// NewHost builds a host for the given home directory.
func NewHost(homeDir string, eng engine.Engine, logger *slog.Logger, version string) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		HomeDir: homeDir,
		Engine:  eng,
		Log:     log.WithComponent(logger, "svchost"),
		Version: version,
	}
}

// Start acquires the singleton lock, reads the start configuration, and
// launches the engine and control server. Per the service.Interface
// contract it must not block.
func (h *Host) Start(s service.Service) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lockFile, err := lock.Acquire(config.LockPath(h.HomeDir))
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			return fmt.Errorf("another instance already holds %s", config.LockPath(h.HomeDir))
		}
		return err
	}

	cfg, err := h.loadConfig()
	if err != nil {
		lockFile.Release()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	handle, err := h.Engine.Start(ctx, cfg)
	if err != nil {
		lockFile.Release()
		return fmt.Errorf("starting engine: %w", err)
	}

	listener, err := control.Listen(h.HomeDir)
	if err != nil {
		handle.Stop(context.Background())
		lockFile.Release()
		return err
	}
	ctrl := control.NewServer(handle, h.Log, h.Version)
	go ctrl.Serve(listener)

	h.lockFile = lockFile
	h.handle = handle
	h.ctrl = ctrl
	h.listener = listener

	h.Log.Info("service host started",
		slog.String(log.HomeKey, h.HomeDir),
		slog.Int(log.PIDKey, os.Getpid()))
	return nil
}

// Stop tears everything down in reverse order and releases the lock.
func (h *Host) Stop(s service.Service) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctrl != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		h.ctrl.Shutdown(ctx)
		cancel()
		h.ctrl = nil
	}
	if h.handle != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := h.handle.Stop(ctx)
		cancel()
		h.handle = nil
		if err != nil {
			h.Log.Warn("engine did not stop cleanly", log.Error(err))
		}
	}
	h.lockFile.Release()
	h.lockFile = nil

	h.Log.Info("service host stopped")
	return nil
}

// loadConfig reads <home>/config.yaml, falling back to defaults when the
// file does not exist.
func (h *Host) loadConfig() (config.StartConfig, error) {
	path := config.ConfigPath(h.HomeDir)
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, fs.ErrNotExist):
		h.Log.Info("no config file, synthesizing defaults", slog.String("path", path))
		cfg, err := config.Defaults(config.Options{})
		if err != nil {
			return cfg, fmt.Errorf("no usable configuration at %s: %w", path, err)
		}
		return cfg, nil
	default:
		return config.StartConfig{}, err
	}
}

// Run hands the process to the service manager's runtime. It blocks until
// the manager asks the service to stop.
func Run(homeDir string, logger *slog.Logger, version string) error {
	host := NewHost(homeDir, engine.NewCore(logger), logger, version)

	svc, err := service.New(host, &service.Config{
		Name:        registry.ServiceName,
		DisplayName: registry.ServiceDisplayName,
		Description: registry.ServiceDescription,
	})
	if err != nil {
		return fmt.Errorf("binding service runtime: %w", err)
	}
	return svc.Run()
}
