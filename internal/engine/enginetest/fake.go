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

// Package enginetest provides engine fakes for package tests.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/routemesh/routemesh/internal/config"
	"github.com/routemesh/routemesh/internal/engine"
)

// Fake is a scriptable engine.Engine.
type Fake struct {
	// StartErr, when set, is returned by Start without producing a handle.
	StartErr error

	// Handle is returned on successful Start. If nil, a fresh FakeHandle
	// seeded from the config is used.
	Handle *FakeHandle

	mu         sync.Mutex
	startCalls int
	lastConfig config.StartConfig
}

// Start records the call and returns the scripted result. The handle is
// published before the call counter so observers polling StartCalls see it.
func (f *Fake) Start(ctx context.Context, cfg config.StartConfig) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastConfig = cfg
	if f.StartErr != nil {
		f.startCalls++
		return nil, f.StartErr
	}
	if f.Handle == nil {
		f.Handle = NewFakeHandle(cfg)
	}
	f.startCalls++
	return f.Handle, nil
}

// StartCalls returns how many times Start was invoked.
func (f *Fake) StartCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

// LastConfig returns the config of the most recent Start call.
func (f *Fake) LastConfig() config.StartConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastConfig
}

// FakeHandle is a controllable engine.Handle.
type FakeHandle struct {
	RouteTable []engine.Route
	PeerTable  []engine.Peer
	Stat       engine.Status

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	waitErr error
}

// NewFakeHandle builds a running handle seeded from cfg.
func NewFakeHandle(cfg config.StartConfig) *FakeHandle {
	return &FakeHandle{
		Stat: engine.Status{
			DeviceID:  cfg.DeviceID,
			Name:      cfg.Name,
			Server:    cfg.Server,
			Up:        true,
			StartedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
}

// Terminate makes Wait return err, simulating the engine dying on its own.
func (h *FakeHandle) Terminate(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.waitErr = err
	h.Stat.Up = false
	close(h.done)
}

// Wait blocks until Stop or Terminate.
func (h *FakeHandle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Stop ends the handle cleanly. Idempotent.
func (h *FakeHandle) Stop(ctx context.Context) error {
	h.Terminate(nil)
	return nil
}

// Stopped reports whether the handle was stopped or terminated.
func (h *FakeHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *FakeHandle) Routes() []engine.Route {
	return h.RouteTable
}

func (h *FakeHandle) Peers(all bool) []engine.Peer {
	if all {
		return h.PeerTable
	}
	online := make([]engine.Peer, 0, len(h.PeerTable))
	for _, p := range h.PeerTable {
		if p.Online {
			online = append(online, p)
		}
	}
	return online
}

func (h *FakeHandle) Status() engine.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Stat
}
