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

// Package engine defines the narrow adapter to the tunnel engine. The
// orchestrator hands it a fully-resolved StartConfig and consumes the
// returned handle; the tunneling protocol and packet forwarding live behind
// this boundary.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/routemesh/routemesh/internal/config"
)

// ErrEngineStart wraps failures to bring the engine up. The caller logs and
// surfaces it; the singleton lock is released on every exit path.
var ErrEngineStart = errors.New("engine failed to start")

// Engine starts tunnel engine instances.
type Engine interface {
	// Start brings the engine up with the given configuration and returns
	// once it is running. The configuration is passed by value and not
	// retained by the caller.
	Start(ctx context.Context, cfg config.StartConfig) (Handle, error)
}

// Handle is a running engine instance. It exposes the runtime introspection
// the query-only commands consume.
type Handle interface {
	// Wait blocks until the engine terminates, returning the terminal error
	// if it died rather than being stopped.
	Wait() error

	// Stop shuts the engine down and releases its resources. Idempotent.
	Stop(ctx context.Context) error

	// Routes returns the current route table.
	Routes() []Route

	// Peers returns known peers; all includes offline ones.
	Peers(all bool) []Peer

	// Status returns a snapshot of the engine's runtime state.
	Status() Status
}

// Route is one entry of the engine's route table.
type Route struct {
	Destination string `json:"destination"`
	Via         string `json:"via"`
	Metric      int    `json:"metric"`
	Interface   string `json:"interface"`
}

// Peer is another node of the mesh as seen from this one.
type Peer struct {
	Name      string        `json:"name"`
	VirtualIP string        `json:"virtual_ip"`
	NAT       string        `json:"nat,omitempty"`
	Relay     bool          `json:"relay"`
	Online    bool          `json:"online"`
	Rtt       time.Duration `json:"rtt_ns"`
}

// Status is a snapshot of the running engine.
type Status struct {
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
	VirtualIP string    `json:"virtual_ip"`
	Server    string    `json:"server"`
	NATType   string    `json:"nat_type,omitempty"`
	Up        bool      `json:"up"`
	StartedAt time.Time `json:"started_at"`
}
