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

// Package control is the runtime query channel between the CLI and a running
// engine: a small HTTP API served from the engine's process, scoped to the
// home directory. The query-only commands (status, list, route) are its only
// consumers.
package control

// SocketFileName is the control endpoint under the home directory on
// platforms with unix sockets; PortFileName holds the loopback TCP port
// elsewhere.
const (
	SocketFileName = "control.sock"
	PortFileName   = "control.port"
)

// HealthResponse is the response from /v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime,omitempty"`
	Version   string `json:"version,omitempty"`
}
