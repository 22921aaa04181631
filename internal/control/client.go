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

package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/routemesh/routemesh/internal/engine"
)

// Client queries a running engine instance over its control channel.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// FromHome creates a client for the engine owning the given home directory.
func FromHome(home string) *Client {
	return &Client{
		httpClient: &http.Client{Transport: transportFor(home)},
		baseURL:    "http://routemesh", // host is ignored by the transport
	}
}

// NotRunningError indicates no engine answers on the control channel.
type NotRunningError struct {
	Err error
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("engine is not running: %v", e.Err)
}

func (e *NotRunningError) Unwrap() error {
	return e.Err
}

// IsNotRunning checks whether err means no engine is answering.
func IsNotRunning(err error) bool {
	var nr *NotRunningError
	if errors.As(err, &nr) {
		return true
	}
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such file or directory") ||
		strings.Contains(msg, "control endpoint not found")
}

// Health returns the control channel's health report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get(ctx, "/v1/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the engine status snapshot.
func (c *Client) Status(ctx context.Context) (*engine.Status, error) {
	var out engine.Status
	if err := c.get(ctx, "/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Routes returns the engine route table.
func (c *Client) Routes(ctx context.Context) ([]engine.Route, error) {
	var out []engine.Route
	if err := c.get(ctx, "/v1/routes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Peers returns the engine's peer list; all includes offline peers.
func (c *Client) Peers(ctx context.Context, all bool) ([]engine.Peer, error) {
	path := "/v1/peers"
	if all {
		path += "?all=true"
	}
	var out []engine.Peer
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotRunningError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("control channel returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
