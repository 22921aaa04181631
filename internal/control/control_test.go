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

package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routemesh/routemesh/internal/config"
	"github.com/routemesh/routemesh/internal/engine"
	"github.com/routemesh/routemesh/internal/engine/enginetest"
)

func startServer(t *testing.T, handle engine.Handle) string {
	t.Helper()

	home := t.TempDir()
	l, err := Listen(home)
	require.NoError(t, err)

	srv := NewServer(handle, nil, "test")
	go srv.Serve(l)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return home
}

func TestClientRoundTrip(t *testing.T) {
	handle := enginetest.NewFakeHandle(config.StartConfig{
		DeviceID: "dev-1",
		Name:     "node-a",
		Server:   "broker.example.com:3478",
	})
	handle.RouteTable = []engine.Route{
		{Destination: "10.1.0.0/24", Via: "10.1.0.1", Metric: 1, Interface: "tun0"},
	}
	handle.PeerTable = []engine.Peer{
		{Name: "node-b", VirtualIP: "10.1.0.2", Online: true},
		{Name: "node-c", VirtualIP: "10.1.0.3", Online: false},
	}

	home := startServer(t, handle)
	client := FromHome(home)
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", status.DeviceID)
	assert.True(t, status.Up)

	routes, err := client.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "10.1.0.0/24", routes[0].Destination)

	online, err := client.Peers(ctx, false)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "node-b", online[0].Name)

	all, err := client.Peers(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestClientNotRunning(t *testing.T) {
	// Home with no live socket.
	client := FromHome(t.TempDir())

	_, err := client.Health(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
}

func TestListenReplacesStaleSocket(t *testing.T) {
	home := t.TempDir()

	l, err := Listen(home)
	require.NoError(t, err)
	l.Close()

	// The socket file survives Close; a fresh Listen must reclaim it.
	l2, err := Listen(home)
	require.NoError(t, err)
	l2.Close()
}
