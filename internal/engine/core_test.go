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

package engine

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routemesh/routemesh/internal/config"
)

// fakeServer answers registration datagrams like the coordination server.
type fakeServer struct {
	t    *testing.T
	conn *net.UDPConn
	ack  controlMessage
}

func newFakeServer(t *testing.T, ack controlMessage) *fakeServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	s := &fakeServer{t: t, conn: conn, ack: ack}
	go s.serve()
	return s
}

func (s *fakeServer) addr() string {
	return s.conn.LocalAddr().String()
}

func (s *fakeServer) serve() {
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var msg controlMessage
		if json.Unmarshal(buf[:n], &msg) != nil {
			continue
		}
		if msg.Type == "register" {
			payload, _ := json.Marshal(s.ack)
			s.conn.WriteToUDP(payload, raddr)
		}
	}
}

func testConfig(server string) config.StartConfig {
	return config.StartConfig{
		Device:   config.DeviceTUN,
		Token:    "mesh-token",
		DeviceID: "dev-1",
		Name:     "node-a",
		Server:   server,
		InIPs:    []string{"10.10.0.0/24"},
	}
}

func TestCoreStart(t *testing.T) {
	srv := newFakeServer(t, controlMessage{
		Type:      "registered",
		VirtualIP: "100.64.0.2",
		NATType:   "cone",
		Peers: []peerInfo{
			{Name: "node-b", VirtualIP: "100.64.0.3", Online: true, RttMillis: 12},
			{Name: "node-c", VirtualIP: "100.64.0.4", Relay: true, Online: false},
		},
	})

	h, err := NewCore(nil).Start(context.Background(), testConfig(srv.addr()))
	require.NoError(t, err)
	defer h.Stop(context.Background())

	status := h.Status()
	assert.True(t, status.Up)
	assert.Equal(t, "100.64.0.2", status.VirtualIP)
	assert.Equal(t, "cone", status.NATType)
	assert.Equal(t, "dev-1", status.DeviceID)

	assert.Len(t, h.Peers(true), 2)
	assert.Len(t, h.Peers(false), 1, "offline peers filtered unless all requested")

	routes := h.Routes()
	require.NotEmpty(t, routes)
	assert.Equal(t, "10.10.0.0/24", routes[0].Destination)
	assert.Equal(t, "tun0", routes[0].Interface)
}

func TestCoreStart_ServerRefuses(t *testing.T) {
	srv := newFakeServer(t, controlMessage{Type: "error", Error: "bad token"})

	_, err := NewCore(nil).Start(context.Background(), testConfig(srv.addr()))
	require.ErrorIs(t, err, ErrEngineStart)
	assert.Contains(t, err.Error(), "bad token")
}

func TestCoreStart_NoAnswer(t *testing.T) {
	// A bound but silent socket: registration must time out via the context.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = NewCore(nil).Start(ctx, testConfig(conn.LocalAddr().String()))
	require.ErrorIs(t, err, ErrEngineStart)
}

func dialHandle(t *testing.T) *coreHandle {
	t.Helper()
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	conn, err := net.DialUDP("udp", nil, peer.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	return &coreHandle{conn: conn, done: make(chan struct{})}
}

func TestKeepaliveWriteAfterStopIsClean(t *testing.T) {
	h := dialHandle(t)
	h.shutdown()

	// The ticker case can fire against the closed socket after Stop; the
	// failed write must not be recorded as a terminal error.
	assert.False(t, h.keepaliveTick([]byte(`{"type":"ping"}`)))
	require.NoError(t, h.Wait(), "stop-induced write failure is not a failure")
}

func TestKeepaliveWriteFailureIsTerminal(t *testing.T) {
	h := dialHandle(t)
	h.conn.Close()

	assert.False(t, h.keepaliveTick([]byte(`{"type":"ping"}`)))
	err := h.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keepalive write")
}

func TestCoreStopIdempotent(t *testing.T) {
	srv := newFakeServer(t, controlMessage{Type: "registered", VirtualIP: "100.64.0.2"})

	h, err := NewCore(nil).Start(context.Background(), testConfig(srv.addr()))
	require.NoError(t, err)

	require.NoError(t, h.Stop(context.Background()))
	require.NoError(t, h.Stop(context.Background()), "second stop is a no-op")
	require.NoError(t, h.Wait(), "clean stop leaves no terminal error")

	assert.False(t, h.Status().Up)
}
