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
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/routemesh/routemesh/internal/config"
)

const (
	registerTimeout   = 5 * time.Second
	keepaliveInterval = 15 * time.Second
	peerStaleAfter    = 3 * keepaliveInterval
)

// Core is the control-plane engine: it registers this node with the
// coordination server, keeps the session alive, and maintains the peer and
// route tables served over the control channel. The data plane sits behind
// the coordination server's relay until a driver-backed build replaces it.
type Core struct {
	Log *slog.Logger
}

// NewCore returns the default engine implementation.
func NewCore(logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{Log: logger}
}

// controlMessage is the JSON control datagram exchanged with the server.
type controlMessage struct {
	Type      string     `json:"type"`
	Token     string     `json:"token,omitempty"`
	DeviceID  string     `json:"device_id,omitempty"`
	Name      string     `json:"name,omitempty"`
	VirtualIP string     `json:"virtual_ip,omitempty"`
	NATType   string     `json:"nat_type,omitempty"`
	Peers     []peerInfo `json:"peers,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type peerInfo struct {
	Name      string `json:"name"`
	VirtualIP string `json:"virtual_ip"`
	NAT       string `json:"nat,omitempty"`
	Relay     bool   `json:"relay"`
	Online    bool   `json:"online"`
	RttMillis int64  `json:"rtt_ms"`
}

// Start registers with the server and launches the keepalive loop. It
// returns once the server has acknowledged the registration.
func (e *Core) Start(ctx context.Context, cfg config.StartConfig) (Handle, error) {
	raddr, err := net.ResolveUDPAddr("udp", cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving server %s: %v", ErrEngineStart, cfg.Server, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineStart, err)
	}

	h := &coreHandle{
		log:    e.Log,
		conn:   conn,
		done:   make(chan struct{}),
		status: Status{DeviceID: cfg.DeviceID, Name: cfg.Name, Server: cfg.Server, StartedAt: time.Now()},
	}

	ack, err := h.register(ctx, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	h.mu.Lock()
	h.status.VirtualIP = ack.VirtualIP
	h.status.NATType = ack.NATType
	h.status.Up = true
	h.applyPeersLocked(ack.Peers)
	h.routes = buildRoutes(cfg, ack)
	h.mu.Unlock()

	h.wg.Add(2)
	go h.keepaliveLoop(cfg)
	go h.readLoop()

	e.Log.Info("engine up",
		slog.String("server", cfg.Server),
		slog.String("virtual_ip", ack.VirtualIP),
		slog.String("device_id", cfg.DeviceID))
	return h, nil
}

type coreHandle struct {
	log  *slog.Logger
	conn *net.UDPConn

	mu     sync.Mutex
	status Status
	peers  map[string]Peer
	routes []Route

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
	errMu    sync.Mutex
	termErr  error
}

// register performs the registration handshake, honoring ctx cancellation.
func (h *coreHandle) register(ctx context.Context, cfg config.StartConfig) (controlMessage, error) {
	req := controlMessage{
		Type:     "register",
		Token:    cfg.Token,
		DeviceID: cfg.DeviceID,
		Name:     cfg.Name,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return controlMessage{}, fmt.Errorf("%w: %v", ErrEngineStart, err)
	}
	if _, err := h.conn.Write(payload); err != nil {
		return controlMessage{}, fmt.Errorf("%w: %v", ErrEngineStart, err)
	}

	deadline := time.Now().Add(registerTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := h.conn.SetReadDeadline(deadline); err != nil {
		return controlMessage{}, fmt.Errorf("%w: %v", ErrEngineStart, err)
	}

	buf := make([]byte, 64*1024)
	n, err := h.conn.Read(buf)
	if err != nil {
		return controlMessage{}, fmt.Errorf("%w: no answer from %s: %v", ErrEngineStart, cfg.Server, err)
	}
	_ = h.conn.SetReadDeadline(time.Time{})

	var ack controlMessage
	if err := json.Unmarshal(buf[:n], &ack); err != nil {
		return controlMessage{}, fmt.Errorf("%w: malformed answer from %s: %v", ErrEngineStart, cfg.Server, err)
	}
	if ack.Type != "registered" {
		if ack.Error != "" {
			return controlMessage{}, fmt.Errorf("%w: server refused registration: %s", ErrEngineStart, ack.Error)
		}
		return controlMessage{}, fmt.Errorf("%w: unexpected answer %q from %s", ErrEngineStart, ack.Type, cfg.Server)
	}
	return ack, nil
}

func (h *coreHandle) keepaliveLoop(cfg config.StartConfig) {
	defer h.wg.Done()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	ping := controlMessage{Type: "ping", DeviceID: cfg.DeviceID, Token: cfg.Token}
	payload, _ := json.Marshal(ping)

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if !h.keepaliveTick(payload) {
				return
			}
		}
	}
}

// keepaliveTick sends one ping. A write failure is terminal unless Stop
// already closed the socket; the ticker case can win the select against an
// already-closed done channel.
func (h *coreHandle) keepaliveTick(payload []byte) bool {
	if _, err := h.conn.Write(payload); err != nil {
		select {
		case <-h.done:
			// Closed by Stop; a clean shutdown, not a failure.
		default:
			h.fail(fmt.Errorf("keepalive write: %w", err))
		}
		return false
	}
	return true
}

func (h *coreHandle) readLoop() {
	defer h.wg.Done()

	buf := make([]byte, 64*1024)
	for {
		n, err := h.conn.Read(buf)
		if err != nil {
			select {
			case <-h.done:
				return // closed by Stop
			default:
			}
			h.fail(fmt.Errorf("control channel read: %w", err))
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			h.log.Debug("discarding malformed control datagram", slog.Any("error", err))
			continue
		}
		if msg.Type == "peers" || msg.Type == "pong" {
			h.mu.Lock()
			h.applyPeersLocked(msg.Peers)
			h.mu.Unlock()
		}
	}
}

func (h *coreHandle) applyPeersLocked(infos []peerInfo) {
	if h.peers == nil {
		h.peers = make(map[string]Peer)
	}
	for _, p := range infos {
		h.peers[p.VirtualIP] = Peer{
			Name:      p.Name,
			VirtualIP: p.VirtualIP,
			NAT:       p.NAT,
			Relay:     p.Relay,
			Online:    p.Online,
			Rtt:       time.Duration(p.RttMillis) * time.Millisecond,
		}
	}
}

// fail records the terminal error and tears the handle down.
func (h *coreHandle) fail(err error) {
	h.errMu.Lock()
	if h.termErr == nil {
		h.termErr = err
	}
	h.errMu.Unlock()
	h.shutdown()
}

func (h *coreHandle) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.conn.Close()
		h.mu.Lock()
		h.status.Up = false
		h.mu.Unlock()
	})
}

// Wait blocks until the engine terminates.
func (h *coreHandle) Wait() error {
	<-h.done
	h.wg.Wait()
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.termErr
}

// Stop shuts the engine down. Idempotent.
func (h *coreHandle) Stop(ctx context.Context) error {
	h.shutdown()

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *coreHandle) Routes() []Route {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Route, len(h.routes))
	copy(out, h.routes)
	return out
}

func (h *coreHandle) Peers(all bool) []Peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		if !all && !p.Online {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (h *coreHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// buildRoutes seeds the route table from the registration answer and the
// configured allow ranges.
func buildRoutes(cfg config.StartConfig, ack controlMessage) []Route {
	iface := string(cfg.Device) + "0"
	routes := make([]Route, 0, len(cfg.InIPs)+len(ack.Peers))
	for _, cidr := range cfg.InIPs {
		routes = append(routes, Route{Destination: cidr, Via: ack.VirtualIP, Metric: 1, Interface: iface})
	}
	for _, p := range ack.Peers {
		metric := 1
		if p.Relay {
			metric = 10
		}
		routes = append(routes, Route{Destination: p.VirtualIP + "/32", Via: p.VirtualIP, Metric: metric, Interface: iface})
	}
	return routes
}
