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

//go:build windows

package control

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Listen binds the control endpoint for the given home directory: an
// ephemeral loopback TCP port, recorded in a port file the client reads.
func Listen(home string) (net.Listener, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding control listener: %w", err)
	}

	port := l.Addr().(*net.TCPAddr).Port
	portFile := filepath.Join(home, PortFileName)
	if err := os.WriteFile(portFile, []byte(strconv.Itoa(port)), 0600); err != nil {
		l.Close()
		return nil, fmt.Errorf("writing control port file: %w", err)
	}
	return l, nil
}

// transportFor returns an HTTP transport dialing the loopback port recorded
// in the home's port file.
func transportFor(home string) http.RoundTripper {
	portFile := filepath.Join(home, PortFileName)
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			data, err := os.ReadFile(portFile)
			if err != nil {
				return nil, fmt.Errorf("control endpoint not found: %w", err)
			}
			port, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				return nil, fmt.Errorf("malformed control port file: %w", err)
			}
			var d net.Dialer
			return d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		},
	}
}
