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
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routemesh/routemesh/internal/engine"
)

// Server serves the control API for one running engine instance.
type Server struct {
	handle  engine.Handle
	log     *slog.Logger
	version string
	started time.Time

	httpSrv  *http.Server
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// NewServer builds a control server over the given engine handle.
func NewServer(handle engine.Handle, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		handle:   handle,
		log:      logger,
		version:  version,
		started:  time.Now(),
		registry: prometheus.NewRegistry(),
	}

	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routemesh_control_requests_total",
		Help: "Control API requests served, by path.",
	}, []string{"path"})
	s.registry.MustRegister(s.requests)
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "routemesh_engine_uptime_seconds",
		Help: "Seconds since the engine came up.",
	}, func() float64 {
		return time.Since(s.handle.Status().StartedAt).Seconds()
	}))
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "routemesh_peers_online",
		Help: "Peers currently reachable.",
	}, func() float64 {
		return float64(len(s.handle.Peers(false)))
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.count(s.handleHealth))
	mux.HandleFunc("GET /v1/status", s.count(s.handleStatus))
	mux.HandleFunc("GET /v1/routes", s.count(s.handleRoutes))
	mux.HandleFunc("GET /v1/peers", s.count(s.handlePeers))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve accepts connections on l until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("control channel listening", slog.String("addr", l.Addr().String()))
	return s.httpSrv.Serve(l)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) count(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.requests.WithLabelValues(r.URL.Path).Inc()
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.handle.Status().Up {
		status = "stopping"
	}
	writeJSON(w, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Version:   s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.handle.Status())
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.handle.Routes())
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	writeJSON(w, s.handle.Peers(all))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
