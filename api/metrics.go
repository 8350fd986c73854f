// Package api exposes the simulator's Prometheus metrics and status over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/HieraChain-NetSim/netsim/network"
)

// StatusSource is the read-only view of a running network.
type StatusSource interface {
	State() network.State
	Stats() []network.BroadcasterStats
	QueueDepths() map[string]int
}

// Status is the body of the /stats endpoint.
type Status struct {
	State       string                     `json:"state"`
	QueueDepths map[string]int             `json:"queue_depths"`
	Categories  []network.BroadcasterStats `json:"categories"`
}

// MetricsServer runs an HTTP server exposing /metrics, /health and /stats.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address.
// src may be nil, in which case /stats is not served and /health always
// reports OK.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, src StatusSource) *MetricsServer {
	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(gatherer, src),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewHandler builds the server's routes.
func NewHandler(gatherer prometheus.Gatherer, src StatusSource) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if src != nil && src.State() == network.StateStopped {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(src.State().String()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if src != nil {
		mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			status := Status{
				State:       src.State().String(),
				QueueDepths: src.QueueDepths(),
				Categories:  src.Stats(),
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(status)
		})
	}
	return mux
}

// Serve serves on an existing listener (blocking). It returns nil after Stop.
func (s *MetricsServer) Serve(l net.Listener) error {
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
