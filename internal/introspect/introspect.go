// Package introspect exposes the sink's debug HTTP endpoint: Prometheus
// metrics, a JSON source listing, and a liveness check.
package introspect

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"ratesink/internal/registry"
)

// Snapshotter is the subset of *registry.Registry the introspect server
// needs, narrowed for testability.
type Snapshotter interface {
	Snapshot() []registry.SourceInfo
}

var _ Snapshotter = (*registry.Registry)(nil)

// Server is the debug HTTP server for one sink. It is optional: a sink
// runs identically whether or not a Server is attached.
type Server struct {
	addr     string
	registry Snapshotter
	logger   *logrus.Logger
	srv      *http.Server
}

// New builds a Server listening on addr, reporting on reg. Start has not
// been called yet.
func New(addr string, reg Snapshotter, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{addr: addr, registry: reg, logger: logger}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/sources", s.sourcesHandler).Methods("GET")
	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening in a background goroutine. Listen errors other
// than a clean Shutdown are logged, since Start itself cannot report
// them to a caller that has already moved on.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("introspect: server failed")
		}
	}()
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// to finish until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// sourcesHandler lists every registered source's DisplayId, current
// names_version, and field count.
func (s *Server) sourcesHandler(w http.ResponseWriter, r *http.Request) {
	infos := s.registry.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		s.logger.WithError(err).Error("introspect: failed to encode sources response")
	}
}

// healthHandler reports process liveness. The sink has no notion of
// "degraded" beyond a crashed drain worker, which the supervisor already
// retries on its own, so this is a bare liveness check rather than the
// multi-component health rollup of a larger service.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
