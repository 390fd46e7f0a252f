// Package dashboard implements a minimal read-only HTTP surface over the
// Store: JSON endpoints for recent/unacknowledged alerts, an
// acknowledge action, and the Prometheus /metrics handler. This stays
// intentionally thin -- the web.* config keys need a real consumer, but
// a rich dashboard UI is out of scope.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/events"
)

const defaultRecentLimit = 100

// AlertStore is the subset of *store.Store the dashboard reads from.
type AlertStore interface {
	RecentAlerts(limit int) ([]events.Alert, error)
	UnacknowledgedAlerts() ([]events.Alert, error)
	Acknowledge(id string) error
}

// Server wraps an http.Server exposing the dashboard's routes.
type Server struct {
	store AlertStore
	log   *logrus.Logger
	http  *http.Server
}

// New builds a Server listening on addr (host:port from web.host/web.port).
// /metrics serves the default Prometheus gatherer, which is what
// internal/metrics.New registers against in production.
func New(addr string, store AlertStore, log *logrus.Logger) *Server {
	s := &Server{store: store, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/alerts/recent", s.handleRecentAlerts)
	mux.HandleFunc("/api/alerts/unacknowledged", s.handleUnacknowledgedAlerts)
	mux.HandleFunc("/api/alerts/acknowledge", s.handleAcknowledge)
	mux.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down. It
// returns nil on a clean Shutdown, matching http.Server's own contract.
func (s *Server) ListenAndServe() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within the given deadline.
func (s *Server) Shutdown(deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, ok := parsePositiveInt(v); ok {
			limit = n
		}
	}
	alerts, err := s.store.RecentAlerts(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, alerts)
}

func (s *Server) handleUnacknowledgedAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	alerts, err := s.store.UnacknowledgedAlerts()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, alerts)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id parameter", http.StatusBadRequest)
		return
	}
	if err := s.store.Acknowledge(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if s.log != nil {
		s.log.WithError(err).Warn("dashboard: request failed")
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parsePositiveInt(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, n > 0
}
