// Package api provides the local HTTP status surface for ClipScape: node
// status, connected peers, sync history, and Prometheus metrics. It binds to
// loopback by default and carries no clipboard payloads.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipscape-network/clipscape/internal/domain"
)

// PeerDirectory exposes the live peer registry. *network.Coordinator
// satisfies it.
type PeerDirectory interface {
	Peers() []domain.PeerIdentity
	PeerCount() int
}

// HistoryStore reads persisted sync activity. *sqlite.DB satisfies it; nil
// disables the history and device routes.
type HistoryStore interface {
	History(limit int) ([]domain.HistoryEntry, error)
	Devices() ([]domain.DeviceInfo, error)
}

// NodeInfo identifies this node in status responses.
type NodeInfo struct {
	DeviceID   string
	DeviceName string
	Version    string
	StartedAt  time.Time
}

// Server is the ClipScape HTTP API server.
type Server struct {
	node           NodeInfo
	peers          PeerDirectory
	history        HistoryStore
	metricsEnabled bool
}

// NewServer creates an API server. history may be nil.
func NewServer(node NodeInfo, peers PeerDirectory, history HistoryStore) *Server {
	return &Server{node: node, peers: peers, history: history}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/peers", s.handlePeers)
		if s.history != nil {
			r.Get("/history", s.handleHistory)
			r.Get("/devices", s.handleDevices)
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":      s.node.DeviceID,
		"deviceName":    s.node.DeviceName,
		"version":       s.node.Version,
		"uptimeSeconds": int(time.Since(s.node.StartedAt).Seconds()),
		"peerCount":     s.peers.PeerCount(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := s.peers.Peers()
	if peers == nil {
		peers = []domain.PeerIdentity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(peers),
		"peers": peers,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}

	entries, err := s.history.History(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"history": entries,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.history.Devices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if devices == nil {
		devices = []domain.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(devices),
		"devices": devices,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
