package server

import (
	"net/http"
	"time"
)

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, "application/json", HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.isReady() {
		s.respondJSON(w, http.StatusServiceUnavailable, "application/json", HealthResponse{
			Status:    "not_ready",
			Version:   s.version,
			Timestamp: time.Now().UTC(),
			Reason:    "service is initializing or shutting down",
		})
		return
	}

	s.respondJSON(w, http.StatusOK, "application/json", HealthResponse{
		Status:    "ready",
		Version:   s.version,
		Timestamp: time.Now().UTC(),
	})
}
