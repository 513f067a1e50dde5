package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// handleLive handles the /healthz/live endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.health.GetLivenessStatus())
}

// handleReady handles the /healthz/ready endpoint. It answers 503 until
// every registered check passes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := s.health.GetReadinessStatus(r.Context())

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
