package server

import (
	"DeepReplay/internal/coordinator"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrNotReady), errors.Is(err, coordinator.ErrChannelClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, coordinator.ErrVenueNotLoaded):
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.HealthChecker != nil {
		s.deps.HealthChecker.LivenessHandler(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.HealthChecker != nil {
		s.deps.HealthChecker.ReadinessHandler(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStartupCheck(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	report, err := s.deps.Coordinator.StartupCheck()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleVenues(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	venues, err := s.deps.Coordinator.Venues(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"venues": venues})
}

func (s *Server) handleReserves(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	reserves, err := s.deps.Coordinator.Reserves(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reserves": reserves})
}

// handleBook serves the global book of one venue. ?depth=n limits each side
// to its best n levels.
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if s.deps.Books == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "books not materialized"})
		return
	}
	venue := params["venue"]
	book, ok := s.deps.Books.GlobalBook(venue)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown venue " + venue})
		return
	}

	snap := book.Snapshot()
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "depth must be a non-negative integer"})
			return
		}
		snap.Bids, snap.Asks = book.Depth(n)
	}
	writeJSON(w, http.StatusOK, snap)
}
