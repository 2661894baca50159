package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pulsewatch/internal/bus"
	"pulsewatch/internal/models"
	"pulsewatch/internal/storage"
)

const dayFormat = "2006-01-02"

// Server exposes the read surface and the push-protocol adapters. All writes
// stay with the state store; these handlers only read and subscribe.
type Server struct {
	Pulses       *storage.PulseRepo
	Series       *storage.SeriesRepo
	Bus          *bus.Bus
	RecentWindow time.Duration
	Logger       zerolog.Logger
}

// GetPulses returns the current state of every monitored target.
func (s *Server) GetPulses(w http.ResponseWriter, _ *http.Request) {
	pulses, err := s.Pulses.All()
	if err != nil {
		s.Logger.Error().Err(err).Msg("load pulses")
		http.Error(w, "failed to load pulses", http.StatusInternalServerError)
		return
	}
	if pulses == nil {
		pulses = []models.Pulse{}
	}
	writeJSON(w, http.StatusOK, pulses)
}

// GetRecent returns span rows created within the requested window, bounded
// by the recent table's retention.
func (s *Server) GetRecent(w http.ResponseWriter, r *http.Request) {
	window := s.RecentWindow
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			http.Error(w, "invalid minutes", http.StatusBadRequest)
			return
		}
		window = time.Duration(minutes) * time.Minute
	}

	pulses, err := s.Pulses.Recent(window, time.Now().UTC())
	if err != nil {
		s.Logger.Error().Err(err).Msg("load recent pulses")
		http.Error(w, "failed to load recent pulses", http.StatusInternalServerError)
		return
	}
	if pulses == nil {
		pulses = []models.Pulse{}
	}
	writeJSON(w, http.StatusOK, pulses)
}

// GetHistory returns the day container for a sqid, defaulting to today.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	sqid := chi.URLParam(r, "sqid")
	day := r.URL.Query().Get("day")
	if day == "" {
		day = time.Now().UTC().Format(dayFormat)
	} else if _, err := time.Parse(dayFormat, day); err != nil {
		http.Error(w, "invalid day, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	container, exists, err := s.Series.GetDay(day, sqid)
	if err != nil {
		s.Logger.Error().Err(err).Str("sqid", sqid).Msg("load day container")
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "no history for that day", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, container)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
