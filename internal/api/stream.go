package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StreamEvents is the SSE adapter: it replays a bootstrap snapshot from the
// recent table, then forwards live bus events until the client disconnects.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Snapshot before subscribing: the bus keeps no replay buffer.
	recent, err := s.Pulses.Recent(s.RecentWindow, time.Now().UTC())
	if err != nil {
		s.Logger.Error().Err(err).Msg("sse bootstrap")
		http.Error(w, "failed to load recent pulses", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := s.Bus.Listen()
	defer unsubscribe()

	for _, p := range recent {
		if err := writeSSE(w, "snapshot", p); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, "pulse", ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
