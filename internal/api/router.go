package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/pulses", s.GetPulses)
		r.Get("/pulses/recent", s.GetRecent)
		r.Get("/history/{sqid}", s.GetHistory)
		r.Get("/events", s.StreamEvents)
	})
	r.Get("/ws", s.ServeWS)

	return r
}
