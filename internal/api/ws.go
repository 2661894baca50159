package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// wsMessage is the wire frame sent over the socket. Kind is "snapshot" for
// the bootstrap replay and "pulse" for live events.
type wsMessage struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// ServeWS is the WebSocket adapter, mirroring the SSE contract: snapshot
// first, then live-stream.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Error().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	recent, err := s.Pulses.Recent(s.RecentWindow, time.Now().UTC())
	if err != nil {
		s.Logger.Error().Err(err).Msg("websocket bootstrap")
		return
	}

	events, unsubscribe := s.Bus.Listen()
	defer unsubscribe()

	// Reader goroutine only detects close; clients do not send data.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, p := range recent {
		if err := writeWS(conn, wsMessage{Kind: "snapshot", Payload: p}); err != nil {
			return
		}
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeWS(conn, wsMessage{Kind: "pulse", Payload: ev}); err != nil {
				return
			}
		}
	}
}

func writeWS(conn *websocket.Conn, msg wsMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
