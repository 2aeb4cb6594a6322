package httpapi

import (
	"net/http"

	"github.com/coder/websocket"
)

// handleEvents upgrades the request to a WebSocket and streams session
// events (state changes, turns, progress, notices) plus bridge messages
// (capture_start, play, speak) to the client until it disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ls, err := s.sessions.get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("accepting event stream", "session_id", ls.id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session stream closed")

	events, unsubscribe := ls.hub.subscribe()
	defer unsubscribe()

	ctx := r.Context()

	// Clients never send application data; the read loop only surfaces
	// disconnects and answers control frames.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-events:
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-readDone:
			return
		case <-ctx.Done():
			return
		}
	}
}
