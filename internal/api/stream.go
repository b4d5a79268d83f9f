package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firstline-ai/triage/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboard origins vary per deployment; auth is the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// streamTickets relays ticket updates from the bus to one websocket client.
// Each connection gets its own ephemeral subscription; a slow client is
// disconnected rather than allowed to back up the bus handler.
func (s *Server) streamTickets(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "stream not available")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	out := make(chan []byte, 32)
	unsubscribe, err := s.stream.SubscribeEphemeral(bus.SubjectTicketUpdated, func(_ string, data []byte) {
		select {
		case out <- data:
		default:
			// Buffer full: drop for this client, subscribers dedup by version.
		}
	})
	if err != nil {
		s.logger.Error("stream subscribe", "error", err)
		conn.Close()
		return
	}

	s.logger.Info("stream client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		// Drain the read side to notice disconnects.
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		conn.Close()
		s.logger.Info("stream client disconnected", "remote", r.RemoteAddr)
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
