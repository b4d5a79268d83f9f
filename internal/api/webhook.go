package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/firstline-ai/triage/internal/session"
	"github.com/firstline-ai/triage/internal/transcript"
)

// WebhookEvent is the telephony channel's delivery envelope. The channel
// retries until it sees a 2xx, so handlers ack first and process after.
type WebhookEvent struct {
	Event     string               `json:"event"` // call-started, transcript-fragment, call-ended
	SessionID string               `json:"session_id"`
	ChannelID string               `json:"channel_id,omitempty"`
	Fragment  *transcript.Fragment `json:"fragment,omitempty"`
	Reason    string               `json:"reason,omitempty"` // hangup, network-drop, agent-ended
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	var ev WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if ev.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}

	switch ev.Event {
	case "call-started":
		s.sessions.CallStarted(ev.SessionID, ev.ChannelID)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})

	case "transcript-fragment":
		if ev.Fragment == nil {
			writeError(w, http.StatusBadRequest, "fragment required")
			return
		}
		err := s.sessions.Fragment(ev.SessionID, *ev.Fragment)
		s.ackRouted(w, ev, err)

	case "call-ended":
		reason := session.EndReason(ev.Reason)
		switch reason {
		case session.EndHangup, session.EndNetworkDrop, session.EndAgentEnded:
		default:
			writeError(w, http.StatusBadRequest, "unknown reason")
			return
		}
		err := s.sessions.CallEnded(ev.SessionID, reason)
		s.ackRouted(w, ev, err)

	default:
		writeError(w, http.StatusBadRequest, "unknown event")
	}
}

// ackRouted acks an event that targeted an existing session. Events for
// unknown sessions are acked and discarded: a 4xx would only make the channel
// redeliver something that can never be routed.
func (s *Server) ackRouted(w http.ResponseWriter, ev WebhookEvent, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		s.logger.Warn("event for unknown session discarded",
			"event", ev.Event,
			"session_id", ev.SessionID,
		)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "discarded"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
