package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/firstline-ai/triage/internal/store"
)

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	status := store.Status(r.URL.Query().Get("status"))
	switch status {
	case "", store.StatusOpen, store.StatusInProgress, store.StatusResolved, store.StatusDropped:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	tickets, err := s.tickets.List(r.Context(), status)
	if err != nil {
		s.logger.Error("list tickets", "error", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if tickets == nil {
		tickets = []store.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}

	t, err := s.tickets.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "ticket not found")
	case err != nil:
		s.logger.Error("get ticket", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
	default:
		writeJSON(w, http.StatusOK, t)
	}
}

// resolveTicket is the operator's manual close. It goes straight through the
// store so it works whether or not the session is still live.
func (s *Server) resolveTicket(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}

	t, err := s.tickets.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	if err != nil {
		s.logger.Error("get ticket", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if t.Status.Terminal() {
		writeError(w, http.StatusConflict, "ticket already closed")
		return
	}

	updated, err := store.Apply(r.Context(), s.tickets, store.Delta{
		SessionID: t.SessionID,
		Status:    store.StatusResolved,
	}, 3)
	if err != nil {
		s.logger.Error("resolve ticket", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "resolve failed")
		return
	}
	s.logger.Info("ticket resolved by operator", "id", id, "session_id", t.SessionID)
	writeJSON(w, http.StatusOK, updated)
}
