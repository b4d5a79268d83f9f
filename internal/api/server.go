// Package api is the HTTP edge: the telephony webhook in, the dashboard
// read API and ticket stream out.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/firstline-ai/triage/internal/session"
	"github.com/firstline-ai/triage/internal/store"
)

// TicketStream feeds live ticket updates to websocket clients. Satisfied by
// bus.Client.
type TicketStream interface {
	SubscribeEphemeral(subject string, handler func(subject string, data []byte)) (func(), error)
}

type Server struct {
	router   *chi.Mux
	port     int
	apiToken string

	sessions *session.Registry
	tickets  store.Adapter
	stream   TicketStream
	logger   *slog.Logger

	httpSrv *http.Server
}

func NewServer(port int, apiToken string, sessions *session.Registry, tickets store.Adapter, stream TicketStream, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		apiToken: apiToken,
		sessions: sessions,
		tickets:  tickets,
		stream:   stream,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/triage/status", s.status)
	router.Post("/api/v1/telephony/webhook", s.webhook)

	router.Route("/api/v1/tickets", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/", s.listTickets)
		r.Get("/stream", s.streamTickets)
		r.Get("/{id}", s.getTicket)
		r.Post("/{id}/resolve", s.resolveTicket)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// BearerAuthMiddleware rejects requests without the configured token. An
// empty token disables auth for local development.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":         "triage",
		"active_sessions": s.sessions.ActiveCount(),
		"time":            time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
