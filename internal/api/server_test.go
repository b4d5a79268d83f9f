package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/firstline-ai/triage/internal/session"
	"github.com/firstline-ai/triage/internal/store"
)

func testServer(t *testing.T, apiToken string) (*Server, *store.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemory()
	reg := session.NewRegistry(nil, mem, nil, session.Options{
		Tunables: session.Tunables{
			EscalateThreshold: 0.7,
			CorroborationMin:  2,
			DampingStep:       0.15,
			ChannelDropScore:  0.8,
		},
		WindowSize:   8,
		InboxSize:    16,
		PendingMax:   8,
		WriteRetries: 3,
		RetryBackoff: 10 * time.Millisecond,
		GapTimeout:   time.Second,
		IdleTimeout:  time.Hour,
		GracePeriod:  time.Hour,
	}, logger)
	t.Cleanup(reg.Shutdown)
	return NewServer(8760, apiToken, reg, mem, nil, logger), mem
}

func seedTicket(t *testing.T, mem *store.Memory, sessionID string, status store.Status, importance int) store.Ticket {
	t.Helper()
	tk, err := store.Apply(context.Background(), mem, store.Delta{
		SessionID:  sessionID,
		Importance: importance,
		Status:     store.StatusOpen,
		Summary:    "seeded",
	}, 1)
	if err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	if status != store.StatusOpen {
		tk, err = store.Apply(context.Background(), mem, store.Delta{SessionID: sessionID, Status: status}, 1)
		if err != nil {
			t.Fatalf("seed status: %v", err)
		}
	}
	return tk
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest("GET", "/api/v1/triage/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["service"] != "triage" {
		t.Errorf("expected service triage, got %q", body["service"])
	}
}

func TestWebhookCallStarted(t *testing.T) {
	srv, _ := testServer(t, "")

	payload := `{"event":"call-started","session_id":"sess-1","channel_id":"chan-1"}`
	req := httptest.NewRequest("POST", "/api/v1/telephony/webhook", strings.NewReader(payload))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if srv.sessions.ActiveCount() != 1 {
		t.Errorf("active sessions = %d, want 1", srv.sessions.ActiveCount())
	}
}

func TestWebhookUnknownSessionAckedAndDiscarded(t *testing.T) {
	srv, _ := testServer(t, "")

	payload := `{"event":"transcript-fragment","session_id":"ghost","fragment":{"seq":1,"text":"hi","role":"caller","final":true}}`
	req := httptest.NewRequest("POST", "/api/v1/telephony/webhook", strings.NewReader(payload))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 so the channel stops retrying, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "discarded" {
		t.Errorf("status = %q, want discarded", body["status"])
	}
}

func TestWebhookRejectsMalformed(t *testing.T) {
	srv, _ := testServer(t, "")

	cases := []struct {
		name    string
		payload string
	}{
		{"bad json", `{`},
		{"missing session", `{"event":"call-started"}`},
		{"unknown event", `{"event":"call-paused","session_id":"s"}`},
		{"fragment without body", `{"event":"transcript-fragment","session_id":"s"}`},
		{"unknown end reason", `{"event":"call-ended","session_id":"s","reason":"vanished"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/telephony/webhook", strings.NewReader(tc.payload))
			w := httptest.NewRecorder()
			srv.router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestListTickets(t *testing.T) {
	srv, mem := testServer(t, "")
	seedTicket(t, mem, "sess-a", store.StatusOpen, 5)
	seedTicket(t, mem, "sess-b", store.StatusResolved, 3)

	req := httptest.NewRequest("GET", "/api/v1/tickets?status=open", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Tickets []store.Ticket `json:"tickets"`
		Count   int            `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Tickets[0].SessionID != "sess-a" {
		t.Errorf("got %+v, want only sess-a", body.Tickets)
	}
}

func TestListTicketsRejectsUnknownStatus(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest("GET", "/api/v1/tickets?status=sideways", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetTicket(t *testing.T) {
	srv, mem := testServer(t, "")
	tk := seedTicket(t, mem, "sess-a", store.StatusOpen, 4)

	req := httptest.NewRequest("GET", "/api/v1/tickets/"+tk.ID.String(), nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got store.Ticket
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != tk.ID || got.Importance != 4 {
		t.Errorf("got %+v", got)
	}
}

func TestGetTicketNotFound(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest("GET", "/api/v1/tickets/0e8dd915-0983-44b5-8a3c-d758c0ae12f5", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestResolveTicket(t *testing.T) {
	srv, mem := testServer(t, "")
	tk := seedTicket(t, mem, "sess-a", store.StatusOpen, 5)

	req := httptest.NewRequest("POST", "/api/v1/tickets/"+tk.ID.String()+"/resolve", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got, err := mem.Get(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.StatusResolved {
		t.Errorf("status = %s, want %s", got.Status, store.StatusResolved)
	}
	if got.Importance != 5 {
		t.Errorf("importance = %d, resolve must not change rank", got.Importance)
	}
}

func TestResolveClosedTicketConflicts(t *testing.T) {
	srv, mem := testServer(t, "")
	tk := seedTicket(t, mem, "sess-a", store.StatusResolved, 3)

	req := httptest.NewRequest("POST", "/api/v1/tickets/"+tk.ID.String()+"/resolve", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, _ := testServer(t, "sekrit")

	req := httptest.NewRequest("GET", "/api/v1/tickets", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/tickets", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}

	// Webhook and health stay open: the channel cannot send bearer tokens.
	req = httptest.NewRequest("GET", "/health", nil)
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health should not require auth, got %d", w.Code)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv, _ := testServer(t, "")

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
