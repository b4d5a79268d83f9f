package analyzer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/firstline-ai/triage/internal/anthropic"
	"github.com/firstline-ai/triage/internal/severity"
	"github.com/firstline-ai/triage/internal/tavily"
	"github.com/firstline-ai/triage/internal/transcript"
)

func llmServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]string{{"type": "text", "text": reply}},
			"stop_reason": "end_turn",
		})
	}))
}

func testWindow() []transcript.Utterance {
	return []transcript.Utterance{
		{SessionID: "s1", Seq: 1, Role: transcript.RoleCaller, Text: "help"},
		{SessionID: "s1", Seq: 2, Role: transcript.RoleAgent, Text: "what is your emergency?"},
		{SessionID: "s1", Seq: 3, Role: transcript.RoleCaller, Text: "I can't breathe"},
	}
}

func TestRerank_Analyze(t *testing.T) {
	server := llmServer(t, `{"score": 0.9, "confidence": 0.85, "calming": false, "rationale": "breathing emergency"}`)
	defer server.Close()

	llm := anthropic.NewClient("key", "model")
	llm.SetBaseURL(server.URL)

	sig, err := NewRerank(llm, slog.Default()).Analyze(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Score != 0.9 || sig.Confidence != 0.85 {
		t.Errorf("unexpected signal %+v", sig)
	}
	if sig.Source != severity.SourceRerank {
		t.Errorf("expected rerank source, got %s", sig.Source)
	}
}

func TestRerank_FencedJSON(t *testing.T) {
	server := llmServer(t, "```json\n{\"score\": 0.4, \"confidence\": 0.6, \"calming\": true, \"rationale\": \"caller following instructions\"}\n```")
	defer server.Close()

	llm := anthropic.NewClient("key", "model")
	llm.SetBaseURL(server.URL)

	sig, err := NewRerank(llm, slog.Default()).Analyze(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sig.Calming {
		t.Error("expected calming signal")
	}
}

func TestRerank_ClampsOutOfRange(t *testing.T) {
	server := llmServer(t, `{"score": 7.0, "confidence": -2, "calming": false, "rationale": "bad model output"}`)
	defer server.Close()

	llm := anthropic.NewClient("key", "model")
	llm.SetBaseURL(server.URL)

	sig, err := NewRerank(llm, slog.Default()).Analyze(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Score != 1.0 || sig.Confidence != 0.0 {
		t.Errorf("expected clamped signal, got %+v", sig)
	}
}

func TestRerank_MalformedOutputIsError(t *testing.T) {
	server := llmServer(t, "The severity seems pretty high to me.")
	defer server.Close()

	llm := anthropic.NewClient("key", "model")
	llm.SetBaseURL(server.URL)

	if _, err := NewRerank(llm, slog.Default()).Analyze(context.Background(), testWindow()); err == nil {
		t.Fatal("expected error for non-JSON verdict")
	}
}

func TestSearch_AnalyzeUsesCallerTextAsQuery(t *testing.T) {
	var gotQuery string
	searchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotQuery = req.Query
		json.NewEncoder(w).Encode(map[string]any{
			"query":   req.Query,
			"results": []map[string]any{{"title": "t", "url": "u", "content": "c", "score": 0.8}},
		})
	}))
	defer searchSrv.Close()

	llmSrv := llmServer(t, `{"score": 0.8, "confidence": 0.7, "calming": false, "rationale": "corroborated"}`)
	defer llmSrv.Close()

	llm := anthropic.NewClient("key", "model")
	llm.SetBaseURL(llmSrv.URL)

	a := NewSearch(tavily.NewClient("tvly", searchSrv.URL), llm, slog.Default())
	sig, err := a.Analyze(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Source != severity.SourceSearch {
		t.Errorf("expected search source, got %s", sig.Source)
	}
	if gotQuery != "help I can't breathe" {
		t.Errorf("expected query from caller turns only, got %q", gotQuery)
	}
}

func TestSearch_SearchFailureStillScores(t *testing.T) {
	searchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer searchSrv.Close()

	llmSrv := llmServer(t, `{"score": 0.5, "confidence": 0.4, "calming": false, "rationale": "no context"}`)
	defer llmSrv.Close()

	llm := anthropic.NewClient("key", "model")
	llm.SetBaseURL(llmSrv.URL)

	a := NewSearch(tavily.NewClient("tvly", searchSrv.URL), llm, slog.Default())
	sig, err := a.Analyze(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("expected degraded scoring, got error: %v", err)
	}
	if sig.Score != 0.5 {
		t.Errorf("unexpected signal %+v", sig)
	}
}

func TestSummarizer_Summarize(t *testing.T) {
	server := llmServer(t, `{
		"summary": "Caller reports difficulty breathing at home.",
		"ticket_type": "medical",
		"location": "12 Elm Street",
		"life_threatening": true,
		"services_needed": ["ambulance"],
		"affected_people": 1,
		"suspect_description": ""
	}`)
	defer server.Close()

	llm := anthropic.NewClient("key", "model")
	llm.SetBaseURL(server.URL)

	sum, err := NewSummarizer(llm, slog.Default()).Summarize(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.TicketType != "medical" || !sum.LifeThreatening || sum.Location != "12 Elm Street" {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestSummarizer_UnknownTypeNormalized(t *testing.T) {
	server := llmServer(t, `{"summary": "s", "ticket_type": "weather", "location": "", "life_threatening": false, "services_needed": [], "affected_people": -3, "suspect_description": ""}`)
	defer server.Close()

	llm := anthropic.NewClient("key", "model")
	llm.SetBaseURL(server.URL)

	sum, err := NewSummarizer(llm, slog.Default()).Summarize(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.TicketType != "unknown" {
		t.Errorf("expected unknown ticket type, got %q", sum.TicketType)
	}
	if sum.AffectedPeople != 0 {
		t.Errorf("expected affected people clamped to 0, got %d", sum.AffectedPeople)
	}
}
