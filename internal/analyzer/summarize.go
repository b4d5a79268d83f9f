package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firstline-ai/triage/internal/anthropic"
	"github.com/firstline-ai/triage/internal/transcript"
)

// Summary is the incident-record content produced from a transcript window.
// Fields mirror what responders see on the ticket.
type Summary struct {
	Text               string   `json:"summary"`
	TicketType         string   `json:"ticket_type"`
	Location           string   `json:"location"`
	LifeThreatening    bool     `json:"life_threatening"`
	ServicesNeeded     []string `json:"services_needed"`
	AffectedPeople     int      `json:"affected_people"`
	SuspectDescription string   `json:"suspect_description"`
}

// Summarizer produces ticket summaries and classification from utterance
// windows.
type Summarizer struct {
	llm    *anthropic.Client
	logger *slog.Logger
}

func NewSummarizer(llm *anthropic.Client, logger *slog.Logger) *Summarizer {
	return &Summarizer{llm: llm, logger: logger}
}

func (s *Summarizer) Summarize(ctx context.Context, window []transcript.Utterance) (*Summary, error) {
	prompt := fmt.Sprintf(summaryUserPrompt, renderWindow(window))
	raw, err := s.llm.Complete(ctx, summarySystemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, 1024)
	if err != nil {
		return nil, fmt.Errorf("summary completion: %w", err)
	}

	var sum Summary
	if err := json.Unmarshal([]byte(stripFences(raw)), &sum); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}

	switch sum.TicketType {
	case "medical", "fire", "crime":
	default:
		sum.TicketType = "unknown"
	}
	if sum.AffectedPeople < 0 {
		sum.AffectedPeople = 0
	}

	s.logger.Debug("summary produced",
		"ticket_type", sum.TicketType,
		"life_threatening", sum.LifeThreatening,
		"location", sum.Location,
	)
	return &sum, nil
}
