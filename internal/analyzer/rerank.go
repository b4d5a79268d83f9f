// Package analyzer holds the severity analyzer and summarizer implementations
// that wrap external AI collaborators. All of them treat the collaborator as
// untrusted: malformed output degrades to an error, never a crash.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firstline-ai/triage/internal/anthropic"
	"github.com/firstline-ai/triage/internal/severity"
	"github.com/firstline-ai/triage/internal/transcript"
)

type scoreVerdict struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Calming    bool    `json:"calming"`
	Rationale  string  `json:"rationale"`
}

// Rerank scores utterance windows with an LLM call. It is the primary
// severity analyzer.
type Rerank struct {
	llm    *anthropic.Client
	logger *slog.Logger
}

func NewRerank(llm *anthropic.Client, logger *slog.Logger) *Rerank {
	return &Rerank{llm: llm, logger: logger}
}

func (r *Rerank) Name() string { return "rerank" }

func (r *Rerank) Analyze(ctx context.Context, window []transcript.Utterance) (severity.Signal, error) {
	prompt := fmt.Sprintf(scoreUserPrompt, renderWindow(window))
	raw, err := r.llm.Complete(ctx, scoreSystemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, 512)
	if err != nil {
		return severity.Signal{}, fmt.Errorf("rerank completion: %w", err)
	}

	v, err := parseVerdict(raw)
	if err != nil {
		return severity.Signal{}, fmt.Errorf("rerank verdict: %w", err)
	}

	r.logger.Debug("rerank verdict",
		"score", v.Score,
		"confidence", v.Confidence,
		"calming", v.Calming,
		"rationale", v.Rationale,
	)

	return severity.Signal{
		Score:      clamp01(v.Score),
		Confidence: clamp01(v.Confidence),
		Source:     severity.SourceRerank,
		Calming:    v.Calming,
	}, nil
}

// parseVerdict tolerates code fences around the JSON; models add them even
// when told not to.
func parseVerdict(raw string) (scoreVerdict, error) {
	cleaned := stripFences(raw)
	var v scoreVerdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return scoreVerdict{}, fmt.Errorf("parse %q: %w", truncate(cleaned, 120), err)
	}
	return v, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func renderWindow(window []transcript.Utterance) string {
	var b strings.Builder
	for _, u := range window {
		fmt.Fprintf(&b, "[%d] %s: %s\n", u.Seq, u.Role, u.Text)
	}
	return b.String()
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
