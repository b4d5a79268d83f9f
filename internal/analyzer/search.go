package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firstline-ai/triage/internal/anthropic"
	"github.com/firstline-ai/triage/internal/severity"
	"github.com/firstline-ai/triage/internal/tavily"
	"github.com/firstline-ai/triage/internal/transcript"
)

const searchMaxResults = 3

// Search enriches scoring with web context: it searches for what the caller
// is describing (ongoing incidents, locations) and scores the window with
// that context attached. A failed search degrades to a plain score rather
// than failing the analyzer.
type Search struct {
	search *tavily.Client
	llm    *anthropic.Client
	logger *slog.Logger
}

func NewSearch(search *tavily.Client, llm *anthropic.Client, logger *slog.Logger) *Search {
	return &Search{search: search, llm: llm, logger: logger}
}

func (s *Search) Name() string { return "search" }

func (s *Search) Analyze(ctx context.Context, window []transcript.Utterance) (severity.Signal, error) {
	query := searchQuery(window)

	var contextText string
	if query != "" {
		results, err := s.search.Search(ctx, query, searchMaxResults)
		if err != nil {
			s.logger.Warn("web search failed, scoring without context", "query", query, "error", err)
		} else {
			contextText = renderResults(results)
		}
	}
	if contextText == "" {
		contextText = "(no external context found)"
	}

	prompt := fmt.Sprintf(searchContextPrompt, contextText, renderWindow(window))
	raw, err := s.llm.Complete(ctx, scoreSystemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, 512)
	if err != nil {
		return severity.Signal{}, fmt.Errorf("search-context completion: %w", err)
	}

	v, err := parseVerdict(raw)
	if err != nil {
		return severity.Signal{}, fmt.Errorf("search-context verdict: %w", err)
	}

	return severity.Signal{
		Score:      clamp01(v.Score),
		Confidence: clamp01(v.Confidence),
		Source:     severity.SourceSearch,
		Calming:    v.Calming,
	}, nil
}

// searchQuery builds a query from the caller's recent utterances. Agent turns
// are prompts, not incident description.
func searchQuery(window []transcript.Utterance) string {
	var parts []string
	for _, u := range window {
		if u.Role == transcript.RoleCaller {
			parts = append(parts, u.Text)
		}
	}
	q := strings.Join(parts, " ")
	if len(q) > 300 {
		q = q[:300]
	}
	return strings.TrimSpace(q)
}

func renderResults(results []tavily.Result) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, truncate(r.Content, 280))
	}
	return b.String()
}
