// Package severity defines severity signals, the analyzer capability they
// come from, and the mapping from raw scores onto the ticket importance scale.
package severity

import (
	"context"

	"github.com/firstline-ai/triage/internal/transcript"
)

// Source identifies where a severity signal came from.
type Source string

const (
	SourceRerank  Source = "rerank"
	SourceSearch  Source = "search"
	SourceChannel Source = "channel"
	SourceCalming Source = "calming"
)

// Event is a merged severity assessment for a window of one session's
// utterances. Events are consumed, folded into the session's current score
// and the ticket's importance, and never persisted standalone.
type Event struct {
	SessionID  string   `json:"session_id"`
	Score      float64  `json:"score"`      // absolute severity in [0,1]
	Confidence float64  `json:"confidence"` // [0,1]
	Source     Source   `json:"source"`
	Sources    []Source `json:"sources,omitempty"` // contributors after a merge
	FromSeq    uint64   `json:"from_seq"`
	ToSeq      uint64   `json:"to_seq"`
	Calming    bool     `json:"calming"`  // caller engaged, being talked down
	Degraded   bool     `json:"degraded"` // at least one analyzer was excluded
}

// Signal is a single analyzer's raw verdict before merging.
type Signal struct {
	Score      float64
	Confidence float64
	Source     Source
	Calming    bool
}

// Analyzer scores a window of normalized utterances. Implementations wrap
// external collaborators and are individually failable; callers bound each
// call with a context deadline.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, window []transcript.Utterance) (Signal, error)
}

// ImportanceLevels is the top of the ordinal importance scale.
const ImportanceLevels = 5

// Importance maps a raw severity score onto the 1..5 scale. Monotone and
// saturating: no single outlier score can exceed the top level.
func Importance(score float64) int {
	if score < 0 {
		score = 0
	}
	lvl := int(score*ImportanceLevels) + 1
	if lvl > ImportanceLevels {
		lvl = ImportanceLevels
	}
	return lvl
}

// Damp lowers current toward target by at most step. Used when a calming
// signal arrives: importance is recomputed from the damped score rather than
// reset, so a ticket can only be down-ranked gradually, never erased.
func Damp(current, target, step float64) float64 {
	if target >= current {
		return current
	}
	damped := current - step
	if damped < target {
		damped = target
	}
	if damped < 0 {
		damped = 0
	}
	return damped
}
