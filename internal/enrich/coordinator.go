// Package enrich fans utterance windows out to the configured severity
// analyzers and the summarizer, and fans their verdicts back in as one merged
// severity event. The fan-in is best-effort: a slow or broken analyzer is
// excluded and flagged, never waited on past its timeout.
package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/firstline-ai/triage/internal/analyzer"
	"github.com/firstline-ai/triage/internal/severity"
	"github.com/firstline-ai/triage/internal/transcript"
)

// Summarizer produces the ticket-facing summary for a window. Optional: a
// nil summarizer disables summaries, not scoring.
type Summarizer interface {
	Summarize(ctx context.Context, window []transcript.Utterance) (*analyzer.Summary, error)
}

// MergePolicy holds the weights of the max-and-average severity hybrid.
type MergePolicy struct {
	MaxWeight      float64 // weight of the strongest confident high signal
	MeanWeight     float64 // weight of the mean over all included signals
	HighScore      float64 // score for a signal to count as high-severity
	HighConfidence float64 // confidence for a signal to count as confident
}

type Coordinator struct {
	analyzers  []severity.Analyzer
	summarizer Summarizer
	timeout    time.Duration
	policy     MergePolicy
	health     *HealthTracker
	logger     *slog.Logger
}

func NewCoordinator(analyzers []severity.Analyzer, summarizer Summarizer, timeout time.Duration, policy MergePolicy, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		analyzers:  analyzers,
		summarizer: summarizer,
		timeout:    timeout,
		policy:     policy,
		health:     NewHealthTracker(),
		logger:     logger,
	}
}

// Enrich scores one window. It always returns an event; when every analyzer
// fails the event carries zero confidence and the degraded flag, and the
// state machine decides what that is worth. The summary is nil when the
// summarizer is disabled or failed.
func (c *Coordinator) Enrich(ctx context.Context, sessionID string, window []transcript.Utterance) (severity.Event, *analyzer.Summary) {
	if len(window) == 0 {
		return severity.Event{SessionID: sessionID, Degraded: true}, nil
	}

	var (
		mu      sync.Mutex
		signals []severity.Signal
		summary *analyzer.Summary
		failed  int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range c.analyzers {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()

			sig, err := a.Analyze(callCtx, window)
			c.health.Observe(a.Name(), err == nil)
			if err != nil {
				c.logger.Warn("analyzer excluded from merge",
					"analyzer", a.Name(),
					"session_id", sessionID,
					"error", err,
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}

			sig.Confidence *= c.health.Weight(a.Name())
			mu.Lock()
			signals = append(signals, sig)
			mu.Unlock()
			return nil
		})
	}

	if c.summarizer != nil {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()

			s, err := c.summarizer.Summarize(callCtx, window)
			if err != nil {
				c.logger.Warn("summarizer failed", "session_id", sessionID, "error", err)
				return nil
			}
			mu.Lock()
			summary = s
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // workers only log, never error

	ev := c.merge(sessionID, window, signals, failed > 0)
	c.logger.Debug("window enriched",
		"session_id", sessionID,
		"score", ev.Score,
		"confidence", ev.Confidence,
		"degraded", ev.Degraded,
		"contributors", len(signals),
	)
	return ev, summary
}

// merge combines the included signals: max of the confident high-severity
// ones blended with the average of everything, so one conservative analyzer
// cannot mask a genuine danger signal.
func (c *Coordinator) merge(sessionID string, window []transcript.Utterance, signals []severity.Signal, degraded bool) severity.Event {
	ev := severity.Event{
		SessionID: sessionID,
		FromSeq:   window[0].Seq,
		ToSeq:     window[len(window)-1].Seq,
		Degraded:  degraded,
	}
	if len(signals) == 0 {
		ev.Degraded = true
		return ev
	}

	var (
		sumScore, sumConf float64
		maxHigh           float64
		hasHigh           bool
		calmingVotes      int
	)
	for _, sig := range signals {
		sumScore += sig.Score
		sumConf += sig.Confidence
		ev.Sources = append(ev.Sources, sig.Source)
		if sig.Score >= c.policy.HighScore && sig.Confidence >= c.policy.HighConfidence {
			hasHigh = true
			if sig.Score > maxHigh {
				maxHigh = sig.Score
			}
		}
		if sig.Calming && sig.Confidence >= c.policy.HighConfidence {
			calmingVotes++
		}
	}

	mean := sumScore / float64(len(signals))
	if hasHigh {
		ev.Score = c.policy.MaxWeight*maxHigh + c.policy.MeanWeight*mean
	} else {
		ev.Score = mean
	}
	ev.Confidence = sumConf / float64(len(signals))

	// Calming only counts when no confident high-severity signal disputes it.
	if calmingVotes > 0 && !hasHigh {
		ev.Calming = true
		ev.Source = severity.SourceCalming
	} else {
		ev.Source = severity.SourceRerank
		if len(signals) == 1 {
			ev.Source = signals[0].Source
		}
	}
	return ev
}
