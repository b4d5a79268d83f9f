package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firstline-ai/triage/internal/analyzer"
	"github.com/firstline-ai/triage/internal/severity"
	"github.com/firstline-ai/triage/internal/store"
	"github.com/firstline-ai/triage/internal/transcript"
)

// Enricher scores a transcript window. Satisfied by enrich.Coordinator.
type Enricher interface {
	Enrich(ctx context.Context, sessionID string, window []transcript.Utterance) (severity.Event, *analyzer.Summary)
}

// Notifier announces persisted ticket changes. Satisfied by bus.Notifier.
type Notifier interface {
	TicketUpdated(t store.Ticket) error
}

// Options carry the runner's timing and capacity knobs.
type Options struct {
	Tunables     Tunables
	WindowSize   int
	InboxSize    int
	PendingMax   int
	WriteRetries int
	RetryBackoff time.Duration
	GapTimeout   time.Duration
	IdleTimeout  time.Duration
	GracePeriod  time.Duration
}

type fragmentMsg struct{ frag transcript.Fragment }
type endMsg struct{ reason EndReason }
type enrichedMsg struct {
	event   severity.Event
	summary *analyzer.Summary
}

// Runner owns one session: a single goroutine drains the inbox, feeds the
// normalizer and state machine, and persists resulting deltas. All session
// state is confined to that goroutine; no locks.
type Runner struct {
	sessionID string
	channelID string

	machine *Machine
	norm    *transcript.Normalizer

	enricher Enricher
	adapter  store.Adapter
	notifier Notifier

	opts   Options
	logger *slog.Logger

	inbox chan any
	stop  chan struct{}
	done  chan struct{}

	// Goroutine-confined; touched only inside run.
	utterances []transcript.Utterance
	unsent     string
	pending    *pendingQueue
	onExit     func(sessionID string)
}

func newRunner(sessionID, channelID string, enricher Enricher, adapter store.Adapter, notifier Notifier, opts Options, logger *slog.Logger, onExit func(string)) *Runner {
	logger = logger.With("session_id", sessionID)
	return &Runner{
		sessionID: sessionID,
		channelID: channelID,
		machine:   NewMachine(sessionID, opts.Tunables, logger),
		norm:      transcript.NewNormalizer(sessionID, opts.GapTimeout, logger),
		enricher:  enricher,
		adapter:   adapter,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
		inbox:     make(chan any, opts.InboxSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		pending:   newPendingQueue(opts.PendingMax),
		onExit:    onExit,
	}
}

// Enqueue delivers a channel event to the session goroutine. It never blocks
// the webhook path: a full inbox drops the event and reports false.
func (r *Runner) Enqueue(msg any) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.inbox <- msg:
		return true
	default:
		r.logger.Warn("inbox full, dropping event", "type", fmt.Sprintf("%T", msg))
		return false
	}
}

func (r *Runner) run() {
	defer close(r.done)
	defer func() {
		if r.onExit != nil {
			r.onExit(r.sessionID)
		}
	}()

	idle := time.NewTimer(r.opts.IdleTimeout)
	defer idle.Stop()

	var grace <-chan time.Time
	var retry <-chan time.Time

	for {
		select {
		case msg := <-r.inbox:
			switch m := msg.(type) {
			case fragmentMsg:
				r.handleFragment(m.frag)
				resetTimer(idle, r.opts.IdleTimeout)
			case endMsg:
				r.handleEnd(m.reason)
				resetTimer(idle, r.opts.IdleTimeout)
			case enrichedMsg:
				r.handleEnriched(m.event, m.summary)
			}
		case <-idle.C:
			r.applyDelta(r.machine.OnIdle())
		case <-retry:
			retry = nil
			r.flushPending()
		case <-grace:
			r.logger.Debug("grace period over, tearing down")
			return
		case <-r.stop:
			return
		}

		if r.pending.Len() > 0 && retry == nil {
			retry = time.After(r.opts.RetryBackoff)
		}
		if r.machine.State().Terminal() && grace == nil {
			grace = time.After(r.opts.GracePeriod)
		}
	}
}

func (r *Runner) handleFragment(f transcript.Fragment) {
	released := r.norm.Ingest(f)
	if len(released) == 0 {
		return
	}
	r.record(released)
	r.dispatchEnrichment()
}

func (r *Runner) handleEnd(reason EndReason) {
	if flushed := r.norm.Flush(); len(flushed) > 0 {
		r.record(flushed)
		r.dispatchEnrichment()
	}
	r.applyDelta(r.machine.OnCallEnded(reason))
}

func (r *Runner) handleEnriched(ev severity.Event, sum *analyzer.Summary) {
	r.applyDelta(r.machine.OnSeverity(ev, sum))
}

func (r *Runner) record(utts []transcript.Utterance) {
	r.utterances = append(r.utterances, utts...)
	for _, u := range utts {
		r.unsent += fmt.Sprintf("%s: %s\n", u.Role, u.Text)
	}
}

// dispatchEnrichment scores the current window off the session goroutine and
// feeds the result back through the inbox, so slow analyzers never stall
// transcript intake.
func (r *Runner) dispatchEnrichment() {
	if r.enricher == nil {
		return
	}
	window := r.window()
	go func() {
		ev, sum := r.enricher.Enrich(context.Background(), r.sessionID, window)
		select {
		case r.inbox <- enrichedMsg{event: ev, summary: sum}:
		case <-r.done:
		}
	}()
}

func (r *Runner) window() []transcript.Utterance {
	n := r.opts.WindowSize
	if n <= 0 || n >= len(r.utterances) {
		return append([]transcript.Utterance(nil), r.utterances...)
	}
	return append([]transcript.Utterance(nil), r.utterances[len(r.utterances)-n:]...)
}

func (r *Runner) applyDelta(d *store.Delta) {
	if d == nil {
		return
	}
	if r.unsent != "" {
		d.AppendTranscript = r.unsent
		r.unsent = ""
	}
	r.persist(*d)
}

func (r *Runner) persist(d store.Delta) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t, err := store.Apply(ctx, r.adapter, d, r.opts.WriteRetries)
	switch {
	case err == nil:
		r.machine.Applied(t)
		if r.notifier != nil {
			if nerr := r.notifier.TicketUpdated(t); nerr != nil {
				r.logger.Warn("ticket notification failed", "error", nerr)
			}
		}
	case errors.Is(err, store.ErrTicketClosed):
		r.logger.Info("delta for closed ticket discarded")
	case errors.Is(err, store.ErrWriteConflict):
		// Retries inside Apply are exhausted; the surviving write already
		// carries the stronger signal by the max fold. Log and move on.
		r.logger.Error("persistent write conflict", "error", err)
	default:
		evicted := r.pending.Push(d)
		r.logger.Warn("store unavailable, queueing delta",
			"error", err,
			"queued", r.pending.Len(),
			"evicted", evicted,
		)
	}
}

func (r *Runner) flushPending() {
	for {
		d, ok := r.pending.Pop()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t, err := store.Apply(ctx, r.adapter, d, r.opts.WriteRetries)
		cancel()
		if err == nil {
			r.machine.Applied(t)
			if r.notifier != nil {
				if nerr := r.notifier.TicketUpdated(t); nerr != nil {
					r.logger.Warn("ticket notification failed", "error", nerr)
				}
			}
			continue
		}
		if errors.Is(err, store.ErrTicketClosed) || errors.Is(err, store.ErrWriteConflict) {
			r.logger.Info("queued delta no longer applicable", "error", err)
			continue
		}
		// Still unavailable; keep order and wait for the next backoff.
		r.pending.Requeue(d)
		return
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
