package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/firstline-ai/triage/internal/store"
	"github.com/firstline-ai/triage/internal/transcript"
)

// ErrSessionNotFound means an event referenced a session that never started
// or was already torn down. The webhook acks and discards these.
var ErrSessionNotFound = errors.New("session not found")

// Registry maps session ids to live runners and routes channel events.
type Registry struct {
	enricher Enricher
	adapter  store.Adapter
	notifier Notifier
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	runners map[string]*Runner
	closed  bool
}

func NewRegistry(enricher Enricher, adapter store.Adapter, notifier Notifier, opts Options, logger *slog.Logger) *Registry {
	return &Registry{
		enricher: enricher,
		adapter:  adapter,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		runners:  make(map[string]*Runner),
	}
}

// CallStarted spawns a runner for a new session. Restarting an id that is
// already live is a no-op so duplicate webhook deliveries stay harmless.
func (g *Registry) CallStarted(sessionID, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if _, ok := g.runners[sessionID]; ok {
		g.logger.Debug("duplicate call-started ignored", "session_id", sessionID)
		return
	}
	r := newRunner(sessionID, channelID, g.enricher, g.adapter, g.notifier, g.opts, g.logger, g.remove)
	g.runners[sessionID] = r
	go r.run()
	g.logger.Info("session started", "session_id", sessionID, "channel_id", channelID)
}

// Fragment routes a transcript fragment to its session.
func (g *Registry) Fragment(sessionID string, f transcript.Fragment) error {
	r, err := g.lookup(sessionID)
	if err != nil {
		return err
	}
	r.Enqueue(fragmentMsg{frag: f})
	return nil
}

// CallEnded routes the channel's call-ended event to its session.
func (g *Registry) CallEnded(sessionID string, reason EndReason) error {
	r, err := g.lookup(sessionID)
	if err != nil {
		return err
	}
	r.Enqueue(endMsg{reason: reason})
	return nil
}

// ActiveCount reports live sessions, for the status endpoint.
func (g *Registry) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.runners)
}

// Shutdown stops every runner and waits for their goroutines to exit.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	runners := make([]*Runner, 0, len(g.runners))
	for _, r := range g.runners {
		runners = append(runners, r)
	}
	g.mu.Unlock()

	for _, r := range runners {
		close(r.stop)
	}
	for _, r := range runners {
		<-r.done
	}
}

func (g *Registry) lookup(sessionID string) (*Runner, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runners[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return r, nil
}

func (g *Registry) remove(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runners, sessionID)
	g.logger.Info("session torn down", "session_id", sessionID)
}
