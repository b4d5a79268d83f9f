// Package session owns the per-call state: one goroutine per active call
// consumes channel events and severity signals, runs the triage state
// machine, and emits ticket deltas.
package session

import (
	"log/slog"

	"github.com/firstline-ai/triage/internal/analyzer"
	"github.com/firstline-ai/triage/internal/severity"
	"github.com/firstline-ai/triage/internal/store"
)

type State string

const (
	StateListening  State = "listening"
	StateEscalating State = "escalating"
	StateTicketed   State = "ticketed"
	StateContinuing State = "continuing"
	StateResolved   State = "resolved"
	StateDropped    State = "dropped"
)

func (s State) Terminal() bool {
	return s == StateResolved || s == StateDropped
}

// EndReason is the voice channel's call-ended cause.
type EndReason string

const (
	EndHangup      EndReason = "hangup"
	EndNetworkDrop EndReason = "network-drop"
	EndAgentEnded  EndReason = "agent-ended"
)

// Abrupt reports whether the call ended without a controlled close. Absence
// of information after a cutoff is itself a risk signal.
func (r EndReason) Abrupt() bool {
	return r == EndHangup || r == EndNetworkDrop
}

// Tunables are the state machine's configuration constants.
type Tunables struct {
	EscalateThreshold float64
	CorroborationMin  int
	DampingStep       float64
	ChannelDropScore  float64
}

// Machine is the triage state machine for one session. It is pure decision
// logic: inputs are events, outputs are ticket deltas for the store adapter.
// Not safe for concurrent use; the owning runner serializes access.
type Machine struct {
	sessionID string
	state     State
	score     float64 // monotone-capped except for explicit damping
	hasTicket bool

	// corroborators tracks distinct sources whose degraded events crossed
	// the threshold; degraded events escalate only once enough agree.
	corroborators map[severity.Source]struct{}

	cfg    Tunables
	logger *slog.Logger
}

func NewMachine(sessionID string, cfg Tunables, logger *slog.Logger) *Machine {
	return &Machine{
		sessionID:     sessionID,
		state:         StateListening,
		corroborators: make(map[severity.Source]struct{}),
		cfg:           cfg,
		logger:        logger,
	}
}

func (m *Machine) State() State    { return m.state }
func (m *Machine) Score() float64  { return m.score }
func (m *Machine) HasTicket() bool { return m.hasTicket }

// OnSeverity folds one merged severity event into the session and returns the
// ticket delta to persist, or nil when there is nothing to write yet.
func (m *Machine) OnSeverity(ev severity.Event, sum *analyzer.Summary) *store.Delta {
	if m.state.Terminal() {
		return m.afterCloseDelta(ev, sum)
	}

	if ev.Calming {
		return m.onCalming(ev, sum)
	}

	// Monotone-capped fold: a weaker reading never lowers the session score.
	if ev.Score > m.score {
		m.score = ev.Score
	}

	if !m.qualifies(ev) {
		if !m.hasTicket {
			return nil
		}
		// Ticket exists: keep its record fresh without a lifecycle change.
		d := &store.Delta{
			SessionID:     m.sessionID,
			Importance:    severity.Importance(m.score),
			Corroborating: boolPtr(ev.Degraded),
		}
		foldSummary(d, sum)
		return d
	}

	return m.escalate(ev.Degraded, sum)
}

// OnCallEnded handles the channel's call-ended event. Abrupt termination
// always escalates regardless of the current score; a controlled agent close
// after sustained low severity resolves the ticket.
func (m *Machine) OnCallEnded(reason EndReason) *store.Delta {
	if m.state.Terminal() {
		return nil
	}

	if reason.Abrupt() {
		if m.cfg.ChannelDropScore > m.score {
			m.score = m.cfg.ChannelDropScore
		}
		m.logger.Info("abrupt termination, escalating",
			"session_id", m.sessionID,
			"reason", string(reason),
			"score", m.score,
		)
		return m.escalate(false, nil)
	}

	// agent-ended
	if m.score < m.cfg.EscalateThreshold {
		prev := m.state
		m.state = StateResolved
		if !m.hasTicket {
			m.logger.Info("session ended below threshold, no ticket", "session_id", m.sessionID)
			return nil
		}
		m.logger.Info("session resolved",
			"session_id", m.sessionID,
			"from", string(prev),
		)
		return &store.Delta{SessionID: m.sessionID, Status: store.StatusResolved}
	}
	// High severity at close without a resolution signal: leave the ticket
	// open; the idle timeout will drop it if nothing else happens.
	return nil
}

// OnIdle handles the idle timeout: a ticketed session with no activity and no
// resolution drops, importance left at its last computed value.
func (m *Machine) OnIdle() *store.Delta {
	if m.state.Terminal() {
		return nil
	}
	m.state = StateDropped
	if !m.hasTicket {
		return nil
	}
	m.logger.Info("session idle, dropping ticket", "session_id", m.sessionID)
	return &store.Delta{SessionID: m.sessionID, Status: store.StatusDropped}
}

// Applied records a successful store write, completing any pending
// Escalating -> Ticketed transition.
func (m *Machine) Applied(t store.Ticket) {
	m.hasTicket = true
	if m.state == StateEscalating {
		m.state = StateTicketed
	}
}

func (m *Machine) qualifies(ev severity.Event) bool {
	if m.score < m.cfg.EscalateThreshold {
		return false
	}
	if !ev.Degraded {
		return true
	}
	// Degraded events face the stricter bar: distinct corroborating sources.
	for _, src := range ev.Sources {
		m.corroborators[src] = struct{}{}
	}
	return len(m.corroborators) >= m.cfg.CorroborationMin
}

func (m *Machine) escalate(degraded bool, sum *analyzer.Summary) *store.Delta {
	switch m.state {
	case StateListening, StateContinuing:
		m.state = StateEscalating
	}

	d := &store.Delta{
		SessionID:     m.sessionID,
		Importance:    severity.Importance(m.score),
		Status:        store.StatusOpen,
		Corroborating: boolPtr(degraded),
	}
	foldSummary(d, sum)
	return d
}

func (m *Machine) onCalming(ev severity.Event, sum *analyzer.Summary) *store.Delta {
	m.score = severity.Damp(m.score, ev.Score, m.cfg.DampingStep)

	if !m.hasTicket {
		// Nothing persisted to down-rank.
		return nil
	}

	if m.state == StateTicketed {
		m.state = StateContinuing
		m.logger.Info("caller engaged, damping rank",
			"session_id", m.sessionID,
			"score", m.score,
		)
	}

	d := &store.Delta{
		SessionID:      m.sessionID,
		Importance:     severity.Importance(m.score),
		DampImportance: true,
		Status:         store.StatusInProgress,
	}
	foldSummary(d, sum)
	return d
}

// afterCloseDelta shapes a late enrichment result for a session already in a
// terminal state. It can still raise the persisted ticket's rank or improve
// its summary, and the store discards it if the ticket closed too.
func (m *Machine) afterCloseDelta(ev severity.Event, sum *analyzer.Summary) *store.Delta {
	if ev.Calming {
		// Down-ranking a closed session's ticket helps no one.
		return nil
	}
	if ev.Score > m.score {
		m.score = ev.Score
	}
	if !m.hasTicket && m.score < m.cfg.EscalateThreshold {
		return nil
	}
	d := &store.Delta{
		SessionID:     m.sessionID,
		Importance:    severity.Importance(m.score),
		Corroborating: boolPtr(ev.Degraded),
		AfterClose:    true,
	}
	foldSummary(d, sum)
	return d
}

func foldSummary(d *store.Delta, sum *analyzer.Summary) {
	if sum == nil {
		return
	}
	d.Summary = sum.Text
	d.Location = sum.Location
	d.TicketType = sum.TicketType
	d.LifeThreatening = boolPtr(sum.LifeThreatening)
	d.ServicesNeeded = sum.ServicesNeeded
	d.AffectedPeople = sum.AffectedPeople
	d.SuspectDescription = sum.SuspectDescription
}

func boolPtr(b bool) *bool { return &b }
