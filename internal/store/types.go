// Package store persists tickets and applies deltas with idempotent,
// last-writer-wins-per-field semantics under optimistic concurrency.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusDropped    Status = "dropped"
)

// Terminal reports whether the status is a closed state. A terminal ticket
// keeps its importance but stops accepting lifecycle changes.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusDropped
}

// Ticket is the externally visible, persisted incident record.
type Ticket struct {
	ID                 uuid.UUID `json:"id"`
	SessionID          string    `json:"session_id"`
	Location           string    `json:"location"`
	Summary            string    `json:"summary"`
	Transcript         string    `json:"transcript"`
	Status             Status    `json:"status"`
	Importance         int       `json:"importance"` // 1..5, recomputed, never incremented
	TicketType         string    `json:"ticket_type"`
	LifeThreatening    bool      `json:"life_threatening"`
	ServicesNeeded     []string  `json:"services_needed"`
	AffectedPeople     int       `json:"affected_people"`
	SuspectDescription string    `json:"suspect_description,omitempty"`
	Corroborating      bool      `json:"corroborating"` // last update was degraded-confidence
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Version            int64     `json:"version"`
}

// Delta is one writer's intended change. Zero values mean "leave the field".
type Delta struct {
	SessionID string

	// Importance is the recomputed absolute level. For escalations the store
	// folds it with max so concurrent writers converge on the strongest
	// signal; DampImportance marks an intentional down-rank that overrides.
	Importance     int
	DampImportance bool

	Status             Status
	Summary            string
	Location           string
	AppendTranscript   string
	TicketType         string
	LifeThreatening    *bool
	ServicesNeeded     []string
	AffectedPeople     int
	SuspectDescription string
	Corroborating      *bool

	// AfterClose marks a delta from a session already in a terminal state:
	// it applies only while the persisted ticket is still non-terminal.
	AfterClose bool
}

// Reader is the query surface exposed to the dashboard API.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (Ticket, error)
	// List returns tickets, optionally filtered by status (empty = all),
	// ordered by importance then updated-at, both descending.
	List(ctx context.Context, status Status) ([]Ticket, error)
}

// Adapter is the full persistence surface. UpdateVersioned writes are
// conditional on Ticket.Version and fail with ErrWriteConflict when the row
// moved underneath the writer.
type Adapter interface {
	Reader
	GetBySession(ctx context.Context, sessionID string) (Ticket, error)
	Create(ctx context.Context, t Ticket) (Ticket, error)
	UpdateVersioned(ctx context.Context, t Ticket) (Ticket, error)
}
