package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Apply folds one delta into the persisted ticket: read, recompute, write
// conditional on version, retry the recompute against the fresh row on
// conflict. After retries exhaust the conflict is surfaced to the caller,
// never silently dropped.
func Apply(ctx context.Context, a Adapter, d Delta, retries int) (Ticket, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		cur, err := a.GetBySession(ctx, d.SessionID)
		switch {
		case errors.Is(err, ErrNotFound):
			if d.AfterClose {
				// Session closed before a ticket ever existed; nothing to update.
				return Ticket{}, ErrTicketClosed
			}
			if d.Importance < 1 {
				return Ticket{}, fmt.Errorf("delta for session %s cannot create a ticket without importance", d.SessionID)
			}
			created, err := a.Create(ctx, newTicket(d))
			if errors.Is(err, ErrWriteConflict) {
				// Lost a concurrent-create race; fold into the winner's row.
				lastErr = err
				continue
			}
			if err != nil {
				return Ticket{}, fmt.Errorf("create ticket: %w", err)
			}
			return created, nil

		case err != nil:
			return Ticket{}, fmt.Errorf("read ticket for session %s: %w", d.SessionID, err)
		}

		if d.AfterClose && cur.Status.Terminal() {
			return Ticket{}, ErrTicketClosed
		}

		updated, err := a.UpdateVersioned(ctx, merge(cur, d))
		if errors.Is(err, ErrWriteConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return Ticket{}, fmt.Errorf("write ticket %s: %w", cur.ID, err)
		}
		return updated, nil
	}
	return Ticket{}, fmt.Errorf("apply delta for session %s after %d retries: %w", d.SessionID, retries, lastErr)
}

func newTicket(d Delta) Ticket {
	t := Ticket{
		ID:        uuid.New(),
		SessionID: d.SessionID,
		Status:    StatusOpen,
	}
	return mergeFields(t, d)
}

// merge recomputes the next ticket state from the current row and the delta.
// Importance folds with max on escalation so duplicate or concurrent events
// converge instead of drifting; a damping delta sets it outright.
func merge(cur Ticket, d Delta) Ticket {
	next := mergeFields(cur, d)

	if d.Importance >= 1 && !d.DampImportance && cur.Importance > d.Importance {
		next.Importance = cur.Importance
	}

	// A closed ticket never reopens; it was down-ranked or closed, not removed.
	if cur.Status.Terminal() && !next.Status.Terminal() {
		next.Status = cur.Status
	}
	return next
}

// mergeFields applies last-writer-wins per populated field.
func mergeFields(t Ticket, d Delta) Ticket {
	if d.Importance >= 1 {
		t.Importance = d.Importance
	}
	if d.Status != "" {
		t.Status = d.Status
	}
	if d.Summary != "" {
		t.Summary = d.Summary
	}
	if d.Location != "" {
		t.Location = d.Location
	}
	if d.AppendTranscript != "" {
		t.Transcript += d.AppendTranscript
	}
	if d.TicketType != "" {
		t.TicketType = d.TicketType
	}
	if d.LifeThreatening != nil {
		t.LifeThreatening = *d.LifeThreatening
	}
	if len(d.ServicesNeeded) > 0 {
		t.ServicesNeeded = d.ServicesNeeded
	}
	if d.AffectedPeople > 0 {
		t.AffectedPeople = d.AffectedPeople
	}
	if d.SuspectDescription != "" {
		t.SuspectDescription = d.SuspectDescription
	}
	if d.Corroborating != nil {
		t.Corroborating = *d.Corroborating
	}
	return t
}
