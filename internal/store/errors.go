package store

import "errors"

var (
	// ErrNotFound means no ticket exists for the id or session.
	ErrNotFound = errors.New("ticket not found")

	// ErrWriteConflict means the conditional write lost the version race.
	// Apply retries a bounded number of times before surfacing it.
	ErrWriteConflict = errors.New("ticket write conflict")

	// ErrTicketClosed means an after-close delta found the persisted ticket
	// already terminal; the delta is discarded, not an anomaly.
	ErrTicketClosed = errors.New("ticket already closed")
)
