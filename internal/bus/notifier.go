package bus

import (
	"time"

	"github.com/firstline-ai/triage/internal/store"
)

// TicketUpdate is the change event consumed by dashboard subscribers. The
// snapshot is complete and versioned: consumers apply it whole and discard
// any update with version <= the last one applied.
type TicketUpdate struct {
	Ticket      store.Ticket `json:"ticket"`
	Version     int64        `json:"version"`
	PublishedAt time.Time    `json:"published_at"`
}

// Publisher is the subset of Client the notifier needs.
type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier publishes committed ticket snapshots after successful writes.
type Notifier struct {
	bus Publisher
}

func NewNotifier(bus Publisher) *Notifier {
	return &Notifier{bus: bus}
}

func (n *Notifier) TicketUpdated(t store.Ticket) error {
	return n.bus.Publish(SubjectTicketUpdated, TicketUpdate{
		Ticket:      t,
		Version:     t.Version,
		PublishedAt: time.Now().UTC(),
	})
}
