package session

import "github.com/firstline-ai/triage/internal/store"

// pendingQueue holds deltas that could not be persisted because the store was
// unavailable. Bounded: on overflow the oldest lowest-importance entry is
// evicted so the strongest recent signals survive an outage.
type pendingQueue struct {
	max    int
	deltas []store.Delta
}

func newPendingQueue(max int) *pendingQueue {
	return &pendingQueue{max: max}
}

func (q *pendingQueue) Len() int { return len(q.deltas) }

func (q *pendingQueue) Push(d store.Delta) (evicted bool) {
	if len(q.deltas) >= q.max {
		q.evict()
		evicted = true
	}
	q.deltas = append(q.deltas, d)
	return evicted
}

// Pop returns the oldest queued delta, preserving write order for the rest.
func (q *pendingQueue) Pop() (store.Delta, bool) {
	if len(q.deltas) == 0 {
		return store.Delta{}, false
	}
	d := q.deltas[0]
	q.deltas = q.deltas[1:]
	return d, true
}

// Requeue puts a delta back at the head after a failed retry.
func (q *pendingQueue) Requeue(d store.Delta) {
	q.deltas = append([]store.Delta{d}, q.deltas...)
}

func (q *pendingQueue) evict() {
	victim := 0
	for i, d := range q.deltas {
		if d.Importance < q.deltas[victim].Importance {
			victim = i
		}
	}
	q.deltas = append(q.deltas[:victim], q.deltas[victim+1:]...)
}
