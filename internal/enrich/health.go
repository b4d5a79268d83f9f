package enrich

import "sync"

const (
	healthSuccessWeight = 0.05
	initialHealth       = 0.8
)

// HealthTracker maintains a reliability score per analyzer. A flaky analyzer
// that keeps timing out has its confidence discounted in the merge, so a
// single unstable collaborator cannot keep dragging events into degraded
// low-confidence territory on its own.
//
// Failures degrade health 2x faster than successes rebuild it.
type HealthTracker struct {
	mu     sync.Mutex
	scores map[string]float64
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{scores: make(map[string]float64)}
}

// Observe records one analyzer call outcome.
func (h *HealthTracker) Observe(name string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	score, seen := h.scores[name]
	if !seen {
		score = initialHealth
	}
	if ok {
		score += healthSuccessWeight
	} else {
		score -= healthSuccessWeight * 2.0
	}
	h.scores[name] = clampHealth(score)
}

// Weight returns the confidence multiplier for an analyzer's signals.
func (h *HealthTracker) Weight(name string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	score, seen := h.scores[name]
	if !seen {
		return initialHealth
	}
	return score
}

func clampHealth(score float64) float64 {
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
