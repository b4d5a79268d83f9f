// Package transcript turns raw partial/final transcript fragments into an
// ordered, deduplicated utterance stream for one call session.
package transcript

import (
	"log/slog"
	"sort"
	"time"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// Fragment is a raw transcript piece as delivered by the voice channel.
// Fragments for the same sequence number may arrive multiple times: partials
// that extend each other, then exactly one final.
type Fragment struct {
	Seq   uint64 `json:"seq"`
	Text  string `json:"text"`
	Role  Role   `json:"role"`
	Final bool   `json:"final"`
}

// Utterance is a finalized, ordered transcript entry. Immutable once emitted.
type Utterance struct {
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	Text       string    `json:"text"`
	Role       Role      `json:"role"`
	ReceivedAt time.Time `json:"received_at"`
}

// heldFinal is a final fragment waiting for an earlier sequence gap to close.
type heldFinal struct {
	frag   Fragment
	heldAt time.Time
}

// Normalizer resequences one session's fragment stream. It is owned by the
// session's goroutine and is not safe for concurrent use.
type Normalizer struct {
	sessionID    string
	pending      map[uint64]Fragment  // partials keyed by seq
	held         map[uint64]heldFinal // finals blocked behind a gap
	nextSeq      uint64               // lowest seq not yet emitted
	duplicates   int
	lastActivity time.Time
	gapTimeout   time.Duration
	logger       *slog.Logger

	now func() time.Time
}

func NewNormalizer(sessionID string, gapTimeout time.Duration, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		sessionID:  sessionID,
		pending:    make(map[uint64]Fragment),
		held:       make(map[uint64]heldFinal),
		nextSeq:    1,
		gapTimeout: gapTimeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest applies one fragment and returns the utterances it releases, in
// ascending sequence order. A stale fragment (seq already emitted) is a no-op
// counted as a duplicate. At most one utterance is ever emitted per distinct
// sequence number.
func (n *Normalizer) Ingest(f Fragment) []Utterance {
	n.lastActivity = n.now()

	if f.Seq < n.nextSeq {
		n.duplicates++
		n.logger.Debug("duplicate fragment ignored",
			"session_id", n.sessionID,
			"seq", f.Seq,
			"next_seq", n.nextSeq,
		)
		return n.releaseExpired()
	}

	if !f.Final {
		// Partials replace each other; a shorter late partial must not
		// clobber a longer one already buffered.
		if prev, ok := n.pending[f.Seq]; !ok || len(f.Text) >= len(prev.Text) {
			n.pending[f.Seq] = f
		}
		return n.releaseExpired()
	}

	if _, ok := n.held[f.Seq]; ok {
		n.duplicates++
		return n.releaseExpired()
	}
	delete(n.pending, f.Seq)
	n.held[f.Seq] = heldFinal{frag: f, heldAt: n.now()}

	return append(n.releaseReady(), n.releaseExpired()...)
}

// Flush releases every held final regardless of gaps, in ascending order.
// Called when the channel reports the call ended and no more fragments can
// close the gaps.
func (n *Normalizer) Flush() []Utterance {
	seqs := make([]uint64, 0, len(n.held))
	for seq := range n.held {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	var out []Utterance
	for _, seq := range seqs {
		out = append(out, n.emit(n.held[seq].frag))
	}
	return out
}

// Duplicates reports how many stale or repeated fragments were ignored.
func (n *Normalizer) Duplicates() int { return n.duplicates }

// LastActivity is the receive time of the most recent fragment, used by the
// session for idle/drop detection.
func (n *Normalizer) LastActivity() time.Time { return n.lastActivity }

// releaseReady emits consecutive finals starting at nextSeq.
func (n *Normalizer) releaseReady() []Utterance {
	var out []Utterance
	for {
		h, ok := n.held[n.nextSeq]
		if !ok {
			return out
		}
		out = append(out, n.emit(h.frag))
	}
}

// releaseExpired force-releases the oldest held final once it has waited out
// the gap timeout. The missing sequence number ahead of it is abandoned.
func (n *Normalizer) releaseExpired() []Utterance {
	if n.gapTimeout <= 0 || len(n.held) == 0 {
		return nil
	}

	var out []Utterance
	for len(n.held) > 0 {
		seq, h, ok := n.oldestHeld()
		if !ok || n.now().Sub(h.heldAt) < n.gapTimeout {
			return out
		}
		n.logger.Warn("sequence gap timed out, releasing held final",
			"session_id", n.sessionID,
			"seq", seq,
			"next_seq", n.nextSeq,
		)
		out = append(out, n.emit(h.frag))
		out = append(out, n.releaseReady()...)
	}
	return out
}

func (n *Normalizer) oldestHeld() (uint64, heldFinal, bool) {
	var (
		minSeq uint64
		found  bool
	)
	for seq := range n.held {
		if !found || seq < minSeq {
			minSeq = seq
			found = true
		}
	}
	if !found {
		return 0, heldFinal{}, false
	}
	return minSeq, n.held[minSeq], true
}

func (n *Normalizer) emit(f Fragment) Utterance {
	delete(n.held, f.Seq)
	delete(n.pending, f.Seq)
	if f.Seq >= n.nextSeq {
		n.nextSeq = f.Seq + 1
	}
	return Utterance{
		SessionID:  n.sessionID,
		Seq:        f.Seq,
		Text:       f.Text,
		Role:       f.Role,
		ReceivedAt: n.now(),
	}
}
