package transcript

import (
	"log/slog"
	"math/rand"
	"testing"
	"time"
)

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return NewNormalizer("sess-1", 0, slog.Default())
}

func TestIngest_FinalEmitsOnce(t *testing.T) {
	n := testNormalizer(t)

	got := n.Ingest(Fragment{Seq: 1, Text: "help", Role: RoleCaller, Final: true})
	if len(got) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(got))
	}
	if got[0].Seq != 1 || got[0].Text != "help" || got[0].Role != RoleCaller {
		t.Errorf("unexpected utterance %+v", got[0])
	}
	if got[0].SessionID != "sess-1" {
		t.Errorf("expected session id sess-1, got %q", got[0].SessionID)
	}
}

func TestIngest_PartialThenFinal(t *testing.T) {
	n := testNormalizer(t)

	if got := n.Ingest(Fragment{Seq: 1, Text: "I can't", Role: RoleCaller}); len(got) != 0 {
		t.Fatalf("partial should not emit, got %d", len(got))
	}
	if got := n.Ingest(Fragment{Seq: 1, Text: "I can't brea", Role: RoleCaller}); len(got) != 0 {
		t.Fatalf("extending partial should not emit, got %d", len(got))
	}

	got := n.Ingest(Fragment{Seq: 1, Text: "I can't breathe", Role: RoleCaller, Final: true})
	if len(got) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(got))
	}
	if got[0].Text != "I can't breathe" {
		t.Errorf("expected final text, got %q", got[0].Text)
	}
}

func TestIngest_ShorterLatePartialDoesNotClobber(t *testing.T) {
	n := testNormalizer(t)

	n.Ingest(Fragment{Seq: 1, Text: "there's a fire on", Role: RoleCaller})
	n.Ingest(Fragment{Seq: 1, Text: "there's a", Role: RoleCaller}) // late, shorter

	if got := n.pending[1].Text; got != "there's a fire on" {
		t.Errorf("expected longer partial retained, got %q", got)
	}
}

func TestIngest_StaleSeqIgnored(t *testing.T) {
	n := testNormalizer(t)

	n.Ingest(Fragment{Seq: 1, Text: "help", Role: RoleCaller, Final: true})
	got := n.Ingest(Fragment{Seq: 1, Text: "help", Role: RoleCaller, Final: true})
	if len(got) != 0 {
		t.Fatalf("stale final should emit nothing, got %d", len(got))
	}
	if n.Duplicates() != 1 {
		t.Errorf("expected 1 duplicate counted, got %d", n.Duplicates())
	}
}

func TestIngest_OutOfOrderResequenced(t *testing.T) {
	n := testNormalizer(t)

	if got := n.Ingest(Fragment{Seq: 2, Text: "second", Role: RoleCaller, Final: true}); len(got) != 0 {
		t.Fatalf("seq 2 should be held behind gap, got %d emissions", len(got))
	}
	if got := n.Ingest(Fragment{Seq: 3, Text: "third", Role: RoleAgent, Final: true}); len(got) != 0 {
		t.Fatalf("seq 3 should be held behind gap, got %d emissions", len(got))
	}

	got := n.Ingest(Fragment{Seq: 1, Text: "first", Role: RoleCaller, Final: true})
	if len(got) != 3 {
		t.Fatalf("expected 3 utterances once gap closed, got %d", len(got))
	}
	for i, want := range []uint64{1, 2, 3} {
		if got[i].Seq != want {
			t.Errorf("emission %d: expected seq %d, got %d", i, want, got[i].Seq)
		}
	}
}

// Any interleaving of partials, duplicates and out-of-order finals must emit
// exactly one utterance per distinct sequence number, ascending.
func TestIngest_RandomInterleavings(t *testing.T) {
	const seqCount = 20
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		var frags []Fragment
		for seq := uint64(1); seq <= seqCount; seq++ {
			frags = append(frags, Fragment{Seq: seq, Text: "partial", Role: RoleCaller})
			frags = append(frags, Fragment{Seq: seq, Text: "partial extended", Role: RoleCaller})
			frags = append(frags, Fragment{Seq: seq, Text: "final text", Role: RoleCaller, Final: true})
			frags = append(frags, Fragment{Seq: seq, Text: "final text", Role: RoleCaller, Final: true}) // duplicate
		}
		rng.Shuffle(len(frags), func(i, j int) { frags[i], frags[j] = frags[j], frags[i] })

		n := testNormalizer(t)
		var emitted []Utterance
		for _, f := range frags {
			emitted = append(emitted, n.Ingest(f)...)
		}
		emitted = append(emitted, n.Flush()...)

		if len(emitted) != seqCount {
			t.Fatalf("trial %d: expected %d utterances, got %d", trial, seqCount, len(emitted))
		}
		for i, u := range emitted {
			if u.Seq != uint64(i+1) {
				t.Fatalf("trial %d: emission %d has seq %d, want %d", trial, i, u.Seq, i+1)
			}
		}
	}
}

func TestFlush_ReleasesHeldFinalsInOrder(t *testing.T) {
	n := testNormalizer(t)

	n.Ingest(Fragment{Seq: 3, Text: "three", Role: RoleCaller, Final: true})
	n.Ingest(Fragment{Seq: 5, Text: "five", Role: RoleCaller, Final: true})
	n.Ingest(Fragment{Seq: 2, Text: "two", Role: RoleCaller, Final: true})

	got := n.Flush()
	if len(got) != 3 {
		t.Fatalf("expected 3 utterances, got %d", len(got))
	}
	for i, want := range []uint64{2, 3, 5} {
		if got[i].Seq != want {
			t.Errorf("emission %d: expected seq %d, got %d", i, want, got[i].Seq)
		}
	}
}

func TestGapTimeout_ForcesRelease(t *testing.T) {
	n := NewNormalizer("sess-1", 2*time.Second, slog.Default())
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }

	if got := n.Ingest(Fragment{Seq: 2, Text: "held", Role: RoleCaller, Final: true}); len(got) != 0 {
		t.Fatalf("expected hold behind gap, got %d emissions", len(got))
	}

	clock = clock.Add(3 * time.Second)
	got := n.Ingest(Fragment{Seq: 4, Text: "later", Role: RoleCaller})
	if len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("expected held seq 2 released after timeout, got %+v", got)
	}

	// The abandoned seq 1 arriving late is now stale.
	if got := n.Ingest(Fragment{Seq: 1, Text: "too late", Role: RoleCaller, Final: true}); len(got) != 0 {
		t.Errorf("expected late fragment for abandoned seq dropped, got %d emissions", len(got))
	}
}

func TestLastActivity_AdvancesOnIngest(t *testing.T) {
	n := testNormalizer(t)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }

	n.Ingest(Fragment{Seq: 1, Text: "hi", Role: RoleCaller})
	first := n.LastActivity()

	clock = clock.Add(10 * time.Second)
	n.Ingest(Fragment{Seq: 1, Text: "hi there", Role: RoleCaller})
	if !n.LastActivity().After(first) {
		t.Error("expected last activity to advance")
	}
}
