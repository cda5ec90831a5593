package orchestration

import (
	"fmt"
	"testing"
	"time"
)

func TestTraceRingEviction(t *testing.T) {
	ring := newTraceRing(3)
	for i := 0; i < 5; i++ {
		ring.Add(RunRecord{RunID: fmt.Sprintf("r%d", i), Timestamp: time.Now()})
	}

	recent := ring.Recent(TracesQuery{})
	if len(recent) != 3 {
		t.Fatalf("ring holds %d records, want 3", len(recent))
	}
	// newest first, oldest two evicted
	if recent[0].RunID != "r4" || recent[1].RunID != "r3" || recent[2].RunID != "r2" {
		t.Errorf("order = %s, %s, %s", recent[0].RunID, recent[1].RunID, recent[2].RunID)
	}
}

func TestTraceRingPartiallyFilled(t *testing.T) {
	ring := newTraceRing(10)
	ring.Add(RunRecord{RunID: "a"})
	ring.Add(RunRecord{RunID: "b"})

	recent := ring.Recent(TracesQuery{})
	if len(recent) != 2 || recent[0].RunID != "b" {
		t.Errorf("recent = %+v", recent)
	}
}

func TestTraceRingLimitAppliesAfterFilters(t *testing.T) {
	ring := newTraceRing(10)
	ring.Add(RunRecord{RunID: "a", SessionID: "s1"})
	ring.Add(RunRecord{RunID: "b", SessionID: "s2", FromCache: true})
	ring.Add(RunRecord{RunID: "c", SessionID: "s1"})

	got := ring.Recent(TracesQuery{Limit: 1, SessionID: "s1"})
	if len(got) != 1 || got[0].RunID != "c" {
		t.Errorf("got = %+v", got)
	}

	// cached records only appear on request
	if got := ring.Recent(TracesQuery{}); len(got) != 2 {
		t.Errorf("cache excluded listing = %d", len(got))
	}
	if got := ring.Recent(TracesQuery{IncludeCache: true}); len(got) != 3 {
		t.Errorf("cache included listing = %d", len(got))
	}
}
