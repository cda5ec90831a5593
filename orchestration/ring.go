package orchestration

import (
	"sync"
	"time"

	"github.com/hearthai/hearth/graph"
)

// RunRecord is one completed run as kept in the trace ring
type RunRecord struct {
	RunID     string             `json:"run_id"`
	SessionID string             `json:"session_id,omitempty"`
	Action    string             `json:"action"`
	Timestamp time.Time          `json:"timestamp"`
	ElapsedMS int64              `json:"elapsed_ms"`
	Success   bool               `json:"success"`
	FromCache bool               `json:"from_cache,omitempty"`
	Trace     []graph.TraceEntry `json:"trace,omitempty"`
}

// traceRing keeps the most recent run records in a fixed-size ring.
// Oldest entries are overwritten once the ring is full.
type traceRing struct {
	mu      sync.RWMutex
	records []RunRecord
	next    int
	full    bool
}

func newTraceRing(size int) *traceRing {
	if size <= 0 {
		size = 1
	}
	return &traceRing{records: make([]RunRecord, size)}
}

func (r *traceRing) Add(rec RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = rec
	r.next++
	if r.next == len(r.records) {
		r.next = 0
		r.full = true
	}
}

// Recent returns records newest first, honoring the query filters
func (r *traceRing) Recent(q TracesQuery) []RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.full {
		count = len(r.records)
	}
	out := make([]RunRecord, 0, count)
	for i := 0; i < count; i++ {
		// walk backwards from the most recently written slot
		idx := (r.next - 1 - i + len(r.records)) % len(r.records)
		rec := r.records[idx]
		if rec.FromCache && !q.IncludeCache {
			continue
		}
		if q.SessionID != "" && rec.SessionID != q.SessionID {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}
