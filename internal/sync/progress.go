package sync

import (
	stdsync "sync"

	"github.com/dl-alexandre/cellsync/internal/types"
)

type progressEntry struct {
	run     uint64
	current int64
	total   int64
	fixed   bool
}

// ProgressTracker holds (current, total) per job. Updates carry the run
// that created the entry so a superseded run cannot touch its successor.
type ProgressTracker struct {
	mu      stdsync.Mutex
	entries map[string]*progressEntry
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{entries: make(map[string]*progressEntry)}
}

func (t *ProgressTracker) Begin(jobID string, run uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[jobID] = &progressEntry{run: run}
}

// SetTotal fixes the total once; later calls are ignored
func (t *ProgressTracker) SetTotal(jobID string, run uint64, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[jobID]
	if !ok || e.run != run || e.fixed {
		return
	}
	e.total = total
	e.fixed = true
}

// Advance adds n, never exceeding total
func (t *ProgressTracker) Advance(jobID string, run uint64, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[jobID]
	if !ok || e.run != run || n <= 0 {
		return
	}
	e.current += n
	if e.current > e.total {
		e.current = e.total
	}
}

func (t *ProgressTracker) Snapshot(jobID string) (types.Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[jobID]
	if !ok {
		return types.Progress{}, false
	}
	return types.Progress{JobID: jobID, Current: e.current, Total: e.total}, true
}

func (t *ProgressTracker) Remove(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, jobID)
}
