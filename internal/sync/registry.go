package sync

import (
	"context"
	"sort"
	stdsync "sync"
	"time"
)

// jobHandle is one run of a job
type jobHandle struct {
	run       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu      stdsync.Mutex
	summary Summary
}

func (h *jobHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *jobHandle) setSummary(s Summary) {
	h.mu.Lock()
	h.summary = s
	h.mu.Unlock()
}

func (h *jobHandle) getSummary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summary
}

// registry maps job ids to their current run; callers hold the controller lock
type registry struct {
	jobs map[string]*jobHandle
	runs uint64
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]*jobHandle)}
}

func (r *registry) get(jobID string) (*jobHandle, bool) {
	h, ok := r.jobs[jobID]
	return h, ok
}

func (r *registry) add(jobID string, cancel context.CancelFunc, now time.Time) *jobHandle {
	r.runs++
	h := &jobHandle{
		run:       r.runs,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: now,
	}
	r.jobs[jobID] = h
	return h
}

func (r *registry) remove(jobID string) {
	delete(r.jobs, jobID)
}

func (r *registry) active() []string {
	var ids []string
	for id, h := range r.jobs {
		if !h.finished() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *registry) all() []*jobHandle {
	out := make([]*jobHandle, 0, len(r.jobs))
	for _, h := range r.jobs {
		out = append(out, h)
	}
	return out
}
