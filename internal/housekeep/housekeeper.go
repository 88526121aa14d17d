// Package housekeep implements C16: a small registry of named cleanup jobs,
// each invoked on its own interval by one background goroutine. The
// registration contract (name, initial delay, func() time.Duration where the
// return value is the delay until the next run) is adapted from the
// teacher's hk package description; hk's own implementation did not survive
// retrieval, only its doc comment and test harness, so the body here is
// authored fresh from that contract rather than ported.
package housekeep

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/shipsync/offline-sync/internal/logging"
)

// Job runs one cleanup pass and reports how long to wait before running
// again. Returning <= 0 unregisters the job.
type Job func(ctx context.Context) time.Duration

type entry struct {
	name    string
	job     Job
	nextRun time.Time
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].nextRun.Before(h[j].nextRun) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Housekeeper drives every registered Job from a single goroutine, waking
// only when the soonest-due job is due (a min-heap keyed by nextRun, rather
// than a per-job ticker, since the job count here is small and fixed).
type Housekeeper struct {
	mu      sync.Mutex
	entries entryHeap
	wake    chan struct{}
}

func New() *Housekeeper {
	return &Housekeeper{wake: make(chan struct{}, 1)}
}

// Reg registers a job to run for the first time after delay.
func (h *Housekeeper) Reg(name string, job Job, delay time.Duration) {
	h.mu.Lock()
	heap.Push(&h.entries, &entry{name: name, job: job, nextRun: time.Now().Add(delay)})
	h.mu.Unlock()
	h.nudge()
}

func (h *Housekeeper) nudge() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is canceled.
func (h *Housekeeper) Run(ctx context.Context) {
	for {
		h.mu.Lock()
		var wait time.Duration
		if len(h.entries) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(h.entries[0].nextRun)
			if wait < 0 {
				wait = 0
			}
		}
		h.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-h.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		h.runDue(ctx)
	}
}

func (h *Housekeeper) runDue(ctx context.Context) {
	now := time.Now()
	for {
		h.mu.Lock()
		if len(h.entries) == 0 || h.entries[0].nextRun.After(now) {
			h.mu.Unlock()
			return
		}
		e := heap.Pop(&h.entries).(*entry)
		h.mu.Unlock()

		next := h.runOne(ctx, e)
		if next > 0 {
			e.nextRun = time.Now().Add(next)
			h.mu.Lock()
			heap.Push(&h.entries, e)
			h.mu.Unlock()
		}
	}
}

func (h *Housekeeper) runOne(ctx context.Context, e *entry) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("housekeep: job %q panicked: %v", e.name, r)
			next = time.Minute
		}
	}()
	return e.job(ctx)
}
