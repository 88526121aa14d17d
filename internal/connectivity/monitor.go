// Package connectivity implements C7: periodic and on-demand link-health
// sampling, with online/offline transition events the sync service listens
// for to trigger an immediate queue drain (§4.7).
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shipsync/offline-sync/internal/logging"
)

// Transition is an edge: the link just went online or offline.
type Transition struct {
	Online bool
	At     time.Time
}

// Result is one probe's outcome.
type Result struct {
	IsOnline  bool
	LatencyMs int64
	Reason    string
}

// Prober performs a single cheap connectivity check, e.g. an HTTP HEAD to
// the master's health endpoint or a bus metadata round-trip.
type Prober func(ctx context.Context) Result

// Monitor runs Prober on a timer and on demand, publishing transition
// events. The run loop shape (ticker + done channel + on-demand trigger
// channel) mirrors the teacher's hk housekeeper contract: a small set of
// periodic jobs driven by one goroutine.
type Monitor struct {
	probe    Prober
	interval time.Duration

	mu       sync.Mutex
	lastOK   bool
	lastSeen time.Time

	events chan Transition
	probeC chan chan Result
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewMonitor(probe Prober, interval time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		events:   make(chan Transition, 16),
		probeC:   make(chan chan Result),
		stop:     make(chan struct{}),
	}
}

// HTTPProber builds a Prober that HEADs url with a sub-5s timeout, per §4.7
// ("a cheap request to the bus or master health endpoint with a short
// timeout (< 5s)").
func HTTPProber(client *http.Client, url string) Prober {
	if client == nil {
		client = &http.Client{}
	}
	return func(ctx context.Context) Result {
		ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
		defer cancel()
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return Result{IsOnline: false, Reason: err.Error()}
		}
		resp, err := client.Do(req)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return Result{IsOnline: false, LatencyMs: latency, Reason: err.Error()}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return Result{IsOnline: false, LatencyMs: latency, Reason: resp.Status}
		}
		return Result{IsOnline: true, LatencyMs: latency}
	}
}

// Run drives the periodic probe loop until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.runProbe(ctx)
		case reply := <-m.probeC:
			reply <- m.runProbe(ctx)
		}
	}
}

func (m *Monitor) runProbe(ctx context.Context) Result {
	res := m.probe(ctx)

	m.mu.Lock()
	was := m.lastOK
	m.lastOK = res.IsOnline
	m.lastSeen = time.Now()
	m.mu.Unlock()

	if res.IsOnline != was {
		logging.Infof("connectivity transition: online=%v reason=%q", res.IsOnline, res.Reason)
		select {
		case m.events <- Transition{Online: res.IsOnline, At: time.Now()}:
		default: // events channel is best-effort; a slow consumer shouldn't block probing
		}
	}
	return res
}

// Check runs an immediate, on-demand probe and returns its result (§4.7
// "checkConnectivity() ... Runs ... on demand").
func (m *Monitor) Check(ctx context.Context) Result {
	reply := make(chan Result, 1)
	select {
	case m.probeC <- reply:
		return <-reply
	case <-ctx.Done():
		return Result{}
	case <-time.After(5 * time.Second):
		return m.runProbe(ctx) // loop not running yet (e.g. in tests); probe directly
	}
}

// IsOnline returns the last known state without triggering a probe.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOK
}

// Events exposes the transition stream for the sync service to subscribe to.
func (m *Monitor) Events() <-chan Transition { return m.events }

// Stop ends the run loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}
