// Package syncsvc implements C11, the central orchestrator that drains the
// outbound sync queue to the bus, debounces rapid local writes, and applies
// backoff/circuit-breaking around a flaky link.
package syncsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shipsync/offline-sync/internal/capture"
	"github.com/shipsync/offline-sync/internal/config"
	"github.com/shipsync/offline-sync/internal/conflict"
	"github.com/shipsync/offline-sync/internal/connectivity"
	"github.com/shipsync/offline-sync/internal/errs"
	"github.com/shipsync/offline-sync/internal/logging"
	"github.com/shipsync/offline-sync/internal/model"
	"github.com/shipsync/offline-sync/internal/store"
	"github.com/shipsync/offline-sync/internal/telemetry"
	"github.com/shipsync/offline-sync/internal/transport"
)

// CurrentFetcher supplies a document's current applied state so HandleInbound
// can run it through the C6 resolver before the host-specific apply. An
// embedding application that doesn't track versions per document can leave
// this unset; HandleInbound then applies every message unconditionally, same
// as before conflict detection existed.
type CurrentFetcher interface {
	Current(ctx context.Context, contentType, documentID string) (conflict.Current, bool, error)
}

// Publisher is the outbound leg this service drains the queue into. It is
// satisfied by *transport.Producer; tests supply a fake.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg model.SyncMessage) error
}

// PushResult is the §6 POST /push response shape.
type PushResult struct {
	Success bool `json:"success"`
	Skipped bool `json:"skipped"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
}

// Service implements C11.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	pub     Publisher
	monitor *connectivity.Monitor
	topic   string

	deb *debouncer

	resolver *conflict.Resolver
	fetcher  CurrentFetcher
	metrics  *telemetry.Registry

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New wires a Service for a single process; role (master/replica) governs
// whether Push is a no-op (§4.10 step 1).
func New(cfg *config.Config, st *store.Store, pub Publisher, monitor *connectivity.Monitor) *Service {
	strategies := make(map[string]conflict.Strategy, len(cfg.ConflictStrategies))
	for ct, strat := range cfg.ConflictStrategies {
		strategies[ct] = conflict.Strategy(strat)
	}
	s := &Service{
		cfg:      cfg,
		store:    st,
		pub:      pub,
		monitor:  monitor,
		topic:    cfg.Topics.ShipUpdates,
		resolver: conflict.NewResolver(strategies),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	s.deb = newDebouncer(cfg.Sync.DebounceMs, s.enqueueDebounced)
	return s
}

// WithCurrentFetcher registers the host's document-state lookup so inbound
// messages run through conflict detection (§4.6) before applying.
func (s *Service) WithCurrentFetcher(f CurrentFetcher) *Service {
	s.fetcher = f
	return s
}

// WithMetrics registers the telemetry registry this service reports terminal
// message outcomes to (§6 offline_sync_messages_total).
func (s *Service) WithMetrics(m *telemetry.Registry) *Service {
	s.metrics = m
	return s
}

func (s *Service) observe(status string) {
	if s.metrics != nil {
		s.metrics.ObserveMessage(status)
	}
}

// Capture is the capture.Capturer glue: C10 calls this after a local write
// commits, and this is where debouncing happens before the message ever
// touches the durable queue (§4.10 "Debounce: writes ... COALESCE").
func (s *Service) Capture(ctx context.Context, msg model.SyncMessage) {
	if _, replicated := capture.Origin(ctx); replicated {
		return // echo suppression (§4.9)
	}
	if s.cfg.Mode == config.ModeMaster {
		// Master does not push through the queue; publish directly (§9 Open Question).
		if err := s.publishDirect(ctx, s.cfg.Topics.MasterUpdates, msg); err != nil {
			logging.Errorf("syncsvc: direct master publish failed for %s: %v", msg.MessageID, err)
			if perr := s.store.DeadLetters.Park(ctx, msg, err.Error()); perr != nil {
				logging.Errorf("syncsvc: parking failed master publish: %v", perr)
			}
		}
		return
	}
	s.deb.Submit(msg)
}

func (s *Service) enqueueDebounced(msg model.SyncMessage) {
	ctx := context.Background()
	if err := s.store.Queue.Enqueue(ctx, msg); err != nil {
		logging.Errorf("syncsvc: enqueue failed for %s: %v", msg.MessageID, err)
	}
}

func (s *Service) publishDirect(ctx context.Context, topic string, msg model.SyncMessage) error {
	br := s.breakerFor("") // master has no shipId
	_, err := br.Execute(func() (any, error) {
		return nil, s.pub.Publish(ctx, topic, msg)
	})
	return err
}

func (s *Service) breakerFor(shipID string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if br, ok := s.breakers[shipID]; ok {
		return br
	}
	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("publish-%s", shipID),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	s.breakers[shipID] = br
	return br
}

// Push drains the outbound queue for shipID exactly per §4.10's algorithm.
func (s *Service) Push(ctx context.Context, shipID string) (PushResult, error) {
	if s.cfg.Mode == config.ModeMaster {
		return PushResult{Success: true, Skipped: true}, nil
	}
	if s.monitor != nil && !s.monitor.IsOnline() {
		return PushResult{Success: true, Skipped: true}, nil
	}

	var sent, failed int
	br := s.breakerFor(shipID)

	for {
		entries, err := s.store.Queue.ClaimBatch(ctx, shipID, s.cfg.Sync.BatchSize)
		if err != nil {
			return PushResult{Success: false, Sent: sent, Failed: failed}, err
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			msg := entry.SyncMessage()
			_, pubErr := br.Execute(func() (any, error) {
				return nil, s.pub.Publish(ctx, s.topic, msg)
			})
			if pubErr == nil {
				if err := s.store.Queue.MarkSent(ctx, entry.ID); err != nil {
					logging.Errorf("syncsvc: markSent failed for entry %d: %v", entry.ID, err)
				}
				sent++
				s.observe("sent")
				continue
			}

			failed++
			if entry.Attempt+1 >= s.cfg.Sync.RetryAttempts {
				if err := s.store.DeadLetters.Park(ctx, msg, pubErr.Error()); err != nil {
					logging.Errorf("syncsvc: park failed for entry %d: %v", entry.ID, err)
				}
				s.observe("dead-lettered")
				if err := s.store.Queue.MarkFailed(ctx, entry.ID, pubErr.Error(), 0); err != nil {
					logging.Errorf("syncsvc: markFailed(terminal) failed for entry %d: %v", entry.ID, err)
				}
				continue
			}
			delay := backoff(s.cfg.Sync.RetryDelay, entry.Attempt)
			if err := s.store.Queue.MarkFailed(ctx, entry.ID, pubErr.Error(), delay); err != nil {
				logging.Errorf("syncsvc: markFailed failed for entry %d: %v", entry.ID, err)
			}
		}

		if len(entries) < s.cfg.Sync.BatchSize {
			break
		}
	}

	return PushResult{Success: failed == 0, Sent: sent, Failed: failed}, nil
}

// Pull is a no-op placeholder retained for operator-initiated replays; the
// inbound flow is consumer-driven (§4.10).
func (s *Service) Pull(ctx context.Context) error {
	return nil
}

// ApplyFunc is the host-specific apply step that HandleInbound calls once the
// C1 dedup check and the C6 conflict check have passed. It returns a
// classified error whose Kind HandleInbound uses to decide between retrying
// and dead-lettering.
type ApplyFunc func(ctx context.Context, msg model.SyncMessage) error

// HandleInbound wraps an ApplyFunc with the tracker dedup check required by
// C9's contract (handle returns ok/retry/dead; this maps that onto the
// errs.Kind taxonomy the consumer already understands).
func (s *Service) HandleInbound(apply ApplyFunc) transport.Handler {
	return func(ctx context.Context, msg model.SyncMessage) error {
		done, err := s.store.Tracker.IsProcessed(ctx, msg.MessageID)
		if err != nil {
			return err
		}
		if done {
			return nil // already applied; at-least-once redelivery, no-op (§4.1)
		}

		if resolved, handled, err := s.resolve(ctx, &msg); err != nil {
			return err
		} else if handled {
			if _, err := s.store.Tracker.MarkProcessed(ctx, msg); err != nil {
				return err
			}
			s.observe(resolved)
			return nil
		}

		applyCtx := capture.WithOrigin(ctx, msg.ShipID)
		applyErr := apply(applyCtx, msg)
		if applyErr != nil && errs.KindOf(applyErr) == errs.KindHostApply {
			applyErr = apply(applyCtx, msg) // one retry before dead-lettering
		}

		if applyErr == nil {
			if _, err := s.store.Tracker.MarkProcessed(ctx, msg); err != nil {
				return err
			}
			s.observe("processed")
			return nil
		}

		if k := errs.KindOf(applyErr); k == errs.KindTransient || k == errs.KindShutdown {
			return applyErr // retry, or yield until restart
		}

		if err := s.store.DeadLetters.Park(ctx, msg, applyErr.Error()); err != nil {
			return err
		}
		if err := s.store.Tracker.MarkFailed(ctx, msg); err != nil {
			logging.Warnf("syncsvc: markFailed after park failed for %s: %v", msg.MessageID, err)
		}
		s.observe("dead-lettered")
		return nil // dead-lettered and parked: commit the offset
	}
}

// resolve runs a message through the C6 resolver when the embedding host has
// registered a CurrentFetcher. handled is true when the resolver fully
// disposed of the message (superseded by a newer write, or parked as an open
// conflict) and apply must not be called; resolved is the observed outcome
// label for the done case (§8 scenario 4 "conflict determinism").
func (s *Service) resolve(ctx context.Context, msg *model.SyncMessage) (resolved string, handled bool, err error) {
	if s.fetcher == nil {
		return "", false, nil
	}
	cur, ok, err := s.fetcher.Current(ctx, msg.ContentType, msg.DocumentID)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	outcome := s.resolver.Resolve(ctx, cur, *msg)
	if outcome.Conflict {
		if err := s.store.Conflicts.Create(ctx, model.ConflictRecord{
			MessageID:      msg.MessageID,
			ContentType:    msg.ContentType,
			DocumentID:     msg.DocumentID,
			LocalSnapshot:  cur.Snapshot,
			RemoteSnapshot: msg.Payload,
		}); err != nil {
			return "", false, err
		}
		return "conflict-parked", true, nil
	}
	if !outcome.Apply {
		return "superseded", true, nil
	}
	msg.Payload = outcome.Payload
	return "", false, nil
}
