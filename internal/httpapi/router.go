// Package httpapi implements C14: the HTTP surface exposed by both master
// and replica processes (§6).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shipsync/offline-sync/internal/capture"
	"github.com/shipsync/offline-sync/internal/config"
	"github.com/shipsync/offline-sync/internal/conflict"
	"github.com/shipsync/offline-sync/internal/connectivity"
	"github.com/shipsync/offline-sync/internal/initialsync"
	"github.com/shipsync/offline-sync/internal/media"
	"github.com/shipsync/offline-sync/internal/model"
	"github.com/shipsync/offline-sync/internal/store"
	"github.com/shipsync/offline-sync/internal/syncsvc"
)

// SyncDrainer is the subset of syncsvc.Service the API needs.
type SyncDrainer interface {
	Push(ctx context.Context, shipID string) (syncsvc.PushResult, error)
	Pull(ctx context.Context) error
}

// BusHealth reports whether the bus connection this process depends on is
// reachable, for GET /health/ready and GET /health (§6: "ready ... if DB and
// bus are healthy"); satisfied by *transport.Producer and *transport.Consumer.
type BusHealth interface {
	Healthy(ctx context.Context) error
}

// Server bundles every dependency the routes close over.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	sync       SyncDrainer
	monitor    *connectivity.Monitor
	bootstrap  *initialsync.Bootstrapper
	syncer     *media.Syncer
	captureReg *capture.Registry
	capturer   capture.Capturer
	bus        BusHealth
	startedAt  time.Time

	router chi.Router
}

func New(cfg *config.Config, st *store.Store, svc SyncDrainer, monitor *connectivity.Monitor, bootstrap *initialsync.Bootstrapper, syncer *media.Syncer, captureReg *capture.Registry, capturer capture.Capturer, bus BusHealth) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		sync:       svc,
		monitor:    monitor,
		bootstrap:  bootstrap,
		syncer:     syncer,
		captureReg: captureReg,
		capturer:   capturer,
		bus:        bus,
		startedAt:  time.Now().UTC(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/status", s.handleStatus)
	r.Post("/push", s.handlePush)
	r.Post("/pull", s.handlePull)
	r.Get("/queue", s.handleQueue)
	r.Get("/queue/pending", s.handleQueuePending)
	r.Get("/ships", s.handleShips)
	r.Get("/conflicts", s.handleConflicts)
	r.Get("/conflicts/{id}", s.handleConflict)
	r.Post("/conflicts/{id}/resolve", s.handleResolveConflict)
	r.Post("/capture/{contentType}/{documentId}", s.handleCapture)
	r.Post("/initial-sync/pull", s.handleInitialSyncPull)
	r.Get("/initial-sync/status", s.handleInitialSyncStatus)
	r.Get("/media/stats", s.handleMediaStats)
	r.Post("/media/sync", s.handleMediaSync)
	r.Get("/media/health", s.handleMediaHealth)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending := 0
	if s.store != nil {
		pending, _ = s.store.Queue.Pending(r.Context(), s.cfg.ShipID)
	}
	online := s.monitor != nil && s.monitor.IsOnline()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":         s.cfg.Mode,
		"shipId":       s.cfg.ShipID,
		"queueSize":    pending,
		"connectivity": map[string]any{"isOnline": online},
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	res, err := s.sync.Push(r.Context(), s.cfg.ShipID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.Pull(r.Context()); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Queue.List(r.Context(), s.cfg.ShipID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleQueuePending(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Queue.Pending(r.Context(), s.cfg.ShipID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": n})
}

func (s *Server) handleShips(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Mode != config.ModeMaster {
		writeErr(w, http.StatusForbidden, errNotMaster)
		return
	}
	ships, err := s.store.Ships.ListShips(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ships)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Conflicts.List(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleConflict(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.store.Conflicts.Get(r.Context(), id)
	if err != nil {
		if err == store.ErrConflictNotFound() {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type resolveConflictRequest struct {
	Strategy conflict.Strategy `json:"strategy"`
	Data     json.RawMessage   `json:"data"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Conflicts.Resolve(r.Context(), id, string(req.Strategy)); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type captureRequest struct {
	Operation   model.Operation `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	BaseVersion int64           `json:"baseVersion"`
}

// handleCapture is the host write-lifecycle hook's HTTP ingress for C10
// (§4.9): the embedding host calls this after a local write commits, and it
// is where a freshly generated SyncMessage is built and handed to C11.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if s.captureReg == nil || s.capturer == nil {
		writeErr(w, http.StatusNotImplemented, errNoCaptureRegistry)
		return
	}
	contentType := chi.URLParam(r, "contentType")
	documentID := chi.URLParam(r, "documentId")
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.captureReg.Fire(r.Context(), contentType, documentID, req.Operation, req.Payload, req.BaseVersion, s.capturer); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleInitialSyncPull(w http.ResponseWriter, r *http.Request) {
	var in initialsync.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	summary, err := s.bootstrap.Pull(r.Context(), in)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleInitialSyncStatus(w http.ResponseWriter, r *http.Request) {
	running, last := s.bootstrap.Status()
	writeJSON(w, http.StatusOK, map[string]any{"running": running, "last": last})
}

func (s *Server) handleMediaStats(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeJSON(w, http.StatusOK, media.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.Stats())
}

func (s *Server) handleMediaSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeErr(w, http.StatusNotImplemented, errNoMediaProvider)
		return
	}
	go func() {
		if err := s.syncer.Run(context.Background()); err != nil {
			_ = err // recorded in Stats().Error
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

func (s *Server) handleMediaHealth(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	stats := s.syncer.Stats()
	status := "ok"
	if stats.Error != "" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "stats": stats})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"live": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil && !s.store.Ready(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	if !s.busHealthy(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.store == nil || s.store.Ready(r.Context())
	busOK := s.busHealthy(r.Context())
	linkOK := s.monitor == nil || s.monitor.IsOnline()
	status := "ok"
	if !dbOK || !busOK {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"mode":   s.cfg.Mode,
		"shipId": s.cfg.ShipID,
		"checks": map[string]bool{"db": dbOK, "bus": busOK, "connectivity": linkOK},
	})
}

// busHealthy performs a bounded-deadline round-trip against the bus client;
// a nil bus (e.g. in tests that don't wire one) is treated as healthy so it
// doesn't gate readiness.
func (s *Server) busHealthy(ctx context.Context) bool {
	if s.bus == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.bus.Healthy(ctx) == nil
}

var (
	errNotMaster         = httpError("endpoint is master-only")
	errNoMediaProvider   = httpError("media sync is not configured for this process")
	errNoCaptureRegistry = httpError("change-capture registry is not configured for this process")
)

type httpError string

func (e httpError) Error() string { return string(e) }
