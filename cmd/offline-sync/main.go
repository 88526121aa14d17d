// Package main is the offline-sync replication engine entrypoint: a single
// process that boots into either master or replica role per configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shipsync/offline-sync/internal/capture"
	"github.com/shipsync/offline-sync/internal/config"
	"github.com/shipsync/offline-sync/internal/connectivity"
	"github.com/shipsync/offline-sync/internal/errs"
	"github.com/shipsync/offline-sync/internal/housekeep"
	"github.com/shipsync/offline-sync/internal/httpapi"
	"github.com/shipsync/offline-sync/internal/initialsync"
	"github.com/shipsync/offline-sync/internal/logging"
	"github.com/shipsync/offline-sync/internal/media"
	"github.com/shipsync/offline-sync/internal/model"
	"github.com/shipsync/offline-sync/internal/store"
	"github.com/shipsync/offline-sync/internal/syncsvc"
	"github.com/shipsync/offline-sync/internal/telemetry"
	"github.com/shipsync/offline-sync/internal/transport"
	"github.com/shipsync/offline-sync/internal/ulid"
)

var (
	build     string
	buildtime string

	configPath string
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to the replication engine's YAML configuration")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "offline-sync: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.Log.Level, string(cfg.Mode), cfg.ShipID)
	defer logging.Flush()
	logging.Infof("offline-sync starting (build %s, %s)", build, buildtime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.DB.DSN, cfg.DB.MaxOpenConns)
	if err != nil {
		logging.Errorf("failed to open store: %v", err)
		os.Exit(1)
	}

	if n, err := st.Queue.ReviveCrashed(ctx); err != nil {
		logging.Warnf("failed to revive crashed queue entries: %v", err)
	} else if n > 0 {
		logging.Infof("revived %d crashed queue entries to pending", n)
	}

	busCfg := transport.BusConfig{
		Brokers:       cfg.Bus.Brokers,
		ClientID:      cfg.Bus.ClientID,
		SSL:           cfg.Bus.SSL,
		SASLMechanism: cfg.Bus.SASL.Mechanism,
		SASLUsername:  cfg.Bus.SASL.Username,
		SASLPassword:  cfg.Bus.SASL.Password,
	}

	producer, err := transport.NewProducer(busCfg)
	if err != nil {
		logging.Errorf("failed to start bus producer: %v", err)
		os.Exit(1)
	}

	group := "offline-sync-" + string(cfg.Mode)
	inboundTopic := cfg.Topics.MasterUpdates
	if cfg.Mode == config.ModeMaster {
		inboundTopic = cfg.Topics.ShipUpdates
	}
	consumer, err := transport.NewConsumer(busCfg, group, inboundTopic)
	if err != nil {
		logging.Errorf("failed to start bus consumer: %v", err)
		os.Exit(1)
	}

	monitor := connectivity.NewMonitor(
		connectivity.HTTPProber(&http.Client{}, healthProbeURL(cfg)),
		cfg.Sync.ConnectivityCheckInterval,
	)
	go monitor.Run(ctx)

	metrics := telemetry.New(string(cfg.Mode), cfg.ShipID, build)
	// WithCurrentFetcher is left unset here: this binary has no host document
	// table of its own, so conflict detection activates once an embedding
	// application registers one (see syncsvc.CurrentFetcher).
	svc := syncsvc.New(cfg, st, producer, monitor).WithMetrics(metrics)

	var syncer *media.Syncer
	if cfg.Media.Origin.Bucket != "" || cfg.Media.Origin.Container != "" {
		origin, err := buildMediaOrigin(ctx, cfg)
		if err != nil {
			logging.Errorf("failed to init media origin: %v", err)
		} else {
			syncer = media.NewSyncer(origin, cfg.Media.Cache.Dir, cfg.Media.Concurrency)
		}
	}

	bootstrap := initialsync.NewBootstrapper(st, noopPersister{}, cfg.ContentTypes)

	captureReg := capture.NewRegistry(cfg.ShipID)
	for _, ct := range cfg.ContentTypes {
		captureReg.Register(ct, passthroughCaptureHandler)
	}

	hk := housekeep.New()
	registerHousekeeping(hk, cfg, st, syncer, metrics)
	go hk.Run(ctx)

	onConnectivityChange(ctx, monitor, svc, cfg)

	api := httpapi.New(cfg, st, svc, monitor, bootstrap, syncer, captureReg, svc, producer)
	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api}
	go func() {
		logging.Infof("HTTP API listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("HTTP server error: %v", err)
		}
	}()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		err := consumer.Run(ctx, svc.HandleInbound(makeHostApply(st)))
		if err != nil {
			logging.Errorf("consumer loop exited: %v", err)
		}
	}()

	if cfg.Mode == config.ModeReplica {
		go pushLoop(ctx, svc, cfg)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Infof("shutdown signal received, draining in reverse dependency order")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	cancel() // stop monitor, housekeeper, consumer loop, push loop
	<-consumerDone
	consumer.Close()
	producer.Close()
	monitor.Stop()
	st.Tracker.Close()
	_ = st.Close()

	logging.Infof("offline-sync stopped cleanly")
}

func healthProbeURL(cfg *config.Config) string {
	if cfg.Mode == config.ModeReplica {
		return "http://master:8080/health/live" // fixed probe target; not derived from bus.brokers
	}
	return "http://localhost" + cfg.HTTP.Addr + "/health/live"
}

func pushLoop(ctx context.Context, svc *syncsvc.Service, cfg *config.Config) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Push(ctx, cfg.ShipID); err != nil {
				logging.Warnf("push loop: %v", err)
			}
		}
	}
}

func onConnectivityChange(ctx context.Context, monitor *connectivity.Monitor, svc *syncsvc.Service, cfg *config.Config) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-monitor.Events():
				if t.Online {
					logging.Infof("connectivity restored, triggering immediate drain")
					if _, err := svc.Push(ctx, cfg.ShipID); err != nil {
						logging.Warnf("drain-on-reconnect failed: %v", err)
					}
				}
			}
		}
	}()
}

func registerHousekeeping(hk *housekeep.Housekeeper, cfg *config.Config, st *store.Store, syncer *media.Syncer, metrics *telemetry.Registry) {
	hk.Reg("processed-messages-cleanup", func(ctx context.Context) time.Duration {
		if n, err := st.Tracker.Cleanup(ctx, 30); err != nil {
			logging.Warnf("housekeep: tracker cleanup failed: %v", err)
		} else if n > 0 {
			logging.Infof("housekeep: cleaned up %d processed-message rows", n)
		}
		return time.Hour
	}, time.Minute)

	hk.Reg("ship-offline-detection", func(ctx context.Context) time.Duration {
		if cfg.Mode == config.ModeMaster {
			if n, err := st.Ships.MarkStaleOffline(ctx, cfg.Sync.HeartbeatInterval); err != nil {
				logging.Warnf("housekeep: ship offline sweep failed: %v", err)
			} else if n > 0 {
				logging.Infof("housekeep: marked %d ships offline", n)
			}
		}
		return cfg.Sync.HeartbeatInterval
	}, cfg.Sync.HeartbeatInterval)

	hk.Reg("metrics-refresh", func(ctx context.Context) time.Duration {
		if pending, err := st.Queue.Pending(ctx, cfg.ShipID); err == nil {
			metrics.SetQueuePending(pending)
		}
		if cfg.Mode == config.ModeMaster {
			if ships, err := st.Ships.ListShips(ctx); err == nil {
				online := 0
				for _, sh := range ships {
					if sh.ConnectivityStatus == model.ShipOnline {
						online++
					}
				}
				metrics.SetShips(len(ships), online)
			}
		}
		if stats, err := st.DeadLetters.Stats(ctx); err == nil {
			metrics.SetDeadLetters(stats.Pending, stats.Retrying, stats.Exhausted, stats.Resolved)
		}
		return 15 * time.Second
	}, 15*time.Second)

	if syncer != nil {
		hk.Reg("media-sync", func(ctx context.Context) time.Duration {
			if err := syncer.Run(ctx); err != nil {
				logging.Warnf("housekeep: media sync failed: %v", err)
			}
			return cfg.Media.SyncInterval
		}, 0)

		hk.Reg("media-tmp-sweep", func(ctx context.Context) time.Duration {
			if n, err := syncer.SweepOrphanTmp(time.Hour); err != nil {
				logging.Warnf("housekeep: tmp sweep failed: %v", err)
			} else if n > 0 {
				logging.Infof("housekeep: removed %d orphan .tmp media files", n)
			}
			return 30 * time.Minute
		}, 30*time.Minute)
	}
}

func buildMediaOrigin(ctx context.Context, cfg *config.Config) (media.Origin, error) {
	switch cfg.Media.Provider {
	case "azure":
		// Account name/key follow the teacher's own azblob wiring: read from
		// environment rather than the YAML config, so secrets never land on disk.
		accountName := os.Getenv("AZURE_STORAGE_ACCOUNT")
		accountKey := os.Getenv("AZURE_STORAGE_KEY")
		accountURL := cfg.Media.Origin.Endpoint
		if accountURL == "" {
			accountURL = "https://" + accountName + ".blob.core.windows.net"
		}
		return media.NewAzureOrigin(accountURL, accountName, accountKey, cfg.Media.Origin.Container)
	default:
		return media.NewS3Origin(ctx, cfg.Media.Origin.Bucket, cfg.Media.Origin.Region, cfg.Media.Origin.Endpoint)
	}
}

// noopPersister is the default initial-sync Persister until the embedding
// application registers its own host-specific write path; it reports every
// document as already persisted locally under its own documentId so a bare
// pull still exercises the bind step end to end.
type noopPersister struct{}

func (noopPersister) Persist(ctx context.Context, contentType string, item initialsync.ListItem) (string, error) {
	return item.DocumentID, nil
}

// passthroughCaptureHandler is the default capture.Handler registered for
// every configured content type until an embedding host registers its own:
// it forwards whatever payload POST /capture/{contentType}/{documentId}
// (the host's write-lifecycle webhook) was called with, since this binary
// has no host document table of its own to re-fetch a post-image from.
func passthroughCaptureHandler(_ context.Context, _ string, _ model.Operation, rawPayload []byte) ([]byte, error) {
	return rawPayload, nil
}

// makeHostApply returns the C9 apply function: resolve identity and enforce
// §4.2's orphan rule. An embedding application supplies its own host write
// (the actual content-type table this entity lives in) by wrapping this
// function; without one registered, a create binds a freshly generated
// local id and an update/delete with no existing mapping is classified as
// an orphan so the caller dead-letters it rather than silently dropping it.
func makeHostApply(st *store.Store) syncsvc.ApplyFunc {
	return func(ctx context.Context, msg model.SyncMessage) error {
		localID, err := st.Identity.Resolve(ctx, msg.ContentType, msg.DocumentID)
		if err != nil {
			return err
		}
		if localID != "" {
			return nil // already bound; host-specific mutation happens in the embedding app's own handler
		}
		if msg.Operation != model.OpCreate {
			return errs.Orphan("no identity mapping for non-create operation",
				fmt.Errorf("%s/%s", msg.ContentType, msg.DocumentID))
		}
		return st.Identity.Bind(ctx, msg.ContentType, msg.DocumentID, ulid.Gen())
	}
}
