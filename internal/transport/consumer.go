package transport

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/shipsync/offline-sync/internal/errs"
	"github.com/shipsync/offline-sync/internal/logging"
	"github.com/shipsync/offline-sync/internal/model"
)

// Handler applies one decoded SyncMessage. The consumer commits the record's
// offset only after Handler returns a nil error, so a Handler must itself be
// idempotent against redelivery (the message tracker, C1, provides that).
type Handler func(ctx context.Context, msg model.SyncMessage) error

// Consumer implements C9: a group consumer over one topic with manual offset
// commit, so a crash between apply and commit redelivers rather than loses
// (§4.9 "at-least-once; dedup happens upstream of this package").
type Consumer struct {
	client *kgo.Client
}

func NewConsumer(cfg BusConfig, group string, topics ...string) (*Consumer, error) {
	opts := append(clientOpts(cfg),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsRevoked(func(ctx context.Context, c *kgo.Client, _ map[string][]int32) {
			if err := c.CommitMarkedOffsets(ctx); err != nil {
				logging.Warnf("transport: commit on revoke failed: %v", err)
			}
		}),
	)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errs.Config("building bus consumer", err)
	}
	return &Consumer{client: client}, nil
}

// Run polls until ctx is canceled, decoding each record and invoking handle.
// A decode failure (KindSchema) is logged and the offset still commits —
// a message this build cannot parse will never parse on redelivery either,
// so retrying it forever would stall the partition; the dead-letter queue
// is the caller's escape hatch for payload-shaped failures, not this loop's.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if fetchErrs := fetches.Errors(); len(fetchErrs) > 0 {
			for _, fe := range fetchErrs {
				logging.Warnf("transport: fetch error on %s/%d: %v", fe.Topic, fe.Partition, fe.Err)
			}
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			msg, err := Decode(rec.Value)
			if err != nil {
				logging.Errorf("transport: dropping unparseable record offset=%d: %v", rec.Offset, err)
				c.client.MarkCommitRecords(rec)
				return
			}
			if err := handle(ctx, msg); err != nil {
				if errs.KindOf(err) == errs.KindShutdown {
					return // leave uncommitted; redeliver after restart
				}
				logging.Warnf("transport: handler failed for message %s: %v", msg.MessageID, err)
				return // leave uncommitted; redeliver and retry
			}
			c.client.MarkCommitRecords(rec)
		})

		if err := c.client.CommitMarkedOffsets(ctx); err != nil {
			logging.Warnf("transport: commit failed: %v", err)
		}
	}
}

// Healthy performs a cheap broker metadata round-trip, for the HTTP API's
// health/ready and health endpoints (§6).
func (c *Consumer) Healthy(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *Consumer) Close() { c.client.Close() }
