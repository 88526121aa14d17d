package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shipsync/offline-sync/internal/errs"
	"github.com/shipsync/offline-sync/internal/model"
)

// Tracker implements C1 Message Tracker: idempotent apply bookkeeping.
type Tracker struct {
	db *sqlx.DB

	// shuttingDown is flipped by Close so Cleanup can noop per §4.1's
	// contract ("MUST noop if the database is shutting down").
	shuttingDown bool
}

// IsProcessed reports whether messageId has already been recorded.
func (t *Tracker) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := t.db.GetContext(ctx, &n, `SELECT count(*) FROM processed_messages WHERE message_id = $1`, messageID)
	if err != nil {
		return false, classify("checking processed message", err)
	}
	return n > 0, nil
}

// MarkProcessed records messageId as applied. It is idempotent: a duplicate
// insert collapses on the unique key and returns (false, nil) rather than an
// error, per §4.1. A prior "failed" row may be promoted to "processed"; the
// reverse transition is rejected.
func (t *Tracker) MarkProcessed(ctx context.Context, msg model.SyncMessage) (bool, error) {
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id, ship_id, content_type, document_id, operation, status, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE
			SET status = EXCLUDED.status, processed_at = EXCLUDED.processed_at
			WHERE processed_messages.status = 'failed' AND EXCLUDED.status = 'processed'
	`, msg.MessageID, msg.ShipID, msg.ContentType, msg.DocumentID, msg.Operation, model.ProcessedOK, time.Now().UTC())
	if err != nil {
		return false, classify("marking message processed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("marking message processed", err)
	}
	return n > 0, nil
}

// MarkFailed records a terminal apply failure for messageId, available for
// later replay/promotion.
func (t *Tracker) MarkFailed(ctx context.Context, msg model.SyncMessage) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id, ship_id, content_type, document_id, operation, status, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING
	`, msg.MessageID, msg.ShipID, msg.ContentType, msg.DocumentID, msg.Operation, model.ProcessedFailed, time.Now().UTC())
	if err != nil {
		return classify("marking message failed", err)
	}
	return nil
}

// Cleanup deletes processed_messages rows older than retentionDays, and
// returns the number deleted. Noops (returns 0, nil) once Close has been
// called, per §4.1.
func (t *Tracker) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if t.shuttingDown {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := t.db.ExecContext(ctx, `DELETE FROM processed_messages WHERE processed_at < $1`, cutoff)
	if err != nil {
		if errs.Is(err, errs.KindShutdown) {
			return 0, nil
		}
		return 0, classify("cleaning up processed messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("cleaning up processed messages", err)
	}
	return n, nil
}

// Close marks the tracker as shutting down so in-flight Cleanup calls noop
// rather than racing a closing pool (§7 Shutdown taxonomy).
func (t *Tracker) Close() { t.shuttingDown = true }

// TrackerStats summarizes processed-message counts for the health endpoint.
type TrackerStats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

func (t *Tracker) Stats(ctx context.Context) (TrackerStats, error) {
	var s TrackerStats
	err := t.db.GetContext(ctx, &s.Processed, `SELECT count(*) FROM processed_messages WHERE status = $1`, model.ProcessedOK)
	if err != nil {
		return s, classify("tracker stats", err)
	}
	err = t.db.GetContext(ctx, &s.Failed, `SELECT count(*) FROM processed_messages WHERE status = $1`, model.ProcessedFailed)
	if err != nil {
		return s, classify("tracker stats", err)
	}
	return s, nil
}
