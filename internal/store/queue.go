package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shipsync/offline-sync/internal/model"
)

// Queue implements C3 Sync Queue: the replica-side durable outbound FIFO.
type Queue struct {
	db *sqlx.DB
}

// Enqueue persists a new outbound SyncMessage in state=pending.
func (q *Queue) Enqueue(ctx context.Context, msg model.SyncMessage) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_queue
			(message_id, ship_id, content_type, document_id, locale, operation, payload, base_version, occurred_at, attempt, state, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', now())
		ON CONFLICT (message_id) DO NOTHING
	`, msg.MessageID, msg.ShipID, msg.ContentType, msg.DocumentID, msg.Locale, msg.Operation, jsonOrNull(msg.Payload), msg.BaseVersion, msg.OccurredAt, msg.Attempt)
	if err != nil {
		return classify("enqueueing sync message", err)
	}
	return nil
}

// ClaimBatch atomically selects up to n pending, due entries for shipID and
// transitions them to "sending" in the same statement, preventing
// double-dispatch across concurrent dispatchers (§4.3).
func (q *Queue) ClaimBatch(ctx context.Context, shipID string, n int) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := withTx(ctx, q.db, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, `
			UPDATE sync_queue SET state = 'sending'
			WHERE id IN (
				SELECT id FROM sync_queue
				WHERE ship_id = $1 AND state = 'pending' AND next_attempt_at <= now()
				ORDER BY occurred_at, id
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, message_id, ship_id, content_type, document_id, locale, operation, payload,
				base_version, occurred_at, attempt, state, next_attempt_at, last_error, created_at
		`, shipID, n)
		if err != nil {
			return classify("claiming queue batch", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e model.QueueEntry
			if err := rows.StructScan(&e); err != nil {
				return classify("scanning claimed entry", err)
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// MarkSent transitions entry to "sent" after a successful publish ack.
func (q *Queue) MarkSent(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET state = 'sent' WHERE id = $1`, id)
	if err != nil {
		return classify("marking queue entry sent", err)
	}
	return nil
}

// MarkFailed records a publish failure, bumps the attempt counter, and
// reschedules the entry for nextAttemptAt = now + backoff (back to pending
// so it's reclaimable), or leaves it in "failed" terminal state when the
// caller has already decided to park it (backoff == 0 signals "do not
// requeue"; the sync service parks into the DLQ itself in that case).
func (q *Queue) MarkFailed(ctx context.Context, id int64, lastErr string, backoff time.Duration) error {
	if backoff <= 0 {
		_, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET state = 'failed', last_error = $2 WHERE id = $1`, id, lastErr)
		if err != nil {
			return classify("marking queue entry failed", err)
		}
		return nil
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET state = 'pending', attempt = attempt + 1, last_error = $2, next_attempt_at = now() + $3::interval
		WHERE id = $1
	`, id, lastErr, backoff.String())
	if err != nil {
		return classify("rescheduling queue entry", err)
	}
	return nil
}

// Delete removes a sent entry once it has aged past retention, per the
// QueueEntry lifecycle (§3 "removed on sent+ackAged").
func (q *Queue) Delete(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return classify("deleting queue entry", err)
	}
	return nil
}

// Pending returns the count of pending+sending entries for shipID.
func (q *Queue) Pending(ctx context.Context, shipID string) (int, error) {
	var n int
	err := q.db.GetContext(ctx, &n,
		`SELECT count(*) FROM sync_queue WHERE ship_id = $1 AND state IN ('pending', 'sending')`, shipID)
	if err != nil {
		return 0, classify("counting pending queue entries", err)
	}
	return n, nil
}

// List returns every entry for shipID, newest last, for the GET /queue endpoint.
func (q *Queue) List(ctx context.Context, shipID string) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	err := q.db.SelectContext(ctx, &entries,
		`SELECT id, message_id, ship_id, content_type, document_id, locale, operation, payload,
			base_version, occurred_at, attempt, state, next_attempt_at, last_error, created_at
		 FROM sync_queue WHERE ship_id = $1 ORDER BY occurred_at, id`, shipID)
	if err != nil {
		return nil, classify("listing queue", err)
	}
	return entries, nil
}

// ReviveCrashed restores any entry stuck in "sending" back to "pending" at
// startup (§4.3 "A crashed sending entry is revived to pending on startup";
// also §5's shutdown/restart contract).
func (q *Queue) ReviveCrashed(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET state = 'pending' WHERE state = 'sending'`)
	if err != nil {
		return 0, classify("reviving crashed queue entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("reviving crashed queue entries", err)
	}
	return n, nil
}

func jsonOrNull(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
