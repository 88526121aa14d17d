package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shipsync/offline-sync/internal/model"
)

// DeadLetterQueue implements C4: a durable park for messages that exhausted
// retries or can never be applied (orphan, schema error). Upstream must
// never lose a message — park, never drop (§4.4).
type DeadLetterQueue struct {
	db *sqlx.DB
}

// Park records msg as dead-lettered with the given reason, or bumps the
// seen-count/timestamp if it's already parked.
func (d *DeadLetterQueue) Park(ctx context.Context, msg model.SyncMessage, reason string) error {
	now := time.Now().UTC()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO dead_letters
			(message_id, ship_id, content_type, document_id, operation, payload, reason, state, attempts, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'exhausted', 1, $8, $8)
		ON CONFLICT (message_id) DO UPDATE
			SET attempts = dead_letters.attempts + 1, last_seen_at = $8, reason = EXCLUDED.reason
	`, msg.MessageID, msg.ShipID, msg.ContentType, msg.DocumentID, msg.Operation, jsonOrNull(msg.Payload), reason, now)
	if err != nil {
		return classify("parking message", err)
	}
	return nil
}

// DeadLetterFilter narrows List to a subset, e.g. state or content type.
type DeadLetterFilter struct {
	State       model.DeadLetterState
	ContentType string
}

// List returns dead letters matching filter.
func (d *DeadLetterQueue) List(ctx context.Context, f DeadLetterFilter) ([]model.DeadLetterEntry, error) {
	q := `SELECT id, message_id, ship_id, content_type, document_id, operation, payload,
			reason, state, attempts, last_error, first_seen_at, last_seen_at
		  FROM dead_letters WHERE ($1 = '' OR state = $1) AND ($2 = '' OR content_type = $2)
		  ORDER BY first_seen_at`

	var entries []model.DeadLetterEntry
	if err := d.db.SelectContext(ctx, &entries, q, f.State, f.ContentType); err != nil {
		return nil, classify("listing dead letters", err)
	}
	return entries, nil
}

// Retry moves a parked entry back to "retrying" and bumps last_seen_at. It
// only changes the row's state; it does not re-apply the message.
func (d *DeadLetterQueue) Retry(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE dead_letters SET state = 'retrying', last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return classify("retrying dead letter", err)
	}
	return nil
}

// Resolve marks a dead letter resolved with a free-form operator action
// (e.g. "rebind", "discard").
func (d *DeadLetterQueue) Resolve(ctx context.Context, id int64, action string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE dead_letters SET state = 'resolved', reason = reason || ' / resolved: ' || $2 WHERE id = $1`, id, action)
	if err != nil {
		return classify("resolving dead letter", err)
	}
	return nil
}

// DeadLetterStats is the §4.4/§6 {pending, retrying, exhausted, resolved} summary.
type DeadLetterStats struct {
	Pending   int64 `json:"pending"`
	Retrying  int64 `json:"retrying"`
	Exhausted int64 `json:"exhausted"`
	Resolved  int64 `json:"resolved"`
}

func (d *DeadLetterQueue) Stats(ctx context.Context) (DeadLetterStats, error) {
	var s DeadLetterStats
	rows, err := d.db.QueryxContext(ctx, `SELECT state, count(*) FROM dead_letters GROUP BY state`)
	if err != nil {
		return s, classify("dead letter stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return s, classify("scanning dead letter stats", err)
		}
		switch model.DeadLetterState(state) {
		case model.DeadLetterPending:
			s.Pending = n
		case model.DeadLetterRetrying:
			s.Retrying = n
		case model.DeadLetterExhausted:
			s.Exhausted = n
		case model.DeadLetterResolved:
			s.Resolved = n
		}
	}
	return s, rows.Err()
}
