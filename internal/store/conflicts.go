package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/shipsync/offline-sync/internal/model"
)

// ConflictStore persists ConflictRecord rows created by the conflict
// resolver's "manual" strategy (§4.6) and serves the GET/POST /conflicts
// endpoints.
type ConflictStore struct {
	db *sqlx.DB
}

// Create opens a new conflict record in state=open.
func (c *ConflictStore) Create(ctx context.Context, rec model.ConflictRecord) (int64, error) {
	var id int64
	err := c.db.GetContext(ctx, &id, `
		INSERT INTO conflicts (message_id, content_type, document_id, local_snapshot, remote_snapshot, detected_at, state)
		VALUES ($1, $2, $3, $4, $5, now(), 'open')
		RETURNING id
	`, rec.MessageID, rec.ContentType, rec.DocumentID, jsonOrNull(rec.LocalSnapshot), jsonOrNull(rec.RemoteSnapshot))
	if err != nil {
		return 0, classify("creating conflict record", err)
	}
	return id, nil
}

// Get fetches a single conflict by id.
func (c *ConflictStore) Get(ctx context.Context, id int64) (model.ConflictRecord, error) {
	var rec model.ConflictRecord
	err := c.db.GetContext(ctx, &rec, `
		SELECT id, message_id, content_type, document_id, local_snapshot, remote_snapshot, detected_at, state, resolution
		FROM conflicts WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, errConflictNotFound
	}
	if err != nil {
		return rec, classify("getting conflict record", err)
	}
	return rec, nil
}

// List returns every conflict, newest first.
func (c *ConflictStore) List(ctx context.Context) ([]model.ConflictRecord, error) {
	var recs []model.ConflictRecord
	err := c.db.SelectContext(ctx, &recs, `
		SELECT id, message_id, content_type, document_id, local_snapshot, remote_snapshot, detected_at, state, resolution
		FROM conflicts ORDER BY detected_at DESC
	`)
	if err != nil {
		return nil, classify("listing conflicts", err)
	}
	return recs, nil
}

// Resolve records the chosen resolution (the strategy name) and closes the
// conflict. It only updates the conflict row: neither stored snapshot is
// applied to the document.
func (c *ConflictStore) Resolve(ctx context.Context, id int64, resolution string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE conflicts SET state = 'resolved', resolution = $2 WHERE id = $1`, id, resolution)
	if err != nil {
		return classify("resolving conflict record", err)
	}
	return nil
}

var errConflictNotFound = errors.New("conflict record not found")

// ErrConflictNotFound is returned by Get when no such conflict exists.
func ErrConflictNotFound() error { return errConflictNotFound }
