package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shipsync/offline-sync/internal/model"
)

// ShipTracker implements C5: the master-side registry of known replicas.
type ShipTracker struct {
	db *sqlx.DB
}

// UpsertSeen records a heartbeat/contact from shipID, creating the row on
// first contact and marking it online.
func (s *ShipTracker) UpsertSeen(ctx context.Context, shipID, shipName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ships (ship_id, ship_name, connectivity_status, last_seen_at)
		VALUES ($1, $2, 'online', now())
		ON CONFLICT (ship_id) DO UPDATE
			SET ship_name = EXCLUDED.ship_name, connectivity_status = 'online', last_seen_at = now()
	`, shipID, shipName)
	if err != nil {
		return classify("recording ship heartbeat", err)
	}
	return nil
}

// SetStatus explicitly transitions a ship's connectivity status, used by
// the housekeeper's offline-detection sweep (§4.5).
func (s *ShipTracker) SetStatus(ctx context.Context, shipID string, status model.ConnectivityStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ships SET connectivity_status = $2 WHERE ship_id = $1`, shipID, status)
	if err != nil {
		return classify("setting ship status", err)
	}
	return nil
}

// ListShips returns every known replica, for GET /ships (master only).
func (s *ShipTracker) ListShips(ctx context.Context) ([]model.Ship, error) {
	var ships []model.Ship
	err := s.db.SelectContext(ctx, &ships,
		`SELECT ship_id, ship_name, connectivity_status, last_seen_at, created_at FROM ships ORDER BY ship_id`)
	if err != nil {
		return nil, classify("listing ships", err)
	}
	return ships, nil
}

// MarkStaleOffline flips any ship whose last_seen_at predates the
// heartbeat-derived cutoff to offline, and returns how many changed
// (§4.5: "a ship transitions to offline if lastSeenAt is older than
// 2 x heartbeatInterval").
func (s *ShipTracker) MarkStaleOffline(ctx context.Context, heartbeatInterval time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-2 * heartbeatInterval)
	res, err := s.db.ExecContext(ctx, `
		UPDATE ships SET connectivity_status = 'offline'
		WHERE connectivity_status = 'online' AND last_seen_at < $1
	`, cutoff)
	if err != nil {
		return 0, classify("marking stale ships offline", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("marking stale ships offline", err)
	}
	return n, nil
}
