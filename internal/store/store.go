// Package store is the replication engine's relational persistence layer: a
// minimal SQL abstraction (prepared statements + transactions) over
// Postgres, deliberately avoiding the driver-specific branching the source
// system used for its SQLite/Postgres/MySQL migration scripts (§9
// "Heterogeneous storage"). Every table is a normalized row shape — no
// driver-specific JSON querying.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration
	"github.com/pressly/goose/v3"

	"github.com/shipsync/offline-sync/internal/errs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store bundles the connection pool and the component-scoped accessors
// built on top of it (Tracker, IdentityMapper, Queue, DeadLetterQueue,
// ShipTracker, Conflicts).
type Store struct {
	DB *sqlx.DB

	Tracker         *Tracker
	Identity        *IdentityMapper
	Queue           *Queue
	DeadLetters     *DeadLetterQueue
	Ships           *ShipTracker
	Conflicts       *ConflictStore
}

// Open connects to Postgres, runs pending goose migrations, and wires every
// component accessor against the shared pool.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, errs.Transient("connecting to database", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, errs.Config("setting migration dialect", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, errs.Config("running migrations", err)
	}

	return Wrap(db), nil
}

// Wrap builds a Store around an already-connected, already-migrated pool.
// Exported so tests (and anything wanting a sqlmock-backed pool) can get a
// fully wired Store without going through Open's real-network connect and
// goose migration run.
func Wrap(db *sqlx.DB) *Store {
	s := &Store{DB: db}
	s.Tracker = &Tracker{db: db}
	s.Identity = &IdentityMapper{db: db}
	s.Queue = &Queue{db: db}
	s.DeadLetters = &DeadLetterQueue{db: db}
	s.Ships = &ShipTracker{db: db}
	s.Conflicts = &ConflictStore{db: db}
	return s
}

func (s *Store) Close() error { return s.DB.Close() }

// Ready reports whether the pool can still serve a trivial query; backs
// GET /health/ready.
func (s *Store) Ready(ctx context.Context) bool {
	return s.DB.PingContext(ctx) == nil
}

// classify turns a raw sql/pgx error into the taxonomy, special-casing
// "connection closed"-style failures as shutdown rather than transient so
// callers resume quietly on restart instead of retrying into a dead pool.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrConnDone || err == sql.ErrTxDone {
		return errs.Shutdown(op, err)
	}
	return errs.Transient(op, err)
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

// AdvisoryLock acquires a per-document transaction-scoped advisory lock
// (§5: "serialized by acquiring a per-document advisory lock (keyed by
// hash(contentType||documentId)) for the duration of the transaction").
// The hash itself lives in internal/conflict so the conflict resolver can
// reuse the exact same key derivation when it takes the same lock before
// reading current version (TOCTOU avoidance, §5).
func AdvisoryLock(ctx context.Context, tx *sqlx.Tx, key int64) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	if err != nil {
		return classify(fmt.Sprintf("advisory lock %d", key), err)
	}
	return nil
}
