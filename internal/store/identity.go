package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/shipsync/offline-sync/internal/model"
)

// IdentityMapper implements C2: maps (contentType, documentId) to a local
// database row, and back.
type IdentityMapper struct {
	db *sqlx.DB
}

// Resolve returns the local id bound to (contentType, documentId), or ""
// if no mapping exists.
func (m *IdentityMapper) Resolve(ctx context.Context, contentType, documentID string) (string, error) {
	var localID string
	err := m.db.GetContext(ctx, &localID,
		`SELECT local_id FROM identity_mappings WHERE content_type = $1 AND document_id = $2`,
		contentType, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify("resolving identity mapping", err)
	}
	return localID, nil
}

// Reverse returns the documentId bound to a local row, or "" if unbound.
func (m *IdentityMapper) Reverse(ctx context.Context, contentType, localID string) (string, error) {
	var documentID string
	err := m.db.GetContext(ctx, &documentID,
		`SELECT document_id FROM identity_mappings WHERE content_type = $1 AND local_id = $2`,
		contentType, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify("resolving reverse identity mapping", err)
	}
	return documentID, nil
}

// Bind establishes (or re-confirms) a mapping. Idempotent: calling Bind
// repeatedly with the same arguments leaves the mapping unchanged (§8
// "Idempotent bind").
func (m *IdentityMapper) Bind(ctx context.Context, contentType, documentID, localID string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO identity_mappings (content_type, document_id, local_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_type, document_id) DO UPDATE SET local_id = EXCLUDED.local_id
	`, contentType, documentID, localID)
	if err != nil {
		return classify("binding identity mapping", err)
	}
	return nil
}

// BulkBind binds many mappings in a single transaction, used by initial
// sync bootstrap (C12).
func (m *IdentityMapper) BulkBind(ctx context.Context, entries []model.IdentityMapping) error {
	return withTx(ctx, m.db, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO identity_mappings (content_type, document_id, local_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (content_type, document_id) DO UPDATE SET local_id = EXCLUDED.local_id
		`)
		if err != nil {
			return classify("preparing bulk bind", err)
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.ContentType, e.DocumentID, e.LocalID); err != nil {
				return classify("bulk binding identity mapping", err)
			}
		}
		return nil
	})
}
