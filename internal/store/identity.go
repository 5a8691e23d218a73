package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront-sync/internal/identity"
)

// LoadIdentity returns the persisted identity, or (nil, nil) when none is stored.
func (s *SQLite) LoadIdentity(ctx context.Context) (*identity.Record, error) {
	var (
		rec       identity.Record
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, email, format_version, updated_at
		FROM identity WHERE slot = 1
	`).Scan(&rec.Token, &rec.UserID, &rec.Email, &rec.FormatVersion, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &rec, nil
}

// SaveIdentity replaces the persisted identity.
func (s *SQLite) SaveIdentity(ctx context.Context, rec identity.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity (slot, token, user_id, email, format_version, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			email = excluded.email,
			format_version = excluded.format_version,
			updated_at = excluded.updated_at
	`, rec.Token, rec.UserID, rec.Email, rec.FormatVersion, rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}

// ClearIdentity removes the persisted identity. Idempotent.
func (s *SQLite) ClearIdentity(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identity`); err != nil {
		return fmt.Errorf("clearing identity: %w", err)
	}
	return nil
}

var _ identity.Store = (*SQLite)(nil)
