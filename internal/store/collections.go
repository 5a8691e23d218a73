package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-sync/internal/localcache"
	"storefront-sync/internal/model"
)

// SaveCollection replaces the persisted snapshot of one local collection.
// Position records insertion order.
func (s *SQLite) SaveCollection(ctx context.Context, kind model.Kind, items []model.Item) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM local_items WHERE kind = ?`, string(kind)); err != nil {
			return fmt.Errorf("clearing %s snapshot: %w", kind, err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO local_items (kind, item_id, position, name, price, image_url, quantity)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for pos, it := range items {
			if _, err := stmt.ExecContext(ctx, string(kind), it.ID, pos, it.Name, it.Price, it.ImageURL, it.Quantity); err != nil {
				return fmt.Errorf("saving %s item %s: %w", kind, it.ID, err)
			}
		}
		return nil
	})
}

// LoadCollection returns the persisted snapshot in insertion order.
func (s *SQLite) LoadCollection(ctx context.Context, kind model.Kind) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, name, price, image_url, quantity
		FROM local_items WHERE kind = ?
		ORDER BY position
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("loading %s snapshot: %w", kind, err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Price, &it.ImageURL, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scanning %s item: %w", kind, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

var _ localcache.Persister = (*SQLite)(nil)
