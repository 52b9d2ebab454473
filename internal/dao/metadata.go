package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MetadataDAO provides access to the metadata key/value table
type MetadataDAO struct {
	q Querier
}

// NewMetadataDAO creates a new MetadataDAO
func NewMetadataDAO(q Querier) *MetadataDAO {
	return &MetadataDAO{q: q}
}

// Get retrieves a value by key
func (d *MetadataDAO) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := d.q.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get metadata %q: %w", key, err)
	}
	return value, nil
}

// Put inserts or updates a value
func (d *MetadataDAO) Put(ctx context.Context, key, value string) error {
	_, err := d.q.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to put metadata %q: %w", key, err)
	}
	return nil
}

// Delete removes a key
func (d *MetadataDAO) Delete(ctx context.Context, key string) error {
	if err := affected(d.q.ExecContext(ctx, "DELETE FROM metadata WHERE key = ?", key)); err != nil {
		return fmt.Errorf("failed to delete metadata %q: %w", key, err)
	}
	return nil
}
