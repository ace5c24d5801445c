package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func coreMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create blobs table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE blobs (
						key        TEXT     PRIMARY KEY,
						value      BLOB     NOT NULL,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)
				`)
				return err
			},
		},
	}
}

// GetBlob returns the value stored under key, or nil when the key is unset.
func (s *SQLiteStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM blobs WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %q: %w", key, err)
	}
	return value, nil
}

// SetBlob stores value under key, replacing any previous value.
func (s *SQLiteStore) SetBlob(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set blob %q: %w", key, err)
	}
	return nil
}

// DeleteBlob removes key. Deleting an unset key is not an error.
func (s *SQLiteStore) DeleteBlob(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete blob %q: %w", key, err)
	}
	return nil
}
