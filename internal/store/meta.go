package store

import (
	"context"
	"database/sql"

	apperrors "github.com/creditapp/offlinesync/internal/errors"
)

// Meta keys used by the engine. The last-sync watermark is stored as the
// raw server timestamp string so it round-trips to the server untouched.
const (
	MetaSchemaVersion = "schema_version"
	MetaLastSync      = "last_sync"
)

// GetMeta reads a bookkeeping value. A missing key returns the empty
// string, not an error.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM sync_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to read meta "+key, err)
	}
	return value, nil
}

// SetMeta writes a bookkeeping value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sync_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to write meta "+key, err)
	}
	return nil
}
