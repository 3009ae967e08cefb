package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/creditapp/offlinesync/internal/errors"
	"github.com/creditapp/offlinesync/internal/models"
)

// execer abstracts *sql.DB and *sql.Tx so every record operation has a
// transactional variant sharing one implementation.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Put inserts or replaces a record by its local id.
func (s *Store) Put(ctx context.Context, collection string, rec *models.Record) error {
	return s.putOn(ctx, s.db, collection, rec)
}

// PutTx is Put inside a caller-managed transaction.
func (s *Store) PutTx(ctx context.Context, tx *sql.Tx, collection string, rec *models.Record) error {
	return s.putOn(ctx, tx, collection, rec)
}

func (s *Store) putOn(ctx context.Context, db execer, collection string, rec *models.Record) error {
	if _, err := s.Spec(collection); err != nil {
		return err
	}
	if rec.LocalID == "" {
		return apperrors.New(apperrors.ErrInvalid, "record has no local id")
	}
	if len(rec.Payload) == 0 || !json.Valid(rec.Payload) {
		return apperrors.New(apperrors.ErrInvalid, "record payload is not valid JSON")
	}

	query := fmt.Sprintf(`
	INSERT INTO %q (local_id, server_id, pending_sync, created_at, synced_at, payload)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		server_id    = excluded.server_id,
		pending_sync = excluded.pending_sync,
		synced_at    = excluded.synced_at,
		payload      = excluded.payload
	`, collection)

	_, err := db.ExecContext(ctx, query,
		rec.LocalID, rec.ServerID, rec.PendingSync, rec.CreatedAt, rec.SyncedAt, string(rec.Payload))
	if err != nil {
		if isBusy(err) {
			return apperrors.Wrap(apperrors.ErrTransactionAborted, "put conflicted with a concurrent write", err)
		}
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to write record", err)
	}
	return nil
}

// Get retrieves a record by local id.
func (s *Store) Get(ctx context.Context, collection, localID string) (*models.Record, error) {
	return s.getOn(ctx, s.db, collection, localID)
}

// GetTx is Get inside a caller-managed transaction.
func (s *Store) GetTx(ctx context.Context, tx *sql.Tx, collection, localID string) (*models.Record, error) {
	return s.getOn(ctx, tx, collection, localID)
}

func (s *Store) getOn(ctx context.Context, db execer, collection, localID string) (*models.Record, error) {
	if _, err := s.Spec(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT local_id, server_id, pending_sync, created_at, synced_at, payload FROM %q WHERE local_id = ?",
		collection)

	rec, err := scanRecord(db.QueryRowContext(ctx, query, localID))
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %s not found in %s", localID, collection)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to read record", err)
	}
	return rec, nil
}

// GetAll returns every record in a collection. Order is stable within one
// store generation: creation time, then local id.
func (s *Store) GetAll(ctx context.Context, collection string) ([]*models.Record, error) {
	if _, err := s.Spec(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT local_id, server_id, pending_sync, created_at, synced_at, payload FROM %q ORDER BY created_at, local_id",
		collection)

	return s.queryRecords(ctx, query)
}

// GetByIndex looks records up through a declared secondary index.
func (s *Store) GetByIndex(ctx context.Context, collection, indexName string, value interface{}) ([]*models.Record, error) {
	spec, err := s.Spec(collection)
	if err != nil {
		return nil, err
	}

	var field string
	for _, idx := range spec.Indexes {
		if idx.Name == indexName {
			field = idx.Field
			break
		}
	}
	if field == "" {
		return nil, apperrors.Newf(apperrors.ErrIndexNotFound, "collection %q has no index %q", collection, indexName)
	}

	// Expression matches the index DDL so SQLite can use it.
	query := fmt.Sprintf(
		"SELECT local_id, server_id, pending_sync, created_at, synced_at, payload FROM %q "+
			"WHERE json_extract(payload, '$.%s') = ? ORDER BY created_at, local_id",
		collection, field)

	return s.queryRecords(ctx, query, value)
}

// GetPending returns the records of a collection still awaiting server
// acknowledgment, oldest first.
func (s *Store) GetPending(ctx context.Context, collection string) ([]*models.Record, error) {
	if _, err := s.Spec(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT local_id, server_id, pending_sync, created_at, synced_at, payload FROM %q "+
			"WHERE pending_sync = 1 ORDER BY created_at, local_id",
		collection)

	return s.queryRecords(ctx, query)
}

// MarkSyncedTx records a server acknowledgment on the envelope columns
// only: server id assigned, pendingSync cleared, syncedAt stamped. The
// payload column is not touched, so a write that landed after the
// caller's snapshot survives.
func (s *Store) MarkSyncedTx(ctx context.Context, tx *sql.Tx, collection, localID, serverID string, syncedAt int64) error {
	if _, err := s.Spec(collection); err != nil {
		return err
	}

	query := fmt.Sprintf(
		"UPDATE %q SET server_id = ?, pending_sync = 0, synced_at = ? WHERE local_id = ?",
		collection)

	res, err := tx.ExecContext(ctx, query, serverID, syncedAt, localID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to mark record synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "record %s not found in %s", localID, collection)
	}
	return nil
}

// SetServerIDTx records the server-assigned id without touching the
// pending state or the payload.
func (s *Store) SetServerIDTx(ctx context.Context, tx *sql.Tx, collection, localID, serverID string) error {
	if _, err := s.Spec(collection); err != nil {
		return err
	}

	query := fmt.Sprintf("UPDATE %q SET server_id = ? WHERE local_id = ?", collection)
	if _, err := tx.ExecContext(ctx, query, serverID, localID); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to set server id", err)
	}
	return nil
}

// Delete removes a record. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, collection, localID string) error {
	return s.deleteOn(ctx, s.db, collection, localID)
}

// DeleteTx is Delete inside a caller-managed transaction.
func (s *Store) DeleteTx(ctx context.Context, tx *sql.Tx, collection, localID string) error {
	return s.deleteOn(ctx, tx, collection, localID)
}

func (s *Store) deleteOn(ctx context.Context, db execer, collection, localID string) error {
	if _, err := s.Spec(collection); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %q WHERE local_id = ?", collection)
	if _, err := db.ExecContext(ctx, query, localID); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to delete record", err)
	}
	return nil
}

// PurgeSynced removes already-acknowledged records older than the cutoff.
// Pending records are never touched. Returns the number of records removed.
func (s *Store) PurgeSynced(ctx context.Context, collection string, olderThan time.Time) (int64, error) {
	if _, err := s.Spec(collection); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(
		"DELETE FROM %q WHERE pending_sync = 0 AND synced_at > 0 AND synced_at < ?",
		collection)

	res, err := s.db.ExecContext(ctx, query, olderThan.Unix())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to purge synced records", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to query records", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to scan record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to iterate records", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var payload string
	if err := row.Scan(&rec.LocalID, &rec.ServerID, &rec.PendingSync, &rec.CreatedAt, &rec.SyncedAt, &payload); err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}
