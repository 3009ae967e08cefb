// Package queue manages the durable pending-change queue. Entries
// reference records by collection and local id, never by payload copy:
// the record's current value in the store is what gets pushed, so an
// edit before sync cannot diverge from its queued representation.
package queue

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/creditapp/offlinesync/internal/errors"
	"github.com/creditapp/offlinesync/internal/models"
)

// Queue persists not-yet-acknowledged operations in the store's reserved
// sync_queue table. FIFO order is the autoincrement rowid: dependent
// writes created later can never be reordered ahead of their dependency.
type Queue struct {
	db *sql.DB
}

// New creates a Queue over the store's database handle.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Enqueue appends or coalesces an entry for (collection, localId). If an
// entry already exists, the operation kind is kept (an update to a
// not-yet-synced create is still, overall, a create), the order hint is
// refreshed, and a terminal mark from an earlier rejection is cleared so
// the edited record re-enters automatic retry.
func (q *Queue) Enqueue(ctx context.Context, collection, localID string, op models.Operation) error {
	return q.enqueueOn(ctx, q.db, collection, localID, op)
}

// EnqueueTx is Enqueue inside a caller-managed transaction, so a record
// write and its queue entry commit atomically.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, collection, localID string, op models.Operation) error {
	return q.enqueueOn(ctx, tx, collection, localID, op)
}

func (q *Queue) enqueueOn(ctx context.Context, db execer, collection, localID string, op models.Operation) error {
	if op != models.OpCreate && op != models.OpUpdate {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown operation kind %q", op)
	}

	now := time.Now().Unix()
	_, err := db.ExecContext(ctx, `
	INSERT INTO sync_queue (collection, local_id, operation, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(collection, local_id) DO UPDATE SET
		updated_at  = excluded.updated_at,
		retry_count = 0,
		terminal    = 0,
		last_error  = ''`,
		collection, localID, string(op), now, now)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to enqueue entry", err)
	}
	return nil
}

// ListPending returns all non-terminal entries in submission order.
func (q *Queue) ListPending(ctx context.Context) ([]*models.QueueEntry, error) {
	return q.list(ctx,
		"SELECT id, collection, local_id, operation, retry_count, terminal, last_error, created_at, updated_at "+
			"FROM sync_queue WHERE terminal = 0 ORDER BY id")
}

// ListPendingCollection returns the non-terminal entries of one
// collection in submission order.
func (q *Queue) ListPendingCollection(ctx context.Context, collection string) ([]*models.QueueEntry, error) {
	return q.list(ctx,
		"SELECT id, collection, local_id, operation, retry_count, terminal, last_error, created_at, updated_at "+
			"FROM sync_queue WHERE terminal = 0 AND collection = ? ORDER BY id", collection)
}

// ListTerminal returns entries excluded from automatic retry after a
// server rejection, for surfacing to the user.
func (q *Queue) ListTerminal(ctx context.Context) ([]*models.QueueEntry, error) {
	return q.list(ctx,
		"SELECT id, collection, local_id, operation, retry_count, terminal, last_error, created_at, updated_at "+
			"FROM sync_queue WHERE terminal = 1 ORDER BY id")
}

func (q *Queue) list(ctx context.Context, query string, args ...interface{}) ([]*models.QueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to list queue entries", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		var op string
		if err := rows.Scan(&e.ID, &e.Collection, &e.LocalID, &op, &e.RetryCount,
			&e.Terminal, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to scan queue entry", err)
		}
		e.Operation = models.Operation(op)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to iterate queue entries", err)
	}
	return entries, nil
}

// Get retrieves one entry by id.
func (q *Queue) Get(ctx context.Context, entryID int64) (*models.QueueEntry, error) {
	entries, err := q.list(ctx,
		"SELECT id, collection, local_id, operation, retry_count, terminal, last_error, created_at, updated_at "+
			"FROM sync_queue WHERE id = ?", entryID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "queue entry %d not found", entryID)
	}
	return entries[0], nil
}

// Resolve removes an entry after successful server acknowledgment.
func (q *Queue) Resolve(ctx context.Context, entryID int64) error {
	return q.resolveOn(ctx, q.db, entryID)
}

// ResolveTx is Resolve inside a caller-managed transaction, paired with
// the record update that records the acknowledgment.
func (q *Queue) ResolveTx(ctx context.Context, tx *sql.Tx, entryID int64) error {
	return q.resolveOn(ctx, tx, entryID)
}

func (q *Queue) resolveOn(ctx context.Context, db execer, entryID int64) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", entryID); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to resolve queue entry", err)
	}
	return nil
}

// Requeue leaves an entry pending after a failed attempt, incrementing
// its retry counter for the next cycle.
func (q *Queue) Requeue(ctx context.Context, entryID int64, cause string) error {
	now := time.Now().Unix()
	_, err := q.db.ExecContext(ctx,
		"UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ?, updated_at = ? WHERE id = ?",
		cause, now, entryID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to requeue entry", err)
	}
	return nil
}

// MarkTerminal excludes an entry from automatic retry after the server
// rejected its data shape. The entry stays visible until the user edits
// the record, which clears the mark through Enqueue coalescing.
func (q *Queue) MarkTerminal(ctx context.Context, entryID int64, cause string) error {
	now := time.Now().Unix()
	_, err := q.db.ExecContext(ctx,
		"UPDATE sync_queue SET terminal = 1, last_error = ?, updated_at = ? WHERE id = ?",
		cause, now, entryID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to mark entry terminal", err)
	}
	return nil
}

// CountPending returns the total number of unresolved entries, terminal
// ones included: a rejected record still needs the user's attention, so
// it stays on the badge.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to count queue entries", err)
	}
	return n, nil
}
