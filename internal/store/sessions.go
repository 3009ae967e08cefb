package store

import (
	"context"
	"database/sql"

	apperrors "github.com/creditapp/offlinesync/internal/errors"
	"github.com/creditapp/offlinesync/internal/models"
)

// SaveSession appends one sync cycle's outcome to the session log.
func (s *Store) SaveSession(ctx context.Context, session *models.SyncSession) error {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO sync_sessions (started_at, finished_at, pushed, failed, rejected, pulled, error)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.StartedAt, session.FinishedAt, session.Pushed, session.Failed,
		session.Rejected, session.Pulled, session.Error)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to record sync session", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		session.ID = id
	}
	return nil
}

// LastSession returns the most recent sync cycle outcome, or nil if no
// cycle has run yet.
func (s *Store) LastSession(ctx context.Context) (*models.SyncSession, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, started_at, finished_at, pushed, failed, rejected, pulled, error
	FROM sync_sessions ORDER BY id DESC LIMIT 1`)

	var sess models.SyncSession
	err := row.Scan(&sess.ID, &sess.StartedAt, &sess.FinishedAt, &sess.Pushed,
		&sess.Failed, &sess.Rejected, &sess.Pulled, &sess.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to read sync session", err)
	}
	return &sess, nil
}
