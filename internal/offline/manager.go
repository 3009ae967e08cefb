// Package offline is the application-facing surface of the sync engine.
// Callers create and read records here; queueing, connectivity, and the
// sync lifecycle stay behind the Manager.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/creditapp/offlinesync/internal/errors"
	"github.com/creditapp/offlinesync/internal/logging"
	"github.com/creditapp/offlinesync/internal/models"
	"github.com/creditapp/offlinesync/internal/monitor"
	"github.com/creditapp/offlinesync/internal/queue"
	"github.com/creditapp/offlinesync/internal/record"
	"github.com/creditapp/offlinesync/internal/store"
	enginepkg "github.com/creditapp/offlinesync/internal/sync"
)

// Manager owns the offline data path: durable writes paired atomically
// with queue entries, reads from the local store, and sync triggering.
type Manager struct {
	store   *store.Store
	queue   *queue.Queue
	engine  *enginepkg.Engine
	monitor *monitor.Monitor
	log     *logrus.Entry
}

// New wires a Manager over its collaborators. monitor may be nil for
// callers that only need one-shot operation.
func New(st *store.Store, q *queue.Queue, eng *enginepkg.Engine, mon *monitor.Monitor) *Manager {
	return &Manager{
		store:   st,
		queue:   q,
		engine:  eng,
		monitor: mon,
		log:     logging.WithComponent("offline"),
	}
}

// Start launches background connectivity monitoring and scheduling.
func (m *Manager) Start(ctx context.Context) error {
	if m.monitor == nil {
		return nil
	}
	return m.monitor.Start(ctx)
}

// Stop halts background work and closes nothing: the caller owns the
// store handle.
func (m *Manager) Stop() {
	if m.monitor != nil {
		m.monitor.Stop()
	}
}

// CreateOffline persists a new record and its queue entry in one
// transaction, so the write and its pending-sync intent cannot diverge.
// The record is immediately readable and carries its permanent local id.
func (m *Manager) CreateOffline(ctx context.Context, collection string, payload json.RawMessage) (*models.Record, error) {
	rec, err := record.Tag(collection, payload)
	if err != nil {
		return nil, err
	}

	err = m.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := m.store.PutTx(ctx, tx, collection, rec); err != nil {
			return err
		}
		return m.queue.EnqueueTx(ctx, tx, collection, rec.LocalID, models.OpCreate)
	})
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"collection": collection,
		"local_id":   rec.LocalID,
	}).Info("record saved offline")
	m.engine.Notifier().Publish(enginepkg.Event{
		Type:       enginepkg.EventQueued,
		Collection: collection,
		LocalID:    rec.LocalID,
	})
	m.TriggerSync(ctx)
	return rec, nil
}

// UpdateOffline replaces a record's payload and re-queues it. An edit to
// a record whose create was never acknowledged coalesces into the
// existing entry and keeps the create operation; an edit to a rejected
// record clears its terminal state so it retries with the new data.
func (m *Manager) UpdateOffline(ctx context.Context, collection, localID string, payload json.RawMessage) (*models.Record, error) {
	if !json.Valid(payload) {
		return nil, apperrors.New(apperrors.ErrInvalid, "payload is not valid JSON")
	}

	rec, err := m.store.Get(ctx, collection, localID)
	if err != nil {
		return nil, err
	}

	rec.Payload = payload
	rec.PendingSync = true

	err = m.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := m.store.PutTx(ctx, tx, collection, rec); err != nil {
			return err
		}
		op := models.OpUpdate
		if rec.ServerID == "" {
			op = models.OpCreate
		}
		return m.queue.EnqueueTx(ctx, tx, collection, localID, op)
	})
	if err != nil {
		return nil, err
	}

	m.engine.Notifier().Publish(enginepkg.Event{
		Type:       enginepkg.EventQueued,
		Collection: collection,
		LocalID:    localID,
	})
	m.TriggerSync(ctx)
	return rec, nil
}

// Get reads one record by local id.
func (m *Manager) Get(ctx context.Context, collection, localID string) (*models.Record, error) {
	return m.store.Get(ctx, collection, localID)
}

// ListAll reads every record of a collection in creation order.
func (m *Manager) ListAll(ctx context.Context, collection string) ([]*models.Record, error) {
	return m.store.GetAll(ctx, collection)
}

// GetByIndex reads records by a declared secondary index.
func (m *Manager) GetByIndex(ctx context.Context, collection, index string, value interface{}) ([]*models.Record, error) {
	return m.store.GetByIndex(ctx, collection, index, value)
}

// ListPending reads the records of a collection still awaiting sync.
func (m *Manager) ListPending(ctx context.Context, collection string) ([]*models.Record, error) {
	return m.store.GetPending(ctx, collection)
}

// CountPending reports the number of queued entries, rejected ones
// included, for the pending-changes badge.
func (m *Manager) CountPending(ctx context.Context) (int, error) {
	return m.queue.CountPending(ctx)
}

// ListRejected reads the entries the server refused. They stay visible
// until the user edits the underlying record.
func (m *Manager) ListRejected(ctx context.Context) ([]*models.QueueEntry, error) {
	return m.queue.ListTerminal(ctx)
}

// OnSyncEvent registers a lifecycle listener. Handlers run on the sync
// goroutine and must return quickly.
func (m *Manager) OnSyncEvent(h enginepkg.Handler) {
	m.engine.Notifier().Subscribe(h)
}

// IsOnline reports the monitor's last reachability verdict. Without a
// monitor the Manager is considered offline-only.
func (m *Manager) IsOnline() bool {
	return m.monitor != nil && m.monitor.IsOnline()
}

// TriggerSync requests a background cycle. Offline, or with no monitor,
// it is a no-op; the queue drains on the next connectivity transition.
func (m *Manager) TriggerSync(ctx context.Context) {
	if m.monitor == nil {
		return
	}
	m.monitor.TriggerNow(ctx)
}

// SyncNow runs one blocking cycle and returns its session summary. Used
// by the one-shot command path; the background path goes through the
// monitor.
func (m *Manager) SyncNow(ctx context.Context) (*models.SyncSession, error) {
	return m.engine.Sync(ctx)
}

// LastSession returns the most recent recorded sync cycle, or nil when
// none has run.
func (m *Manager) LastSession(ctx context.Context) (*models.SyncSession, error) {
	return m.store.LastSession(ctx)
}

// PurgeSynced deletes acknowledged records older than the retention
// window from every collection. Pending records are never purged.
func (m *Manager) PurgeSynced(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	var total int64
	for _, collection := range m.store.Collections() {
		n, err := m.store.PurgeSynced(ctx, collection, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		m.log.WithField("purged", total).Info("retention purge completed")
	}
	return total, nil
}
