// Package sync drives the bidirectional synchronization protocol: push
// local pending writes in collection dependency order, then pull
// server-side changes since the last successful watermark.
package sync

import (
	"bytes"
	"context"
	"database/sql"
	stdsync "sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/creditapp/offlinesync/internal/errors"
	"github.com/creditapp/offlinesync/internal/logging"
	"github.com/creditapp/offlinesync/internal/models"
	"github.com/creditapp/offlinesync/internal/queue"
	"github.com/creditapp/offlinesync/internal/store"
	"github.com/creditapp/offlinesync/internal/sync/transport"
	"github.com/creditapp/offlinesync/internal/uuid"
)

// Status is the engine's cycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPushing Status = "pushing"
	StatusPulling Status = "pulling"
	StatusFailed  Status = "failed"
)

// Engine coordinates one sync cycle at a time over the local store, the
// pending queue, and the wire client. Dependencies are injected at
// construction; initialization order is enforced by construction order.
type Engine struct {
	store    *store.Store
	queue    *queue.Queue
	client   transport.Client
	policy   RetryPolicy
	notifier *Notifier
	log      *logrus.Entry

	mu      stdsync.Mutex
	status  Status
	lastErr error

	// sleep is injectable so tests can run backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Engine. A nil notifier gets a private one; pass a
// shared Notifier to fan events out to the collaborator surface.
func New(st *store.Store, q *queue.Queue, client transport.Client, policy RetryPolicy, notifier *Notifier) *Engine {
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Engine{
		store:    st,
		queue:    q,
		client:   client,
		policy:   policy.normalized(),
		notifier: notifier,
		log:      logging.WithComponent("engine"),
		status:   StatusIdle,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Notifier returns the event channel used by this engine.
func (e *Engine) Notifier() *Notifier {
	return e.notifier
}

// Status returns the current cycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastError returns the error of the last completed cycle, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// begin claims the cycle slot. A reentrant invocation while a cycle is
// in flight is a no-op, not an error.
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusPushing || e.status == StatusPulling {
		return false
	}
	e.status = StatusPushing
	e.lastErr = nil
	return true
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Sync runs one push-then-pull cycle. If a cycle is already in flight
// it returns (nil, nil) without disturbing it. The returned session
// summarizes the cycle; a non-nil error means the cycle failed as a
// whole (storage fault, every push attempt failed, or the pull could
// not complete), never an individually retried record.
func (e *Engine) Sync(ctx context.Context) (*models.SyncSession, error) {
	if !e.begin() {
		e.log.Debug("sync already in progress, skipping")
		return nil, nil
	}

	session := &models.SyncSession{StartedAt: time.Now().Unix()}
	e.notifier.Publish(Event{Type: EventCycleStarted})
	e.log.Info("sync cycle started")

	err := e.push(ctx, session)
	if err == nil {
		e.setStatus(StatusPulling)
		err = e.pull(ctx, session)
	}

	if err == nil && session.Pushed == 0 && session.Failed > 0 {
		// Every push attempt in the cycle failed; report the aggregate.
		err = apperrors.Newf(apperrors.ErrSyncFailed, "all %d push attempts failed", session.Failed)
	}

	session.FinishedAt = time.Now().Unix()
	if err != nil {
		session.Error = err.Error()
	}

	if saveErr := e.store.SaveSession(ctx, session); saveErr != nil {
		e.log.WithError(saveErr).Warn("failed to record sync session")
	}

	e.mu.Lock()
	e.lastErr = err
	if err != nil {
		e.status = StatusFailed
	} else {
		e.status = StatusIdle
	}
	e.mu.Unlock()

	e.notifier.Publish(Event{Type: EventCycleCompleted, Session: session, Err: err})
	e.log.WithFields(logrus.Fields{
		"pushed":   session.Pushed,
		"failed":   session.Failed,
		"rejected": session.Rejected,
		"pulled":   session.Pulled,
	}).Info("sync cycle completed")

	return session, err
}

type pushOutcome int

const (
	pushSynced pushOutcome = iota
	pushRejected
	pushTransient
)

// push walks collections in dependency order. Failures are isolated per
// record, but a collection that ends its pass with transiently-failed
// entries blocks the collections after it: a sale must never be pushed
// ahead of the client it references, so dependents wait for the next
// cycle.
func (e *Engine) push(ctx context.Context, session *models.SyncSession) error {
	for _, collection := range e.store.Collections() {
		entries, err := e.queue.ListPendingCollection(ctx, collection)
		if err != nil {
			return err
		}

		blocked := false
		for _, entry := range entries {
			if ctx.Err() != nil {
				// Going offline mid-cycle: leave the rest pending and
				// let the cycle finish its bookkeeping.
				e.log.WithField("collection", collection).Warn("push interrupted, entries stay pending")
				return nil
			}

			rec, err := e.store.Get(ctx, collection, entry.LocalID)
			if apperrors.Is(err, apperrors.ErrNotFound) {
				// Orphan entry; the record is gone, nothing to push.
				if err := e.queue.Resolve(ctx, entry.ID); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			if rec.Synced() {
				// Acknowledgment already recorded, the entry just
				// outlived it (crash between record update and resolve
				// is impossible, but a coalesced edit may have synced).
				if err := e.queue.Resolve(ctx, entry.ID); err != nil {
					return err
				}
				continue
			}

			outcome, err := e.pushRecord(ctx, collection, entry, rec, session)
			if err != nil {
				return err
			}
			if outcome == pushTransient {
				blocked = true
			}
		}

		if blocked {
			e.log.WithField("collection", collection).
				Warn("collection has unacknowledged entries, postponing dependent collections")
			return nil
		}
	}
	return nil
}

// pushRecord drives one record through the bounded retry loop. Transient
// failures are absorbed here and never surfaced individually; only the
// entry's retry counter and the session aggregate record them.
func (e *Engine) pushRecord(ctx context.Context, collection string, entry *models.QueueEntry, rec *models.Record, session *models.SyncSession) (pushOutcome, error) {
	req := transport.PushRequest{
		LocalID:    rec.LocalID,
		Collection: collection,
		Payload:    rec.Payload,
	}

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if delay := e.policy.Delay(attempt); delay > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		resp, err := e.client.Push(ctx, req)
		if err == nil {
			resolved, err := e.acknowledge(ctx, collection, entry, rec, resp.ServerID)
			if err != nil {
				return 0, err
			}
			session.Pushed++
			if resolved {
				e.notifier.Publish(Event{
					Type:       EventRecordSynced,
					Collection: collection,
					LocalID:    rec.LocalID,
					ServerID:   resp.ServerID,
				})
			}
			return pushSynced, nil
		}

		if apperrors.Is(err, apperrors.ErrAuthFailed) {
			// Credential problem, not a record problem. Abort the cycle
			// and leave everything pending for after reconfiguration.
			return 0, err
		}

		if !apperrors.IsTransient(err) {
			// The server refused the data shape. Terminal for this
			// record until the user edits it again.
			if qErr := e.queue.MarkTerminal(ctx, entry.ID, err.Error()); qErr != nil {
				return 0, qErr
			}
			session.Rejected++
			e.notifier.Publish(Event{
				Type:       EventRecordFailed,
				Collection: collection,
				LocalID:    rec.LocalID,
				Err:        err,
			})
			e.log.WithFields(logrus.Fields{
				"collection": collection,
				"local_id":   rec.LocalID,
			}).WithError(err).Warn("record rejected by server")
			return pushRejected, nil
		}

		lastErr = err
		e.log.WithFields(logrus.Fields{
			"collection": collection,
			"local_id":   rec.LocalID,
			"attempt":    attempt,
		}).WithError(err).Debug("push attempt failed")
	}

	cause := "push attempts exhausted"
	if lastErr != nil {
		cause = lastErr.Error()
	}
	if err := e.queue.Requeue(ctx, entry.ID, cause); err != nil {
		return 0, err
	}
	session.Failed++
	return pushTransient, nil
}

// acknowledge records a push acknowledgment: server id assigned,
// pendingSync cleared, syncedAt stamped, queue entry resolved, all in
// one transaction so a crash cannot separate them. The record is
// re-read inside the transaction and compared against the pushed
// snapshot: an edit committed while the push was in flight must stay
// pending and queued, so only the server id is recorded and the new
// payload syncs next cycle. Only the envelope columns are ever written
// here; the payload belongs to the application. Returns whether the
// entry was resolved; false means a mid-push edit kept it queued.
func (e *Engine) acknowledge(ctx context.Context, collection string, entry *models.QueueEntry, pushed *models.Record, serverID string) (bool, error) {
	syncedAt := time.Now().Unix()

	resolved := false
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := e.store.GetTx(ctx, tx, collection, pushed.LocalID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			// Deleted while the push was in flight; drop the entry.
			resolved = true
			return e.queue.ResolveTx(ctx, tx, entry.ID)
		}
		if err != nil {
			return err
		}

		if !bytes.Equal(current.Payload, pushed.Payload) {
			e.log.WithFields(logrus.Fields{
				"collection": collection,
				"local_id":   pushed.LocalID,
			}).Info("record edited during push, keeping it queued")
			return e.store.SetServerIDTx(ctx, tx, collection, pushed.LocalID, serverID)
		}

		if err := e.store.MarkSyncedTx(ctx, tx, collection, pushed.LocalID, serverID, syncedAt); err != nil {
			return err
		}
		resolved = true
		return e.queue.ResolveTx(ctx, tx, entry.ID)
	})
	return resolved, err
}

// pull applies server-side changes since the last watermark. Each record
// is applied atomically; a record that is locally pendingSync is never
// overwritten (local-pending-wins until acknowledged, then
// server-state-wins). The watermark advances only after a fully
// successful pull, so a failed pull re-requests the same window; apply
// is idempotent by local id, so re-applying is safe.
func (e *Engine) pull(ctx context.Context, session *models.SyncSession) error {
	since, err := e.store.GetMeta(ctx, store.MetaLastSync)
	if err != nil {
		return err
	}

	resp, err := e.client.Pull(ctx, since)
	if err != nil {
		e.log.WithError(err).Warn("pull failed, watermark not advanced")
		return err
	}

	for _, change := range resp.Changes {
		if _, err := e.store.Spec(change.Collection); err != nil {
			// This deployment does not track the collection; skip.
			e.log.WithField("collection", change.Collection).Debug("ignoring change for unknown collection")
			continue
		}
		if err := uuid.Validate(change.Record.LocalID); err != nil {
			// A malformed id cannot serve as an idempotency token; skip
			// the change rather than poison the store with it.
			e.log.WithField("collection", change.Collection).WithError(err).Warn("ignoring change with invalid local id")
			continue
		}

		applied := false
		err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
			local, err := e.store.GetTx(ctx, tx, change.Collection, change.Record.LocalID)
			switch {
			case apperrors.Is(err, apperrors.ErrNotFound):
				// New on the server side.
			case err != nil:
				return err
			case local.PendingSync:
				// Unacknowledged local edit wins; discard the pull data
				// for this identifier.
				return nil
			}

			incoming := change.Record
			incoming.PendingSync = false
			if incoming.SyncedAt == 0 {
				incoming.SyncedAt = time.Now().Unix()
			}
			if err := e.store.PutTx(ctx, tx, change.Collection, &incoming); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			return err
		}
		if applied {
			session.Pulled++
		}
	}

	return e.store.SetMeta(ctx, store.MetaLastSync, resp.ServerTime)
}
