// Package queue tests for the durable pending queue.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/creditapp/offlinesync/internal/errors"
	"github.com/creditapp/offlinesync/internal/models"
	"github.com/creditapp/offlinesync/internal/store"
)

func openTestQueue(t *testing.T) (*store.Store, *Queue) {
	t.Helper()
	s, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, New(s.DB())
}

// TestEnqueueAndList verifies FIFO submission order.
func TestEnqueueAndList(t *testing.T) {
	_, q := openTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "clients", "id-1", models.OpCreate); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, "sales", "id-2", models.OpCreate); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, "clients", "id-3", models.OpUpdate); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	entries, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	wantIDs := []string{"id-1", "id-2", "id-3"}
	for i, e := range entries {
		if e.LocalID != wantIDs[i] {
			t.Errorf("entry[%d] = %s, want %s (FIFO order)", i, e.LocalID, wantIDs[i])
		}
	}
}

// TestEnqueueCoalesces verifies a second edit to the same record reuses
// the existing entry and keeps the earlier create kind.
func TestEnqueueCoalesces(t *testing.T) {
	_, q := openTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "clients", "id-1", models.OpCreate); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, "clients", "id-1", models.OpUpdate); err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}

	entries, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (coalesced)", len(entries))
	}
	if entries[0].Operation != models.OpCreate {
		t.Errorf("operation = %s, want create (update to an unsynced create is still a create)", entries[0].Operation)
	}
}

// TestEnqueueRejectsUnknownOperation verifies kind validation.
func TestEnqueueRejectsUnknownOperation(t *testing.T) {
	_, q := openTestQueue(t)

	err := q.Enqueue(context.Background(), "clients", "id-1", models.Operation("delete"))
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Fatalf("err = %v, want INVALID_INPUT", err)
	}
}

// TestResolveRemovesEntry verifies acknowledgment cleanup.
func TestResolveRemovesEntry(t *testing.T) {
	_, q := openTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "clients", "id-1", models.OpCreate); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	entries, _ := q.ListPending(ctx)
	if err := q.Resolve(ctx, entries[0].ID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	n, err := q.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if n != 0 {
		t.Errorf("CountPending = %d, want 0", n)
	}
}

// TestRequeueIncrementsRetryCount verifies failed-attempt bookkeeping.
func TestRequeueIncrementsRetryCount(t *testing.T) {
	_, q := openTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "sales", "id-1", models.OpCreate); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	entries, _ := q.ListPending(ctx)

	if err := q.Requeue(ctx, entries[0].ID, "connection refused"); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	entry, err := q.Get(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", entry.RetryCount)
	}
	if entry.Terminal {
		t.Error("requeued entry must stay non-terminal")
	}
	if entry.LastError != "connection refused" {
		t.Errorf("LastError = %q", entry.LastError)
	}
}

// TestMarkTerminalExcludesFromPending verifies rejected entries leave
// the automatic retry set but stay counted.
func TestMarkTerminalExcludesFromPending(t *testing.T) {
	_, q := openTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "payments", "id-1", models.OpCreate); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	entries, _ := q.ListPending(ctx)

	if err := q.MarkTerminal(ctx, entries[0].ID, "invalid amount"); err != nil {
		t.Fatalf("MarkTerminal failed: %v", err)
	}

	pending, _ := q.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("terminal entry still listed as pending")
	}

	terminal, err := q.ListTerminal(ctx)
	if err != nil {
		t.Fatalf("ListTerminal failed: %v", err)
	}
	if len(terminal) != 1 || terminal[0].LastError != "invalid amount" {
		t.Errorf("ListTerminal = %+v", terminal)
	}

	n, _ := q.CountPending(ctx)
	if n != 1 {
		t.Errorf("CountPending = %d, want 1 (rejected records stay on the badge)", n)
	}
}

// TestEnqueueClearsTerminalOnEdit verifies a user edit re-enters the
// entry into automatic retry.
func TestEnqueueClearsTerminalOnEdit(t *testing.T) {
	_, q := openTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "payments", "id-1", models.OpCreate); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	entries, _ := q.ListPending(ctx)
	if err := q.Requeue(ctx, entries[0].ID, "x"); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if err := q.MarkTerminal(ctx, entries[0].ID, "rejected"); err != nil {
		t.Fatalf("MarkTerminal failed: %v", err)
	}

	// The edit path coalesces into the same entry.
	if err := q.Enqueue(ctx, "payments", "id-1", models.OpUpdate); err != nil {
		t.Fatalf("Enqueue after edit failed: %v", err)
	}

	pending, _ := q.ListPending(ctx)
	if len(pending) != 1 {
		t.Fatalf("edited entry should be pending again, got %d", len(pending))
	}
	if pending[0].Terminal || pending[0].RetryCount != 0 || pending[0].LastError != "" {
		t.Errorf("edit should reset retry state: %+v", pending[0])
	}
	if pending[0].Operation != models.OpCreate {
		t.Errorf("operation = %s, want create preserved", pending[0].Operation)
	}
}

// TestEnqueueTxAtomicWithRecord verifies a record write and its queue
// entry commit or roll back together.
func TestEnqueueTxAtomicWithRecord(t *testing.T) {
	s, q := openTestQueue(t)
	ctx := context.Background()

	rec := &models.Record{
		LocalID:     "550e8400-e29b-41d4-a716-446655440000",
		PendingSync: true,
		CreatedAt:   time.Now().Unix(),
		Payload:     json.RawMessage(`{"nombre":"Ana"}`),
	}

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.PutTx(ctx, tx, "clients", rec); err != nil {
			return err
		}
		return q.EnqueueTx(ctx, tx, "clients", rec.LocalID, models.OpCreate)
	})
	if err != nil {
		t.Fatalf("atomic create failed: %v", err)
	}

	n, _ := q.CountPending(ctx)
	if n != 1 {
		t.Errorf("CountPending = %d, want 1", n)
	}

	// Failing halfway must leave neither the record nor the entry.
	rec2 := &models.Record{
		LocalID:     "550e8400-e29b-41d4-a716-446655440001",
		PendingSync: true,
		CreatedAt:   time.Now().Unix(),
		Payload:     json.RawMessage(`{}`),
	}
	boom := apperrors.New(apperrors.ErrValidation, "boom")
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.PutTx(ctx, tx, "clients", rec2); err != nil {
			return err
		}
		if err := q.EnqueueTx(ctx, tx, "clients", rec2.LocalID, models.OpCreate); err != nil {
			return err
		}
		return boom
	})
	if err == nil {
		t.Fatal("expected rollback error")
	}

	n, _ = q.CountPending(ctx)
	if n != 1 {
		t.Errorf("CountPending after rollback = %d, want 1", n)
	}
	if _, err := s.Get(ctx, "clients", rec2.LocalID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("record visible after rollback: %v", err)
	}
}
