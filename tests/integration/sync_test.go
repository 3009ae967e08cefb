// Integration tests for the full offline path: records created with no
// server reachable must be durable, queryable, and drained in dependency
// order once connectivity returns.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/creditapp/offlinesync/internal/models"
	"github.com/creditapp/offlinesync/internal/queue"
	"github.com/creditapp/offlinesync/internal/store"
	enginepkg "github.com/creditapp/offlinesync/internal/sync"
	"github.com/creditapp/offlinesync/internal/sync/transport"
)

// syncServer is a minimal in-process sync endpoint. It acknowledges
// pushes idempotently by local id and serves canned pull changes.
type syncServer struct {
	mu      sync.Mutex
	nextID  int
	acked   map[string]string
	order   []string
	reject  map[string]string
	changes []models.Change
}

func newSyncServer() *syncServer {
	return &syncServer{
		acked:  make(map[string]string),
		reject: make(map[string]string),
	}
}

func (s *syncServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sync/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		var req transport.PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if msg, ok := s.reject[req.LocalID]; ok {
			http.Error(w, `{"error":"`+msg+`"}`, http.StatusUnprocessableEntity)
			return
		}
		id, ok := s.acked[req.LocalID]
		if !ok {
			s.nextID++
			id = "srv-" + strconv.Itoa(s.nextID)
			s.acked[req.LocalID] = id
			s.order = append(s.order, req.Collection)
		}
		json.NewEncoder(w).Encode(transport.PushResponse{ServerID: id})
	})
	mux.HandleFunc("/api/v1/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		json.NewEncoder(w).Encode(transport.PullResponse{
			Changes:    s.changes,
			ServerTime: time.Now().UTC().Format(time.RFC3339),
		})
	})
	return mux
}

func (s *syncServer) pushedCollections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func openEngine(t *testing.T, serverURL string) (*enginepkg.Engine, *store.Store, *queue.Queue) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "data"), store.DefaultCollections())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q := queue.New(st.DB())
	client, err := transport.NewHTTP(serverURL, "test-token", 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to build client: %v", err)
	}
	return enginepkg.New(st, q, client, enginepkg.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil), st, q
}

func seed(t *testing.T, st *store.Store, q *queue.Queue, collection, localID, payload string) {
	t.Helper()
	ctx := context.Background()
	rec := &models.Record{
		LocalID:     localID,
		PendingSync: true,
		CreatedAt:   time.Now().Unix(),
		Payload:     []byte(payload),
	}
	if err := st.Put(ctx, collection, rec); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}
	if err := q.Enqueue(ctx, collection, localID, models.OpCreate); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
}

func TestOfflineThenReconnect(t *testing.T) {
	srv := newSyncServer()
	ts := httptest.NewServer(srv.handler())
	ctx := context.Background()

	eng, st, q := openEngine(t, ts.URL)

	// Work entered while the server is down.
	ts.Close()
	seed(t, st, q, "clients", "11111111-1111-4111-8111-111111111111", `{"name":"Ana"}`)
	seed(t, st, q, "sales", "22222222-2222-4222-8222-222222222222", `{"amount":150}`)

	t.Run("OfflineSyncFails", func(t *testing.T) {
		if _, err := eng.Sync(ctx); err == nil {
			t.Fatal("Expected cycle failure with no server reachable")
		}
		n, err := q.CountPending(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if n != 2 {
			t.Fatalf("Expected both records to stay queued, got %d", n)
		}
	})

	t.Run("RecordsReadableOffline", func(t *testing.T) {
		rec, err := st.Get(ctx, "clients", "11111111-1111-4111-8111-111111111111")
		if err != nil {
			t.Fatalf("Failed to read offline record: %v", err)
		}
		if !rec.PendingSync {
			t.Fatal("Record must remain pending while offline")
		}
	})

	// Server comes back on a fresh listener; point a new engine over the
	// same database at it, as the client would after reconnecting.
	ts2 := httptest.NewServer(srv.handler())
	defer ts2.Close()

	client2, err := transport.NewHTTP(ts2.URL, "test-token", 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to build client: %v", err)
	}
	eng = enginepkg.New(st, q, client2, enginepkg.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)

	t.Run("ReconnectDrainsInOrder", func(t *testing.T) {
		session, err := eng.Sync(ctx)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if session.Pushed != 2 {
			t.Fatalf("Expected 2 pushed, got %d", session.Pushed)
		}

		order := srv.pushedCollections()
		if len(order) != 2 || order[0] != "clients" || order[1] != "sales" {
			t.Fatalf("Expected clients before sales, got %v", order)
		}

		rec, err := st.Get(ctx, "clients", "11111111-1111-4111-8111-111111111111")
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if rec.PendingSync || rec.ServerID == "" {
			t.Fatalf("Expected acknowledged record, got %+v", rec)
		}

		n, err := q.CountPending(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if n != 0 {
			t.Fatalf("Expected drained queue, got %d", n)
		}
	})

	t.Run("WatermarkAdvances", func(t *testing.T) {
		mark, err := st.GetMeta(ctx, store.MetaLastSync)
		if err != nil {
			t.Fatalf("Failed to read meta: %v", err)
		}
		if mark == "" {
			t.Fatal("Expected watermark after successful cycle")
		}
	})
}

func TestRejectedRecordDoesNotBlockOthers(t *testing.T) {
	srv := newSyncServer()
	srv.reject["33333333-3333-4333-8333-333333333333"] = "identification required"
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	ctx := context.Background()

	eng, st, q := openEngine(t, ts.URL)

	seed(t, st, q, "clients", "33333333-3333-4333-8333-333333333333", `{"name":"no id"}`)
	seed(t, st, q, "clients", "44444444-4444-4444-8444-444444444444", `{"name":"Bo","identification":"V-9"}`)

	session, err := eng.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if session.Pushed != 1 || session.Rejected != 1 {
		t.Fatalf("Expected 1 pushed and 1 rejected, got %+v", session)
	}

	good, err := st.Get(ctx, "clients", "44444444-4444-4444-8444-444444444444")
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if good.ServerID == "" {
		t.Fatal("Valid record must sync despite a rejected sibling")
	}

	terminal, err := q.ListTerminal(ctx)
	if err != nil {
		t.Fatalf("Failed to list terminal: %v", err)
	}
	if len(terminal) != 1 {
		t.Fatalf("Expected one rejected entry, got %d", len(terminal))
	}
}

func TestPullPopulatesEmptyDevice(t *testing.T) {
	srv := newSyncServer()
	srv.changes = []models.Change{
		{Collection: "clients", Record: models.Record{
			LocalID:   "55555555-5555-4555-8555-555555555555",
			ServerID:  "srv-100",
			CreatedAt: time.Now().Unix(),
			Payload:   []byte(`{"name":"pulled"}`),
		}},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	ctx := context.Background()

	eng, st, _ := openEngine(t, ts.URL)

	session, err := eng.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if session.Pulled != 1 {
		t.Fatalf("Expected 1 pulled, got %d", session.Pulled)
	}

	rec, err := st.Get(ctx, "clients", "55555555-5555-4555-8555-555555555555")
	if err != nil {
		t.Fatalf("Failed to read pulled record: %v", err)
	}
	if rec.PendingSync || rec.ServerID != "srv-100" {
		t.Fatalf("Unexpected pulled record %+v", rec)
	}
}
