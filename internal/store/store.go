// Package store provides the durable local record store backing offline
// operation. Records live in per-collection tables with an opaque JSON
// payload; the pending queue and sync bookkeeping share the same SQLite
// database so that record and queue writes can commit in one transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	apperrors "github.com/creditapp/offlinesync/internal/errors"

	_ "modernc.org/sqlite"
)

// SchemaVersion is the current local schema generation. Opening a store
// persisted at a lower version triggers a destructive re-creation of all
// collection tables and the pending queue before any other operation is
// permitted.
const SchemaVersion = 3

// Reserved table names that collections must not shadow.
var reservedTables = map[string]bool{
	"sync_queue":    true,
	"sync_meta":     true,
	"sync_sessions": true,
}

var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// IndexSpec declares a secondary index over a payload field.
type IndexSpec struct {
	Name  string
	Field string
}

// CollectionSpec declares a collection fixed at deployment time.
type CollectionSpec struct {
	Name    string
	Indexes []IndexSpec
}

// DefaultCollections returns the deployed collections in push dependency
// order: a sale references a client, a payment references a sale, so
// upstream collections must be acknowledged first.
func DefaultCollections() []CollectionSpec {
	return []CollectionSpec{
		{Name: "clients", Indexes: []IndexSpec{{Name: "by_identification", Field: "identification"}}},
		{Name: "products"},
		{Name: "sales", Indexes: []IndexSpec{{Name: "by_client", Field: "client_local_id"}}},
		{Name: "payments", Indexes: []IndexSpec{{Name: "by_sale", Field: "sale_local_id"}}},
		{Name: "cashmovements"},
	}
}

// Store is the single shared mutable resource of the engine. All record
// mutations go through its transactional write path.
type Store struct {
	db          *sql.DB
	collections map[string]CollectionSpec
	order       []string
}

// Open opens (or creates) the store under dataDir and runs the schema
// gate. It returns only after migration has completed; no reads or
// writes are possible before that.
func Open(dataDir string, collections []CollectionSpec) (*Store, error) {
	if len(collections) == 0 {
		collections = DefaultCollections()
	}
	if err := validateCollections(collections); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "offlinesync.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to open database", err)
	}

	// SQLite supports a single writer; serialize access through one
	// connection and let busy_timeout absorb short contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to configure database", err)
		}
	}

	s := &Store{
		db:          db,
		collections: make(map[string]CollectionSpec, len(collections)),
		order:       make([]string, 0, len(collections)),
	}
	for _, c := range collections {
		s.collections[c.Name] = c
		s.order = append(s.order, c.Name)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func validateCollections(collections []CollectionSpec) error {
	seen := make(map[string]bool, len(collections))
	for _, c := range collections {
		if !collectionNameRe.MatchString(c.Name) {
			return apperrors.Newf(apperrors.ErrInvalid, "invalid collection name %q", c.Name)
		}
		if reservedTables[c.Name] {
			return apperrors.Newf(apperrors.ErrInvalid, "collection name %q is reserved", c.Name)
		}
		if seen[c.Name] {
			return apperrors.Newf(apperrors.ErrInvalid, "duplicate collection %q", c.Name)
		}
		seen[c.Name] = true
		for _, idx := range c.Indexes {
			if !collectionNameRe.MatchString(idx.Name) || !collectionNameRe.MatchString(idx.Field) {
				return apperrors.Newf(apperrors.ErrInvalid, "invalid index %q on collection %q", idx.Name, c.Name)
			}
		}
	}
	return nil
}

// migrate runs the schema gate: create bookkeeping tables, then compare
// the persisted schema version against SchemaVersion. A lower persisted
// version wipes and recreates every collection table plus the pending
// queue (entries would reference wiped records) in one transaction.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(ddlMeta); err != nil {
		return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to create meta table", err)
	}

	var stored int
	err := s.db.QueryRow(
		"SELECT COALESCE(MAX(CAST(value AS INTEGER)), 0) FROM sync_meta WHERE key = 'schema_version'",
	).Scan(&stored)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to read schema version", err)
	}

	if stored > SchemaVersion {
		return apperrors.Newf(apperrors.ErrMigrationFailed,
			"store schema version %d is newer than supported version %d", stored, SchemaVersion)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to begin migration", err)
	}
	defer tx.Rollback()

	if stored < SchemaVersion && stored > 0 {
		// Destructive re-creation. Safe here: Open has not returned yet,
		// so no push/pull cycle can be in flight.
		for name := range s.collections {
			if _, err := tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %q", name)); err != nil {
				return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to drop collection "+name, err)
			}
		}
		if _, err := tx.Exec("DROP TABLE IF EXISTS sync_queue"); err != nil {
			return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to drop queue", err)
		}
		// The watermark described the wiped data. Resetting it makes the
		// next pull re-fetch everything from the server.
		if _, err := tx.Exec("DELETE FROM sync_meta WHERE key = ?", MetaLastSync); err != nil {
			return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to reset watermark", err)
		}
	}

	for _, name := range s.order {
		spec := s.collections[name]
		if _, err := tx.Exec(collectionDDL(spec)); err != nil {
			return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to create collection "+name, err)
		}
		for _, idx := range spec.Indexes {
			if _, err := tx.Exec(indexDDL(name, idx)); err != nil {
				return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to create index "+idx.Name, err)
			}
		}
	}

	for _, ddl := range []string{ddlQueue, ddlSessions} {
		if _, err := tx.Exec(ddl); err != nil {
			return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to create bookkeeping tables", err)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO sync_meta (key, value) VALUES ('schema_version', ?) "+
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to record schema version", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrMigrationFailed, "failed to commit migration", err)
	}

	return nil
}

const ddlMeta = `
CREATE TABLE IF NOT EXISTS sync_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const ddlQueue = `
CREATE TABLE IF NOT EXISTS sync_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	collection  TEXT NOT NULL,
	local_id    TEXT NOT NULL,
	operation   TEXT NOT NULL CHECK(operation IN ('create', 'update')),
	retry_count INTEGER NOT NULL DEFAULT 0,
	terminal    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	UNIQUE(collection, local_id)
);`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sync_sessions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL DEFAULT 0,
	pushed      INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	rejected    INTEGER NOT NULL DEFAULT 0,
	pulled      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);`

func collectionDDL(spec CollectionSpec) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %q (
	local_id     TEXT PRIMARY KEY,
	server_id    TEXT NOT NULL DEFAULT '',
	pending_sync INTEGER NOT NULL DEFAULT 1,
	created_at   INTEGER NOT NULL,
	synced_at    INTEGER NOT NULL DEFAULT 0,
	payload      TEXT NOT NULL
);`, spec.Name)
}

func indexDDL(collection string, idx IndexSpec) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %q ON %q (json_extract(payload, '$.%s'));",
		"idx_"+collection+"_"+idx.Name, collection, idx.Field,
	)
}

// Collections returns the declared collection names in dependency order.
func (s *Store) Collections() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Spec returns the declaration for a collection.
func (s *Store) Spec(collection string) (CollectionSpec, error) {
	spec, ok := s.collections[collection]
	if !ok {
		return CollectionSpec{}, apperrors.Newf(apperrors.ErrCollectionNotFound, "unknown collection %q", collection)
	}
	return spec, nil
}

// DB exposes the underlying handle so the pending queue can share the
// store's transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside an immediate transaction, retrying a bounded
// number of times when the write conflicts with a concurrent one.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	const maxAttempts = 3

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to begin transaction", err)
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return apperrors.Wrap(apperrors.ErrTransactionAborted, "failed to commit transaction", err)
		}
		return nil
	}

	return apperrors.Wrap(apperrors.ErrTransactionAborted, "transaction retries exhausted", lastErr)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
