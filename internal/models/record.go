// Package models provides data model definitions for the offline sync engine.
package models

import "encoding/json"

// Record is a single domain entity instance held in the local store.
// The engine treats Payload as opaque; only the sync envelope fields
// (LocalID, ServerID, PendingSync, timestamps) are interpreted.
type Record struct {
	LocalID     string          `db:"local_id" json:"local_id"`
	ServerID    string          `db:"server_id" json:"server_id,omitempty"`
	PendingSync bool            `db:"pending_sync" json:"pending_sync"`
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	SyncedAt    int64           `db:"synced_at" json:"synced_at,omitempty"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
}

// Synced reports whether the record has been acknowledged by the server.
func (r *Record) Synced() bool {
	return !r.PendingSync && r.ServerID != ""
}
