// Package models provides data model definitions for the offline sync engine.
package models

// Operation is the kind of write a queue entry represents.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

// QueueEntry references a pending local write awaiting server acknowledgment.
// It holds only the record's identity, never a copy of its payload; the
// record's current value in the store is what gets pushed.
type QueueEntry struct {
	ID         int64     `db:"id" json:"id"`
	Collection string    `db:"collection" json:"collection"`
	LocalID    string    `db:"local_id" json:"local_id"`
	Operation  Operation `db:"operation" json:"operation"`
	RetryCount int       `db:"retry_count" json:"retry_count"`
	Terminal   bool      `db:"terminal" json:"terminal"`
	LastError  string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  int64     `db:"created_at" json:"created_at"`
	UpdatedAt  int64     `db:"updated_at" json:"updated_at"`
}

// TableName returns the reserved table name for QueueEntry.
func (QueueEntry) TableName() string {
	return "sync_queue"
}
