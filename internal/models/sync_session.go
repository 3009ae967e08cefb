// Package models provides data model definitions for the offline sync engine.
package models

import "time"

// SyncSession records the outcome of one push/pull cycle for operator
// visibility. Sessions are append-only bookkeeping, never read by the
// engine itself.
type SyncSession struct {
	ID         int64  `db:"id" json:"id"`
	StartedAt  int64  `db:"started_at" json:"started_at"`
	FinishedAt int64  `db:"finished_at" json:"finished_at"`
	Pushed     int    `db:"pushed" json:"pushed"`
	Failed     int    `db:"failed" json:"failed"`
	Rejected   int    `db:"rejected" json:"rejected"`
	Pulled     int    `db:"pulled" json:"pulled"`
	Error      string `db:"error" json:"error,omitempty"`
}

// TableName returns the table name for SyncSession.
func (SyncSession) TableName() string {
	return "sync_sessions"
}

// Duration returns how long the cycle ran.
func (s *SyncSession) Duration() time.Duration {
	if s.FinishedAt == 0 || s.StartedAt == 0 {
		return 0
	}
	return time.Duration(s.FinishedAt-s.StartedAt) * time.Second
}
