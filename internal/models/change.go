// Package models provides data model definitions for the offline sync engine.
package models

// Change is one server-side record modification delivered by a pull.
type Change struct {
	Collection string `json:"collection"`
	Record     Record `json:"record"`
}
