// Package record stamps locally-created records with their sync envelope.
package record

import (
	"encoding/json"
	"time"

	apperrors "github.com/creditapp/offlinesync/internal/errors"
	"github.com/creditapp/offlinesync/internal/models"
	"github.com/creditapp/offlinesync/internal/uuid"
)

// Tag produces a Record for a domain payload headed to a collection: a
// fresh local id, the creation timestamp, and pendingSync set. The local
// id doubles as the idempotency token for push requests, so it is never
// reassigned.
func Tag(collection string, payload json.RawMessage) (*models.Record, error) {
	if collection == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "collection name is empty")
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "payload for %s is not valid JSON", collection)
	}

	return &models.Record{
		LocalID:     uuid.New(),
		PendingSync: true,
		CreatedAt:   time.Now().Unix(),
		Payload:     payload,
	}, nil
}
