package kv

import (
	"context"

	"github.com/larderapp/larder/internal/server/models"
)

// Repository persists opaque per-user section documents.
type Repository interface {
	// Get returns the stored document or common.ErrNotFound.
	Get(ctx context.Context, userID string, section models.Section) (*models.KVRecord, error)

	// Upsert inserts or replaces the document for (UserID, Section).
	Upsert(ctx context.Context, rec *models.KVRecord) error

	// Delete removes the document. Absent documents are not an error.
	Delete(ctx context.Context, userID string, section models.Section) error

	// All returns every stored document for the user.
	All(ctx context.Context, userID string) ([]*models.KVRecord, error)
}
