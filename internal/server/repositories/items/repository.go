package items

import (
	"context"
	"time"

	"github.com/larderapp/larder/internal/server/models"
)

// Repository persists entity items for all entity sections.
type Repository interface {
	// Get returns the item regardless of soft-delete state, or
	// common.ErrNotFound.
	Get(ctx context.Context, userID string, section models.Section, itemID string) (*models.Item, error)

	// Upsert inserts or fully overwrites the row identified by
	// (UserID, Section, ItemID) and fills in item.RowID.
	Upsert(ctx context.Context, item *models.Item) error

	// Delete hard-deletes the row. Deleting an absent row is not an error.
	Delete(ctx context.Context, userID string, section models.Section, itemID string) error

	// SoftDelete stamps deleted_at without removing the row. Absent rows
	// are not an error.
	SoftDelete(ctx context.Context, userID string, section models.Section, itemID string, at time.Time) error

	// List returns up to limit live rows strictly after the
	// (afterUpdatedAt, afterID) sort key, ordered by (updated_at, id)
	// ascending. A zero afterUpdatedAt starts from the beginning.
	List(ctx context.Context, userID string, section models.Section, afterUpdatedAt time.Time, afterID int64, limit int) ([]*models.Item, error)

	// ListAll returns every live row for the section ordered by
	// (updated_at, id).
	ListAll(ctx context.Context, userID string, section models.Section) ([]*models.Item, error)

	// Count returns the number of live rows in the section.
	Count(ctx context.Context, userID string, section models.Section) (int, error)

	// DeleteAll removes every row in the section, tombstones included.
	DeleteAll(ctx context.Context, userID string, section models.Section) error
}
