package ledger

import (
	"context"
	"time"

	"github.com/larderapp/larder/internal/server/models"
)

// Repository persists the per-(user, section) last-modified ledger used for
// delta sync. Entries only ever move forward in time.
type Repository interface {
	// Bump records that the section changed at the given time. An older
	// timestamp never overwrites a newer one.
	Bump(ctx context.Context, userID string, section models.Section, at time.Time) error

	// All returns every ledger entry for the user.
	All(ctx context.Context, userID string) (map[models.Section]time.Time, error)

	// SetAll stamps every known section to the given time; used by
	// whole-account imports.
	SetAll(ctx context.Context, userID string, at time.Time) error
}
