package sync

import (
	"time"

	"github.com/larderapp/larder/internal/server/models"
)

// effectiveTime picks the incoming modification time for a write:
// the payload's declared updatedAt, else the request-level clientTimestamp,
// else the server clock.
func effectiveTime(declared, clientTS *time.Time, now time.Time) time.Time {
	if declared != nil {
		return *declared
	}
	if clientTS != nil {
		return *clientTS
	}
	return now
}

// stale reports whether a write carrying the incoming time must be skipped.
// A write is stale when the stored row already has a timestamp and the
// incoming one is not strictly newer. Accepted writes are stamped with the
// server's acceptance time, so stored timestamps stay monotonic regardless
// of client clock skew.
func stale(existing *models.Item, incoming time.Time) bool {
	if existing == nil || existing.UpdatedAt.IsZero() {
		return false
	}
	return !incoming.After(existing.UpdatedAt)
}
