// Package quota defines the narrow interface through which the sync engine
// consults plan limits. Subscription and billing logic live elsewhere; the
// engine only ever asks "how many items may this user keep?".
package quota

import (
	"context"
	"fmt"

	"github.com/larderapp/larder/internal/common"
)

// Allowance describes a user's capacity in a quota-gated collection.
// Unbounded means no limit applies and the numeric fields are meaningless.
type Allowance struct {
	Limit     int
	Remaining int
	Unbounded bool
}

// Checker is the external collaborator contract. It is consulted only
// before net-new inserts in capacity-gated collections.
type Checker interface {
	CheckLimit(ctx context.Context, userID string) (Allowance, error)
}

// LimitExceededError is the structured QuotaExceeded outcome. It matches
// common.ErrQuotaExceeded under errors.Is.
type LimitExceededError struct {
	Limit int
	Count int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: limit %d, count %d", e.Limit, e.Count)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == common.ErrQuotaExceeded
}

// Unlimited grants unbounded capacity to everyone. Used when no plan
// service is wired in.
type Unlimited struct{}

func (Unlimited) CheckLimit(ctx context.Context, userID string) (Allowance, error) {
	return Allowance{Unbounded: true}, nil
}

// Fixed grants the same flat per-collection limit to everyone. Remaining is
// unknown to a static checker and is reported as the full limit; the engine
// compares against live counts.
type Fixed struct {
	Limit int
}

func (f Fixed) CheckLimit(ctx context.Context, userID string) (Allowance, error) {
	return Allowance{Limit: f.Limit, Remaining: f.Limit}, nil
}
