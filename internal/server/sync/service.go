package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/logging"
	"github.com/larderapp/larder/internal/server/faults"
	"github.com/larderapp/larder/internal/server/models"
	"github.com/larderapp/larder/internal/server/quota"
	"github.com/larderapp/larder/internal/server/repositories/repomanager"
)

// Operation is a wire-level entity write kind.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// OpSkipped labels the response for a stale write, which is a successful
// no-op rather than an error.
const OpSkipped = "skipped"

// ReasonStaleUpdate is the skip reason for writes older than the stored row.
const ReasonStaleUpdate = "stale_update"

// Service is the synchronization engine. All entity and KV writes, delta
// computation, pagination, and backup processing go through it.
type Service struct {
	store  repomanager.Manager
	quota  quota.Checker
	faults faults.Log
	logger logging.Logger

	now func() time.Time
}

// NewService wires the engine to its storage, quota, and failure-log
// collaborators.
func NewService(store repomanager.Manager, q quota.Checker, fl faults.Log, l logging.Logger) *Service {
	return &Service{
		store:  store,
		quota:  q,
		faults: fl,
		logger: l.With("module", "sync"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplyResult is the outcome of one entity write.
type ApplyResult struct {
	Operation string
	Reason    string
	ItemID    string
	SyncedAt  time.Time
	// ServerVersion carries the unmodified stored row when a write is
	// skipped as stale, so the client can reconcile without another
	// round trip.
	ServerVersion map[string]json.RawMessage
}

// Apply performs one create/update/delete against an entity section.
// Create and update are both idempotent upserts; the conflict resolver runs
// on every write path that finds an existing row. Every accepted write bumps
// the section ledger.
func (s *Service) Apply(ctx context.Context, userID string, section models.Section, op Operation, payload map[string]json.RawMessage, clientTS *time.Time) (*ApplyResult, error) {
	col, ok := CollectionFor(section)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity section %q", common.ErrValidation, section)
	}

	switch op {
	case OpCreate, OpUpdate:
		res, err := s.applyUpsert(ctx, userID, col, op, payload, clientTS)
		if err != nil {
			s.recordFault(userID, section, string(op), err)
		}
		return res, err
	case OpDelete:
		res, err := s.applyDelete(ctx, userID, col, payload)
		if err != nil {
			s.recordFault(userID, section, string(op), err)
		}
		return res, err
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", common.ErrValidation, op)
	}
}

func (s *Service) applyUpsert(ctx context.Context, userID string, col Collection, op Operation, payload map[string]json.RawMessage, clientTS *time.Time) (*ApplyResult, error) {
	itemID, declared, data, extra, err := col.ParsePayload(payload)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var result *ApplyResult

	err = s.store.InTx(ctx, func(ctx context.Context, tm repomanager.Manager) error {
		existing, err := tm.Items().Get(ctx, userID, col.Section, itemID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}

		if existing == nil && col.QuotaGated {
			if err := s.checkQuota(ctx, tm, userID, col.Section); err != nil {
				return err
			}
		}

		incoming := effectiveTime(declared, clientTS, now)
		if stale(existing, incoming) {
			// Still bump so other readers see the section as touched.
			if err := tm.Ledger().Bump(ctx, userID, col.Section, now); err != nil {
				return err
			}
			result = &ApplyResult{
				Operation:     OpSkipped,
				Reason:        ReasonStaleUpdate,
				ItemID:        itemID,
				SyncedAt:      now,
				ServerVersion: existing.Flatten(),
			}
			return nil
		}

		item := &models.Item{
			UserID:    userID,
			Section:   col.Section,
			ItemID:    itemID,
			Data:      data,
			Extra:     extra,
			UpdatedAt: now,
		}
		if err := tm.Items().Upsert(ctx, item); err != nil {
			return err
		}
		if err := tm.Ledger().Bump(ctx, userID, col.Section, now); err != nil {
			return err
		}
		result = &ApplyResult{Operation: string(op), ItemID: itemID, SyncedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) applyDelete(ctx context.Context, userID string, col Collection, payload map[string]json.RawMessage) (*ApplyResult, error) {
	var itemID string
	if raw, ok := payload["id"]; ok {
		_ = json.Unmarshal(raw, &itemID)
	}
	if itemID == "" {
		return nil, fmt.Errorf("%w: missing item id", common.ErrValidation)
	}

	now := s.now()
	err := s.store.InTx(ctx, func(ctx context.Context, tm repomanager.Manager) error {
		if col.SoftDelete {
			if err := tm.Items().SoftDelete(ctx, userID, col.Section, itemID, now); err != nil {
				return err
			}
		} else {
			if err := tm.Items().Delete(ctx, userID, col.Section, itemID); err != nil {
				return err
			}
		}
		return tm.Ledger().Bump(ctx, userID, col.Section, now)
	})
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Operation: string(OpDelete), ItemID: itemID, SyncedAt: now}, nil
}

// checkQuota rejects a net-new insert when the collection is at capacity.
// The check and the later insert are not one atomic compare-and-set; two
// concurrent creates at the boundary may both pass, which is an accepted
// race resolved on the next read.
func (s *Service) checkQuota(ctx context.Context, tm repomanager.Manager, userID string, section models.Section) error {
	allowance, err := s.quota.CheckLimit(ctx, userID)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if allowance.Unbounded {
		return nil
	}
	count, err := tm.Items().Count(ctx, userID, section)
	if err != nil {
		return err
	}
	if count >= allowance.Limit {
		return &quota.LimitExceededError{Limit: allowance.Limit, Count: count}
	}
	return nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Page is one slice of a cursor enumeration.
type Page struct {
	Items      []map[string]json.RawMessage
	NextCursor string
}

// List returns one page of live items ordered by (updatedAt, id). The page
// size defaults to 50 and is capped at 100. An empty cursor starts from the
// beginning; "no NextCursor" is the only completion signal.
func (s *Service) List(ctx context.Context, userID string, section models.Section, cursorToken string, limit int) (*Page, error) {
	if _, ok := CollectionFor(section); !ok {
		return nil, fmt.Errorf("%w: unknown entity section %q", common.ErrValidation, section)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var cursor Cursor
	if cursorToken != "" {
		var err error
		if cursor, err = DecodeCursor(cursorToken); err != nil {
			return nil, err
		}
	}

	// One extra row detects whether more pages remain.
	rows, err := s.store.Items().List(ctx, userID, section, cursor.UpdatedAt, cursor.ID, limit+1)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	for _, item := range rows {
		page.Items = append(page.Items, item.Flatten())
	}
	if hasMore {
		last := rows[len(rows)-1]
		page.NextCursor = Cursor{UpdatedAt: last.UpdatedAt, ID: last.RowID}.Encode()
	}
	return page, nil
}

func (s *Service) recordFault(userID string, section models.Section, op string, err error) {
	// Client mistakes are not sync failures; only record what a retry
	// might fix or an operator should see.
	if errors.Is(err, common.ErrValidation) || errors.Is(err, common.ErrQuotaExceeded) ||
		errors.Is(err, common.ErrInvalidCursor) {
		return
	}
	s.faults.Record(userID, faults.Failure{
		Section:   string(section),
		Operation: op,
		Message:   err.Error(),
	})
}
