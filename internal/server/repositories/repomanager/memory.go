package repomanager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/server/models"
	"github.com/larderapp/larder/internal/server/repositories/items"
	"github.com/larderapp/larder/internal/server/repositories/kv"
	"github.com/larderapp/larder/internal/server/repositories/ledger"
)

// MemoryManager keeps everything in process memory. It backs engine and
// handler tests and small single-node deployments without Postgres.
// Transactions are not rolled back on error; callers that need rollback
// semantics tested must run against Postgres.
type MemoryManager struct {
	mu     sync.Mutex
	rowSeq int64

	itemRows  map[itemKey]*models.Item
	kvRows    map[kvKey]*models.KVRecord
	ledgerRow map[kvKey]time.Time
}

type itemKey struct {
	user    string
	section models.Section
	item    string
}

type kvKey struct {
	user    string
	section models.Section
}

// NewMemoryManager builds an empty in-memory store.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		itemRows:  make(map[itemKey]*models.Item),
		kvRows:    make(map[kvKey]*models.KVRecord),
		ledgerRow: make(map[kvKey]time.Time),
	}
}

func (m *MemoryManager) RunMigrations(ctx context.Context) error { return nil }

func (m *MemoryManager) Items() items.Repository   { return (*memItems)(m) }
func (m *MemoryManager) KV() kv.Repository         { return (*memKV)(m) }
func (m *MemoryManager) Ledger() ledger.Repository { return (*memLedger)(m) }

func (m *MemoryManager) InTx(ctx context.Context, fn func(ctx context.Context, tm Manager) error) error {
	return fn(ctx, m)
}

type memItems MemoryManager

func (r *memItems) Get(ctx context.Context, userID string, section models.Section, itemID string) (*models.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.itemRows[itemKey{userID, section, itemID}]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneItem(row), nil
}

func (r *memItems) Upsert(ctx context.Context, item *models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := itemKey{item.UserID, item.Section, item.ItemID}
	if existing, ok := r.itemRows[key]; ok {
		item.RowID = existing.RowID
	} else {
		r.rowSeq++
		item.RowID = r.rowSeq
	}
	r.itemRows[key] = cloneItem(item)
	return nil
}

func (r *memItems) Delete(ctx context.Context, userID string, section models.Section, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.itemRows, itemKey{userID, section, itemID})
	return nil
}

func (r *memItems) SoftDelete(ctx context.Context, userID string, section models.Section, itemID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.itemRows[itemKey{userID, section, itemID}]; ok {
		t := at
		row.DeletedAt = &t
		row.UpdatedAt = at
	}
	return nil
}

func (r *memItems) List(ctx context.Context, userID string, section models.Section, afterUpdatedAt time.Time, afterID int64, limit int) ([]*models.Item, error) {
	rows, err := r.ListAll(ctx, userID, section)
	if err != nil {
		return nil, err
	}
	var out []*models.Item
	for _, row := range rows {
		if row.UpdatedAt.After(afterUpdatedAt) ||
			(row.UpdatedAt.Equal(afterUpdatedAt) && row.RowID > afterID) {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memItems) ListAll(ctx context.Context, userID string, section models.Section) ([]*models.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Item
	for key, row := range r.itemRows {
		if key.user == userID && key.section == section && row.DeletedAt == nil {
			out = append(out, cloneItem(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].RowID < out[j].RowID
	})
	return out, nil
}

func (r *memItems) Count(ctx context.Context, userID string, section models.Section) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, row := range r.itemRows {
		if key.user == userID && key.section == section && row.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *memItems) DeleteAll(ctx context.Context, userID string, section models.Section) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.itemRows {
		if key.user == userID && key.section == section {
			delete(r.itemRows, key)
		}
	}
	return nil
}

type memKV MemoryManager

func (r *memKV) Get(ctx context.Context, userID string, section models.Section) (*models.KVRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.kvRows[kvKey{userID, section}]
	if !ok {
		return nil, common.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (r *memKV) Upsert(ctx context.Context, rec *models.KVRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *rec
	r.kvRows[kvKey{rec.UserID, rec.Section}] = &clone
	return nil
}

func (r *memKV) Delete(ctx context.Context, userID string, section models.Section) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.kvRows, kvKey{userID, section})
	return nil
}

func (r *memKV) All(ctx context.Context, userID string) ([]*models.KVRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.KVRecord
	for key, row := range r.kvRows {
		if key.user == userID {
			clone := *row
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Section < out[j].Section })
	return out, nil
}

type memLedger MemoryManager

func (r *memLedger) Bump(ctx context.Context, userID string, section models.Section, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := kvKey{userID, section}
	if cur, ok := r.ledgerRow[key]; !ok || at.After(cur) {
		r.ledgerRow[key] = at
	}
	return nil
}

func (r *memLedger) All(ctx context.Context, userID string) (map[models.Section]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.Section]time.Time)
	for key, at := range r.ledgerRow {
		if key.user == userID {
			out[key.section] = at
		}
	}
	return out, nil
}

func (r *memLedger) SetAll(ctx context.Context, userID string, at time.Time) error {
	for _, section := range models.AllSections() {
		if err := r.Bump(ctx, userID, section, at); err != nil {
			return err
		}
	}
	return nil
}

func cloneItem(item *models.Item) *models.Item {
	clone := *item
	clone.Data = cloneMap(item.Data)
	clone.Extra = cloneMap(item.Extra)
	if item.DeletedAt != nil {
		t := *item.DeletedAt
		clone.DeletedAt = &t
	}
	return &clone
}

func cloneMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
