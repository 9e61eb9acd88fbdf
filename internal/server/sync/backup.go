package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/server/models"
	"github.com/larderapp/larder/internal/server/repositories/repomanager"
)

// Export serializes the whole account into a versioned backup document.
// Soft-deleted inventory rows are excluded; KV sections appear only when a
// document exists.
func (s *Service) Export(ctx context.Context, userID string) (*models.Backup, error) {
	backup := &models.Backup{
		Version:    models.BackupVersion,
		ExportedAt: s.now(),
		Data:       make(map[models.Section]json.RawMessage),
	}
	for _, section := range models.AllSections() {
		raw, ok, err := s.sectionPayload(ctx, s.store, userID, section)
		if err != nil {
			return nil, err
		}
		if ok {
			backup.Data[section] = raw
		}
	}
	return backup, nil
}

// ImportResult reports what an import wrote.
type ImportResult struct {
	Mode       models.ImportMode
	ImportedAt time.Time
	// Summary counts imported rows per entity section and written
	// documents (0 or 1) per KV section.
	Summary  map[models.Section]int
	Warnings []string
}

// Import restores a backup into the account. The version literal must match
// exactly before any processing begins. Each mode runs in one transaction;
// a failed import writes nothing.
func (s *Service) Import(ctx context.Context, userID string, backup *models.Backup, mode models.ImportMode) (*ImportResult, error) {
	if backup.Version != models.BackupVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", common.ErrBackupVersionMismatch, backup.Version, models.BackupVersion)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown import mode %q", common.ErrValidation, mode)
	}

	now := s.now()
	result := &ImportResult{
		Mode:       mode,
		ImportedAt: now,
		Summary:    make(map[models.Section]int),
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tm repomanager.Manager) error {
		if mode == models.ImportModeReplace {
			return s.importReplace(ctx, tm, userID, backup, now, result)
		}
		return s.importMerge(ctx, tm, userID, backup, now, result)
	})
	if err != nil {
		s.recordFault(userID, "backup", "import", err)
		return nil, err
	}
	return result, nil
}

func (s *Service) importReplace(ctx context.Context, tm repomanager.Manager, userID string, backup *models.Backup, now time.Time, result *ImportResult) error {
	for _, section := range models.EntitySections() {
		objects, err := backupItems(backup, section)
		if err != nil {
			return err
		}
		if err := tm.Items().DeleteAll(ctx, userID, section); err != nil {
			return err
		}
		col, _ := CollectionFor(section)
		limit := -1
		if col.QuotaGated {
			allowance, err := s.quota.CheckLimit(ctx, userID)
			if err != nil {
				return fmt.Errorf("quota check: %w", err)
			}
			if !allowance.Unbounded {
				limit = allowance.Limit
			}
		}
		if limit >= 0 && len(objects) > limit {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"%s: truncated %d items over the limit of %d", section, len(objects)-limit, limit))
			objects = objects[:limit]
		}
		for _, obj := range objects {
			if err := s.importItem(ctx, tm, userID, col, obj, now); err != nil {
				return err
			}
		}
		result.Summary[section] = len(objects)
	}

	for _, section := range models.KVSections() {
		raw, ok := backup.Data[section]
		if !ok {
			if err := tm.KV().Delete(ctx, userID, section); err != nil {
				return err
			}
			continue
		}
		rec := &models.KVRecord{UserID: userID, Section: section, Value: raw, UpdatedAt: now}
		if err := tm.KV().Upsert(ctx, rec); err != nil {
			return err
		}
		result.Summary[section] = 1
	}

	return tm.Ledger().SetAll(ctx, userID, now)
}

func (s *Service) importMerge(ctx context.Context, tm repomanager.Manager, userID string, backup *models.Backup, now time.Time, result *ImportResult) error {
	for _, section := range models.EntitySections() {
		raw, ok := backup.Data[section]
		if !ok {
			continue
		}
		objects, err := parseItemArray(section, raw)
		if err != nil {
			return err
		}
		col, _ := CollectionFor(section)

		remaining := -1
		if col.QuotaGated {
			allowance, err := s.quota.CheckLimit(ctx, userID)
			if err != nil {
				return fmt.Errorf("quota check: %w", err)
			}
			if !allowance.Unbounded {
				count, err := tm.Items().Count(ctx, userID, section)
				if err != nil {
					return err
				}
				remaining = allowance.Limit - count
				if remaining < 0 {
					remaining = 0
				}
			}
		}

		imported, truncated := 0, 0
		for _, obj := range objects {
			itemID, _, _, _, err := col.ParsePayload(obj)
			if err != nil {
				return err
			}
			_, err = tm.Items().Get(ctx, userID, section, itemID)
			isNew := errors.Is(err, common.ErrNotFound)
			if err != nil && !isNew {
				return err
			}
			if isNew && remaining == 0 {
				truncated++
				continue
			}
			if err := s.importItem(ctx, tm, userID, col, obj, now); err != nil {
				return err
			}
			if isNew && remaining > 0 {
				remaining--
			}
			imported++
		}
		if truncated > 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"%s: skipped %d new items beyond remaining capacity", section, truncated))
		}
		result.Summary[section] = imported
		if err := tm.Ledger().Bump(ctx, userID, section, now); err != nil {
			return err
		}
	}

	for _, section := range models.KVSections() {
		raw, ok := backup.Data[section]
		if !ok {
			continue
		}
		merged, err := s.mergeKV(ctx, tm, userID, section, raw)
		if err != nil {
			return err
		}
		rec := &models.KVRecord{UserID: userID, Section: section, Value: merged, UpdatedAt: now}
		if err := tm.KV().Upsert(ctx, rec); err != nil {
			return err
		}
		result.Summary[section] = 1
		if err := tm.Ledger().Bump(ctx, userID, section, now); err != nil {
			return err
		}
	}
	return nil
}

// mergeKV combines an imported KV document with the stored one: log
// sections concatenate; object sections deep-merge with imported keys
// winning.
func (s *Service) mergeKV(ctx context.Context, tm repomanager.Manager, userID string, section models.Section, imported json.RawMessage) (json.RawMessage, error) {
	existing, err := tm.KV().Get(ctx, userID, section)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return imported, nil
		}
		return nil, err
	}

	if section.IsLog() {
		var have, add []json.RawMessage
		if err := json.Unmarshal(existing.Value, &have); err != nil {
			return nil, fmt.Errorf("%w: stored %s is not an array", common.ErrValidation, section)
		}
		if err := json.Unmarshal(imported, &add); err != nil {
			return nil, fmt.Errorf("%w: imported %s is not an array", common.ErrValidation, section)
		}
		return json.Marshal(append(have, add...))
	}

	var have, add map[string]json.RawMessage
	if err := json.Unmarshal(existing.Value, &have); err != nil {
		return nil, fmt.Errorf("%w: stored %s is not an object", common.ErrValidation, section)
	}
	if err := json.Unmarshal(imported, &add); err != nil {
		return nil, fmt.Errorf("%w: imported %s is not an object", common.ErrValidation, section)
	}
	return json.Marshal(deepMerge(have, add))
}

// deepMerge merges src into dst. When both sides of a key hold JSON
// objects the merge recurses; otherwise src wins.
func deepMerge(dst, src map[string]json.RawMessage) map[string]json.RawMessage {
	for k, v := range src {
		if cur, ok := dst[k]; ok {
			var curObj, srcObj map[string]json.RawMessage
			if json.Unmarshal(cur, &curObj) == nil && json.Unmarshal(v, &srcObj) == nil &&
				curObj != nil && srcObj != nil {
				merged, err := json.Marshal(deepMerge(curObj, srcObj))
				if err == nil {
					dst[k] = merged
					continue
				}
			}
		}
		dst[k] = v
	}
	return dst
}

func (s *Service) importItem(ctx context.Context, tm repomanager.Manager, userID string, col Collection, obj map[string]json.RawMessage, at time.Time) error {
	itemID, declared, data, extra, err := col.ParsePayload(obj)
	if err != nil {
		return err
	}
	updatedAt := at
	if declared != nil && declared.Before(at) {
		// Future client clocks never outrun the ledger stamp.
		updatedAt = declared.UTC()
	}
	item := &models.Item{
		UserID:    userID,
		Section:   col.Section,
		ItemID:    itemID,
		Data:      data,
		Extra:     extra,
		UpdatedAt: updatedAt,
	}
	return tm.Items().Upsert(ctx, item)
}

func backupItems(backup *models.Backup, section models.Section) ([]map[string]json.RawMessage, error) {
	raw, ok := backup.Data[section]
	if !ok {
		return nil, nil
	}
	return parseItemArray(section, raw)
}

func parseItemArray(section models.Section, raw json.RawMessage) ([]map[string]json.RawMessage, error) {
	var objects []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, fmt.Errorf("%w: section %s must be an array of objects", common.ErrValidation, section)
	}
	return objects, nil
}
