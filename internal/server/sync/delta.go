package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/server/faults"
	"github.com/larderapp/larder/internal/server/models"
	"github.com/larderapp/larder/internal/server/repositories/repomanager"
)

// DeltaResult is the response body of the incremental sync read.
type DeltaResult struct {
	// Unchanged is set when nothing moved past the client's
	// lastSyncedAt; Data is nil in that case.
	Unchanged       bool
	Data            map[models.Section]json.RawMessage
	LastSyncedAt    time.Time
	ServerTimestamp time.Time
}

// Delta computes the sections a client needs. A nil lastSyncedAt means full
// sync: every section is returned. Otherwise only sections whose ledger
// timestamp exceeds lastSyncedAt are re-fetched.
func (s *Service) Delta(ctx context.Context, userID string, lastSyncedAt *time.Time) (*DeltaResult, error) {
	now := s.now()
	ledger, err := s.store.Ledger().All(ctx, userID)
	if err != nil {
		return nil, err
	}

	var changed []models.Section
	if lastSyncedAt == nil {
		changed = models.AllSections()
	} else {
		for _, section := range models.AllSections() {
			if at, ok := ledger[section]; ok && at.After(*lastSyncedAt) {
				changed = append(changed, section)
			}
		}
		if len(changed) == 0 {
			return &DeltaResult{Unchanged: true, LastSyncedAt: now, ServerTimestamp: now}, nil
		}
	}

	data := make(map[models.Section]json.RawMessage, len(changed))
	for _, section := range changed {
		raw, ok, err := s.sectionPayload(ctx, s.store, userID, section)
		if err != nil {
			return nil, err
		}
		if ok {
			data[section] = raw
		}
	}
	return &DeltaResult{Data: data, LastSyncedAt: now, ServerTimestamp: now}, nil
}

// sectionPayload serializes one section's current state: an array of flat
// objects for entity sections, the stored document for KV sections.
func (s *Service) sectionPayload(ctx context.Context, tm repomanager.Manager, userID string, section models.Section) (json.RawMessage, bool, error) {
	if section.IsEntity() {
		rows, err := tm.Items().ListAll(ctx, userID, section)
		if err != nil {
			return nil, false, err
		}
		flat := make([]map[string]json.RawMessage, 0, len(rows))
		for _, item := range rows {
			flat = append(flat, item.Flatten())
		}
		raw, err := json.Marshal(flat)
		if err != nil {
			return nil, false, err
		}
		return raw, true, nil
	}

	rec, err := tm.KV().Get(ctx, userID, section)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec.Value, true, nil
}

// BulkResult is the response of the account-wide push.
type BulkResult struct {
	SyncedAt    time.Time
	PrefsSynced bool
	PrefsError  string
}

// BulkSync replaces every section present in data with the pushed state.
// Entity sections are rewritten as delete+bulk-insert in one transaction so
// a crash cannot leave a partially replaced section. Preferences are written
// outside that transaction; a preferences failure is reported, not fatal.
func (s *Service) BulkSync(ctx context.Context, userID string, data map[models.Section]json.RawMessage) (*BulkResult, error) {
	now := s.now()
	result := &BulkResult{SyncedAt: now}

	err := s.store.InTx(ctx, func(ctx context.Context, tm repomanager.Manager) error {
		for _, section := range models.EntitySections() {
			raw, ok := data[section]
			if !ok {
				continue
			}
			if err := s.replaceSection(ctx, tm, userID, section, raw, now, 0); err != nil {
				return err
			}
			if err := tm.Ledger().Bump(ctx, userID, section, now); err != nil {
				return err
			}
		}
		for _, section := range models.KVSections() {
			raw, ok := data[section]
			if !ok || section == models.SectionPreferences {
				continue
			}
			rec := &models.KVRecord{UserID: userID, Section: section, Value: raw, UpdatedAt: now}
			if err := tm.KV().Upsert(ctx, rec); err != nil {
				return err
			}
			if err := tm.Ledger().Bump(ctx, userID, section, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.recordFault(userID, "bulk", "sync", err)
		return nil, err
	}

	if raw, ok := data[models.SectionPreferences]; ok {
		rec := &models.KVRecord{UserID: userID, Section: models.SectionPreferences, Value: raw, UpdatedAt: now}
		err := s.store.InTx(ctx, func(ctx context.Context, tm repomanager.Manager) error {
			if err := tm.KV().Upsert(ctx, rec); err != nil {
				return err
			}
			return tm.Ledger().Bump(ctx, userID, models.SectionPreferences, now)
		})
		if err != nil {
			s.logger.Warn(ctx, "preferences sync failed", "user", userID, "error", err)
			s.recordFault(userID, models.SectionPreferences, "sync", err)
			result.PrefsError = err.Error()
			return result, nil
		}
		result.PrefsSynced = true
	}
	return result, nil
}

// replaceSection wipes an entity section and re-inserts the given flat
// objects. A positive maxRows truncates the input.
func (s *Service) replaceSection(ctx context.Context, tm repomanager.Manager, userID string, section models.Section, raw json.RawMessage, at time.Time, maxRows int) error {
	var objects []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &objects); err != nil {
		return fmt.Errorf("%w: section %s must be an array", common.ErrValidation, section)
	}
	col, _ := CollectionFor(section)

	if err := tm.Items().DeleteAll(ctx, userID, section); err != nil {
		return err
	}
	if maxRows > 0 && len(objects) > maxRows {
		objects = objects[:maxRows]
	}
	for _, obj := range objects {
		itemID, declared, data, extra, err := col.ParsePayload(obj)
		if err != nil {
			return err
		}
		updatedAt := at
		if declared != nil && declared.Before(at) {
			updatedAt = declared.UTC()
		}
		item := &models.Item{
			UserID:    userID,
			Section:   section,
			ItemID:    itemID,
			Data:      data,
			Extra:     extra,
			UpdatedAt: updatedAt,
		}
		if err := tm.Items().Upsert(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// SectionStatus summarizes one section for the status endpoint.
type SectionStatus struct {
	Count        int        `json:"count,omitempty"`
	Present      bool       `json:"present,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// Status reports per-section state plus the rolling 24h failure log.
type Status struct {
	Sections        map[models.Section]SectionStatus
	Failures        []faults.Failure
	ServerTimestamp time.Time
}

// AccountStatus builds the status view for one user.
func (s *Service) AccountStatus(ctx context.Context, userID string) (*Status, error) {
	now := s.now()
	ledger, err := s.store.Ledger().All(ctx, userID)
	if err != nil {
		return nil, err
	}

	sections := make(map[models.Section]SectionStatus, len(models.AllSections()))
	for _, section := range models.EntitySections() {
		n, err := s.store.Items().Count(ctx, userID, section)
		if err != nil {
			return nil, err
		}
		st := SectionStatus{Count: n}
		if at, ok := ledger[section]; ok {
			t := at
			st.LastModified = &t
		}
		sections[section] = st
	}
	kvRecords, err := s.store.KV().All(ctx, userID)
	if err != nil {
		return nil, err
	}
	present := make(map[models.Section]bool, len(kvRecords))
	for _, rec := range kvRecords {
		present[rec.Section] = true
	}
	for _, section := range models.KVSections() {
		st := SectionStatus{Present: present[section]}
		if at, ok := ledger[section]; ok {
			t := at
			st.LastModified = &t
		}
		sections[section] = st
	}

	recent := s.faults.Recent(userID, now.Add(-24*time.Hour))
	return &Status{Sections: sections, Failures: recent, ServerTimestamp: now}, nil
}
