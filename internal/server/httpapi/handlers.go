package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/server/faults"
	"github.com/larderapp/larder/internal/server/models"
	"github.com/larderapp/larder/internal/server/sync"
)

type entityRequest struct {
	Operation       string                     `json:"operation"`
	Data            map[string]json.RawMessage `json:"data"`
	ClientTimestamp *time.Time                 `json:"clientTimestamp"`
}

type applyResponse struct {
	Operation     string                     `json:"operation"`
	Reason        string                     `json:"reason,omitempty"`
	ItemID        string                     `json:"itemId"`
	SyncedAt      time.Time                  `json:"syncedAt"`
	ServerVersion map[string]json.RawMessage `json:"serverVersion,omitempty"`
}

type deltaResponse struct {
	Unchanged       bool                               `json:"unchanged,omitempty"`
	Data            map[models.Section]json.RawMessage `json:"data,omitempty"`
	LastSyncedAt    *time.Time                         `json:"lastSyncedAt,omitempty"`
	ServerTimestamp time.Time                          `json:"serverTimestamp"`
}

type bulkRequest struct {
	Data map[models.Section]json.RawMessage `json:"data"`
}

type bulkResponse struct {
	SyncedAt    time.Time `json:"syncedAt"`
	PrefsSynced bool      `json:"prefsSynced"`
	PrefsError  string    `json:"prefsError,omitempty"`
}

type listResponse struct {
	Items      []map[string]json.RawMessage `json:"items"`
	NextCursor string                       `json:"nextCursor,omitempty"`
	HasMore    bool                         `json:"hasMore"`
}

type statusResponse struct {
	Sections        map[models.Section]sync.SectionStatus `json:"sections"`
	Failures        []faults.Failure                      `json:"failures"`
	ServerTimestamp time.Time                             `json:"serverTimestamp"`
}

type archivedExportResponse struct {
	ExportedAt time.Time `json:"exportedAt"`
	Key        string    `json:"key"`
	URL        string    `json:"url"`
}

type importRequest struct {
	Backup *models.Backup    `json:"backup"`
	Mode   models.ImportMode `json:"mode"`
}

type importResponse struct {
	Mode       models.ImportMode      `json:"mode"`
	ImportedAt time.Time              `json:"importedAt"`
	Summary    map[models.Section]int `json:"summary"`
	Warnings   []string               `json:"warnings,omitempty"`
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", common.ErrValidation, err)
	}
	return nil
}

func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
	var lastSyncedAt *time.Time
	if raw := r.URL.Query().Get("lastSyncedAt"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(r.Context(), w, fmt.Errorf("%w: invalid lastSyncedAt %q", common.ErrValidation, raw))
			return
		}
		lastSyncedAt = &parsed
	}

	result, err := s.engine.Delta(r.Context(), requestUserID(r), lastSyncedAt)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	// lastSyncedAt always accompanies the response, so clients can advance
	// their watermark even when nothing changed.
	resp := deltaResponse{
		ServerTimestamp: result.ServerTimestamp,
		LastSyncedAt:    &result.LastSyncedAt,
	}
	if result.Unchanged {
		resp.Unchanged = true
	} else {
		resp.Data = result.Data
	}
	s.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *Server) handleBulkSync(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	result, err := s.engine.BulkSync(r.Context(), requestUserID(r), req.Data)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, bulkResponse{
		SyncedAt:    result.SyncedAt,
		PrefsSynced: result.PrefsSynced,
		PrefsError:  result.PrefsError,
	})
}

func (s *Server) handleEntityList(w http.ResponseWriter, r *http.Request) {
	section := models.Section(mux.Vars(r)["entity"])

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(r.Context(), w, fmt.Errorf("%w: invalid limit %q", common.ErrValidation, raw))
			return
		}
		limit = parsed
	}

	page, err := s.engine.List(r.Context(), requestUserID(r), section, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, listResponse{
		Items:      page.Items,
		NextCursor: page.NextCursor,
		HasMore:    page.NextCursor != "",
	})
}

func (s *Server) handleEntityPost(w http.ResponseWriter, r *http.Request) {
	s.applyFromBody(w, r, "")
}

func (s *Server) handleEntityPut(w http.ResponseWriter, r *http.Request) {
	s.applyFromBody(w, r, sync.OpUpdate)
}

func (s *Server) handleEntityDelete(w http.ResponseWriter, r *http.Request) {
	s.applyFromBody(w, r, sync.OpDelete)
}

// applyFromBody runs one entity write. A forced operation (PUT, DELETE)
// wins over whatever the body declares; POST defaults to create.
func (s *Server) applyFromBody(w http.ResponseWriter, r *http.Request, forced sync.Operation) {
	section := models.Section(mux.Vars(r)["entity"])

	var req entityRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	op := forced
	if op == "" {
		op = sync.OpCreate
		if req.Operation != "" {
			op = sync.Operation(req.Operation)
		}
	}

	result, err := s.engine.Apply(r.Context(), requestUserID(r), section, op, req.Data, req.ClientTimestamp)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, applyResponse{
		Operation:     result.Operation,
		Reason:        result.Reason,
		ItemID:        result.ItemID,
		SyncedAt:      result.SyncedAt,
		ServerVersion: result.ServerVersion,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.AccountStatus(r.Context(), requestUserID(r))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, statusResponse{
		Sections:        status.Sections,
		Failures:        status.Failures,
		ServerTimestamp: status.ServerTimestamp,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	backup, err := s.engine.Export(r.Context(), userID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	if r.URL.Query().Get("archive") == "true" && s.archiver != nil {
		document, err := json.Marshal(backup)
		if err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
		key, url, err := s.archiver.Store(r.Context(), userID, document)
		if err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
		s.writeJSON(r.Context(), w, http.StatusOK, archivedExportResponse{
			ExportedAt: backup.ExportedAt,
			Key:        key,
			URL:        url,
		})
		return
	}

	filename := fmt.Sprintf("larder-export-%s.json", backup.ExportedAt.Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	s.writeJSON(r.Context(), w, http.StatusOK, backup)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if req.Backup == nil {
		s.writeError(r.Context(), w, fmt.Errorf("%w: missing backup document", common.ErrValidation))
		return
	}

	result, err := s.engine.Import(r.Context(), requestUserID(r), req.Backup, req.Mode)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, importResponse{
		Mode:       result.Mode,
		ImportedAt: result.ImportedAt,
		Summary:    result.Summary,
		Warnings:   result.Warnings,
	})
}
