package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/logging"
	"github.com/larderapp/larder/internal/server/faults"
	"github.com/larderapp/larder/internal/server/models"
	"github.com/larderapp/larder/internal/server/quota"
	"github.com/larderapp/larder/internal/server/repositories/repomanager"
	"github.com/larderapp/larder/internal/server/sync"
)

// staticSessions resolves fixed tokens, standing in for the JWT validator.
type staticSessions map[string]string

func (s staticSessions) UserID(ctx context.Context, token string) (string, error) {
	userID, ok := s[token]
	if !ok {
		return "", common.ErrInvalidToken
	}
	return userID, nil
}

// recordingArchiver captures the uploaded document instead of talking to S3.
type recordingArchiver struct {
	document []byte
}

func (a *recordingArchiver) Store(ctx context.Context, userID string, document []byte) (string, string, error) {
	a.document = document
	return "exports/" + userID + "/test.json", "http://signed/test.json", nil
}

func newTestServer(t *testing.T, q quota.Checker, archiver *recordingArchiver) *httptest.Server {
	t.Helper()

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	engine := sync.NewService(repomanager.NewMemoryManager(), q, faults.NewMemoryLog(24*time.Hour, 100), logger)

	srv := NewServer(":0", logger, staticSessions{"tok-u1": "u1"}, engine, nil)
	if archiver != nil {
		srv.archiver = archiver
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

func errorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(payload, &envelope))
	return envelope.Error.Code
}

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	ts := newTestServer(t, quota.Unlimited{}, nil)

	resp, payload := doRequest(t, ts, http.MethodGet, "/sync", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, payload))

	resp, payload = doRequest(t, ts, http.MethodGet, "/sync", "bogus", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, payload))
}

func TestEntity_CreateAndList(t *testing.T) {
	ts := newTestServer(t, quota.Unlimited{}, nil)

	resp, payload := doRequest(t, ts, http.MethodPost, "/sync/inventory", "tok-u1",
		`{"operation":"create","data":{"id":"a1","name":"Milk","quantity":2}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	var applied applyResponse
	require.NoError(t, json.Unmarshal(payload, &applied))
	assert.Equal(t, "create", applied.Operation)
	assert.Equal(t, "a1", applied.ItemID)
	assert.False(t, applied.SyncedAt.IsZero())

	// The wire key for the identifier is itemId.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.Contains(t, raw, "itemId")
	assert.NotContains(t, raw, "id")

	resp, payload = doRequest(t, ts, http.MethodGet, "/sync/inventory", "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page listResponse
	require.NoError(t, json.Unmarshal(payload, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, json.RawMessage(`"a1"`), page.Items[0]["id"])
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
}

func TestEntity_StaleUpdateIsSkipped200(t *testing.T) {
	ts := newTestServer(t, quota.Unlimited{}, nil)

	resp, payload := doRequest(t, ts, http.MethodPost, "/sync/inventory", "tok-u1",
		`{"data":{"id":"a1","name":"Milk","quantity":1}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	stale := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)
	resp, payload = doRequest(t, ts, http.MethodPut, "/sync/inventory", "tok-u1",
		fmt.Sprintf(`{"data":{"id":"a1","name":"Milk","quantity":9,"updatedAt":%q}}`, stale))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	var applied applyResponse
	require.NoError(t, json.Unmarshal(payload, &applied))
	assert.Equal(t, sync.OpSkipped, applied.Operation)
	assert.Equal(t, sync.ReasonStaleUpdate, applied.Reason)
	require.NotNil(t, applied.ServerVersion)
	assert.Equal(t, json.RawMessage(`1`), applied.ServerVersion["quantity"])
}

func TestEntity_QuotaExceededEnvelope(t *testing.T) {
	ts := newTestServer(t, quota.Fixed{Limit: 1}, nil)

	resp, payload := doRequest(t, ts, http.MethodPost, "/sync/cookware", "tok-u1",
		`{"data":{"id":"c1","name":"Pan"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	resp, payload = doRequest(t, ts, http.MethodPost, "/sync/cookware", "tok-u1",
		`{"data":{"id":"c2","name":"Pot"}}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Limit int `json:"limit"`
				Count int `json:"count"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(payload, &envelope))
	assert.Equal(t, "quota_exceeded", envelope.Error.Code)
	assert.Equal(t, 1, envelope.Error.Details.Limit)
	assert.Equal(t, 1, envelope.Error.Details.Count)
}

func TestEntity_ValidationAndCursorErrors(t *testing.T) {
	ts := newTestServer(t, quota.Unlimited{}, nil)

	resp, payload := doRequest(t, ts, http.MethodPost, "/sync/teleporters", "tok-u1",
		`{"data":{"id":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errorCode(t, payload))

	resp, payload = doRequest(t, ts, http.MethodGet, "/sync/inventory?cursor=%21%21", "tok-u1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_cursor", errorCode(t, payload))

	resp, payload = doRequest(t, ts, http.MethodGet, "/sync/inventory?limit=abc", "tok-u1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errorCode(t, payload))

	resp, payload = doRequest(t, ts, http.MethodPost, "/sync/inventory", "tok-u1", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errorCode(t, payload))
}

func TestEntity_Delete(t *testing.T) {
	ts := newTestServer(t, quota.Unlimited{}, nil)

	resp, _ := doRequest(t, ts, http.MethodPost, "/sync/recipes", "tok-u1",
		`{"data":{"id":"r1","title":"Soup"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload := doRequest(t, ts, http.MethodDelete, "/sync/recipes", "tok-u1",
		`{"data":{"id":"r1"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	var applied applyResponse
	require.NoError(t, json.Unmarshal(payload, &applied))
	assert.Equal(t, "delete", applied.Operation)

	resp, payload = doRequest(t, ts, http.MethodGet, "/sync/recipes", "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page listResponse
	require.NoError(t, json.Unmarshal(payload, &page))
	assert.Empty(t, page.Items)
}

func TestDelta_UnchangedAndChanged(t *testing.T) {
	ts := newTestServer(t, quota.Unlimited{}, nil)

	resp, payload := doRequest(t, ts, http.MethodPost, "/sync/inventory", "tok-u1",
		`{"data":{"id":"a1","name":"Milk"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	// Full sync without a watermark.
	resp, payload = doRequest(t, ts, http.MethodGet, "/sync", "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var delta deltaResponse
	require.NoError(t, json.Unmarshal(payload, &delta))
	assert.False(t, delta.Unchanged)
	assert.Contains(t, delta.Data, models.SectionInventory)
	require.NotNil(t, delta.LastSyncedAt)

	// Nothing moved since the watermark we just got.
	after := delta.LastSyncedAt.Add(time.Second).UTC().Format(time.RFC3339Nano)
	resp, payload = doRequest(t, ts, http.MethodGet, "/sync?lastSyncedAt="+after, "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	delta = deltaResponse{}
	require.NoError(t, json.Unmarshal(payload, &delta))
	assert.True(t, delta.Unchanged)
	assert.Empty(t, delta.Data)
	assert.NotNil(t, delta.LastSyncedAt, "unchanged responses still carry the watermark")

	resp, payload = doRequest(t, ts, http.MethodGet, "/sync?lastSyncedAt=yesterday", "tok-u1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errorCode(t, payload))
}

func TestBulkSync_PrefsReported(t *testing.T) {
	ts := newTestServer(t, quota.Unlimited{}, nil)

	resp, payload := doRequest(t, ts, http.MethodPost, "/sync", "tok-u1",
		`{"data":{"inventory":[{"id":"a1","name":"Milk"}],"preferences":{"theme":"dark"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	var bulk bulkResponse
	require.NoError(t, json.Unmarshal(payload, &bulk))
	assert.True(t, bulk.PrefsSynced)
	assert.Empty(t, bulk.PrefsError)
	assert.False(t, bulk.SyncedAt.IsZero())
}

func TestStatus_Endpoint(t *testing.T) {
	ts := newTestServer(t, quota.Unlimited{}, nil)

	resp, payload := doRequest(t, ts, http.MethodPost, "/sync/inventory", "tok-u1",
		`{"data":{"id":"a1","name":"Milk"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	resp, payload = doRequest(t, ts, http.MethodGet, "/sync/status", "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status statusResponse
	require.NoError(t, json.Unmarshal(payload, &status))
	assert.Equal(t, 1, status.Sections["inventory"].Count)
	assert.False(t, status.ServerTimestamp.IsZero())
}

func TestExport_AttachmentAndArchive(t *testing.T) {
	archiver := &recordingArchiver{}
	ts := newTestServer(t, quota.Unlimited{}, archiver)

	resp, payload := doRequest(t, ts, http.MethodPost, "/sync/inventory", "tok-u1",
		`{"data":{"id":"a1","name":"Milk"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	resp, payload = doRequest(t, ts, http.MethodPost, "/sync/export", "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	var backup struct {
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(payload, &backup))
	assert.Equal(t, "1.0", backup.Version)

	resp, payload = doRequest(t, ts, http.MethodPost, "/sync/export?archive=true", "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var archived archivedExportResponse
	require.NoError(t, json.Unmarshal(payload, &archived))
	assert.Equal(t, "http://signed/test.json", archived.URL)
	assert.NotEmpty(t, archiver.document)
}

func TestImport_RoundTripOverHTTP(t *testing.T) {
	ts := newTestServer(t, quota.Unlimited{}, nil)

	resp, payload := doRequest(t, ts, http.MethodPost, "/sync/inventory", "tok-u1",
		`{"data":{"id":"a1","name":"Milk"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	resp, exported := doRequest(t, ts, http.MethodPost, "/sync/export", "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, payload = doRequest(t, ts, http.MethodPost, "/sync/import", "tok-u1",
		fmt.Sprintf(`{"backup":%s,"mode":"replace"}`, exported))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(payload))

	var imported importResponse
	require.NoError(t, json.Unmarshal(payload, &imported))
	assert.Equal(t, 1, imported.Summary["inventory"])

	// Unsupported backup version is rejected before any write.
	resp, payload = doRequest(t, ts, http.MethodPost, "/sync/import", "tok-u1",
		`{"backup":{"version":"2.0","data":{}},"mode":"replace"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "backup_version_mismatch", errorCode(t, payload))
}
