package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/larderapp/larder/internal/common"
	"github.com/larderapp/larder/internal/server/quota"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(ctx, "response encode failed", "error", err)
	}
}

// writeError maps sentinel errors onto the HTTP error envelope. Anything
// unrecognized is a 500 and gets logged; client-caused failures do not.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var quotaErr *quota.LimitExceededError

	status := http.StatusInternalServerError
	detail := errorDetail{Code: "internal", Message: "internal server error"}

	switch {
	case errors.As(err, &quotaErr):
		status = http.StatusForbidden
		detail = errorDetail{
			Code:    "quota_exceeded",
			Message: quotaErr.Error(),
			Details: map[string]int{"limit": quotaErr.Limit, "count": quotaErr.Count},
		}
	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		status = http.StatusUnauthorized
		detail = errorDetail{Code: "unauthorized", Message: err.Error()}
	case errors.Is(err, common.ErrInvalidCursor):
		status = http.StatusBadRequest
		detail = errorDetail{Code: "invalid_cursor", Message: err.Error()}
	case errors.Is(err, common.ErrBackupVersionMismatch):
		status = http.StatusBadRequest
		detail = errorDetail{Code: "backup_version_mismatch", Message: err.Error()}
	case errors.Is(err, common.ErrValidation):
		status = http.StatusBadRequest
		detail = errorDetail{Code: "validation", Message: err.Error()}
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
		detail = errorDetail{Code: "not_found", Message: err.Error()}
	default:
		s.logger.Error(ctx, "request failed", "error", err)
	}

	s.writeJSON(ctx, w, status, errorEnvelope{Error: detail})
}
