package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/larderapp/larder/internal/common"
)

type contextKey string

const userIDKey contextKey = "userID"

// withSession resolves the Authorization header to an account and stores
// the user id on the request context. Requests without a valid bearer
// token never reach a handler.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(r.Context(), w, fmt.Errorf("%w: missing bearer token", common.ErrUnauthorized))
			return
		}

		userID, err := s.sessions.UserID(r.Context(), token)
		if err != nil {
			s.writeError(r.Context(), w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}
