package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"recoverly/internal/types"
)

// AdminKeyHeader carries the admin API key on settings and ledger routes.
const AdminKeyHeader = "X-Admin-Key"

// RequireBearer rejects requests whose "Authorization: Bearer <token>" does
// not match secret. Used by the retry trigger with CRON_SECRET. An unset
// secret rejects everything.
func (s *Server) RequireBearer(secret types.SecretString) func(http.Handler) http.Handler {
	return s.requireSecret(secret, func(r *http.Request) string {
		return extractBearerToken(r.Header.Get("Authorization"))
	})
}

// RequireAdminKey rejects requests that present neither a matching
// X-Admin-Key header nor a matching bearer token.
func (s *Server) RequireAdminKey(secret types.SecretString) func(http.Handler) http.Handler {
	return s.requireSecret(secret, func(r *http.Request) string {
		if key := strings.TrimSpace(r.Header.Get(AdminKeyHeader)); key != "" {
			return key
		}
		return extractBearerToken(r.Header.Get("Authorization"))
	})
}

func (s *Server) requireSecret(secret types.SecretString, extract func(*http.Request) string) func(http.Handler) http.Handler {
	want := []byte(secret.Unmask())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extract(r)
			if token == "" {
				s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "authentication token is required")
				return
			}
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				s.Logger.WarnContext(r.Context(), "authentication failed: token invalid",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken returns the token from "Bearer <token>" (scheme is
// case-insensitive), or "" when the header has another shape.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
