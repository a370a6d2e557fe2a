package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/xelth-com/eckposgo/internal/utils"
)

type contextKey string

const ShiftContextKey contextKey = "shift"

// SessionChecker reports whether a cart session is still open.
type SessionChecker interface {
	IsOpen(sessionID string) bool
}

// SessionAuth verifies the shift token and that its session is still open
func SessionAuth(secret string, sessions SessionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			// Bearer token
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := utils.ParseShiftToken(parts[1], secret)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			if sessions != nil && !sessions.IsOpen(claims.SessionID) {
				http.Error(w, "Shift is closed", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ShiftContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ShiftFromContext returns the claims SessionAuth stored.
func ShiftFromContext(ctx context.Context) (utils.ShiftClaims, bool) {
	c, ok := ctx.Value(ShiftContextKey).(utils.ShiftClaims)
	return c, ok
}
