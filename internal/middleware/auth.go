package middleware

import (
	"context"
	"net/http"
	"strings"

	"example.com/socialfeed/internal/apperr"
	"example.com/socialfeed/internal/auth"
	"example.com/socialfeed/internal/logger"
)

var logg = logger.New()

type contextKey string

const UserCtxKey = contextKey("user_id")

// TokenVerifier is the part of the token service the gate needs.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// JWTAuth rejects requests without a valid bearer token and stores the
// token's user id in the request context. Every rejection is a 401.
func JWTAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperr.Write(w, "auth", apperr.Unauthenticated("Not authenticated."))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				apperr.Write(w, "auth", apperr.Unauthenticated("Not authenticated."))
				return
			}

			claims, err := verifier.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				logg.Debug("auth", "Token rejected: "+err.Error())
				apperr.Write(w, "auth", apperr.Unauthenticated("Not authenticated."))
				return
			}

			ctx := context.WithValue(r.Context(), UserCtxKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Extracting user_id in handler
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserCtxKey).(string)
	return id, ok && id != ""
}
