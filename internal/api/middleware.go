package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const analystIDKey contextKey = "analystID"

// AnalystAuthMiddleware validates HS256 bearer tokens signed with secret and stores the
// subject claim as the analyst id. With an empty secret every request is rejected.
func AnalystAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				writeError(w, http.StatusUnauthorized, "Analyst authentication is not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			claims := jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			analystID := strings.TrimSpace(claims.Subject)
			if analystID == "" {
				writeError(w, http.StatusUnauthorized, "Analyst ID not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), analystIDKey, analystID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AnalystFromContext returns the authenticated analyst id.
func AnalystFromContext(ctx context.Context) (string, bool) {
	analystID, ok := ctx.Value(analystIDKey).(string)
	return analystID, ok
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
