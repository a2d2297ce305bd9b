package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-gate/internal/history"
)

type contextKey string

const (
	tokenContextKey  contextKey = "token"
	userIDContextKey contextKey = "user_id"
)

// TokenValidator resolves a bearer token to the user it was issued for.
type TokenValidator interface {
	Validate(value string) (int64, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireToken is middleware that requires a valid bearer token
func RequireToken(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}
			userID, err := v.Validate(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := SetTokenInContext(r.Context(), token, userID)
			history.SetRequestUser(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "unauthorized"}`))
}

// GetTokenFromContext returns the bearer token accepted by RequireToken
func GetTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// GetUserIDFromContext returns the user the accepted token belongs to.
// The second value is false when the request was not authenticated.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDContextKey).(int64)
	return id, ok
}

// SetTokenInContext adds an authenticated token to the context.
// This is primarily for testing - use RequireToken middleware in production.
func SetTokenInContext(ctx context.Context, token string, userID int64) context.Context {
	ctx = context.WithValue(ctx, tokenContextKey, token)
	return context.WithValue(ctx, userIDContextKey, userID)
}
