package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/services"
)

type ctxKey int

const identityKey ctxKey = iota

// Resolver turns a raw token into an identity; it never fails.
type Resolver interface {
	Resolve(ctx context.Context, token string) models.Identity
}

// WithIdentity stores id on the context.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller, or the anonymous identity.
func IdentityFromContext(ctx context.Context) models.Identity {
	if id, ok := ctx.Value(identityKey).(models.Identity); ok {
		return id
	}
	return models.Anonymous()
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthMiddleware rejects requests that do not resolve to an authenticated user.
func AuthMiddleware(auth Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
				return
			}

			id := auth.Resolve(r.Context(), token)
			if !id.Authenticated {
				services.SendAppError(w, apperr.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFromContext(r.Context()).IsAdmin {
			services.SendAppError(w, apperr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
