package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rezkam/flow7/internal/auth"
	"github.com/rezkam/flow7/internal/domain"
	"github.com/rezkam/flow7/internal/http/response"
)

type contextKey string

const uidContextKey contextKey = "flow7.uid"

// UID returns the authenticated user id stored by the auth middleware.
func UID(ctx context.Context) string {
	uid, _ := ctx.Value(uidContextKey).(string)
	return uid
}

// SettingsEnsurer creates default settings for a uid on first contact.
type SettingsEnsurer interface {
	Ensure(ctx context.Context, uid string) (*domain.UserSettings, error)
}

// Auth is HTTP middleware for bearer token authentication.
type Auth struct {
	resolver auth.Resolver
	settings SettingsEnsurer
}

// NewAuth creates a new auth middleware. Every authenticated request
// also guarantees the user has a settings row.
func NewAuth(resolver auth.Resolver, settings SettingsEnsurer) *Auth {
	return &Auth{resolver: resolver, settings: settings}
}

// Validate is a chi middleware that resolves the Authorization header
// to a uid and stores it on the request context.
// Expects format: "Authorization: Bearer <token>"
func (a *Auth) Validate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			slog.WarnContext(r.Context(), "authentication failed: missing Authorization header",
				"path", r.URL.Path,
				"method", r.Method)
			response.Unauthorized(w, "missing Authorization header")
			return
		}

		token, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			slog.WarnContext(r.Context(), "authentication failed: invalid Authorization header format",
				"path", r.URL.Path,
				"method", r.Method)
			response.Unauthorized(w, "invalid Authorization header format, expected: Bearer <token>")
			return
		}

		uid, err := a.resolver.ResolveUID(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthenticated) {
				slog.WarnContext(r.Context(), "authentication failed: invalid token",
					"path", r.URL.Path,
					"method", r.Method)
			} else {
				slog.ErrorContext(r.Context(), "authentication failed: unexpected error",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err)
			}
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		if _, err := a.settings.Ensure(r.Context(), uid); err != nil {
			response.InternalError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), uidContextKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
