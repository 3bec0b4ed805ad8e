// Package identity gives every browser a stable opaque identity carried in
// a cookie.
package identity

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"game-sandbox/internal/session"
)

// CookieName holds the identity between page loads.
const CookieName = "sandbox_uid"

const cookieMaxAge = 365 * 24 * time.Hour

var validIdentity = regexp.MustCompile(`^user_[0-9a-f]{9}$`)

type contextKey struct{}

// FromContext returns the identity attached by Middleware.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromRequest returns the identity of r, or "" when it has none.
func FromRequest(r *http.Request) string {
	id, _ := FromContext(r.Context())
	return id
}

// Valid reports whether id has the shape NewIdentity produces.
func Valid(id string) bool {
	return validIdentity.MatchString(id)
}

// Middleware reads the identity cookie, minting a new identity when the
// cookie is missing or malformed, and attaches it to the request context.
func Middleware(logger *zap.Logger, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(CookieName); err == nil && Valid(c.Value) {
				id = c.Value
			} else {
				id = session.NewIdentity()
				logger.Debug("identity.Middleware: issued identity", zap.String("identity", id))
			}
			// Refresh on every request so active users keep their identity.
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   int(cookieMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			})
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
