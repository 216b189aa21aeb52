package auth

import (
	"context"
	"net/http"

	"groupwatch/models"
)

// contextKey is unexported so other packages cannot collide with our keys.
type contextKey int

const sessionKey contextKey = iota

// WithSession returns a context carrying the authenticated admin session.
// The auth middleware attaches it after validating the token.
func WithSession(ctx context.Context, s models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromRequest returns the session attached by the auth middleware.
func SessionFromRequest(r *http.Request) (models.Session, bool) {
	s, ok := r.Context().Value(sessionKey).(models.Session)
	return s, ok
}

// GetAccountID retrieves the authenticated account ID from the request context.
func GetAccountID(r *http.Request) string {
	if s, ok := SessionFromRequest(r); ok {
		return s.AccountID
	}
	return ""
}

// IsMaster checks if the authenticated account is a master account.
func IsMaster(r *http.Request) bool {
	if s, ok := SessionFromRequest(r); ok {
		return s.IsMaster
	}
	return false
}
