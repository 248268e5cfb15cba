package common

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type userIDKey struct{}

// Claims represents the custom claims included in the JWT access token
// issued by the identity provider.
type Claims struct {
	UserID               string `json:"uid"`           // Custom claim for User ID.
	Email                string `json:"eml,omitempty"` // Custom claim for Email.
	Role                 string `json:"rol,omitempty"` // Custom claim for User Role.
	jwt.RegisteredClaims        // Embed standard claims (ExpiresAt, IssuedAt, Subject, etc.).
}

// Subject returns the user id carried by the claims, preferring the custom
// uid claim over the registered subject.
func (c *Claims) Subject() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// WithUserID returns a copy of ctx carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the current user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// RequireUserID is the precondition for every write operation.
func RequireUserID(ctx context.Context) (string, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	return id, nil
}
