// ABOUTME: Caller identity carried through request handlers
// ABOUTME: Provides WithUser/UserFromContext for propagating the opaque user id

package auth

import "context"

type userKey struct{}

// WithUser returns a new context carrying the caller's user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the caller's user id, or "" when the request is anonymous.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
