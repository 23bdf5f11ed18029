package middleware

import (
	"context"

	"github.com/google/uuid"
)

// Context key type to avoid collisions
type contextKey string

// UserIDKey is the context key for the authenticated user ID. Request IDs
// are not duplicated here; chi's middleware.GetReqID reads them directly.
const UserIDKey contextKey = "user_id"

// GetUserIDFromContext retrieves the authenticated user ID from context.
// Returns uuid.Nil when the request is unauthenticated.
func GetUserIDFromContext(ctx context.Context) uuid.UUID {
	if val := ctx.Value(UserIDKey); val != nil {
		if userID, ok := val.(uuid.UUID); ok {
			return userID
		}
	}
	return uuid.Nil
}

// WithUserID adds the authenticated user ID to the context
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
