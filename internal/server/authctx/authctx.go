package authctx

import (
	"context"

	"stockledger-backend/internal/domain"
)

type contextKey string

const userContextKey contextKey = "currentUser"

type CurrentUser struct {
	ID    string
	Email string
	Role  domain.UserRole
}

// Actor is the identity passed to service mutators.
func (u CurrentUser) Actor() domain.Actor {
	return domain.Actor{UserID: u.ID, Role: u.Role}
}

func WithCurrentUser(ctx context.Context, user CurrentUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func FromContext(ctx context.Context) *CurrentUser {
	val, ok := ctx.Value(userContextKey).(CurrentUser)
	if !ok {
		return nil
	}
	return &val
}
