package port

import (
	"context"

	"github.com/Wyydra/ya-call/internal/core/domain"
)

// UserDirectory returns domain.ErrUserNotFound for unknown ids.
type UserDirectory interface {
	GetUser(ctx context.Context, id domain.UserID) (domain.User, error)
}
