package interfaces

import (
	"context"

	"github.com/smartbank/ledger-core/internal/models"
)

// UserStore persists registered principals. Email is unique.
type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
}
