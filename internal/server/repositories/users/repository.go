package users

import (
	"context"

	"github.com/dmitrijs2005/couplesync/internal/server/models"
)

type Repository interface {
	// Create inserts a user and fills its ID. A taken username yields
	// common.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}
