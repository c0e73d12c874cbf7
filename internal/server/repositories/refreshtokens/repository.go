// Package refreshtokens declares the server-side repository contract for
// refresh tokens.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/server/models"
)

// Repository issues, looks up and consumes refresh tokens.
type Repository interface {
	Create(ctx context.Context, userID string, token string, expiresAt time.Time) error
	// Find returns common.ErrNotFound when the token is absent.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)
	// Consume deletes the token and returns common.ErrNotFound if another
	// request consumed it first, so a token can be rotated only once.
	Consume(ctx context.Context, token string) error
}
