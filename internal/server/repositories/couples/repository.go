package couples

import (
	"context"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/models"
)

// Repository persists couples, their membership and their version counter.
type Repository interface {
	// Create inserts an active couple and both member rows. A member that is
	// already in another active couple makes it fail with common.ErrAlreadyPaired.
	Create(ctx context.Context, c *models.Couple) error
	Get(ctx context.Context, coupleID string) (*models.Couple, error)
	// ActiveFor returns the active couple of userID or common.ErrNotFound.
	ActiveFor(ctx context.Context, userID string) (*models.Couple, error)
	IsActiveMember(ctx context.Context, coupleID, userID string) (bool, error)
	// LockForWrite takes the row lock of an active couple for the rest of the
	// transaction and returns its current version.
	LockForWrite(ctx context.Context, coupleID string) (int64, error)
	// NextVersion increments and returns the couple's change counter.
	NextVersion(ctx context.Context, coupleID string) (int64, error)
	// Dissolve marks an active couple dissolved, deactivates its members and
	// returns the version assigned to the change.
	Dissolve(ctx context.Context, coupleID string, at time.Time) (int64, error)
}
