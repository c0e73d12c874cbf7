package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/models"
)

// Repository describes the cached-record operations used by the store.
type Repository interface {
	// Upsert inserts rec or replaces the row with the same key.
	Upsert(ctx context.Context, rec models.Record, updatedAt time.Time) error

	// Get returns the row for key or common.ErrNotFound.
	Get(ctx context.Context, key models.Key) (models.Record, error)

	// ListByCouple returns the records of one type, oldest version first.
	ListByCouple(ctx context.Context, coupleID string, t models.EntityType, includeDeleted bool) ([]models.Record, error)

	// SetSyncStatus changes the client status only.
	SetSyncStatus(ctx context.Context, key models.Key, status models.SyncStatus) error

	// Delete removes the row. Missing rows are not an error.
	Delete(ctx context.Context, key models.Key) error

	// DeleteCouple removes every row of a couple.
	DeleteCouple(ctx context.Context, coupleID string) error
}
