package records

import (
	"context"

	"github.com/dmitrijs2005/couplesync/internal/models"
	sm "github.com/dmitrijs2005/couplesync/internal/server/models"
)

// Repository stores versioned couple-scoped records (journal entries,
// memories and love pings).
type Repository interface {
	// Get returns a record including tombstones, or common.ErrNotFound.
	Get(ctx context.Context, t models.EntityType, coupleID, id string) (*sm.StoredRecord, error)
	// Insert creates a record; an existing id yields common.ErrVersionConflict.
	Insert(ctx context.Context, rec *sm.StoredRecord) error
	// Update overwrites a live record whose version equals expected (any
	// version when expected < 0); otherwise common.ErrVersionConflict.
	Update(ctx context.Context, rec *sm.StoredRecord, expected int64) error
	// ListSince returns records of a couple with version > cursor ordered by
	// version, at most limit rows.
	ListSince(ctx context.Context, coupleID string, cursor int64, limit int) ([]*sm.StoredRecord, error)
}
