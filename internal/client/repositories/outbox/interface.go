// Package outbox persists local mutations until the backend confirms them.
//
// Entries are keyed by an autoincrement seq, which orders them per entity.
// Only pending entries are drained; conflict and failed entries are kept for
// the user to inspect and dismiss. A failed entry still holds back the later
// entries of its entity until it is retried or dismissed.
package outbox

import (
	"context"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/models"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
)

type Repository interface {
	// Enqueue stores e as pending and returns its seq.
	Enqueue(ctx context.Context, e *models.OutboxEntry) (int64, error)

	// Pending lists pending entries of a couple in seq order. An empty
	// coupleID lists every couple.
	Pending(ctx context.Context, coupleID string) ([]models.OutboxEntry, error)

	// PendingFor lists pending entries of one entity in seq order.
	PendingFor(ctx context.Context, key dm.Key) ([]models.OutboxEntry, error)

	// Unsettled lists the pending and failed entries of one entity in seq
	// order.
	Unsettled(ctx context.Context, key dm.Key) ([]models.OutboxEntry, error)

	// Get returns one entry, common.ErrNotFound if there is none.
	Get(ctx context.Context, seq int64) (models.OutboxEntry, error)

	// List returns every entry of a couple regardless of status.
	List(ctx context.Context, coupleID string) ([]models.OutboxEntry, error)

	// Delete removes an entry; it is how a confirmed entry leaves the queue.
	Delete(ctx context.Context, seq int64) error

	// SetStatus moves an entry to status and records why. Moving it back to
	// pending clears its attempts.
	SetStatus(ctx context.Context, seq int64, status models.OutboxStatus, lastError string) error

	// RecordAttempt counts a failed attempt and schedules the next one.
	RecordAttempt(ctx context.Context, seq int64, at, next time.Time, lastError string) (int, error)

	// Rebase sets the base version of the pending and failed entries of key
	// queued after seq. Unconditional entries (negative base) are left alone.
	Rebase(ctx context.Context, key dm.Key, afterSeq int64, version int64) error

	// DeleteCouple removes every entry of a couple.
	DeleteCouple(ctx context.Context, coupleID string) error
}
