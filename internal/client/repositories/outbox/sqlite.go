package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/models"
	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, e *models.OutboxEntry) (int64, error) {
	query := `
		INSERT INTO outbox (entity_type, entity_id, couple_id, author_id, operation, payload,
			base_version, mutation_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx, query,
		e.EntityType, e.EntityID, e.CoupleID, e.AuthorID, e.Op, e.Payload,
		e.BaseVersion, e.MutationID, models.OutboxPending, toUnix(created))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s: %w", e.Op, e.Key(), err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox seq: %w", err)
	}
	e.Seq = seq
	e.Status = models.OutboxPending
	e.CreatedAt = created
	return seq, nil
}

const selectColumns = `seq, entity_type, entity_id, couple_id, author_id, operation, payload, base_version,
	mutation_id, attempts, last_attempt_at, next_attempt_at, status, last_error, created_at`

func (r *SQLiteRepository) query(ctx context.Context, where string, args ...any) ([]models.OutboxEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM outbox WHERE `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox: %w", err)
	}
	defer rows.Close()

	var result []models.OutboxEntry
	for rows.Next() {
		var (
			e                         models.OutboxEntry
			lastAttempt, next, create int64
		)
		if err := rows.Scan(&e.Seq, &e.EntityType, &e.EntityID, &e.CoupleID, &e.AuthorID, &e.Op, &e.Payload,
			&e.BaseVersion, &e.MutationID, &e.Attempts, &lastAttempt, &next, &e.Status, &e.LastError, &create); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		e.LastAttemptAt = fromUnix(lastAttempt)
		e.NextAttemptAt = fromUnix(next)
		e.CreatedAt = fromUnix(create)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Pending(ctx context.Context, coupleID string) ([]models.OutboxEntry, error) {
	if coupleID == "" {
		return r.query(ctx, `status = ?`, models.OutboxPending)
	}
	return r.query(ctx, `status = ? AND couple_id = ?`, models.OutboxPending, coupleID)
}

func (r *SQLiteRepository) PendingFor(ctx context.Context, key dm.Key) ([]models.OutboxEntry, error) {
	return r.query(ctx, `status = ? AND entity_type = ? AND entity_id = ?`, models.OutboxPending, key.Type, key.ID)
}

func (r *SQLiteRepository) Unsettled(ctx context.Context, key dm.Key) ([]models.OutboxEntry, error) {
	return r.query(ctx, `status IN (?, ?) AND entity_type = ? AND entity_id = ?`,
		models.OutboxPending, models.OutboxFailed, key.Type, key.ID)
}

func (r *SQLiteRepository) Get(ctx context.Context, seq int64) (models.OutboxEntry, error) {
	found, err := r.query(ctx, `seq = ?`, seq)
	if err != nil {
		return models.OutboxEntry{}, err
	}
	if len(found) == 0 {
		return models.OutboxEntry{}, common.ErrNotFound
	}
	return found[0], nil
}

func (r *SQLiteRepository) List(ctx context.Context, coupleID string) ([]models.OutboxEntry, error) {
	return r.query(ctx, `couple_id = ?`, coupleID)
}

func (r *SQLiteRepository) Delete(ctx context.Context, seq int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to delete outbox entry %d: %w", seq, err)
	}
	return nil
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, seq int64, status models.OutboxStatus, lastError string) error {
	// Back to pending means a fresh attempt budget.
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?1, last_error = ?2,
			attempts = CASE WHEN ?1 = 'pending' THEN 0 ELSE attempts END,
			next_attempt_at = CASE WHEN ?1 = 'pending' THEN 0 ELSE next_attempt_at END
		WHERE seq = ?3
	`, status, lastError, seq)
	if err != nil {
		return fmt.Errorf("failed to set outbox entry %d to %s: %w", seq, status, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) RecordAttempt(ctx context.Context, seq int64, at, next time.Time, lastError string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_attempt_at = ?, next_attempt_at = ?, last_error = ?
		WHERE seq = ?
		RETURNING attempts
	`, toUnix(at), toUnix(next), lastError, seq).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrNotFound
		}
		return 0, fmt.Errorf("failed to record attempt of outbox entry %d: %w", seq, err)
	}
	return attempts, nil
}

func (r *SQLiteRepository) Rebase(ctx context.Context, key dm.Key, afterSeq int64, version int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET base_version = ?
		WHERE entity_type = ? AND entity_id = ? AND seq > ? AND status IN (?, ?) AND base_version >= 0
	`, version, key.Type, key.ID, afterSeq, models.OutboxPending, models.OutboxFailed)
	if err != nil {
		return fmt.Errorf("failed to rebase outbox of %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCouple(ctx context.Context, coupleID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE couple_id = ?`, coupleID)
	if err != nil {
		return fmt.Errorf("failed to delete outbox of couple %s: %w", coupleID, err)
	}
	return nil
}
