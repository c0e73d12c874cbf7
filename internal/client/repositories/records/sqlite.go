package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	"github.com/dmitrijs2005/couplesync/internal/models"
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

func (r *SQLiteRepository) Upsert(ctx context.Context, rec models.Record, updatedAt time.Time) error {
	query := `
		INSERT INTO records (entity_type, id, couple_id, author_id, payload, version, server_time, deleted, sync_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			couple_id   = excluded.couple_id,
			author_id   = excluded.author_id,
			payload     = excluded.payload,
			version     = excluded.version,
			server_time = excluded.server_time,
			deleted     = excluded.deleted,
			sync_status = excluded.sync_status,
			updated_at  = excluded.updated_at
	`
	status := rec.SyncStatus
	if status == "" {
		status = models.SyncPending
	}
	_, err := r.db.ExecContext(ctx, query,
		rec.Type, rec.ID, rec.CoupleID, rec.AuthorID, []byte(rec.Payload),
		rec.Version, toUnix(rec.ServerTime), rec.Deleted, status, toUnix(updatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.Key(), err)
	}
	return nil
}

const selectColumns = `entity_type, id, couple_id, author_id, payload, version, server_time, deleted, sync_status`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (models.Record, error) {
	var (
		rec        models.Record
		payload    []byte
		serverTime int64
	)
	if err := s.Scan(&rec.Type, &rec.ID, &rec.CoupleID, &rec.AuthorID, &payload,
		&rec.Version, &serverTime, &rec.Deleted, &rec.SyncStatus); err != nil {
		return models.Record{}, err
	}
	rec.Payload = payload
	rec.ServerTime = fromUnix(serverTime)
	return rec, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, key models.Key) (models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records WHERE entity_type = ? AND id = ?`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, key.Type, key.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, common.ErrNotFound
		}
		return models.Record{}, fmt.Errorf("failed to get record %s: %w", key, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) ListByCouple(ctx context.Context, coupleID string, t models.EntityType, includeDeleted bool) ([]models.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM records WHERE couple_id = ? AND entity_type = ?`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY version, updated_at, id`

	rows, err := r.db.QueryContext(ctx, query, coupleID, t)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) SetSyncStatus(ctx context.Context, key models.Key, status models.SyncStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE records SET sync_status = ? WHERE entity_type = ? AND id = ?`, status, key.Type, key.ID)
	if err != nil {
		return fmt.Errorf("failed to set sync status of %s: %w", key, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key models.Key) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE entity_type = ? AND id = ?`, key.Type, key.ID)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCouple(ctx context.Context, coupleID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE couple_id = ?`, coupleID)
	if err != nil {
		return fmt.Errorf("failed to delete records of couple %s: %w", coupleID, err)
	}
	return nil
}
