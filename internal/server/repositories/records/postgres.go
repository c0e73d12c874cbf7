// Package records stores versioned couple-scoped records in PostgreSQL.
// Each entity type has its own table with identical columns.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	"github.com/dmitrijs2005/couplesync/internal/models"
	sm "github.com/dmitrijs2005/couplesync/internal/server/models"
)

var tables = map[models.EntityType]string{
	models.EntityJournalEntry: "journal_entries",
	models.EntityMemory:       "memories",
	models.EntityLovePing:     "love_pings",
}

// TableFor returns the table of t.
func TableFor(t models.EntityType) (string, error) {
	name, ok := tables[t]
	if !ok {
		return "", fmt.Errorf("%w: unknown entity type %q", common.ErrValidation, t)
	}
	return name, nil
}

const columns = `id, couple_id, author_id, payload, version, server_time, deleted, last_op, last_mutation_id`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, t models.EntityType) (*sm.StoredRecord, error) {
	rec := &sm.StoredRecord{}
	var payload []byte
	var lastOp string
	if err := s.Scan(&rec.ID, &rec.CoupleID, &rec.AuthorID, &payload, &rec.Version, &rec.ServerTime,
		&rec.Deleted, &lastOp, &rec.LastMutationID); err != nil {
		return nil, err
	}
	rec.Type = t
	rec.Payload = payload
	rec.LastOp = models.Operation(lastOp)
	return rec, nil
}

func (r *PostgresRepository) Get(ctx context.Context, t models.EntityType, coupleID, id string) (*sm.StoredRecord, error) {
	table, err := TableFor(t)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + columns + ` FROM ` + table + ` WHERE id = $1 AND couple_id = $2`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id, coupleID), t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func payloadArg(rec *sm.StoredRecord) []byte {
	if len(rec.Payload) == 0 {
		return []byte("{}")
	}
	return rec.Payload
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *sm.StoredRecord) error {
	table, err := TableFor(rec.Type)
	if err != nil {
		return err
	}
	query := `INSERT INTO ` + table + ` (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, rec.ID, rec.CoupleID, rec.AuthorID, payloadArg(rec),
		rec.Version, rec.ServerTime, rec.Deleted, string(rec.LastOp), rec.LastMutationID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affectedOne(res)
}

func (r *PostgresRepository) Update(ctx context.Context, rec *sm.StoredRecord, expected int64) error {
	table, err := TableFor(rec.Type)
	if err != nil {
		return err
	}
	query := `UPDATE ` + table + `
		SET payload = $1, version = $2, server_time = $3, deleted = $4, last_op = $5, last_mutation_id = $6
		WHERE id = $7 AND couple_id = $8 AND NOT deleted
		  AND ($9::bigint < 0 OR version = $9::bigint)`

	res, err := r.db.ExecContext(ctx, query, payloadArg(rec), rec.Version, rec.ServerTime, rec.Deleted,
		string(rec.LastOp), rec.LastMutationID, rec.ID, rec.CoupleID, expected)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) ListSince(ctx context.Context, coupleID string, cursor int64, limit int) ([]*sm.StoredRecord, error) {
	query := `
		SELECT 'journal_entry' AS type, ` + columns + ` FROM journal_entries WHERE couple_id = $1 AND version > $2
		UNION ALL
		SELECT 'memory', ` + columns + ` FROM memories WHERE couple_id = $1 AND version > $2
		UNION ALL
		SELECT 'love_ping', ` + columns + ` FROM love_pings WHERE couple_id = $1 AND version > $2
		ORDER BY version
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, coupleID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*sm.StoredRecord
	for rows.Next() {
		var t string
		rec := &sm.StoredRecord{}
		var payload []byte
		var lastOp string
		if err := rows.Scan(&t, &rec.ID, &rec.CoupleID, &rec.AuthorID, &payload, &rec.Version, &rec.ServerTime,
			&rec.Deleted, &lastOp, &rec.LastMutationID); err != nil {
			return nil, err
		}
		rec.Type = models.EntityType(t)
		rec.Payload = payload
		rec.LastOp = models.Operation(lastOp)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
