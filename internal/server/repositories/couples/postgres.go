// Package couples stores couples and couple membership in PostgreSQL.
package couples

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	"github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/pgerr"
)

// OneActiveIndex is the partial unique index that keeps a user in at most
// one active couple.
const OneActiveIndex = "couple_members_one_active"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Couple) error {
	query := `INSERT INTO couples (id, status, paired_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, c.ID, string(c.Status), c.PairedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	member := `INSERT INTO couple_members (couple_id, user_id, active) VALUES ($1, $2, true)`
	for _, uid := range c.Members {
		if _, err := r.db.ExecContext(ctx, member, c.ID, uid); err != nil {
			if pgerr.IsUniqueViolation(err, OneActiveIndex) {
				return common.ErrAlreadyPaired
			}
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, coupleID string) (*models.Couple, error) {
	query := `
		SELECT c.id, c.status, c.paired_at, m.user_id
		FROM couples c
		JOIN couple_members m ON m.couple_id = c.id
		WHERE c.id = $1
		ORDER BY m.user_id`
	return r.scanCouple(ctx, query, coupleID)
}

func (r *PostgresRepository) ActiveFor(ctx context.Context, userID string) (*models.Couple, error) {
	query := `
		SELECT c.id, c.status, c.paired_at, m.user_id
		FROM couples c
		JOIN couple_members m ON m.couple_id = c.id
		WHERE c.id = (
			SELECT couple_id FROM couple_members WHERE user_id = $1 AND active
		) AND c.status = 'active'
		ORDER BY m.user_id`
	return r.scanCouple(ctx, query, userID)
}

func (r *PostgresRepository) scanCouple(ctx context.Context, query string, arg any) (*models.Couple, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var (
		c models.Couple
		n int
	)
	for rows.Next() {
		var uid string
		if err := rows.Scan(&c.ID, &c.Status, &c.PairedAt, &uid); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if n < len(c.Members) {
			c.Members[n] = uid
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return nil, common.ErrNotFound
	}
	return &c, nil
}

func (r *PostgresRepository) IsActiveMember(ctx context.Context, coupleID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM couple_members m
			JOIN couples c ON c.id = m.couple_id
			WHERE m.couple_id = $1 AND m.user_id = $2 AND m.active AND c.status = 'active'
		)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, coupleID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) LockForWrite(ctx context.Context, coupleID string) (int64, error) {
	query := `SELECT current_version FROM couples WHERE id = $1 AND status = 'active' FOR UPDATE`
	var v int64
	if err := r.db.QueryRowContext(ctx, query, coupleID).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrNotAuthorized
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) NextVersion(ctx context.Context, coupleID string) (int64, error) {
	query :=
		`UPDATE couples SET current_version = current_version + 1
		 WHERE id = $1
		 RETURNING current_version`

	var v int64
	if err := r.db.QueryRowContext(ctx, query, coupleID).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) Dissolve(ctx context.Context, coupleID string, at time.Time) (int64, error) {
	query :=
		`UPDATE couples
		 SET status = 'dissolved', dissolved_at = $2, current_version = current_version + 1
		 WHERE id = $1 AND status = 'active'
		 RETURNING current_version`

	var v int64
	if err := r.db.QueryRowContext(ctx, query, coupleID, at).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE couple_members SET active = false WHERE couple_id = $1`, coupleID); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}
