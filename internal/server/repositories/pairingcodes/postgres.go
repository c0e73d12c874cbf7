// Package pairingcodes stores hashed pairing codes in PostgreSQL.
package pairingcodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	"github.com/dmitrijs2005/couplesync/internal/models"
	sm "github.com/dmitrijs2005/couplesync/internal/server/models"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/pgerr"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, pc *sm.PairingCode) error {
	query := `
		INSERT INTO pairing_codes (code_hash, issuer_id, status, created_at, expires_at)
		VALUES ($1, $2, 'open', $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, pc.CodeHash, pc.IssuerID, pc.CreatedAt, pc.ExpiresAt); err != nil {
		if pgerr.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	pc.Status = models.PairingOpen
	return nil
}

func (r *PostgresRepository) ExpireOpenByIssuer(ctx context.Context, issuerID string) (int64, error) {
	query := `UPDATE pairing_codes SET status = 'expired' WHERE issuer_id = $1 AND status = 'open'`
	res, err := r.db.ExecContext(ctx, query, issuerID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// Redeem is the single conditional write that decides which of several
// concurrent redeemers wins: every later transaction re-evaluates the WHERE
// clause after the winner commits and matches nothing.
func (r *PostgresRepository) Redeem(ctx context.Context, codeHash, redeemerID string, now time.Time) (*sm.PairingCode, bool, error) {
	query := `
		UPDATE pairing_codes
		SET status = 'redeemed', redeemed_by = $2, redeemed_at = $3
		WHERE code_hash = $1
		  AND status = 'open'
		  AND expires_at > $3
		  AND issuer_id <> $2
		RETURNING issuer_id, created_at, expires_at`

	pc := &sm.PairingCode{CodeHash: codeHash, Status: models.PairingRedeemed, RedeemedBy: redeemerID, RedeemedAt: now}
	err := r.db.QueryRowContext(ctx, query, codeHash, redeemerID, now).Scan(&pc.IssuerID, &pc.CreatedAt, &pc.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("db error: %w", err)
	}
	return pc, true, nil
}

func (r *PostgresRepository) Get(ctx context.Context, codeHash string) (*sm.PairingCode, error) {
	query := `
		SELECT issuer_id, status, created_at, expires_at, COALESCE(redeemed_by::text, '')
		FROM pairing_codes
		WHERE code_hash = $1`

	pc := &sm.PairingCode{CodeHash: codeHash}
	err := r.db.QueryRowContext(ctx, query, codeHash).Scan(&pc.IssuerID, &pc.Status, &pc.CreatedAt, &pc.ExpiresAt, &pc.RedeemedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return pc, nil
}

func (r *PostgresRepository) MarkExpired(ctx context.Context, codeHash string) error {
	query := `UPDATE pairing_codes SET status = 'expired' WHERE code_hash = $1 AND status = 'open'`
	if _, err := r.db.ExecContext(ctx, query, codeHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
