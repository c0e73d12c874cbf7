package pairingcodes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/server/models"
)

type Repository interface {
	// Insert stores a new open code. A hash collision with an existing row
	// yields common.ErrAlreadyExists.
	Insert(ctx context.Context, pc *models.PairingCode) error
	// ExpireOpenByIssuer closes every open code of issuerID.
	ExpireOpenByIssuer(ctx context.Context, issuerID string) (int64, error)
	// Redeem atomically flips an open, unexpired code not issued by redeemerID
	// to redeemed. ok is false when no row qualified.
	Redeem(ctx context.Context, codeHash, redeemerID string, now time.Time) (pc *models.PairingCode, ok bool, err error)
	Get(ctx context.Context, codeHash string) (*models.PairingCode, error)
	MarkExpired(ctx context.Context, codeHash string) error
}
