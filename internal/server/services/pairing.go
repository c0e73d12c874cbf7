package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/cryptox"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	"github.com/dmitrijs2005/couplesync/internal/logging"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/dmitrijs2005/couplesync/internal/server/config"
	"github.com/dmitrijs2005/couplesync/internal/server/models"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/couples"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/pairingcodes"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const maxCodeAttempts = 5

var generateCode = func() (string, error) {
	return common.RandomCode(common.PairingCodeLength, common.PairingCodeAlphabet)
}

// PairingService runs the pairing protocol: issuing codes, redeeming them
// into a couple and dissolving couples.
type PairingService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	codeTTL     time.Duration
	secret      []byte
	limiter     Limiter
	publisher   Publisher
	logger      logging.Logger
}

// NewPairingService wires the service. A nil limiter allows every attempt and
// a nil publisher drops events.
func NewPairingService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config,
	limiter Limiter, publisher Publisher, logger logging.Logger) *PairingService {
	if limiter == nil {
		limiter = allowAll{}
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	ttl := cfg.PairingCodeTTL
	if ttl <= 0 {
		ttl = common.DefaultPairingCodeTTL
	}
	return &PairingService{
		db:          db,
		repomanager: m,
		codeTTL:     ttl,
		secret:      []byte(cfg.PairingCodeSecret),
		limiter:     limiter,
		publisher:   publisher,
		logger:      logger.With("module", "pairing"),
	}
}

func ensureUnpaired(ctx context.Context, repo couples.Repository, userID string) error {
	_, err := repo.ActiveFor(ctx, userID)
	switch {
	case err == nil:
		return common.ErrAlreadyPaired
	case errors.Is(err, common.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("couple lookup: %w", err)
	}
}

// Issue creates a new code for issuerID and expires the issuer's earlier open
// codes. The plain code is returned once; only its keyed hash is stored.
func (s *PairingService) Issue(ctx context.Context, issuerID string) (dm.PairingCode, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return dm.PairingCode{}, fmt.Errorf("generate code: %w", err)
		}
		hash, err := cryptox.HashPairingCode(code, s.secret)
		if err != nil {
			return dm.PairingCode{}, fmt.Errorf("hash code: %w", err)
		}

		t := now()
		pc := &models.PairingCode{CodeHash: hash, IssuerID: issuerID, CreatedAt: t, ExpiresAt: t.Add(s.codeTTL)}

		err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := ensureUnpaired(ctx, s.repomanager.Couples(tx), issuerID); err != nil {
				return err
			}
			codes := s.repomanager.PairingCodes(tx)
			if _, err := codes.ExpireOpenByIssuer(ctx, issuerID); err != nil {
				return err
			}
			return codes.Insert(ctx, pc)
		})
		if errors.Is(err, common.ErrAlreadyExists) {
			s.logger.Debug(ctx, "pairing code collision, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return dm.PairingCode{}, err
		}

		s.logger.Info(ctx, "pairing code issued", "issuer", issuerID, "expires_at", pc.ExpiresAt)
		return dm.PairingCode{
			Code:      code,
			IssuerID:  issuerID,
			CreatedAt: pc.CreatedAt,
			ExpiresAt: pc.ExpiresAt,
			Status:    dm.PairingOpen,
		}, nil
	}
	return dm.PairingCode{}, fmt.Errorf("%w: no free pairing code after %d attempts", common.ErrInternal, maxCodeAttempts)
}

// Redeem turns an open code into an active couple of its issuer and
// redeemerID.
//
// The code is claimed by one conditional UPDATE inside the same transaction
// that creates the couple, so of several concurrent redeemers exactly one
// succeeds and the others see common.ErrAlreadyRedeemed.
func (s *PairingService) Redeem(ctx context.Context, code, redeemerID string) (dm.Couple, error) {
	allowed, err := s.limiter.Allow(ctx, "redeem:"+redeemerID)
	if err != nil {
		s.logger.Warn(ctx, "rate limiter unavailable", "error", err)
	} else if !allowed {
		return dm.Couple{}, common.ErrRateLimited
	}

	normalized := cryptox.NormalizePairingCode(code)
	if len(normalized) != common.PairingCodeLength {
		return dm.Couple{}, common.ErrNotFound
	}
	hash, err := cryptox.HashPairingCode(normalized, s.secret)
	if err != nil {
		return dm.Couple{}, fmt.Errorf("hash code: %w", err)
	}

	t := now()
	c, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*dm.Couple, error) {
		cr := s.repomanager.Couples(tx)
		codes := s.repomanager.PairingCodes(tx)

		if err := ensureUnpaired(ctx, cr, redeemerID); err != nil {
			return nil, err
		}

		pc, ok, err := codes.Redeem(ctx, hash, redeemerID, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, diagnoseRedeem(ctx, codes, hash, redeemerID, t)
		}

		if err := ensureUnpaired(ctx, cr, pc.IssuerID); err != nil {
			return nil, err
		}

		c := &dm.Couple{
			ID:       uuid.NewString(),
			Members:  [2]string{pc.IssuerID, redeemerID},
			PairedAt: t,
			Status:   dm.CoupleActive,
		}
		if err := cr.Create(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	})

	if errors.Is(err, common.ErrExpired) {
		// The transaction was rolled back, so the lazy expiry is written on its own.
		if mErr := s.repomanager.PairingCodes(s.db).MarkExpired(ctx, hash); mErr != nil {
			s.logger.Warn(ctx, "mark code expired failed", "error", mErr)
		}
	}
	if err != nil {
		return dm.Couple{}, err
	}

	s.logger.Info(ctx, "couple formed", "couple_id", c.ID)
	return *c, nil
}

// diagnoseRedeem explains why the conditional UPDATE matched no row.
func diagnoseRedeem(ctx context.Context, codes pairingcodes.Repository, hash, redeemerID string, t time.Time) error {
	pc, err := codes.Get(ctx, hash)
	if err != nil {
		return err
	}
	switch {
	case pc.Status == dm.PairingRedeemed:
		return common.ErrAlreadyRedeemed
	case pc.Status == dm.PairingExpired || !pc.ExpiresAt.After(t):
		return common.ErrExpired
	case pc.IssuerID == redeemerID:
		return common.ErrSelfPairing
	default:
		return common.ErrAlreadyRedeemed
	}
}

// Dissolve ends an active couple. Only a member may do it. Subscribers get a
// couple event and their streams are closed.
func (s *PairingService) Dissolve(ctx context.Context, coupleID, requesterID string) (dm.Couple, error) {
	t := now()
	type result struct {
		couple  *dm.Couple
		version int64
	}

	r, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (result, error) {
		cr := s.repomanager.Couples(tx)
		c, err := cr.Get(ctx, coupleID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return result{}, common.ErrNotAuthorized
			}
			return result{}, err
		}
		if !c.HasMember(requesterID) {
			return result{}, common.ErrNotAuthorized
		}
		if !c.IsActive() {
			return result{}, common.ErrNotPaired
		}
		v, err := cr.Dissolve(ctx, coupleID, t)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return result{}, common.ErrNotPaired
			}
			return result{}, err
		}
		c.Status = dm.CoupleDissolved
		return result{couple: c, version: v}, nil
	})
	if err != nil {
		return dm.Couple{}, err
	}

	rec, err := dm.CoupleRecord(*r.couple, r.version, t)
	if err != nil {
		s.logger.Error(ctx, "encode couple event", "error", err)
	} else {
		s.publisher.Publish(coupleID, dm.ChangeEvent{
			EntityType:      dm.EntityCouple,
			Operation:       dm.OpDelete,
			Record:          rec,
			ServerTimestamp: t,
			Cursor:          r.version,
		})
	}
	s.publisher.CloseCouple(coupleID)

	s.logger.Info(ctx, "couple dissolved", "couple_id", coupleID, "by", requesterID)
	return *r.couple, nil
}

// Current returns the active couple of userID, or nil when unpaired.
func (s *PairingService) Current(ctx context.Context, userID string) (*dm.Couple, error) {
	c, err := s.repomanager.Couples(s.db).ActiveFor(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}
