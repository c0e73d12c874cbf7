package reconcile

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/cryptox"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
)

// IssuePairingCode asks the backend for a code to hand to the partner.
// Pairing errors are returned as is; they are never retried.
func (e *Engine) IssuePairingCode(ctx context.Context) (dm.PairingCode, error) {
	if e.session.UserID() == "" {
		return dm.PairingCode{}, common.ErrUnauthorized
	}
	if e.session.CoupleID() != "" {
		return dm.PairingCode{}, common.ErrAlreadyPaired
	}
	return e.remote.IssuePairingCode(ctx)
}

// RedeemPairingCode pairs the user with the issuer of code.
func (e *Engine) RedeemPairingCode(ctx context.Context, code string) (dm.Couple, error) {
	if e.session.UserID() == "" {
		return dm.Couple{}, common.ErrUnauthorized
	}
	if e.session.CoupleID() != "" {
		return dm.Couple{}, common.ErrAlreadyPaired
	}
	c, err := e.remote.RedeemPairingCode(ctx, cryptox.NormalizePairingCode(code))
	if err != nil {
		return dm.Couple{}, err
	}
	if err := e.paired(ctx, c); err != nil {
		return dm.Couple{}, err
	}
	return c, nil
}

func (e *Engine) paired(ctx context.Context, c dm.Couple) error {
	if err := e.session.SetCouple(ctx, &c); err != nil {
		return err
	}
	e.cachePartner(ctx)
	e.logger.Info(ctx, "paired", "couple_id", c.ID)
	e.emit(Notice{Kind: NoticePaired, CoupleID: c.ID})
	e.Kick()
	return nil
}

func (e *Engine) cachePartner(ctx context.Context) {
	partner := e.session.PartnerID()
	if partner == "" {
		return
	}
	u, err := e.remote.Profile(ctx, partner)
	if err != nil {
		e.logger.Debug(ctx, "partner profile not cached", "error", err)
		return
	}
	if err := e.session.CacheUser(ctx, u); err != nil {
		e.logger.Debug(ctx, "partner profile not cached", "error", err)
	}
}

// Dissolve ends the couple for both partners and discards its local data.
func (e *Engine) Dissolve(ctx context.Context) error {
	coupleID := e.session.CoupleID()
	if coupleID == "" {
		return common.ErrNotPaired
	}
	_, err := e.remote.DissolveCouple(ctx, coupleID)
	// Already gone on the server: finish locally.
	if err != nil && !errors.Is(err, common.ErrNotAuthorized) && !errors.Is(err, common.ErrNotPaired) {
		return err
	}
	return e.dissolved(ctx, coupleID)
}

// RefreshCouple reconciles the session with the couple the backend reports.
// It picks up a pairing completed on the partner's device and a dissolution
// that happened while this device was away.
func (e *Engine) RefreshCouple(ctx context.Context) (*dm.Couple, error) {
	if e.session.UserID() == "" {
		return nil, common.ErrUnauthorized
	}
	c, err := e.remote.CurrentCouple(ctx)
	if err != nil {
		return nil, err
	}

	current := e.session.CoupleID()
	if current != "" && (c == nil || c.ID != current || !c.IsActive()) {
		if err := e.dissolved(ctx, current); err != nil {
			return nil, err
		}
	}
	if c == nil || !c.IsActive() {
		return nil, nil
	}
	if c.ID != current {
		if err := e.paired(ctx, *c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// CoupleRevoked is called when the backend refused access to a couple. The
// couple is discarded unless the backend still reports it active.
func (e *Engine) CoupleRevoked(ctx context.Context, coupleID string) {
	e.verifyCouple(ctx, coupleID)
}

func (e *Engine) verifyCouple(ctx context.Context, coupleID string) {
	c, err := e.remote.CurrentCouple(ctx)
	if err == nil && c != nil && c.ID == coupleID && c.IsActive() {
		return
	}
	if err != nil && !errors.Is(err, common.ErrNotAuthorized) && !errors.Is(err, common.ErrNotPaired) {
		e.logger.Warn(ctx, "couple access refused, state unknown", "couple_id", coupleID, "error", err)
		return
	}
	if err := e.dissolved(ctx, coupleID); err != nil {
		e.logger.Error(ctx, "cannot discard dissolved couple", "couple_id", coupleID, "error", err)
	}
}

// dissolved forgets a couple: the session drops it and every cached record
// and queued change of it is discarded.
func (e *Engine) dissolved(ctx context.Context, coupleID string) error {
	wasCurrent := e.session.CoupleID() == coupleID
	if wasCurrent {
		if err := e.session.SetCouple(ctx, nil); err != nil {
			return err
		}
	}
	if err := e.store.DiscardCouple(ctx, coupleID); err != nil {
		return err
	}
	e.forgetCouple(coupleID)

	if wasCurrent {
		e.logger.Info(ctx, "couple dissolved, local data discarded", "couple_id", coupleID)
		e.emit(Notice{Kind: NoticeDissolved, CoupleID: coupleID})
	}
	return nil
}
