package reconcile

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/client"
	"github.com/dmitrijs2005/couplesync/internal/client/models"
	"github.com/dmitrijs2005/couplesync/internal/client/store"
	"github.com/dmitrijs2005/couplesync/internal/common"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"golang.org/x/sync/errgroup"
)

// Backoff returns min(base·2^(attempt-1), limit).
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	return min(d, limit)
}

// Run drains the outbox at startup, whenever Kick is called, when a retry
// falls due and at least every SyncInterval, until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-e.kick:
		}

		if err := e.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Debug(ctx, "sync incomplete", "error", err)
		}
		timer.Reset(e.nextWake(ctx))
	}
}

// nextWake is the time until the earliest retry of an entity that is not
// held back by a failed entry, capped by SyncInterval.
func (e *Engine) nextWake(ctx context.Context) time.Duration {
	wait := e.opts.SyncInterval
	coupleID := e.session.CoupleID()
	if coupleID == "" {
		return wait
	}
	entries, err := e.store.DrainOutbox(ctx, coupleID)
	if err != nil {
		return wait
	}
	now := e.now()
	seen := make(map[dm.Key]bool)
	for _, en := range entries {
		if seen[en.Key()] {
			continue
		}
		seen[en.Key()] = true
		head, ok, err := e.head(ctx, en.Key())
		if err != nil || !ok {
			continue
		}
		wait = min(wait, max(head.NextAttemptAt.Sub(now), 0))
	}
	return wait
}

// SyncOnce refetches corrupt or stale records, drains due outbox entries and pulls
// missed changes. Offline it returns common.ErrUnavailable without touching
// the outbox.
func (e *Engine) SyncOnce(ctx context.Context) error {
	coupleID := e.session.CoupleID()
	if coupleID == "" {
		return nil
	}
	if !e.Online() {
		return common.ErrUnavailable
	}

	e.refetchStale(ctx, coupleID)
	if err := e.drain(ctx, coupleID); err != nil {
		return err
	}
	_, err := e.CatchUp(ctx, coupleID)
	return err
}

func (e *Engine) drain(ctx context.Context, coupleID string) error {
	entries, err := e.store.DrainOutbox(ctx, coupleID)
	if err != nil {
		return err
	}

	var keys []dm.Key
	for _, en := range entries {
		if !slices.Contains(keys, en.Key()) {
			keys = append(keys, en.Key())
		}
	}
	if len(keys) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallelism)
	for _, key := range keys {
		g.Go(func() error { return e.drainEntity(gctx, coupleID, key) })
	}
	return g.Wait()
}

// drainEntity sends the entries of one entity in queue order and stops at
// the first one that cannot be completed now.
func (e *Engine) drainEntity(ctx context.Context, coupleID string, key dm.Key) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		head, ok, err := e.head(ctx, key)
		if err != nil || !ok {
			return err
		}
		if head.CoupleID != coupleID || !head.Due(e.now()) {
			return nil
		}
		more, err := e.send(ctx, head)
		if err != nil || !more {
			return err
		}
	}
}

// head returns the oldest unsettled entry of key when it can be sent. A
// failed entry holds back everything queued after it until it is retried or
// dismissed.
func (e *Engine) head(ctx context.Context, key dm.Key) (models.OutboxEntry, bool, error) {
	unlock := e.locks.Lock(key)
	defer unlock()
	queued, err := e.store.UnsettledFor(ctx, key)
	if err != nil || len(queued) == 0 || queued[0].Status != models.OutboxPending {
		return models.OutboxEntry{}, false, err
	}
	return queued[0], true, nil
}

// send performs one remote write outside the entity lock, so local intents
// for the same entity never wait on the network. It reports whether the next
// entry of the entity may be sent.
func (e *Engine) send(ctx context.Context, head models.OutboxEntry) (bool, error) {
	rec, err := client.Write(ctx, e.remote, head.Mutation())
	switch {
	case err == nil:
		return true, e.confirm(ctx, head, rec)

	case errors.Is(err, common.ErrVersionConflict),
		errors.Is(err, common.ErrNotFound) && head.Op != dm.OpCreate:
		return e.resolveConflict(ctx, head, err)

	case errors.Is(err, common.ErrNotAuthorized):
		e.fail(ctx, head, err)
		e.verifyCouple(ctx, head.CoupleID)
		return false, nil

	case errors.Is(err, common.ErrValidation):
		e.fail(ctx, head, err)
		return false, nil

	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		// Not the entry's fault; it waits for a new login.
		return false, err

	case ctx.Err() != nil:
		return false, ctx.Err()
	}

	return false, e.retryLater(ctx, head, err)
}

// stillQueued returns the entries queued after seq, and false when seq is no
// longer pending.
func stillQueued(queued []models.OutboxEntry, seq int64) ([]models.OutboxEntry, bool) {
	for i, q := range queued {
		if q.Seq == seq {
			return queued[i+1:], q.Status == models.OutboxPending
		}
	}
	return nil, false
}

// confirm removes an applied entry. When later entries of the entity are
// still queued or failed they are rebased on the confirmed version and the optimistic
// payload stays; otherwise the server record becomes the cached value.
func (e *Engine) confirm(ctx context.Context, head models.OutboxEntry, rec dm.Record) error {
	key := head.Key()
	unlock := e.locks.Lock(key)

	if e.session.CoupleID() != head.CoupleID {
		unlock()
		e.logger.Debug(ctx, "confirmation dropped, couple changed", "key", key.String())
		return nil
	}

	final := false
	var deferred dm.ChangeEvent
	var hadDeferred bool
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Store) error {
		queued, err := tx.UnsettledFor(ctx, key)
		if err != nil {
			return err
		}
		later, ok := stillQueued(queued, head.Seq)
		if !ok {
			return nil
		}
		if err := tx.ConfirmOutbox(ctx, head.Seq); err != nil {
			return err
		}

		if len(later) > 0 {
			if err := tx.Rebase(ctx, key, head.Seq, rec.Version); err != nil {
				return err
			}
			cur, err := tx.Get(ctx, key)
			if err == nil {
				cur.Version, cur.ServerTime, cur.AuthorID = rec.Version, rec.ServerTime, rec.AuthorID
				return tx.Put(ctx, cur)
			}
			pendingRec := rec
			pendingRec.SyncStatus = dm.SyncPending
			return tx.Put(ctx, pendingRec)
		}

		out := rec
		if deferred, hadDeferred = e.peekDeferred(key); hadDeferred && deferred.Record.Newer(out) {
			out = deferred.Record
		}
		out.SyncStatus = dm.SyncSynced
		final = true
		return tx.Put(ctx, out)
	})
	if err == nil && final && hadDeferred {
		e.dropDeferred(key)
	}
	unlock()
	if err != nil {
		return err
	}

	e.logger.Debug(ctx, "change confirmed", "key", key.String(), "version", rec.Version, "mutation_id", head.MutationID)
	if final {
		e.emit(Notice{Kind: NoticeChanged, CoupleID: head.CoupleID, Key: key, Op: head.Op})
	}
	return nil
}

// resolveConflict adopts the remote value of an entity whose queued change
// lost. The remote value is refetched; a deferred event stands in when the
// backend cannot be read, and without either the record stays in conflict
// and the entry is retried later.
func (e *Engine) resolveConflict(ctx context.Context, head models.OutboxEntry, cause error) (bool, error) {
	key := head.Key()

	remote, err := e.remote.GetEntry(ctx, head.CoupleID, key)
	gone := errors.Is(err, common.ErrNotFound)
	if err != nil && !gone {
		ev, ok := e.peekDeferred(key)
		if !ok {
			if serr := e.store.SetSyncStatus(ctx, key, dm.SyncConflict); serr != nil && !errors.Is(serr, common.ErrNotFound) {
				return false, serr
			}
			return false, e.retryLater(ctx, head, err)
		}
		remote = ev.Record
	}

	unlock := e.locks.Lock(key)
	if e.session.CoupleID() != head.CoupleID {
		unlock()
		return false, nil
	}

	var discarded []models.OutboxEntry
	err = e.store.WithTx(ctx, func(ctx context.Context, tx *store.Store) error {
		queued, err := tx.UnsettledFor(ctx, key)
		if err != nil {
			return err
		}
		later, ok := stillQueued(queued, head.Seq)
		if !ok {
			return nil
		}
		discarded = append([]models.OutboxEntry{head}, later...)
		for _, d := range discarded {
			if key.Type == dm.EntityLovePing {
				err = tx.ConfirmOutbox(ctx, d.Seq)
			} else {
				err = tx.MarkConflict(ctx, d.Seq, cause.Error())
			}
			if err != nil {
				return err
			}
		}
		if gone {
			return tx.Delete(ctx, key)
		}
		remote.SyncStatus = dm.SyncSynced
		return tx.Put(ctx, remote)
	})
	if err == nil && len(discarded) > 0 {
		e.dropDeferred(key)
	}
	unlock()
	if err != nil || len(discarded) == 0 {
		return false, err
	}

	if key.Type != dm.EntityLovePing {
		e.logger.Info(ctx, "local change discarded for newer remote version",
			"key", key.String(), "op", head.Op, "remote_version", remote.Version, "remote_deleted", remote.Deleted || gone)
		e.emit(Notice{
			Kind:     NoticeConflict,
			CoupleID: head.CoupleID,
			Key:      key,
			Op:       head.Op,
			Message:  conflictMessage(head.Op, remote.Deleted || gone),
		})
	}
	e.emit(Notice{Kind: NoticeChanged, CoupleID: head.CoupleID, Key: key})
	return true, nil
}

func conflictMessage(op dm.Operation, remoteDeleted bool) string {
	switch {
	case remoteDeleted:
		return "your partner deleted this before your " + string(op) + " reached the server"
	case op == dm.OpDelete:
		return "this was changed before your delete reached the server"
	default:
		return "a newer version replaced your " + string(op)
	}
}

// retryLater counts a failed attempt and schedules the next one, marking the
// entry failed once the attempt budget is spent.
func (e *Engine) retryLater(ctx context.Context, head models.OutboxEntry, cause error) error {
	n := head.Attempts + 1
	next := e.now().Add(Backoff(e.opts.RetryBaseDelay, e.opts.RetryMaxDelay, n))

	attempts, err := e.store.RecordAttempt(ctx, head.Seq, next, cause.Error())
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.logger.Debug(ctx, "change will be retried", "key", head.Key().String(), "attempts", attempts, "next", next, "error", cause)

	if attempts >= e.opts.MaxAttempts {
		e.fail(ctx, head, cause)
	}
	return nil
}

// fail takes an entry out of the drain and tells the user. The entity keeps
// its optimistic value, and inbound events for it stay deferred, until the
// entry is retried or dismissed.
func (e *Engine) fail(ctx context.Context, head models.OutboxEntry, cause error) {
	if err := e.store.MarkFailed(ctx, head.Seq, cause.Error()); err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			e.logger.Error(ctx, "cannot mark outbox entry failed", "seq", head.Seq, "error", err)
		}
		return
	}
	e.logger.Warn(ctx, "local change gave up", "key", head.Key().String(), "op", head.Op, "error", cause)
	e.emit(Notice{
		Kind:     NoticeFailed,
		CoupleID: head.CoupleID,
		Key:      head.Key(),
		Op:       head.Op,
		Message:  cause.Error(),
	})
}
