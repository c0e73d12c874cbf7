package reconcile

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/couplesync/internal/client/store"
	"github.com/dmitrijs2005/couplesync/internal/common"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
)

// ApplyEvent merges one change event into the cache. Applying the same event
// twice leaves the same state as applying it once. Events for an entity with
// queued or failed local changes are deferred until the queue settles.
func (e *Engine) ApplyEvent(ctx context.Context, ev dm.ChangeEvent) error {
	if ev.EntityType == dm.EntityCouple {
		return e.applyCoupleEvent(ctx, ev)
	}
	coupleID := e.session.CoupleID()
	if coupleID == "" || ev.Record.CoupleID != coupleID || !ev.Record.Type.IsRecordType() {
		return nil
	}

	key := ev.Record.Key()
	unlock := e.locks.Lock(key)
	applied := false
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Store) error {
		// The couple may have been dissolved while waiting for the lock.
		if e.session.CoupleID() != coupleID {
			return nil
		}
		queued, err := tx.UnsettledFor(ctx, key)
		if err != nil {
			return err
		}
		if len(queued) > 0 {
			e.deferEvent(ev)
		} else {
			cur, err := tx.Get(ctx, key)
			switch {
			case err == nil && !ev.Record.Newer(cur):
			case err == nil, errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrStorageCorrupt):
				rec := ev.Record
				rec.SyncStatus = dm.SyncSynced
				if err := tx.Put(ctx, rec); err != nil {
					return err
				}
				applied = true
			default:
				return err
			}
		}
		return tx.SetCursor(ctx, coupleID, ev.Cursor)
	})
	unlock()
	if err != nil {
		return err
	}

	if applied {
		e.clearStale(key)
		e.emit(Notice{Kind: NoticeChanged, CoupleID: coupleID, Key: key, Op: ev.Operation})
	}
	return nil
}

func (e *Engine) applyCoupleEvent(ctx context.Context, ev dm.ChangeEvent) error {
	c, err := dm.DecodeCouple(ev.Record)
	if err != nil {
		return err
	}
	current := e.session.CoupleID()
	if c.ID != current {
		return nil
	}
	if ev.Record.Deleted || !c.IsActive() {
		return e.dissolved(ctx, c.ID)
	}
	return e.store.SetCursor(ctx, c.ID, ev.Cursor)
}

// CatchUp pulls every change after the stored cursor and returns the new
// cursor.
func (e *Engine) CatchUp(ctx context.Context, coupleID string) (int64, error) {
	cursor, err := e.store.Cursor(ctx, coupleID)
	if err != nil {
		if !errors.Is(err, common.ErrStorageCorrupt) {
			return 0, err
		}
		cursor = 0
	}

	for {
		page, err := e.remote.FetchSince(ctx, coupleID, cursor, 0)
		if err != nil {
			if errors.Is(err, common.ErrNotAuthorized) {
				e.CoupleRevoked(ctx, coupleID)
			}
			return cursor, err
		}
		for _, ev := range page.Events {
			if err := e.ApplyEvent(ctx, ev); err != nil {
				return cursor, err
			}
		}
		if page.Cursor > cursor {
			cursor = page.Cursor
		}
		if !page.More || len(page.Events) == 0 {
			break
		}
	}

	if e.session.CoupleID() == coupleID {
		if err := e.store.SetCursor(ctx, coupleID, cursor); err != nil {
			return cursor, err
		}
	}
	return cursor, nil
}

// Cursor returns the last applied change cursor of a couple.
func (e *Engine) Cursor(ctx context.Context, coupleID string) (int64, error) {
	c, err := e.store.Cursor(ctx, coupleID)
	if errors.Is(err, common.ErrStorageCorrupt) {
		return 0, nil
	}
	return c, err
}

// refetchStale replaces unreadable or stale cached records with the backend
// copy. A failure leaves the key queued for the next sync.
func (e *Engine) refetchStale(ctx context.Context, coupleID string) {
	for _, key := range e.staleKeys(coupleID) {
		rec, err := e.remote.GetEntry(ctx, coupleID, key)
		gone := errors.Is(err, common.ErrNotFound)
		if err != nil && !gone {
			e.logger.Debug(ctx, "stale record not refetched", "key", key.String(), "error", err)
			continue
		}

		unlock := e.locks.Lock(key)
		err = e.store.WithTx(ctx, func(ctx context.Context, tx *store.Store) error {
			queued, err := tx.UnsettledFor(ctx, key)
			if err != nil || len(queued) > 0 {
				return err
			}
			if gone {
				return tx.Delete(ctx, key)
			}
			rec.SyncStatus = dm.SyncSynced
			return tx.Put(ctx, rec)
		})
		unlock()
		if err != nil {
			e.logger.Error(ctx, "stale record not repaired", "key", key.String(), "error", err)
			continue
		}
		e.clearStale(key)
		e.logger.Info(ctx, "stale record refetched", "key", key.String())
		e.emit(Notice{Kind: NoticeChanged, CoupleID: coupleID, Key: key})
	}
}
