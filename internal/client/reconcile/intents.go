package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/models"
	"github.com/dmitrijs2005/couplesync/internal/client/store"
	"github.com/dmitrijs2005/couplesync/internal/client/streak"
	"github.com/dmitrijs2005/couplesync/internal/common"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
)

// JournalDraft is what the user types. A zero CreatedAt means now.
type JournalDraft struct {
	Mood      dm.Mood
	Tags      []string
	Body      string
	CreatedAt time.Time
}

// MemoryDraft describes a new memory. A non-empty ID is used as the memory id,
// so the media can be uploaded under it before the memory is submitted.
type MemoryDraft struct {
	ID        string
	MediaRef  string
	Caption   string
	CreatedAt time.Time
}

// couple returns the active couple of the logged-in user.
func (e *Engine) couple() (dm.Couple, string, error) {
	self := e.session.UserID()
	if self == "" {
		return dm.Couple{}, "", common.ErrUnauthorized
	}
	c, ok := e.session.Couple()
	if !ok {
		return dm.Couple{}, "", common.ErrNotPaired
	}
	return c, self, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// build makes the record to write from the cached one, which is nil for a
// create.
type build func(cur *dm.Record) (dm.Record, error)

// write applies a local mutation: the optimistic record and its outbox entry
// are stored in one transaction, then the drain is kicked.
func (e *Engine) write(ctx context.Context, op dm.Operation, key dm.Key, fn build) (dm.Record, error) {
	unlock := e.locks.Lock(key)

	var out dm.Record
	err := e.store.WithTx(ctx, func(ctx context.Context, tx *store.Store) error {
		var cur *dm.Record
		got, err := tx.Get(ctx, key)
		switch {
		case err == nil:
			if op == dm.OpCreate {
				return fmt.Errorf("%w: %s", common.ErrAlreadyExists, key)
			}
			if got.Deleted {
				return fmt.Errorf("%w: %s", common.ErrNotFound, key)
			}
			cur = &got
		case errors.Is(err, common.ErrNotFound):
			if op != dm.OpCreate {
				return err
			}
		default:
			return err
		}

		rec, err := fn(cur)
		if err != nil {
			return err
		}
		rec.Type, rec.ID = key.Type, key.ID
		rec.Deleted = op == dm.OpDelete
		rec.SyncStatus = dm.SyncPending
		if err := dm.ValidateRecord(rec, rec.Deleted); err != nil {
			return err
		}

		var base int64
		if cur != nil {
			base = cur.Version
			rec.Version, rec.ServerTime = cur.Version, cur.ServerTime
			rec.AuthorID = cur.AuthorID
			if rec.Deleted {
				rec.Payload = cur.Payload
			}
		}
		// Pings never conflict: an acknowledgement applies whatever the version.
		if key.Type == dm.EntityLovePing && op != dm.OpCreate {
			base = -1
		}

		if err := tx.Put(ctx, rec); err != nil {
			return err
		}
		_, err = tx.EnqueueOutbox(ctx, &models.OutboxEntry{
			EntityType:  key.Type,
			EntityID:    key.ID,
			CoupleID:    rec.CoupleID,
			AuthorID:    rec.AuthorID,
			Op:          op,
			Payload:     rec.Payload,
			BaseVersion: base,
			MutationID:  e.opts.NewID(),
		})
		out = rec
		return err
	})
	unlock()
	if err != nil {
		return dm.Record{}, err
	}

	e.logger.Debug(ctx, "local change queued", "key", key.String(), "op", op)
	e.emit(Notice{Kind: NoticeChanged, CoupleID: out.CoupleID, Key: key, Op: op})
	e.Kick()
	return out, nil
}

func (e *Engine) SubmitJournalEntry(ctx context.Context, d JournalDraft) (dm.JournalEntry, error) {
	c, self, err := e.couple()
	if err != nil {
		return dm.JournalEntry{}, err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.now()
	}
	key := dm.Key{Type: dm.EntityJournalEntry, ID: e.opts.NewID()}

	rec, err := e.write(ctx, dm.OpCreate, key, func(*dm.Record) (dm.Record, error) {
		return dm.NewRecord(key.Type, key.ID, c.ID, self, dm.JournalEntry{
			Mood:      d.Mood,
			Tags:      normalizeTags(d.Tags),
			Body:      d.Body,
			CreatedAt: d.CreatedAt.UTC(),
		})
	})
	if err != nil {
		return dm.JournalEntry{}, err
	}
	return dm.DecodeJournalEntry(rec)
}

// EditJournalEntry replaces mood, tags and body of an entry written by the
// user. The creation time is kept.
func (e *Engine) EditJournalEntry(ctx context.Context, id string, d JournalDraft) (dm.JournalEntry, error) {
	c, self, err := e.couple()
	if err != nil {
		return dm.JournalEntry{}, err
	}
	key := dm.Key{Type: dm.EntityJournalEntry, ID: id}

	rec, err := e.write(ctx, dm.OpUpdate, key, func(cur *dm.Record) (dm.Record, error) {
		if cur.CoupleID != c.ID {
			return dm.Record{}, common.ErrNotFound
		}
		if cur.AuthorID != self {
			return dm.Record{}, fmt.Errorf("%w: only the author edits an entry", common.ErrNotAuthorized)
		}
		old, err := dm.DecodeJournalEntry(*cur)
		if err != nil {
			return dm.Record{}, fmt.Errorf("%w: %v", common.ErrStorageCorrupt, err)
		}
		return dm.NewRecord(key.Type, key.ID, c.ID, self, dm.JournalEntry{
			Mood:      d.Mood,
			Tags:      normalizeTags(d.Tags),
			Body:      d.Body,
			CreatedAt: old.CreatedAt,
		})
	})
	if err != nil {
		return dm.JournalEntry{}, err
	}
	return dm.DecodeJournalEntry(rec)
}

func (e *Engine) DeleteJournalEntry(ctx context.Context, id string) error {
	return e.remove(ctx, dm.Key{Type: dm.EntityJournalEntry, ID: id})
}

func (e *Engine) SubmitMemory(ctx context.Context, d MemoryDraft) (dm.Memory, error) {
	c, self, err := e.couple()
	if err != nil {
		return dm.Memory{}, err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.now()
	}
	if d.ID == "" {
		d.ID = e.opts.NewID()
	}
	key := dm.Key{Type: dm.EntityMemory, ID: d.ID}

	rec, err := e.write(ctx, dm.OpCreate, key, func(*dm.Record) (dm.Record, error) {
		return dm.NewRecord(key.Type, key.ID, c.ID, self, dm.Memory{
			MediaRef:  strings.TrimSpace(d.MediaRef),
			Caption:   d.Caption,
			CreatedAt: d.CreatedAt.UTC(),
		})
	})
	if err != nil {
		return dm.Memory{}, err
	}
	return dm.DecodeMemory(rec)
}

func (e *Engine) DeleteMemory(ctx context.Context, id string) error {
	return e.remove(ctx, dm.Key{Type: dm.EntityMemory, ID: id})
}

func (e *Engine) remove(ctx context.Context, key dm.Key) error {
	c, _, err := e.couple()
	if err != nil {
		return err
	}
	_, err = e.write(ctx, dm.OpDelete, key, func(cur *dm.Record) (dm.Record, error) {
		if cur.CoupleID != c.ID {
			return dm.Record{}, common.ErrNotFound
		}
		return *cur, nil
	})
	return err
}

// SendLovePing nudges the partner. The note is optional.
func (e *Engine) SendLovePing(ctx context.Context, note string) (dm.LovePing, error) {
	c, self, err := e.couple()
	if err != nil {
		return dm.LovePing{}, err
	}
	key := dm.Key{Type: dm.EntityLovePing, ID: e.opts.NewID()}

	rec, err := e.write(ctx, dm.OpCreate, key, func(*dm.Record) (dm.Record, error) {
		return dm.NewRecord(key.Type, key.ID, c.ID, self, dm.LovePing{Note: note, CreatedAt: e.now()})
	})
	if err != nil {
		return dm.LovePing{}, err
	}
	return dm.DecodeLovePing(rec)
}

// AckLovePing consumes a ping received from the partner.
func (e *Engine) AckLovePing(ctx context.Context, id string) error {
	c, self, err := e.couple()
	if err != nil {
		return err
	}
	_, err = e.write(ctx, dm.OpDelete, dm.Key{Type: dm.EntityLovePing, ID: id}, func(cur *dm.Record) (dm.Record, error) {
		if cur.CoupleID != c.ID {
			return dm.Record{}, common.ErrNotFound
		}
		if cur.AuthorID == self {
			return dm.Record{}, fmt.Errorf("%w: a ping is acknowledged by its recipient", common.ErrNotAuthorized)
		}
		return *cur, nil
	})
	return err
}

// list returns the cached live records of one type. Unreadable records are
// left out and queued for a refetch on the next sync.
func (e *Engine) list(ctx context.Context, t dm.EntityType) (string, []dm.Record, error) {
	c, _, err := e.couple()
	if err != nil {
		return "", nil, err
	}
	recs, err := e.store.ListByCouple(ctx, c.ID, t)
	var ce *store.CorruptError
	if errors.As(err, &ce) {
		e.logger.Warn(ctx, "corrupt records skipped", "count", len(ce.Keys))
		e.markStale(c.ID, ce.Keys)
		e.Kick()
		err = nil
	}
	return c.ID, recs, err
}

// JournalEntries returns the couple's entries, newest first.
func (e *Engine) JournalEntries(ctx context.Context) ([]dm.JournalEntry, error) {
	coupleID, recs, err := e.list(ctx, dm.EntityJournalEntry)
	if err != nil {
		return nil, err
	}
	out := make([]dm.JournalEntry, 0, len(recs))
	var bad []dm.Key
	for _, r := range recs {
		je, err := dm.DecodeJournalEntry(r)
		if err != nil {
			bad = append(bad, r.Key())
			continue
		}
		out = append(out, je)
	}
	if len(bad) > 0 {
		e.markStale(coupleID, bad)
		e.Kick()
	}
	slices.SortStableFunc(out, func(a, b dm.JournalEntry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Memories returns the couple's memories, newest first.
func (e *Engine) Memories(ctx context.Context) ([]dm.Memory, error) {
	coupleID, recs, err := e.list(ctx, dm.EntityMemory)
	if err != nil {
		return nil, err
	}
	out := make([]dm.Memory, 0, len(recs))
	var bad []dm.Key
	for _, r := range recs {
		m, err := dm.DecodeMemory(r)
		if err != nil {
			bad = append(bad, r.Key())
			continue
		}
		out = append(out, m)
	}
	if len(bad) > 0 {
		e.markStale(coupleID, bad)
		e.Kick()
	}
	slices.SortStableFunc(out, func(a, b dm.Memory) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// PendingPings returns unacknowledged pings from the partner, oldest first.
func (e *Engine) PendingPings(ctx context.Context) ([]dm.LovePing, error) {
	self := e.session.UserID()
	coupleID, recs, err := e.list(ctx, dm.EntityLovePing)
	if err != nil {
		return nil, err
	}
	var out []dm.LovePing
	var bad []dm.Key
	for _, r := range recs {
		p, err := dm.DecodeLovePing(r)
		if err != nil {
			bad = append(bad, r.Key())
			continue
		}
		if p.SenderID != self && !p.Consumed {
			out = append(out, p)
		}
	}
	if len(bad) > 0 {
		e.markStale(coupleID, bad)
		e.Kick()
	}
	slices.SortStableFunc(out, func(a, b dm.LovePing) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// GetCurrentStreak computes the couple's streak from cached entries only.
func (e *Engine) GetCurrentStreak(ctx context.Context) (streak.Streak, error) {
	entries, err := e.JournalEntries(ctx)
	if err != nil {
		return streak.Streak{}, err
	}
	times := make([]time.Time, len(entries))
	for i, je := range entries {
		times[i] = je.CreatedAt
	}
	return streak.Compute(times, e.now(), e.opts.Location), nil
}

// Outbox lists the queued, conflicting and failed changes of the couple.
func (e *Engine) Outbox(ctx context.Context) ([]models.OutboxEntry, error) {
	c, _, err := e.couple()
	if err != nil {
		return nil, err
	}
	return e.store.Outbox(ctx, c.ID)
}

// Dismiss drops a conflicting or failed change the user has seen. Pending
// changes cannot be dismissed. When a dismissed failure was the last queued
// change of its entity, the cached value goes back to the backend's: the
// deferred event or a refetch, or no record at all if the backend has none.
func (e *Engine) Dismiss(ctx context.Context, seq int64) error {
	c, _, err := e.couple()
	if err != nil {
		return err
	}
	en, err := e.store.OutboxEntry(ctx, seq)
	if err != nil {
		return err
	}
	if en.CoupleID != c.ID {
		return fmt.Errorf("%w: change %d", common.ErrNotFound, seq)
	}
	if en.Status == models.OutboxPending {
		return fmt.Errorf("%w: change %d is still queued", common.ErrValidation, seq)
	}

	key := en.Key()
	var remote *dm.Record
	gone := false
	if en.Status == models.OutboxFailed {
		rec, err := e.remote.GetEntry(ctx, c.ID, key)
		switch {
		case err == nil:
			remote = &rec
		case errors.Is(err, common.ErrNotFound):
			gone = true
		default:
			e.logger.Debug(ctx, "dismissed change not refetched", "key", key.String(), "error", err)
		}
	}

	unlock := e.locks.Lock(key)
	restored, stale := false, false
	err = e.store.WithTx(ctx, func(ctx context.Context, tx *store.Store) error {
		cur, err := tx.OutboxEntry(ctx, seq)
		if err != nil {
			return err
		}
		if cur.Status == models.OutboxPending {
			return fmt.Errorf("%w: change %d is still queued", common.ErrValidation, seq)
		}
		if err := tx.DismissOutbox(ctx, seq); err != nil {
			return err
		}
		if cur.Status != models.OutboxFailed {
			return nil
		}
		left, err := tx.UnsettledFor(ctx, key)
		if err != nil || len(left) > 0 {
			return err
		}

		restored = true
		ev, hasEvent := e.peekDeferred(key)
		switch {
		case gone:
			return tx.Delete(ctx, key)
		case hasEvent && (remote == nil || ev.Record.Newer(*remote)):
			rec := ev.Record
			rec.SyncStatus = dm.SyncSynced
			return tx.Put(ctx, rec)
		case remote != nil:
			rec := *remote
			rec.SyncStatus = dm.SyncSynced
			return tx.Put(ctx, rec)
		}
		stale = true
		err = tx.SetSyncStatus(ctx, key, dm.SyncConflict)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	})
	if err == nil && restored {
		e.dropDeferred(key)
	}
	unlock()
	if err != nil {
		return err
	}

	if stale {
		e.markStale(c.ID, []dm.Key{key})
	}
	if restored {
		e.logger.Debug(ctx, "dismissed change rolled back", "key", key.String(), "refetch_pending", stale)
		e.emit(Notice{Kind: NoticeChanged, CoupleID: c.ID, Key: key})
	}
	return nil
}

// RetryFailed requeues every failed change of the couple.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	entries, err := e.Outbox(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, en := range entries {
		if en.Status != models.OutboxFailed {
			continue
		}
		if err := e.store.RetryOutbox(ctx, en.Seq); err != nil && !errors.Is(err, common.ErrNotFound) {
			return n, err
		}
		n++
	}
	if n > 0 {
		e.Kick()
	}
	return n, nil
}
