// Package store is the durable local copy of couple data: cached records,
// the outbox of unconfirmed mutations and small metadata such as cursors.
//
// The store is a single SQLite database opened in WAL mode with
// synchronous=FULL, so every call has reached the disk when it returns and
// a killed process loses nothing it acknowledged. Changes that touch a record
// and the outbox together go through WithTx.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/migrations"
	"github.com/dmitrijs2005/couplesync/internal/client/models"
	"github.com/dmitrijs2005/couplesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/couplesync/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/couplesync/internal/client/repositories/records"
	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const pragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)&_txlock=immediate"

// DSN turns a file path into a modernc.org/sqlite DSN with the durability
// pragmas set. ":memory:" is passed through.
func DSN(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?" + pragmas
}

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("migrations init: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

// Store is safe for concurrent use. A Store handed to a WithTx callback is
// bound to that transaction and must not escape it.
type Store struct {
	db      *sql.DB
	q       dbx.DBTX
	inTx    bool
	records records.Repository
	outbox  outbox.Repository
	meta    metadata.Repository
	now     func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; WAL keeps readers of other
	// processes unblocked.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return bind(db, db, false, func() time.Time { return time.Now().UTC() })
}

func bind(db *sql.DB, q dbx.DBTX, inTx bool, now func() time.Time) *Store {
	return &Store{
		db:      db,
		q:       q,
		inTx:    inTx,
		records: records.NewSQLiteRepository(q),
		outbox:  outbox.NewSQLiteRepository(q),
		meta:    metadata.NewSQLiteRepository(q),
		now:     now,
	}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for services that keep their own tables in the
// same database.
func (s *Store) DB() *sql.DB { return s.db }

// Metadata returns the key/value repository bound to the same connection or
// transaction as s.
func (s *Store) Metadata() metadata.Repository { return s.meta }

// WithTx runs fn in one transaction. Nested calls join the outer one.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		return fn(ctx, bind(s.db, q, true, s.now))
	})
}

// CorruptError lists cached records whose payload could not be read. The
// records were skipped; callers refetch them.
type CorruptError struct {
	Keys []dm.Key
}

func (e *CorruptError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = k.String()
	}
	return fmt.Sprintf("%s: %s", common.ErrStorageCorrupt, strings.Join(keys, ", "))
}

func (e *CorruptError) Unwrap() error { return common.ErrStorageCorrupt }

func corrupt(rec dm.Record) bool {
	return len(rec.Payload) > 0 && !json.Valid(rec.Payload)
}

// Put writes rec as the cached value of its key.
func (s *Store) Put(ctx context.Context, rec dm.Record) error {
	return s.records.Upsert(ctx, rec, s.now())
}

// Get returns the cached record, common.ErrNotFound, or an error wrapping
// common.ErrStorageCorrupt when the row cannot be decoded.
func (s *Store) Get(ctx context.Context, key dm.Key) (dm.Record, error) {
	rec, err := s.records.Get(ctx, key)
	if err != nil {
		return dm.Record{}, err
	}
	if corrupt(rec) {
		return dm.Record{}, &CorruptError{Keys: []dm.Key{key}}
	}
	return rec, nil
}

// Delete drops the cached row. Soft deletes are a Put with Deleted set.
func (s *Store) Delete(ctx context.Context, key dm.Key) error {
	return s.records.Delete(ctx, key)
}

// ListByCouple returns the live records of one type. Unreadable rows are
// left out and reported through a *CorruptError next to the good ones.
func (s *Store) ListByCouple(ctx context.Context, coupleID string, t dm.EntityType) ([]dm.Record, error) {
	list, err := s.records.ListByCouple(ctx, coupleID, t, false)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	var bad []dm.Key
	for _, rec := range list {
		if corrupt(rec) {
			bad = append(bad, rec.Key())
			continue
		}
		out = append(out, rec)
	}
	if len(bad) > 0 {
		return out, &CorruptError{Keys: bad}
	}
	return out, nil
}

func (s *Store) SetSyncStatus(ctx context.Context, key dm.Key, status dm.SyncStatus) error {
	return s.records.SetSyncStatus(ctx, key, status)
}

// EnqueueOutbox appends e and fills in its seq.
func (s *Store) EnqueueOutbox(ctx context.Context, e *models.OutboxEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	return s.outbox.Enqueue(ctx, e)
}

// DrainOutbox returns the pending entries of a couple (all couples when
// coupleID is empty) in seq order. Nothing is removed; see ConfirmOutbox.
func (s *Store) DrainOutbox(ctx context.Context, coupleID string) ([]models.OutboxEntry, error) {
	return s.outbox.Pending(ctx, coupleID)
}

// ConfirmOutbox removes an entry the backend has applied.
func (s *Store) ConfirmOutbox(ctx context.Context, seq int64) error {
	return s.outbox.Delete(ctx, seq)
}

// MarkConflict takes an entry out of the drain after it lost to a newer
// remote version.
func (s *Store) MarkConflict(ctx context.Context, seq int64, reason string) error {
	return s.outbox.SetStatus(ctx, seq, models.OutboxConflict, reason)
}

// MarkFailed takes an entry out of the drain after too many attempts.
func (s *Store) MarkFailed(ctx context.Context, seq int64, reason string) error {
	return s.outbox.SetStatus(ctx, seq, models.OutboxFailed, reason)
}

// RetryOutbox puts a failed entry back in the drain with a fresh budget.
func (s *Store) RetryOutbox(ctx context.Context, seq int64) error {
	return s.outbox.SetStatus(ctx, seq, models.OutboxPending, "")
}

// RecordAttempt counts a failed attempt, returning the new attempt count.
func (s *Store) RecordAttempt(ctx context.Context, seq int64, next time.Time, reason string) (int, error) {
	return s.outbox.RecordAttempt(ctx, seq, s.now(), next, reason)
}

// Rebase moves the later pending and failed entries of key onto version.
func (s *Store) Rebase(ctx context.Context, key dm.Key, afterSeq, version int64) error {
	return s.outbox.Rebase(ctx, key, afterSeq, version)
}

// PendingFor lists the pending entries of one entity.
func (s *Store) PendingFor(ctx context.Context, key dm.Key) ([]models.OutboxEntry, error) {
	return s.outbox.PendingFor(ctx, key)
}

// UnsettledFor lists the pending and failed entries of one entity. The first
// of them decides whether the entity can be drained.
func (s *Store) UnsettledFor(ctx context.Context, key dm.Key) ([]models.OutboxEntry, error) {
	return s.outbox.Unsettled(ctx, key)
}

// OutboxEntry returns the entry with seq.
func (s *Store) OutboxEntry(ctx context.Context, seq int64) (models.OutboxEntry, error) {
	return s.outbox.Get(ctx, seq)
}

// Outbox lists every entry of a couple, including conflicts and failures.
func (s *Store) Outbox(ctx context.Context, coupleID string) ([]models.OutboxEntry, error) {
	return s.outbox.List(ctx, coupleID)
}

// DismissOutbox removes an entry without sending it.
func (s *Store) DismissOutbox(ctx context.Context, seq int64) error {
	return s.outbox.Delete(ctx, seq)
}

func cursorKey(coupleID string) string { return "cursor:" + coupleID }

// Cursor returns the last change cursor applied for a couple, 0 if none.
func (s *Store) Cursor(ctx context.Context, coupleID string) (int64, error) {
	v, err := s.meta.Get(ctx, cursorKey(coupleID))
	if err != nil || v == nil {
		return 0, err
	}
	c, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cursor of %s: %v", common.ErrStorageCorrupt, coupleID, err)
	}
	return c, nil
}

// SetCursor advances the cursor of a couple. A lower value is ignored, so
// replayed events never move it back.
func (s *Store) SetCursor(ctx context.Context, coupleID string, cursor int64) error {
	return s.WithTx(ctx, func(ctx context.Context, tx *Store) error {
		cur, err := tx.Cursor(ctx, coupleID)
		if err != nil && !errors.Is(err, common.ErrStorageCorrupt) {
			return err
		}
		if err == nil && cursor <= cur {
			return nil
		}
		return tx.meta.Set(ctx, cursorKey(coupleID), []byte(strconv.FormatInt(cursor, 10)))
	})
}

// DiscardCouple removes everything cached or queued for a couple.
func (s *Store) DiscardCouple(ctx context.Context, coupleID string) error {
	return s.WithTx(ctx, func(ctx context.Context, tx *Store) error {
		if err := tx.records.DeleteCouple(ctx, coupleID); err != nil {
			return err
		}
		if err := tx.outbox.DeleteCouple(ctx, coupleID); err != nil {
			return err
		}
		return tx.meta.Delete(ctx, cursorKey(coupleID))
	})
}
