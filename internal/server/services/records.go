package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	"github.com/dmitrijs2005/couplesync/internal/logging"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/dmitrijs2005/couplesync/internal/server/models"
	"github.com/dmitrijs2005/couplesync/internal/server/realtime"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/repomanager"
)

const (
	DefaultFetchLimit = 200
	MaxFetchLimit     = 1000
)

// RecordService applies versioned writes to couple-scoped records and
// serves change feeds.
type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hub         *realtime.Hub
	notifier    Notifier
	logger      logging.Logger
}

func NewRecordService(db *sql.DB, m repomanager.RepositoryManager, hub *realtime.Hub,
	notifier Notifier, logger logging.Logger) *RecordService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if hub == nil {
		hub = realtime.NewHub(0, logger)
	}
	return &RecordService{db: db, repomanager: m, hub: hub, notifier: notifier, logger: logger.With("module", "records")}
}

func checkMutation(op dm.Operation, m dm.Mutation) error {
	if !op.Valid() {
		return fmt.Errorf("%w: unknown operation %q", common.ErrValidation, op)
	}
	if m.Op != "" && m.Op != op {
		return fmt.Errorf("%w: operation %q sent to %q", common.ErrValidation, m.Op, op)
	}
	if m.MutationID == "" {
		return fmt.Errorf("%w: mutation id is required", common.ErrValidation)
	}
	if op == dm.OpUpdate && m.Record.Type != dm.EntityJournalEntry {
		return fmt.Errorf("%w: %s records cannot be edited", common.ErrValidation, m.Record.Type)
	}
	return dm.ValidateRecord(m.Record, op == dm.OpDelete)
}

type writeResult struct {
	record  dm.Record
	applied bool
	partner string
}

// Write applies a create, update or delete by userID.
//
// The couple row is locked for the whole transaction, so versions are handed
// out in commit order and a change feed never skips one. A mutation id that
// already produced the stored state returns that state without writing again.
func (s *RecordService) Write(ctx context.Context, userID string, op dm.Operation, m dm.Mutation) (dm.Record, error) {
	if err := checkMutation(op, m); err != nil {
		return dm.Record{}, err
	}
	in := m.Record
	t := now()

	res, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (writeResult, error) {
		cr := s.repomanager.Couples(tx)
		rr := s.repomanager.Records(tx)

		c, err := cr.Get(ctx, in.CoupleID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return writeResult{}, common.ErrNotAuthorized
			}
			return writeResult{}, err
		}
		if !c.HasMember(userID) || !c.IsActive() {
			return writeResult{}, common.ErrNotAuthorized
		}
		if _, err := cr.LockForWrite(ctx, in.CoupleID); err != nil {
			return writeResult{}, err
		}

		existing, err := rr.Get(ctx, in.Type, in.CoupleID, in.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return writeResult{}, err
		}
		if existing != nil && existing.LastMutationID == m.MutationID {
			return writeResult{record: existing.Record}, nil
		}

		next := &models.StoredRecord{
			Record: dm.Record{
				Type:     in.Type,
				ID:       in.ID,
				CoupleID: in.CoupleID,
				AuthorID: userID,
				Payload:  in.Payload,
				Deleted:  op == dm.OpDelete,
			},
			LastOp:         op,
			LastMutationID: m.MutationID,
		}

		if op == dm.OpCreate {
			if existing != nil {
				return writeResult{}, common.ErrVersionConflict
			}
		} else {
			if existing == nil {
				return writeResult{}, common.ErrNotFound
			}
			if existing.Deleted {
				return writeResult{}, common.ErrVersionConflict
			}
			if m.ExpectedVersion >= 0 && existing.Version != m.ExpectedVersion {
				return writeResult{}, common.ErrVersionConflict
			}
			// Either partner may delete a journal entry; only its author edits it.
			if op == dm.OpUpdate && existing.Type == dm.EntityJournalEntry && existing.AuthorID != userID {
				return writeResult{}, common.ErrNotAuthorized
			}
			next.AuthorID = existing.AuthorID
			if op == dm.OpDelete {
				next.Payload = existing.Payload
			}
		}

		v, err := cr.NextVersion(ctx, in.CoupleID)
		if err != nil {
			return writeResult{}, err
		}
		next.Version = v
		next.ServerTime = t

		if op == dm.OpCreate {
			err = rr.Insert(ctx, next)
		} else {
			err = rr.Update(ctx, next, m.ExpectedVersion)
		}
		if err != nil {
			return writeResult{}, err
		}
		return writeResult{record: next.Record, applied: true, partner: c.Partner(userID)}, nil
	})
	if err != nil {
		return dm.Record{}, err
	}

	if !res.applied {
		s.logger.Debug(ctx, "mutation already applied", "key", in.Key().String(), "mutation_id", m.MutationID)
		return res.record, nil
	}

	s.hub.Publish(in.CoupleID, dm.ChangeEvent{
		EntityType:      res.record.Type,
		Operation:       op,
		Record:          res.record,
		ServerTimestamp: res.record.ServerTime,
		Cursor:          res.record.Version,
	})

	if op == dm.OpCreate && res.record.Type == dm.EntityLovePing {
		if err := s.notifier.NotifyLovePing(ctx, res.partner, res.record); err != nil {
			s.logger.Warn(ctx, "love ping notification failed", "error", err, "ping_id", res.record.ID)
		}
	}
	return res.record, nil
}

func (s *RecordService) authorize(ctx context.Context, coupleID, userID string) error {
	ok, err := s.repomanager.Couples(s.db).IsActiveMember(ctx, coupleID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotAuthorized
	}
	return nil
}

// Get returns a single record, tombstones included.
func (s *RecordService) Get(ctx context.Context, userID, coupleID string, t dm.EntityType, id string) (dm.Record, error) {
	if !t.IsRecordType() {
		return dm.Record{}, fmt.Errorf("%w: unknown entity type %q", common.ErrValidation, t)
	}
	if err := s.authorize(ctx, coupleID, userID); err != nil {
		return dm.Record{}, err
	}
	rec, err := s.repomanager.Records(s.db).Get(ctx, t, coupleID, id)
	if err != nil {
		return dm.Record{}, err
	}
	return rec.Record, nil
}

// Page is one slice of a change feed.
type Page struct {
	Events []dm.ChangeEvent
	Cursor int64
	More   bool
}

// FetchSince returns changes with cursor greater than since, oldest first.
func (s *RecordService) FetchSince(ctx context.Context, userID, coupleID string, since int64, limit int) (Page, error) {
	if err := s.authorize(ctx, coupleID, userID); err != nil {
		return Page{}, err
	}
	return s.page(ctx, coupleID, since, limit)
}

func (s *RecordService) page(ctx context.Context, coupleID string, since int64, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	if limit > MaxFetchLimit {
		limit = MaxFetchLimit
	}

	rows, err := s.repomanager.Records(s.db).ListSince(ctx, coupleID, since, limit+1)
	if err != nil {
		return Page{}, err
	}

	p := Page{Cursor: since, Events: make([]dm.ChangeEvent, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		p.More = true
	}
	for _, r := range rows {
		p.Events = append(p.Events, changeEvent(r))
		p.Cursor = r.Version
	}
	return p, nil
}

func changeEvent(r *models.StoredRecord) dm.ChangeEvent {
	op := r.LastOp
	if op == "" {
		op = dm.OpUpdate
	}
	return dm.ChangeEvent{
		EntityType:      r.Type,
		Operation:       op,
		Record:          r.Record,
		ServerTimestamp: r.ServerTime,
		Cursor:          r.Version,
	}
}

// Subscribe streams the changes after since, then live events, until ctx is
// done or the hub ends the subscription. The hub subscription is taken before
// the backlog is read so nothing committed in between is lost; duplicates are
// filtered by cursor. Writes publish after commit, so a live event may arrive
// ahead of an earlier version; a cursor gap is filled from the database
// before the event is sent.
func (s *RecordService) Subscribe(ctx context.Context, userID, coupleID string, since int64, send func(dm.ChangeEvent) error) error {
	if err := s.authorize(ctx, coupleID, userID); err != nil {
		return err
	}

	sub := s.hub.Subscribe(coupleID)
	defer sub.Close()

	last, err := s.backlog(ctx, coupleID, since, send)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return common.ErrUnavailable
			}
			if ev.Cursor <= last {
				continue
			}
			if ev.Cursor != last+1 {
				if last, err = s.backlog(ctx, coupleID, last, send); err != nil {
					return err
				}
				if ev.Cursor <= last {
					continue
				}
			}
			if err := send(ev); err != nil {
				return err
			}
			last = ev.Cursor
		}
	}
}

// backlog sends every stored change after since in version order and
// returns the last cursor sent.
func (s *RecordService) backlog(ctx context.Context, coupleID string, since int64, send func(dm.ChangeEvent) error) (int64, error) {
	last := since
	for {
		p, err := s.page(ctx, coupleID, last, MaxFetchLimit)
		if err != nil {
			return last, err
		}
		for _, ev := range p.Events {
			if err := send(ev); err != nil {
				return last, err
			}
			last = ev.Cursor
		}
		if !p.More {
			return last, nil
		}
	}
}
