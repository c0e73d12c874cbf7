package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/client"
	"github.com/dmitrijs2005/couplesync/internal/client/session"
	"github.com/dmitrijs2005/couplesync/internal/client/store"
	"github.com/dmitrijs2005/couplesync/internal/common"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type storedRec struct {
	rec          dm.Record
	lastMutation string
}

// fakeBackend keeps one couple and applies writes by the same rules as the
// server: per-couple versions, idempotent mutation ids and version checks.
type fakeBackend struct {
	mu      sync.Mutex
	clock   *clock
	couple  dm.Couple
	version int64
	records map[dm.Key]*storedRec
	events  []dm.ChangeEvent
	codes   map[string]string

	down        bool
	dropReplies int
	calls       int
	writes      int
}

func newBackend(clk *clock) *fakeBackend {
	return &fakeBackend{
		clock: clk,
		couple: dm.Couple{
			ID:       "c1",
			Members:  [2]string{"alice", "bob"},
			PairedAt: clk.Now(),
			Status:   dm.CoupleActive,
		},
		records: make(map[dm.Key]*storedRec),
		codes:   make(map[string]string),
	}
}

func (b *fakeBackend) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBackend) stored(key dm.Key) (dm.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.records[key]
	if !ok {
		return dm.Record{}, false
	}
	return s.rec, true
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// enter counts a call and fails it while the backend is down.
func (b *fakeBackend) enter() error {
	b.calls++
	if b.down {
		return common.ErrUnavailable
	}
	return nil
}

func (b *fakeBackend) member(user, coupleID string) bool {
	return b.couple.ID == coupleID && b.couple.IsActive() && b.couple.HasMember(user)
}

func (b *fakeBackend) write(user string, op dm.Operation, m dm.Mutation) (dm.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(); err != nil {
		return dm.Record{}, err
	}
	if !b.member(user, m.Record.CoupleID) {
		return dm.Record{}, common.ErrNotAuthorized
	}
	b.writes++

	key := m.Record.Key()
	ex := b.records[key]
	if ex != nil && ex.lastMutation == m.MutationID {
		return b.reply(ex.rec)
	}

	next := dm.Record{
		Type:     m.Record.Type,
		ID:       m.Record.ID,
		CoupleID: m.Record.CoupleID,
		AuthorID: user,
		Payload:  m.Record.Payload,
		Deleted:  op == dm.OpDelete,
	}
	if op == dm.OpCreate {
		if ex != nil {
			return dm.Record{}, common.ErrVersionConflict
		}
	} else {
		switch {
		case ex == nil:
			return dm.Record{}, common.ErrNotFound
		case ex.rec.Deleted:
			return dm.Record{}, common.ErrVersionConflict
		case m.ExpectedVersion >= 0 && ex.rec.Version != m.ExpectedVersion:
			return dm.Record{}, common.ErrVersionConflict
		case op == dm.OpUpdate && ex.rec.Type == dm.EntityJournalEntry && ex.rec.AuthorID != user:
			return dm.Record{}, common.ErrNotAuthorized
		}
		next.AuthorID = ex.rec.AuthorID
		if op == dm.OpDelete {
			next.Payload = ex.rec.Payload
		}
	}

	b.version++
	next.Version = b.version
	next.ServerTime = b.clock.Now()
	b.records[key] = &storedRec{rec: next, lastMutation: m.MutationID}
	b.events = append(b.events, dm.ChangeEvent{
		EntityType:      next.Type,
		Operation:       op,
		Record:          next,
		ServerTimestamp: next.ServerTime,
		Cursor:          next.Version,
	})
	return b.reply(next)
}

// reply loses the response of an applied write while dropReplies lasts.
func (b *fakeBackend) reply(rec dm.Record) (dm.Record, error) {
	if b.dropReplies > 0 {
		b.dropReplies--
		return dm.Record{}, common.ErrUnavailable
	}
	return rec, nil
}

// remote is the backend as seen by one user's device.
type remote struct {
	b    *fakeBackend
	user string
}

var _ client.Client = (*remote)(nil)

func (r *remote) Close() error { return nil }

func (r *remote) Ping(context.Context) (time.Time, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return r.b.clock.Now(), r.b.enter()
}

func (r *remote) Register(context.Context, string, string, []byte, []byte) (string, error) {
	return "", fmt.Errorf("not used")
}

func (r *remote) GetSalt(context.Context, string) ([]byte, error) { return nil, fmt.Errorf("not used") }

func (r *remote) Login(context.Context, string, []byte) (string, error) {
	return "", fmt.Errorf("not used")
}

func (r *remote) Profile(_ context.Context, userID string) (dm.User, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if err := r.b.enter(); err != nil {
		return dm.User{}, err
	}
	if userID == "" {
		userID = r.user
	}
	return dm.User{ID: userID, Username: userID, DisplayName: userID}, nil
}

func (r *remote) IssuePairingCode(context.Context) (dm.PairingCode, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if err := r.b.enter(); err != nil {
		return dm.PairingCode{}, err
	}
	code := "ABC123"
	r.b.codes[code] = r.user
	now := r.b.clock.Now()
	return dm.PairingCode{Code: code, IssuerID: r.user, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour), Status: dm.PairingOpen}, nil
}

func (r *remote) RedeemPairingCode(_ context.Context, code string) (dm.Couple, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if err := r.b.enter(); err != nil {
		return dm.Couple{}, err
	}
	issuer, ok := r.b.codes[code]
	switch {
	case !ok:
		return dm.Couple{}, common.ErrNotFound
	case issuer == "":
		return dm.Couple{}, common.ErrAlreadyRedeemed
	case issuer == r.user:
		return dm.Couple{}, common.ErrSelfPairing
	}
	r.b.codes[code] = ""
	r.b.couple = dm.Couple{ID: "c2", Members: [2]string{issuer, r.user}, PairedAt: r.b.clock.Now(), Status: dm.CoupleActive}
	return r.b.couple, nil
}

func (r *remote) DissolveCouple(_ context.Context, coupleID string) (dm.Couple, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if err := r.b.enter(); err != nil {
		return dm.Couple{}, err
	}
	if !r.b.member(r.user, coupleID) {
		return dm.Couple{}, common.ErrNotPaired
	}
	r.b.couple.Status = dm.CoupleDissolved
	r.b.version++
	rec, _ := dm.CoupleRecord(r.b.couple, r.b.version, r.b.clock.Now())
	r.b.events = append(r.b.events, dm.ChangeEvent{EntityType: dm.EntityCouple, Operation: dm.OpDelete, Record: rec, Cursor: r.b.version})
	return r.b.couple, nil
}

func (r *remote) CurrentCouple(context.Context) (*dm.Couple, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if err := r.b.enter(); err != nil {
		return nil, err
	}
	if !r.b.member(r.user, r.b.couple.ID) {
		return nil, nil
	}
	c := r.b.couple
	return &c, nil
}

func (r *remote) CreateEntry(_ context.Context, m dm.Mutation) (dm.Record, error) {
	return r.b.write(r.user, dm.OpCreate, m)
}

func (r *remote) UpdateEntry(_ context.Context, m dm.Mutation) (dm.Record, error) {
	return r.b.write(r.user, dm.OpUpdate, m)
}

func (r *remote) DeleteEntry(_ context.Context, m dm.Mutation) (dm.Record, error) {
	return r.b.write(r.user, dm.OpDelete, m)
}

func (r *remote) GetEntry(_ context.Context, coupleID string, key dm.Key) (dm.Record, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if err := r.b.enter(); err != nil {
		return dm.Record{}, err
	}
	if !r.b.member(r.user, coupleID) {
		return dm.Record{}, common.ErrNotAuthorized
	}
	s, ok := r.b.records[key]
	if !ok {
		return dm.Record{}, common.ErrNotFound
	}
	return s.rec, nil
}

func (r *remote) FetchSince(_ context.Context, coupleID string, cursor int64, limit int) (client.Page, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if err := r.b.enter(); err != nil {
		return client.Page{}, err
	}
	if !r.b.member(r.user, coupleID) {
		return client.Page{}, common.ErrNotAuthorized
	}
	p := client.Page{Cursor: cursor}
	for _, ev := range r.b.events {
		if ev.Cursor > cursor && ev.Record.CoupleID == coupleID {
			p.Events = append(p.Events, ev)
			p.Cursor = ev.Cursor
		}
	}
	return p, nil
}

func (r *remote) Subscribe(context.Context, string, int64, func(dm.ChangeEvent) error) error {
	return common.ErrUnavailable
}

func (r *remote) MediaUploadURL(context.Context, string, string, string) (client.UploadTarget, error) {
	return client.UploadTarget{}, common.ErrUnavailable
}

func (r *remote) MediaDownloadURL(context.Context, string, string) (string, error) {
	return "", common.ErrUnavailable
}

type recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recorder) listen(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) kinds(kind NoticeKind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type device struct {
	engine  *Engine
	store   *store.Store
	session *session.Session
	notices *recorder
}

func newDevice(t *testing.T, b *fakeBackend, clk *clock, user string) *device {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), user+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sess, err := session.Load(ctx, st.Metadata())
	require.NoError(t, err)
	require.NoError(t, sess.SetUser(ctx, user, user))
	b.mu.Lock()
	c := b.couple
	b.mu.Unlock()
	require.NoError(t, sess.SetCouple(ctx, &c))

	e := New(st, &remote{b: b, user: user}, sess, nil, Options{
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Minute,
		MaxAttempts:    3,
		Parallelism:    2,
		Location:       time.UTC,
		Now:            clk.Now,
		NewID:          uuid.NewString,
	})
	rec := &recorder{}
	e.Subscribe(rec.listen)
	return &device{engine: e, store: st, session: sess, notices: rec}
}

func journalKey(id string) dm.Key { return dm.Key{Type: dm.EntityJournalEntry, ID: id} }

// exhaustRetries syncs until the queued entries of d have used up their
// attempt budget against a backend that is down.
func exhaustRetries(t *testing.T, d *device, clk *clock) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < d.engine.opts.MaxAttempts; i++ {
		if i > 0 {
			clk.Advance(time.Minute)
		}
		require.ErrorIs(t, d.engine.SyncOnce(ctx), common.ErrUnavailable)
	}
}

// lockWaiters reports how many callers hold or wait for the lock of key.
func lockWaiters(e *Engine, key dm.Key) int {
	e.locks.mu.Lock()
	defer e.locks.mu.Unlock()
	if l, ok := e.locks.locks[key]; ok {
		return l.refs
	}
	return 0
}
