package cli

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/client"
	cm "github.com/dmitrijs2005/couplesync/internal/client/models"
	"github.com/dmitrijs2005/couplesync/internal/client/reconcile"
	"github.com/dmitrijs2005/couplesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/couplesync/internal/client/session"
	"github.com/dmitrijs2005/couplesync/internal/client/streak"
	"github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var pairedAt = time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)

func activeCouple() *models.Couple {
	return &models.Couple{ID: "c1", Members: [2]string{"alice", "bob"}, PairedAt: pairedAt, Status: models.CoupleActive}
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE metadata (key TEXT PRIMARY KEY, value BLOB NOT NULL);`)
	require.NoError(t, err)

	s, err := session.Load(context.Background(), metadata.NewSQLiteRepository(db))
	require.NoError(t, err)
	return s
}

// pairedSession is alice, paired with bob.
func pairedSession(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()
	s := newSession(t)
	require.NoError(t, s.SetUser(ctx, "alice", "alice"))
	require.NoError(t, s.SetCouple(ctx, activeCouple()))
	require.NoError(t, s.CacheUser(ctx, models.User{ID: "bob", Username: "bob", DisplayName: "Bob"}))
	return s
}

type testApp struct {
	*App
	engine  *fakeEngine
	auth    *fakeAuth
	watcher *fakeWatcher
	out     *bytes.Buffer
}

func newTestApp(t *testing.T, sess *session.Session, input string) *testApp {
	t.Helper()
	out := &bytes.Buffer{}
	eng := &fakeEngine{session: sess}
	auth := &fakeAuth{session: sess}
	w := &fakeWatcher{}
	a := &App{
		authService: auth,
		engine:      eng,
		session:     sess,
		bus:         w,
		reader:      bufio.NewReader(strings.NewReader(input)),
		out:         out,
	}
	return &testApp{App: a, engine: eng, auth: auth, watcher: w, out: out}
}

type fakeEngine struct {
	session *session.Session

	mu      sync.Mutex
	online  bool
	kicks   int
	calls   []string
	drafts  []reconcile.JournalDraft
	memory  []reconcile.MemoryDraft
	notes   []string
	acked   []string
	deleted []string

	entries  []models.JournalEntry
	memories []models.Memory
	pings    []models.LovePing
	outbox   []cm.OutboxEntry
	streak   streak.Streak
	code     models.PairingCode
	refresh  *models.Couple
	retried  int

	// err is returned by the named call.
	err map[string]error
}

func (f *fakeEngine) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err[name]
}

func (f *fakeEngine) SubmitJournalEntry(_ context.Context, d reconcile.JournalDraft) (models.JournalEntry, error) {
	if err := f.call("submit"); err != nil {
		return models.JournalEntry{}, err
	}
	f.drafts = append(f.drafts, d)
	return models.JournalEntry{ID: "j1", Mood: d.Mood, Tags: d.Tags, Body: d.Body}, nil
}

func (f *fakeEngine) EditJournalEntry(_ context.Context, id string, d reconcile.JournalDraft) (models.JournalEntry, error) {
	if err := f.call("edit " + id); err != nil {
		return models.JournalEntry{}, err
	}
	f.drafts = append(f.drafts, d)
	return models.JournalEntry{ID: id, Mood: d.Mood}, nil
}

func (f *fakeEngine) DeleteJournalEntry(_ context.Context, id string) error {
	if err := f.call("delete-journal"); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEngine) SubmitMemory(_ context.Context, d reconcile.MemoryDraft) (models.Memory, error) {
	if err := f.call("submit-memory"); err != nil {
		return models.Memory{}, err
	}
	f.memory = append(f.memory, d)
	return models.Memory{ID: d.ID, MediaRef: d.MediaRef, Caption: d.Caption}, nil
}

func (f *fakeEngine) DeleteMemory(_ context.Context, id string) error {
	if err := f.call("delete-memory"); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEngine) SendLovePing(_ context.Context, note string) (models.LovePing, error) {
	if err := f.call("ping"); err != nil {
		return models.LovePing{}, err
	}
	f.notes = append(f.notes, note)
	return models.LovePing{ID: "p1", Note: note}, nil
}

func (f *fakeEngine) AckLovePing(_ context.Context, id string) error {
	if err := f.call("ack"); err != nil {
		return err
	}
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeEngine) JournalEntries(context.Context) ([]models.JournalEntry, error) {
	return f.entries, f.call("entries")
}

func (f *fakeEngine) Memories(context.Context) ([]models.Memory, error) {
	return f.memories, f.call("memories")
}

func (f *fakeEngine) PendingPings(context.Context) ([]models.LovePing, error) {
	return f.pings, f.call("pings")
}

func (f *fakeEngine) GetCurrentStreak(context.Context) (streak.Streak, error) {
	return f.streak, f.call("streak")
}

func (f *fakeEngine) Outbox(context.Context) ([]cm.OutboxEntry, error) {
	return f.outbox, f.call("outbox")
}

func (f *fakeEngine) Dismiss(_ context.Context, seq int64) error {
	return f.call("dismiss")
}

func (f *fakeEngine) RetryFailed(context.Context) (int, error) {
	return f.retried, f.call("retry")
}

func (f *fakeEngine) IssuePairingCode(context.Context) (models.PairingCode, error) {
	return f.code, f.call("issue")
}

func (f *fakeEngine) RedeemPairingCode(ctx context.Context, code string) (models.Couple, error) {
	if err := f.call("redeem " + code); err != nil {
		return models.Couple{}, err
	}
	c := activeCouple()
	if f.session != nil {
		_ = f.session.SetCouple(ctx, c)
	}
	return *c, nil
}

func (f *fakeEngine) Dissolve(ctx context.Context) error {
	if err := f.call("dissolve"); err != nil {
		return err
	}
	if f.session != nil {
		_ = f.session.SetCouple(ctx, nil)
	}
	return nil
}

func (f *fakeEngine) RefreshCouple(ctx context.Context) (*models.Couple, error) {
	if err := f.call("refresh"); err != nil {
		return nil, err
	}
	if f.refresh != nil && f.session != nil {
		_ = f.session.SetCouple(ctx, f.refresh)
	}
	return f.refresh, nil
}

func (f *fakeEngine) SyncOnce(context.Context) error { return f.call("sync") }

func (f *fakeEngine) SetOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = online
}

func (f *fakeEngine) Kick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks++
}

func (f *fakeEngine) isOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

type fakeWatcher struct {
	mu      sync.Mutex
	watched []string
	stops   int
}

func (w *fakeWatcher) Watch(_ context.Context, coupleID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched = append(w.watched, coupleID)
}

func (w *fakeWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
}

type fakeAuth struct {
	session *session.Session

	regUser, regName string
	regPass          []byte
	regErr           error

	onlineUser string
	onlinePass []byte
	onlineErr  error

	offlineUser string
	offlineErr  error

	pingErr      error
	logoutCalled bool
	logoutErr    error
}

func (f *fakeAuth) Register(_ context.Context, username, displayName string, password []byte) (string, error) {
	f.regUser, f.regName, f.regPass = username, displayName, append([]byte(nil), password...)
	return "u-" + username, f.regErr
}

func (f *fakeAuth) OnlineLogin(ctx context.Context, username string, password []byte) (string, error) {
	f.onlineUser, f.onlinePass = username, append([]byte(nil), password...)
	if f.onlineErr != nil {
		return "", f.onlineErr
	}
	if f.session != nil {
		_ = f.session.SetUser(ctx, username, username)
	}
	return username, nil
}

func (f *fakeAuth) OfflineLogin(ctx context.Context, username string, _ []byte) (string, error) {
	f.offlineUser = username
	if f.offlineErr != nil {
		return "", f.offlineErr
	}
	if f.session != nil {
		_ = f.session.SetUser(ctx, username, username)
	}
	return username, nil
}

func (f *fakeAuth) Ping(context.Context) (time.Time, error) { return time.Now(), f.pingErr }
func (f *fakeAuth) Close() error                           { return nil }

func (f *fakeAuth) Logout(ctx context.Context) error {
	f.logoutCalled = true
	if f.logoutErr != nil {
		return f.logoutErr
	}
	if f.session != nil {
		return f.session.Clear(ctx)
	}
	return nil
}

func stubInputs(t *testing.T, username string, password []byte) {
	t.Helper()
	origST, origGP := getSimpleText, getPassword
	getSimpleText = func(_ *bufio.Reader, _ string, _ io.Writer) (string, error) { return username, nil }
	getPassword = func(_ io.Writer) ([]byte, error) { return append([]byte(nil), password...), nil }
	t.Cleanup(func() {
		getSimpleText = origST
		getPassword = origGP
	})
}

// fakeRemote serves the media calls of the memory commands.
type fakeRemote struct {
	client.Client
	uploadURL   string
	downloadURL string
	ref         string
}

func (f *fakeRemote) MediaUploadURL(_ context.Context, coupleID, memoryID, contentType string) (client.UploadTarget, error) {
	f.ref = coupleID + "/" + memoryID
	return client.UploadTarget{URL: f.uploadURL, MediaRef: f.ref, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeRemote) MediaDownloadURL(_ context.Context, coupleID, mediaRef string) (string, error) {
	return f.downloadURL, nil
}

func newReader(s string) *bufio.Reader { return bufio.NewReader(strings.NewReader(s)) }
