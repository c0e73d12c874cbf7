package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/client"
	"github.com/dmitrijs2005/couplesync/internal/client/config"
	cm "github.com/dmitrijs2005/couplesync/internal/client/models"
	"github.com/dmitrijs2005/couplesync/internal/client/realtime"
	"github.com/dmitrijs2005/couplesync/internal/client/reconcile"
	"github.com/dmitrijs2005/couplesync/internal/client/services"
	"github.com/dmitrijs2005/couplesync/internal/client/session"
	"github.com/dmitrijs2005/couplesync/internal/client/store"
	"github.com/dmitrijs2005/couplesync/internal/client/streak"
	"github.com/dmitrijs2005/couplesync/internal/logging"
	"github.com/dmitrijs2005/couplesync/internal/models"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

// Engine is the part of the reconcile engine the commands use.
type Engine interface {
	SubmitJournalEntry(ctx context.Context, d reconcile.JournalDraft) (models.JournalEntry, error)
	EditJournalEntry(ctx context.Context, id string, d reconcile.JournalDraft) (models.JournalEntry, error)
	DeleteJournalEntry(ctx context.Context, id string) error
	SubmitMemory(ctx context.Context, d reconcile.MemoryDraft) (models.Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	SendLovePing(ctx context.Context, note string) (models.LovePing, error)
	AckLovePing(ctx context.Context, id string) error

	JournalEntries(ctx context.Context) ([]models.JournalEntry, error)
	Memories(ctx context.Context) ([]models.Memory, error)
	PendingPings(ctx context.Context) ([]models.LovePing, error)
	GetCurrentStreak(ctx context.Context) (streak.Streak, error)

	Outbox(ctx context.Context) ([]cm.OutboxEntry, error)
	Dismiss(ctx context.Context, seq int64) error
	RetryFailed(ctx context.Context) (int, error)

	IssuePairingCode(ctx context.Context) (models.PairingCode, error)
	RedeemPairingCode(ctx context.Context, code string) (models.Couple, error)
	Dissolve(ctx context.Context) error
	RefreshCouple(ctx context.Context) (*models.Couple, error)

	SyncOnce(ctx context.Context) error
	SetOnline(online bool)
	Kick()
}

// Watcher keeps the realtime subscription of the active couple.
type Watcher interface {
	Watch(ctx context.Context, coupleID string)
	Stop()
}

type App struct {
	config      *config.Config
	authService services.AuthService
	engine      Engine
	session     *session.Session
	remote      client.Client
	bus         Watcher
	run         func(ctx context.Context) error
	closers     []io.Closer

	reader *bufio.Reader
	out    io.Writer

	mu sync.Mutex
	// Mode is the server reachability seen by the last probe.
	Mode Mode
	// authenticated is set by an online login; only then the device holds
	// tokens and may sync.
	authenticated bool
}

// NewApp wires the local store, the gRPC client, the session, the reconcile
// engine and the realtime bus.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewText(os.Stderr, c.LogLevel)

	st, err := store.Open(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	remote, err := client.NewCoupleSyncClient(c.ServerEndpointAddr)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sess, err := session.Load(ctx, st.Metadata())
	if err != nil {
		_ = remote.Close()
		_ = st.Close()
		return nil, err
	}

	eng := reconcile.New(st, remote, sess, logger, reconcile.Options{
		RetryBaseDelay: c.RetryBaseDelay,
		RetryMaxDelay:  c.RetryMaxDelay,
		MaxAttempts:    c.MaxAttempts,
		Parallelism:    c.DrainParallelism,
		SyncInterval:   c.SyncInterval,
	})
	// Nothing is sent until an online login provides tokens.
	eng.SetOnline(false)

	a := &App{
		config:      c,
		authService: services.NewAuthService(remote, st, sess),
		engine:      eng,
		session:     sess,
		remote:      remote,
		bus:         realtime.New(remote, eng, logger, realtime.Options{}),
		run:         eng.Run,
		closers:     []io.Closer{remote, st},
		reader:      bufio.NewReader(os.Stdin),
		out:         os.Stdout,
	}
	eng.Subscribe(a.notify)
	return a, nil
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Mode
}

func (a *App) setMode(mode Mode) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Mode == mode {
		return false
	}
	a.Mode = mode
	a.printf("Switched to %s mode\n", mode)
	return true
}

func (a *App) isAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated
}

func (a *App) setAuthenticated(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authenticated = v
}

func (a *App) isLoggedIn() bool {
	return a.session != nil && a.session.UserID() != ""
}

// Run starts the background loops and the REPL and blocks until the user
// exits.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		a.bus.Stop()
		for _, c := range a.closers {
			_ = c.Close()
		}
	}()

	if a.run != nil {
		go func() { _ = a.run(ctx) }()
	}
	a.Root(ctx)
}

// goOnline enables syncing after an online login or when the server came
// back. A fresh couple state is fetched when refresh is set or the user is
// still waiting for a partner to redeem a code.
func (a *App) goOnline(ctx context.Context, refresh bool) {
	if !a.isAuthenticated() {
		return
	}
	a.engine.SetOnline(true)
	if refresh || a.session.CoupleID() == "" {
		if _, err := a.engine.RefreshCouple(ctx); err != nil {
			a.printf("Could not refresh couple: %v\n", err)
		}
	}
	a.bus.Watch(ctx, a.session.CoupleID())
}

func (a *App) goOffline() {
	a.engine.SetOnline(false)
	a.bus.Stop()
}

// checkOnline probes the server once and switches the mode.
func (a *App) checkOnline(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	_, err := a.authService.Ping(pctx)
	cancel()

	if err != nil {
		if a.setMode(ModeOffline) {
			a.goOffline()
		}
		return
	}

	changed := a.setMode(ModeOnline)
	if changed && a.isLoggedIn() && !a.isAuthenticated() {
		a.printf("Server is reachable again, log in to sync\n")
	}
	a.goOnline(ctx, changed)
}

func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// notify prints what the engine reports in the background.
func (a *App) notify(n reconcile.Notice) {
	switch n.Kind {
	case reconcile.NoticeConflict:
		a.printf("\n[conflict] %s %s: %s\n", n.Key.Type, n.Key.ID, n.Message)
	case reconcile.NoticeFailed:
		a.printf("\n[failed] %s %s of %s was not synced: %s (see 'outbox')\n", n.Op, n.Key.Type, n.Key.ID, n.Message)
	case reconcile.NoticePaired:
		a.printf("\n[paired] you are now a couple\n")
	case reconcile.NoticeDissolved:
		a.printf("\n[unlinked] the couple was dissolved, its local data was removed\n")
	}
}
