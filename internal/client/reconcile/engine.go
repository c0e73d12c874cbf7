// Package reconcile is the only writer of the local store and the backend on
// a device.
//
// UI intents are applied optimistically: the record and an outbox entry are
// written in one store transaction and the drain loop is kicked. The drain
// sends entries per entity in queue order, several entities at a time, and
// either confirms them, schedules a retry with exponential backoff, or
// resolves a version conflict by adopting the remote value (last write wins by
// server version). Inbound change events are applied when the entity has no
// queued mutation and deferred otherwise.
package reconcile

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/client"
	"github.com/dmitrijs2005/couplesync/internal/client/session"
	"github.com/dmitrijs2005/couplesync/internal/client/store"
	"github.com/dmitrijs2005/couplesync/internal/logging"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 5 * time.Minute
	DefaultMaxAttempts    = 8
	DefaultParallelism    = 4
	DefaultSyncInterval   = 30 * time.Second
)

type Options struct {
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// MaxAttempts failed sends mark an entry failed.
	MaxAttempts int
	// Parallelism bounds how many entities are drained at once.
	Parallelism  int
	SyncInterval time.Duration
	// Location decides calendar days for streaks. Defaults to time.Local.
	Location *time.Location

	Now   func() time.Time
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.RetryMaxDelay < o.RetryBaseDelay {
		o.RetryMaxDelay = max(DefaultRetryMaxDelay, o.RetryBaseDelay)
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Parallelism < 1 {
		o.Parallelism = DefaultParallelism
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

type Engine struct {
	store   *store.Store
	remote  client.Client
	session *session.Session
	logger  logging.Logger
	opts    Options

	locks   keyedMutex
	kick    chan struct{}
	offline atomic.Bool

	dmu      sync.Mutex
	deferred map[dm.Key]dm.ChangeEvent
	// stale keys are refetched from the backend on the next sync.
	stale    map[dm.Key]string

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextL     int
}

func New(st *store.Store, remote client.Client, sess *session.Session, logger logging.Logger, opts Options) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		store:     st,
		remote:    remote,
		session:   sess,
		logger:    logger.With("module", "reconcile"),
		opts:      opts.withDefaults(),
		locks:     keyedMutex{locks: make(map[dm.Key]*refLock)},
		kick:      make(chan struct{}, 1),
		deferred:  make(map[dm.Key]dm.ChangeEvent),
		stale:     make(map[dm.Key]string),
		listeners: make(map[int]Listener),
	}
}

func (e *Engine) now() time.Time { return e.opts.Now() }

// Session returns the session the engine acts for.
func (e *Engine) Session() *session.Session { return e.session }

// SetOnline tells the engine whether the backend is reachable. While offline
// the drain does not run, so queued entries keep their attempt budget.
func (e *Engine) SetOnline(online bool) {
	was := !e.offline.Swap(!online)
	if online && !was {
		e.Kick()
	}
}

func (e *Engine) Online() bool { return !e.offline.Load() }

// Kick wakes the drain loop without waiting for it.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

type NoticeKind string

const (
	// NoticeChanged: the cached value of Key changed.
	NoticeChanged NoticeKind = "changed"
	// NoticeConflict: a local change of Key lost to a newer remote version
	// and was discarded.
	NoticeConflict NoticeKind = "conflict"
	// NoticeFailed: a local change of Key was given up after an error.
	NoticeFailed NoticeKind = "failed"
	NoticePaired NoticeKind = "paired"
	// NoticeDissolved: the couple is gone and its local data was discarded.
	NoticeDissolved NoticeKind = "dissolved"
)

type Notice struct {
	Kind     NoticeKind
	CoupleID string
	Key      dm.Key
	// Op is the discarded operation of a conflict or failure notice.
	Op      dm.Operation
	Message string
}

// Listener receives notices after the change they describe is durable. It is
// called from engine goroutines and must not block.
type Listener func(Notice)

// Subscribe registers l and returns a function that removes it.
func (e *Engine) Subscribe(l Listener) func() {
	e.lmu.Lock()
	id := e.nextL
	e.nextL++
	e.listeners[id] = l
	e.lmu.Unlock()

	return func() {
		e.lmu.Lock()
		delete(e.listeners, id)
		e.lmu.Unlock()
	}
}

func (e *Engine) emit(n Notice) {
	e.lmu.RLock()
	ls := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	e.lmu.RUnlock()

	for _, l := range ls {
		l(n)
	}
}

func (e *Engine) deferEvent(ev dm.ChangeEvent) {
	e.dmu.Lock()
	defer e.dmu.Unlock()
	key := ev.Record.Key()
	if cur, ok := e.deferred[key]; ok && !ev.Record.Newer(cur.Record) {
		return
	}
	e.deferred[key] = ev
}

func (e *Engine) peekDeferred(key dm.Key) (dm.ChangeEvent, bool) {
	e.dmu.Lock()
	defer e.dmu.Unlock()
	ev, ok := e.deferred[key]
	return ev, ok
}

func (e *Engine) dropDeferred(key dm.Key) {
	e.dmu.Lock()
	defer e.dmu.Unlock()
	delete(e.deferred, key)
}

func (e *Engine) markStale(coupleID string, keys []dm.Key) {
	e.dmu.Lock()
	defer e.dmu.Unlock()
	for _, k := range keys {
		e.stale[k] = coupleID
	}
}

func (e *Engine) staleKeys(coupleID string) []dm.Key {
	e.dmu.Lock()
	defer e.dmu.Unlock()
	var keys []dm.Key
	for k, c := range e.stale {
		if c == coupleID {
			keys = append(keys, k)
		}
	}
	return keys
}

func (e *Engine) clearStale(key dm.Key) {
	e.dmu.Lock()
	defer e.dmu.Unlock()
	delete(e.stale, key)
}

// forgetCouple drops in-memory state kept for a couple.
func (e *Engine) forgetCouple(coupleID string) {
	e.dmu.Lock()
	defer e.dmu.Unlock()
	for k, ev := range e.deferred {
		if ev.Record.CoupleID == coupleID {
			delete(e.deferred, k)
		}
	}
	for k, c := range e.stale {
		if c == coupleID {
			delete(e.stale, k)
		}
	}
}
