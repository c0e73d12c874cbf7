package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	mu       sync.Mutex
	cursor   int64
	applied  []models.ChangeEvent
	catchUps int
	revoked  []string
	catchErr error
}

func (a *fakeApplier) ApplyEvent(_ context.Context, ev models.ChangeEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, ev)
	a.cursor = max(a.cursor, ev.Cursor)
	return nil
}

func (a *fakeApplier) CatchUp(context.Context, string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.catchUps++
	return a.cursor, a.catchErr
}

func (a *fakeApplier) CoupleRevoked(_ context.Context, coupleID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked = append(a.revoked, coupleID)
}

func (a *fakeApplier) snapshot() (applied int, catchUps int, revoked []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied), a.catchUps, append([]string(nil), a.revoked...)
}

type subscribeCall struct {
	coupleID string
	since    int64
}

// fakeSubscriber answers each Subscribe with the next scripted result. With
// the script exhausted it delivers nothing and blocks until ctx is done.
type fakeSubscriber struct {
	mu     sync.Mutex
	calls  []subscribeCall
	script []func(onEvent func(models.ChangeEvent) error) error
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, coupleID string, since int64, onEvent func(models.ChangeEvent) error) error {
	s.mu.Lock()
	s.calls = append(s.calls, subscribeCall{coupleID, since})
	var step func(func(models.ChangeEvent) error) error
	if len(s.script) > 0 {
		step, s.script = s.script[0], s.script[1:]
	}
	s.mu.Unlock()

	if step != nil {
		if err := step(onEvent); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeSubscriber) callList() []subscribeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]subscribeCall(nil), s.calls...)
}

func fail(err error) func(func(models.ChangeEvent) error) error {
	return func(func(models.ChangeEvent) error) error { return err }
}

func deliver(cursors ...int64) func(func(models.ChangeEvent) error) error {
	return deliverThen(nil, cursors...)
}

// deliverThen sends events with the given cursors and then ends the stream
// with err; a nil err keeps it open.
func deliverThen(err error, cursors ...int64) func(func(models.ChangeEvent) error) error {
	return func(onEvent func(models.ChangeEvent) error) error {
		for _, c := range cursors {
			if err := onEvent(models.ChangeEvent{EntityType: models.EntityJournalEntry, Cursor: c}); err != nil {
				return err
			}
		}
		return err
	}
}

var fast = Options{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, HealthyAfter: time.Hour}

func TestBus_CatchesUpThenStreams(t *testing.T) {
	app := &fakeApplier{cursor: 7}
	sub := &fakeSubscriber{script: []func(func(models.ChangeEvent) error) error{deliver(8, 9)}}
	bus := New(sub, app, nil, fast)

	bus.Watch(context.Background(), "c1")
	defer bus.Stop()

	require.Eventually(t, func() bool {
		n, _, _ := app.snapshot()
		return n == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, []subscribeCall{{"c1", 7}}, sub.callList())
	_, catchUps, _ := app.snapshot()
	assert.Equal(t, 1, catchUps)
	assert.Equal(t, "c1", bus.Watching())
}

func TestBus_ReconnectsFromCursor(t *testing.T) {
	app := &fakeApplier{}
	sub := &fakeSubscriber{script: []func(func(models.ChangeEvent) error) error{
		deliverThen(common.ErrUnavailable, 1, 2),
		fail(common.ErrUnavailable),
		fail(common.ErrUnavailable),
		deliver(3),
	}}
	bus := New(sub, app, nil, fast)

	bus.Watch(context.Background(), "c1")
	defer bus.Stop()

	require.Eventually(t, func() bool {
		n, _, _ := app.snapshot()
		return n == 3
	}, time.Second, time.Millisecond)

	calls := sub.callList()
	require.Len(t, calls, 4)
	assert.Equal(t, int64(0), calls[0].since)
	assert.Equal(t, int64(2), calls[1].since)
	assert.Equal(t, int64(2), calls[3].since)
	_, catchUps, _ := app.snapshot()
	assert.Equal(t, 4, catchUps)
}

func TestBus_RevokedCoupleStops(t *testing.T) {
	app := &fakeApplier{}
	sub := &fakeSubscriber{script: []func(func(models.ChangeEvent) error) error{fail(common.ErrNotAuthorized)}}
	bus := New(sub, app, nil, fast)

	bus.Watch(context.Background(), "c1")
	require.Eventually(t, func() bool { return bus.Watching() == "" }, time.Second, time.Millisecond)

	_, _, revoked := app.snapshot()
	assert.Equal(t, []string{"c1"}, revoked)
	assert.Len(t, sub.callList(), 1)
}

func TestBus_CatchUpRefusedStopsWithoutSecondRevoke(t *testing.T) {
	app := &fakeApplier{catchErr: common.ErrNotAuthorized}
	sub := &fakeSubscriber{}
	bus := New(sub, app, nil, fast)

	bus.Watch(context.Background(), "c1")
	require.Eventually(t, func() bool { return bus.Watching() == "" }, time.Second, time.Millisecond)

	_, _, revoked := app.snapshot()
	assert.Empty(t, revoked)
	assert.Empty(t, sub.callList())
}

func TestBus_WatchReplacesAndStop(t *testing.T) {
	app := &fakeApplier{}
	sub := &fakeSubscriber{}
	bus := New(sub, app, nil, fast)
	ctx := context.Background()

	bus.Watch(ctx, "c1")
	require.Eventually(t, func() bool { return len(sub.callList()) == 1 }, time.Second, time.Millisecond)

	// Same couple: the running subscription is kept.
	bus.Watch(ctx, "c1")
	bus.Watch(ctx, "c2")
	require.Eventually(t, func() bool { return len(sub.callList()) == 2 }, time.Second, time.Millisecond)

	calls := sub.callList()
	assert.Equal(t, "c1", calls[0].coupleID)
	assert.Equal(t, "c2", calls[1].coupleID)
	assert.Equal(t, "c2", bus.Watching())

	bus.Stop()
	assert.Equal(t, "", bus.Watching())
	bus.Stop()
}

func TestBus_ContextEndsLoop(t *testing.T) {
	sub := &fakeSubscriber{}
	bus := New(sub, &fakeApplier{}, nil, fast)
	ctx, cancel := context.WithCancel(context.Background())

	bus.Watch(ctx, "c1")
	require.Eventually(t, func() bool { return len(sub.callList()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.Eventually(t, func() bool { return bus.Watching() == "" }, time.Second, time.Millisecond)
}
