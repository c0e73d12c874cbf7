// Package realtime keeps one change subscription open for the active couple
// and feeds its events into the local cache.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/logging"
	"github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = time.Minute
	DefaultHealthyAfter = 30 * time.Second
)

// Subscriber opens the change stream of a couple. It blocks until the stream
// ends or ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, coupleID string, since int64, onEvent func(models.ChangeEvent) error) error
}

// Applier is the local side of the stream. Its methods run on the bus
// goroutine and must not call Stop or Watch.
type Applier interface {
	ApplyEvent(ctx context.Context, ev models.ChangeEvent) error
	CatchUp(ctx context.Context, coupleID string) (int64, error)
	CoupleRevoked(ctx context.Context, coupleID string)
}

type Options struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// A stream that stayed up this long resets the reconnect backoff.
	HealthyAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.HealthyAfter <= 0 {
		o.HealthyAfter = DefaultHealthyAfter
	}
	return o
}

// errRevoked ends the loop after the couple was handed to CoupleRevoked.
var errRevoked = errors.New("couple access revoked")

// Bus owns at most one subscription. Watching another couple replaces it.
type Bus struct {
	remote  Subscriber
	applier Applier
	logger  logging.Logger
	opts    Options

	mu       sync.Mutex
	coupleID string
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(remote Subscriber, applier Applier, logger logging.Logger, opts Options) *Bus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bus{
		remote:  remote,
		applier: applier,
		logger:  logger.With("module", "realtime"),
		opts:    opts.withDefaults(),
	}
}

// Watch subscribes to coupleID. It is a no-op while that couple is already
// being watched. The subscription lives until Stop, another Watch, a revoked
// couple or the end of ctx.
func (b *Bus) Watch(ctx context.Context, coupleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running() && b.coupleID == coupleID {
		return
	}
	b.stopLocked()
	if coupleID == "" {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.coupleID, b.cancel, b.done = coupleID, cancel, done
	go b.run(ctx, coupleID, done)
}

// Stop closes the subscription and waits for its goroutine.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

// Watching returns the couple with a live subscription loop, or "".
func (b *Bus) Watching() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running() {
		return ""
	}
	return b.coupleID
}

func (b *Bus) running() bool {
	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *Bus) stopLocked() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.coupleID, b.cancel, b.done = "", nil, nil
}

func (b *Bus) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(b.opts.MaxDelay, retry.NewExponential(b.opts.BaseDelay))
}

func (b *Bus) run(ctx context.Context, coupleID string, done chan struct{}) {
	defer close(done)
	logger := b.logger.With("couple_id", coupleID)
	backoff := b.newBackoff()

	for {
		started := time.Now()
		err := b.stream(ctx, coupleID)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errRevoked) {
			logger.Info(ctx, "subscription ended, couple no longer accessible")
			return
		}
		if time.Since(started) >= b.opts.HealthyAfter {
			backoff = b.newBackoff()
		}

		wait, stop := backoff.Next()
		if stop {
			return
		}
		logger.Debug(ctx, "subscription lost, reconnecting", "error", err, "in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// stream catches up from the stored cursor and then follows live events
// until the stream breaks.
func (b *Bus) stream(ctx context.Context, coupleID string) error {
	cursor, err := b.applier.CatchUp(ctx, coupleID)
	if err != nil {
		// CatchUp already reported a refused couple.
		if errors.Is(err, common.ErrNotAuthorized) {
			return errRevoked
		}
		return err
	}

	err = b.remote.Subscribe(ctx, coupleID, cursor, func(ev models.ChangeEvent) error {
		return b.applier.ApplyEvent(ctx, ev)
	})
	switch {
	case errors.Is(err, common.ErrNotAuthorized), errors.Is(err, common.ErrNotPaired):
		b.applier.CoupleRevoked(ctx, coupleID)
		return errRevoked
	case err == nil:
		return common.ErrUnavailable
	}
	return err
}
