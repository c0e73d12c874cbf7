// Package realtime fans committed changes out to the live Subscribe streams
// of each couple.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/logging"
	"github.com/dmitrijs2005/couplesync/internal/models"
)

// DefaultBuffer is the per-subscriber event buffer.
const DefaultBuffer = 64

// ErrSlowSubscriber ends a subscription whose buffer overflowed. The client
// reconnects and catches up by cursor.
var ErrSlowSubscriber = fmt.Errorf("%w: subscriber fell behind", common.ErrUnavailable)

// ErrShutdown ends every subscription when the server stops.
var ErrShutdown = fmt.Errorf("%w: server shutting down", common.ErrUnavailable)

// Hub keeps the live subscriptions per couple id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger logging.Logger
	closed bool
}

func NewHub(buffer int, logger logging.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger.With("module", "hub"),
	}
}

// Subscription receives the events of one couple until it is closed, either
// by its owner or by the hub.
type Subscription struct {
	hub      *Hub
	coupleID string
	ch       chan models.ChangeEvent
	err      error
}

// Events is closed when the subscription ends; Err then tells why.
func (s *Subscription) Events() <-chan models.ChangeEvent { return s.ch }

// Err is nil while the subscription is live and after Close.
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.remove(s, nil)
}

func (h *Hub) Subscribe(coupleID string) *Subscription {
	s := &Subscription{hub: h, coupleID: coupleID, ch: make(chan models.ChangeEvent, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.err = ErrShutdown
		close(s.ch)
		return s
	}
	set, ok := h.subs[coupleID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[coupleID] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish never blocks: a subscriber with a full buffer is dropped.
func (h *Hub) Publish(coupleID string, ev models.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[coupleID] {
		select {
		case s.ch <- ev:
		default:
			h.logger.Warn(context.Background(), "dropping slow subscriber", "couple_id", coupleID)
			h.remove(s, ErrSlowSubscriber)
		}
	}
}

// CloseCouple ends the subscriptions of a dissolved couple with
// common.ErrNotAuthorized.
func (h *Hub) CloseCouple(coupleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[coupleID] {
		h.remove(s, common.ErrNotAuthorized)
	}
}

// Shutdown ends every subscription. Later subscriptions end immediately.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			h.remove(s, ErrShutdown)
		}
	}
}

// Count returns the number of live subscriptions of a couple.
func (h *Hub) Count(coupleID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[coupleID])
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *Subscription, err error) {
	set, ok := h.subs[s.coupleID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.coupleID)
	}
	s.err = err
	close(s.ch)
}
