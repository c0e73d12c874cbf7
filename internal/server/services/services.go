// Package services contains server-side business logic: accounts and tokens,
// the pairing protocol, versioned record writes and media URLs. Services
// talk to storage only through repomanager, so every multi-step change runs
// inside one transaction via dbx.WithTx.
package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/models"
)

// Publisher fans committed changes out to realtime subscribers.
type Publisher interface {
	Publish(coupleID string, ev models.ChangeEvent)
	// CloseCouple ends every subscription of a dissolved couple.
	CloseCouple(coupleID string)
}

// Limiter counts attempts per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Notifier hands love pings to the external push-delivery queue.
type Notifier interface {
	NotifyLovePing(ctx context.Context, recipientID string, rec models.Record) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, models.ChangeEvent) {}
func (nopPublisher) CloseCouple(string)                 {}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (bool, error) { return true, nil }

type nopNotifier struct{}

func (nopNotifier) NotifyLovePing(context.Context, string, models.Record) error { return nil }

// now is the service clock; tests replace it.
var now = func() time.Time { return time.Now().UTC() }
