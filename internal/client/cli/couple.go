package cli

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	cm "github.com/dmitrijs2005/couplesync/internal/client/models"
	"github.com/dmitrijs2005/couplesync/internal/common"
)

// Pair issues a pairing code to hand to the partner.
func (a *App) Pair(ctx context.Context, _ []string) error {
	code, err := a.engine.IssuePairingCode(ctx)
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.printf("Pairing code: %s (valid until %s)\n", code.Code, code.ExpiresAt.Local().Format(timeLayout))
	a.printf("Ask your partner to run: redeem %s\n", code.Code)
	return nil
}

// Redeem pairs with the issuer of a code: redeem <code>
func (a *App) Redeem(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.printf("Usage: redeem <code>\n")
		return nil
	}
	c, err := a.engine.RedeemPairingCode(ctx, strings.Join(args, ""))
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.bus.Watch(ctx, c.ID)
	return nil
}

// Unlink dissolves the couple after a confirmation.
func (a *App) Unlink(ctx context.Context, _ []string) error {
	ok, err := Confirm(a.reader, "Unlinking removes the shared journal from this device. Continue?", a.out)
	if err != nil || !ok {
		return err
	}
	a.bus.Stop()
	if err := a.engine.Dissolve(ctx); err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	return nil
}

// Ping sends a love ping with an optional note: ping [note...]
func (a *App) Ping(ctx context.Context, args []string) error {
	if _, err := a.engine.SendLovePing(ctx, strings.Join(args, " ")); err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.printf("Ping sent\n")
	return nil
}

// Ack acknowledges one ping, or all pending ones: ack [id]
func (a *App) Ack(ctx context.Context, args []string) error {
	var ids []string
	if len(args) > 0 {
		ids = args
	} else {
		pings, err := a.engine.PendingPings(ctx)
		if err != nil {
			a.printf("Error: %v\n", err)
			return err
		}
		for _, p := range pings {
			a.printf("%s\n", a.formatPing(p))
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		a.printf("No pings waiting\n")
		return nil
	}

	var errs []error
	for _, id := range ids {
		if err := a.engine.AckLovePing(ctx, id); err != nil {
			a.printf("Error: %s: %v\n", id, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sync drains the outbox and pulls missed changes now.
func (a *App) Sync(ctx context.Context, _ []string) error {
	if !a.isAuthenticated() {
		a.printf("Log in online to sync\n")
		return common.ErrUnauthorized
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := a.engine.SyncOnce(ctx); err != nil {
		a.printf("Sync incomplete: %v\n", err)
		return err
	}
	a.printf("Synced\n")
	return nil
}

func (a *App) unsynced(ctx context.Context) int {
	entries, err := a.engine.Outbox(ctx)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Status == cm.OutboxPending {
			n++
		}
	}
	return n
}

// Status prints the session, the connection and the outbox summary.
func (a *App) Status(ctx context.Context, _ []string) error {
	a.printf("User:    %s\n", a.session.Username())
	mode := a.mode()
	if mode == ModeOnline && !a.isAuthenticated() {
		mode += " (not logged in online)"
	}
	a.printf("Mode:    %s\n", mode)

	c, ok := a.session.Couple()
	if !ok {
		a.printf("Couple:  not paired (use 'pair' or 'redeem <code>')\n")
		return nil
	}
	a.printf("Couple:  with %s since %s\n", a.who(c.Partner(a.session.UserID())), c.PairedAt.Local().Format(timeLayout))

	entries, err := a.engine.Outbox(ctx)
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	counts := map[cm.OutboxStatus]int{}
	for _, e := range entries {
		counts[e.Status]++
	}
	a.printf("Outbox:  %d pending, %d conflict, %d failed\n",
		counts[cm.OutboxPending], counts[cm.OutboxConflict], counts[cm.OutboxFailed])
	return nil
}

// Outbox lists queued changes and the conflicts and failures kept for review.
func (a *App) Outbox(ctx context.Context, _ []string) error {
	entries, err := a.engine.Outbox(ctx)
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	if len(entries) == 0 {
		a.printf("Outbox is empty\n")
		return nil
	}
	for _, e := range entries {
		a.printf("%s\n", formatOutbox(e))
	}
	return nil
}

// Dismiss forgets a conflict or failure: dismiss <seq>
func (a *App) Dismiss(ctx context.Context, args []string) error {
	if len(args) != 1 {
		a.printf("Usage: dismiss <seq>\n")
		return nil
	}
	seq, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		a.printf("Usage: dismiss <seq>\n")
		return nil
	}
	if err := a.engine.Dismiss(ctx, seq); err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	return nil
}

// Retry requeues failed changes.
func (a *App) Retry(ctx context.Context, _ []string) error {
	n, err := a.engine.RetryFailed(ctx)
	if err != nil {
		a.printf("Error: %v\n", err)
		return err
	}
	a.printf("Requeued %s\n", pluralize(n, "change", "changes"))
	return nil
}
