package cli

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/couplesync/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for a username, a display name and a password and
// creates the account on the server. The password is wiped before return.
func (a *App) Register(ctx context.Context, _ []string) error {
	username, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}
	displayName, err := getSimpleText(a.reader, "Enter display name (optional)", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if _, err := a.authService.Register(ctx, username, displayName, password); err != nil {
		return err
	}
	a.printf("Registered %s, you can log in now\n", username)
	return nil
}

// Login prompts for credentials and tries an online login first. When the
// server is unreachable it falls back to the data cached by the last online
// login; the device then works offline until the next online login.
func (a *App) Login(ctx context.Context, _ []string) error {
	username, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	_, err = a.authService.OnlineLogin(ctx, username, password)
	if err == nil {
		a.printf("Login successful\n")
		a.setAuthenticated(true)
		a.setMode(ModeOnline)
		a.goOnline(ctx, true)
		return nil
	}
	if !errors.Is(err, common.ErrUnavailable) {
		a.printf("Login unsuccessful: %v\n", err)
		return err
	}

	a.printf("Server unavailable, trying offline login...\n")
	if _, err := a.authService.OfflineLogin(ctx, username, password); err != nil {
		a.printf("Offline login unsuccessful: %v\n", err)
		a.setMode(ModeDisabled)
		return err
	}
	a.printf("Offline login successful, changes will sync after an online login\n")
	a.setAuthenticated(false)
	a.setMode(ModeOffline)
	a.goOffline()
	return nil
}

// Logout wipes everything cached on the device, including changes not yet
// synced, after a confirmation when such changes exist.
func (a *App) Logout(ctx context.Context, _ []string) error {
	if a.isLoggedIn() && a.session.CoupleID() != "" {
		if n := a.unsynced(ctx); n > 0 {
			ok, err := Confirm(a.reader, pluralize(n, "change is", "changes are")+" not synced yet and will be lost. Log out anyway?", a.out)
			if err != nil || !ok {
				return err
			}
		}
	}
	a.goOffline()
	if err := a.authService.Logout(ctx); err != nil {
		return err
	}
	a.setAuthenticated(false)
	a.printf("Logged out\n")
	return nil
}
