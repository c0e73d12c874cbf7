// Package services contains application services of the couplesync client.
// This file defines the authentication service: online and offline login,
// registration, liveness probe and cleanup of the data cached on the device.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/client"
	"github.com/dmitrijs2005/couplesync/internal/client/session"
	"github.com/dmitrijs2005/couplesync/internal/client/store"
	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/cryptox"
)

const (
	keyUsername = "auth:username"
	keyUserID   = "auth:user_id"
	keySalt     = "auth:salt"
	keyVerifier = "auth:verifier"

	saltSize = 32
)

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - OnlineLogin: authenticate against the server, start the session and
//     persist what OfflineLogin needs.
//   - OfflineLogin: verify credentials against the data cached by the last
//     online login and restore the session.
//   - Register: create a new user on the server.
//   - Ping: check server liveness and return its clock.
//   - Logout: end the session and wipe everything cached on the device.
//
// Both logins return the user id.
type AuthService interface {
	OfflineLogin(ctx context.Context, username string, password []byte) (string, error)
	OnlineLogin(ctx context.Context, username string, password []byte) (string, error)
	Register(ctx context.Context, username, displayName string, password []byte) (string, error)
	Ping(ctx context.Context) (time.Time, error)
	Close() error
	Logout(ctx context.Context) error
}

type tokenHolder interface {
	SetTokens(access, refresh string)
}

type authService struct {
	client  client.Client
	store   *store.Store
	session *session.Session
}

func NewAuthService(c client.Client, st *store.Store, sess *session.Session) AuthService {
	return &authService{client: c, store: st, session: sess}
}

// OfflineLogin derives the verifier from password and the cached salt and
// compares it with the cached verifier. It fails with common.ErrNoOfflineData
// when the device has no data for username and with common.ErrUnauthorized
// on a wrong password.
func (a *authService) OfflineLogin(ctx context.Context, username string, password []byte) (string, error) {
	meta := a.store.Metadata()

	saved := make(map[string][]byte, 4)
	for _, k := range []string{keyUsername, keyUserID, keySalt, keyVerifier} {
		v, err := meta.Get(ctx, k)
		if err != nil {
			return "", err
		}
		if v == nil {
			return "", common.ErrNoOfflineData
		}
		saved[k] = v
	}
	if string(saved[keyUsername]) != username {
		return "", common.ErrNoOfflineData
	}

	key := cryptox.DeriveMasterKey(password, saved[keySalt])
	defer common.WipeByteArray(key)
	if !cryptox.VerifiersEqual(saved[keyVerifier], cryptox.MakeVerifier(key)) {
		return "", common.ErrUnauthorized
	}

	userID := string(saved[keyUserID])
	if err := a.session.SetUser(ctx, userID, username); err != nil {
		return "", err
	}
	return userID, nil
}

// OnlineLogin authenticates against the server and saves the offline login
// data (username, user id, salt and verifier) in one transaction. A different
// user logging in on this device first discards the previous user's data.
func (a *authService) OnlineLogin(ctx context.Context, username string, password []byte) (string, error) {
	salt, err := a.client.GetSalt(ctx, username)
	if err != nil {
		return "", fmt.Errorf("get salt: %w", err)
	}

	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)
	verifier := cryptox.MakeVerifier(key)

	userID, err := a.client.Login(ctx, username, verifier)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	if prev := a.session.UserID(); prev != "" && prev != userID {
		if err := a.wipe(ctx); err != nil {
			return "", err
		}
	}
	if err := a.saveOfflineData(ctx, username, userID, salt, verifier); err != nil {
		return "", fmt.Errorf("save offline data: %w", err)
	}
	if err := a.session.SetUser(ctx, userID, username); err != nil {
		return "", err
	}

	if u, err := a.client.Profile(ctx, userID); err == nil {
		_ = a.session.CacheUser(ctx, u)
	}
	return userID, nil
}

func (a *authService) saveOfflineData(ctx context.Context, username, userID string, salt, verifier []byte) error {
	return a.store.WithTx(ctx, func(ctx context.Context, tx *store.Store) error {
		meta := tx.Metadata()
		if err := meta.Set(ctx, keyUsername, []byte(username)); err != nil {
			return err
		}
		if err := meta.Set(ctx, keyUserID, []byte(userID)); err != nil {
			return err
		}
		if err := meta.Set(ctx, keySalt, salt); err != nil {
			return err
		}
		return meta.Set(ctx, keyVerifier, verifier)
	})
}

// Register creates a new account on the server. It generates a random salt,
// derives a master key from the password and sends only salt and verifier.
func (a *authService) Register(ctx context.Context, username, displayName string, password []byte) (string, error) {
	salt := common.GenerateRandByteArray(saltSize)
	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)

	return a.client.Register(ctx, username, displayName, salt, cryptox.MakeVerifier(key))
}

func (a *authService) Ping(ctx context.Context) (time.Time, error) {
	return a.client.Ping(ctx)
}

func (a *authService) Close() error {
	return a.client.Close()
}

// Logout forgets the tokens and wipes the session, the couple's cached
// records, queued changes and the offline login data.
func (a *authService) Logout(ctx context.Context) error {
	if th, ok := a.client.(tokenHolder); ok {
		th.SetTokens("", "")
	}
	return a.wipe(ctx)
}

func (a *authService) wipe(ctx context.Context) error {
	if coupleID := a.session.CoupleID(); coupleID != "" {
		if err := a.store.DiscardCouple(ctx, coupleID); err != nil {
			return err
		}
	}
	if err := a.session.Clear(ctx); err != nil {
		return err
	}
	return a.store.Metadata().Clear(ctx)
}
