package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/server/auth"
	"github.com/dmitrijs2005/couplesync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserService(t *testing.T, f *fakeDB) *UserService {
	t.Helper()
	return NewUserService(newTxDB(t), fakeRM{f}, testConfig())
}

func TestRegister(t *testing.T) {
	f := newFakeDB()
	s := newUserService(t, f)
	ctx := context.Background()

	u, err := s.Register(ctx, &models.User{UserName: "alice", Salt: []byte("s"), Verifier: []byte("v")})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice", u.DisplayName, "display name defaults to the username")

	_, err = s.Register(ctx, &models.User{UserName: "alice", Salt: []byte("s"), Verifier: []byte("v")})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	_, err = s.Register(ctx, &models.User{UserName: "bob"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestGetSalt_Found_NotFound_Internal(t *testing.T) {
	f := newFakeDB()
	f.addUser("alice")
	s := newUserService(t, f)
	ctx := context.Background()

	salt, err := s.GetSalt(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "salt-alice", string(salt))

	salt, err = s.GetSalt(ctx, "ghost")
	require.NoError(t, err)
	assert.Len(t, salt, 32)

	f.findUserErr = errBoom
	_, err = s.GetSalt(ctx, "alice")
	assert.ErrorIs(t, err, common.ErrInternal)
}

func TestLogin_Flows(t *testing.T) {
	f := newFakeDB()
	id := f.addUser("alice")
	s := newUserService(t, f)
	ctx := context.Background()

	_, err := s.Login(ctx, "ghost", []byte("x"))
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = s.Login(ctx, "alice", []byte("wrong"))
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	pair, err := s.Login(ctx, "alice", []byte("verifier-alice"))
	require.NoError(t, err)
	assert.Equal(t, id, pair.UserID)
	assert.NotEmpty(t, pair.RefreshToken)

	got, err := auth.GetUserIDFromToken(pair.AccessToken, []byte(testConfig().SecretKey))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	f.findUserErr = errBoom
	_, err = s.Login(ctx, "alice", []byte("verifier-alice"))
	assert.ErrorIs(t, err, common.ErrInternal)
}

func TestRefreshToken_RotatesOnce(t *testing.T) {
	f := newFakeDB()
	f.addUser("alice")
	s := newUserService(t, f)
	ctx := context.Background()

	pair, err := s.Login(ctx, "alice", []byte("verifier-alice"))
	require.NoError(t, err)

	next, err := s.RefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.Equal(t, pair.UserID, next.UserID)

	_, err = s.RefreshToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrUnauthorized, "a consumed token cannot be reused")
}

func TestRefreshToken_Expired(t *testing.T) {
	f := newFakeDB()
	f.tokens["old"] = &models.RefreshToken{UserID: "u1", Token: "old", Expires: time.Now().Add(-time.Minute)}
	s := newUserService(t, f)

	_, err := s.RefreshToken(context.Background(), "old")
	assert.ErrorIs(t, err, common.ErrRefreshTokenExpired)
}

func TestRefreshToken_CreateErrRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	f := newFakeDB()
	f.tokens["r"] = &models.RefreshToken{UserID: "u1", Token: "r", Expires: time.Now().Add(time.Hour)}
	f.createTokErr = errBoom
	s := NewUserService(db, fakeRM{f}, testConfig())

	_, err = s.RefreshToken(context.Background(), "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error generating token pair")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfile(t *testing.T) {
	f := newFakeDB()
	alice := f.addUser("alice")
	bob := f.addUser("bob")
	carol := f.addUser("carol")
	f.addCouple(alice, bob)
	s := newUserService(t, f)
	ctx := context.Background()

	me, err := s.Profile(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)

	partner, err := s.Profile(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, bob, partner.ID)

	_, err = s.Profile(ctx, alice, carol)
	assert.ErrorIs(t, err, common.ErrNotAuthorized)

	_, err = s.Profile(ctx, carol, alice)
	assert.True(t, errors.Is(err, common.ErrNotAuthorized), "unpaired users see only themselves")
}
