package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupMeta(t *testing.T) metadata.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE metadata (key TEXT PRIMARY KEY, value BLOB NOT NULL);`)
	require.NoError(t, err)
	return metadata.NewSQLiteRepository(db)
}

func couple(status models.CoupleStatus) *models.Couple {
	return &models.Couple{
		ID:       "c1",
		Members:  [2]string{"u1", "u2"},
		PairedAt: time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC),
		Status:   status,
	}
}

func TestLoad_EmptyWhenNothingSaved(t *testing.T) {
	s, err := Load(context.Background(), setupMeta(t))
	require.NoError(t, err)
	assert.Empty(t, s.UserID())
	assert.Empty(t, s.CoupleID())
}

func TestSession_PersistsAcrossLoad(t *testing.T) {
	ctx := context.Background()
	meta := setupMeta(t)

	s, err := Load(ctx, meta)
	require.NoError(t, err)
	require.NoError(t, s.SetUser(ctx, "u1", "alice"))
	require.NoError(t, s.SetCouple(ctx, couple(models.CoupleActive)))

	again, err := Load(ctx, meta)
	require.NoError(t, err)
	assert.Equal(t, "u1", again.UserID())
	assert.Equal(t, "alice", again.Username())
	assert.Equal(t, "c1", again.CoupleID())
	assert.Equal(t, "u2", again.PartnerID())
}

func TestSetCouple_IgnoresInactiveOrForeignCouples(t *testing.T) {
	ctx := context.Background()
	s, err := Load(ctx, setupMeta(t))
	require.NoError(t, err)
	require.NoError(t, s.SetUser(ctx, "u1", "alice"))

	require.NoError(t, s.SetCouple(ctx, couple(models.CoupleActive)))
	require.NoError(t, s.SetCouple(ctx, couple(models.CoupleDissolved)))
	_, ok := s.Couple()
	assert.False(t, ok)

	foreign := couple(models.CoupleActive)
	foreign.Members = [2]string{"u7", "u8"}
	require.NoError(t, s.SetCouple(ctx, foreign))
	assert.Empty(t, s.CoupleID())

	require.NoError(t, s.SetCouple(ctx, nil))
	assert.Empty(t, s.CoupleID())
}

func TestSetUser_SwitchingUserForgetsCouple(t *testing.T) {
	ctx := context.Background()
	s, err := Load(ctx, setupMeta(t))
	require.NoError(t, err)
	require.NoError(t, s.SetUser(ctx, "u1", "alice"))
	require.NoError(t, s.SetCouple(ctx, couple(models.CoupleActive)))

	require.NoError(t, s.SetUser(ctx, "u1", "alice"))
	assert.Equal(t, "c1", s.CoupleID())

	require.NoError(t, s.SetUser(ctx, "u3", "carol"))
	assert.Empty(t, s.CoupleID())
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	meta := setupMeta(t)
	s, err := Load(ctx, meta)
	require.NoError(t, err)
	require.NoError(t, s.SetUser(ctx, "u1", "alice"))
	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.UserID())

	again, err := Load(ctx, meta)
	require.NoError(t, err)
	assert.Empty(t, again.UserID())
}

func TestLoad_CorruptSessionStartsEmpty(t *testing.T) {
	ctx := context.Background()
	meta := setupMeta(t)
	require.NoError(t, meta.Set(ctx, "session", []byte("{")))

	s, err := Load(ctx, meta)
	require.NoError(t, err)
	assert.Empty(t, s.UserID())
}

func TestCachedUser(t *testing.T) {
	ctx := context.Background()
	s, err := Load(ctx, setupMeta(t))
	require.NoError(t, err)

	_, ok, err := s.CachedUser(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CacheUser(ctx, models.User{ID: "u2", DisplayName: "Bob"}))
	u, ok, err := s.CachedUser(ctx, "u2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bob", u.DisplayName)
}
