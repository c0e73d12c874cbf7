package client

import (
	"context"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/models"
)

// Page is one batch of changes returned by FetchSince.
type Page struct {
	Events []models.ChangeEvent
	Cursor int64
	More   bool
}

// UploadTarget is a presigned PUT for memory media.
type UploadTarget struct {
	URL       string
	MediaRef  string
	ExpiresAt time.Time
}

// Client is the remote backend as seen by the device. Every error is either a
// common sentinel or wraps one; transport failures are common.ErrUnavailable.
type Client interface {
	Close() error
	Ping(ctx context.Context) (time.Time, error)

	Register(ctx context.Context, username, displayName string, salt, verifier []byte) (string, error)
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifier []byte) (string, error)
	Profile(ctx context.Context, userID string) (models.User, error)

	IssuePairingCode(ctx context.Context) (models.PairingCode, error)
	RedeemPairingCode(ctx context.Context, code string) (models.Couple, error)
	DissolveCouple(ctx context.Context, coupleID string) (models.Couple, error)
	CurrentCouple(ctx context.Context) (*models.Couple, error)

	CreateEntry(ctx context.Context, m models.Mutation) (models.Record, error)
	UpdateEntry(ctx context.Context, m models.Mutation) (models.Record, error)
	DeleteEntry(ctx context.Context, m models.Mutation) (models.Record, error)
	GetEntry(ctx context.Context, coupleID string, key models.Key) (models.Record, error)
	FetchSince(ctx context.Context, coupleID string, cursor int64, limit int) (Page, error)
	Subscribe(ctx context.Context, coupleID string, since int64, onEvent func(models.ChangeEvent) error) error

	MediaUploadURL(ctx context.Context, coupleID, memoryID, contentType string) (UploadTarget, error)
	MediaDownloadURL(ctx context.Context, coupleID, mediaRef string) (string, error)
}

// Write sends m through the RPC matching its operation.
func Write(ctx context.Context, c Client, m models.Mutation) (models.Record, error) {
	switch m.Op {
	case models.OpCreate:
		return c.CreateEntry(ctx, m)
	case models.OpDelete:
		return c.DeleteEntry(ctx, m)
	default:
		return c.UpdateEntry(ctx, m)
	}
}
