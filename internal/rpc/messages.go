package rpc

import (
	"time"

	"github.com/dmitrijs2005/couplesync/internal/models"
)

type PingRequest struct{}

type PingResponse struct {
	ServerTime time.Time `json:"server_time"`
}

type RegisterUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Salt        []byte `json:"salt"`
	Verifier    []byte `json:"verifier"`
}

type RegisterUserResponse struct {
	UserID string `json:"user_id"`
}

type GetSaltRequest struct {
	Username string `json:"username"`
}

type GetSaltResponse struct {
	Salt []byte `json:"salt"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Verifier []byte `json:"verifier"`
}

type LoginResponse struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// GetProfileRequest returns the caller's profile when UserID is empty,
// otherwise the profile of the caller's partner.
type GetProfileRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type GetProfileResponse struct {
	User models.User `json:"user"`
}

type IssuePairingCodeRequest struct{}

type IssuePairingCodeResponse struct {
	Code models.PairingCode `json:"code"`
}

type RedeemPairingCodeRequest struct {
	Code string `json:"code"`
}

type RedeemPairingCodeResponse struct {
	Couple models.Couple `json:"couple"`
}

type DissolveCoupleRequest struct {
	CoupleID string `json:"couple_id"`
}

type DissolveCoupleResponse struct {
	Couple models.Couple `json:"couple"`
}

type GetCoupleRequest struct{}

// GetCoupleResponse carries the caller's active couple, or nil when unpaired.
type GetCoupleResponse struct {
	Couple *models.Couple `json:"couple,omitempty"`
}

// WriteRecordRequest is shared by CreateRecord, UpdateRecord and DeleteRecord.
type WriteRecordRequest struct {
	Mutation models.Mutation `json:"mutation"`
}

type WriteRecordResponse struct {
	Record models.Record `json:"record"`
}

type GetRecordRequest struct {
	CoupleID string            `json:"couple_id"`
	Type     models.EntityType `json:"type"`
	ID       string            `json:"id"`
}

type GetRecordResponse struct {
	Record models.Record `json:"record"`
}

type FetchSinceRequest struct {
	CoupleID string `json:"couple_id"`
	Cursor   int64  `json:"cursor"`
	Limit    int    `json:"limit,omitempty"`
}

// FetchSinceResponse lists changes ordered by cursor. More is set when the
// page was truncated by Limit.
type FetchSinceResponse struct {
	Events []models.ChangeEvent `json:"events"`
	Cursor int64                `json:"cursor"`
	More   bool                 `json:"more"`
}

type SubscribeRequest struct {
	CoupleID string `json:"couple_id"`
	Since    int64  `json:"since"`
}

type MediaUploadURLRequest struct {
	CoupleID    string `json:"couple_id"`
	MemoryID    string `json:"memory_id"`
	ContentType string `json:"content_type,omitempty"`
}

type MediaUploadURLResponse struct {
	URL       string    `json:"url"`
	MediaRef  string    `json:"media_ref"`
	ExpiresAt time.Time `json:"expires_at"`
}

type MediaDownloadURLRequest struct {
	CoupleID string `json:"couple_id"`
	MediaRef string `json:"media_ref"`
}

type MediaDownloadURLResponse struct {
	URL string `json:"url"`
}
