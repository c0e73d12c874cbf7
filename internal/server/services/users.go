package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/cryptox"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/dmitrijs2005/couplesync/internal/server/auth"
	"github.com/dmitrijs2005/couplesync/internal/server/config"
	"github.com/dmitrijs2005/couplesync/internal/server/models"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/repomanager"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	UserID       string
	AccessToken  string
	RefreshToken string
}

// UserService provides account operations:
//   - Register: create users
//   - Login: verify the password verifier and mint tokens
//   - RefreshToken: rotate refresh tokens and mint new access tokens
//   - Profile: the caller's or the partner's public profile
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
	}
}

// RefreshToken consumes a refresh token and returns a fresh pair. The old
// token is deleted in the same transaction as the new one is stored, so a
// token can be used once.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.ExpiredAt(now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	return dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*TokenPair, error) {
		if err := s.repomanager.RefreshTokens(tx).Consume(ctx, refreshToken); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.ErrUnauthorized
			}
			return nil, fmt.Errorf("error deleting refresh token: %w", err)
		}
		pair, err := s.generateTokenPair(ctx, token.UserID, tx)
		if err != nil {
			return nil, fmt.Errorf("error generating token pair: %w", err)
		}
		return pair, nil
	})
}

// Register creates a user. A taken username yields common.ErrAlreadyExists.
func (s *UserService) Register(ctx context.Context, u *models.User) (*models.User, error) {
	if u.UserName == "" || len(u.Salt) == 0 || len(u.Verifier) == 0 {
		return nil, fmt.Errorf("%w: username, salt and verifier are required", common.ErrValidation)
	}
	if u.DisplayName == "" {
		u.DisplayName = u.UserName
	}

	created, err := s.repomanager.Users(s.db).Create(ctx, u)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return created, nil
}

// GetSalt returns the user's stored salt, or a random one when the user does
// not exist so that probing does not reveal which usernames are taken.
func (s *UserService) GetSalt(ctx context.Context, userName string) ([]byte, error) {
	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return s.getRandomSalt(), nil
		}
		return nil, common.ErrInternal
	}
	return user.Salt, nil
}

// Login checks verifierCandidate against the stored verifier and returns a
// new TokenPair.
func (s *UserService) Login(ctx context.Context, userName string, verifierCandidate []byte) (*TokenPair, error) {
	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, common.ErrInternal
	}
	if !cryptox.VerifiersEqual(user.Verifier, verifierCandidate) {
		return nil, common.ErrUnauthorized
	}
	return s.generateTokenPair(ctx, user.ID, s.db)
}

// Profile returns the caller's profile, or the profile of targetID when it
// is the caller's current partner. Anyone else is common.ErrNotAuthorized.
func (s *UserService) Profile(ctx context.Context, callerID, targetID string) (dm.User, error) {
	if targetID != "" && targetID != callerID {
		c, err := s.repomanager.Couples(s.db).ActiveFor(ctx, callerID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return dm.User{}, common.ErrNotAuthorized
			}
			return dm.User{}, fmt.Errorf("couple lookup: %w", err)
		}
		if !c.HasMember(targetID) {
			return dm.User{}, common.ErrNotAuthorized
		}
	} else {
		targetID = callerID
	}

	u, err := s.repomanager.Users(s.db).GetByID(ctx, targetID)
	if err != nil {
		return dm.User{}, err
	}
	return u.Public(), nil
}

func (s *UserService) getRandomSalt() []byte { return common.GenerateRandByteArray(32) }

func (s *UserService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	access, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrInternal
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrInternal
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, userID, refresh, now().Add(s.refreshTokenValidityDuration)); err != nil {
		return nil, common.ErrInternal
	}
	return &TokenPair{UserID: userID, AccessToken: access, RefreshToken: refresh}, nil
}
