// Package session holds who is logged in on this device and which couple
// they belong to. It is passed to the engine explicitly and persisted in the
// metadata table so it survives restarts.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/couplesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/couplesync/internal/models"
)

const (
	sessionKey = "session"
	userPrefix = "user:"
)

type state struct {
	UserID   string         `json:"user_id"`
	Username string         `json:"username"`
	Couple   *models.Couple `json:"couple,omitempty"`
}

// Session is safe for concurrent use.
type Session struct {
	mu   sync.RWMutex
	meta metadata.Repository
	st   state
}

// Load restores the session saved in meta, or returns an empty one.
func Load(ctx context.Context, meta metadata.Repository) (*Session, error) {
	s := &Session{meta: meta}
	raw, err := meta.Get(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.st); err != nil {
		// An unreadable session only costs a new login.
		s.st = state{}
	}
	return s, nil
}

func (s *Session) save(ctx context.Context, st state) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.meta.Set(ctx, sessionKey, raw); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.st = st
	return nil
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.UserID
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Username
}

// SetUser starts a session for a user. Switching to another user forgets
// the couple of the previous one.
func (s *Session) SetUser(ctx context.Context, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	if st.UserID != userID {
		st.Couple = nil
	}
	st.UserID, st.Username = userID, username
	return s.save(ctx, st)
}

// Couple returns the active couple of the user.
func (s *Session) Couple() (models.Couple, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st.Couple == nil || !s.st.Couple.IsActive() {
		return models.Couple{}, false
	}
	return *s.st.Couple, true
}

// CoupleID is "" while unpaired.
func (s *Session) CoupleID() string {
	c, ok := s.Couple()
	if !ok {
		return ""
	}
	return c.ID
}

// PartnerID is "" while unpaired.
func (s *Session) PartnerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st.Couple == nil {
		return ""
	}
	return s.st.Couple.Partner(s.st.UserID)
}

// SetCouple records c as the current couple. A couple that is not active or
// does not include the user clears it instead.
func (s *Session) SetCouple(ctx context.Context, c *models.Couple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	if c != nil && c.IsActive() && c.HasMember(st.UserID) {
		cp := *c
		st.Couple = &cp
	} else {
		st.Couple = nil
	}
	return s.save(ctx, st)
}

// Clear ends the session.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.meta.Delete(ctx, sessionKey); err != nil {
		return err
	}
	s.st = state{}
	return nil
}

// CacheUser keeps a read-only copy of a profile for offline display.
func (s *Session) CacheUser(ctx context.Context, u models.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.meta.Set(ctx, userPrefix+u.ID, raw)
}

// CachedUser returns a profile stored by CacheUser, or false.
func (s *Session) CachedUser(ctx context.Context, id string) (models.User, bool, error) {
	raw, err := s.meta.Get(ctx, userPrefix+id)
	if err != nil || raw == nil {
		return models.User{}, false, err
	}
	var u models.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return models.User{}, false, nil
	}
	return u, true, nil
}
