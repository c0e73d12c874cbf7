package models

import "time"

// RefreshToken is an opaque, single-use token that is rotated on every
// refresh.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}

func (t *RefreshToken) ExpiredAt(now time.Time) bool {
	return !t.Expires.After(now)
}
