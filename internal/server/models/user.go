// Package models defines server-side rows that never leave the backend as is.
package models

import (
	"time"

	dm "github.com/dmitrijs2005/couplesync/internal/models"
)

// User is an account row. Salt and Verifier back the password-less login:
// the client proves knowledge of the password by presenting the verifier
// derived from it.
type User struct {
	ID          string
	UserName    string
	DisplayName string
	AvatarRef   string
	Salt        []byte
	Verifier    []byte
	CreatedAt   time.Time
}

// Public strips credentials.
func (u *User) Public() dm.User {
	return dm.User{ID: u.ID, Username: u.UserName, DisplayName: u.DisplayName, AvatarRef: u.AvatarRef}
}
