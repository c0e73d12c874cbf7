// Package models defines the couple-scoped domain types shared by the client
// and the server, and the versioned Record envelope they travel in.
package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
)

// EntityType names a synchronized collection.
type EntityType string

const (
	EntityJournalEntry EntityType = "journal_entry"
	EntityMemory       EntityType = "memory"
	EntityLovePing     EntityType = "love_ping"
	EntityCouple       EntityType = "couple"
)

// RecordTypes are the entity types stored as versioned records.
var RecordTypes = []EntityType{EntityJournalEntry, EntityMemory, EntityLovePing}

// IsRecordType reports whether t is stored as a versioned record.
func (t EntityType) IsRecordType() bool {
	return slices.Contains(RecordTypes, t)
}

// Operation is the kind of change carried by a mutation or a change event.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// SyncStatus is the client-side state of a cached record.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
)

type Mood string

const (
	MoodJoyful  Mood = "joyful"
	MoodLoved   Mood = "loved"
	MoodContent Mood = "content"
	MoodNeutral Mood = "neutral"
	MoodTired   Mood = "tired"
	MoodSad     Mood = "sad"
	MoodAnxious Mood = "anxious"
	MoodAngry   Mood = "angry"
)

// Moods lists every accepted mood in display order.
var Moods = []Mood{MoodJoyful, MoodLoved, MoodContent, MoodNeutral, MoodTired, MoodSad, MoodAnxious, MoodAngry}

func ParseMood(s string) (Mood, error) {
	m := Mood(s)
	if slices.Contains(Moods, m) {
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown mood %q", common.ErrValidation, s)
}

type CoupleStatus string

const (
	CouplePending   CoupleStatus = "pending"
	CoupleActive    CoupleStatus = "active"
	CoupleDissolved CoupleStatus = "dissolved"
)

type PairingStatus string

const (
	PairingOpen     PairingStatus = "open"
	PairingRedeemed PairingStatus = "redeemed"
	PairingExpired  PairingStatus = "expired"
)

// User is the public profile of an account. The client caches it read-only.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// Couple links exactly two users. Members are unordered; a viewing device
// tags them as self and partner with Partner.
type Couple struct {
	ID       string       `json:"id"`
	Members  [2]string    `json:"members"`
	PairedAt time.Time    `json:"paired_at"`
	Status   CoupleStatus `json:"status"`
}

func (c Couple) HasMember(userID string) bool {
	return userID != "" && (c.Members[0] == userID || c.Members[1] == userID)
}

// Partner returns the member that is not self, or "" when self is not a member.
func (c Couple) Partner(self string) string {
	switch self {
	case "":
		return ""
	case c.Members[0]:
		return c.Members[1]
	case c.Members[1]:
		return c.Members[0]
	}
	return ""
}

func (c Couple) IsActive() bool { return c.Status == CoupleActive }

// PairingCode is a single-use token exchanged out of band to form a Couple.
type PairingCode struct {
	Code      string        `json:"code"`
	IssuerID  string        `json:"issuer_id"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Status    PairingStatus `json:"status"`
}

// JournalEntry is a mood log written by one partner.
// ID, CoupleID, AuthorID, Version and SyncStatus come from the Record envelope.
type JournalEntry struct {
	ID         string     `json:"-"`
	CoupleID   string     `json:"-"`
	AuthorID   string     `json:"-"`
	Mood       Mood       `json:"mood" validate:"required,oneof=joyful loved content neutral tired sad anxious angry"`
	Tags       []string   `json:"tags,omitempty" validate:"max=16,dive,required,max=32"`
	Body       string     `json:"body" validate:"max=10000"`
	CreatedAt  time.Time  `json:"created_at" validate:"required"`
	Version    int64      `json:"-"`
	SyncStatus SyncStatus `json:"-"`
}

// Memory is a shared photo or note. Clients never edit it, only delete it.
type Memory struct {
	ID         string     `json:"-"`
	CoupleID   string     `json:"-"`
	AuthorID   string     `json:"-"`
	MediaRef   string     `json:"media_ref" validate:"required,max=1024"`
	Caption    string     `json:"caption,omitempty" validate:"max=1000"`
	CreatedAt  time.Time  `json:"created_at" validate:"required"`
	Version    int64      `json:"-"`
	SyncStatus SyncStatus `json:"-"`
}

// LovePing is an ephemeral nudge. The recipient acknowledges it by deleting it.
type LovePing struct {
	ID        string    `json:"-"`
	CoupleID  string    `json:"-"`
	SenderID  string    `json:"-"`
	Note      string    `json:"note,omitempty" validate:"max=140"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
	Consumed  bool      `json:"-"`
	Version   int64     `json:"-"`
}
