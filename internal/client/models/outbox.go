// Package models defines client-side rows that never leave the device.
package models

import (
	"time"

	dm "github.com/dmitrijs2005/couplesync/internal/models"
)

// OutboxStatus is the state of a queued local mutation.
type OutboxStatus string

const (
	// OutboxPending entries are drained in seq order per entity.
	OutboxPending OutboxStatus = "pending"
	// OutboxConflict entries lost to a newer remote version. They stay as a
	// record of what was discarded until dismissed.
	OutboxConflict OutboxStatus = "conflict"
	// OutboxFailed entries exceeded the attempt limit and need the user.
	OutboxFailed OutboxStatus = "failed"
)

// OutboxEntry is a local mutation waiting for the backend.
//
// BaseVersion is the version the mutation was built on. It is rebased when an
// earlier mutation of the same entity is confirmed, so a chain of local edits
// reaches the server as a chain of versions.
type OutboxEntry struct {
	Seq           int64
	EntityType    dm.EntityType
	EntityID      string
	CoupleID      string
	AuthorID      string
	Op            dm.Operation
	Payload       []byte
	BaseVersion   int64
	MutationID    string
	Attempts      int
	LastAttemptAt time.Time
	NextAttemptAt time.Time
	Status        OutboxStatus
	LastError     string
	CreatedAt     time.Time
}

func (e OutboxEntry) Key() dm.Key { return dm.Key{Type: e.EntityType, ID: e.EntityID} }

// Mutation is the wire form of the entry.
func (e OutboxEntry) Mutation() dm.Mutation {
	return dm.Mutation{
		Op: e.Op,
		Record: dm.Record{
			Type:     e.EntityType,
			ID:       e.EntityID,
			CoupleID: e.CoupleID,
			AuthorID: e.AuthorID,
			Payload:  e.Payload,
		},
		ExpectedVersion: e.BaseVersion,
		MutationID:      e.MutationID,
	}
}

// Due reports whether the entry may be attempted at t.
func (e OutboxEntry) Due(t time.Time) bool {
	return e.Status == OutboxPending && !t.Before(e.NextAttemptAt)
}
