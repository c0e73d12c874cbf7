package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Key identifies a cached entity.
type Key struct {
	Type EntityType
	ID   string
}

func (k Key) String() string { return string(k.Type) + "/" + k.ID }

// Record is the versioned envelope every couple-scoped entity travels in.
//
// Version is assigned by the server from a per-couple counter, so it is
// strictly increasing across all writes of a couple and doubles as the
// change cursor. SyncStatus is meaningful only on the client.
type Record struct {
	Type       EntityType      `json:"type"`
	ID         string          `json:"id"`
	CoupleID   string          `json:"couple_id"`
	AuthorID   string          `json:"author_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Version    int64           `json:"version"`
	ServerTime time.Time       `json:"server_time"`
	Deleted    bool            `json:"deleted"`
	SyncStatus SyncStatus      `json:"sync_status,omitempty"`
}

func (r Record) Key() Key { return Key{Type: r.Type, ID: r.ID} }

// Newer reports whether r should replace current. Versions are compared first;
// server time breaks ties between records that were never versioned.
func (r Record) Newer(current Record) bool {
	if r.Version != current.Version {
		return r.Version > current.Version
	}
	return r.ServerTime.After(current.ServerTime)
}

// ChangeEvent is emitted on the realtime channel of a couple for every
// committed write.
type ChangeEvent struct {
	EntityType      EntityType `json:"entity_type"`
	Operation       Operation  `json:"operation"`
	Record          Record     `json:"record"`
	ServerTimestamp time.Time  `json:"server_timestamp"`
	Cursor          int64      `json:"cursor"`
}

// Mutation is a client write. ExpectedVersion is the version the client last
// saw (0 for a create); MutationID makes retries idempotent.
type Mutation struct {
	Op              Operation `json:"op"`
	Record          Record    `json:"record"`
	ExpectedVersion int64     `json:"expected_version"`
	MutationID      string    `json:"mutation_id"`
}

// NewRecord serializes v as the payload of a fresh, unversioned record.
func NewRecord(t EntityType, id, coupleID, authorID string, v any) (Record, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Type:     t,
		ID:       id,
		CoupleID: coupleID,
		AuthorID: authorID,
		Payload:  payload,
	}, nil
}

func decode[T any](r Record, want EntityType) (T, error) {
	var v T
	if r.Type != want {
		return v, fmt.Errorf("record %s is not a %s", r.Key(), want)
	}
	if len(r.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(r.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", r.Key(), err)
	}
	return v, nil
}

func DecodeJournalEntry(r Record) (JournalEntry, error) {
	e, err := decode[JournalEntry](r, EntityJournalEntry)
	if err != nil {
		return e, err
	}
	e.ID, e.CoupleID, e.AuthorID = r.ID, r.CoupleID, r.AuthorID
	e.Version, e.SyncStatus = r.Version, r.SyncStatus
	return e, nil
}

func DecodeMemory(r Record) (Memory, error) {
	m, err := decode[Memory](r, EntityMemory)
	if err != nil {
		return m, err
	}
	m.ID, m.CoupleID, m.AuthorID = r.ID, r.CoupleID, r.AuthorID
	m.Version, m.SyncStatus = r.Version, r.SyncStatus
	return m, nil
}

// DecodeLovePing maps a deleted ping record to Consumed.
func DecodeLovePing(r Record) (LovePing, error) {
	p, err := decode[LovePing](r, EntityLovePing)
	if err != nil {
		return p, err
	}
	p.ID, p.CoupleID, p.SenderID = r.ID, r.CoupleID, r.AuthorID
	p.Version, p.Consumed = r.Version, r.Deleted
	return p, nil
}

// CoupleRecord wraps a couple as the record carried by couple change events.
func CoupleRecord(c Couple, version int64, at time.Time) (Record, error) {
	rec, err := NewRecord(EntityCouple, c.ID, c.ID, "", c)
	if err != nil {
		return Record{}, err
	}
	rec.Version = version
	rec.ServerTime = at
	rec.Deleted = c.Status == CoupleDissolved
	return rec, nil
}

func DecodeCouple(r Record) (Couple, error) {
	return decode[Couple](r, EntityCouple)
}
