package models

import (
	"time"

	dm "github.com/dmitrijs2005/couplesync/internal/models"
)

// PairingCode is a pairing_codes row. Only the keyed hash of the code is
// stored.
type PairingCode struct {
	CodeHash   string
	IssuerID   string
	Status     dm.PairingStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RedeemedBy string
	RedeemedAt time.Time
}
