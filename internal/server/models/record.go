package models

import dm "github.com/dmitrijs2005/couplesync/internal/models"

// StoredRecord is a record row together with the bookkeeping used to make
// client retries idempotent.
type StoredRecord struct {
	dm.Record
	LastOp         dm.Operation
	LastMutationID string
}
