// Package records is the local cache of couple-scoped entities.
//
// # Data Model
//
// One row per (entity_type, id) holds the last known models.Record: its JSON
// payload, the server version, a soft-delete flag and the client sync status.
// Times are stored as Unix nanoseconds; zero means "never set".
//
// The repository works over dbx.DBTX, so the store can run it inside the same
// transaction as the outbox.
//
// Typical Usage
//
//	repo := records.NewSQLiteRepository(db)
//	_ = repo.Upsert(ctx, rec, time.Now())
//	rec, _ := repo.Get(ctx, key)
//	list, _ := repo.ListByCouple(ctx, coupleID, models.EntityJournalEntry, false)
package records
