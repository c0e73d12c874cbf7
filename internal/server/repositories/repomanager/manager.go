package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/couplesync/internal/dbx"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/couples"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/pairingcodes"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/records"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to a DBTX, so a service can
// run several of them inside one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Couples(db dbx.DBTX) couples.Repository
	PairingCodes(db dbx.DBTX) pairingcodes.Repository
	Records(db dbx.DBTX) records.Repository
}
