// Package ledgerdb holds all the migrations for the ledger projection database
package ledgerdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the projection database
var Migrations = migrate.NewMigrations()
