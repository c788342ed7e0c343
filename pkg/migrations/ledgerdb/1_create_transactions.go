package ledgerdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/chainsafe/token-ledger/pkg/ledgerdb/dao"
	mghelper "github.com/chainsafe/token-ledger/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating transactions table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.TransactionDao{}); err != nil {
			return err
		}
		return mghelper.CreateIndexes(ctx, db, "transactions", "from_address", "to_address", "block_number")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping transactions table...")
		return mghelper.DropTables(ctx, db, &dao.TransactionDao{})
	})
}
