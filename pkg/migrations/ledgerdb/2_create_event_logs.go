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
		log.Println("creating event_logs table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.EventLogDao{}); err != nil {
			return err
		}
		return mghelper.CreateIndexes(ctx, db, "event_logs", "block_number", "topic0")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping event_logs table...")
		return mghelper.DropTables(ctx, db, &dao.EventLogDao{})
	})
}
