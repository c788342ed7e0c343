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
		log.Println("creating chain_meta table...")
		return mghelper.CreateSchema(ctx, db, &dao.ChainMetaDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping chain_meta table...")
		return mghelper.DropTables(ctx, db, &dao.ChainMetaDao{})
	})
}
