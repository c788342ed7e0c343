package ledgerdb

import (
	"bytes"
	"context"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	migrations "github.com/chainsafe/token-ledger/pkg/migrations/ledgerdb"
	"github.com/chainsafe/token-ledger/pkg/pgutil"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	applyMigrations(t, db)
	return NewStore(db)
}

func applyMigrations(t *testing.T, db *bun.DB) {
	t.Helper()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator.Init() failed: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrator.Migrate() failed: %v", err)
	}
}

func testTransaction(hash byte) *Transaction {
	return &Transaction{
		TxHash:      bytes.Repeat([]byte{hash}, 32),
		FromAddress: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		ToAddress:   "0x1111111111111111111111111111111111111111",
		Nonce:       0,
		Input:       []byte{0xa9, 0x05, 0x9c, 0xbb},
		ValueWei:    "0",
		Status:      1,
		BlockNumber: 1,
		BlockHash:   bytes.Repeat([]byte{0xbb}, 32),
		TxIndex:     0,
		GasUsed:     60000,
	}
}

func TestSaveAndGetTransaction(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	tx := testTransaction(0x01)
	if err := store.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("SaveTransaction() failed: %v", err)
	}

	got, err := store.GetTransaction(ctx, tx.TxHash)
	if err != nil {
		t.Fatalf("GetTransaction() failed: %v", err)
	}
	if got == nil {
		t.Fatal("transaction not found")
	}
	if !bytes.Equal(got.TxHash, tx.TxHash) || got.FromAddress != tx.FromAddress {
		t.Errorf("got %+v, want %+v", got, tx)
	}
	if got.BlockNumber != 1 || got.Status != 1 || got.GasUsed != 60000 {
		t.Errorf("got block=%d status=%d gas=%d", got.BlockNumber, got.Status, got.GasUsed)
	}
}

func TestGetTransaction_Missing(t *testing.T) {
	store := setupStore(t)

	got, err := store.GetTransaction(context.Background(), bytes.Repeat([]byte{0xff}, 32))
	if err != nil {
		t.Fatalf("GetTransaction() failed: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for unknown hash", got)
	}
}

func TestSaveTransaction_DuplicateIgnored(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	tx := testTransaction(0x02)
	if err := store.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("SaveTransaction() failed: %v", err)
	}

	dup := testTransaction(0x02)
	dup.FromAddress = "0xcccccccccccccccccccccccccccccccccccccccc"
	if err := store.SaveTransaction(ctx, dup); err != nil {
		t.Fatalf("duplicate SaveTransaction() failed: %v", err)
	}

	got, err := store.GetTransaction(ctx, tx.TxHash)
	if err != nil {
		t.Fatalf("GetTransaction() failed: %v", err)
	}
	if got.FromAddress != tx.FromAddress {
		t.Errorf("duplicate insert overwrote the original row: from=%s", got.FromAddress)
	}
}

func TestTransactionCount(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	const from = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	n, err := store.TransactionCount(ctx, from)
	if err != nil || n != 0 {
		t.Fatalf("initial count = %d err = %v, want 0", n, err)
	}

	for i := byte(1); i <= 3; i++ {
		if err := store.SaveTransaction(ctx, testTransaction(i)); err != nil {
			t.Fatalf("SaveTransaction() failed: %v", err)
		}
	}
	other := testTransaction(0x09)
	other.FromAddress = "0xdddddddddddddddddddddddddddddddddddddddd"
	if err := store.SaveTransaction(ctx, other); err != nil {
		t.Fatalf("SaveTransaction() failed: %v", err)
	}

	n, err = store.TransactionCount(ctx, from)
	if err != nil || n != 3 {
		t.Fatalf("count = %d err = %v, want 3", n, err)
	}
}

func testLog(hash byte, index int, blockNumber int64, topic0 []byte) *EventLog {
	return &EventLog{
		TxHash:   bytes.Repeat([]byte{hash}, 32),
		LogIndex: index,
		Address:  bytes.Repeat([]byte{0x11}, 20),
		Topics: [][]byte{
			topic0,
			bytes.Repeat([]byte{0x02}, 32),
			bytes.Repeat([]byte{0x03}, 32),
		},
		Data:        bytes.Repeat([]byte{0x00}, 32),
		BlockNumber: blockNumber,
		BlockHash:   bytes.Repeat([]byte{0xbb}, 32),
		TxIndex:     0,
	}
}

func TestSaveAndGetLogs(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	topic := bytes.Repeat([]byte{0x01}, 32)

	// Insert out of order; reads come back ordered by log index
	for _, idx := range []int{2, 0, 1} {
		if err := store.SaveLog(ctx, testLog(0x05, idx, 1, topic)); err != nil {
			t.Fatalf("SaveLog() failed: %v", err)
		}
	}

	logs, err := store.GetLogsByTxHash(ctx, bytes.Repeat([]byte{0x05}, 32))
	if err != nil {
		t.Fatalf("GetLogsByTxHash() failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("got %d logs, want 3", len(logs))
	}
	for i, log := range logs {
		if log.LogIndex != i {
			t.Errorf("logs[%d].LogIndex = %d, want %d", i, log.LogIndex, i)
		}
		if len(log.Topics) != 3 {
			t.Errorf("logs[%d] has %d topics, want 3", i, len(log.Topics))
		}
	}
}

func TestGetLogs_Filters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	transferTopic := bytes.Repeat([]byte{0xaa}, 32)
	approvalTopic := bytes.Repeat([]byte{0xcc}, 32)

	if err := store.SaveLog(ctx, testLog(0x01, 0, 1, transferTopic)); err != nil {
		t.Fatalf("SaveLog() failed: %v", err)
	}
	if err := store.SaveLog(ctx, testLog(0x02, 0, 2, approvalTopic)); err != nil {
		t.Fatalf("SaveLog() failed: %v", err)
	}
	if err := store.SaveLog(ctx, testLog(0x03, 0, 3, transferTopic)); err != nil {
		t.Fatalf("SaveLog() failed: %v", err)
	}

	all, err := store.GetLogs(ctx, LogFilter{ToBlock: -1})
	if err != nil {
		t.Fatalf("GetLogs() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered got %d logs, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].BlockNumber < all[i-1].BlockNumber {
			t.Error("logs not ordered by block number")
		}
	}

	ranged, err := store.GetLogs(ctx, LogFilter{FromBlock: 2, ToBlock: 3})
	if err != nil {
		t.Fatalf("GetLogs() range failed: %v", err)
	}
	if len(ranged) != 2 {
		t.Errorf("range [2,3] got %d logs, want 2", len(ranged))
	}

	byTopic, err := store.GetLogs(ctx, LogFilter{ToBlock: -1, Topic0: transferTopic})
	if err != nil {
		t.Fatalf("GetLogs() topic failed: %v", err)
	}
	if len(byTopic) != 2 {
		t.Errorf("topic filter got %d logs, want 2", len(byTopic))
	}
	for _, log := range byTopic {
		if !bytes.Equal(log.Topics[0], transferTopic) {
			t.Error("topic filter returned a log with a different topic0")
		}
	}
}

func TestNextBlock_Monotonic(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	const chainID = uint64(31337)

	n, err := store.LatestBlockNumber(ctx)
	if err != nil || n != 0 {
		t.Fatalf("initial latest block = %d err = %v, want 0", n, err)
	}

	var prevHash []byte
	for want := uint64(1); want <= 5; want++ {
		num, hash, txIndex, err := store.NextBlock(ctx, chainID)
		if err != nil {
			t.Fatalf("NextBlock() failed: %v", err)
		}
		if num != want {
			t.Errorf("block number = %d, want %d", num, want)
		}
		if txIndex != 0 {
			t.Errorf("tx index = %d, want 0", txIndex)
		}
		if !bytes.Equal(hash, ComputeBlockHash(chainID, num)) {
			t.Errorf("block %d hash mismatch", num)
		}
		if bytes.Equal(hash, prevHash) {
			t.Errorf("block %d hash equals previous block hash", num)
		}
		prevHash = hash
	}

	n, err = store.LatestBlockNumber(ctx)
	if err != nil || n != 5 {
		t.Fatalf("latest block = %d err = %v, want 5", n, err)
	}
}

func TestComputeBlockHash_Deterministic(t *testing.T) {
	a := ComputeBlockHash(1, 7)
	b := ComputeBlockHash(1, 7)
	if !bytes.Equal(a, b) {
		t.Error("hash not deterministic")
	}
	if bytes.Equal(a, ComputeBlockHash(2, 7)) {
		t.Error("hash ignores chain id")
	}
	if bytes.Equal(a, ComputeBlockHash(1, 8)) {
		t.Error("hash ignores block number")
	}
	if len(a) != 32 {
		t.Errorf("hash length = %d, want 32", len(a))
	}
}
