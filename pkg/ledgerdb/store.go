package ledgerdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/uptrace/bun"

	"github.com/chainsafe/token-ledger/pkg/ledgerdb/dao"
)

const latestBlockKey = "latest_block_number"

// Transaction is a recorded ledger request projected as a synthetic
// EVM transaction so wallet tooling can inspect it.
type Transaction struct {
	TxHash       []byte
	FromAddress  string
	ToAddress    string
	Nonce        int64
	Input        []byte
	ValueWei     string
	Status       int16
	BlockNumber  int64
	BlockHash    []byte
	TxIndex      int
	GasUsed      int64
	ErrorMessage string
}

// EventLog is a Transfer or Approval event projected as an EVM log
type EventLog struct {
	TxHash      []byte
	LogIndex    int
	Address     []byte
	Topics      [][]byte
	Data        []byte
	BlockNumber int64
	BlockHash   []byte
	TxIndex     int
	Removed     bool
}

// LogFilter narrows GetLogs results. Zero values mean "no constraint"
// except ToBlock, where a negative value means unbounded.
type LogFilter struct {
	FromBlock int64
	ToBlock   int64
	Address   []byte
	Topic0    []byte
}

// Store provides database operations for the ledger projection
type Store struct {
	db *bun.DB
}

// NewStore creates a new projection store on an existing connection
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// SaveTransaction stores a synthetic transaction, ignoring duplicates
func (s *Store) SaveTransaction(ctx context.Context, tx *Transaction) error {
	row := &dao.TransactionDao{
		TxHash:      tx.TxHash,
		FromAddress: tx.FromAddress,
		ToAddress:   tx.ToAddress,
		Nonce:       tx.Nonce,
		Input:       tx.Input,
		ValueWei:    tx.ValueWei,
		Status:      tx.Status,
		BlockNumber: tx.BlockNumber,
		BlockHash:   tx.BlockHash,
		TxIndex:     tx.TxIndex,
		GasUsed:     tx.GasUsed,
	}
	if tx.ErrorMessage != "" {
		row.ErrorMessage = &tx.ErrorMessage
	}

	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (tx_hash) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by hash. Returns (nil, nil)
// when the hash is unknown.
func (s *Store) GetTransaction(ctx context.Context, txHash []byte) (*Transaction, error) {
	row := new(dao.TransactionDao)
	err := s.db.NewSelect().
		Model(row).
		Where("tx_hash = ?", txHash).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return fromTransactionDao(row), nil
}

// TransactionCount returns the number of transactions sent by an address
func (s *Store) TransactionCount(ctx context.Context, fromAddress string) (uint64, error) {
	count, err := s.db.NewSelect().
		Model((*dao.TransactionDao)(nil)).
		Where("from_address = ?", fromAddress).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return uint64(count), nil
}

// SaveLog stores one projected event log, ignoring duplicates
func (s *Store) SaveLog(ctx context.Context, log *EventLog) error {
	row := toEventLogDao(log)
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (tx_hash, log_index) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save event log: %w", err)
	}
	return nil
}

// GetLogsByTxHash returns all logs emitted by one transaction, in log order
func (s *Store) GetLogsByTxHash(ctx context.Context, txHash []byte) ([]*EventLog, error) {
	var rows []dao.EventLogDao
	err := s.db.NewSelect().
		Model(&rows).
		Where("tx_hash = ?", txHash).
		Order("log_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	logs := make([]*EventLog, 0, len(rows))
	for i := range rows {
		logs = append(logs, fromEventLogDao(&rows[i]))
	}
	return logs, nil
}

// GetLogs returns logs matching the filter, ordered by block then log index
func (s *Store) GetLogs(ctx context.Context, filter LogFilter) ([]*EventLog, error) {
	var rows []dao.EventLogDao
	query := s.db.NewSelect().
		Model(&rows).
		Where("block_number >= ?", filter.FromBlock)

	if filter.ToBlock >= 0 {
		query = query.Where("block_number <= ?", filter.ToBlock)
	}
	if len(filter.Address) > 0 {
		query = query.Where("address = ?", filter.Address)
	}
	if len(filter.Topic0) > 0 {
		query = query.Where("topic0 = ?", filter.Topic0)
	}

	err := query.
		Order("block_number ASC").
		Order("log_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	logs := make([]*EventLog, 0, len(rows))
	for i := range rows {
		logs = append(logs, fromEventLogDao(&rows[i]))
	}
	return logs, nil
}

// LatestBlockNumber returns the highest allocated block number, 0 if none
func (s *Store) LatestBlockNumber(ctx context.Context) (uint64, error) {
	row := new(dao.ChainMetaDao)
	err := s.db.NewSelect().
		Model(row).
		Where("key = ?", latestBlockKey).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}

	n, err := strconv.ParseUint(row.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block number: %w", err)
	}
	return n, nil
}

// NextBlock allocates the next block number and returns block metadata.
// Each recorded request gets its own single-transaction block.
// Returns: blockNumber, blockHash, txIndex
func (s *Store) NextBlock(ctx context.Context, chainID uint64) (uint64, []byte, int, error) {
	var nextBlock uint64

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := new(dao.ChainMetaDao)
		err := tx.NewSelect().
			Model(row).
			Where("key = ?", latestBlockKey).
			For("UPDATE").
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to get current block number: %w", err)
		}

		current, _ := strconv.ParseUint(row.Value, 10, 64)
		nextBlock = current + 1

		_, err = tx.NewInsert().
			Model(&dao.ChainMetaDao{Key: latestBlockKey, Value: strconv.FormatUint(nextBlock, 10)}).
			On("CONFLICT (key) DO UPDATE").
			Set("value = EXCLUDED.value").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update block number: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, nil, 0, err
	}

	return nextBlock, ComputeBlockHash(chainID, nextBlock), 0, nil
}

// ComputeBlockHash generates a deterministic block hash from chainID and block number
func ComputeBlockHash(chainID, blockNumber uint64) []byte {
	data := make([]byte, 16)
	binary.BigEndian.PutUint64(data[0:8], chainID)
	binary.BigEndian.PutUint64(data[8:16], blockNumber)
	hash := sha256.Sum256(data)
	return hash[:]
}

func fromTransactionDao(row *dao.TransactionDao) *Transaction {
	tx := &Transaction{
		TxHash:      row.TxHash,
		FromAddress: row.FromAddress,
		ToAddress:   row.ToAddress,
		Nonce:       row.Nonce,
		Input:       row.Input,
		ValueWei:    row.ValueWei,
		Status:      row.Status,
		BlockNumber: row.BlockNumber,
		BlockHash:   row.BlockHash,
		TxIndex:     row.TxIndex,
		GasUsed:     row.GasUsed,
	}
	if row.ErrorMessage != nil {
		tx.ErrorMessage = *row.ErrorMessage
	}
	return tx
}

func toEventLogDao(log *EventLog) *dao.EventLogDao {
	row := &dao.EventLogDao{
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     log.Address,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxIndex:     log.TxIndex,
		Removed:     log.Removed,
	}
	topics := []**[]byte{&row.Topic0, &row.Topic1, &row.Topic2, &row.Topic3}
	for i, t := range log.Topics {
		if i >= len(topics) {
			break
		}
		topic := t
		*topics[i] = &topic
	}
	if len(log.Data) > 0 {
		data := log.Data
		row.Data = &data
	}
	return row
}

func fromEventLogDao(row *dao.EventLogDao) *EventLog {
	log := &EventLog{
		TxHash:      row.TxHash,
		LogIndex:    row.LogIndex,
		Address:     row.Address,
		BlockNumber: row.BlockNumber,
		BlockHash:   row.BlockHash,
		TxIndex:     row.TxIndex,
		Removed:     row.Removed,
	}
	for _, t := range []*[]byte{row.Topic0, row.Topic1, row.Topic2, row.Topic3} {
		if t == nil {
			break
		}
		log.Topics = append(log.Topics, *t)
	}
	if row.Data != nil {
		log.Data = *row.Data
	}
	return log
}
