package ethrpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/chainsafe/token-ledger/pkg/auth"
	"github.com/chainsafe/token-ledger/pkg/ledgerdb"
)

var (
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	approvalTopic = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
)

// EthAPI implements the eth_* JSON-RPC namespace
type EthAPI struct {
	server *Server
}

// NewEthAPI creates a new EthAPI instance
func NewEthAPI(server *Server) *EthAPI {
	return &EthAPI{server: server}
}

// ChainId returns the chain ID (EIP-155)
func (api *EthAPI) ChainId() hexutil.Uint64 {
	return hexutil.Uint64(api.server.cfg.ChainID)
}

// BlockNumber returns the latest block number. Block numbers advance
// with time so wallets see confirmations accumulate even when no
// requests are being recorded.
func (api *EthAPI) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	n, err := api.server.store.LatestBlockNumber(ctx)
	if err != nil {
		api.server.logger.Error("Failed to get block number", zap.Error(err))
		return 0, err
	}

	timeBasedBlocks := uint64(time.Since(api.server.startTime).Seconds())
	baseBlock := n + 12
	if timeBasedBlocks > baseBlock {
		return hexutil.Uint64(timeBasedBlocks), nil
	}
	return hexutil.Uint64(baseBlock), nil
}

// GasPrice returns the current gas price
func (api *EthAPI) GasPrice() (*hexutil.Big, error) {
	gasPrice := new(big.Int)
	gasPrice.SetString(api.server.cfg.GasPriceWei, 10)
	return (*hexutil.Big)(gasPrice), nil
}

// MaxPriorityFeePerGas returns the suggested priority fee (EIP-1559)
func (api *EthAPI) MaxPriorityFeePerGas() (*hexutil.Big, error) {
	return (*hexutil.Big)(big.NewInt(1000000000)), nil
}

// EstimateGas estimates gas for a transaction
func (api *EthAPI) EstimateGas(ctx context.Context, args CallArgs, blockNrOrHash *BlockNumberOrHash) (hexutil.Uint64, error) {
	return hexutil.Uint64(api.server.cfg.GasLimit), nil
}

// GetBalance returns a synthetic native balance so wallets allow
// submitting transactions. No native asset exists on this chain.
func (api *EthAPI) GetBalance(ctx context.Context, address common.Address, blockNrOrHash BlockNumberOrHash) (*hexutil.Big, error) {
	bal := new(big.Int)
	bal.SetString(api.server.cfg.NativeBalanceWei, 10)
	return (*hexutil.Big)(bal), nil
}

// GetTransactionCount returns the nonce for an address
func (api *EthAPI) GetTransactionCount(ctx context.Context, address common.Address, blockNrOrHash BlockNumberOrHash) (hexutil.Uint64, error) {
	count, err := api.server.store.TransactionCount(ctx, auth.NormalizeAddress(address.Hex()))
	if err != nil {
		api.server.logger.Warn("Failed to get transaction count", zap.Error(err))
		return 0, nil
	}
	return hexutil.Uint64(count), nil
}

// GetCode returns fake bytecode for the token address so wallets trust
// it as a contract
func (api *EthAPI) GetCode(ctx context.Context, address common.Address, blockNrOrHash BlockNumberOrHash) (hexutil.Bytes, error) {
	if address == api.server.tokenAddress {
		return hexutil.Bytes{0x60, 0x80}, nil
	}
	return hexutil.Bytes{}, nil
}

// Syncing returns false (always synced)
func (api *EthAPI) Syncing() (interface{}, error) {
	return false, nil
}

// SendRawTransaction submits a signed transaction. The recovered signer
// is the caller identity, so transfer, approve, and transferFrom are
// authorized by the transaction signature itself.
func (api *EthAPI) SendRawTransaction(ctx context.Context, data hexutil.Bytes) (common.Hash, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(data); err != nil {
		api.server.logger.Warn("Failed to decode transaction", zap.Error(err))
		return common.Hash{}, fmt.Errorf("invalid transaction: %w", err)
	}

	signer := types.LatestSignerForChainID(api.server.chainID)
	from, err := types.Sender(signer, &tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid sender: %w", err)
	}

	if tx.To() == nil || *tx.To() != api.server.tokenAddress {
		return common.Hash{}, fmt.Errorf("unsupported contract: only the token contract accepts transactions")
	}
	if tx.Value().Sign() != 0 {
		return common.Hash{}, fmt.Errorf("native transfers not supported")
	}

	input := tx.Data()
	if len(input) < 4 {
		return common.Hash{}, fmt.Errorf("missing function selector")
	}

	method, err := api.server.erc20ABI.MethodById(input[:4])
	if err != nil {
		return common.Hash{}, fmt.Errorf("unknown method")
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, input[4:]); err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode %s args: %w", method.Name, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, api.server.cfg.RequestTimeout)
	defer cancel()

	var logs []*ledgerdb.EventLog
	switch method.Name {
	case "transfer":
		logs, err = api.execTransfer(timeoutCtx, from, args)
	case "approve":
		logs, err = api.execApprove(timeoutCtx, from, args)
	case "transferFrom":
		logs, err = api.execTransferFrom(timeoutCtx, from, args)
	default:
		return common.Hash{}, fmt.Errorf("unsupported method: %s", method.Name)
	}
	if err != nil {
		api.server.logger.Error("Transaction rejected",
			zap.String("method", method.Name),
			zap.String("from", from.Hex()),
			zap.Error(err))
		return common.Hash{}, fmt.Errorf("%s failed: %w", method.Name, err)
	}

	txHash := tx.Hash()
	api.record(ctx, &tx, txHash, from, input, logs)

	api.server.logger.Info("Transaction submitted",
		zap.String("method", method.Name),
		zap.String("hash", txHash.Hex()),
		zap.String("from", from.Hex()))

	return txHash, nil
}

func (api *EthAPI) execTransfer(ctx context.Context, from common.Address, args map[string]interface{}) ([]*ledgerdb.EventLog, error) {
	to, value, err := unpackAddressValue(args, "to")
	if err != nil {
		return nil, err
	}
	if _, err := api.server.dispatcher.Transfer(ctx, from, to, value); err != nil {
		return nil, err
	}
	return []*ledgerdb.EventLog{transferLog(0, api.server.tokenAddress, from, to, value)}, nil
}

func (api *EthAPI) execApprove(ctx context.Context, from common.Address, args map[string]interface{}) ([]*ledgerdb.EventLog, error) {
	spender, value, err := unpackAddressValue(args, "spender")
	if err != nil {
		return nil, err
	}
	if _, err := api.server.dispatcher.Approve(ctx, from, spender, value); err != nil {
		return nil, err
	}
	return []*ledgerdb.EventLog{approvalLog(0, api.server.tokenAddress, from, spender, value)}, nil
}

func (api *EthAPI) execTransferFrom(ctx context.Context, sender common.Address, args map[string]interface{}) ([]*ledgerdb.EventLog, error) {
	from, ok := args["from"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("invalid 'from' address")
	}
	to, value, err := unpackAddressValue(args, "to")
	if err != nil {
		return nil, err
	}
	if _, err := api.server.dispatcher.TransferFrom(ctx, sender, from, to, value); err != nil {
		return nil, err
	}

	remaining := api.server.dispatcher.Ledger().Allowance(from, sender)
	return []*ledgerdb.EventLog{
		transferLog(0, api.server.tokenAddress, from, to, value),
		approvalLog(1, api.server.tokenAddress, from, sender, remaining),
	}, nil
}

func unpackAddressValue(args map[string]interface{}, addrKey string) (common.Address, *uint256.Int, error) {
	addr, ok := args[addrKey].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("invalid '%s' address", addrKey)
	}
	raw, ok := args["value"].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("invalid 'value'")
	}
	value, overflow := uint256.FromBig(raw)
	if overflow {
		return common.Address{}, nil, fmt.Errorf("value exceeds uint256")
	}
	return addr, value, nil
}

// record projects the executed request as a synthetic transaction and
// its event logs. Projection failures are logged, never surfaced: the
// ledger has already applied the request.
func (api *EthAPI) record(ctx context.Context, tx *types.Transaction, txHash common.Hash, from common.Address, input []byte, logs []*ledgerdb.EventLog) {
	blockNumber, blockHash, txIndex, err := api.server.store.NextBlock(ctx, api.server.cfg.ChainID)
	if err != nil {
		api.server.logger.Warn("Failed to allocate block", zap.Error(err))
	}

	row := &ledgerdb.Transaction{
		TxHash:      txHash.Bytes(),
		FromAddress: auth.NormalizeAddress(from.Hex()),
		ToAddress:   auth.NormalizeAddress(api.server.tokenAddress.Hex()),
		Nonce:       int64(tx.Nonce()),
		Input:       input,
		ValueWei:    "0",
		Status:      1,
		BlockNumber: int64(blockNumber),
		BlockHash:   blockHash,
		TxIndex:     txIndex,
		GasUsed:     int64(api.server.cfg.GasLimit),
	}
	if err := api.server.store.SaveTransaction(ctx, row); err != nil {
		api.server.logger.Warn("Failed to save transaction", zap.Error(err))
	}

	for _, log := range logs {
		log.TxHash = txHash.Bytes()
		log.BlockNumber = int64(blockNumber)
		log.BlockHash = blockHash
		log.TxIndex = txIndex
		if err := api.server.store.SaveLog(ctx, log); err != nil {
			api.server.logger.Warn("Failed to save event log", zap.Error(err))
		}
	}
}

func transferLog(index int, token, from, to common.Address, value *uint256.Int) *ledgerdb.EventLog {
	return &ledgerdb.EventLog{
		LogIndex: index,
		Address:  token.Bytes(),
		Topics: [][]byte{
			transferTopic.Bytes(),
			common.BytesToHash(common.LeftPadBytes(from.Bytes(), 32)).Bytes(),
			common.BytesToHash(common.LeftPadBytes(to.Bytes(), 32)).Bytes(),
		},
		Data: value.PaddedBytes(32),
	}
}

func approvalLog(index int, token, owner, spender common.Address, value *uint256.Int) *ledgerdb.EventLog {
	return &ledgerdb.EventLog{
		LogIndex: index,
		Address:  token.Bytes(),
		Topics: [][]byte{
			approvalTopic.Bytes(),
			common.BytesToHash(common.LeftPadBytes(owner.Bytes(), 32)).Bytes(),
			common.BytesToHash(common.LeftPadBytes(spender.Bytes(), 32)).Bytes(),
		},
		Data: value.PaddedBytes(32),
	}
}

// GetTransactionReceipt returns the receipt for a transaction
func (api *EthAPI) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*RPCReceipt, error) {
	row, err := api.server.store.GetTransaction(ctx, hash.Bytes())
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	from := common.HexToAddress(row.FromAddress)
	to := common.HexToAddress(row.ToAddress)

	dbLogs, err := api.server.store.GetLogsByTxHash(ctx, hash.Bytes())
	if err != nil {
		api.server.logger.Warn("Failed to get logs for receipt", zap.Error(err))
	}

	// Initialize as empty slice to ensure JSON marshals to [] not null
	logs := make([]*types.Log, 0)
	for _, dbLog := range dbLogs {
		logs = append(logs, toEthLog(dbLog))
	}
	bloom := types.CreateBloom(&types.Receipt{Logs: logs})

	return &RPCReceipt{
		TransactionHash:   hash,
		TransactionIndex:  hexutil.Uint(row.TxIndex),
		BlockHash:         common.BytesToHash(row.BlockHash),
		BlockNumber:       hexutil.Uint64(row.BlockNumber),
		From:              from,
		To:                &to,
		CumulativeGasUsed: hexutil.Uint64(row.GasUsed),
		GasUsed:           hexutil.Uint64(row.GasUsed),
		ContractAddress:   nil,
		Logs:              logs,
		LogsBloom:         bloom,
		Status:            hexutil.Uint64(row.Status),
		EffectiveGasPrice: hexutil.Uint64(1000000000),
		Type:              hexutil.Uint64(2),
	}, nil
}

// GetTransactionByHash returns a transaction by hash
func (api *EthAPI) GetTransactionByHash(ctx context.Context, hash common.Hash) (*RPCTransaction, error) {
	row, err := api.server.store.GetTransaction(ctx, hash.Bytes())
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	from := common.HexToAddress(row.FromAddress)
	to := common.HexToAddress(row.ToAddress)
	blockHash := common.BytesToHash(row.BlockHash)
	blockNum := hexutil.Uint64(row.BlockNumber)
	txIndex := hexutil.Uint(row.TxIndex)
	gasPrice := big.NewInt(1000000000)

	return &RPCTransaction{
		Hash:             hash,
		Nonce:            hexutil.Uint64(row.Nonce),
		BlockHash:        &blockHash,
		BlockNumber:      &blockNum,
		TransactionIndex: &txIndex,
		From:             from,
		To:               &to,
		Value:            (*hexutil.Big)(big.NewInt(0)),
		GasPrice:         (*hexutil.Big)(gasPrice),
		Gas:              hexutil.Uint64(api.server.cfg.GasLimit),
		Input:            row.Input,
		Type:             hexutil.Uint64(2),
		ChainID:          (*hexutil.Big)(api.server.chainID),
	}, nil
}

// Call executes a read-only call against the ledger
func (api *EthAPI) Call(ctx context.Context, args CallArgs, blockNrOrHash BlockNumberOrHash, overrides *map[common.Address]interface{}) (hexutil.Bytes, error) {
	if args.To == nil || *args.To != api.server.tokenAddress {
		return nil, fmt.Errorf("unsupported contract")
	}

	input := args.GetData()
	if len(input) < 4 {
		return nil, fmt.Errorf("missing function selector")
	}

	method, err := api.server.erc20ABI.MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown method")
	}

	ledger := api.server.dispatcher.Ledger()
	switch method.Name {
	case "balanceOf":
		return api.callBalanceOf(input[4:])
	case "allowance":
		return api.callAllowance(input[4:])
	case "decimals":
		return encodeUint8(ledger.Decimals())
	case "symbol":
		return encodeString(ledger.Symbol())
	case "name":
		return encodeString(ledger.Name())
	case "totalSupply":
		return encodeUint256(ledger.TotalSupply().ToBig())
	default:
		return nil, fmt.Errorf("unsupported method: %s", method.Name)
	}
}

func (api *EthAPI) callBalanceOf(data []byte) (hexutil.Bytes, error) {
	method := api.server.erc20ABI.Methods["balanceOf"]
	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data); err != nil {
		return nil, err
	}

	addr, ok := args["account"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("invalid account address")
	}

	bal := api.server.dispatcher.Ledger().BalanceOf(addr)
	return encodeUint256(bal.ToBig())
}

func (api *EthAPI) callAllowance(data []byte) (hexutil.Bytes, error) {
	method := api.server.erc20ABI.Methods["allowance"]
	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data); err != nil {
		return nil, err
	}

	owner, ok := args["owner"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("invalid owner address")
	}
	spender, ok := args["spender"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("invalid spender address")
	}

	remaining := api.server.dispatcher.Ledger().Allowance(owner, spender)
	return encodeUint256(remaining.ToBig())
}

func encodeUint256(v *big.Int) (hexutil.Bytes, error) {
	uint256Type, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: uint256Type}}
	return args.Pack(v)
}

func encodeUint8(v uint8) (hexutil.Bytes, error) {
	uint8Type, _ := abi.NewType("uint8", "", nil)
	args := abi.Arguments{{Type: uint8Type}}
	return args.Pack(v)
}

func encodeString(s string) (hexutil.Bytes, error) {
	stringType, _ := abi.NewType("string", "", nil)
	args := abi.Arguments{{Type: stringType}}
	return args.Pack(s)
}

// FilterQuery represents the filter for eth_getLogs
type FilterQuery struct {
	BlockHash *common.Hash    `json:"blockHash,omitempty"`
	FromBlock *hexutil.Uint64 `json:"fromBlock,omitempty"`
	ToBlock   *hexutil.Uint64 `json:"toBlock,omitempty"`
	Address   interface{}     `json:"address,omitempty"` // single address or array
	Topics    []interface{}   `json:"topics,omitempty"`
}

// GetLogs returns logs matching the filter criteria
func (api *EthAPI) GetLogs(ctx context.Context, query FilterQuery) ([]*types.Log, error) {
	filter := ledgerdb.LogFilter{ToBlock: -1}
	if query.FromBlock != nil {
		filter.FromBlock = int64(*query.FromBlock)
	}
	if query.ToBlock != nil {
		filter.ToBlock = int64(*query.ToBlock)
	}

	// Only a single address filter is supported
	if query.Address != nil {
		switch addr := query.Address.(type) {
		case string:
			filter.Address = common.HexToAddress(addr).Bytes()
		case common.Address:
			filter.Address = addr.Bytes()
		}
	}
	if len(query.Topics) > 0 && query.Topics[0] != nil {
		switch t := query.Topics[0].(type) {
		case string:
			filter.Topic0 = common.HexToHash(t).Bytes()
		case common.Hash:
			filter.Topic0 = t.Bytes()
		}
	}

	dbLogs, err := api.server.store.GetLogs(ctx, filter)
	if err != nil {
		return nil, err
	}

	var logs []*types.Log
	for _, dbLog := range dbLogs {
		logs = append(logs, toEthLog(dbLog))
	}
	return logs, nil
}

func toEthLog(dbLog *ledgerdb.EventLog) *types.Log {
	log := &types.Log{
		Address:     common.BytesToAddress(dbLog.Address),
		Data:        dbLog.Data,
		BlockNumber: uint64(dbLog.BlockNumber),
		TxHash:      common.BytesToHash(dbLog.TxHash),
		TxIndex:     uint(dbLog.TxIndex),
		BlockHash:   common.BytesToHash(dbLog.BlockHash),
		Index:       uint(dbLog.LogIndex),
		Removed:     dbLog.Removed,
	}
	for _, topic := range dbLog.Topics {
		log.Topics = append(log.Topics, common.BytesToHash(topic))
	}
	return log
}

// RPCBlock represents a block in JSON-RPC format
type RPCBlock struct {
	Number           hexutil.Uint64   `json:"number"`
	Hash             common.Hash      `json:"hash"`
	ParentHash       common.Hash      `json:"parentHash"`
	Nonce            types.BlockNonce `json:"nonce"`
	Sha3Uncles       common.Hash      `json:"sha3Uncles"`
	LogsBloom        types.Bloom      `json:"logsBloom"`
	TransactionsRoot common.Hash      `json:"transactionsRoot"`
	StateRoot        common.Hash      `json:"stateRoot"`
	ReceiptsRoot     common.Hash      `json:"receiptsRoot"`
	Miner            common.Address   `json:"miner"`
	Difficulty       *hexutil.Big     `json:"difficulty"`
	TotalDifficulty  *hexutil.Big     `json:"totalDifficulty"`
	ExtraData        hexutil.Bytes    `json:"extraData"`
	Size             hexutil.Uint64   `json:"size"`
	GasLimit         hexutil.Uint64   `json:"gasLimit"`
	GasUsed          hexutil.Uint64   `json:"gasUsed"`
	Timestamp        hexutil.Uint64   `json:"timestamp"`
	Transactions     []interface{}    `json:"transactions"`
	Uncles           []common.Hash    `json:"uncles"`
	BaseFeePerGas    *hexutil.Big     `json:"baseFeePerGas,omitempty"`
}

// GetBlockByNumber returns a synthetic block by number
func (api *EthAPI) GetBlockByNumber(ctx context.Context, blockNr BlockNumberOrHash, fullTx bool) (*RPCBlock, error) {
	var blockNum uint64
	if blockNr.BlockNumber != nil {
		blockNum = uint64(*blockNr.BlockNumber)
	} else {
		// "latest", "pending", or unspecified follows eth_blockNumber
		latest, err := api.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		blockNum = uint64(latest)
	}

	if blockNum == 0 {
		return nil, nil
	}

	blockHash := common.BytesToHash(ledgerdb.ComputeBlockHash(api.server.cfg.ChainID, blockNum))
	parentHash := common.Hash{}
	if blockNum > 1 {
		parentHash = common.BytesToHash(ledgerdb.ComputeBlockHash(api.server.cfg.ChainID, blockNum-1))
	}

	return &RPCBlock{
		Number:           hexutil.Uint64(blockNum),
		Hash:             blockHash,
		ParentHash:       parentHash,
		Nonce:            types.BlockNonce{},
		Sha3Uncles:       common.Hash{},
		LogsBloom:        types.Bloom{},
		TransactionsRoot: common.Hash{},
		StateRoot:        common.Hash{},
		ReceiptsRoot:     common.Hash{},
		Miner:            common.Address{},
		Difficulty:       (*hexutil.Big)(big.NewInt(0)),
		TotalDifficulty:  (*hexutil.Big)(big.NewInt(0)),
		ExtraData:        []byte{},
		Size:             hexutil.Uint64(0),
		GasLimit:         hexutil.Uint64(api.server.cfg.GasLimit),
		GasUsed:          hexutil.Uint64(0),
		Timestamp:        hexutil.Uint64(blockNum * 12), // synthetic timestamp
		Transactions:     []interface{}{},
		Uncles:           []common.Hash{},
		BaseFeePerGas:    (*hexutil.Big)(big.NewInt(1000000000)),
	}, nil
}

// GetBlockByHash returns a synthetic block by hash. Block hashes are
// deterministic but not reversible, so unknown hashes resolve to the
// latest block to keep wallets satisfied.
func (api *EthAPI) GetBlockByHash(ctx context.Context, hash common.Hash, fullTx bool) (*RPCBlock, error) {
	return api.GetBlockByNumber(ctx, BlockNumberOrHash{}, fullTx)
}
