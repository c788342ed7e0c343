package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/chainsafe/token-ledger/pkg/amount"
	"github.com/chainsafe/token-ledger/pkg/auth"
	"github.com/chainsafe/token-ledger/pkg/dispatcher"
	"github.com/chainsafe/token-ledger/pkg/events"
	"github.com/chainsafe/token-ledger/pkg/ledger"
)

const defaultEventsLimit = 100

// MethodHandler dispatches JSON-RPC methods to the ledger
type MethodHandler struct {
	dispatcher *dispatcher.Dispatcher
	feed       *events.Feed
	logger     *zap.Logger
}

// NewMethodHandler creates a new method handler
func NewMethodHandler(d *dispatcher.Dispatcher, feed *events.Feed, logger *zap.Logger) *MethodHandler {
	return &MethodHandler{
		dispatcher: d,
		feed:       feed,
		logger:     logger,
	}
}

// Handle dispatches a single JSON-RPC request
func (h *MethodHandler) Handle(ctx context.Context, req *Request) *Response {
	var (
		result any
		rpcErr *Error
	)

	switch req.Method {
	case "erc20_name":
		result = h.dispatcher.Ledger().Name()
	case "erc20_symbol":
		result = h.dispatcher.Ledger().Symbol()
	case "erc20_decimals":
		result = h.dispatcher.Ledger().Decimals()
	case "erc20_totalSupply":
		result = h.totalSupply()
	case "erc20_balanceOf":
		result, rpcErr = h.balanceOf(req.Params)
	case "erc20_allowance":
		result, rpcErr = h.allowance(req.Params)
	case "erc20_transfer":
		result, rpcErr = h.transfer(ctx, req.Params)
	case "erc20_transferFrom":
		result, rpcErr = h.transferFrom(ctx, req.Params)
	case "erc20_approve":
		result, rpcErr = h.approve(ctx, req.Params)
	case "ledger_events":
		result, rpcErr = h.events(req.Params)
	default:
		rpcErr = NewError(MethodNotFound, req.Method)
	}

	if rpcErr != nil {
		return ErrorResponse(req.ID, rpcErr)
	}
	return SuccessResponse(req.ID, result)
}

func (h *MethodHandler) totalSupply() SupplyResult {
	l := h.dispatcher.Ledger()
	return SupplyResult{
		TotalSupply: amount.FromBaseUnits(l.TotalSupply(), l.Decimals()),
	}
}

func (h *MethodHandler) balanceOf(params json.RawMessage) (any, *Error) {
	var p BalanceOfParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if !auth.ValidateAddress(p.Address) {
		return nil, NewError(InvalidAddress, p.Address)
	}
	l := h.dispatcher.Ledger()
	balance := l.BalanceOf(common.HexToAddress(p.Address))
	return BalanceResult{
		Address: auth.NormalizeAddress(p.Address),
		Balance: amount.FromBaseUnits(balance, l.Decimals()),
	}, nil
}

func (h *MethodHandler) allowance(params json.RawMessage) (any, *Error) {
	var p AllowanceParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if !auth.ValidateAddress(p.Owner) {
		return nil, NewError(InvalidAddress, p.Owner)
	}
	if !auth.ValidateAddress(p.Spender) {
		return nil, NewError(InvalidAddress, p.Spender)
	}
	l := h.dispatcher.Ledger()
	remaining := l.Allowance(common.HexToAddress(p.Owner), common.HexToAddress(p.Spender))
	return AllowanceResult{
		Owner:     auth.NormalizeAddress(p.Owner),
		Spender:   auth.NormalizeAddress(p.Spender),
		Allowance: amount.FromBaseUnits(remaining, l.Decimals()),
	}, nil
}

func (h *MethodHandler) transfer(ctx context.Context, params json.RawMessage) (any, *Error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return nil, NewError(Unauthorized, "caller identity missing")
	}
	var p TransferParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if !auth.ValidateAddress(p.To) {
		return nil, NewError(InvalidAddress, p.To)
	}
	value, rpcErr := h.parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}

	_, err := h.dispatcher.Transfer(ctx, caller, common.HexToAddress(p.To), value)
	if err != nil {
		h.logger.Info("transfer rejected",
			zap.String("caller", caller.Hex()),
			zap.String("to", p.To),
			zap.Error(err))
		return nil, ledgerError(err)
	}
	return TransferResult{Success: true}, nil
}

func (h *MethodHandler) transferFrom(ctx context.Context, params json.RawMessage) (any, *Error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return nil, NewError(Unauthorized, "caller identity missing")
	}
	var p TransferFromParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if !auth.ValidateAddress(p.From) {
		return nil, NewError(InvalidAddress, p.From)
	}
	if !auth.ValidateAddress(p.To) {
		return nil, NewError(InvalidAddress, p.To)
	}
	value, rpcErr := h.parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}

	_, err := h.dispatcher.TransferFrom(ctx, caller,
		common.HexToAddress(p.From), common.HexToAddress(p.To), value)
	if err != nil {
		h.logger.Info("transferFrom rejected",
			zap.String("caller", caller.Hex()),
			zap.String("from", p.From),
			zap.String("to", p.To),
			zap.Error(err))
		return nil, ledgerError(err)
	}
	return TransferResult{Success: true}, nil
}

func (h *MethodHandler) approve(ctx context.Context, params json.RawMessage) (any, *Error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return nil, NewError(Unauthorized, "caller identity missing")
	}
	var p ApproveParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if !auth.ValidateAddress(p.Spender) {
		return nil, NewError(InvalidAddress, p.Spender)
	}
	value, rpcErr := h.parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}

	_, err := h.dispatcher.Approve(ctx, caller, common.HexToAddress(p.Spender), value)
	if err != nil {
		h.logger.Info("approve rejected",
			zap.String("caller", caller.Hex()),
			zap.String("spender", p.Spender),
			zap.Error(err))
		return nil, ledgerError(err)
	}
	return TransferResult{Success: true}, nil
}

func (h *MethodHandler) events(params json.RawMessage) (any, *Error) {
	p := EventsParams{Limit: defaultEventsLimit}
	if len(params) > 0 {
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
	}
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = defaultEventsLimit
	}

	decimals := h.dispatcher.Ledger().Decimals()
	entries := h.feed.List(p.Since, p.Limit)
	out := make([]EventResult, 0, len(entries))
	for _, e := range entries {
		out = append(out, formatEvent(e, decimals))
	}
	return out, nil
}

func formatEvent(e events.Event, decimals uint8) EventResult {
	r := EventResult{
		Seq:       e.Seq,
		Type:      string(e.Type),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	switch data := e.Data.(type) {
	case events.Transfer:
		r.From = data.From.Hex()
		r.To = data.To.Hex()
		r.Amount = amount.FromBaseUnits(data.Amount, decimals)
	case events.Approval:
		r.Owner = data.Owner.Hex()
		r.Spender = data.Spender.Hex()
		r.Amount = amount.FromBaseUnits(data.Amount, decimals)
	}
	return r
}

func (h *MethodHandler) parseAmount(s string) (*uint256.Int, *Error) {
	value, err := amount.ToBaseUnits(s, h.dispatcher.Ledger().Decimals())
	if err != nil {
		return nil, NewError(InvalidParams, err.Error())
	}
	return value, nil
}

func unmarshalParams(params json.RawMessage, v any) *Error {
	if len(params) == 0 {
		return NewError(InvalidParams, "params are required")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewError(InvalidParams, err.Error())
	}
	return nil
}

// ledgerError maps a dispatcher rejection to its JSON-RPC error code
func ledgerError(err error) *Error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return NewError(InsufficientFunds, err.Error())
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return NewError(InsufficientAllowance, err.Error())
	case errors.Is(err, dispatcher.ErrZeroAddress):
		return NewError(ZeroAddressTarget, err.Error())
	default:
		return NewError(InternalError, err.Error())
	}
}
