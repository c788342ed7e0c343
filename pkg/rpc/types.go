package rpc

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 Types
// https://www.jsonrpc.org/specification

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// Custom error codes (application-specific)
	Unauthorized          = -32001
	InvalidAddress        = -32002
	InsufficientFunds     = -32003
	InsufficientAllowance = -32004
	ZeroAddressTarget     = -32005
)

var errorMessages = map[int]string{
	ParseError:            "Parse error",
	InvalidRequest:        "Invalid Request",
	MethodNotFound:        "Method not found",
	InvalidParams:         "Invalid params",
	InternalError:         "Internal error",
	Unauthorized:          "Unauthorized",
	InvalidAddress:        "Invalid address",
	InsufficientFunds:     "Insufficient funds",
	InsufficientAllowance: "Insufficient allowance",
	ZeroAddressTarget:     "Zero address is not a valid target",
}

// NewError creates a new JSON-RPC error
func NewError(code int, data any) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "Unknown error"
	}
	return &Error{
		Code:    code,
		Message: msg,
		Data:    data,
	}
}

// Validate validates the JSON-RPC request
func (r *Request) Validate() error {
	if r.JSONRPC != "2.0" {
		return fmt.Errorf("invalid jsonrpc version: expected 2.0")
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// SuccessResponse creates a successful JSON-RPC response
func SuccessResponse(id, result any) *Response {
	return &Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// ErrorResponse creates an error JSON-RPC response
func ErrorResponse(id any, err *Error) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   err,
		ID:      id,
	}
}

// =============================================================================
// RPC Method Parameters
// =============================================================================

// BalanceOfParams represents parameters for erc20_balanceOf
type BalanceOfParams struct {
	Address string `json:"address"`
}

// AllowanceParams represents parameters for erc20_allowance
type AllowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

// TransferParams represents parameters for erc20_transfer. Amounts are
// decimal strings in token units.
type TransferParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// TransferFromParams represents parameters for erc20_transferFrom. The
// spender is the authenticated caller, never a parameter.
type TransferFromParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// ApproveParams represents parameters for erc20_approve
type ApproveParams struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// EventsParams represents parameters for ledger_events
type EventsParams struct {
	Since uint64 `json:"since"`
	Limit int    `json:"limit"`
}

// =============================================================================
// RPC Method Results
// =============================================================================

// BalanceResult represents balance query result
type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// AllowanceResult represents allowance query result
type AllowanceResult struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

// TransferResult represents the result of a mutating call. Success is always
// true: a failed call surfaces as a JSON-RPC error, never as success=false.
type TransferResult struct {
	Success bool `json:"success"`
}

// SupplyResult represents total supply result
type SupplyResult struct {
	TotalSupply string `json:"totalSupply"`
}

// EventResult represents one notification feed entry
type EventResult struct {
	Seq       uint64 `json:"seq"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Spender   string `json:"spender,omitempty"`
	Amount    string `json:"amount"`
}
