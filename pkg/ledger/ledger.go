// Package ledger holds the authoritative balance and allowance state of the
// token. It knows nothing about callers or transports; authorization and
// request ordering are the dispatcher's job.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidDecimals       = errors.New("decimals must be less than 256")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Genesis is the one-time construction input. It is supplied exactly once,
// before any request is accepted, and never again.
type Genesis struct {
	Name         string
	Symbol       string
	Decimals     int
	TotalSupply  *uint256.Int
	Deployer     common.Address
	BurnSentinel common.Address
}

// Metadata is the immutable token metadata record fixed at construction.
type Metadata struct {
	Name         string
	Symbol       string
	Decimals     uint8
	TotalSupply  *uint256.Int
	BurnSentinel common.Address
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Ledger is the balance/allowance store. A missing balance or allowance entry
// reads as zero; entries are zeroed rather than deleted. All mutation goes
// through a single writer (the dispatcher); reads may run concurrently and
// always observe a fully-applied state.
type Ledger struct {
	mu         sync.RWMutex
	meta       Metadata
	balances   map[common.Address]uint256.Int
	allowances map[allowanceKey]uint256.Int
}

// New validates the genesis parameters and creates the ledger with the entire
// supply credited to the deployer.
func New(g Genesis) (*Ledger, error) {
	if g.Decimals < 0 || g.Decimals >= 256 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDecimals, g.Decimals)
	}

	supply := uint256.NewInt(0)
	if g.TotalSupply != nil {
		supply = g.TotalSupply.Clone()
	}

	l := &Ledger{
		meta: Metadata{
			Name:         g.Name,
			Symbol:       g.Symbol,
			Decimals:     uint8(g.Decimals),
			TotalSupply:  supply,
			BurnSentinel: g.BurnSentinel,
		},
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[allowanceKey]uint256.Int),
	}
	l.balances[g.Deployer] = *supply

	return l, nil
}

// Name returns the token name.
func (l *Ledger) Name() string { return l.meta.Name }

// Symbol returns the token symbol.
func (l *Ledger) Symbol() string { return l.meta.Symbol }

// Decimals returns the token decimals.
func (l *Ledger) Decimals() uint8 { return l.meta.Decimals }

// TotalSupply returns a copy of the fixed total supply.
func (l *Ledger) TotalSupply() *uint256.Int { return l.meta.TotalSupply.Clone() }

// BurnSentinel returns the reserved account used as the symbolic source of
// issuance. It is never a valid transfer or approval target.
func (l *Ledger) BurnSentinel() common.Address { return l.meta.BurnSentinel }

// BalanceOf returns the balance of the account, zero for unknown accounts.
func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bal := l.balances[account]
	return bal.Clone()
}

// Allowance returns the amount spender may move out of owner's balance, zero
// when no approval was ever made.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a := l.allowances[allowanceKey{owner, spender}]
	return a.Clone()
}

// ApplyTransfer moves amount from one balance entry to another as a single
// atomic update. It fails with ErrInsufficientBalance before touching any
// state; no reader can observe the debit without the credit.
func (l *Ledger) ApplyTransfer(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal := l.balances[from]
	if fromBal.Lt(amount) {
		return ErrInsufficientBalance
	}

	newFrom, underflow := new(uint256.Int).SubOverflow(&fromBal, amount)
	if underflow {
		// Unreachable after the check above; a hit means the precondition
		// was bypassed and the ledger can no longer be trusted.
		panic(fmt.Sprintf("ledger: balance underflow for %s", from.Hex()))
	}
	l.balances[from] = *newFrom

	toBal := l.balances[to]
	newTo, overflow := new(uint256.Int).AddOverflow(&toBal, amount)
	if overflow {
		// Conservation bounds every balance by the total supply.
		panic(fmt.Sprintf("ledger: balance overflow for %s", to.Hex()))
	}
	l.balances[to] = *newTo

	return nil
}

// SetAllowance overwrites the (owner, spender) allowance. It is not additive:
// a second approval replaces the first.
func (l *Ledger) SetAllowance(owner, spender common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner, spender}] = *amount.Clone()
}

// ConsumeAllowance decrements the (owner, spender) allowance by exactly
// amount and returns the remaining allowance. It fails with
// ErrInsufficientAllowance before any mutation.
func (l *Ledger) ConsumeAllowance(owner, spender common.Address, amount *uint256.Int) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{owner, spender}
	cur := l.allowances[key]
	if cur.Lt(amount) {
		return nil, ErrInsufficientAllowance
	}

	remaining, underflow := new(uint256.Int).SubOverflow(&cur, amount)
	if underflow {
		panic(fmt.Sprintf("ledger: allowance underflow for owner %s spender %s", owner.Hex(), spender.Hex()))
	}
	l.allowances[key] = *remaining

	return remaining.Clone(), nil
}
