// Package dispatcher serializes all mutating ledger requests through a single
// perpetual loop. One request is validated, applied, and notified to
// completion before the next one is admitted, which is what makes the
// check-then-update sequences in transfer and transferFrom race-free.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/chainsafe/token-ledger/internal/metrics"
	"github.com/chainsafe/token-ledger/pkg/events"
	"github.com/chainsafe/token-ledger/pkg/ledger"
)

var (
	// ErrZeroAddress rejects the burn sentinel as a transfer or approval target.
	ErrZeroAddress = errors.New("zero address is not a valid target")
	// ErrStopped is returned for requests submitted after shutdown.
	ErrStopped = errors.New("dispatcher stopped")
)

const defaultQueueSize = 256

type op string

const (
	opTransfer     op = "transfer"
	opTransferFrom op = "transferFrom"
	opApprove      op = "approve"
)

type request struct {
	id      string
	op      op
	caller  common.Address
	from    common.Address
	to      common.Address
	spender common.Address
	amount  *uint256.Int
	reply   chan error
}

// Dispatcher owns the ledger and processes mutating requests one at a time,
// forever. Read-only accessors go straight to the ledger and never queue.
type Dispatcher struct {
	ledger   *ledger.Ledger
	feed     *events.Feed
	logger   *zap.Logger
	requests chan request
	quit     chan struct{}
	done     chan struct{}
}

// New constructs the ledger from its genesis parameters and emits the
// issuance event. The genesis is accepted exactly once, here; after New the
// deployer is an account like any other.
func New(g ledger.Genesis, feed *events.Feed, logger *zap.Logger) (*Dispatcher, error) {
	l, err := ledger.New(g)
	if err != nil {
		return nil, fmt.Errorf("construct ledger: %w", err)
	}

	d := &Dispatcher{
		ledger:   l,
		feed:     feed,
		logger:   logger,
		requests: make(chan request, defaultQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	d.emit(events.TypeTransfer, events.Transfer{
		From:   g.BurnSentinel,
		To:     g.Deployer,
		Amount: l.TotalSupply(),
	})

	logger.Info("Ledger initialized",
		zap.String("name", l.Name()),
		zap.String("symbol", l.Symbol()),
		zap.Uint8("decimals", l.Decimals()),
		zap.String("total_supply", l.TotalSupply().Dec()),
		zap.String("deployer", g.Deployer.Hex()))

	return d, nil
}

// Ledger exposes the store for read-only accessors.
func (d *Dispatcher) Ledger() *ledger.Ledger { return d.ledger }

// Start launches the request loop. The loop has no terminal state of its own;
// it runs until Stop.
func (d *Dispatcher) Start() {
	go d.loop()
}

// Stop shuts the loop down. Requests already admitted but not yet processed
// fail with ErrStopped.
func (d *Dispatcher) Stop() {
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		case req := <-d.requests:
			metrics.QueueDepth.Set(float64(len(d.requests)))
			d.handle(req)
		}
	}
}

func (d *Dispatcher) handle(req request) {
	start := time.Now()

	var err error
	switch req.op {
	case opTransfer:
		err = d.applyTransfer(req)
	case opTransferFrom:
		err = d.applyTransferFrom(req)
	case opApprove:
		err = d.applyApprove(req)
	default:
		err = fmt.Errorf("unknown operation %q", req.op)
	}

	metrics.RequestDuration.WithLabelValues(string(req.op)).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "rejected"
		metrics.RejectionsTotal.WithLabelValues(string(req.op), rejectionReason(err)).Inc()
		d.logger.Debug("Request rejected",
			zap.String("request_id", req.id),
			zap.String("op", string(req.op)),
			zap.Error(err))
	}
	metrics.RequestsTotal.WithLabelValues(string(req.op), status).Inc()

	req.reply <- err
}

// applyTransfer moves amount from the caller to req.to.
// Preconditions in order: target is not the burn sentinel, caller balance
// suffices. The first failure aborts with no state change.
func (d *Dispatcher) applyTransfer(req request) error {
	if req.to == d.ledger.BurnSentinel() {
		return ErrZeroAddress
	}
	if err := d.ledger.ApplyTransfer(req.caller, req.to, req.amount); err != nil {
		return err
	}

	d.emit(events.TypeTransfer, events.Transfer{
		From:   req.caller,
		To:     req.to,
		Amount: req.amount.Clone(),
	})

	d.logger.Info("Transfer completed",
		zap.String("request_id", req.id),
		zap.String("from", req.caller.Hex()),
		zap.String("to", req.to.Hex()),
		zap.String("amount", req.amount.Dec()))
	return nil
}

// applyTransferFrom moves amount from req.from to req.to on the caller's
// allowance. Preconditions in order: from and to are not the burn sentinel,
// from's balance suffices, the caller's allowance suffices. Exactly one
// allowance decrement per successful call; Transfer is notified before the
// Approval carrying the remaining allowance.
func (d *Dispatcher) applyTransferFrom(req request) error {
	sentinel := d.ledger.BurnSentinel()
	if req.from == sentinel {
		return ErrZeroAddress
	}
	if req.to == sentinel {
		return ErrZeroAddress
	}
	if d.ledger.BalanceOf(req.from).Lt(req.amount) {
		return ledger.ErrInsufficientBalance
	}
	if d.ledger.Allowance(req.from, req.caller).Lt(req.amount) {
		return ledger.ErrInsufficientAllowance
	}

	// Both checks passed and this loop is the only writer, so neither call
	// below can fail.
	if err := d.ledger.ApplyTransfer(req.from, req.to, req.amount); err != nil {
		panic(fmt.Sprintf("dispatcher: transfer failed after passed checks: %v", err))
	}
	remaining, err := d.ledger.ConsumeAllowance(req.from, req.caller, req.amount)
	if err != nil {
		panic(fmt.Sprintf("dispatcher: allowance consumption failed after passed checks: %v", err))
	}

	d.emit(events.TypeTransfer, events.Transfer{
		From:   req.from,
		To:     req.to,
		Amount: req.amount.Clone(),
	})
	d.emit(events.TypeApproval, events.Approval{
		Owner:   req.from,
		Spender: req.caller,
		Amount:  remaining,
	})

	d.logger.Info("Delegated transfer completed",
		zap.String("request_id", req.id),
		zap.String("spender", req.caller.Hex()),
		zap.String("from", req.from.Hex()),
		zap.String("to", req.to.Hex()),
		zap.String("amount", req.amount.Dec()),
		zap.String("remaining_allowance", remaining.Dec()))
	return nil
}

// applyApprove overwrites the caller's allowance for req.spender. A repeat
// approval replaces the previous amount, it does not add to it.
func (d *Dispatcher) applyApprove(req request) error {
	if req.spender == d.ledger.BurnSentinel() {
		return ErrZeroAddress
	}

	d.ledger.SetAllowance(req.caller, req.spender, req.amount)

	d.emit(events.TypeApproval, events.Approval{
		Owner:   req.caller,
		Spender: req.spender,
		Amount:  req.amount.Clone(),
	})

	d.logger.Info("Approval set",
		zap.String("request_id", req.id),
		zap.String("owner", req.caller.Hex()),
		zap.String("spender", req.spender.Hex()),
		zap.String("amount", req.amount.Dec()))
	return nil
}

func (d *Dispatcher) emit(typ events.Type, data any) {
	d.feed.Append(typ, data)
	metrics.EventsEmitted.WithLabelValues(string(typ)).Inc()
}

// Transfer submits a transfer request on behalf of caller and blocks until it
// is processed. On success it returns true; there is no false result path --
// failures come back as errors.
func (d *Dispatcher) Transfer(ctx context.Context, caller, to common.Address, amount *uint256.Int) (bool, error) {
	return d.submit(ctx, request{op: opTransfer, caller: caller, to: to, amount: amount})
}

// TransferFrom submits a delegated transfer where caller spends from's
// allowance.
func (d *Dispatcher) TransferFrom(ctx context.Context, caller, from, to common.Address, amount *uint256.Int) (bool, error) {
	return d.submit(ctx, request{op: opTransferFrom, caller: caller, from: from, to: to, amount: amount})
}

// Approve submits an allowance overwrite for (caller, spender).
func (d *Dispatcher) Approve(ctx context.Context, caller, spender common.Address, amount *uint256.Int) (bool, error) {
	return d.submit(ctx, request{op: opApprove, caller: caller, spender: spender, amount: amount})
}

func (d *Dispatcher) submit(ctx context.Context, req request) (bool, error) {
	req.id = uuid.NewString()
	req.amount = req.amount.Clone()
	req.reply = make(chan error, 1)

	select {
	case d.requests <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-d.quit:
		return false, ErrStopped
	}

	// Once admitted, the request runs to a terminal outcome; the context no
	// longer applies.
	select {
	case err := <-req.reply:
		if err != nil {
			return false, err
		}
		return true, nil
	case <-d.done:
		return false, ErrStopped
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return "insufficient_allowance"
	default:
		return "other"
	}
}
