// Package events implements the ordered, append-only notification feed.
// Events become visible only after the causing mutation has been applied,
// in the same order the mutations were applied.
package events

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Type identifies the kind of notification.
type Type string

const (
	TypeTransfer Type = "Transfer"
	TypeApproval Type = "Approval"
)

// Transfer is emitted on issuance and on every successful transfer.
type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

// Approval is emitted on every approve and on the allowance update inside a
// delegated transfer. Amount is the allowance after the change.
type Approval struct {
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

// Event is a feed entry. Seq is assigned on append and is dense: the issuance
// event is always Seq 0.
type Event struct {
	Seq       uint64
	Type      Type
	Timestamp time.Time
	Data      any
}

// Feed is the append-only event log with live subscriptions. There is exactly
// one producer (the dispatcher); any number of readers.
type Feed struct {
	mu      sync.RWMutex
	log     []Event
	subs    map[int]chan Event
	nextSub int
	logger  *zap.Logger
}

// NewFeed creates an empty feed.
func NewFeed(logger *zap.Logger) *Feed {
	return &Feed{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Append records an event and delivers it to subscribers. Delivery to a
// subscriber whose channel is full is dropped; the log itself never drops
// entries and List always serves the complete history.
func (f *Feed) Append(typ Type, data any) Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	ev := Event{
		Seq:       uint64(len(f.log)),
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
	f.log = append(f.log, ev)

	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.logger.Warn("event subscriber lagging, dropping delivery",
				zap.Int("subscriber", id),
				zap.Uint64("seq", ev.Seq))
		}
	}

	return ev
}

// Subscribe returns a channel of future events and a cancel function. Events
// appended before Subscribe are not replayed; use List for history.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSub
	f.nextSub++
	ch := make(chan Event, buffer)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// List returns up to limit events starting at sequence number since. A limit
// of 0 means no limit.
func (f *Feed) List(since uint64, limit int) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if since >= uint64(len(f.log)) {
		return nil
	}
	out := f.log[since:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	// Copy so callers cannot alias the internal log.
	res := make([]Event, len(out))
	copy(res, out)
	return res
}

// Len returns the number of events appended so far.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.log)
}
