package events

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestFeed_AppendAssignsDenseSequence(t *testing.T) {
	f := NewFeed(zap.NewNop())

	for i := 0; i < 5; i++ {
		e := f.Append(TypeTransfer, Transfer{From: alice, To: bob, Amount: uint256.NewInt(uint64(i))})
		if e.Seq != uint64(i) {
			t.Errorf("event %d: Seq = %d, want %d", i, e.Seq, i)
		}
	}
	if f.Len() != 5 {
		t.Errorf("Len() = %d, want 5", f.Len())
	}
}

func TestFeed_List(t *testing.T) {
	f := NewFeed(zap.NewNop())
	for i := 0; i < 10; i++ {
		f.Append(TypeTransfer, Transfer{From: alice, To: bob, Amount: uint256.NewInt(1)})
	}

	got := f.List(3, 4)
	if len(got) != 4 {
		t.Fatalf("List(3, 4) returned %d events, want 4", len(got))
	}
	if got[0].Seq != 3 || got[3].Seq != 6 {
		t.Errorf("List(3, 4) seqs = %d..%d, want 3..6", got[0].Seq, got[3].Seq)
	}

	// since beyond the log returns nothing
	if got := f.List(100, 10); len(got) != 0 {
		t.Errorf("List(100, 10) returned %d events, want 0", len(got))
	}
}

func TestFeed_SubscribeReceivesAppends(t *testing.T) {
	f := NewFeed(zap.NewNop())

	ch, cancel := f.Subscribe(4)
	defer cancel()

	f.Append(TypeApproval, Approval{Owner: alice, Spender: bob, Amount: uint256.NewInt(7)})

	select {
	case e := <-ch:
		if e.Type != TypeApproval {
			t.Errorf("event type = %s, want %s", e.Type, TypeApproval)
		}
		data, ok := e.Data.(Approval)
		if !ok {
			t.Fatalf("event data type = %T, want Approval", e.Data)
		}
		if !data.Amount.Eq(uint256.NewInt(7)) {
			t.Errorf("approval amount = %s, want 7", data.Amount)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFeed_CancelStopsDelivery(t *testing.T) {
	f := NewFeed(zap.NewNop())

	ch, cancel := f.Subscribe(1)
	cancel()

	f.Append(TypeTransfer, Transfer{From: alice, To: bob, Amount: uint256.NewInt(1)})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		// channel may be left open but must not deliver
	}
}

func TestFeed_SlowSubscriberDoesNotBlockAppend(t *testing.T) {
	f := NewFeed(zap.NewNop())

	// Subscriber with a full buffer; Append must not block
	_, cancel := f.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.Append(TypeTransfer, Transfer{From: alice, To: bob, Amount: uint256.NewInt(1)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append blocked on a slow subscriber")
	}
	if f.Len() != 10 {
		t.Errorf("Len() = %d, want 10", f.Len())
	}
}
