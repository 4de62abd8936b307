package geyser

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

type recordingPlugin struct {
	mu       sync.Mutex
	accounts []*AccountUpdate
	txs      []*TransactionUpdate
	slots    []*SlotUpdate
	closed   bool
	fail     bool
	block    chan struct{}
}

func (p *recordingPlugin) Name() string { return "recorder" }

func (p *recordingPlugin) OnAccountUpdate(_ context.Context, u *AccountUpdate) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("boom")
	}
	p.accounts = append(p.accounts, u)
	return nil
}

func (p *recordingPlugin) OnTransaction(_ context.Context, u *TransactionUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = append(p.txs, u)
	return nil
}

func (p *recordingPlugin) OnSlot(_ context.Context, u *SlotUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = append(p.slots, u)
	return nil
}

func (p *recordingPlugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	d := NewDispatcher(16)
	a, b := &recordingPlugin{}, &recordingPlugin{}
	if err := d.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := d.Register(b); err != nil {
		t.Fatal(err)
	}

	for i := uint64(1); i <= 3; i++ {
		d.OnAccountUpdate(&AccountUpdate{Slot: i, WriteVersion: i})
	}
	d.OnTransaction(&TransactionUpdate{Slot: 3})
	d.OnSlot(&SlotUpdate{Slot: 4, Parent: 3})

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for _, p := range []*recordingPlugin{a, b} {
		if len(p.accounts) != 3 || len(p.txs) != 1 || len(p.slots) != 1 {
			t.Fatalf("got %d/%d/%d notifications, want 3/1/1", len(p.accounts), len(p.txs), len(p.slots))
		}
		for i, u := range p.accounts {
			if u.WriteVersion != uint64(i+1) {
				t.Errorf("accounts[%d].WriteVersion = %d", i, u.WriteVersion)
			}
		}
		if !p.closed {
			t.Error("plugin not closed")
		}
	}

	stats := d.Stats()
	if len(stats) != 2 || stats[0].Delivered != 5 || stats[0].Dropped != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestDispatcherCountsFailures(t *testing.T) {
	d := NewDispatcher(4)
	p := &recordingPlugin{fail: true}
	d.Register(p)
	d.OnAccountUpdate(&AccountUpdate{})
	d.OnSlot(&SlotUpdate{})
	d.Close()

	st := d.Stats()[0]
	if st.Failed != 1 || st.Delivered != 1 {
		t.Errorf("Stats() = %+v, want 1 failed 1 delivered", st)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(1)
	p := &recordingPlugin{block: make(chan struct{})}
	d.Register(p)

	for i := 0; i < 5; i++ {
		d.OnAccountUpdate(&AccountUpdate{Pubkey: types.Pubkey{byte(i)}})
	}
	close(p.block)
	d.Close()

	st := d.Stats()[0]
	if st.Dropped < 3 {
		t.Errorf("Dropped = %d, want >= 3", st.Dropped)
	}
	if st.Delivered+st.Dropped != 5 {
		t.Errorf("Delivered+Dropped = %d, want 5", st.Delivered+st.Dropped)
	}
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(0)
	d.Close()
	if err := d.Register(&recordingPlugin{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Register() error = %v, want ErrDispatcherClosed", err)
	}
	d.OnSlot(&SlotUpdate{})
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSubscribeRequestMatch(t *testing.T) {
	key := types.Pubkey{1}
	owner := types.Pubkey{2}
	other := types.Pubkey{3}

	tests := []struct {
		name string
		req  SubscribeRequest
		u    *Update
		want bool
	}{
		{"account by key", SubscribeRequest{Accounts: []types.Pubkey{key}}, &Update{Account: &AccountUpdate{Pubkey: key}}, true},
		{"account by owner", SubscribeRequest{Owners: []types.Pubkey{owner}}, &Update{Account: &AccountUpdate{Pubkey: other, Owner: owner}}, true},
		{"account unmatched", SubscribeRequest{Accounts: []types.Pubkey{key}}, &Update{Account: &AccountUpdate{Pubkey: other}}, false},
		{"transactions off", SubscribeRequest{}, &Update{Transaction: &TransactionUpdate{}}, false},
		{"transaction", SubscribeRequest{Transactions: true}, &Update{Transaction: &TransactionUpdate{}}, true},
		{"failed excluded", SubscribeRequest{Transactions: true}, &Update{Transaction: &TransactionUpdate{Err: []byte(`"AccountNotFound"`)}}, false},
		{"failed included", SubscribeRequest{Transactions: true, IncludeFailed: true}, &Update{Transaction: &TransactionUpdate{Err: []byte(`"AccountNotFound"`)}}, true},
		{"transaction mentions", SubscribeRequest{Transactions: true, Accounts: []types.Pubkey{key}}, &Update{Transaction: &TransactionUpdate{AccountKeys: []types.Pubkey{other, key}}}, true},
		{"transaction does not mention", SubscribeRequest{Transactions: true, Accounts: []types.Pubkey{key}}, &Update{Transaction: &TransactionUpdate{AccountKeys: []types.Pubkey{other}}}, false},
		{"slots", SubscribeRequest{Slots: true}, &Update{Slot: &SlotUpdate{}}, true},
		{"slots off", SubscribeRequest{}, &Update{Slot: &SlotUpdate{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Match(tt.u); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
