package runtime

import (
	"testing"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

func TestAccountLocks(t *testing.T) {
	a, b, c := types.Pubkey{1}, types.Pubkey{2}, types.Pubkey{3}
	l := NewAccountLocks()

	unlock := l.Lock([]types.Pubkey{a}, []types.Pubkey{c})
	if l.Held() != 2 {
		t.Errorf("Held() = %d, want 2", l.Held())
	}

	tests := []struct {
		name     string
		writable []types.Pubkey
		readonly []types.Pubkey
		ok       bool
	}{
		{"disjoint writer", []types.Pubkey{b}, nil, true},
		{"shared reader", nil, []types.Pubkey{c}, true},
		{"write over write", []types.Pubkey{a}, nil, false},
		{"read over write", nil, []types.Pubkey{a}, false},
		{"write over read", []types.Pubkey{c}, nil, false},
		{"partly contended", []types.Pubkey{b, a}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release, ok := l.TryLock(tt.writable, tt.readonly)
			if ok != tt.ok {
				t.Fatalf("TryLock() ok = %v, want %v", ok, tt.ok)
			}
			if ok {
				release()
			}
		})
	}

	// All or nothing: the failed attempt above must not have kept b.
	release, ok := l.TryLock([]types.Pubkey{b}, nil)
	if !ok {
		t.Fatal("b leaked from a failed TryLock")
	}
	release()
	release()

	unlock()
	if l.Held() != 0 {
		t.Errorf("Held() after unlock = %d", l.Held())
	}
}

func TestAccountLocksBlocksConflicts(t *testing.T) {
	key := types.Pubkey{7}
	l := NewAccountLocks()
	unlock := l.Lock([]types.Pubkey{key}, nil)

	acquired := make(chan struct{})
	go func() {
		release := l.Lock(nil, []types.Pubkey{key})
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired a key held for writing")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("reader not woken after unlock")
	}
}

func TestKeyInBothListsIsWritable(t *testing.T) {
	key := types.Pubkey{4}
	l := NewAccountLocks()
	unlock := l.Lock([]types.Pubkey{key}, []types.Pubkey{key})
	defer unlock()
	if _, ok := l.TryLock(nil, []types.Pubkey{key}); ok {
		t.Error("reader shared a key locked writable via both lists")
	}
}

func TestStatusCache(t *testing.T) {
	c := newStatusCache()
	sig := types.Signature{1}
	if !c.reserve(sig, 5) {
		t.Fatal("first reserve failed")
	}
	if c.reserve(sig, 5) {
		t.Fatal("duplicate reserve succeeded")
	}
	c.set(sig, SignatureStatus{Slot: 5, Err: ErrAccountNotFound})
	if s, ok := c.get(sig); !ok || s.Err != ErrAccountNotFound {
		t.Errorf("get() = %+v, %v", s, ok)
	}
	c.reserve(types.Signature{2}, 9)
	if n := c.prune(6); n != 1 {
		t.Errorf("prune() = %d, want 1", n)
	}
	if _, ok := c.get(sig); ok {
		t.Error("pruned signature still present")
	}
	c.forget(types.Signature{2})
	if _, ok := c.get(types.Signature{2}); ok {
		t.Error("forgotten signature still present")
	}
}

func TestRentMinimumBalance(t *testing.T) {
	r := DefaultRent()
	if got := r.MinimumBalance(0); got != 890880 {
		t.Errorf("MinimumBalance(0) = %d, want 890880", got)
	}
	if got := r.MinimumBalance(429); got != (128+429)*6960 {
		t.Errorf("MinimumBalance(429) = %d", got)
	}
	if r.IsExempt(890879, 0) || !r.IsExempt(890880, 0) {
		t.Error("IsExempt boundary wrong")
	}
}
