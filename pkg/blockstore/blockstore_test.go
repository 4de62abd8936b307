package blockstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	config := DefaultConfig(filepath.Join(t.TempDir(), "ledger.db"))
	config.PruneEnabled = false

	store, err := Open(config)
	if err != nil {
		t.Fatalf("failed to open blockstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sig(b byte) types.Signature {
	var s types.Signature
	s[0] = b
	s[63] = b
	return s
}

func pubkey(b byte) types.Pubkey {
	var p types.Pubkey
	p[0] = b
	return p
}

func record(s byte, slot uint64, keys ...types.Pubkey) *TransactionRecord {
	return &TransactionRecord{
		Signature:    sig(s),
		Slot:         slot,
		BlockTime:    1700000000 + int64(slot),
		AccountKeys:  keys,
		Fee:          5000,
		PreBalances:  make([]uint64, len(keys)),
		PostBalances: make([]uint64, len(keys)),
		LogMessages:  []string{"Program log: Instruction: NewGame"},
	}
}

func TestPutGetTransaction(t *testing.T) {
	store := openTestStore(t)

	rec := record(1, 10, pubkey(1), pubkey(2))
	rec.Err = json.RawMessage(`{"InstructionError":[0,{"Custom":6001}]}`)
	rec.ErrMessage = "custom program error: 0x1771"
	if err := store.PutTransaction(rec); err != nil {
		t.Fatalf("PutTransaction: %v", err)
	}

	got, err := store.GetTransaction(sig(1))
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Slot != 10 || got.Fee != 5000 || len(got.AccountKeys) != 2 || got.AccountKeys[1] != pubkey(2) {
		t.Errorf("record = %+v", got)
	}
	if string(got.Err) != string(rec.Err) || got.Succeeded() {
		t.Errorf("Err = %s", got.Err)
	}
	if got.Seq == 0 {
		t.Error("sequence not assigned")
	}

	if err := store.PutTransaction(record(1, 11, pubkey(1))); !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("duplicate: err = %v", err)
	}
	if _, err := store.GetTransaction(sig(99)); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("missing: err = %v", err)
	}
}

func TestPutTransactionKeepsFullRecord(t *testing.T) {
	store := openTestStore(t)

	for i, size := range []int{0, 64, 300} {
		rec := record(byte(20+i), 7, pubkey(1), pubkey(2), pubkey(3))
		rec.Transaction = bytes.Repeat([]byte{0xab}, size)
		rec.LogMessages = []string{"Program log: Instruction: AddPlayerToLeaderboard", "Program success"}
		rec.PreBalances = []uint64{2_000_000_000, 0, 1}
		rec.PostBalances = []uint64{999_995_000, 1_000_000_000, 1}
		rec.Fee = 5000
		rec.ComputeUnitsConsumed = 4200
		if err := store.PutTransaction(rec); err != nil {
			t.Fatalf("PutTransaction(%d): %v", size, err)
		}

		got, err := store.GetTransaction(rec.Signature)
		if err != nil {
			t.Fatalf("GetTransaction(%d): %v", size, err)
		}
		if !bytes.Equal(got.Transaction, rec.Transaction) {
			t.Errorf("size %d: Transaction len = %d", size, len(got.Transaction))
		}
		if len(got.LogMessages) != 2 || got.LogMessages[1] != "Program success" {
			t.Errorf("size %d: LogMessages = %v", size, got.LogMessages)
		}
		if got.Fee != 5000 || got.ComputeUnitsConsumed != 4200 {
			t.Errorf("size %d: fee = %d, cu = %d", size, got.Fee, got.ComputeUnitsConsumed)
		}
		if len(got.PostBalances) != 3 || got.PostBalances[1] != 1_000_000_000 || got.PreBalances[0] != 2_000_000_000 {
			t.Errorf("size %d: balances = %v -> %v", size, got.PreBalances, got.PostBalances)
		}

		infos, err := store.GetSignaturesForAddress(pubkey(3), &SignatureQueryOptions{Limit: 1})
		if err != nil {
			t.Fatalf("GetSignaturesForAddress: %v", err)
		}
		if len(infos) != 1 || infos[0].Signature != rec.Signature || infos[0].Slot != 7 {
			t.Errorf("size %d: signature info = %+v", size, infos)
		}
	}
}

func TestSignaturesForAddress(t *testing.T) {
	store := openTestStore(t)
	board := pubkey(7)

	// Two transactions in slot 5, one in slot 6, one unrelated.
	for _, rec := range []*TransactionRecord{
		record(1, 5, pubkey(1), board),
		record(2, 5, pubkey(2), board),
		record(3, 6, pubkey(1), board),
		record(4, 6, pubkey(3)),
	} {
		if err := store.PutTransaction(rec); err != nil {
			t.Fatal(err)
		}
	}

	infos, err := store.GetSignaturesForAddress(board, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.Signature{sig(3), sig(2), sig(1)}
	if len(infos) != len(want) {
		t.Fatalf("got %d entries, want %d", len(infos), len(want))
	}
	for i, info := range infos {
		if info.Signature != want[i] {
			t.Errorf("infos[%d] = %s, want %s", i, info.Signature, want[i])
		}
	}

	before := sig(3)
	infos, err = store.GetSignaturesForAddress(board, &SignatureQueryOptions{Before: &before, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Signature != sig(2) {
		t.Errorf("before: %+v", infos)
	}

	until := sig(1)
	infos, err = store.GetSignaturesForAddress(board, &SignatureQueryOptions{Until: &until})
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Errorf("until: got %d entries", len(infos))
	}

	infos, err = store.GetSignaturesForAddress(pubkey(200), nil)
	if err != nil || len(infos) != 0 {
		t.Errorf("unknown address: %v, %v", infos, err)
	}
}

func TestSignaturesForSlot(t *testing.T) {
	store := openTestStore(t)
	for _, rec := range []*TransactionRecord{record(1, 5), record(2, 6), record(3, 5)} {
		if err := store.PutTransaction(rec); err != nil {
			t.Fatal(err)
		}
	}

	sigs, err := store.GetSignaturesForSlot(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 2 || sigs[0] != sig(1) || sigs[1] != sig(3) {
		t.Errorf("slot 5 = %v", sigs)
	}
	if store.GetLatestSlot() != 6 {
		t.Errorf("latest = %d", store.GetLatestSlot())
	}
}

func TestPrune(t *testing.T) {
	store := openTestStore(t)
	for i := byte(1); i <= 10; i++ {
		if err := store.PutTransaction(record(i, uint64(i)*10, pubkey(1))); err != nil {
			t.Fatal(err)
		}
	}

	pruned, err := store.Prune(30)
	if err != nil {
		t.Fatal(err)
	}
	// Latest is 100; slots below 70 go.
	if pruned != 6 {
		t.Errorf("pruned = %d, want 6", pruned)
	}
	if _, err := store.GetTransaction(sig(6)); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("pruned record still present: %v", err)
	}
	if _, err := store.GetTransaction(sig(7)); err != nil {
		t.Errorf("retained record missing: %v", err)
	}

	infos, _ := store.GetSignaturesForAddress(pubkey(1), nil)
	if len(infos) != 4 {
		t.Errorf("address index has %d entries, want 4", len(infos))
	}
	stats, err := store.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TransactionCount != 4 || stats.OldestSlot != 70 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	config := DefaultConfig(path)
	config.PruneEnabled = false

	store, err := Open(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutTransaction(record(1, 42, pubkey(1))); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = Open(config)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if store.GetLatestSlot() != 42 {
		t.Errorf("latest = %d after reopen", store.GetLatestSlot())
	}
	if err := store.PutTransaction(record(2, 43, pubkey(1))); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetTransaction(sig(2))
	if got.Seq != 2 {
		t.Errorf("seq = %d, want 2", got.Seq)
	}
}

func TestCommitmentAt(t *testing.T) {
	tests := []struct {
		slot, current uint64
		want          CommitmentLevel
	}{
		{10, 10, CommitmentProcessed},
		{10, 11, CommitmentConfirmed},
		{10, 41, CommitmentConfirmed},
		{10, 42, CommitmentFinalized},
	}
	for _, tt := range tests {
		if got := CommitmentAt(tt.slot, tt.current); got != tt.want {
			t.Errorf("CommitmentAt(%d, %d) = %v, want %v", tt.slot, tt.current, got, tt.want)
		}
	}
}

func TestClosed(t *testing.T) {
	store := openTestStore(t)
	store.Close()
	if err := store.PutTransaction(record(1, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v", err)
	}
}
