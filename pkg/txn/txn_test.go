package txn

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

func newKey(t *testing.T) (types.Pubkey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var p types.Pubkey
	copy(p[:], pub)
	return p, priv
}

func TestShortVec(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{0x7f, []byte{0x7f}},
		{0x80, []byte{0x80, 0x01}},
		{0x3fff, []byte{0xff, 0x7f}},
		{0x4000, []byte{0x80, 0x80, 0x01}},
		{0xffff, []byte{0xff, 0xff, 0x03}},
	}
	for _, tt := range tests {
		got := appendShortVec(nil, tt.n)
		if string(got) != string(tt.want) {
			t.Errorf("appendShortVec(%#x) = %x, want %x", tt.n, got, tt.want)
			continue
		}
		n, used, err := readShortVec(got)
		if err != nil || n != tt.n || used != len(got) {
			t.Errorf("readShortVec(%x) = %d, %d, %v", got, n, used, err)
		}
	}
	if _, _, err := readShortVec([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("expected overflow error")
	}
}

func TestCompileMessageOrdering(t *testing.T) {
	payer, _ := newKey(t)
	player, _ := newKey(t)
	board, _ := newKey(t)
	program, _ := newKey(t)

	ix := Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: board, IsWritable: true},
			{Pubkey: player, IsSigner: true},
			{Pubkey: types.SystemProgramAddr},
		},
	}
	msg, err := CompileMessage([]Instruction{ix}, payer, types.Hash{1})
	if err != nil {
		t.Fatal(err)
	}

	want := []types.Pubkey{payer, player, board, program, types.SystemProgramAddr}
	if len(msg.AccountKeys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(msg.AccountKeys), len(want))
	}
	// Readonly unsigned keys keep first-seen order; only classes are fixed.
	if msg.AccountKeys[0] != payer || msg.AccountKeys[1] != player || msg.AccountKeys[2] != board {
		t.Errorf("unexpected key order: %v", msg.AccountKeys)
	}
	if msg.Header != (MessageHeader{2, 1, 2}) {
		t.Errorf("header = %+v", msg.Header)
	}
	if !msg.IsWritable(0) || msg.IsWritable(1) || !msg.IsWritable(2) || msg.IsWritable(3) {
		t.Error("writable flags do not match classes")
	}

	resolved, err := msg.Instruction(0)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.ProgramID != program || resolved.Accounts[0].Pubkey != board || !resolved.Accounts[1].IsSigner {
		t.Errorf("resolved instruction mismatch: %+v", resolved)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	payer, payerKey := newKey(t)
	player, playerKey := newKey(t)
	program, _ := newKey(t)

	tx, err := NewTransaction([]Instruction{{
		ProgramID: program,
		Accounts:  []AccountMeta{{Pubkey: player, IsSigner: true, IsWritable: true}},
		Data:      []byte{1, 2, 3},
	}}, payer, types.Hash{9})
	if err != nil {
		t.Fatal(err)
	}

	if err := tx.Sign(payerKey); !errors.Is(err, ErrMissingSigner) {
		t.Fatalf("expected ErrMissingSigner, got %v", err)
	}
	if err := tx.Sign(payerKey, playerKey); err != nil {
		t.Fatal(err)
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := FromBase64(encoded)
	if err != nil {
		t.Fatalf("FromBase64: %v", err)
	}
	if decoded.Signature() != tx.Signature() {
		t.Error("signature changed across encoding")
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("decoded Verify: %v", err)
	}
	if string(decoded.Message.Instructions[0].Data) != string([]byte{1, 2, 3}) {
		t.Error("instruction data changed across encoding")
	}

	decoded.Message.Instructions[0].Data[0] = 9
	if err := decoded.Verify(); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered message verified: %v", err)
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	payer, payerKey := newKey(t)
	tx, _ := NewTransaction([]Instruction{{ProgramID: types.SystemProgramAddr}}, payer, types.Hash{})
	tx.Sign(payerKey)
	raw, _ := tx.MarshalBinary()

	var out Transaction
	if err := out.UnmarshalBinary(append(raw, 0)); err == nil {
		t.Error("expected trailing byte error")
	}
	if err := out.UnmarshalBinary(raw[:len(raw)-1]); err == nil {
		t.Error("expected truncation error")
	}
}
