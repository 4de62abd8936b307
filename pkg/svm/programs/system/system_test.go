package system

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/svm"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
)

type fakeContext struct {
	accounts []*svm.AccountInfo
	logs     []string
	meter    *svm.ComputeMeter
}

func newFakeContext(accounts ...*svm.AccountInfo) *fakeContext {
	return &fakeContext{accounts: accounts, meter: svm.NewComputeMeter(svm.CUDefault)}
}

func (f *fakeContext) ProgramID() types.Pubkey { return ProgramID }
func (f *fakeContext) NumAccounts() int        { return len(f.accounts) }
func (f *fakeContext) GetAccount(i int) (*svm.AccountInfo, error) {
	if i >= len(f.accounts) {
		return nil, svm.ErrNotEnoughAccountKeys
	}
	return f.accounts[i], nil
}
func (f *fakeContext) RentMinimum(n uint64) uint64 { return (128 + n) * 6960 }
func (f *fakeContext) Consume(units uint64) error  { return f.meter.Consume(units) }
func (f *fakeContext) Log(format string, args ...interface{}) {
	f.logs = append(f.logs, fmt.Sprintf(format, args...))
}
func (f *fakeContext) Invoke(txn.Instruction, ...[][]byte) error { return svm.ErrUnsupportedProgramID }

func wallet(b byte, lamports uint64, signer bool) *svm.AccountInfo {
	var key types.Pubkey
	key[0] = b
	return &svm.AccountInfo{Key: key, Owner: ProgramID, Lamports: lamports, IsSigner: signer, IsWritable: true}
}

func TestTransfer(t *testing.T) {
	tests := []struct {
		name     string
		from     *svm.AccountInfo
		amount   uint64
		wantErr  error
		wantFrom uint64
		wantTo   uint64
	}{
		{"ok", wallet(1, 100, true), 40, nil, 60, 40},
		{"exact balance", wallet(1, 40, true), 40, nil, 0, 40},
		{"insufficient", wallet(1, 39, true), 40, ErrResultWithNegativeLamports, 39, 0},
		{"unsigned", wallet(1, 100, false), 40, svm.ErrMissingRequiredSignature, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to := wallet(2, 0, false)
			ctx := newFakeContext(tt.from, to)
			err := NewProcessor().Process(ctx, Transfer(tt.from.Key, to.Key, tt.amount).Data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.from.Lamports != tt.wantFrom || to.Lamports != tt.wantTo {
				t.Errorf("balances = %d/%d, want %d/%d", tt.from.Lamports, to.Lamports, tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestTransferFromDataAccount(t *testing.T) {
	from := wallet(1, 100, true)
	from.Data = []byte{1}
	ctx := newFakeContext(from, wallet(2, 0, false))
	if err := NewProcessor().Process(ctx, Transfer(from.Key, types.Pubkey{2}, 1).Data); !errors.Is(err, svm.ErrInvalidArgument) {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestCreateAccount(t *testing.T) {
	owner := types.LeaderboardProgramID
	funder := wallet(1, 10_000, true)
	created := wallet(2, 0, true)

	ix := CreateAccount(funder.Key, created.Key, 5_000, 429, owner)
	if err := NewProcessor().Process(newFakeContext(funder, created), ix.Data); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if created.Owner != owner || len(created.Data) != 429 || created.Lamports != 5_000 {
		t.Errorf("created = owner %s, %d bytes, %d lamports", created.Owner, len(created.Data), created.Lamports)
	}
	if funder.Lamports != 5_000 {
		t.Errorf("funder lamports = %d, want 5000", funder.Lamports)
	}

	// Second allocation of the same address is rejected and changes nothing.
	err := NewProcessor().Process(newFakeContext(funder, created), ix.Data)
	if !errors.Is(err, ErrAccountAlreadyInUse) {
		t.Fatalf("err = %v, want AccountAlreadyInUse", err)
	}
	if funder.Lamports != 5_000 {
		t.Error("rejected CreateAccount moved lamports")
	}
}

func TestProcessRejectsShortData(t *testing.T) {
	if err := NewProcessor().Process(newFakeContext(), []byte{2, 0}); !errors.Is(err, svm.ErrInvalidInstructionData) {
		t.Fatalf("err = %v", err)
	}
	if err := NewProcessor().Process(newFakeContext(), []byte{99, 0, 0, 0}); !errors.Is(err, svm.ErrInvalidInstructionData) {
		t.Fatalf("err = %v", err)
	}
}
