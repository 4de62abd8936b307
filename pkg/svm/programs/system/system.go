// Package system implements the subset of the System program the leaderboard
// relies on: moving lamports and allocating program-owned accounts.
//
// Instruction data starts with a 4-byte little-endian discriminant.
package system

import (
	"encoding/binary"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/svm"
)

// ProgramID is the System program address.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

// MaxPermittedDataLength bounds the space CreateAccount and Allocate may request.
const MaxPermittedDataLength = 10 * 1024 * 1024

// System program errors, reported as Custom(code).
var (
	ErrAccountAlreadyInUse        = &svm.CustomError{Code: 0, Name: "AccountAlreadyInUse", Msg: "an account with the same address already exists"}
	ErrResultWithNegativeLamports = &svm.CustomError{Code: 1, Name: "ResultWithNegativeLamports", Msg: "account does not have enough SOL to perform the operation"}
	ErrInvalidProgramID           = &svm.CustomError{Code: 2, Name: "InvalidProgramId", Msg: "cannot assign account to this program id"}
	ErrInvalidAccountDataLength   = &svm.CustomError{Code: 3, Name: "InvalidAccountDataLength", Msg: "cannot allocate account data of this length"}
)

// Processor executes System program instructions.
type Processor struct{}

// NewProcessor creates a new System program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ID implements svm.Program.
func (p *Processor) ID() types.Pubkey {
	return ProgramID
}

// Process executes a System program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.Consume(svm.CUSystemProgramDefault); err != nil {
		return err
	}
	if len(data) < 4 {
		return svm.ErrInvalidInstructionData
	}

	args := data[4:]
	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, args)
	case InstructionAssign:
		return p.processAssign(ctx, args)
	case InstructionTransfer:
		return p.processTransfer(ctx, args)
	case InstructionAllocate:
		return p.processAllocate(ctx, args)
	default:
		return svm.ErrInvalidInstructionData
	}
}

func accounts(ctx svm.InvokeContext, n int) ([]*svm.AccountInfo, error) {
	out := make([]*svm.AccountInfo, n)
	for i := range out {
		a, err := ctx.GetAccount(i)
		if err != nil {
			return nil, svm.ErrNotEnoughAccountKeys
		}
		out[i] = a
	}
	return out, nil
}

// processCreateAccount: lamports (8) + space (8) + owner (32).
// Accounts: [0] funder (signer, writable), [1] new account (signer, writable).
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 48 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	space := binary.LittleEndian.Uint64(data[8:16])
	owner, _ := types.PubkeyFromBytes(data[16:48])

	accs, err := accounts(ctx, 2)
	if err != nil {
		return err
	}
	funder, created := accs[0], accs[1]

	if !funder.IsSigner || !created.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if !created.IsEmpty() {
		ctx.Log("Create Account: account %s already in use", created.Key)
		return ErrAccountAlreadyInUse
	}
	if space > MaxPermittedDataLength {
		return ErrInvalidAccountDataLength
	}
	if funder.Lamports < lamports {
		ctx.Log("Transfer: insufficient lamports %d, need %d", funder.Lamports, lamports)
		return ErrResultWithNegativeLamports
	}

	funder.Lamports -= lamports
	created.Lamports = lamports
	created.Data = make([]byte, space)
	created.Owner = owner
	return nil
}

// processAssign: owner (32). Accounts: [0] account (signer, writable).
func (p *Processor) processAssign(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 32 {
		return svm.ErrInvalidInstructionData
	}
	owner, _ := types.PubkeyFromBytes(data[:32])

	accs, err := accounts(ctx, 1)
	if err != nil {
		return err
	}
	account := accs[0]
	if account.Owner == owner {
		return nil
	}
	if !account.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	account.Owner = owner
	return nil
}

// processTransfer: lamports (8). Accounts: [0] from (signer, writable), [1] to (writable).
func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 8 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[:8])

	accs, err := accounts(ctx, 2)
	if err != nil {
		return err
	}
	from, to := accs[0], accs[1]

	if !from.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if len(from.Data) > 0 {
		ctx.Log("Transfer: `from` must not carry data")
		return svm.ErrInvalidArgument
	}
	if from.Lamports < lamports {
		ctx.Log("Transfer: insufficient lamports %d, need %d", from.Lamports, lamports)
		return ErrResultWithNegativeLamports
	}
	if from.Key == to.Key {
		return nil
	}
	if to.Lamports > ^uint64(0)-lamports {
		return svm.ErrInvalidArgument
	}

	from.Lamports -= lamports
	to.Lamports += lamports
	return nil
}

// processAllocate: space (8). Accounts: [0] account (signer, writable).
func (p *Processor) processAllocate(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 8 {
		return svm.ErrInvalidInstructionData
	}
	space := binary.LittleEndian.Uint64(data[:8])

	accs, err := accounts(ctx, 1)
	if err != nil {
		return err
	}
	account := accs[0]
	if !account.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if len(account.Data) > 0 || account.Owner != ProgramID {
		return ErrAccountAlreadyInUse
	}
	if space > MaxPermittedDataLength {
		return ErrInvalidAccountDataLength
	}
	account.Data = make([]byte, space)
	return nil
}

var _ svm.Program = (*Processor)(nil)
