// Package svm defines the contract between the runtime and the native
// programs it executes.
//
// A program receives an InvokeContext holding AccountInfo views of the
// instruction's accounts. It mutates those views in place; the runtime
// checks ownership and balance rules after the program returns and only
// then lets the changes reach the accounts store.
package svm

import (
	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
)

// AccountInfo is the mutable view of an account during an instruction.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// IsEmpty reports whether the account is unallocated: no lamports, no data,
// owned by the System program.
func (a *AccountInfo) IsEmpty() bool {
	return a.Lamports == 0 && len(a.Data) == 0 && a.Owner == types.SystemProgramAddr
}

// InvokeContext is what a program sees while it runs.
type InvokeContext interface {
	// ProgramID returns the id of the running program.
	ProgramID() types.Pubkey

	// NumAccounts returns the number of accounts passed to the instruction.
	NumAccounts() int

	// GetAccount returns the account at the given instruction index.
	GetAccount(index int) (*AccountInfo, error)

	// RentMinimum returns the rent-exempt balance for dataLen bytes.
	RentMinimum(dataLen uint64) uint64

	// Consume charges compute units.
	Consume(units uint64) error

	// Log appends a "Program log:" line to the transaction logs.
	Log(format string, args ...interface{})

	// Invoke runs a nested instruction. Each entry of signerSeeds derives a
	// program address of the calling program that is treated as a signer.
	Invoke(ix txn.Instruction, signerSeeds ...[][]byte) error
}

// Program is a native program the runtime can dispatch to.
type Program interface {
	ID() types.Pubkey
	Process(ctx InvokeContext, data []byte) error
}
