package runtime

import (
	"bytes"
	"fmt"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/svm"
	"github.com/fortiblox/rock-destroyer/pkg/svm/pda"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
)

// MaxInvokeDepth bounds the instruction stack, top-level instruction included.
const MaxInvokeDepth = 5

// transactionContext is shared by every instruction of one transaction.
type transactionContext struct {
	accounts []*svm.AccountInfo
	keyIndex map[types.Pubkey]int
	programs map[types.Pubkey]svm.Program
	meter    *svm.ComputeMeter
	rent     Rent
	logs     []string
}

func (tc *transactionContext) log(format string, args ...interface{}) {
	tc.logs = append(tc.logs, fmt.Sprintf(format, args...))
}

// instructionAccount references a transaction account with the privileges
// the current instruction grants it.
type instructionAccount struct {
	index    int
	signer   bool
	writable bool
}

type accountState struct {
	owner      types.Pubkey
	lamports   uint64
	data       []byte
	executable bool
}

type privileges struct {
	signer, writable bool
}

// frame is one entry of the instruction stack. It implements svm.InvokeContext.
type frame struct {
	tc        *transactionContext
	programID types.Pubkey
	accounts  []instructionAccount
	depth     int

	merged map[int]privileges
	saved  map[int]privileges
	pre    map[int]accountState
}

func newFrame(tc *transactionContext, programID types.Pubkey, accts []instructionAccount, depth int) *frame {
	f := &frame{
		tc:        tc,
		programID: programID,
		accounts:  accts,
		depth:     depth,
		merged:    make(map[int]privileges, len(accts)),
	}
	for _, ia := range accts {
		p := f.merged[ia.index]
		p.signer = p.signer || ia.signer
		p.writable = p.writable || ia.writable
		f.merged[ia.index] = p
	}
	return f
}

// enter applies this frame's privileges to the shared account views.
func (f *frame) enter() {
	f.saved = make(map[int]privileges, len(f.merged))
	for idx, p := range f.merged {
		a := f.tc.accounts[idx]
		f.saved[idx] = privileges{a.IsSigner, a.IsWritable}
		a.IsSigner, a.IsWritable = p.signer, p.writable
	}
}

func (f *frame) exit() {
	for idx, p := range f.saved {
		a := f.tc.accounts[idx]
		a.IsSigner, a.IsWritable = p.signer, p.writable
	}
}

// snapshot records the state the next verify compares against.
func (f *frame) snapshot() {
	f.pre = make(map[int]accountState, len(f.merged))
	for idx := range f.merged {
		a := f.tc.accounts[idx]
		f.pre[idx] = accountState{
			owner:      a.Owner,
			lamports:   a.Lamports,
			data:       append([]byte(nil), a.Data...),
			executable: a.Executable,
		}
	}
}

// verify enforces the account rules every program is held to: only the
// owner may debit lamports or change data, only writable accounts change,
// ownership moves only off zeroed data, and lamports are conserved.
func (f *frame) verify() error {
	var preSum, postSum uint64
	for idx, pre := range f.pre {
		a := f.tc.accounts[idx]
		writable := f.merged[idx].writable
		owned := pre.owner == f.programID

		if a.Executable != pre.executable {
			return svm.ErrModifiedProgramID
		}
		if a.Owner != pre.owner {
			if !writable || !owned || !allZero(a.Data) {
				return svm.ErrModifiedProgramID
			}
		}
		if a.Lamports != pre.lamports {
			if !writable {
				return svm.ErrReadonlyLamportChange
			}
			if a.Lamports < pre.lamports && !owned {
				return svm.ErrExternalAccountLamportSpend
			}
		}
		if !bytes.Equal(a.Data, pre.data) {
			if !writable {
				return svm.ErrReadonlyDataModified
			}
			if !owned {
				return svm.ErrExternalAccountDataModified
			}
		}
		preSum += pre.lamports
		postSum += a.Lamports
	}
	if preSum != postSum {
		return svm.ErrUnbalancedInstruction
	}
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (f *frame) ProgramID() types.Pubkey { return f.programID }

func (f *frame) NumAccounts() int { return len(f.accounts) }

func (f *frame) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(f.accounts) {
		return nil, svm.ErrNotEnoughAccountKeys
	}
	return f.tc.accounts[f.accounts[index].index], nil
}

func (f *frame) RentMinimum(dataLen uint64) uint64 {
	return f.tc.rent.MinimumBalance(dataLen)
}

func (f *frame) Consume(units uint64) error {
	return f.tc.meter.Consume(units)
}

func (f *frame) Log(format string, args ...interface{}) {
	_ = f.tc.meter.Consume(svm.CULogBase)
	f.tc.log("Program log: "+format, args...)
}

// Invoke runs ix as a nested instruction. The callee can only receive
// privileges the caller holds, plus signatures for program addresses the
// caller derives from signerSeeds.
func (f *frame) Invoke(ix txn.Instruction, signerSeeds ...[][]byte) error {
	if f.depth >= MaxInvokeDepth {
		return svm.ErrCallDepth
	}
	if err := f.tc.meter.Consume(svm.CUInvokeBase); err != nil {
		return err
	}

	pdaSigners := make(map[types.Pubkey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		addr, err := pda.CreateProgramAddress(seeds, f.programID)
		if err != nil {
			return svm.ErrInvalidSeeds
		}
		pdaSigners[addr] = true
	}

	callee := make([]instructionAccount, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		idx, ok := f.tc.keyIndex[meta.Pubkey]
		if !ok {
			return svm.ErrMissingAccount
		}
		granted, ok := f.merged[idx]
		if !ok {
			return svm.ErrMissingAccount
		}
		if meta.IsWritable && !granted.writable {
			f.tc.log("Program %s: %s writable privilege escalated", f.programID, meta.Pubkey)
			return svm.ErrPrivilegeEscalation
		}
		if meta.IsSigner && !granted.signer && !pdaSigners[meta.Pubkey] {
			f.tc.log("Program %s: %s signer privilege escalated", f.programID, meta.Pubkey)
			return svm.ErrPrivilegeEscalation
		}
		callee[i] = instructionAccount{index: idx, signer: meta.IsSigner, writable: meta.IsWritable}
	}

	if err := f.verify(); err != nil {
		return err
	}
	err := f.tc.process(ix.ProgramID, callee, ix.Data, f.depth+1)
	f.snapshot()
	return err
}

// process runs one instruction frame at the given stack depth.
func (tc *transactionContext) process(programID types.Pubkey, accts []instructionAccount, data []byte, depth int) error {
	program, ok := tc.programs[programID]
	if !ok {
		return svm.ErrUnsupportedProgramID
	}

	f := newFrame(tc, programID, accts, depth)
	f.enter()
	defer f.exit()
	f.snapshot()

	tc.log("Program %s invoke [%d]", programID, depth)
	budget := tc.meter.Remaining()

	err := program.Process(f, data)
	if err == nil {
		err = f.verify()
	}

	tc.log("Program %s consumed %d of %d compute units", programID, budget-tc.meter.Remaining(), budget)
	if err != nil {
		tc.log("Program %s failed: %v", programID, err)
		return err
	}
	tc.log("Program %s success", programID)
	return nil
}

var _ svm.InvokeContext = (*frame)(nil)
