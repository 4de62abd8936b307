package runtime

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/svm"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
)

// TransactionExecutor executes transactions against the accounts store.
// It does no locking of its own; Bank serialises conflicting transactions.
type TransactionExecutor struct {
	accounts accounts.DB
	programs map[types.Pubkey]svm.Program
	config   Config
}

// NewTransactionExecutor creates an executor with no programs registered
// besides the compute budget program.
func NewTransactionExecutor(accts accounts.DB, config Config) *TransactionExecutor {
	e := &TransactionExecutor{
		accounts: accts,
		programs: make(map[types.Pubkey]svm.Program),
		config:   config,
	}
	e.Register(computeBudgetProgram{})
	return e
}

// Register makes a native program callable under its ID.
func (e *TransactionExecutor) Register(p svm.Program) {
	e.programs[p.ID()] = p
}

// Programs returns the registered program IDs in key order.
func (e *TransactionExecutor) Programs() []types.Pubkey {
	ids := make([]types.Pubkey, 0, len(e.programs))
	for id := range e.programs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

// AccountChange is the committed post-state of one account.
type AccountChange struct {
	Pubkey  types.Pubkey
	Account *accounts.Account
}

// TransactionResult describes a processed or simulated transaction.
type TransactionResult struct {
	Signature types.Signature
	Slot      uint64

	// Err is nil on success, otherwise an *svm.InstructionError or *RentError.
	// A failed transaction still pays its fee.
	Err error

	Fee                  uint64
	ComputeUnitsConsumed uint64
	Logs                 []string

	AccountKeys  []types.Pubkey
	PreBalances  []uint64
	PostBalances []uint64

	// PostAccounts is the state of each account key after the transaction.
	PostAccounts []*accounts.Account

	// Changes lists the writes that reached (or would reach) storage.
	Changes []AccountChange
}

// Execute runs tx at slot. With commit unset the result is computed and
// nothing is written.
//
// The returned error is non-nil only when the transaction cannot be charged
// (missing or underfunded fee payer, malformed message) or when storage
// fails. Instruction failures are reported in TransactionResult.Err.
func (e *TransactionExecutor) Execute(tx *txn.Transaction, slot uint64, commit bool) (*TransactionResult, error) {
	msg := &tx.Message
	keys := msg.AccountKeys
	if len(keys) == 0 || msg.Header.NumRequiredSignatures == 0 {
		return nil, ErrSanitizeFailure
	}

	limit, err := computeUnitLimit(msg, e.config.ComputeUnitLimit)
	if err != nil {
		return nil, ErrSanitizeFailure
	}

	fee := e.config.FeePerSignature * uint64(len(tx.Signatures))
	result := &TransactionResult{
		Signature:   tx.Signature(),
		Slot:        slot,
		Fee:         fee,
		AccountKeys: keys,
	}

	views := make([]*svm.AccountInfo, len(keys))
	pre := make([]*accounts.Account, len(keys))
	existed := make([]bool, len(keys))
	keyIndex := make(map[types.Pubkey]int, len(keys))
	for i, key := range keys {
		if _, dup := keyIndex[key]; dup {
			return nil, ErrSanitizeFailure
		}
		keyIndex[key] = i

		acct, err := e.accounts.GetAccount(key)
		switch {
		case errors.Is(err, accounts.ErrAccountNotFound):
			acct = &accounts.Account{Owner: types.SystemProgramAddr}
		case err != nil:
			return nil, fmt.Errorf("load account %s: %w", key, err)
		default:
			existed[i] = true
		}
		pre[i] = acct.Clone()
		views[i] = &svm.AccountInfo{
			Key:        key,
			Owner:      acct.Owner,
			Lamports:   acct.Lamports,
			Data:       acct.Data,
			Executable: acct.Executable,
			RentEpoch:  acct.RentEpoch,
			IsSigner:   msg.IsSigner(i),
			IsWritable: msg.IsWritable(i),
		}
	}

	payer := views[0]
	if !existed[0] {
		return nil, ErrAccountNotFound
	}
	if payer.Owner != types.SystemProgramAddr || len(payer.Data) > 0 {
		return nil, ErrInvalidAccountForFee
	}
	if payer.Lamports < fee {
		return nil, ErrInsufficientFundsForFee
	}
	result.PreBalances = balances(pre)
	payer.Lamports -= fee

	tc := &transactionContext{
		accounts: views,
		keyIndex: keyIndex,
		programs: e.programs,
		meter:    svm.NewComputeMeter(limit),
		rent:     e.config.Rent,
	}
	result.Err = e.run(tc, msg)
	if result.Err == nil {
		result.Err = e.checkRent(views, pre)
	}
	result.Logs = tc.logs
	result.ComputeUnitsConsumed = tc.meter.Consumed()

	if result.Err != nil {
		// Only the fee debit survives.
		charged := pre[0].Clone()
		charged.Lamports -= fee
		for i := range views {
			views[i] = toInfo(keys[i], pre[i])
		}
		views[0] = toInfo(keys[0], charged)
	}

	batch := accounts.NewBatch()
	result.PostAccounts = make([]*accounts.Account, len(keys))
	for i, v := range views {
		post := toAccount(v)
		result.PostAccounts[i] = post
		if !msg.IsWritable(i) || (i != 0 && accountEqual(pre[i], post)) {
			continue
		}
		if existed[i] {
			batch.Set(keys[i], post)
		} else {
			batch.Create(keys[i], post)
		}
		result.Changes = append(result.Changes, AccountChange{Pubkey: keys[i], Account: post})
	}
	result.PostBalances = balances(result.PostAccounts)

	if commit {
		if err := e.accounts.Commit(batch); err != nil {
			return nil, fmt.Errorf("commit transaction %s: %w", result.Signature, err)
		}
	}
	return result, nil
}

func (e *TransactionExecutor) run(tc *transactionContext, msg *txn.Message) error {
	for i, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(msg.AccountKeys) {
			return &svm.InstructionError{Index: uint8(i), Err: svm.ErrNotEnoughAccountKeys}
		}
		programID := msg.AccountKeys[ci.ProgramIDIndex]

		accts := make([]instructionAccount, len(ci.Accounts))
		for j, idx := range ci.Accounts {
			if int(idx) >= len(msg.AccountKeys) {
				return &svm.InstructionError{Index: uint8(i), Err: svm.ErrNotEnoughAccountKeys}
			}
			accts[j] = instructionAccount{
				index:    int(idx),
				signer:   msg.IsSigner(int(idx)),
				writable: msg.IsWritable(int(idx)),
			}
		}

		if err := tc.process(programID, accts, ci.Data, 1); err != nil {
			return &svm.InstructionError{Index: uint8(i), Err: err}
		}
	}
	return nil
}

// checkRent rejects a transaction that leaves a changed, funded account
// holding data below the rent-exempt minimum.
func (e *TransactionExecutor) checkRent(views []*svm.AccountInfo, pre []*accounts.Account) error {
	for i, v := range views {
		if !v.IsWritable || v.Lamports == 0 || len(v.Data) == 0 {
			continue
		}
		if accountEqual(pre[i], toAccount(v)) {
			continue
		}
		if !e.config.Rent.IsExempt(v.Lamports, uint64(len(v.Data))) {
			return &RentError{AccountIndex: uint8(i)}
		}
	}
	return nil
}

func toAccount(v *svm.AccountInfo) *accounts.Account {
	return &accounts.Account{
		Lamports:   v.Lamports,
		Data:       append([]byte(nil), v.Data...),
		Owner:      v.Owner,
		Executable: v.Executable,
		RentEpoch:  v.RentEpoch,
	}
}

func toInfo(key types.Pubkey, a *accounts.Account) *svm.AccountInfo {
	return &svm.AccountInfo{
		Key:        key,
		Owner:      a.Owner,
		Lamports:   a.Lamports,
		Data:       a.Data,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

func accountEqual(a, b *accounts.Account) bool {
	return a.Lamports == b.Lamports &&
		a.Owner == b.Owner &&
		a.Executable == b.Executable &&
		a.RentEpoch == b.RentEpoch &&
		string(a.Data) == string(b.Data)
}

func balances(accts []*accounts.Account) []uint64 {
	out := make([]uint64, len(accts))
	for i, a := range accts {
		out[i] = a.Lamports
	}
	return out
}
