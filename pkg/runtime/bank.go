// Package runtime executes transactions for a single-node ledger.
//
// A Bank owns the current slot, the recent blockhash queue and the status
// cache of processed signatures. Transactions are checked against those,
// locked on the accounts they touch, executed by the TransactionExecutor
// and, once committed, handed to the ledger and to observers.
//
// Transactions that touch disjoint accounts run concurrently; the bank only
// serialises transactions whose account sets conflict.
package runtime

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/blockstore"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/svm"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/system"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
)

// Errors.
var (
	ErrFaucetDisabled  = errors.New("faucet is not configured")
	ErrAirdropFailed   = errors.New("airdrop failed")
	ErrAirdropTooLarge = errors.New("airdrop exceeds the faucet limit")
)

// NativeLoaderID owns the accounts of native programs.
var NativeLoaderID = types.MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")

// Config holds bank configuration.
type Config struct {
	// FeePerSignature is charged to the fee payer of every processed
	// transaction, successful or not.
	FeePerSignature uint64

	// ComputeUnitLimit is the default per-transaction compute budget.
	ComputeUnitLimit uint64

	// MaxBlockhashAge is how many slots a blockhash stays valid.
	MaxBlockhashAge int

	// Rent parameters for exemption checks.
	Rent Rent

	// SkipSignatureVerification disables ed25519 checks. Tests only.
	SkipSignatureVerification bool

	// MaxAirdrop bounds a single faucet request. Zero means unlimited.
	MaxAirdrop uint64
}

// DefaultConfig returns the default bank configuration.
func DefaultConfig() Config {
	return Config{
		FeePerSignature:  5000,
		ComputeUnitLimit: svm.CUDefault,
		MaxBlockhashAge:  MaxRecentBlockhashes,
		Rent:             DefaultRent(),
		MaxAirdrop:       100_000_000_000,
	}
}

// Ledger persists processed transactions.
type Ledger interface {
	PutTransaction(rec *blockstore.TransactionRecord) error
}

// Observer is told about committed state, in commit order per account.
type Observer interface {
	OnAccountUpdate(update *geyser.AccountUpdate)
	OnTransaction(update *geyser.TransactionUpdate)
	OnSlot(update *geyser.SlotUpdate)
}

// SlotInfo summarises a completed slot.
type SlotInfo struct {
	Slot              uint64
	Parent            uint64
	Blockhash         types.Hash
	BankHash          types.Hash
	AccountsDeltaHash types.Hash
	NumSignatures     uint64
}

// Bank processes transactions and advances slots.
type Bank struct {
	mu sync.RWMutex

	// commitMu is held shared while a transaction runs and records its
	// changes, and exclusively while Tick closes the slot.
	commitMu sync.RWMutex

	accounts accounts.DB
	executor *TransactionExecutor
	locks    *AccountLocks
	statuses *statusCache
	config   Config

	// Guarded by mu.
	slot        uint64
	bankHash    types.Hash
	blockhashes *blockhashQueue

	deltaMu        sync.Mutex
	modified       map[types.Pubkey]struct{}
	signatureCount uint64

	writeVersion atomic.Uint64

	ledger   Ledger
	observer Observer
	faucet   ed25519.PrivateKey
}

// New creates a bank resuming at the slot recorded in accts.
func New(accts accounts.DB, config Config) *Bank {
	b := &Bank{
		accounts:    accts,
		executor:    NewTransactionExecutor(accts, config),
		locks:       NewAccountLocks(),
		statuses:    newStatusCache(),
		config:      config,
		slot:        accts.GetSlot(),
		blockhashes: newBlockhashQueue(config.MaxBlockhashAge),
		modified:    make(map[types.Pubkey]struct{}),
	}
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], b.slot)
	b.blockhashes.push(types.ComputeHash([]byte("rock-destroyer"), seed[:]), b.slot)

	b.executor.Register(system.NewProcessor())
	return b
}

// SetLedger sets where processed transactions are recorded.
func (b *Bank) SetLedger(l Ledger) { b.ledger = l }

// SetObserver sets the receiver of state notifications.
func (b *Bank) SetObserver(o Observer) { b.observer = o }

// SetFaucet enables Airdrop, funded from key's account.
func (b *Bank) SetFaucet(key ed25519.PrivateKey) { b.faucet = key }

// FaucetAddress returns the faucet account, or the zero key when disabled.
func (b *Bank) FaucetAddress() types.Pubkey {
	var pk types.Pubkey
	if b.faucet != nil {
		copy(pk[:], b.faucet.Public().(ed25519.PublicKey))
	}
	return pk
}

// Register adds a native program and creates its executable account if
// it does not exist yet.
func (b *Bank) Register(p svm.Program) error {
	b.executor.Register(p)
	ok, err := b.accounts.HasAccount(p.ID())
	if err != nil || ok {
		return err
	}
	batch := accounts.NewBatch()
	batch.Create(p.ID(), &accounts.Account{Lamports: 1, Owner: NativeLoaderID, Executable: true})
	if err := b.accounts.Commit(batch); err != nil && !errors.Is(err, accounts.ErrAccountExists) {
		return fmt.Errorf("create program account %s: %w", p.ID(), err)
	}
	return nil
}

// Genesis credits system-owned accounts that do not exist yet.
func (b *Bank) Genesis(balances map[types.Pubkey]uint64) error {
	batch := accounts.NewBatch()
	for key, lamports := range balances {
		ok, err := b.accounts.HasAccount(key)
		if err != nil {
			return err
		}
		if ok || lamports == 0 {
			continue
		}
		batch.Create(key, &accounts.Account{Lamports: lamports, Owner: types.SystemProgramAddr})
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := b.accounts.Commit(batch); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	log.Printf("[BANK] Genesis funded %d accounts", batch.Len())
	return nil
}

// Slot returns the current slot.
func (b *Bank) Slot() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slot
}

// BankHash returns the hash of the last completed slot.
func (b *Bank) BankHash() types.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bankHash
}

// LatestBlockhash returns the newest blockhash and the last slot at which
// it is still accepted.
func (b *Bank) LatestBlockhash() (types.Hash, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e := b.blockhashes.latest()
	return e.hash, e.slot + uint64(b.blockhashes.maxAge)
}

// IsBlockhashValid reports whether h can still be used by a transaction.
func (b *Bank) IsBlockhashValid(h types.Hash) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blockhashes.contains(h)
}

// GetAccount returns the committed state of key.
func (b *Bank) GetAccount(key types.Pubkey) (*accounts.Account, error) {
	return b.accounts.GetAccount(key)
}

// GetBalance returns the lamports of key, zero if the account does not exist.
func (b *Bank) GetBalance(key types.Pubkey) (uint64, error) {
	acct, err := b.accounts.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Lamports, nil
}

// RentMinimum returns the rent-exempt balance for dataLen bytes.
func (b *Bank) RentMinimum(dataLen uint64) uint64 {
	return b.config.Rent.MinimumBalance(dataLen)
}

// FeePerSignature returns the per-signature fee.
func (b *Bank) FeePerSignature() uint64 {
	return b.config.FeePerSignature
}

// Programs returns the IDs of the registered native programs.
func (b *Bank) Programs() []types.Pubkey {
	return b.executor.Programs()
}

// SignatureStatus returns the outcome of a recently processed transaction.
func (b *Bank) SignatureStatus(sig types.Signature) (SignatureStatus, bool) {
	return b.statuses.get(sig)
}

func (b *Bank) sanitize(tx *txn.Transaction) error {
	if len(tx.Message.AccountKeys) == 0 || len(tx.Message.Instructions) == 0 {
		return ErrSanitizeFailure
	}
	if b.config.SkipSignatureVerification {
		if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
			return ErrSanitizeFailure
		}
		return nil
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureFailure, err)
	}
	return nil
}

// ProcessTransaction executes tx and commits its effects.
//
// A returned error means the transaction was rejected outright and nothing,
// not even the fee, was charged. Otherwise the result's Err reports whether
// the instructions succeeded.
func (b *Bank) ProcessTransaction(tx *txn.Transaction) (*TransactionResult, error) {
	if err := b.sanitize(tx); err != nil {
		return nil, err
	}

	b.commitMu.RLock()
	defer b.commitMu.RUnlock()

	b.mu.RLock()
	slot := b.slot
	valid := b.blockhashes.contains(tx.Message.RecentBlockhash)
	b.mu.RUnlock()
	if !valid {
		return nil, ErrBlockhashNotFound
	}

	sig := tx.Signature()
	if !b.statuses.reserve(sig, slot) {
		return nil, ErrAlreadyProcessed
	}

	writable, readonly := lockKeys(&tx.Message)
	unlock := b.locks.Lock(writable, readonly)
	defer unlock()

	result, err := b.executor.Execute(tx, slot, true)
	if err != nil {
		b.statuses.forget(sig)
		return nil, err
	}
	b.statuses.set(sig, SignatureStatus{Slot: slot, Err: result.Err})

	b.deltaMu.Lock()
	for _, c := range result.Changes {
		b.modified[c.Pubkey] = struct{}{}
	}
	b.signatureCount += uint64(len(tx.Signatures))
	b.deltaMu.Unlock()

	b.publish(tx, result)
	return result, nil
}

// SimulateTransaction executes tx without committing anything. Signature
// and blockhash checks are optional, as they are for simulation over RPC.
func (b *Bank) SimulateTransaction(tx *txn.Transaction, sigVerify, checkBlockhash bool) (*TransactionResult, error) {
	if len(tx.Message.AccountKeys) == 0 || len(tx.Message.Instructions) == 0 {
		return nil, ErrSanitizeFailure
	}
	if sigVerify {
		if err := tx.Verify(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureFailure, err)
		}
	}
	if checkBlockhash && !b.IsBlockhashValid(tx.Message.RecentBlockhash) {
		return nil, ErrBlockhashNotFound
	}

	writable, readonly := lockKeys(&tx.Message)
	unlock := b.locks.Lock(writable, readonly)
	defer unlock()
	return b.executor.Execute(tx, b.Slot(), false)
}

func (b *Bank) publish(tx *txn.Transaction, result *TransactionResult) {
	errJSON := ErrorJSON(result.Err)
	var errMsg string
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	if b.ledger != nil {
		raw, err := tx.MarshalBinary()
		if err != nil {
			log.Printf("[BANK] Failed to encode transaction %s: %v", result.Signature, err)
		}
		rec := &blockstore.TransactionRecord{
			Signature:            result.Signature,
			Slot:                 result.Slot,
			BlockTime:            time.Now().Unix(),
			Transaction:          raw,
			AccountKeys:          result.AccountKeys,
			Fee:                  result.Fee,
			ComputeUnitsConsumed: result.ComputeUnitsConsumed,
			PreBalances:          result.PreBalances,
			PostBalances:         result.PostBalances,
			LogMessages:          result.Logs,
			Err:                  errJSON,
			ErrMessage:           errMsg,
		}
		if err := b.ledger.PutTransaction(rec); err != nil {
			log.Printf("[BANK] Failed to record transaction %s: %v", result.Signature, err)
		}
	}

	if b.observer == nil {
		return
	}
	for _, c := range result.Changes {
		b.observer.OnAccountUpdate(&geyser.AccountUpdate{
			Pubkey:       c.Pubkey,
			Slot:         result.Slot,
			Lamports:     c.Account.Lamports,
			Owner:        c.Account.Owner,
			Data:         c.Account.Data,
			Executable:   c.Account.Executable,
			RentEpoch:    c.Account.RentEpoch,
			WriteVersion: b.writeVersion.Add(1),
			TxnSignature: result.Signature,
		})
	}
	b.observer.OnTransaction(&geyser.TransactionUpdate{
		Signature:            result.Signature,
		Slot:                 result.Slot,
		Err:                  errJSON,
		ErrMessage:           errMsg,
		Fee:                  result.Fee,
		ComputeUnitsConsumed: result.ComputeUnitsConsumed,
		AccountKeys:          result.AccountKeys,
		LogMessages:          result.Logs,
	})
}

// Airdrop transfers lamports from the faucet to to.
func (b *Bank) Airdrop(to types.Pubkey, lamports uint64) (types.Signature, error) {
	if b.faucet == nil {
		return types.Signature{}, ErrFaucetDisabled
	}
	if b.config.MaxAirdrop > 0 && lamports > b.config.MaxAirdrop {
		return types.Signature{}, fmt.Errorf("%w: %d > %d", ErrAirdropTooLarge, lamports, b.config.MaxAirdrop)
	}

	from := b.FaucetAddress()
	blockhash, _ := b.LatestBlockhash()
	tx, err := txn.NewTransaction([]txn.Instruction{system.Transfer(from, to, lamports)}, from, blockhash)
	if err != nil {
		return types.Signature{}, err
	}
	if err := tx.Sign(b.faucet); err != nil {
		return types.Signature{}, err
	}

	result, err := b.ProcessTransaction(tx)
	if err != nil {
		return types.Signature{}, fmt.Errorf("%w: %v", ErrAirdropFailed, err)
	}
	if result.Err != nil {
		return result.Signature, fmt.Errorf("%w: %v", ErrAirdropFailed, result.Err)
	}
	return result.Signature, nil
}

// Tick closes the current slot: it hashes the accounts changed during the
// slot into the bank hash, derives the next blockhash and advances.
func (b *Bank) Tick() (SlotInfo, error) {
	b.commitMu.Lock()
	info, err := b.closeSlot()
	b.commitMu.Unlock()
	if err != nil {
		return info, err
	}

	if b.observer != nil {
		b.observer.OnSlot(&geyser.SlotUpdate{
			Slot:      info.Slot,
			Parent:    info.Parent,
			Blockhash: info.Blockhash,
			BankHash:  info.BankHash,
			Status:    geyser.SlotStatusProcessed,
		})
	}
	return info, nil
}

// closeSlot hashes the slot's changes and advances. Callers hold commitMu.
func (b *Bank) closeSlot() (SlotInfo, error) {
	b.deltaMu.Lock()
	modified := b.modified
	sigs := b.signatureCount
	b.modified = make(map[types.Pubkey]struct{})
	b.signatureCount = 0
	b.deltaMu.Unlock()

	entries := make([]accounts.AccountHashEntry, 0, len(modified))
	for key := range modified {
		acct, err := b.accounts.GetAccount(key)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			acct = &accounts.Account{}
		} else if err != nil {
			return SlotInfo{}, fmt.Errorf("hash account %s: %w", key, err)
		}
		entries = append(entries, accounts.AccountHashEntry{Pubkey: key, Hash: accounts.ComputeAccountHash(key, acct)})
	}
	delta := accounts.ComputeDeltaHash(entries)

	b.mu.Lock()
	parent := b.slot
	current := b.blockhashes.latest().hash
	b.bankHash = accounts.ComputeBankHash(accounts.BankHashInput{
		ParentBankHash:    b.bankHash,
		AccountsDeltaHash: delta,
		NumSignatures:     sigs,
		Blockhash:         current,
	})
	b.slot++
	next := types.ComputeHash(current[:], b.bankHash[:])
	b.blockhashes.push(next, b.slot)
	info := SlotInfo{
		Slot:              b.slot,
		Parent:            parent,
		Blockhash:         next,
		BankHash:          b.bankHash,
		AccountsDeltaHash: delta,
		NumSignatures:     sigs,
	}
	b.mu.Unlock()

	if err := b.accounts.SetSlot(info.Slot); err != nil {
		return info, fmt.Errorf("persist slot: %w", err)
	}
	if maxAge := uint64(b.blockhashes.maxAge); info.Slot > maxAge {
		b.statuses.prune(info.Slot - maxAge)
	}
	return info, nil
}

// Run ticks every interval until ctx is cancelled.
func (b *Bank) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := b.Tick(); err != nil {
				log.Printf("[BANK] Tick failed: %v", err)
			}
		}
	}
}

// lockKeys splits the message's keys by the lock each needs.
func lockKeys(msg *txn.Message) (writable, readonly []types.Pubkey) {
	for i, key := range msg.AccountKeys {
		if msg.IsWritable(i) {
			writable = append(writable, key)
		} else {
			readonly = append(readonly, key)
		}
	}
	return writable, readonly
}
