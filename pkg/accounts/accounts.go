// Package accounts stores the state of every account the runtime knows about.
//
// An account is a lamport balance plus an opaque data buffer owned by a
// program. Wallets are owned by the System program; leaderboards are owned by
// the leaderboard program. The store keeps only current state: the ledger of
// how it got there lives in the blockstore.
//
// Writes produced by a transaction are applied as one Batch through
// DB.Commit. A batch entry marked create-only fails the whole batch with
// ErrAccountExists when the address is already populated, which gives callers
// an atomic "create iff absent" primitive instead of a check-then-create race.
package accounts

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when a create-only write targets a populated address.
	ErrAccountExists = errors.New("account already exists")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when account data is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize bounds the data buffer of a single account.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account represents a single account in the state.
type Account struct {
	// Lamports is the account balance (1 SOL = 1e9 lamports).
	Lamports uint64

	// Data is the account data. Only the owner program may change it.
	Data []byte

	// Owner is the program that owns this account.
	Owner types.Pubkey

	// Executable marks program accounts.
	Executable bool

	// RentEpoch is the epoch at which rent was last collected.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	// 8 (lamports) + 8 (data_len) + data + 32 (owner) + 1 (executable) + 8 (rent_epoch)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account to bytes for storage.
// Format: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], a.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(a.Data)))
	offset += 8

	copy(buf[offset:], a.Data)
	offset += len(a.Data)

	copy(buf[offset:], a.Owner[:])
	offset += 32

	if a.Executable {
		buf[offset] = 1
	}
	offset++

	binary.LittleEndian.PutUint64(buf[offset:], a.RentEpoch)
	return buf
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 57 { // 8 + 8 + 0 + 32 + 1 + 8
		return nil, ErrInvalidData
	}

	offset := 0
	lamports := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	dataLen := binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	if dataLen > MaxAccountDataSize {
		return nil, ErrInvalidData
	}
	if uint64(len(data)-offset) < dataLen+41 {
		return nil, ErrInvalidData
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:offset+int(dataLen)])
	offset += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])
	offset += 32

	executable := data[offset] != 0
	offset++

	return &Account{
		Lamports:   lamports,
		Data:       accountData,
		Owner:      owner,
		Executable: executable,
		RentEpoch:  binary.LittleEndian.Uint64(data[offset:]),
	}, nil
}

// BatchEntry is one write inside a Batch.
type BatchEntry struct {
	Pubkey  types.Pubkey
	Account *Account

	// CreateOnly requires the address to be empty at commit time.
	CreateOnly bool
}

// Batch collects account writes that must land together.
type Batch struct {
	entries map[types.Pubkey]BatchEntry
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{entries: make(map[types.Pubkey]BatchEntry)}
}

// Set queues an upsert. A zero account deletes the address.
func (b *Batch) Set(pubkey types.Pubkey, account *Account) {
	b.entries[pubkey] = BatchEntry{Pubkey: pubkey, Account: account.Clone()}
}

// Create queues a write that only succeeds if the address is unpopulated.
func (b *Batch) Create(pubkey types.Pubkey, account *Account) {
	b.entries[pubkey] = BatchEntry{Pubkey: pubkey, Account: account.Clone(), CreateOnly: true}
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	return len(b.entries)
}

// Entries returns the queued writes sorted by pubkey.
func (b *Batch) Entries() []BatchEntry {
	out := make([]BatchEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pubkey.Compare(out[j].Pubkey) < 0
	})
	return out
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account. Zero accounts are deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// Commit applies every write in the batch or none of them.
	Commit(batch *Batch) error

	// IterateAccounts calls fn for every stored account until fn returns false.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) bool) error

	// GetSlot returns the last persisted slot.
	GetSlot() uint64

	// SetSlot updates the persisted slot.
	SetSlot(slot uint64) error

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.put(pubkey, account)
	return nil
}

func (m *MemoryDB) put(pubkey types.Pubkey, account *Account) {
	if account == nil || account.IsZero() {
		delete(m.accounts, pubkey)
		return
	}
	m.accounts[pubkey] = account.Clone()
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// Commit applies the batch under a single lock.
func (m *MemoryDB) Commit(batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	entries := batch.Entries()
	for _, e := range entries {
		if !e.CreateOnly {
			continue
		}
		if _, ok := m.accounts[e.Pubkey]; ok {
			return ErrAccountExists
		}
	}
	for _, e := range entries {
		m.put(e.Pubkey, e.Account)
	}
	return nil
}

// IterateAccounts walks accounts in pubkey order.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	for k := range m.accounts {
		keys = append(keys, k)
	}
	snapshot := make(map[types.Pubkey]*Account, len(keys))
	for _, k := range keys {
		snapshot[k] = m.accounts[k].Clone()
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	for _, k := range keys {
		if !fn(k, snapshot[k]) {
			break
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// SetSlot updates the current slot.
func (m *MemoryDB) SetSlot(slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.slot = slot
	return nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

var _ DB = (*MemoryDB)(nil)
