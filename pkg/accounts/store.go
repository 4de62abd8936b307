package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixAccount + pubkey (32 bytes) -> serialized Account
	prefixAccount = []byte{0x01}

	// prefixMeta + name -> little-endian u64
	prefixMeta = []byte{0x02}

	metaSlot          = append(append([]byte{}, prefixMeta...), []byte("slot")...)
	metaAccountsCount = append(append([]byte{}, prefixMeta...), []byte("count")...)
)

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional logger. Nil disables badger logging.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		SyncWrites:       true,
		NumCompactors:    2,
		ValueLogFileSize: 64 << 20,
	}
}

// BadgerDB is a BadgerDB-backed implementation of the accounts database.
//
// Each Commit runs inside one badger read-write transaction, so the
// create-only checks and the writes of a batch are observed together or
// not at all. Slot and account count live next to the accounts under
// prefixMeta and are cached in atomics.
type BadgerDB struct {
	db *badger.DB

	slot          atomic.Uint64
	accountsCount atomic.Uint64

	// mu serializes writers so the cached count stays exact.
	mu sync.Mutex

	closed atomic.Bool
}

// NewBadgerDB creates a new BadgerDB-backed accounts database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(cfg.Logger)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.ValueLogFileSize > 0 && !cfg.InMemory {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	bdb := &BadgerDB{db: db}
	if err := bdb.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return bdb, nil
}

func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		slot, err := readMeta(txn, metaSlot)
		if err != nil {
			return err
		}
		count, err := readMeta(txn, metaAccountsCount)
		if err != nil {
			return err
		}
		b.slot.Store(slot)
		b.accountsCount.Store(count)
		return nil
	})
}

func readMeta(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) >= 8 {
			v = binary.LittleEndian.Uint64(val)
		}
		return nil
	})
	return v, err
}

func writeMeta(txn *badger.Txn, key []byte, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return txn.Set(key, buf)
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+types.PubkeySize)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

func exists(txn *badger.Txn, pubkey types.Pubkey) (bool, error) {
	_, err := txn.Get(accountKey(pubkey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetAccount retrieves an account by public key.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			acc, err := DeserializeAccount(val)
			if err != nil {
				return err
			}
			account = acc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetAccount stores an account.
func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	batch := NewBatch()
	batch.Set(pubkey, account)
	return b.Commit(batch)
}

// DeleteAccount removes an account.
func (b *BadgerDB) DeleteAccount(pubkey types.Pubkey) error {
	batch := NewBatch()
	batch.Set(pubkey, &Account{})
	return b.Commit(batch)
}

// HasAccount checks if an account exists.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = exists(txn, pubkey)
		return err
	})
	return found, err
}

// Commit applies the batch in one badger transaction.
func (b *BadgerDB) Commit(batch *Batch) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.accountsCount.Load()
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, e := range batch.Entries() {
			present, err := exists(txn, e.Pubkey)
			if err != nil {
				return err
			}
			if e.CreateOnly && present {
				return fmt.Errorf("%s: %w", e.Pubkey, ErrAccountExists)
			}

			if e.Account == nil || e.Account.IsZero() {
				if present {
					if err := txn.Delete(accountKey(e.Pubkey)); err != nil {
						return err
					}
					count--
				}
				continue
			}

			if err := txn.Set(accountKey(e.Pubkey), e.Account.Serialize()); err != nil {
				return err
			}
			if !present {
				count++
			}
		}
		return writeMeta(txn, metaAccountsCount, count)
	})
	if err != nil {
		return err
	}

	b.accountsCount.Store(count)
	return nil
}

// GetSlot returns the current slot.
func (b *BadgerDB) GetSlot() uint64 {
	return b.slot.Load()
}

// SetSlot updates and persists the current slot.
func (b *BadgerDB) SetSlot(slot uint64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return writeMeta(txn, metaSlot, slot)
	})
	if err != nil {
		return err
	}
	b.slot.Store(slot)
	return nil
}

// AccountsCount returns the total number of accounts.
func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.db.Close()
}

// IterateAccounts iterates over all accounts in sorted pubkey order.
func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) bool) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 1+types.PubkeySize {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			account, err := DeserializeAccount(val)
			if err != nil {
				return err
			}
			if !fn(pubkey, account) {
				return nil
			}
		}
		return nil
	})
}

// RunGC runs garbage collection on the value log.
func (b *BadgerDB) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

var _ DB = (*BadgerDB)(nil)
