package blockstore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

var (
	// ErrTransactionNotFound is returned when a transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateTransaction is returned when a signature is stored twice.
	ErrDuplicateTransaction = errors.New("transaction already recorded")

	// ErrClosed is returned when operating on a closed blockstore.
	ErrClosed = errors.New("blockstore closed")
)

// Bucket names for BoltDB.
var (
	// bucketTxBySignature stores records keyed by signature.
	bucketTxBySignature = []byte("tx_by_sig")

	// bucketSlotTxs indexes signatures by slot+seq.
	bucketSlotTxs = []byte("slot_txs")

	// bucketAddressSignatures indexes signatures by address+slot+seq.
	bucketAddressSignatures = []byte("addr_sigs")

	// bucketMetadata stores blockstore metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyLatestSlot       = []byte("latest_slot")
	keyOldestSlot       = []byte("oldest_slot")
	keyTransactionCount = []byte("transaction_count")
	keySequence         = []byte("sequence")
)

// DefaultRetainSlots keeps roughly two days of history at 400ms slots.
const DefaultRetainSlots = 432_000

// Config holds blockstore configuration options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// PruneEnabled enables automatic pruning of old transactions.
	PruneEnabled bool

	// PruneInterval is how often to run the pruning routine.
	PruneInterval time.Duration

	// RetainSlots is the number of slots to retain during pruning.
	RetainSlots uint64
}

// DefaultConfig returns the default blockstore configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		PruneEnabled:  true,
		PruneInterval: time.Hour,
		RetainSlots:   DefaultRetainSlots,
	}
}

// Store is the ledger interface.
type Store interface {
	PutTransaction(rec *TransactionRecord) error
	GetTransaction(signature types.Signature) (*TransactionRecord, error)
	GetSignaturesForSlot(slot uint64) ([]types.Signature, error)
	GetSignaturesForAddress(address types.Pubkey, opts *SignatureQueryOptions) ([]SignatureInfo, error)
	GetLatestSlot() uint64
	Prune(keepSlots uint64) (uint64, error)
	GetStats() (*Stats, error)
	Close() error
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config

	// Cached values for fast reads.
	mu               sync.RWMutex
	latestSlot       uint64
	oldestSlot       uint64
	transactionCount uint64

	pruneStop chan struct{}
	pruneWG   sync.WaitGroup

	closed bool
}

// Open creates or opens a blockstore at the configured path.
func Open(config Config) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  config.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{
		db:        db,
		config:    config,
		pruneStop: make(chan struct{}),
	}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	if err := store.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	if config.PruneEnabled && config.PruneInterval > 0 {
		store.startPruning()
	}
	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTxBySignature, bucketSlotTxs, bucketAddressSignatures, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if v := meta.Get(keyLatestSlot); v != nil {
			s.latestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyOldestSlot); v != nil {
			s.oldestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyTransactionCount); v != nil {
			s.transactionCount = DecodeSlotKey(v)
		}
		return nil
	})
}

func (s *BoltStore) startPruning() {
	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		ticker := time.NewTicker(s.config.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n, err := s.Prune(s.config.RetainSlots)
				if err != nil {
					log.Printf("[LEDGER] Prune failed: %v", err)
				} else if n > 0 {
					log.Printf("[LEDGER] Pruned %d transactions", n)
				}
			case <-s.pruneStop:
				return
			}
		}
	}()
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// PutTransaction stores rec and indexes it. rec.Seq is assigned here.
func (s *BoltStore) PutTransaction(rec *TransactionRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		sigs := tx.Bucket(bucketTxBySignature)
		if sigs.Get(rec.Signature[:]) != nil {
			return ErrDuplicateTransaction
		}

		meta := tx.Bucket(bucketMetadata)
		seq := DecodeSlotKey(meta.Get(keySequence)) + 1
		if err := meta.Put(keySequence, EncodeSlotKey(seq)); err != nil {
			return err
		}
		rec.Seq = seq

		var txBuf bytes.Buffer
		if err := gob.NewEncoder(&txBuf).Encode(rec); err != nil {
			return fmt.Errorf("encode transaction: %w", err)
		}
		// bbolt holds value slices until commit, so each Put needs its own buffer.
		if err := sigs.Put(rec.Signature[:], txBuf.Bytes()); err != nil {
			return err
		}
		if err := tx.Bucket(bucketSlotTxs).Put(EncodeSlotSeqKey(rec.Slot, seq), rec.Signature[:]); err != nil {
			return err
		}

		info := SignatureInfo{Signature: rec.Signature, Slot: rec.Slot, Seq: seq, BlockTime: rec.BlockTime, Err: rec.Err}
		var sigInfoBuf bytes.Buffer
		if err := gob.NewEncoder(&sigInfoBuf).Encode(&info); err != nil {
			return fmt.Errorf("encode signature info: %w", err)
		}
		addrs := tx.Bucket(bucketAddressSignatures)
		for _, key := range rec.AccountKeys {
			if err := addrs.Put(EncodeAddressKey(key, rec.Slot, seq), sigInfoBuf.Bytes()); err != nil {
				return err
			}
		}

		if rec.Slot > DecodeSlotKey(meta.Get(keyLatestSlot)) {
			if err := meta.Put(keyLatestSlot, EncodeSlotKey(rec.Slot)); err != nil {
				return err
			}
		}
		count := DecodeSlotKey(meta.Get(keyTransactionCount)) + 1
		return meta.Put(keyTransactionCount, EncodeSlotKey(count))
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if rec.Slot > s.latestSlot {
		s.latestSlot = rec.Slot
	}
	s.transactionCount++
	s.mu.Unlock()
	return nil
}

// GetTransaction retrieves a transaction by signature.
func (s *BoltStore) GetTransaction(signature types.Signature) (*TransactionRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rec TransactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTxBySignature).Get(signature[:])
		if data == nil {
			return ErrTransactionNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetSignaturesForSlot returns the signatures processed in slot, in order.
func (s *BoltStore) GetSignaturesForSlot(slot uint64) ([]types.Signature, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var sigs []types.Signature
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSlotTxs).Cursor()
		prefix := EncodeSlotKey(slot)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sig types.Signature
			copy(sig[:], v)
			sigs = append(sigs, sig)
		}
		return nil
	})
	return sigs, err
}

// GetSignaturesForAddress returns the history of address, newest first.
func (s *BoltStore) GetSignaturesForAddress(address types.Pubkey, opts *SignatureQueryOptions) ([]SignatureInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SignatureQueryOptions{}
	}
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	// Start past the newest entry, or at Before's position.
	start := EncodeAddressKey(address, ^uint64(0), ^uint64(0))
	if opts.Before != nil {
		before, err := s.GetTransaction(*opts.Before)
		if err != nil {
			return nil, fmt.Errorf("before: %w", err)
		}
		start = EncodeAddressKey(address, before.Slot, before.Seq)
	}

	var results []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddressSignatures).Cursor()
		prefix := address[:]

		// Seek lands on the first key >= start; the entry before it is
		// the newest one to return.
		k, v := c.Seek(start)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}

		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			var info SignatureInfo
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&info); err != nil {
				return fmt.Errorf("decode signature info: %w", err)
			}
			if opts.Until != nil && info.Signature == *opts.Until {
				break
			}
			results = append(results, info)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetLatestSlot returns the newest slot with a recorded transaction.
func (s *BoltStore) GetLatestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSlot
}

// Prune removes transactions older than keepSlots behind the latest slot.
// Returns the number of transactions pruned.
func (s *BoltStore) Prune(keepSlots uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	latest := s.latestSlot
	s.mu.RUnlock()
	if latest <= keepSlots {
		return 0, nil
	}
	cutoff := latest - keepSlots

	var pruned uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		slots := tx.Bucket(bucketSlotTxs)
		sigs := tx.Bucket(bucketTxBySignature)
		addrs := tx.Bucket(bucketAddressSignatures)
		maxKey := EncodeSlotKey(cutoff)

		var stale [][]byte
		c := slots.Cursor()
		for k, v := c.First(); k != nil && bytes.Compare(k, maxKey) < 0; k, v = c.Next() {
			stale = append(stale, append([]byte(nil), k...))

			var rec TransactionRecord
			if data := sigs.Get(v); data != nil {
				if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
					return fmt.Errorf("decode transaction: %w", err)
				}
				for _, key := range rec.AccountKeys {
					if err := addrs.Delete(EncodeAddressKey(key, rec.Slot, rec.Seq)); err != nil {
						return err
					}
				}
				if err := sigs.Delete(v); err != nil {
					return err
				}
			}
			pruned++
		}
		for _, k := range stale {
			if err := slots.Delete(k); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMetadata)
		count := DecodeSlotKey(meta.Get(keyTransactionCount))
		if pruned > count {
			pruned = count
		}
		if err := meta.Put(keyTransactionCount, EncodeSlotKey(count-pruned)); err != nil {
			return err
		}
		return meta.Put(keyOldestSlot, EncodeSlotKey(cutoff))
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.oldestSlot = cutoff
	s.transactionCount -= pruned
	s.mu.Unlock()
	return pruned, nil
}

// GetStats returns blockstore statistics.
func (s *BoltStore) GetStats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{
		LatestSlot:       s.latestSlot,
		OldestSlot:       s.oldestSlot,
		TransactionCount: s.transactionCount,
	}
	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Close shuts down the blockstore.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.pruneStop)
	s.pruneWG.Wait()
	return s.db.Close()
}

// Verify interface compliance.
var _ Store = (*BoltStore)(nil)
