// Package blockstore is the transaction ledger of the node.
//
// Every processed transaction, successful or failed, is stored once with
// its execution metadata and indexed three ways:
// - by signature
// - by slot, in processing order
// - by every account key it references, newest first
//
// The store uses BoltDB, so writes are ACID and readers never block the
// single writer.
package blockstore

import (
	"encoding/binary"
	"encoding/json"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// CommitmentLevel is the confirmation status reported for a transaction.
type CommitmentLevel uint8

const (
	// CommitmentProcessed means the transaction is in the current slot.
	CommitmentProcessed CommitmentLevel = iota

	// CommitmentConfirmed means at least one slot was built on top.
	CommitmentConfirmed

	// CommitmentFinalized means FinalityDepth slots were built on top.
	CommitmentFinalized
)

// FinalityDepth is the number of descendant slots after which a
// transaction is reported finalized.
const FinalityDepth = 32

// String returns the string representation of the commitment level.
func (c CommitmentLevel) String() string {
	switch c {
	case CommitmentProcessed:
		return "processed"
	case CommitmentConfirmed:
		return "confirmed"
	case CommitmentFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// CommitmentAt returns the commitment of a transaction processed in slot
// when the ledger is at current.
func CommitmentAt(slot, current uint64) CommitmentLevel {
	switch {
	case current >= slot+FinalityDepth:
		return CommitmentFinalized
	case current > slot:
		return CommitmentConfirmed
	default:
		return CommitmentProcessed
	}
}

// TransactionRecord is a processed transaction with its execution metadata.
type TransactionRecord struct {
	// Signature is the first signature of the transaction.
	Signature types.Signature

	// Slot is the slot the transaction was processed in.
	Slot uint64

	// Seq orders records processed in the same slot. Assigned by the store.
	Seq uint64

	// BlockTime is the Unix time of processing.
	BlockTime int64

	// Transaction is the wire encoding of the signed transaction.
	Transaction []byte

	// AccountKeys lists every account the message references.
	AccountKeys []types.Pubkey

	// Fee is the fee in lamports charged to the fee payer.
	Fee uint64

	// ComputeUnitsConsumed is the compute used by all instructions.
	ComputeUnitsConsumed uint64

	// PreBalances and PostBalances align with AccountKeys.
	PreBalances  []uint64
	PostBalances []uint64

	// LogMessages are the program logs.
	LogMessages []string

	// Err is the JSON transaction error, nil on success.
	Err json.RawMessage

	// ErrMessage is the human-readable form of Err.
	ErrMessage string
}

// Succeeded reports whether the transaction's instructions all succeeded.
func (r *TransactionRecord) Succeeded() bool {
	return len(r.Err) == 0
}

// SignatureInfo is one entry of an address's transaction history.
type SignatureInfo struct {
	Signature types.Signature
	Slot      uint64
	Seq       uint64
	BlockTime int64
	Err       json.RawMessage
}

// SignatureQueryOptions configures signature queries.
type SignatureQueryOptions struct {
	// Limit is the maximum number of signatures to return.
	Limit int

	// Before returns signatures older than (not including) this signature.
	Before *types.Signature

	// Until stops at (not including) this signature.
	Until *types.Signature
}

// Stats contains ledger statistics.
type Stats struct {
	LatestSlot       uint64
	OldestSlot       uint64
	TransactionCount uint64
	DatabaseSize     int64
}

// EncodeSlotKey encodes a slot number as a big-endian 8-byte key, so that
// byte order matches numeric order.
func EncodeSlotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

// DecodeSlotKey decodes a slot number from a big-endian 8-byte key.
func DecodeSlotKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeSlotSeqKey encodes a slot+seq composite key.
// Format: [8-byte slot][8-byte seq], both big-endian.
func EncodeSlotSeqKey(slot, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], slot)
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

// EncodeAddressKey encodes an address+slot+seq composite key.
// Format: [32-byte address][8-byte slot][8-byte seq]
func EncodeAddressKey(addr types.Pubkey, slot, seq uint64) []byte {
	key := make([]byte, 48)
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:40], slot)
	binary.BigEndian.PutUint64(key[40:], seq)
	return key
}

// DecodeAddressKey decodes an address+slot+seq composite key.
func DecodeAddressKey(key []byte) (types.Pubkey, uint64, uint64) {
	var addr types.Pubkey
	if len(key) < 48 {
		return addr, 0, 0
	}
	copy(addr[:], key[:32])
	return addr, binary.BigEndian.Uint64(key[32:40]), binary.BigEndian.Uint64(key[40:])
}
