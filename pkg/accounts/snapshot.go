package accounts

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

var snapshotMagic = []byte{'R', 'D', 'S', 'N'}

// ErrSnapshotMismatch is returned when a snapshot's trailer disagrees with its body.
var ErrSnapshotMismatch = errors.New("snapshot hash mismatch")

// SnapshotHeader contains metadata about a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	AccountsHash  types.Hash
}

// WriteSnapshot streams every account in db to w.
//
// Layout:
//   - Magic "RDSN" (4), Version (4 LE), Slot (8 LE)
//   - zstd stream of entries: Pubkey (32) | size (4 LE) | serialized Account
//   - an entry with size 0xFFFFFFFF ends the body, followed by
//     AccountsCount (8 LE) and AccountsHash (32)
func WriteSnapshot(w io.Writer, db DB) (SnapshotHeader, error) {
	header := SnapshotHeader{Version: snapshotVersion, Slot: db.GetSlot()}

	prefix := make([]byte, 0, 16)
	prefix = append(prefix, snapshotMagic...)
	prefix = binary.LittleEndian.AppendUint32(prefix, header.Version)
	prefix = binary.LittleEndian.AppendUint64(prefix, header.Slot)
	if _, err := w.Write(prefix); err != nil {
		return header, fmt.Errorf("write header: %w", err)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return header, fmt.Errorf("create zstd writer: %w", err)
	}
	bw := bufio.NewWriter(enc)

	var (
		entries  []AccountHashEntry
		writeErr error
	)
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) bool {
		data := account.Serialize()
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
		for _, part := range [][]byte{pubkey[:], size[:], data} {
			if _, writeErr = bw.Write(part); writeErr != nil {
				return false
			}
		}
		entries = append(entries, AccountHashEntry{Pubkey: pubkey, Hash: ComputeAccountHash(pubkey, account)})
		return true
	})
	if err == nil {
		err = writeErr
	}
	if err != nil {
		enc.Close()
		return header, fmt.Errorf("write accounts: %w", err)
	}

	header.AccountsCount = uint64(len(entries))
	header.AccountsHash = ComputeDeltaHash(entries)

	trailer := make([]byte, 0, 32+4+8+32)
	trailer = append(trailer, make([]byte, 32)...)
	trailer = binary.LittleEndian.AppendUint32(trailer, 0xFFFFFFFF)
	trailer = binary.LittleEndian.AppendUint64(trailer, header.AccountsCount)
	trailer = append(trailer, header.AccountsHash[:]...)
	if _, err := bw.Write(trailer); err != nil {
		enc.Close()
		return header, fmt.Errorf("write trailer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return header, err
	}
	if err := enc.Close(); err != nil {
		return header, fmt.Errorf("close zstd writer: %w", err)
	}
	return header, nil
}

// LoadSnapshot reads a snapshot produced by WriteSnapshot into db. Accounts
// are committed in batches; the slot is restored once the trailer hash
// matches the accounts read.
func LoadSnapshot(r io.Reader, db DB) (SnapshotHeader, error) {
	var header SnapshotHeader

	prefix := make([]byte, 16)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return header, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(prefix[:4], snapshotMagic) {
		return header, fmt.Errorf("bad snapshot magic: %w", ErrInvalidData)
	}
	header.Version = binary.LittleEndian.Uint32(prefix[4:])
	if header.Version != snapshotVersion {
		return header, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	header.Slot = binary.LittleEndian.Uint64(prefix[8:])

	dec, err := zstd.NewReader(r)
	if err != nil {
		return header, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	const flushEvery = 1024
	var (
		entries []AccountHashEntry
		batch   = NewBatch()
		head    = make([]byte, 36)
	)
	for {
		if _, err := io.ReadFull(br, head); err != nil {
			return header, fmt.Errorf("read entry: %w", err)
		}
		size := binary.LittleEndian.Uint32(head[32:])
		if size == 0xFFFFFFFF {
			break
		}
		if size > MaxAccountDataSize+57 {
			return header, ErrInvalidData
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return header, fmt.Errorf("read account: %w", err)
		}
		account, err := DeserializeAccount(data)
		if err != nil {
			return header, err
		}
		var pubkey types.Pubkey
		copy(pubkey[:], head[:32])

		batch.Set(pubkey, account)
		entries = append(entries, AccountHashEntry{Pubkey: pubkey, Hash: ComputeAccountHash(pubkey, account)})
		if batch.Len() >= flushEvery {
			if err := db.Commit(batch); err != nil {
				return header, err
			}
			batch = NewBatch()
		}
	}

	trailer := make([]byte, 40)
	if _, err := io.ReadFull(br, trailer); err != nil {
		return header, fmt.Errorf("read trailer: %w", err)
	}
	header.AccountsCount = binary.LittleEndian.Uint64(trailer)
	copy(header.AccountsHash[:], trailer[8:])

	if header.AccountsCount != uint64(len(entries)) || ComputeDeltaHash(entries) != header.AccountsHash {
		return header, ErrSnapshotMismatch
	}
	if batch.Len() > 0 {
		if err := db.Commit(batch); err != nil {
			return header, err
		}
	}
	if err := db.SetSlot(header.Slot); err != nil {
		return header, err
	}
	return header, nil
}

// CreateSnapshotFile writes a snapshot of db to path, replacing it atomically.
func CreateSnapshotFile(path string, db DB) (SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return SnapshotHeader{}, fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("create snapshot file: %w", err)
	}
	header, err := WriteSnapshot(f, db)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return header, err
	}
	return header, os.Rename(tmp, path)
}

// LoadSnapshotFile loads the snapshot at path into db.
func LoadSnapshotFile(path string, db DB) (SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return LoadSnapshot(bufio.NewReader(f), db)
}

// SnapshotFilename returns the conventional file name for a snapshot.
func SnapshotFilename(slot uint64, hash types.Hash) string {
	return fmt.Sprintf("snapshot-%d-%s.rdsn.zst", slot, hash)
}
