package accounts

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// ComputeAccountHash hashes every field of an account together with its
// address:
//
//	blake3(lamports || rent_epoch || data || executable || owner || pubkey)
//
// A deleted (zero) account hashes to the zero hash.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.IsZero() {
		return types.Hash{}
	}

	var u64 [8]byte
	hasher := blake3.New()

	binary.LittleEndian.PutUint64(u64[:], account.Lamports)
	hasher.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], account.RentEpoch)
	hasher.Write(u64[:])
	hasher.Write(account.Data)
	if account.Executable {
		hasher.Write([]byte{1})
	} else {
		hasher.Write([]byte{0})
	}
	hasher.Write(account.Owner[:])
	hasher.Write(pubkey[:])

	var h types.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// AccountHashEntry pairs a pubkey with its hash for sorting and merkle computation.
type AccountHashEntry struct {
	Pubkey types.Pubkey
	Hash   types.Hash
}

// ComputeAccountsHash computes the Merkle root over every stored account.
func ComputeAccountsHash(db DB) (types.Hash, error) {
	var entries []AccountHashEntry
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) bool {
		entries = append(entries, AccountHashEntry{
			Pubkey: pubkey,
			Hash:   ComputeAccountHash(pubkey, account),
		})
		return true
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeDeltaHash(entries), nil
}

// ComputeDeltaHash sorts the entries by pubkey and returns their Merkle root.
func ComputeDeltaHash(entries []AccountHashEntry) types.Hash {
	if len(entries) == 0 {
		return types.Hash{}
	}
	sorted := make([]AccountHashEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Pubkey.Compare(sorted[j].Pubkey) < 0
	})

	hashes := make([]types.Hash, len(sorted))
	for i, e := range sorted {
		hashes[i] = e.Hash
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeMerkleRoot computes a binary Merkle root.
//
// Tree structure:
//   - Leaf: blake3(0x00 || hash)
//   - Node: blake3(0x01 || left || right)
//   - An odd node is paired with the zero hash
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = hashParts([]byte{0x00}, h[:])
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = hashParts([]byte{0x01}, left[:], right[:])
		}
		level = next
	}
	return level[0]
}

func hashParts(parts ...[]byte) types.Hash {
	hasher := blake3.New()
	for _, p := range parts {
		hasher.Write(p)
	}
	var h types.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// BankHashInput contains the inputs for computing a bank hash.
type BankHashInput struct {
	ParentBankHash    types.Hash
	AccountsDeltaHash types.Hash
	NumSignatures     uint64
	Blockhash         types.Hash
}

// ComputeBankHash computes sha256(parent || accounts_delta_hash || num_sigs || blockhash).
func ComputeBankHash(input BankHashInput) types.Hash {
	var sigs [8]byte
	binary.LittleEndian.PutUint64(sigs[:], input.NumSignatures)
	return types.ComputeHash(
		input.ParentBankHash[:],
		input.AccountsDeltaHash[:],
		sigs[:],
		input.Blockhash[:],
	)
}
