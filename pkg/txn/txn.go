// Package txn implements the legacy transaction wire format: a list of
// ed25519 signatures followed by a message naming every account the
// transaction touches, the recent blockhash it was built against, and the
// compiled instructions.
//
// Account order inside a message carries the permissions:
//
//	[signer+writable][signer+readonly][writable][readonly]
//
// with the fee payer always first.
package txn

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// MaxPacketSize bounds the serialized size of a transaction.
const MaxPacketSize = 1232

var (
	// ErrNoInstructions is returned when compiling an empty transaction.
	ErrNoInstructions = errors.New("transaction has no instructions")

	// ErrTooManyAccounts is returned when a message references more than 256 accounts.
	ErrTooManyAccounts = errors.New("too many account keys")

	// ErrMissingSigner is returned when Sign is not given a key for a required signer.
	ErrMissingSigner = errors.New("missing signer")

	// ErrSignatureCount is returned when the signature list and header disagree.
	ErrSignatureCount = errors.New("signature count does not match header")

	// ErrInvalidSignature is returned by Verify for a bad signature.
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrInvalidIndex is returned when an instruction references an unknown account.
	ErrInvalidIndex = errors.New("account index out of range")

	// ErrTooLarge is returned when a transaction exceeds MaxPacketSize.
	ErrTooLarge = errors.New("transaction too large")
)

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a program call with fully resolved accounts.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// MessageHeader counts the permission classes of the account keys.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into Message.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is the signed part of a transaction.
type Message struct {
	Header          MessageHeader
	AccountKeys     []types.Pubkey
	RecentBlockhash types.Hash
	Instructions    []CompiledInstruction
}

// Transaction is a signed message.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

// NewTransaction compiles instructions into an unsigned transaction paid for by payer.
func NewTransaction(instructions []Instruction, payer types.Pubkey, recentBlockhash types.Hash) (*Transaction, error) {
	msg, err := CompileMessage(instructions, payer, recentBlockhash)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]types.Signature, msg.Header.NumRequiredSignatures),
		Message:    *msg,
	}, nil
}

// CompileMessage orders and deduplicates the accounts of instructions.
func CompileMessage(instructions []Instruction, payer types.Pubkey, recentBlockhash types.Hash) (*Message, error) {
	if len(instructions) == 0 {
		return nil, ErrNoInstructions
	}

	type keyMeta struct {
		signer, writable bool
	}
	metas := map[types.Pubkey]*keyMeta{payer: {signer: true, writable: true}}
	order := []types.Pubkey{payer}
	add := func(k types.Pubkey, signer, writable bool) {
		m, ok := metas[k]
		if !ok {
			m = &keyMeta{}
			metas[k] = m
			order = append(order, k)
		}
		m.signer = m.signer || signer
		m.writable = m.writable || writable
	}
	for _, ix := range instructions {
		for _, a := range ix.Accounts {
			add(a.Pubkey, a.IsSigner, a.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}

	var classes [4][]types.Pubkey
	for _, k := range order {
		m := metas[k]
		switch {
		case m.signer && m.writable:
			classes[0] = append(classes[0], k)
		case m.signer:
			classes[1] = append(classes[1], k)
		case m.writable:
			classes[2] = append(classes[2], k)
		default:
			classes[3] = append(classes[3], k)
		}
	}

	keys := make([]types.Pubkey, 0, len(order))
	for _, c := range classes {
		keys = append(keys, c...)
	}
	if len(keys) > 256 {
		return nil, ErrTooManyAccounts
	}

	index := make(map[types.Pubkey]uint8, len(keys))
	for i, k := range keys {
		index[k] = uint8(i)
	}

	msg := &Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(classes[0]) + len(classes[1])),
			NumReadonlySignedAccounts:   uint8(len(classes[1])),
			NumReadonlyUnsignedAccounts: uint8(len(classes[3])),
		},
		AccountKeys:     keys,
		RecentBlockhash: recentBlockhash,
	}
	for _, ix := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Accounts:       make([]uint8, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for i, a := range ix.Accounts {
			ci.Accounts[i] = index[a.Pubkey]
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// IsSigner reports whether the key at index i must sign.
func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the key at index i may be modified.
func (m *Message) IsWritable(i int) bool {
	n := len(m.AccountKeys)
	signers := int(m.Header.NumRequiredSignatures)
	if i < signers {
		return i < signers-int(m.Header.NumReadonlySignedAccounts)
	}
	return i < n-int(m.Header.NumReadonlyUnsignedAccounts)
}

// FeePayer returns the first account key.
func (m *Message) FeePayer() types.Pubkey {
	if len(m.AccountKeys) == 0 {
		return types.Pubkey{}
	}
	return m.AccountKeys[0]
}

// Instruction resolves the compiled instruction at index i.
func (m *Message) Instruction(i int) (Instruction, error) {
	if i < 0 || i >= len(m.Instructions) {
		return Instruction{}, ErrInvalidIndex
	}
	ci := m.Instructions[i]
	if int(ci.ProgramIDIndex) >= len(m.AccountKeys) {
		return Instruction{}, ErrInvalidIndex
	}
	ix := Instruction{
		ProgramID: m.AccountKeys[ci.ProgramIDIndex],
		Accounts:  make([]AccountMeta, len(ci.Accounts)),
		Data:      ci.Data,
	}
	for j, idx := range ci.Accounts {
		if int(idx) >= len(m.AccountKeys) {
			return Instruction{}, ErrInvalidIndex
		}
		ix.Accounts[j] = AccountMeta{
			Pubkey:     m.AccountKeys[idx],
			IsSigner:   m.IsSigner(int(idx)),
			IsWritable: m.IsWritable(int(idx)),
		}
	}
	return ix, nil
}

// Serialize encodes the message in wire format. This is the byte string signers sign.
func (m *Message) Serialize() []byte {
	buf := []byte{
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	}
	buf = appendShortVec(buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = appendShortVec(buf, len(m.Instructions))
	for _, ci := range m.Instructions {
		buf = append(buf, ci.ProgramIDIndex)
		buf = appendShortVec(buf, len(ci.Accounts))
		buf = append(buf, ci.Accounts...)
		buf = appendShortVec(buf, len(ci.Data))
		buf = append(buf, ci.Data...)
	}
	return buf
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) shortVec() (int, error) {
	n, used, err := readShortVec(r.data[r.off:])
	if err != nil {
		return 0, err
	}
	r.off += used
	return n, nil
}

func (r *reader) message() (Message, error) {
	var m Message
	hdr, err := r.take(3)
	if err != nil {
		return m, err
	}
	m.Header = MessageHeader{hdr[0], hdr[1], hdr[2]}

	n, err := r.shortVec()
	if err != nil {
		return m, err
	}
	m.AccountKeys = make([]types.Pubkey, n)
	for i := range m.AccountKeys {
		b, err := r.take(types.PubkeySize)
		if err != nil {
			return m, err
		}
		copy(m.AccountKeys[i][:], b)
	}

	b, err := r.take(types.HashSize)
	if err != nil {
		return m, err
	}
	copy(m.RecentBlockhash[:], b)

	if n, err = r.shortVec(); err != nil {
		return m, err
	}
	m.Instructions = make([]CompiledInstruction, n)
	for i := range m.Instructions {
		pid, err := r.take(1)
		if err != nil {
			return m, err
		}
		na, err := r.shortVec()
		if err != nil {
			return m, err
		}
		accts, err := r.take(na)
		if err != nil {
			return m, err
		}
		nd, err := r.shortVec()
		if err != nil {
			return m, err
		}
		data, err := r.take(nd)
		if err != nil {
			return m, err
		}
		m.Instructions[i] = CompiledInstruction{
			ProgramIDIndex: pid[0],
			Accounts:       append([]uint8(nil), accts...),
			Data:           append([]byte(nil), data...),
		}
	}

	if int(m.Header.NumRequiredSignatures) > len(m.AccountKeys) ||
		int(m.Header.NumReadonlyUnsignedAccounts)+int(m.Header.NumRequiredSignatures) > len(m.AccountKeys) ||
		m.Header.NumReadonlySignedAccounts > m.Header.NumRequiredSignatures {
		return m, fmt.Errorf("inconsistent message header: %w", ErrInvalidIndex)
	}
	return m, nil
}

// Sign fills in the signatures for every required signer present in keys.
// All required signers must be supplied.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	byPub := make(map[types.Pubkey]ed25519.PrivateKey, len(keys))
	for _, k := range keys {
		var p types.Pubkey
		copy(p[:], k.Public().(ed25519.PublicKey))
		byPub[p] = k
	}

	msg := tx.Message.Serialize()
	n := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != n {
		tx.Signatures = make([]types.Signature, n)
	}
	for i := 0; i < n; i++ {
		key, ok := byPub[tx.Message.AccountKeys[i]]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSigner, tx.Message.AccountKeys[i])
		}
		copy(tx.Signatures[i][:], ed25519.Sign(key, msg))
	}
	return nil
}

// Verify checks every signature against its account key.
func (tx *Transaction) Verify() error {
	n := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != n || n > len(tx.Message.AccountKeys) {
		return ErrSignatureCount
	}
	msg := tx.Message.Serialize()
	for i := 0; i < n; i++ {
		if !tx.Signatures[i].Verify(tx.Message.AccountKeys[i], msg) {
			return fmt.Errorf("%w: signer %s", ErrInvalidSignature, tx.Message.AccountKeys[i])
		}
	}
	return nil
}

// Signature returns the first signature, which identifies the transaction.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// MarshalBinary encodes the transaction in wire format.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	buf := appendShortVec(nil, len(tx.Signatures))
	for _, s := range tx.Signatures {
		buf = append(buf, s[:]...)
	}
	buf = append(buf, tx.Message.Serialize()...)
	if len(buf) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(buf))
	}
	return buf, nil
}

// UnmarshalBinary decodes a wire-format transaction.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	if len(data) > MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	r := &reader{data: data}
	n, err := r.shortVec()
	if err != nil {
		return err
	}
	sigs := make([]types.Signature, n)
	for i := range sigs {
		b, err := r.take(types.SignatureSize)
		if err != nil {
			return err
		}
		copy(sigs[i][:], b)
	}
	msg, err := r.message()
	if err != nil {
		return err
	}
	if r.off != len(data) {
		return fmt.Errorf("%d trailing bytes", len(data)-r.off)
	}
	if len(sigs) != int(msg.Header.NumRequiredSignatures) {
		return ErrSignatureCount
	}
	tx.Signatures = sigs
	tx.Message = msg
	return nil
}

// ToBase64 returns the wire encoding as base64.
func (tx *Transaction) ToBase64() (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// FromBase64 decodes a base64 wire transaction.
func FromBase64(s string) (*Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	tx := new(Transaction)
	return tx, tx.UnmarshalBinary(raw)
}

// FromBase58 decodes a base58 wire transaction.
func FromBase58(s string) (*Transaction, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("base58 decode: %w", err)
	}
	tx := new(Transaction)
	return tx, tx.UnmarshalBinary(raw)
}
