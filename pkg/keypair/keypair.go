// Package keypair reads and writes ed25519 keypairs in the Solana CLI file
// format: a JSON array of the 64 secret-key bytes (seed then public key).
package keypair

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// Seed phrase derivation parameters.
const (
	seedIterations = 2048
	seedSaltPrefix = "mnemonic"
)

// Errors.
var (
	ErrInvalidKeypair = errors.New("invalid keypair: must be 64 bytes")
	ErrKeyMismatch    = errors.New("invalid keypair: public key does not match secret")
	ErrEmptyPhrase    = errors.New("seed phrase is empty")
)

// Keypair is an ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// Generate creates a random keypair.
func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{private: priv}, nil
}

// FromSeed derives a keypair from a 32-byte seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed: must be %d bytes", ed25519.SeedSize)
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// FromSeedPhrase derives a keypair the way solana-keygen does without a
// derivation path: PBKDF2-HMAC-SHA512 over the normalised phrase with salt
// "mnemonic"+passphrase, keeping the first 32 bytes as the seed.
func FromSeedPhrase(phrase, passphrase string) (*Keypair, error) {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return nil, ErrEmptyPhrase
	}
	normalised := strings.Join(words, " ")
	seed := pbkdf2.Key([]byte(normalised), []byte(seedSaltPrefix+passphrase), seedIterations, 64, sha512.New)
	return FromSeed(seed[:ed25519.SeedSize])
}

// FromBytes parses a 64-byte secret key, verifying its public half.
func FromBytes(b []byte) (*Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypair
	}
	priv := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if string(priv[ed25519.SeedSize:]) != string(b[ed25519.SeedSize:]) {
		return nil, ErrKeyMismatch
	}
	return &Keypair{private: priv}, nil
}

// Load reads a keypair file.
func Load(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	var b []byte
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	for _, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keypair %s: byte out of range: %d", path, v)
		}
		b = append(b, byte(v))
	}
	return FromBytes(b)
}

// Save writes the keypair file with owner-only permissions. It refuses to
// overwrite an existing file unless force is set.
func (k *Keypair) Save(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("refusing to overwrite %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create keypair dir: %w", err)
		}
	}
	data, err := k.MarshalJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keypair: %w", err)
	}
	return nil
}

// MarshalJSON renders the secret key as a JSON array of numbers.
func (k *Keypair) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(k.private))
	for i, b := range k.private {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// PublicKey returns the keypair's address.
func (k *Keypair) PublicKey() types.Pubkey {
	var pk types.Pubkey
	copy(pk[:], k.private[ed25519.SeedSize:])
	return pk
}

// PrivateKey returns the ed25519 signing key.
func (k *Keypair) PrivateKey() ed25519.PrivateKey {
	return k.private
}
