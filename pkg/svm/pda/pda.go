// Package pda derives program addresses: deterministic account addresses
// that no private key can sign for, so only the owning program can act for
// them.
//
//	address = sha256(seed_0 || ... || seed_n || program_id || "ProgramDerivedAddress")
//
// A candidate that decodes to a valid ed25519 point is rejected.
// FindProgramAddress appends a one-byte bump seed, counting down from 255,
// until a candidate falls off the curve.
package pda

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// Derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrOnCurve               = errors.New("invalid seeds: address must fall off the curve")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
)

// Meter is charged once per derivation attempt. A nil Meter is free.
type Meter interface {
	Consume(units uint64) error
}

// CostPerAttempt is the compute charged per CreateProgramAddress call.
const CostPerAttempt = uint64(1_500)

// CreateProgramAddress derives the address for exactly these seeds.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return types.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress returns the first off-curve address and its bump,
// trying bumps from 255 down to 0.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return FindProgramAddressMetered(seeds, programID, nil)
}

// FindProgramAddressMetered is FindProgramAddress with per-attempt compute charges.
func FindProgramAddressMetered(seeds [][]byte, programID types.Pubkey, meter Meter) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		if meter != nil {
			if err := meter.Consume(CostPerAttempt); err != nil {
				return types.Pubkey{}, 0, err
			}
		}
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether b is the encoding of a point on edwards25519.
// Non-canonical encodings of valid points count as on-curve.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
