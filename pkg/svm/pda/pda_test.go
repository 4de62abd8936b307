package pda

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

type countingMeter struct{ calls int }

func (m *countingMeter) Consume(uint64) error {
	m.calls++
	return nil
}

func TestFindProgramAddressDeterministic(t *testing.T) {
	owner := types.DeployedGameOwner
	seeds := [][]byte{[]byte("leaderboard"), owner[:]}

	a1, b1, err := FindProgramAddress(seeds, types.LeaderboardProgramID)
	if err != nil {
		t.Fatal(err)
	}
	a2, b2, _ := FindProgramAddress(seeds, types.LeaderboardProgramID)
	if a1 != a2 || b1 != b2 {
		t.Error("derivation is not deterministic")
	}
	if IsOnCurve(a1[:]) {
		t.Error("derived address is on curve")
	}

	again, err := CreateProgramAddress(append(seeds, []byte{b1}), types.LeaderboardProgramID)
	if err != nil || again != a1 {
		t.Errorf("CreateProgramAddress with bump = %s, %v; want %s", again, err, a1)
	}
}

func TestFindProgramAddressDiffersByOwner(t *testing.T) {
	other := types.SystemProgramAddr
	a, _, _ := FindProgramAddress([][]byte{[]byte("leaderboard"), types.DeployedGameOwner[:]}, types.LeaderboardProgramID)
	b, _, _ := FindProgramAddress([][]byte{[]byte("leaderboard"), other[:]}, types.LeaderboardProgramID)
	if a == b {
		t.Error("different owners derived the same address")
	}
}

func TestFindProgramAddressMetered(t *testing.T) {
	m := &countingMeter{}
	_, bump, err := FindProgramAddressMetered([][]byte{[]byte("x")}, types.LeaderboardProgramID, m)
	if err != nil {
		t.Fatal(err)
	}
	if m.calls != 256-int(bump) {
		t.Errorf("meter charged %d times, want %d", m.calls, 256-int(bump))
	}
}

func TestSeedLimits(t *testing.T) {
	long := []byte(strings.Repeat("a", MaxSeedLen+1))
	if _, err := CreateProgramAddress([][]byte{long}, types.LeaderboardProgramID); !errors.Is(err, ErrMaxSeedLengthExceeded) {
		t.Errorf("expected ErrMaxSeedLengthExceeded, got %v", err)
	}
	many := make([][]byte, MaxSeeds+1)
	if _, err := CreateProgramAddress(many, types.LeaderboardProgramID); !errors.Is(err, ErrMaxSeedsExceeded) {
		t.Errorf("expected ErrMaxSeedsExceeded, got %v", err)
	}
}

func TestIsOnCurve(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	if !IsOnCurve(pub) {
		t.Error("ed25519 public key reported off curve")
	}
	if IsOnCurve([]byte{1, 2, 3}) {
		t.Error("short input reported on curve")
	}
}
