package types

import "fmt"

// Native program and sysvar addresses known to the runtime.
var (
	// SystemProgramAddr owns every wallet account and performs lamport transfers.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")

	// SysvarClockAddr is the Clock sysvar address.
	SysvarClockAddr = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")
)

// Addresses of the deployed rock-destroyer program.
var (
	// LeaderboardProgramID is the program id the leaderboard was deployed under.
	LeaderboardProgramID = MustPubkeyFromBase58("CqmE9A5DYWUdys2Zi3bPEUCL2rYs8tjHdxzZkWy8WzGN")

	// DeployedGameOwner is the game owner pinned by the deployed program.
	DeployedGameOwner = MustPubkeyFromBase58("9agDtgAxwyEhGDFMEdAJiyHUiKehjCpeLWbEj7ZoDhP")
)

// MustPubkeyFromBase58 parses a base58 pubkey or panics.
// Only use for compile-time constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid pubkey constant %q: %v", s, err))
	}
	return p
}

// IsSysvar returns true if the pubkey is a sysvar.
func IsSysvar(p Pubkey) bool {
	switch p {
	case SysvarRentAddr, SysvarClockAddr:
		return true
	default:
		return false
	}
}
