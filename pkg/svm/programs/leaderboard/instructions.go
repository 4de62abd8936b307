package leaderboard

import (
	"encoding/binary"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/svm/pda"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
)

// SeedPrefix is the constant tag of every leaderboard address.
const SeedPrefix = "leaderboard"

// EntryFee is the lamports a player pays per NewGame.
const EntryFee uint64 = 1_000_000_000

// Instruction discriminators: sha256("global:<name>")[:8].
var (
	InitializeLeaderboardDiscriminator  = discriminator("global:initialize_leaderboard")
	NewGameDiscriminator                = discriminator("global:new_game")
	AddPlayerToLeaderboardDiscriminator = discriminator("global:add_player_to_leaderboard")
)

// Seeds returns the derivation seeds of owner's leaderboard.
func Seeds(owner types.Pubkey) [][]byte {
	return [][]byte{[]byte(SeedPrefix), owner.Bytes()}
}

// FindLeaderboardAddress derives owner's leaderboard address under programID.
func FindLeaderboardAddress(owner, programID types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(Seeds(owner), programID)
}

// InitializeLeaderboard builds the instruction creating owner's leaderboard.
func InitializeLeaderboard(programID, owner types.Pubkey) (txn.Instruction, error) {
	board, _, err := FindLeaderboardAddress(owner, programID)
	if err != nil {
		return txn.Instruction{}, err
	}
	return txn.Instruction{
		ProgramID: programID,
		Accounts: []txn.AccountMeta{
			{Pubkey: board, IsWritable: true},
			{Pubkey: owner, IsSigner: true, IsWritable: true},
			{Pubkey: types.SystemProgramAddr},
		},
		Data: InitializeLeaderboardDiscriminator[:],
	}, nil
}

// NewGame builds a paid registration of player on board, crediting gameOwner.
func NewGame(programID, player, gameOwner, board types.Pubkey, username string) txn.Instruction {
	data := append([]byte(nil), NewGameDiscriminator[:]...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(username)))
	data = append(data, username...)
	return txn.Instruction{
		ProgramID: programID,
		Accounts: []txn.AccountMeta{
			{Pubkey: player, IsSigner: true, IsWritable: true},
			{Pubkey: gameOwner, IsWritable: true},
			{Pubkey: board, IsWritable: true},
			{Pubkey: types.SystemProgramAddr},
		},
		Data: data,
	}
}

// AddPlayerToLeaderboard builds a score submission by player.
func AddPlayerToLeaderboard(programID, board, player types.Pubkey, score uint64) txn.Instruction {
	data := append([]byte(nil), AddPlayerToLeaderboardDiscriminator[:]...)
	data = binary.LittleEndian.AppendUint64(data, score)
	return txn.Instruction{
		ProgramID: programID,
		Accounts: []txn.AccountMeta{
			{Pubkey: board, IsWritable: true},
			{Pubkey: player, IsSigner: true},
		},
		Data: data,
	}
}
