// Package leaderboard is the rock-destroyer program: one Leaderboard account
// per game owner, at a program address derived from ("leaderboard", owner).
//
// Players pay a flat entry fee to the game owner to register (NewGame) and
// spend that entry on exactly one score submission (AddPlayerToLeaderboard).
// The account layout and instruction encoding follow Anchor conventions so
// existing clients of the deployed program keep working.
package leaderboard

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/svm"
	"github.com/fortiblox/rock-destroyer/pkg/svm/pda"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/system"
)

// Config parameterizes a deployment of the program.
type Config struct {
	// ProgramID is the address the program runs under.
	ProgramID types.Pubkey

	// EntryFee is charged by every NewGame.
	EntryFee uint64

	// GameOwner, when non-zero, is the only identity allowed to create a leaderboard.
	GameOwner types.Pubkey
}

// DefaultConfig matches the deployed program except for the pinned game owner.
func DefaultConfig() Config {
	return Config{
		ProgramID: types.LeaderboardProgramID,
		EntryFee:  EntryFee,
	}
}

// Processor executes leaderboard instructions.
type Processor struct {
	cfg Config
}

// NewProcessor creates a processor for cfg.
func NewProcessor(cfg Config) *Processor {
	return &Processor{cfg: cfg}
}

// ID implements svm.Program.
func (p *Processor) ID() types.Pubkey {
	return p.cfg.ProgramID
}

// Process dispatches on the 8-byte instruction discriminator.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.Consume(svm.CULeaderboardBase); err != nil {
		return err
	}
	if len(data) < 8 {
		return ErrInstructionMissing
	}

	var disc [8]byte
	copy(disc[:], data[:8])
	args := data[8:]

	switch disc {
	case InitializeLeaderboardDiscriminator:
		ctx.Log("Instruction: InitializeLeaderboard")
		return p.initializeLeaderboard(ctx)
	case NewGameDiscriminator:
		ctx.Log("Instruction: NewGame")
		username, err := decodeUsername(args)
		if err != nil {
			return err
		}
		return p.newGame(ctx, username)
	case AddPlayerToLeaderboardDiscriminator:
		ctx.Log("Instruction: AddPlayerToLeaderboard")
		if len(args) != 8 {
			return ErrInstructionDidNotDeserialize
		}
		return p.addPlayerToLeaderboard(ctx, binary.LittleEndian.Uint64(args))
	default:
		return ErrInstructionFallbackNotFound
	}
}

func decodeUsername(args []byte) (string, error) {
	if len(args) < 4 {
		return "", ErrInstructionDidNotDeserialize
	}
	n := binary.LittleEndian.Uint32(args)
	if uint64(len(args)-4) != uint64(n) || !utf8.Valid(args[4:]) {
		return "", ErrInstructionDidNotDeserialize
	}
	return string(args[4:]), nil
}

func (p *Processor) accounts(ctx svm.InvokeContext, n int) ([]*svm.AccountInfo, error) {
	if ctx.NumAccounts() < n {
		return nil, ErrAccountNotEnoughKeys
	}
	out := make([]*svm.AccountInfo, n)
	for i := range out {
		a, err := ctx.GetAccount(i)
		if err != nil {
			return nil, ErrAccountNotEnoughKeys
		}
		out[i] = a
	}
	return out, nil
}

// load validates board as an initialized, writable leaderboard account.
func (p *Processor) load(board *svm.AccountInfo) (*Leaderboard, error) {
	if !board.IsWritable {
		return nil, ErrConstraintMut
	}
	if board.IsEmpty() {
		return nil, ErrAccountNotInitialized
	}
	if board.Owner != p.cfg.ProgramID {
		return nil, ErrAccountOwnedByWrongProgram
	}
	return Decode(board.Data)
}

// store writes lb into the fixed-size allocation of board.
func store(board *svm.AccountInfo, lb *Leaderboard) error {
	data, err := lb.MarshalBinary()
	if err != nil {
		return err
	}
	if len(data) > len(board.Data) {
		return ErrAccountDidNotSerialize
	}
	copy(board.Data, data)
	clear(board.Data[len(data):])
	return nil
}

// Accounts: [0] leaderboard (writable), [1] game owner (signer, writable), [2] system program.
func (p *Processor) initializeLeaderboard(ctx svm.InvokeContext) error {
	accs, err := p.accounts(ctx, 3)
	if err != nil {
		return err
	}
	board, owner, sysProgram := accs[0], accs[1], accs[2]

	if !owner.IsSigner {
		return ErrAccountNotSigner
	}
	if !owner.IsWritable || !board.IsWritable {
		return ErrConstraintMut
	}
	if owner.Owner != system.ProgramID {
		return ErrConstraintOwner
	}
	if !p.cfg.GameOwner.IsZero() && owner.Key != p.cfg.GameOwner {
		return ErrConstraintAddress
	}
	if sysProgram.Key != system.ProgramID {
		return ErrInvalidProgramID
	}

	expected, bump, err := pda.FindProgramAddressMetered(Seeds(owner.Key), p.cfg.ProgramID, ctx)
	if err != nil {
		return err
	}
	if expected != board.Key {
		ctx.Log("Left: %s", board.Key)
		ctx.Log("Right: %s", expected)
		return ErrConstraintSeeds
	}

	signer := append(Seeds(owner.Key), []byte{bump})
	if err := p.createBoardAccount(ctx, owner, board, signer); err != nil {
		return err
	}

	return store(board, &Leaderboard{Owner: owner.Key, Players: []Player{}})
}

// createBoardAccount allocates the leaderboard PDA. An address that was
// already sent lamports cannot go through CreateAccount, so it is topped up
// to the rent minimum and then allocated and assigned in place.
func (p *Processor) createBoardAccount(ctx svm.InvokeContext, owner, board *svm.AccountInfo, signer [][]byte) error {
	rent := ctx.RentMinimum(LeaderboardSpace)
	if board.Lamports == 0 {
		create := system.CreateAccount(owner.Key, board.Key, rent, LeaderboardSpace, p.cfg.ProgramID)
		return ctx.Invoke(create, signer)
	}

	if board.Lamports < rent {
		if err := ctx.Invoke(system.Transfer(owner.Key, board.Key, rent-board.Lamports)); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(system.Allocate(board.Key, LeaderboardSpace), signer); err != nil {
		return err
	}
	return ctx.Invoke(system.Assign(board.Key, p.cfg.ProgramID), signer)
}

// Accounts: [0] player (signer, writable), [1] game owner (writable),
// [2] leaderboard (writable), [3] system program.
func (p *Processor) newGame(ctx svm.InvokeContext, username string) error {
	accs, err := p.accounts(ctx, 4)
	if err != nil {
		return err
	}
	player, gameOwner, board, sysProgram := accs[0], accs[1], accs[2], accs[3]

	if !player.IsSigner {
		return ErrAccountNotSigner
	}
	if !player.IsWritable || !gameOwner.IsWritable {
		return ErrConstraintMut
	}
	lb, err := p.load(board)
	if err != nil {
		return err
	}
	if gameOwner.Key != lb.Owner {
		return ErrConstraintHasOne
	}
	if gameOwner.Owner != system.ProgramID {
		return ErrConstraintOwner
	}
	if sysProgram.Key != system.ProgramID {
		return ErrInvalidProgramID
	}
	if len(username) > MaxUsernameLen {
		return ErrAccountDidNotSerialize
	}
	if i, ok := lb.FindPlayer(player.Key); ok && lb.Players[i].HasPaid {
		return ErrPlayerAlreadyPaid
	}

	if err := ctx.Invoke(system.Transfer(player.Key, gameOwner.Key, p.cfg.EntryFee)); err != nil {
		return err
	}

	outcome, evicted := lb.Register(username, player.Key)
	switch outcome {
	case Replaced:
		ctx.Log("Board full: %s (score %d) replaced by %s", evicted.Pubkey, evicted.Score, player.Key)
	case Repaid:
		ctx.Log("Entry re-armed for %s", player.Key)
	}
	return store(board, lb)
}

// Accounts: [0] leaderboard (writable), [1] player (signer).
func (p *Processor) addPlayerToLeaderboard(ctx svm.InvokeContext, score uint64) error {
	accs, err := p.accounts(ctx, 2)
	if err != nil {
		return err
	}
	board, player := accs[0], accs[1]

	if !player.IsSigner {
		return ErrAccountNotSigner
	}
	lb, err := p.load(board)
	if err != nil {
		return err
	}
	if err := lb.SubmitScore(player.Key, score); err != nil {
		return err
	}
	return store(board, lb)
}

// IsLeaderboardAccount reports whether data carries the leaderboard discriminator.
func IsLeaderboardAccount(data []byte) bool {
	return len(data) >= 8 && bytes.Equal(data[:8], AccountDiscriminator[:])
}

var _ svm.Program = (*Processor)(nil)
