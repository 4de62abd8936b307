package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), Config{}); !errors.Is(err, ErrNoDSN) {
		t.Errorf("New() error = %v, want ErrNoDSN", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	for i, m := range migrations {
		if !strings.Contains(m, "IF NOT EXISTS") {
			t.Errorf("migration %d is not idempotent", i)
		}
	}
}

func TestKeyStrings(t *testing.T) {
	got := keyStrings([]types.Pubkey{types.SystemProgramAddr})
	if len(got) != 1 || got[0] != "11111111111111111111111111111111" {
		t.Errorf("keyStrings() = %v", got)
	}
	if nonNil(nil) == nil {
		t.Error("nonNil(nil) returned nil")
	}
}

// TestHistory needs a live database; set POSTGRES_DSN to run it.
func TestHistory(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	ctx := context.Background()
	p, err := New(ctx, Config{DSN: dsn})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	board := types.Pubkey{0xb0}
	player := types.Pubkey{0xa1}
	sig := types.Signature{0xc1, 0xc2}
	t.Cleanup(func() {
		p.pool.Exec(ctx, `DELETE FROM transactions WHERE signature = $1`, sig.String())
		p.pool.Exec(ctx, `DELETE FROM leaderboard_players WHERE board = $1`, board.String())
	})

	tx := &geyser.TransactionUpdate{Signature: sig, Slot: 3, Fee: 5000, AccountKeys: []types.Pubkey{player, board}}
	if err := p.OnTransaction(ctx, tx); err != nil {
		t.Fatalf("OnTransaction() error = %v", err)
	}
	if err := p.OnTransaction(ctx, tx); err != nil {
		t.Fatalf("duplicate OnTransaction() error = %v", err)
	}

	sigs, err := p.TransactionsForAccount(ctx, player, 10)
	if err != nil {
		t.Fatalf("TransactionsForAccount() error = %v", err)
	}
	if len(sigs) != 1 || sigs[0] != sig {
		t.Errorf("TransactionsForAccount() = %v", sigs)
	}

	lb := &leaderboard.Leaderboard{Owner: types.Pubkey{1}, Players: []leaderboard.Player{{Username: "camperbot", Pubkey: player, Score: 7}}}
	data, _ := lb.MarshalBinary()
	update := &geyser.AccountUpdate{Pubkey: board, Owner: types.LeaderboardProgramID, Data: data, Slot: 3}
	if err := p.OnAccountUpdate(ctx, update); err != nil {
		t.Fatalf("OnAccountUpdate() error = %v", err)
	}

	var score int64
	if err := p.pool.QueryRow(ctx, `SELECT score FROM leaderboard_players WHERE board = $1 AND player = $2`,
		board.String(), player.String()).Scan(&score); err != nil {
		t.Fatalf("query player: %v", err)
	}
	if score != 7 {
		t.Errorf("score = %d, want 7", score)
	}
}
