package redis

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

func testBoard() *leaderboard.Leaderboard {
	return &leaderboard.Leaderboard{
		Owner: types.Pubkey{42},
		Players: []leaderboard.Player{
			{Username: "camperbot", Pubkey: types.Pubkey{1}, Score: 120},
			{Username: "shaun", Pubkey: types.Pubkey{2}, Score: 0, HasPaid: true},
			{Username: "tom", Pubkey: types.Pubkey{3}, Score: 300},
		},
	}
}

func TestKeys(t *testing.T) {
	p := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), Config{KeyPrefix: "rd"})
	defer p.Close()

	owner := types.Pubkey{42}
	if got, want := p.rankingKey(owner), "rd:"+owner.String(); got != want {
		t.Errorf("rankingKey = %q, want %q", got, want)
	}
	if got, want := p.usernamesKey(owner), "rd:"+owner.String()+":usernames"; got != want {
		t.Errorf("usernamesKey = %q, want %q", got, want)
	}
	if got := p.slotKey(); got != "rd:slot" {
		t.Errorf("slotKey = %q", got)
	}
}

func TestMembers(t *testing.T) {
	p := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), Config{})
	defer p.Close()

	ranking, usernames, paid := p.members(testBoard())
	if len(ranking) != 3 || len(usernames) != 6 || len(paid) != 1 {
		t.Fatalf("members() sizes = %d/%d/%d, want 3/6/1", len(ranking), len(usernames), len(paid))
	}
	if ranking[2].Score != 300 || ranking[2].Member != (types.Pubkey{3}).String() {
		t.Errorf("ranking[2] = %+v", ranking[2])
	}
	if usernames[1] != "camperbot" {
		t.Errorf("usernames[1] = %v", usernames[1])
	}
	if paid[0] != (types.Pubkey{2}).String() {
		t.Errorf("paid[0] = %v", paid[0])
	}
}

func TestIgnoresForeignAccounts(t *testing.T) {
	p := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), Config{})
	defer p.Close()

	// Neither update reaches Redis, so the unreachable address is never dialled.
	err := p.OnAccountUpdate(context.Background(), &geyser.AccountUpdate{Owner: types.SystemProgramAddr})
	if err != nil {
		t.Errorf("system account: %v", err)
	}
	err = p.OnAccountUpdate(context.Background(), &geyser.AccountUpdate{Owner: types.LeaderboardProgramID, Data: []byte{1, 2}})
	if err != nil {
		t.Errorf("non-leaderboard data: %v", err)
	}
}

// TestMirrorRoundTrip needs a live server; set REDIS_ADDR to run it.
func TestMirrorRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	p, err := New(ctx, Config{Addr: addr, KeyPrefix: "rock-destroyer-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	lb := testBoard()
	data, err := lb.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	update := &geyser.AccountUpdate{Pubkey: types.Pubkey{9}, Owner: types.LeaderboardProgramID, Data: data}
	if err := p.OnAccountUpdate(ctx, update); err != nil {
		t.Fatalf("OnAccountUpdate() error = %v", err)
	}

	top, err := p.Top(ctx, lb.Owner, 2)
	if err != nil {
		t.Fatalf("Top() error = %v", err)
	}
	if len(top) != 2 || top[0].Username != "tom" || top[0].Score != 300 || top[1].Username != "camperbot" {
		t.Errorf("Top() = %+v", top)
	}

	p.client.Del(ctx, p.rankingKey(lb.Owner), p.usernamesKey(lb.Owner), p.paidKey(lb.Owner))
}
