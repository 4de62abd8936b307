// Package redis mirrors every leaderboard into Redis so rankings can be read
// without decoding account data.
//
// For a game owner O the plugin maintains:
//
//	<prefix>:<O>            sorted set, member = player pubkey, score = score
//	<prefix>:<O>:usernames  hash, player pubkey -> username
//	<prefix>:<O>:paid       set of players holding an unused entry
//	<prefix>:slot           latest closed slot
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

// DefaultKeyPrefix prefixes every key the plugin writes.
const DefaultKeyPrefix = "leaderboard"

// ErrNoAddr is returned when the Redis address is missing.
var ErrNoAddr = errors.New("redis address is required")

// Config configures the Redis mirror.
type Config struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Timeout   time.Duration `yaml:"timeout"`

	// ProgramID selects which accounts are leaderboards.
	ProgramID types.Pubkey `yaml:"-"`
}

// Entry is one ranked player read back from Redis.
type Entry struct {
	Rank     int64        `json:"rank"`
	Pubkey   types.Pubkey `json:"pubkey"`
	Username string       `json:"username"`
	Score    uint64       `json:"score"`
}

// Plugin is a geyser.Plugin writing leaderboards to Redis.
type Plugin struct {
	client    *redis.Client
	prefix    string
	timeout   time.Duration
	programID types.Pubkey
}

// New connects to Redis and returns the plugin.
func New(ctx context.Context, cfg Config) (*Plugin, error) {
	if cfg.Addr == "" {
		return nil, ErrNoAddr
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config) *Plugin {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = types.LeaderboardProgramID
	}
	return &Plugin{
		client:    client,
		prefix:    cfg.KeyPrefix,
		timeout:   cfg.Timeout,
		programID: cfg.ProgramID,
	}
}

func (p *Plugin) rankingKey(owner types.Pubkey) string {
	return fmt.Sprintf("%s:%s", p.prefix, owner)
}

func (p *Plugin) usernamesKey(owner types.Pubkey) string {
	return fmt.Sprintf("%s:%s:usernames", p.prefix, owner)
}

func (p *Plugin) paidKey(owner types.Pubkey) string {
	return fmt.Sprintf("%s:%s:paid", p.prefix, owner)
}

func (p *Plugin) slotKey() string {
	return p.prefix + ":slot"
}

// Name implements geyser.Plugin.
func (p *Plugin) Name() string { return "redis" }

// OnAccountUpdate rewrites the mirror of a changed leaderboard.
func (p *Plugin) OnAccountUpdate(ctx context.Context, u *geyser.AccountUpdate) error {
	if u.Owner != p.programID || !leaderboard.IsLeaderboardAccount(u.Data) {
		return nil
	}
	lb, err := leaderboard.Decode(u.Data)
	if err != nil {
		return fmt.Errorf("decoding leaderboard %s: %w", u.Pubkey, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.Store(ctx, lb)
}

// Store replaces the mirror of lb atomically.
func (p *Plugin) Store(ctx context.Context, lb *leaderboard.Leaderboard) error {
	ranking, usernames, paid := p.members(lb)

	pipe := p.client.TxPipeline()
	pipe.Del(ctx, p.rankingKey(lb.Owner), p.usernamesKey(lb.Owner), p.paidKey(lb.Owner))
	if len(ranking) > 0 {
		pipe.ZAdd(ctx, p.rankingKey(lb.Owner), ranking...)
		pipe.HSet(ctx, p.usernamesKey(lb.Owner), usernames...)
	}
	if len(paid) > 0 {
		pipe.SAdd(ctx, p.paidKey(lb.Owner), paid...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirroring leaderboard %s: %w", lb.Owner, err)
	}
	return nil
}

func (p *Plugin) members(lb *leaderboard.Leaderboard) (ranking []redis.Z, usernames []any, paid []any) {
	for _, pl := range lb.Players {
		member := pl.Pubkey.String()
		ranking = append(ranking, redis.Z{Score: float64(pl.Score), Member: member})
		usernames = append(usernames, member, pl.Username)
		if pl.HasPaid {
			paid = append(paid, member)
		}
	}
	return ranking, usernames, paid
}

// OnTransaction implements geyser.Plugin.
func (p *Plugin) OnTransaction(context.Context, *geyser.TransactionUpdate) error {
	return nil
}

// OnSlot records the latest slot.
func (p *Plugin) OnSlot(ctx context.Context, u *geyser.SlotUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.Set(ctx, p.slotKey(), u.Slot, 0).Err(); err != nil {
		return fmt.Errorf("setting slot: %w", err)
	}
	return nil
}

// Top returns the n best players of owner's leaderboard.
func (p *Plugin) Top(ctx context.Context, owner types.Pubkey, n int) ([]Entry, error) {
	results, err := p.client.ZRevRangeWithScores(ctx, p.rankingKey(owner), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top %d: %w", n, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	members := make([]string, len(results))
	for i, r := range results {
		members[i] = r.Member.(string)
	}
	names, err := p.client.HMGet(ctx, p.usernamesKey(owner), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting usernames: %w", err)
	}

	entries := make([]Entry, len(results))
	for i, r := range results {
		key, err := types.PubkeyFromBase58(members[i])
		if err != nil {
			return nil, fmt.Errorf("bad member %q: %w", members[i], err)
		}
		name, _ := names[i].(string)
		entries[i] = Entry{
			Rank:     int64(i + 1),
			Pubkey:   key,
			Username: name,
			Score:    uint64(r.Score),
		}
	}
	return entries, nil
}

// Close implements geyser.Plugin.
func (p *Plugin) Close() error {
	return p.client.Close()
}

var _ geyser.Plugin = (*Plugin)(nil)
