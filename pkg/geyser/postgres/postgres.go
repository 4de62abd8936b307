// Package postgres keeps a queryable history of the node in PostgreSQL:
// every processed transaction, every closed slot and the current players of
// every leaderboard.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

// ErrNoDSN is returned when the connection string is missing.
var ErrNoDSN = errors.New("postgres dsn is required")

// Config configures the history store.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	Timeout         time.Duration `yaml:"timeout"`

	// ProgramID selects which accounts are leaderboards.
	ProgramID types.Pubkey `yaml:"-"`
}

// migrations are applied in order on startup. Each is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		signature      TEXT PRIMARY KEY,
		slot           BIGINT NOT NULL,
		fee            BIGINT NOT NULL,
		compute_units  BIGINT NOT NULL,
		succeeded      BOOLEAN NOT NULL,
		err            JSONB,
		err_message    TEXT,
		account_keys   TEXT[] NOT NULL,
		log_messages   TEXT[] NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_slot ON transactions(slot DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_accounts ON transactions USING GIN(account_keys)`,
	`CREATE TABLE IF NOT EXISTS slots (
		slot       BIGINT PRIMARY KEY,
		parent     BIGINT NOT NULL,
		blockhash  TEXT NOT NULL,
		bank_hash  TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS leaderboard_players (
		board      TEXT NOT NULL,
		owner      TEXT NOT NULL,
		position   INT NOT NULL,
		player     TEXT NOT NULL,
		username   TEXT NOT NULL,
		score      BIGINT NOT NULL,
		has_paid   BOOLEAN NOT NULL,
		slot       BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (board, player)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leaderboard_players_score ON leaderboard_players(owner, score DESC)`,
}

// Plugin is a geyser.Plugin writing history to PostgreSQL.
type Plugin struct {
	pool      *pgxpool.Pool
	timeout   time.Duration
	programID types.Pubkey
}

// New connects, runs migrations and returns the plugin.
func New(ctx context.Context, cfg Config) (*Plugin, error) {
	if cfg.DSN == "" {
		return nil, ErrNoDSN
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = types.LeaderboardProgramID
	}
	p := &Plugin{pool: pool, timeout: cfg.Timeout, programID: cfg.ProgramID}
	if err := p.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// RunMigrations creates the schema.
func (p *Plugin) RunMigrations(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := p.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("executing migration %d: %w", i, err)
		}
	}
	log.Printf("[GEYSER] Postgres migrations applied (%d statements)", len(migrations))
	return nil
}

// Name implements geyser.Plugin.
func (p *Plugin) Name() string { return "postgres" }

// OnTransaction records a processed transaction. Replays of the same
// signature are ignored.
func (p *Plugin) OnTransaction(ctx context.Context, u *geyser.TransactionUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var errJSON any
	if !u.Succeeded() {
		errJSON = string(u.Err)
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO transactions
			(signature, slot, fee, compute_units, succeeded, err, err_message, account_keys, log_messages)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (signature) DO NOTHING`,
		u.Signature.String(),
		int64(u.Slot),
		int64(u.Fee),
		int64(u.ComputeUnitsConsumed),
		u.Succeeded(),
		errJSON,
		u.ErrMessage,
		keyStrings(u.AccountKeys),
		nonNil(u.LogMessages),
	)
	if err != nil {
		return fmt.Errorf("inserting transaction %s: %w", u.Signature, err)
	}
	return nil
}

// OnAccountUpdate replaces the stored players of a changed leaderboard.
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

	board := u.Pubkey.String()
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM leaderboard_players WHERE board = $1`, board); err != nil {
			return fmt.Errorf("clearing leaderboard %s: %w", board, err)
		}
		batch := &pgx.Batch{}
		for i, pl := range lb.Players {
			batch.Queue(`
				INSERT INTO leaderboard_players
					(board, owner, position, player, username, score, has_paid, slot)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				board, lb.Owner.String(), i, pl.Pubkey.String(), pl.Username, int64(pl.Score), pl.HasPaid, int64(u.Slot),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("storing leaderboard %s: %w", board, err)
		}
		return nil
	})
}

// OnSlot records a closed slot.
func (p *Plugin) OnSlot(ctx context.Context, u *geyser.SlotUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO slots (slot, parent, blockhash, bank_hash, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slot) DO UPDATE SET status = EXCLUDED.status`,
		int64(u.Slot), int64(u.Parent), u.Blockhash.String(), u.BankHash.String(), u.Status.String(),
	)
	if err != nil {
		return fmt.Errorf("inserting slot %d: %w", u.Slot, err)
	}
	return nil
}

// TransactionsForAccount returns the newest signatures touching key.
func (p *Plugin) TransactionsForAccount(ctx context.Context, key types.Pubkey, limit int) ([]types.Signature, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT signature FROM transactions
		WHERE $1 = ANY(account_keys)
		ORDER BY slot DESC, created_at DESC
		LIMIT $2`, key.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	encoded, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning transactions: %w", err)
	}

	sigs := make([]types.Signature, 0, len(encoded))
	for _, s := range encoded {
		sig, err := types.SignatureFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("bad signature %q: %w", s, err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// Close implements geyser.Plugin.
func (p *Plugin) Close() error {
	p.pool.Close()
	return nil
}

func keyStrings(keys []types.Pubkey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ geyser.Plugin = (*Plugin)(nil)
