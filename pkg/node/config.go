package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/blockstore"
	"github.com/fortiblox/rock-destroyer/pkg/dashboard"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/geyser/kafka"
	"github.com/fortiblox/rock-destroyer/pkg/geyser/postgres"
	"github.com/fortiblox/rock-destroyer/pkg/geyser/redis"
	"github.com/fortiblox/rock-destroyer/pkg/rpc"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid wraps every configuration validation failure.
var ErrConfigInvalid = errors.New("invalid node configuration")

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data.
	// Subdirectories are created for the accounts database and the ledger.
	DataDir string `yaml:"data_dir"`

	// InMemory keeps accounts in memory. The ledger still lives in DataDir.
	InMemory bool `yaml:"in_memory"`

	// SlotInterval is how often the bank closes a slot.
	SlotInterval time.Duration `yaml:"slot_interval"`

	// FaucetKeypair is the faucet's keypair file. It is created when
	// missing. Defaults to <data_dir>/faucet.json.
	FaucetKeypair string `yaml:"faucet_keypair"`

	// FaucetLamports funds the faucet at genesis. Zero disables airdrops.
	FaucetLamports uint64 `yaml:"faucet_lamports"`

	// MaxAirdrop bounds a single requestAirdrop.
	MaxAirdrop uint64 `yaml:"max_airdrop"`

	// GameOwner, when set, is the only identity allowed to create a
	// leaderboard. Supports ${VAR} expansion like every other field.
	GameOwner string `yaml:"game_owner"`

	// EntryFee is charged by every NewGame.
	EntryFee uint64 `yaml:"entry_fee"`

	// SnapshotPath is restored into an empty accounts database on start
	// and, with SnapshotOnShutdown, rewritten on stop.
	SnapshotPath string `yaml:"snapshot_path"`

	// SnapshotOnShutdown writes SnapshotPath when the node stops.
	SnapshotOnShutdown bool `yaml:"snapshot_on_shutdown"`

	// PruneEnabled enables pruning of old ledger entries.
	PruneEnabled bool `yaml:"prune_enabled"`

	// PruneRetainSlots is the number of slots kept by pruning.
	PruneRetainSlots uint64 `yaml:"prune_retain_slots"`

	RPC       RPCConfig       `yaml:"rpc"`
	Geyser    GeyserConfig    `yaml:"geyser"`
	Dashboard DashboardConfig `yaml:"dashboard"`

	// Optional exporters. A nil section disables the plugin.
	Redis    *redis.Config    `yaml:"redis"`
	Postgres *postgres.Config `yaml:"postgres"`
	Kafka    *kafka.Config    `yaml:"kafka"`

	// Callbacks for monitoring.
	OnSlot  func(slot uint64) `yaml:"-"`
	OnError func(err error)   `yaml:"-"`
}

// RPCConfig enables and configures the JSON-RPC server.
type RPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	rpc.Config `yaml:",inline"`
}

// GeyserConfig enables and configures the gRPC streaming server.
type GeyserConfig struct {
	Enabled             bool `yaml:"enabled"`
	geyser.ServerConfig `yaml:",inline"`

	// QueueSize is the per-plugin notification buffer.
	QueueSize int `yaml:"queue_size"`
}

// DashboardConfig enables and configures the web dashboard.
type DashboardConfig struct {
	Enabled          bool `yaml:"enabled"`
	dashboard.Config `yaml:",inline"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:          "./data",
		SlotInterval:     400 * time.Millisecond,
		FaucetLamports:   500_000_000_000_000,
		MaxAirdrop:       100_000_000_000,
		EntryFee:         leaderboard.EntryFee,
		PruneEnabled:     true,
		PruneRetainSlots: blockstore.DefaultRetainSlots,
		RPC: RPCConfig{
			Enabled: true,
			Config:  rpc.DefaultConfig(),
		},
		Geyser: GeyserConfig{
			ServerConfig: geyser.DefaultServerConfig(),
			QueueSize:    geyser.DefaultQueueSize,
		},
		Dashboard: DashboardConfig{
			Config: dashboard.DefaultConfig(),
		},
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
// Environment variables are expanded before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills zero values left by a partial configuration.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
	}
	if c.SlotInterval == 0 {
		c.SlotInterval = defaults.SlotInterval
	}
	if c.FaucetKeypair == "" {
		c.FaucetKeypair = filepath.Join(c.DataDir, "faucet.json")
	}
	if c.EntryFee == 0 {
		c.EntryFee = defaults.EntryFee
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = filepath.Join(c.DataDir, "accounts.rdsn")
	}
	if c.PruneRetainSlots == 0 {
		c.PruneRetainSlots = defaults.PruneRetainSlots
	}
	if c.RPC.Addr == "" {
		c.RPC.Addr = defaults.RPC.Addr
	}
	if c.RPC.MaxRequestSize == 0 {
		c.RPC.MaxRequestSize = defaults.RPC.MaxRequestSize
	}
	if c.RPC.ReadTimeout == 0 {
		c.RPC.ReadTimeout = defaults.RPC.ReadTimeout
	}
	if c.RPC.WriteTimeout == 0 {
		c.RPC.WriteTimeout = defaults.RPC.WriteTimeout
	}
	c.Geyser.ServerConfig = c.Geyser.ServerConfig.WithDefaults()
	if c.Geyser.QueueSize == 0 {
		c.Geyser.QueueSize = defaults.Geyser.QueueSize
	}
	c.Dashboard.Config = c.Dashboard.Config.WithDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if c.SlotInterval <= 0 {
		return fmt.Errorf("%w: slot interval must be positive", ErrConfigInvalid)
	}
	if _, err := c.gameOwner(); err != nil {
		return fmt.Errorf("%w: game owner: %v", ErrConfigInvalid, err)
	}
	if c.RPC.Enabled {
		if _, _, err := net.SplitHostPort(c.RPC.Addr); err != nil {
			return fmt.Errorf("%w: rpc listen address: %v", ErrConfigInvalid, err)
		}
	}
	if c.Dashboard.Enabled {
		if _, _, err := net.SplitHostPort(c.Dashboard.Addr); err != nil {
			return fmt.Errorf("%w: dashboard listen address: %v", ErrConfigInvalid, err)
		}
	}
	if c.Geyser.Enabled {
		if err := c.Geyser.ServerConfig.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
	}
	if c.Redis != nil && c.Redis.Addr == "" {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, redis.ErrNoAddr)
	}
	if c.Postgres != nil && c.Postgres.DSN == "" {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, postgres.ErrNoDSN)
	}
	if c.Kafka != nil && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, kafka.ErrNoBrokers)
	}
	return nil
}

// gameOwner parses GameOwner. An empty value means any owner.
func (c *Config) gameOwner() (types.Pubkey, error) {
	if c.GameOwner == "" {
		return types.Pubkey{}, nil
	}
	return types.PubkeyFromBase58(c.GameOwner)
}
