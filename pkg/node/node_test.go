package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/geyser/kafka"
	"github.com/fortiblox/rock-destroyer/pkg/geyser/postgres"
	"github.com/fortiblox/rock-destroyer/pkg/geyser/redis"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir != "./data" {
		t.Errorf("expected DataDir './data', got %q", cfg.DataDir)
	}
	if cfg.SlotInterval != 400*time.Millisecond {
		t.Errorf("expected SlotInterval 400ms, got %v", cfg.SlotInterval)
	}
	if !cfg.RPC.Enabled {
		t.Error("expected RPC to be enabled")
	}
	if cfg.Geyser.Enabled {
		t.Error("expected geyser server to be disabled")
	}
	if cfg.Dashboard.Enabled || cfg.Dashboard.Addr != "127.0.0.1:8080" {
		t.Errorf("Dashboard = %+v", cfg.Dashboard)
	}
	if cfg.Redis != nil || cfg.Postgres != nil || cfg.Kafka != nil {
		t.Error("expected exporters to be disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	t.Setenv("RD_REDIS_PASSWORD", "hunter2")
	t.Setenv("RD_GAME_OWNER", "9agDtgAxwyEhGDFMEdAJiyHUiKehjCpeLWbEj7ZoDhP")

	cfg, err := ParseConfig([]byte(`
data_dir: /var/lib/rock-destroyer
slot_interval: 1s
game_owner: ${RD_GAME_OWNER}
snapshot_on_shutdown: true
rpc:
  listen: 0.0.0.0:9000
  log_requests: true
geyser:
  enabled: true
  listen: 127.0.0.1:10001
dashboard:
  enabled: true
  listen: 0.0.0.0:8081
redis:
  addr: localhost:6379
  password: ${RD_REDIS_PASSWORD}
kafka:
  brokers: [localhost:9092]
`))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.DataDir != "/var/lib/rock-destroyer" || cfg.SlotInterval != time.Second {
		t.Errorf("DataDir = %q, SlotInterval = %v", cfg.DataDir, cfg.SlotInterval)
	}
	if cfg.FaucetKeypair != "/var/lib/rock-destroyer/faucet.json" {
		t.Errorf("FaucetKeypair = %q", cfg.FaucetKeypair)
	}
	if cfg.SnapshotPath != "/var/lib/rock-destroyer/accounts.rdsn" || !cfg.SnapshotOnShutdown {
		t.Errorf("SnapshotPath = %q, SnapshotOnShutdown = %v", cfg.SnapshotPath, cfg.SnapshotOnShutdown)
	}
	if owner, _ := cfg.gameOwner(); owner != types.DeployedGameOwner {
		t.Errorf("game owner = %s", owner)
	}
	if !cfg.RPC.Enabled || cfg.RPC.Addr != "0.0.0.0:9000" || !cfg.RPC.LogRequests {
		t.Errorf("RPC = %+v", cfg.RPC)
	}
	if cfg.RPC.MaxRequestSize != DefaultConfig().RPC.MaxRequestSize {
		t.Errorf("RPC.MaxRequestSize = %d, want default", cfg.RPC.MaxRequestSize)
	}
	if !cfg.Geyser.Enabled || cfg.Geyser.ListenAddr != "127.0.0.1:10001" || cfg.Geyser.MaxSubscribers == 0 {
		t.Errorf("Geyser = %+v", cfg.Geyser)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Addr != "0.0.0.0:8081" || cfg.Dashboard.RecentTransactions != 20 {
		t.Errorf("Dashboard = %+v", cfg.Dashboard)
	}
	if cfg.Redis == nil || cfg.Redis.Password != "hunter2" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Kafka == nil || len(cfg.Kafka.Brokers) != 1 {
		t.Errorf("Kafka = %+v", cfg.Kafka)
	}
	if cfg.Postgres != nil {
		t.Errorf("Postgres = %+v, want nil", cfg.Postgres)
	}
}

func TestParseConfigRejectsBadYAML(t *testing.T) {
	_, err := ParseConfig([]byte("slot_interval: [not a duration"))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("ParseConfig() error = %v, want ErrConfigInvalid", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte("data_dir: /tmp/rd\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DataDir != "/tmp/rd" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing data dir", func(c *Config) { c.DataDir = "" }},
		{"zero slot interval", func(c *Config) { c.SlotInterval = 0 }},
		{"bad game owner", func(c *Config) { c.GameOwner = "not-base58!" }},
		{"bad rpc address", func(c *Config) { c.RPC.Addr = "8899" }},
		{"bad geyser address", func(c *Config) { c.Geyser.Enabled = true; c.Geyser.ListenAddr = "nowhere" }},
		{"bad dashboard address", func(c *Config) { c.Dashboard.Enabled = true; c.Dashboard.Addr = "8080" }},
		{"redis without addr", func(c *Config) { c.Redis = &redis.Config{} }},
		{"postgres without dsn", func(c *Config) { c.Postgres = &postgres.Config{} }},
		{"kafka without brokers", func(c *Config) { c.Kafka = &kafka.Config{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("Validate() error = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestNewNode(t *testing.T) {
	n, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error = %v", err)
	}
	if n.Status().IsRunning {
		t.Error("new node should not be running")
	}
	if err := n.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}

	bad := DefaultConfig()
	bad.SlotInterval = -time.Second
	if _, err := New(&bad); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("New() error = %v, want ErrConfigInvalid", err)
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.SlotInterval = 10 * time.Millisecond
	cfg.RPC.Addr = "127.0.0.1:0"
	cfg.PruneEnabled = false
	return cfg
}

func waitForSlot(t *testing.T, n *Node, slot uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for n.Status().Slot < slot {
		if time.Now().After(deadline) {
			t.Fatalf("slot did not reach %d", slot)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNodeLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.InMemory = true
	cfg.Geyser.Enabled = true
	cfg.Geyser.ListenAddr = "127.0.0.1:0"
	cfg.Dashboard.Enabled = true
	cfg.Dashboard.Addr = "127.0.0.1:0"

	n, err := New(&cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := n.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	waitForSlot(t, n, 2)

	status := n.Status()
	if !status.IsRunning || status.RPCAddr == "" || status.GeyserAddr == "" || status.DashboardAddr == "" {
		t.Errorf("status = %+v", status)
	}
	if len(status.Plugins) != 2 {
		t.Errorf("plugins = %+v, want pubsub and grpc", status.Plugins)
	}
	if n.Faucet() == nil {
		t.Fatal("faucet not configured")
	}

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"getHealth"}`)
	resp, err := http.Post("http://"+status.RPCAddr, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST getHealth error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("getHealth status = %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + status.DashboardAddr + "/api/status")
	if err != nil {
		t.Fatalf("GET dashboard status error = %v", err)
	}
	var dash struct {
		Slot      uint64 `json:"slot"`
		IsRunning bool   `json:"isRunning"`
	}
	err = json.NewDecoder(resp.Body).Decode(&dash)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode dashboard status: %v", err)
	}
	if !dash.IsRunning || dash.Slot < 2 {
		t.Errorf("dashboard status = %+v", dash)
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n.Status().IsRunning {
		t.Error("node still running after Stop")
	}
}

func TestNodeSnapshotRestore(t *testing.T) {
	shared := t.TempDir()
	recipient := types.Pubkey{42}

	cfg := testConfig(t)
	cfg.FaucetKeypair = filepath.Join(shared, "faucet.json")
	cfg.SnapshotPath = filepath.Join(shared, "accounts.rdsn")
	cfg.SnapshotOnShutdown = true
	cfg.RPC.Enabled = false

	first, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := first.Bank().Airdrop(recipient, 1_000_000_000); err != nil {
		t.Fatalf("Airdrop() error = %v", err)
	}
	waitForSlot(t, first, 1)
	faucet := first.Faucet().PublicKey()
	if err := first.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := os.Stat(cfg.SnapshotPath); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	// A fresh data directory restores from the shared snapshot.
	cfg2 := cfg
	cfg2.DataDir = t.TempDir()
	cfg2.SnapshotOnShutdown = false
	second, err := New(&cfg2)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer second.Stop()

	if got := second.Faucet().PublicKey(); got != faucet {
		t.Errorf("faucet = %s, want %s", got, faucet)
	}
	balance, err := second.Bank().GetBalance(recipient)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 1_000_000_000 {
		t.Errorf("restored balance = %d, want 1000000000", balance)
	}
	if second.Bank().Slot() == 0 {
		t.Error("restored slot = 0")
	}
}
