// Package node runs a single rock-destroyer node.
//
// The Node ties together all components:
// - AccountsDB for account state (badger, or memory for tests)
// - Blockstore ledger of processed transactions
// - Bank executing transactions against the leaderboard program
// - Geyser dispatcher feeding the RPC pubsub hub, the gRPC stream and the
//   optional Redis, PostgreSQL and Kafka exporters
// - JSON-RPC server
// - Web dashboard
//
// The node manages the lifecycle of these components, closes slots on a
// fixed interval and snapshots account state across restarts.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/blockstore"
	"github.com/fortiblox/rock-destroyer/pkg/dashboard"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/geyser/kafka"
	"github.com/fortiblox/rock-destroyer/pkg/geyser/postgres"
	"github.com/fortiblox/rock-destroyer/pkg/geyser/redis"
	"github.com/fortiblox/rock-destroyer/pkg/keypair"
	"github.com/fortiblox/rock-destroyer/pkg/rpc"
	"github.com/fortiblox/rock-destroyer/pkg/runtime"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrInitFailed     = errors.New("node initialization failed")
)

// Node is a running rock-destroyer node.
type Node struct {
	config Config

	// Core components
	accounts     accounts.DB
	ledger       *blockstore.BoltStore
	bank         *runtime.Bank
	dispatcher   *geyser.Dispatcher
	rpcServer    *rpc.Server
	geyserServer *geyser.Server
	dashboard    *dashboard.Dashboard
	faucet       *keypair.Keypair

	// State management
	mu            sync.RWMutex
	running       atomic.Bool
	startTime     time.Time
	rpcAddr       net.Addr
	geyserAddr    net.Addr
	dashboardAddr net.Addr
	lastError     error
	lastErrorMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node with the given configuration.
// The node is not started until Start() is called.
func New(config *Config) (*Node, error) {
	if config == nil {
		defaults := DefaultConfig()
		config = &defaults
	}
	cfg := *config
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Node{config: cfg}, nil
}

// Start opens storage, wires every component and starts serving.
// It returns once the node is running; cancel ctx or call Stop to end it.
func (n *Node) Start(ctx context.Context) error {
	if n.running.Swap(true) {
		return ErrAlreadyRunning
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()

	if err := n.initialize(); err != nil {
		n.cancel()
		n.closeStorage()
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	// Close slots on the configured interval
	n.wg.Add(1)
	go n.slotLoop()

	log.Printf("[NODE] Started at slot %d", n.bank.Slot())
	return nil
}

// initialize sets up storage, the bank and every consumer of its
// notifications.
func (n *Node) initialize() error {
	if err := os.MkdirAll(n.config.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	if err := n.openStorage(); err != nil {
		return err
	}
	if err := n.restoreSnapshot(); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	gameOwner, _ := n.config.gameOwner()
	bankConfig := runtime.DefaultConfig()
	bankConfig.MaxAirdrop = n.config.MaxAirdrop
	n.bank = runtime.New(n.accounts, bankConfig)
	n.bank.SetLedger(n.ledger)
	if err := n.bank.Register(leaderboard.NewProcessor(leaderboard.Config{
		ProgramID: types.LeaderboardProgramID,
		EntryFee:  n.config.EntryFee,
		GameOwner: gameOwner,
	})); err != nil {
		return fmt.Errorf("register leaderboard program: %w", err)
	}

	if err := n.setupFaucet(); err != nil {
		return fmt.Errorf("faucet: %w", err)
	}

	n.dispatcher = geyser.NewDispatcher(n.config.Geyser.QueueSize)
	n.bank.SetObserver(n.dispatcher)

	if n.config.RPC.Enabled {
		n.rpcServer = rpc.New(n.config.RPC.Config, n.bank, n.ledger)
		if err := n.dispatcher.Register(n.rpcServer.Hub()); err != nil {
			return err
		}
	}
	if err := n.registerPlugins(); err != nil {
		return err
	}

	if n.rpcServer != nil {
		lis, err := net.Listen("tcp", n.config.RPC.Addr)
		if err != nil {
			return fmt.Errorf("rpc listen %s: %w", n.config.RPC.Addr, err)
		}
		n.mu.Lock()
		n.rpcAddr = lis.Addr()
		n.mu.Unlock()

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.rpcServer.Serve(n.ctx, lis); err != nil {
				n.reportError(fmt.Errorf("RPC server error: %w", err))
			}
		}()
	}

	if n.config.Dashboard.Enabled {
		if err := n.startDashboard(); err != nil {
			return err
		}
	}
	return nil
}

// startDashboard serves the web dashboard on its own listener.
func (n *Node) startDashboard() error {
	cfg := n.config.Dashboard.Config
	cfg.ProgramID = types.LeaderboardProgramID
	dash, err := dashboard.New(cfg, n.ledger, n.accounts, dashboardStats{n})
	if err != nil {
		return fmt.Errorf("create dashboard: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("dashboard listen %s: %w", cfg.Addr, err)
	}
	n.dashboard = dash
	n.mu.Lock()
	n.dashboardAddr = lis.Addr()
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := dash.Serve(n.ctx, lis); err != nil {
			n.reportError(fmt.Errorf("dashboard error: %w", err))
		}
	}()
	return nil
}

// openStorage opens the accounts database and the ledger.
func (n *Node) openStorage() error {
	if n.config.InMemory {
		n.accounts = accounts.NewMemoryDB()
	} else {
		accts, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(n.config.DataDir, "accounts")))
		if err != nil {
			return fmt.Errorf("open accounts database: %w", err)
		}
		n.accounts = accts
	}

	ledgerConfig := blockstore.DefaultConfig(filepath.Join(n.config.DataDir, "ledger", "ledger.db"))
	ledgerConfig.PruneEnabled = n.config.PruneEnabled
	ledgerConfig.RetainSlots = n.config.PruneRetainSlots
	ledger, err := blockstore.Open(ledgerConfig)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	n.ledger = ledger
	return nil
}

// restoreSnapshot loads SnapshotPath into an empty accounts database.
func (n *Node) restoreSnapshot() error {
	count, err := n.accounts.AccountsCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := os.Stat(n.config.SnapshotPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	header, err := accounts.LoadSnapshotFile(n.config.SnapshotPath, n.accounts)
	if err != nil {
		return err
	}
	log.Printf("[NODE] Restored %d accounts at slot %d from %s", header.AccountsCount, header.Slot, n.config.SnapshotPath)
	return nil
}

// setupFaucet loads or creates the faucet keypair and funds it at genesis.
func (n *Node) setupFaucet() error {
	if n.config.FaucetLamports == 0 {
		return nil
	}

	faucet, err := keypair.Load(n.config.FaucetKeypair)
	if errors.Is(err, os.ErrNotExist) {
		faucet, err = keypair.Generate()
		if err == nil {
			err = faucet.Save(n.config.FaucetKeypair, false)
		}
		if err == nil {
			log.Printf("[NODE] Created faucet keypair %s", n.config.FaucetKeypair)
		}
	}
	if err != nil {
		return err
	}

	n.faucet = faucet
	n.bank.SetFaucet(faucet.PrivateKey())
	return n.bank.Genesis(map[types.Pubkey]uint64{faucet.PublicKey(): n.config.FaucetLamports})
}

// registerPlugins starts the gRPC stream and the configured exporters.
func (n *Node) registerPlugins() error {
	if n.config.Geyser.Enabled {
		server, err := geyser.NewServer(n.config.Geyser.ServerConfig)
		if err != nil {
			return fmt.Errorf("create geyser server: %w", err)
		}
		addr, err := server.Start()
		if err != nil {
			return fmt.Errorf("start geyser server: %w", err)
		}
		n.geyserServer = server
		n.mu.Lock()
		n.geyserAddr = addr
		n.mu.Unlock()
		if err := n.dispatcher.Register(server); err != nil {
			return err
		}
	}

	if n.config.Redis != nil {
		plugin, err := redis.New(n.ctx, *n.config.Redis)
		if err != nil {
			return fmt.Errorf("redis plugin: %w", err)
		}
		if err := n.dispatcher.Register(plugin); err != nil {
			return err
		}
	}
	if n.config.Postgres != nil {
		plugin, err := postgres.New(n.ctx, *n.config.Postgres)
		if err != nil {
			return fmt.Errorf("postgres plugin: %w", err)
		}
		if err := n.dispatcher.Register(plugin); err != nil {
			return err
		}
	}
	if n.config.Kafka != nil {
		plugin, err := kafka.New(*n.config.Kafka)
		if err != nil {
			return fmt.Errorf("kafka plugin: %w", err)
		}
		if err := n.dispatcher.Register(plugin); err != nil {
			return err
		}
	}
	return nil
}

// slotLoop closes a slot every SlotInterval until the node stops.
func (n *Node) slotLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SlotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			info, err := n.bank.Tick()
			if err != nil {
				n.reportError(fmt.Errorf("tick: %w", err))
				continue
			}
			if n.config.OnSlot != nil {
				n.config.OnSlot(info.Slot)
			}
		}
	}
}

// Stop gracefully stops the node, writing a snapshot if configured.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	// Cancel context to stop all goroutines
	n.cancel()
	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.dashboard != nil {
		n.dashboard.Stop()
	}
	n.wg.Wait()

	// Drain notifications and close every plugin
	if n.dispatcher != nil {
		n.dispatcher.Close()
	}

	var err error
	if n.config.SnapshotOnShutdown {
		header, serr := accounts.CreateSnapshotFile(n.config.SnapshotPath, n.accounts)
		if serr != nil {
			err = fmt.Errorf("write snapshot: %w", serr)
		} else {
			log.Printf("[NODE] Wrote snapshot of %d accounts at slot %d", header.AccountsCount, header.Slot)
		}
	}

	n.closeStorage()
	n.running.Store(false)
	log.Printf("[NODE] Stopped")
	return err
}

// closeStorage closes all storage backends.
func (n *Node) closeStorage() {
	if n.accounts != nil {
		n.accounts.Close()
	}
	if n.ledger != nil {
		n.ledger.Close()
	}
}

// Bank returns the node's bank. It is nil before Start.
func (n *Node) Bank() *runtime.Bank {
	return n.bank
}

// Faucet returns the faucet keypair, or nil when airdrops are disabled.
func (n *Node) Faucet() *keypair.Keypair {
	return n.faucet
}

// RPCAddr returns the bound RPC address, or nil if RPC is disabled.
func (n *Node) RPCAddr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rpcAddr
}

// GeyserAddr returns the bound gRPC address, or nil if disabled.
func (n *Node) GeyserAddr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.geyserAddr
}

// DashboardAddr returns the bound dashboard address, or nil if disabled.
func (n *Node) DashboardAddr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dashboardAddr
}

// Status returns a snapshot of node health.
func (n *Node) Status() *Status {
	status := &Status{
		IsRunning: n.running.Load(),
		LastError: n.getLastError(),
	}
	if !status.IsRunning {
		return status
	}

	status.Slot = n.bank.Slot()
	status.BankHash = n.bank.BankHash()
	status.Uptime = time.Since(n.startTime)
	status.AccountsCount, _ = n.accounts.AccountsCount()
	status.LedgerStats, _ = n.ledger.GetStats()
	status.Plugins = n.dispatcher.Stats()
	if addr := n.RPCAddr(); addr != nil {
		status.RPCAddr = addr.String()
	}
	if addr := n.GeyserAddr(); addr != nil {
		status.GeyserAddr = addr.String()
	}
	if addr := n.DashboardAddr(); addr != nil {
		status.DashboardAddr = addr.String()
	}
	return status
}

// Status contains the current node status.
type Status struct {
	// Slot is the current bank slot.
	Slot uint64

	// BankHash is the hash of the last completed slot.
	BankHash types.Hash

	// AccountsCount is the total number of accounts in the database.
	AccountsCount uint64

	// IsRunning indicates if the node is running.
	IsRunning bool

	// Uptime is how long the node has been running.
	Uptime time.Duration

	// LedgerStats contains ledger statistics.
	LedgerStats *blockstore.Stats

	// Plugins lists delivery counters per geyser plugin.
	Plugins []geyser.PluginStats

	// RPCAddr, GeyserAddr and DashboardAddr are the bound listen
	// addresses, if enabled.
	RPCAddr       string
	GeyserAddr    string
	DashboardAddr string

	// LastError is the most recent error encountered.
	LastError error
}

func (n *Node) reportError(err error) {
	log.Printf("[NODE] %v", err)
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
	if n.config.OnError != nil {
		n.config.OnError(err)
	}
}

// getLastError safely gets the last error.
func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}

// dashboardStats exposes the node to the dashboard.
type dashboardStats struct {
	n *Node
}

func (s dashboardStats) Slot() uint64                  { return s.n.bank.Slot() }
func (s dashboardStats) BankHash() types.Hash          { return s.n.bank.BankHash() }
func (s dashboardStats) IsRunning() bool               { return s.n.running.Load() }
func (s dashboardStats) Uptime() time.Duration         { return time.Since(s.n.startTime) }
func (s dashboardStats) Plugins() []geyser.PluginStats { return s.n.dispatcher.Stats() }
func (s dashboardStats) LastError() error              { return s.n.getLastError() }
