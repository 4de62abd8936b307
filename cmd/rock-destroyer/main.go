// rock-destroyer: single-node runtime for the rock-destroyer leaderboard program.
//
// Usage:
//
//	rock-destroyer [run] [-config node.yaml] [flags]
//	rock-destroyer derive -owner <pubkey>
//	rock-destroyer keygen -outfile <path> [-seed-phrase "<words>"]
//	rock-destroyer snapshot -data-dir <dir> -out <path>
//	rock-destroyer watch -endpoint <host:port> [-owner <pubkey>]
//	rock-destroyer version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/keypair"
	"github.com/fortiblox/rock-destroyer/pkg/node"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

// Version information
var (
	Version   = "1.0.0"
	GitCommit = "dev"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runNode(args)
	case "derive":
		err = derive(args)
	case "keygen":
		err = keygen(args)
	case "snapshot":
		err = snapshot(args)
	case "watch":
		err = watch(args)
	case "version":
		fmt.Printf("rock-destroyer %s (%s)\n", Version, GitCommit)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal %v, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runNode(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	dataDir := fs.String("data-dir", "", "Data directory for accounts and ledger")
	rpcAddr := fs.String("rpc-addr", "", "RPC server listen address")
	dashboardAddr := fs.String("dashboard-addr", "", "Serve the web dashboard on this address")
	inMemory := fs.Bool("in-memory", false, "Keep accounts in memory")
	slotInterval := fs.Duration("slot-interval", 0, "Slot duration")
	gameOwner := fs.String("game-owner", "", "Only identity allowed to create leaderboards")
	fs.Parse(args)

	cfg := node.DefaultConfig()
	if *configPath != "" {
		loaded, err := node.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}

	// Flags override the file
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.FaucetKeypair = ""
		cfg.SnapshotPath = ""
	}
	if *rpcAddr != "" {
		cfg.RPC.Addr = *rpcAddr
	}
	if *dashboardAddr != "" {
		cfg.Dashboard.Enabled = true
		cfg.Dashboard.Addr = *dashboardAddr
	}
	if *inMemory {
		cfg.InMemory = true
	}
	if *slotInterval > 0 {
		cfg.SlotInterval = *slotInterval
	}
	if *gameOwner != "" {
		cfg.GameOwner = *gameOwner
	}
	cfg.OnError = func(err error) {
		log.Printf("Node error: %v", err)
	}

	n, err := node.New(&cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	log.Printf("Starting rock-destroyer %s", Version)
	if err := n.Start(ctx); err != nil {
		return err
	}
	if faucet := n.Faucet(); faucet != nil {
		log.Printf("Faucet: %s", faucet.PublicKey())
	}
	if addr := n.RPCAddr(); addr != nil {
		log.Printf("RPC: http://%s", addr)
	}
	if addr := n.DashboardAddr(); addr != nil {
		log.Printf("Dashboard: http://%s", addr)
	}

	// Print status periodically
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return n.Stop()
		case <-ticker.C:
			st := n.Status()
			log.Printf("Status: slot=%d, accounts=%d, bank_hash=%s", st.Slot, st.AccountsCount, st.BankHash)
		}
	}
}

func derive(args []string) error {
	fs := flag.NewFlagSet("derive", flag.ExitOnError)
	ownerStr := fs.String("owner", "", "Game owner pubkey")
	programStr := fs.String("program", types.LeaderboardProgramID.String(), "Program id")
	fs.Parse(args)

	if *ownerStr == "" {
		return errors.New("-owner is required")
	}
	owner, err := types.PubkeyFromBase58(*ownerStr)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	programID, err := types.PubkeyFromBase58(*programStr)
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}

	address, bump, err := leaderboard.FindLeaderboardAddress(owner, programID)
	if err != nil {
		return err
	}
	fmt.Printf("%s (bump %d)\n", address, bump)
	return nil
}

func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	outfile := fs.String("outfile", "", "Keypair file to write")
	phrase := fs.String("seed-phrase", "", "Derive the key from a seed phrase instead of randomly")
	passphrase := fs.String("passphrase", "", "Seed phrase passphrase")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if *outfile == "" {
		return errors.New("-outfile is required")
	}

	var (
		kp  *keypair.Keypair
		err error
	)
	if *phrase != "" {
		kp, err = keypair.FromSeedPhrase(*phrase, *passphrase)
	} else {
		kp, err = keypair.Generate()
	}
	if err != nil {
		return err
	}
	if err := kp.Save(*outfile, *force); err != nil {
		return err
	}
	fmt.Printf("Wrote keypair to %s\npubkey: %s\n", *outfile, kp.PublicKey())
	return nil
}

func snapshot(args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data-dir", node.DefaultConfig().DataDir, "Node data directory (node must be stopped)")
	out := fs.String("out", "", "Snapshot file (default: named by slot and hash in the data directory)")
	fs.Parse(args)

	db, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(*dataDir, "accounts")))
	if err != nil {
		return fmt.Errorf("open accounts database: %w", err)
	}
	defer db.Close()

	path := *out
	if path == "" {
		hash, err := accounts.ComputeAccountsHash(db)
		if err != nil {
			return err
		}
		path = filepath.Join(*dataDir, "snapshots", accounts.SnapshotFilename(db.GetSlot(), hash))
	}

	header, err := accounts.CreateSnapshotFile(path, db)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d accounts at slot %d to %s\naccounts hash: %s\n", header.AccountsCount, header.Slot, path, header.AccountsHash)
	return nil
}

func watch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	endpoint := fs.String("endpoint", "127.0.0.1:10000", "Geyser gRPC endpoint")
	token := fs.String("token", "", "x-token (supports ${VAR})")
	useTLS := fs.Bool("tls", false, "Use TLS")
	ownerStr := fs.String("owner", "", "Only watch this game owner's leaderboard")
	fs.Parse(args)

	cfg := geyser.DefaultConfig()
	cfg.Endpoint = *endpoint
	cfg.Token = *token
	cfg.UseTLS = *useTLS
	cfg.Request = geyser.SubscribeRequest{Owners: []types.Pubkey{types.LeaderboardProgramID}}
	if *ownerStr != "" {
		owner, err := types.PubkeyFromBase58(*ownerStr)
		if err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		board, _, err := leaderboard.FindLeaderboardAddress(owner, types.LeaderboardProgramID)
		if err != nil {
			return err
		}
		cfg.Request = geyser.SubscribeRequest{Accounts: []types.Pubkey{board}}
	}
	cfg.OnDisconnect = func(err error) {
		log.Printf("Disconnected: %v", err)
	}

	client, err := geyser.NewClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signalContext()
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	log.Printf("Watching leaderboards on %s", *endpoint)

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-client.Updates():
			if !ok {
				return errors.New("update stream closed")
			}
			if u.Account == nil || !leaderboard.IsLeaderboardAccount(u.Account.Data) {
				continue
			}
			lb, err := leaderboard.Decode(u.Account.Data)
			if err != nil {
				log.Printf("Decode %s: %v", u.Account.Pubkey, err)
				continue
			}
			fmt.Printf("slot %d leaderboard %s (owner %s)\n", u.Account.Slot, u.Account.Pubkey, lb.Owner)
			for i, p := range lb.Ranking() {
				fmt.Printf("  %d. %-24s %10d  paid=%v\n", i+1, p.Username, p.Score, p.HasPaid)
			}
		}
	}
}
