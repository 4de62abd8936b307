package runtime

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/blockstore"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/svm"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/system"
	"github.com/fortiblox/rock-destroyer/pkg/txn"
)

const sol = 1_000_000_000

var programID = types.LeaderboardProgramID

type memoryLedger struct {
	mu      sync.Mutex
	records []*blockstore.TransactionRecord
}

func (l *memoryLedger) PutTransaction(rec *blockstore.TransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

type memoryObserver struct {
	mu       sync.Mutex
	accounts []*geyser.AccountUpdate
	txs      []*geyser.TransactionUpdate
	slots    []*geyser.SlotUpdate
}

func (o *memoryObserver) OnAccountUpdate(u *geyser.AccountUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accounts = append(o.accounts, u)
}

func (o *memoryObserver) OnTransaction(u *geyser.TransactionUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.txs = append(o.txs, u)
}

func (o *memoryObserver) OnSlot(u *geyser.SlotUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slots = append(o.slots, u)
}

type testEnv struct {
	t        *testing.T
	bank     *Bank
	db       *accounts.MemoryDB
	ledger   *memoryLedger
	observer *memoryObserver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := accounts.NewMemoryDB()
	b := New(db, DefaultConfig())
	if err := b.Register(leaderboard.NewProcessor(leaderboard.DefaultConfig())); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	env := &testEnv{t: t, bank: b, db: db, ledger: &memoryLedger{}, observer: &memoryObserver{}}
	b.SetLedger(env.ledger)
	b.SetObserver(env.observer)
	return env
}

func newKey(seed byte) (ed25519.PrivateKey, types.Pubkey) {
	var s [ed25519.SeedSize]byte
	s[0] = seed
	s[31] = 0x5a
	priv := ed25519.NewKeyFromSeed(s[:])
	var pk types.Pubkey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return priv, pk
}

func (e *testEnv) fund(key types.Pubkey, lamports uint64) {
	e.t.Helper()
	if err := e.bank.Genesis(map[types.Pubkey]uint64{key: lamports}); err != nil {
		e.t.Fatalf("Genesis() error = %v", err)
	}
}

func (e *testEnv) tx(signers []ed25519.PrivateKey, ixs ...txn.Instruction) *txn.Transaction {
	e.t.Helper()
	var payer types.Pubkey
	copy(payer[:], signers[0].Public().(ed25519.PublicKey))
	blockhash, _ := e.bank.LatestBlockhash()
	tx, err := txn.NewTransaction(ixs, payer, blockhash)
	if err != nil {
		e.t.Fatalf("NewTransaction() error = %v", err)
	}
	if err := tx.Sign(signers...); err != nil {
		e.t.Fatalf("Sign() error = %v", err)
	}
	return tx
}

func (e *testEnv) send(signers []ed25519.PrivateKey, ixs ...txn.Instruction) *TransactionResult {
	e.t.Helper()
	result, err := e.bank.ProcessTransaction(e.tx(signers, ixs...))
	if err != nil {
		e.t.Fatalf("ProcessTransaction() error = %v", err)
	}
	return result
}

func (e *testEnv) balance(key types.Pubkey) uint64 {
	e.t.Helper()
	bal, err := e.bank.GetBalance(key)
	if err != nil {
		e.t.Fatalf("GetBalance() error = %v", err)
	}
	return bal
}

func (e *testEnv) board(key types.Pubkey) *leaderboard.Leaderboard {
	e.t.Helper()
	acct, err := e.bank.GetAccount(key)
	if err != nil {
		e.t.Fatalf("GetAccount(board) error = %v", err)
	}
	lb, err := leaderboard.Decode(acct.Data)
	if err != nil {
		e.t.Fatalf("Decode() error = %v", err)
	}
	return lb
}

// initialize creates a funded game owner and its leaderboard.
func (e *testEnv) initialize(seed byte) (ed25519.PrivateKey, types.Pubkey, types.Pubkey) {
	e.t.Helper()
	priv, owner := newKey(seed)
	e.fund(owner, 10*sol)
	ix, err := leaderboard.InitializeLeaderboard(programID, owner)
	if err != nil {
		e.t.Fatal(err)
	}
	if r := e.send([]ed25519.PrivateKey{priv}, ix); r.Err != nil {
		e.t.Fatalf("InitializeLeaderboard failed: %v\n%s", r.Err, strings.Join(r.Logs, "\n"))
	}
	board, _, err := leaderboard.FindLeaderboardAddress(owner, programID)
	if err != nil {
		e.t.Fatal(err)
	}
	return priv, owner, board
}

func customCode(t *testing.T, err error) uint32 {
	t.Helper()
	var ie *svm.InstructionError
	if !errors.As(err, &ie) {
		t.Fatalf("error %v is not an InstructionError", err)
	}
	code, ok := ie.CustomCode()
	if !ok {
		t.Fatalf("error %v has no custom code", err)
	}
	return code
}

func TestCamperbotScenario(t *testing.T) {
	env := newTestEnv(t)
	_, owner, board := env.initialize(1)

	// P1
	if lb := env.board(board); len(lb.Players) != 0 || lb.Owner != owner {
		t.Fatalf("fresh board = %+v, want empty and owned by %s", lb, owner)
	}
	acct, _ := env.bank.GetAccount(board)
	if acct.Owner != programID || len(acct.Data) != leaderboard.LeaderboardSpace {
		t.Errorf("board account owner=%s len=%d", acct.Owner, len(acct.Data))
	}
	if acct.Lamports != env.bank.RentMinimum(leaderboard.LeaderboardSpace) {
		t.Errorf("board lamports = %d, want rent minimum %d", acct.Lamports, env.bank.RentMinimum(leaderboard.LeaderboardSpace))
	}

	playerKey, player := newKey(2)
	env.fund(player, 5*sol)
	ownerBefore := env.balance(owner)

	// P2
	r := env.send([]ed25519.PrivateKey{playerKey}, leaderboard.NewGame(programID, player, owner, board, "camperbot"))
	if r.Err != nil {
		t.Fatalf("NewGame failed: %v\n%s", r.Err, strings.Join(r.Logs, "\n"))
	}
	lb := env.board(board)
	want := leaderboard.Player{Username: "camperbot", Pubkey: player, Score: 0, HasPaid: true}
	if len(lb.Players) != 1 || lb.Players[0] != want {
		t.Fatalf("players = %+v, want [%+v]", lb.Players, want)
	}
	if got := env.balance(player); got != 5*sol-leaderboard.EntryFee-5000 {
		t.Errorf("player balance = %d", got)
	}
	if got := env.balance(owner); got != ownerBefore+leaderboard.EntryFee {
		t.Errorf("owner balance = %d, want %d", got, ownerBefore+leaderboard.EntryFee)
	}

	// P3
	r = env.send([]ed25519.PrivateKey{playerKey}, leaderboard.AddPlayerToLeaderboard(programID, board, player, 100))
	if r.Err != nil {
		t.Fatalf("AddPlayerToLeaderboard failed: %v", r.Err)
	}
	lb = env.board(board)
	if lb.Players[0].Score != 100 || lb.Players[0].HasPaid {
		t.Fatalf("after score: %+v", lb.Players[0])
	}
	found := false
	for _, l := range r.Logs {
		if l == "Program log: Instruction: AddPlayerToLeaderboard" {
			found = true
		}
	}
	if !found {
		t.Errorf("logs missing instruction name: %v", r.Logs)
	}

	// P4
	balanceBefore := env.balance(player)
	r = env.send([]ed25519.PrivateKey{playerKey}, leaderboard.AddPlayerToLeaderboard(programID, board, player, 150))
	if code := customCode(t, r.Err); code != 6001 {
		t.Fatalf("second score code = %d, want 6001", code)
	}
	if lb := env.board(board); lb.Players[0].Score != 100 {
		t.Errorf("score after rejected submission = %d, want 100", lb.Players[0].Score)
	}
	if got := env.balance(player); got != balanceBefore-5000 {
		t.Errorf("failed transaction charged %d, want fee only", balanceBefore-got)
	}
	if got := string(ErrorJSON(r.Err)); got != `{"InstructionError":[0,{"Custom":6001}]}` {
		t.Errorf("ErrorJSON = %s", got)
	}

	if n := len(env.ledger.records); n != 4 {
		t.Fatalf("ledger has %d records, want 4", n)
	}
	last := env.ledger.records[3]
	if last.Succeeded() || last.Signature != r.Signature {
		t.Errorf("last ledger record = %+v", last)
	}
	if status, ok := env.bank.SignatureStatus(r.Signature); !ok || status.Err == nil {
		t.Errorf("SignatureStatus = %+v, %v", status, ok)
	}
}

func TestUnknownPlayerLeavesBoardUnchanged(t *testing.T) {
	env := newTestEnv(t)
	_, _, board := env.initialize(1)
	before, _ := env.bank.GetAccount(board)

	strangerKey, stranger := newKey(9)
	env.fund(stranger, sol)
	r := env.send([]ed25519.PrivateKey{strangerKey}, leaderboard.AddPlayerToLeaderboard(programID, board, stranger, 42))
	if code := customCode(t, r.Err); code != 6000 {
		t.Fatalf("code = %d, want 6000", code)
	}
	after, _ := env.bank.GetAccount(board)
	if !accountEqual(before, after) {
		t.Error("board changed after PlayerNotFound")
	}
}

func TestInitializeTwice(t *testing.T) {
	env := newTestEnv(t)
	ownerKey, owner, board := env.initialize(1)

	playerKey, player := newKey(2)
	env.fund(player, 5*sol)
	env.send([]ed25519.PrivateKey{playerKey}, leaderboard.NewGame(programID, player, owner, board, "camperbot"))
	before, _ := env.bank.GetAccount(board)

	// A new blockhash keeps the retry from being deduplicated.
	if _, err := env.bank.Tick(); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	ix, _ := leaderboard.InitializeLeaderboard(programID, owner)
	r := env.send([]ed25519.PrivateKey{ownerKey}, ix)
	if r.Signature == env.ledger.records[0].Signature {
		t.Fatal("retry reused the first signature")
	}
	if code := customCode(t, r.Err); code != 0 {
		t.Fatalf("code = %d, want AccountAlreadyInUse (0)", code)
	}
	after, _ := env.bank.GetAccount(board)
	if !accountEqual(before, after) {
		t.Error("re-initialisation modified the board")
	}
}

func TestInitializePrefundedAddress(t *testing.T) {
	rent := newTestEnv(t).bank.RentMinimum(leaderboard.LeaderboardSpace)

	tests := []struct {
		name      string
		prefund   uint64
		wantBoard uint64
	}{
		{"one lamport", 1, rent},
		{"below rent", rent - 1, rent},
		{"above rent", 2 * sol, 2 * sol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ownerKey, owner := newKey(1)
			env.fund(owner, 10*sol)
			board, _, err := leaderboard.FindLeaderboardAddress(owner, programID)
			if err != nil {
				t.Fatal(err)
			}

			attackerKey, attacker := newKey(66)
			env.fund(attacker, 3*sol)
			if r := env.send([]ed25519.PrivateKey{attackerKey}, system.Transfer(attacker, board, tt.prefund)); r.Err != nil {
				t.Fatalf("prefund transfer failed: %v", r.Err)
			}

			ownerBefore := env.balance(owner)
			ix, err := leaderboard.InitializeLeaderboard(programID, owner)
			if err != nil {
				t.Fatal(err)
			}
			r := env.send([]ed25519.PrivateKey{ownerKey}, ix)
			if r.Err != nil {
				t.Fatalf("InitializeLeaderboard failed: %v\n%s", r.Err, strings.Join(r.Logs, "\n"))
			}

			acct, _ := env.bank.GetAccount(board)
			if acct.Owner != programID || len(acct.Data) != leaderboard.LeaderboardSpace {
				t.Errorf("board account owner=%s len=%d", acct.Owner, len(acct.Data))
			}
			if acct.Lamports != tt.wantBoard {
				t.Errorf("board lamports = %d, want %d", acct.Lamports, tt.wantBoard)
			}
			topUp := tt.wantBoard - tt.prefund
			if got := env.balance(owner); got != ownerBefore-topUp-5000 {
				t.Errorf("owner paid %d, want %d", ownerBefore-got, topUp+5000)
			}
			if lb := env.board(board); lb.Owner != owner || len(lb.Players) != 0 {
				t.Errorf("board = %+v", lb)
			}

			playerKey, player := newKey(2)
			env.fund(player, 5*sol)
			if r := env.send([]ed25519.PrivateKey{playerKey}, leaderboard.NewGame(programID, player, owner, board, "camperbot")); r.Err != nil {
				t.Fatalf("NewGame failed: %v", r.Err)
			}
		})
	}
}

func TestNewGameInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	_, owner, board := env.initialize(1)
	ownerBefore := env.balance(owner)

	playerKey, player := newKey(2)
	env.fund(player, sol/2)
	r := env.send([]ed25519.PrivateKey{playerKey}, leaderboard.NewGame(programID, player, owner, board, "broke"))
	if code := customCode(t, r.Err); code != 1 {
		t.Fatalf("code = %d, want ResultWithNegativeLamports (1)", code)
	}
	if lb := env.board(board); len(lb.Players) != 0 {
		t.Errorf("players = %+v, want none", lb.Players)
	}
	if got := env.balance(player); got != sol/2-5000 {
		t.Errorf("player balance = %d, want %d", got, sol/2-5000)
	}
	if got := env.balance(owner); got != ownerBefore {
		t.Errorf("owner balance changed to %d", got)
	}
}

func TestInitializeWrongAddress(t *testing.T) {
	env := newTestEnv(t)
	ownerKey, owner := newKey(1)
	env.fund(owner, 10*sol)
	_, other := newKey(3)

	a, _, _ := leaderboard.FindLeaderboardAddress(owner, programID)
	b, _, _ := leaderboard.FindLeaderboardAddress(other, programID)
	again, _, _ := leaderboard.FindLeaderboardAddress(owner, programID)
	if a == b || a != again {
		t.Fatalf("derived addresses: %s %s %s", a, b, again)
	}

	ix, _ := leaderboard.InitializeLeaderboard(programID, owner)
	ix.Accounts[0].Pubkey = b
	r := env.send([]ed25519.PrivateKey{ownerKey}, ix)
	if code := customCode(t, r.Err); code != 2006 {
		t.Fatalf("code = %d, want ConstraintSeeds (2006)", code)
	}
	if ok, _ := env.db.HasAccount(b); ok {
		t.Error("account created at the wrong address")
	}
}

func TestFullBoardReplacesLowest(t *testing.T) {
	env := newTestEnv(t)
	_, owner, board := env.initialize(1)

	scores := []uint64{50, 10, 30, 70, 90}
	for i, s := range scores {
		k, pk := newKey(byte(10 + i))
		env.fund(pk, 5*sol)
		if r := env.send([]ed25519.PrivateKey{k}, leaderboard.NewGame(programID, pk, owner, board, "p")); r.Err != nil {
			t.Fatalf("NewGame %d: %v", i, r.Err)
		}
		if r := env.send([]ed25519.PrivateKey{k}, leaderboard.AddPlayerToLeaderboard(programID, board, pk, s)); r.Err != nil {
			t.Fatalf("score %d: %v", i, r.Err)
		}
	}

	k, late := newKey(99)
	env.fund(late, 5*sol)
	if r := env.send([]ed25519.PrivateKey{k}, leaderboard.NewGame(programID, late, owner, board, "late")); r.Err != nil {
		t.Fatalf("NewGame on full board: %v", r.Err)
	}
	lb := env.board(board)
	if len(lb.Players) != leaderboard.MaxPlayers {
		t.Fatalf("players = %d", len(lb.Players))
	}
	if lb.Players[1].Pubkey != late || !lb.Players[1].HasPaid || lb.Players[1].Score != 0 {
		t.Errorf("slot 1 = %+v, want the late player", lb.Players[1])
	}
}

func TestConcurrentBoards(t *testing.T) {
	env := newTestEnv(t)
	_, ownerA, boardA := env.initialize(1)
	_, ownerB, boardB := env.initialize(2)

	type job struct {
		key   ed25519.PrivateKey
		pk    types.Pubkey
		owner types.Pubkey
		board types.Pubkey
	}
	var jobs []job
	for i := 0; i < 4; i++ {
		k, pk := newKey(byte(20 + i))
		env.fund(pk, 5*sol)
		if i%2 == 0 {
			jobs = append(jobs, job{k, pk, ownerA, boardA})
		} else {
			jobs = append(jobs, job{k, pk, ownerB, boardB})
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(jobs))
	for _, j := range jobs {
		tx := env.tx([]ed25519.PrivateKey{j.key}, leaderboard.NewGame(programID, j.pk, j.owner, j.board, "racer"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := env.bank.ProcessTransaction(tx)
			if err == nil {
				err = r.Err
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent NewGame: %v", err)
		}
	}

	if a, b := env.board(boardA), env.board(boardB); len(a.Players) != 2 || len(b.Players) != 2 {
		t.Errorf("players = %d and %d, want 2 and 2", len(a.Players), len(b.Players))
	}
	if held := env.bank.locks.Held(); held != 0 {
		t.Errorf("%d locks still held", held)
	}
}

func TestTransactionRejections(t *testing.T) {
	env := newTestEnv(t)
	payerKey, payer := newKey(1)
	_, dest := newKey(2)

	// Unfunded payer.
	_, err := env.bank.ProcessTransaction(env.tx([]ed25519.PrivateKey{payerKey}, system.Transfer(payer, dest, 1)))
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("unfunded payer: %v, want AccountNotFound", err)
	}

	env.fund(payer, 4000)
	_, err = env.bank.ProcessTransaction(env.tx([]ed25519.PrivateKey{payerKey}, system.Transfer(payer, dest, 1)))
	if !errors.Is(err, ErrInsufficientFundsForFee) {
		t.Errorf("underfunded payer: %v, want InsufficientFundsForFee", err)
	}

	richKey, rich := newKey(3)
	env.fund(rich, sol)
	tx := env.tx([]ed25519.PrivateKey{richKey}, system.Transfer(rich, dest, 1000))
	tx.Message.RecentBlockhash = types.Hash{1}
	if _, err := env.bank.ProcessTransaction(tx); !errors.Is(err, ErrSignatureFailure) {
		t.Errorf("tampered message: %v, want SignatureFailure", err)
	}
	tx.Sign(richKey)
	if _, err := env.bank.ProcessTransaction(tx); !errors.Is(err, ErrBlockhashNotFound) {
		t.Errorf("unknown blockhash: %v, want BlockhashNotFound", err)
	}

	tx = env.tx([]ed25519.PrivateKey{richKey}, system.Transfer(rich, dest, 1000))
	if _, err := env.bank.ProcessTransaction(tx); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := env.bank.ProcessTransaction(tx); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("replay: %v, want AlreadyProcessed", err)
	}
	if got := env.balance(dest); got != 1000 {
		t.Errorf("dest balance = %d, want 1000", got)
	}
	if n := len(env.ledger.records); n != 1 {
		t.Errorf("ledger has %d records, want 1", n)
	}
}

func TestRentCheck(t *testing.T) {
	env := newTestEnv(t)
	payerKey, payer := newKey(1)
	env.fund(payer, sol)
	newKeyPriv, created := newKey(2)

	r := env.send([]ed25519.PrivateKey{payerKey, newKeyPriv}, system.CreateAccount(payer, created, 1000, 10, programID))
	var re *RentError
	if !errors.As(r.Err, &re) || re.AccountIndex != 1 {
		t.Fatalf("Err = %v, want RentError for account 1", r.Err)
	}
	if got := string(ErrorJSON(r.Err)); got != `{"InsufficientFundsForRent":{"account_index":1}}` {
		t.Errorf("ErrorJSON = %s", got)
	}
	if ok, _ := env.db.HasAccount(created); ok {
		t.Error("underfunded account was created")
	}
	if got := env.balance(payer); got != sol-10000 {
		t.Errorf("payer balance = %d, want %d", got, sol-10000)
	}
}

func TestSimulateDoesNotCommit(t *testing.T) {
	env := newTestEnv(t)
	payerKey, payer := newKey(1)
	env.fund(payer, sol)
	_, dest := newKey(2)

	tx := env.tx([]ed25519.PrivateKey{payerKey}, system.Transfer(payer, dest, 500))
	r, err := env.bank.SimulateTransaction(tx, true, true)
	if err != nil || r.Err != nil {
		t.Fatalf("SimulateTransaction() = %v, %v", err, r.Err)
	}
	if r.PostBalances[1] != 500 {
		t.Errorf("simulated post balance = %d, want 500", r.PostBalances[1])
	}
	if env.balance(dest) != 0 || env.balance(payer) != sol {
		t.Error("simulation committed state")
	}
	if len(env.ledger.records) != 0 {
		t.Error("simulation reached the ledger")
	}
	if _, err := env.bank.ProcessTransaction(tx); err != nil {
		t.Errorf("simulated signature blocked processing: %v", err)
	}
}

func TestTickAdvancesBlockhash(t *testing.T) {
	env := newTestEnv(t)
	payerKey, payer := newKey(1)
	env.fund(payer, sol)
	_, dest := newKey(2)

	first, lastValid := env.bank.LatestBlockhash()
	if lastValid != env.bank.Slot()+MaxRecentBlockhashes {
		t.Errorf("last valid slot = %d", lastValid)
	}
	oldTx := env.tx([]ed25519.PrivateKey{payerKey}, system.Transfer(payer, dest, 1))
	env.send([]ed25519.PrivateKey{payerKey}, system.Transfer(payer, dest, 2))

	info, err := env.bank.Tick()
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if info.Slot != 1 || info.Parent != 0 || info.NumSignatures != 1 {
		t.Errorf("SlotInfo = %+v", info)
	}
	if info.Blockhash == first || info.BankHash.IsZero() || info.AccountsDeltaHash.IsZero() {
		t.Errorf("hashes not advanced: %+v", info)
	}
	if next, _ := env.bank.LatestBlockhash(); next != info.Blockhash {
		t.Errorf("LatestBlockhash = %s, want %s", next, info.Blockhash)
	}
	if !env.bank.IsBlockhashValid(first) {
		t.Error("previous blockhash expired after one slot")
	}
	if _, err := env.bank.ProcessTransaction(oldTx); err != nil {
		t.Errorf("transaction on previous blockhash rejected: %v", err)
	}
	if env.db.GetSlot() != 1 {
		t.Errorf("persisted slot = %d", env.db.GetSlot())
	}

	second, _ := env.bank.Tick()
	if second.AccountsDeltaHash == info.AccountsDeltaHash {
		t.Error("second slot reused the previous delta hash")
	}
	if len(env.observer.slots) != 2 || env.observer.slots[1].Slot != 2 {
		t.Errorf("slot notifications = %+v", env.observer.slots)
	}
}

func TestTickCountsEachTransactionInItsSlot(t *testing.T) {
	env := newTestEnv(t)
	_, dest := newKey(200)

	const senders, perSender = 8, 25
	payers := make([]ed25519.PrivateKey, senders)
	for i := range payers {
		priv, pk := newKey(byte(10 + i))
		env.fund(pk, sol)
		payers[i] = priv
	}

	var wg sync.WaitGroup
	for i, priv := range payers {
		wg.Add(1)
		go func(i int, priv ed25519.PrivateKey) {
			defer wg.Done()
			var payer types.Pubkey
			copy(payer[:], priv.Public().(ed25519.PublicKey))
			for n := 1; n <= perSender; n++ {
				blockhash, _ := env.bank.LatestBlockhash()
				tx, err := txn.NewTransaction([]txn.Instruction{system.Transfer(payer, dest, uint64(n))}, payer, blockhash)
				if err != nil {
					t.Errorf("NewTransaction() error = %v", err)
					return
				}
				if err := tx.Sign(priv); err != nil {
					t.Errorf("Sign() error = %v", err)
					return
				}
				if _, err := env.bank.ProcessTransaction(tx); err != nil {
					t.Errorf("sender %d: ProcessTransaction() error = %v", i, err)
					return
				}
			}
		}(i, priv)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	counted := map[uint64]uint64{}
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		info, err := env.bank.Tick()
		if err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
		counted[info.Parent] = info.NumSignatures
	}

	recorded := map[uint64]uint64{}
	for _, rec := range env.ledger.records {
		recorded[rec.Slot]++
	}
	if len(env.ledger.records) != senders*perSender {
		t.Fatalf("ledger has %d records, want %d", len(env.ledger.records), senders*perSender)
	}
	for slot, n := range recorded {
		if counted[slot] != n {
			t.Errorf("slot %d: bank hash counted %d signatures, ledger has %d", slot, counted[slot], n)
		}
	}
}

func TestBlockhashExpiry(t *testing.T) {
	config := DefaultConfig()
	config.MaxBlockhashAge = 3
	b := New(accounts.NewMemoryDB(), config)
	first, _ := b.LatestBlockhash()
	for i := 0; i < 3; i++ {
		b.Tick()
	}
	if b.IsBlockhashValid(first) {
		t.Error("blockhash still valid after MaxBlockhashAge slots")
	}
}

func TestAirdrop(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.bank.Airdrop(types.Pubkey{1}, 1); !errors.Is(err, ErrFaucetDisabled) {
		t.Errorf("Airdrop without faucet: %v", err)
	}

	faucetKey, faucet := newKey(200)
	env.bank.SetFaucet(faucetKey)
	if env.bank.FaucetAddress() != faucet {
		t.Fatal("FaucetAddress mismatch")
	}
	env.fund(faucet, 1000*sol)

	_, dest := newKey(3)
	sig, err := env.bank.Airdrop(dest, 2*sol)
	if err != nil {
		t.Fatalf("Airdrop() error = %v", err)
	}
	if sig.IsZero() || env.balance(dest) != 2*sol {
		t.Errorf("airdrop sig=%s balance=%d", sig, env.balance(dest))
	}
	if _, err := env.bank.Airdrop(dest, 2*sol); !errors.Is(err, ErrAirdropFailed) {
		t.Errorf("identical airdrop in the same slot: %v, want ErrAirdropFailed", err)
	}
	if _, err := env.bank.Airdrop(dest, 1000*sol); !errors.Is(err, ErrAirdropTooLarge) {
		t.Errorf("oversized airdrop: %v", err)
	}
}

func TestObserverNotifications(t *testing.T) {
	env := newTestEnv(t)
	_, owner, board := env.initialize(1)
	env.observer.accounts = nil
	env.observer.txs = nil

	playerKey, player := newKey(2)
	env.fund(player, 5*sol)
	r := env.send([]ed25519.PrivateKey{playerKey}, leaderboard.NewGame(programID, player, owner, board, "camperbot"))

	seen := map[types.Pubkey]*geyser.AccountUpdate{}
	var lastVersion uint64
	for _, u := range env.observer.accounts {
		seen[u.Pubkey] = u
		if u.WriteVersion <= lastVersion {
			t.Errorf("write version %d not increasing", u.WriteVersion)
		}
		lastVersion = u.WriteVersion
		if u.TxnSignature != r.Signature {
			t.Errorf("update %s carries signature %s", u.Pubkey, u.TxnSignature)
		}
	}
	for _, k := range []types.Pubkey{player, owner, board} {
		if seen[k] == nil {
			t.Errorf("no account update for %s", k)
		}
	}
	if u := seen[board]; u != nil && (u.Owner != programID || !leaderboard.IsLeaderboardAccount(u.Data)) {
		t.Errorf("board update = %+v", u)
	}

	if len(env.observer.txs) != 1 {
		t.Fatalf("transaction notifications = %d", len(env.observer.txs))
	}
	tu := env.observer.txs[0]
	if !tu.Succeeded() || tu.Fee != 5000 || len(tu.LogMessages) == 0 {
		t.Errorf("transaction update = %+v", tu)
	}
	if _, err := json.Marshal(tu); err != nil {
		t.Errorf("marshal transaction update: %v", err)
	}
}
