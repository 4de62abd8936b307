package dashboard

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/blockstore"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
	"github.com/go-chi/chi/v5"
)

// API response types

// LeaderboardResponse is the response for GET /api/leaderboards/{owner}.
type LeaderboardResponse struct {
	*BoardView
	History []SignatureBrief `json:"history"`
}

// SignatureBrief is one entry of an address's transaction history.
type SignatureBrief struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	BlockTime int64           `json:"blockTime"`
	Err       json.RawMessage `json:"err"`
}

// AccountResponse is the response for GET /api/accounts/{pubkey}.
type AccountResponse struct {
	Pubkey     string `json:"pubkey"`
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
	DataLen    int    `json:"dataLen"`
	DataHex    string `json:"dataHex,omitempty"`

	// Leaderboard is set when the account decodes as a leaderboard.
	Leaderboard *leaderboard.Leaderboard `json:"leaderboard,omitempty"`
}

// TransactionResponse is the response for GET /api/transactions/{signature}.
type TransactionResponse struct {
	Signature            string          `json:"signature"`
	Slot                 uint64          `json:"slot"`
	BlockTime            int64           `json:"blockTime"`
	Success              bool            `json:"success"`
	Err                  json.RawMessage `json:"err"`
	ErrMessage           string          `json:"errMessage,omitempty"`
	Fee                  uint64          `json:"fee"`
	ComputeUnitsConsumed uint64          `json:"computeUnitsConsumed"`
	Accounts             []AccountDelta  `json:"accounts"`
	LogMessages          []string        `json:"logMessages"`
}

// AccountDelta is the balance change of one transaction account.
type AccountDelta struct {
	Pubkey      string `json:"pubkey"`
	PreBalance  uint64 `json:"preBalance"`
	PostBalance uint64 `json:"postBalance"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	// Memory stats
	MemAlloc      uint64 `json:"memAlloc"`
	MemTotalAlloc uint64 `json:"memTotalAlloc"`
	MemSys        uint64 `json:"memSys"`
	MemHeapInuse  uint64 `json:"memHeapInuse"`
	MemHeapIdle   uint64 `json:"memHeapIdle"`
	NumGC         uint32 `json:"numGC"`

	// Runtime stats
	NumGoroutine int    `json:"numGoroutine"`
	NumCPU       int    `json:"numCPU"`
	GoVersion    string `json:"goVersion"`

	// Node stats
	Slot             uint64  `json:"slot"`
	AccountsCount    uint64  `json:"accountsCount"`
	TransactionCount uint64  `json:"transactionCount"`
	DatabaseSize     int64   `json:"databaseSize"`
	Uptime           float64 `json:"uptimeSeconds"`
}

// handleAPIStatus handles GET /api/status.
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.getStatus())
}

// handleAPILeaderboards handles GET /api/leaderboards.
func (d *Dashboard) handleAPILeaderboards(w http.ResponseWriter, r *http.Request) {
	boards, err := d.listLeaderboards()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, boards)
}

// handleAPILeaderboard handles GET /api/leaderboards/{owner}.
func (d *Dashboard) handleAPILeaderboard(w http.ResponseWriter, r *http.Request) {
	owner, err := types.PubkeyFromBase58(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, "Invalid owner: "+err.Error(), http.StatusBadRequest)
		return
	}

	view, err := d.loadLeaderboard(owner)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	resp := LeaderboardResponse{BoardView: view, History: []SignatureBrief{}}
	history, err := d.recentTransactions(view.Address)
	if err == nil {
		resp.History = briefSignatures(history)
	}
	writeJSON(w, resp)
}

// handleAPIAccount handles GET /api/accounts/{pubkey}.
func (d *Dashboard) handleAPIAccount(w http.ResponseWriter, r *http.Request) {
	pubkey, err := types.PubkeyFromBase58(chi.URLParam(r, "pubkey"))
	if err != nil {
		writeError(w, "Invalid public key: "+err.Error(), http.StatusBadRequest)
		return
	}

	account, err := d.accounts.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		writeError(w, "Account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := AccountResponse{
		Pubkey:     pubkey.String(),
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		Executable: account.Executable,
		RentEpoch:  account.RentEpoch,
		DataLen:    len(account.Data),
	}
	if account.Owner == d.config.ProgramID && leaderboard.IsLeaderboardAccount(account.Data) {
		if lb, err := leaderboard.Decode(account.Data); err == nil {
			resp.Leaderboard = lb
		}
	}
	if resp.Leaderboard == nil && len(account.Data) > 0 {
		resp.DataHex = hex.EncodeToString(account.Data)
	}

	writeJSON(w, resp)
}

// handleAPITransaction handles GET /api/transactions/{signature}.
func (d *Dashboard) handleAPITransaction(w http.ResponseWriter, r *http.Request) {
	sig, err := types.SignatureFromBase58(chi.URLParam(r, "signature"))
	if err != nil {
		writeError(w, "Invalid signature: "+err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := d.ledger.GetTransaction(sig)
	if errors.Is(err, blockstore.ErrTransactionNotFound) {
		writeError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := TransactionResponse{
		Signature:            rec.Signature.String(),
		Slot:                 rec.Slot,
		BlockTime:            rec.BlockTime,
		Success:              rec.Succeeded(),
		Err:                  rec.Err,
		ErrMessage:           rec.ErrMessage,
		Fee:                  rec.Fee,
		ComputeUnitsConsumed: rec.ComputeUnitsConsumed,
		Accounts:             make([]AccountDelta, 0, len(rec.AccountKeys)),
		LogMessages:          rec.LogMessages,
	}
	if resp.Err == nil {
		resp.Err = json.RawMessage("null")
	}
	if resp.LogMessages == nil {
		resp.LogMessages = []string{}
	}
	for i, key := range rec.AccountKeys {
		delta := AccountDelta{Pubkey: key.String()}
		if i < len(rec.PreBalances) {
			delta.PreBalance = rec.PreBalances[i]
		}
		if i < len(rec.PostBalances) {
			delta.PostBalance = rec.PostBalances[i]
		}
		resp.Accounts = append(resp.Accounts, delta)
	}

	writeJSON(w, resp)
}

// handleAPIMetrics handles GET /api/metrics.
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	memStats := getMemStats()

	resp := MetricsResponse{
		MemAlloc:      memStats.Alloc,
		MemTotalAlloc: memStats.TotalAlloc,
		MemSys:        memStats.Sys,
		MemHeapInuse:  memStats.HeapInuse,
		MemHeapIdle:   memStats.HeapIdle,
		NumGC:         memStats.NumGC,

		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if count, err := d.accounts.AccountsCount(); err == nil {
		resp.AccountsCount = count
	}
	if stats, err := d.ledger.GetStats(); err == nil {
		resp.TransactionCount = stats.TransactionCount
		resp.DatabaseSize = stats.DatabaseSize
	}
	if d.nodeStats != nil {
		resp.Slot = d.nodeStats.Slot()
		resp.Uptime = d.nodeStats.Uptime().Seconds()
	} else {
		resp.Slot = d.accounts.GetSlot()
	}

	writeJSON(w, resp)
}

func briefSignatures(infos []blockstore.SignatureInfo) []SignatureBrief {
	out := make([]SignatureBrief, 0, len(infos))
	for _, info := range infos {
		brief := SignatureBrief{
			Signature: info.Signature.String(),
			Slot:      info.Slot,
			BlockTime: info.BlockTime,
			Err:       info.Err,
		}
		if brief.Err == nil {
			brief.Err = json.RawMessage("null")
		}
		out = append(out, brief)
	}
	return out
}
