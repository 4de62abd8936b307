package rpc

import (
	"encoding/json"

	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// MarshalJSON emits "result" even when it is null, and only on success.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string      `json:"jsonrpc"`
			ID      interface{} `json:"id"`
			Error   *RPCError   `json:"error"`
		}{r.JSONRPC, r.ID, r.Error})
	}
	return json.Marshal(struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      interface{} `json:"id"`
		Result  interface{} `json:"result"`
	}{r.JSONRPC, r.ID, r.Result})
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot       uint64 `json:"slot"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Commitment levels for RPC requests. The node has a single bank, so every
// commitment reads the same state; the level only shapes status reports.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Encoding types for account and transaction data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
	EncodingJSON       Encoding = "json"
	EncodingJSONParsed Encoding = "jsonParsed"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo requests.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	Commitment     Commitment `json:"commitment,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// BalanceConfig configures getBalance requests.
type BalanceConfig struct {
	Commitment     Commitment `json:"commitment,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// SlotConfig configures getSlot and getLatestBlockhash requests.
type SlotConfig struct {
	Commitment     Commitment `json:"commitment,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// TransactionConfig configures getTransaction requests.
type TransactionConfig struct {
	Encoding                       Encoding   `json:"encoding,omitempty"`
	Commitment                     Commitment `json:"commitment,omitempty"`
	MaxSupportedTransactionVersion *uint64    `json:"maxSupportedTransactionVersion,omitempty"`
}

// SignaturesForAddressConfig configures getSignaturesForAddress requests.
type SignaturesForAddressConfig struct {
	Limit          int        `json:"limit,omitempty"`
	Before         string     `json:"before,omitempty"`
	Until          string     `json:"until,omitempty"`
	Commitment     Commitment `json:"commitment,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// SignatureStatusConfig configures getSignatureStatuses requests.
type SignatureStatusConfig struct {
	SearchTransactionHistory bool `json:"searchTransactionHistory,omitempty"`
}

// SendTransactionConfig configures sendTransaction requests.
type SendTransactionConfig struct {
	Encoding            Encoding   `json:"encoding,omitempty"`
	SkipPreflight       bool       `json:"skipPreflight,omitempty"`
	PreflightCommitment Commitment `json:"preflightCommitment,omitempty"`
	MaxRetries          *uint64    `json:"maxRetries,omitempty"`
	MinContextSlot      *uint64    `json:"minContextSlot,omitempty"`
}

// SimulateTransactionConfig configures simulateTransaction requests.
type SimulateTransactionConfig struct {
	Encoding               Encoding   `json:"encoding,omitempty"`
	SigVerify              bool       `json:"sigVerify,omitempty"`
	ReplaceRecentBlockhash bool       `json:"replaceRecentBlockhash,omitempty"`
	Commitment             Commitment `json:"commitment,omitempty"`
	MinContextSlot         *uint64    `json:"minContextSlot,omitempty"`
}

// AccountInfo represents account information.
type AccountInfo struct {
	Data       interface{} `json:"data"` // [encoded, encoding] or parsed JSON
	Executable bool        `json:"executable"`
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	RentEpoch  uint64      `json:"rentEpoch"`
	Space      uint64      `json:"space"`
}

// ParsedAccountData is the jsonParsed form of a program account.
type ParsedAccountData struct {
	Program string      `json:"program"`
	Parsed  interface{} `json:"parsed"`
	Space   uint64      `json:"space"`
}

// ParsedInfo is the typed payload of ParsedAccountData.
type ParsedInfo struct {
	Type string      `json:"type"`
	Info interface{} `json:"info"`
}

// BlockhashInfo is the value of getLatestBlockhash.
type BlockhashInfo struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// TransactionStatus is the Ok/Err form of a transaction outcome.
type TransactionStatus struct {
	Err json.RawMessage
}

// MarshalJSON renders {"Ok":null} or {"Err":<error>}.
func (s TransactionStatus) MarshalJSON() ([]byte, error) {
	if len(s.Err) == 0 {
		return []byte(`{"Ok":null}`), nil
	}
	return json.Marshal(map[string]json.RawMessage{"Err": s.Err})
}

// TransactionMeta contains transaction execution metadata.
type TransactionMeta struct {
	Err                  json.RawMessage   `json:"err"`
	Status               TransactionStatus `json:"status"`
	Fee                  uint64            `json:"fee"`
	PreBalances          []uint64          `json:"preBalances"`
	PostBalances         []uint64          `json:"postBalances"`
	LogMessages          []string          `json:"logMessages"`
	ComputeUnitsConsumed uint64            `json:"computeUnitsConsumed"`
}

// TransactionResponse is the result of getTransaction.
type TransactionResponse struct {
	Slot        uint64           `json:"slot"`
	Transaction interface{}      `json:"transaction"` // encoded pair or UiTransaction
	Meta        *TransactionMeta `json:"meta"`
	BlockTime   *int64           `json:"blockTime"`
	Version     string           `json:"version"`
}

// UiTransaction is the json encoding of a transaction.
type UiTransaction struct {
	Signatures []string  `json:"signatures"`
	Message    UiMessage `json:"message"`
}

// UiMessage is the json encoding of a message.
type UiMessage struct {
	Header          UiHeader        `json:"header"`
	AccountKeys     []string        `json:"accountKeys"`
	RecentBlockhash string          `json:"recentBlockhash"`
	Instructions    []UiInstruction `json:"instructions"`
}

// UiHeader is the json encoding of a message header.
type UiHeader struct {
	NumRequiredSignatures       uint8 `json:"numRequiredSignatures"`
	NumReadonlySignedAccounts   uint8 `json:"numReadonlySignedAccounts"`
	NumReadonlyUnsignedAccounts uint8 `json:"numReadonlyUnsignedAccounts"`
}

// UiInstruction is the json encoding of a compiled instruction.
type UiInstruction struct {
	ProgramIDIndex uint8   `json:"programIdIndex"`
	Accounts       []int   `json:"accounts"`
	Data           string  `json:"data"` // base58
}

// SignatureInfo contains signature information for getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string          `json:"signature"`
	Slot               uint64          `json:"slot"`
	Err                json.RawMessage `json:"err"`
	Memo               *string         `json:"memo"`
	BlockTime          *int64          `json:"blockTime"`
	ConfirmationStatus string          `json:"confirmationStatus,omitempty"`
}

// SignatureStatus contains signature status information.
type SignatureStatus struct {
	Slot               uint64            `json:"slot"`
	Confirmations      *uint64           `json:"confirmations"`
	Err                json.RawMessage   `json:"err"`
	Status             TransactionStatus `json:"status"`
	ConfirmationStatus string            `json:"confirmationStatus,omitempty"`
}

// SimulateResult is the value of simulateTransaction.
type SimulateResult struct {
	Err           json.RawMessage `json:"err"`
	Logs          []string        `json:"logs"`
	Accounts      []*AccountInfo  `json:"accounts"`
	UnitsConsumed uint64          `json:"unitsConsumed"`
}

// VersionInfo contains version information.
type VersionInfo struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint32 `json:"feature-set"`
}

// LeaderboardAddress is the result of getLeaderboardAddress.
type LeaderboardAddress struct {
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

// LeaderboardInfo is a decoded leaderboard account.
type LeaderboardInfo struct {
	Address  string               `json:"address"`
	Owner    string               `json:"owner"`
	Lamports uint64               `json:"lamports"`
	Players  []leaderboard.Player `json:"players"`
	Ranking  []leaderboard.Player `json:"ranking"`
}
