// Package geyser streams account, transaction and slot notifications out of
// the bank.
//
// Notifications reach consumers two ways:
// - in-process plugins registered on a Dispatcher (redis, postgres, kafka,
//   the RPC websocket hub)
// - remote subscribers of the /geyser.Geyser/Subscribe gRPC stream, served
//   by Server and consumed by Client
//
// Updates are plain Go structs carried over gRPC with a JSON codec, so no
// generated protobuf code is required on either side.
package geyser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// SlotStatus represents the status of a slot.
type SlotStatus int32

const (
	// SlotStatusProcessed indicates the slot was closed by this node.
	SlotStatusProcessed SlotStatus = 0

	// SlotStatusConfirmed indicates the slot is buried under enough
	// descendants to be reported as confirmed.
	SlotStatusConfirmed SlotStatus = 1

	// SlotStatusFinalized indicates the slot is final.
	SlotStatusFinalized SlotStatus = 2
)

// String returns the string representation of the slot status.
func (s SlotStatus) String() string {
	switch s {
	case SlotStatusProcessed:
		return "processed"
	case SlotStatusConfirmed:
		return "confirmed"
	case SlotStatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// AccountUpdate is emitted for every account a committed transaction wrote.
type AccountUpdate struct {
	Pubkey       types.Pubkey    `json:"pubkey"`
	Slot         uint64          `json:"slot"`
	Lamports     uint64          `json:"lamports"`
	Owner        types.Pubkey    `json:"owner"`
	Data         []byte          `json:"data"`
	Executable   bool            `json:"executable"`
	RentEpoch    uint64          `json:"rentEpoch"`
	WriteVersion uint64          `json:"writeVersion"`
	TxnSignature types.Signature `json:"txnSignature"`
}

// TransactionUpdate is emitted once per processed transaction, successful
// or not.
type TransactionUpdate struct {
	Signature            types.Signature `json:"signature"`
	Slot                 uint64          `json:"slot"`
	Err                  json.RawMessage `json:"err,omitempty"`
	ErrMessage           string          `json:"errMessage,omitempty"`
	Fee                  uint64          `json:"fee"`
	ComputeUnitsConsumed uint64          `json:"computeUnitsConsumed"`
	AccountKeys          []types.Pubkey  `json:"accountKeys"`
	LogMessages          []string        `json:"logMessages"`
}

// Succeeded reports whether the transaction executed without error.
func (u *TransactionUpdate) Succeeded() bool {
	return len(u.Err) == 0 || string(u.Err) == "null"
}

// Mentions reports whether key is one of the transaction's accounts.
func (u *TransactionUpdate) Mentions(key types.Pubkey) bool {
	for _, k := range u.AccountKeys {
		if k == key {
			return true
		}
	}
	return false
}

// SlotUpdate is emitted when the bank closes a slot.
type SlotUpdate struct {
	Slot      uint64     `json:"slot"`
	Parent    uint64     `json:"parent"`
	Blockhash types.Hash `json:"blockhash"`
	BankHash  types.Hash `json:"bankHash"`
	Status    SlotStatus `json:"status"`
}

// Update is the envelope sent on the Subscribe stream. Exactly one of the
// payload fields is set.
type Update struct {
	Account     *AccountUpdate     `json:"account,omitempty"`
	Transaction *TransactionUpdate `json:"transaction,omitempty"`
	Slot        *SlotUpdate        `json:"slot,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// SubscribeRequest selects which updates a remote subscriber receives.
//
// Account updates are delivered when the account key is listed in Accounts
// or its owner is listed in Owners. Transactions are delivered when
// Transactions is set, restricted to those touching Accounts if any are
// listed.
type SubscribeRequest struct {
	Accounts      []types.Pubkey `json:"accounts,omitempty"`
	Owners        []types.Pubkey `json:"owners,omitempty"`
	Transactions  bool           `json:"transactions"`
	IncludeFailed bool           `json:"includeFailed"`
	Slots         bool           `json:"slots"`
}

// MatchAccount reports whether u passes the account filter.
func (r *SubscribeRequest) MatchAccount(u *AccountUpdate) bool {
	for _, k := range r.Accounts {
		if k == u.Pubkey {
			return true
		}
	}
	for _, o := range r.Owners {
		if o == u.Owner {
			return true
		}
	}
	return false
}

// MatchTransaction reports whether u passes the transaction filter.
func (r *SubscribeRequest) MatchTransaction(u *TransactionUpdate) bool {
	if !r.Transactions {
		return false
	}
	if !r.IncludeFailed && !u.Succeeded() {
		return false
	}
	if len(r.Accounts) == 0 {
		return true
	}
	for _, k := range r.Accounts {
		if u.Mentions(k) {
			return true
		}
	}
	return false
}

// Match reports whether the envelope passes the request.
func (r *SubscribeRequest) Match(u *Update) bool {
	switch {
	case u.Account != nil:
		return r.MatchAccount(u.Account)
	case u.Transaction != nil:
		return r.MatchTransaction(u.Transaction)
	case u.Slot != nil:
		return r.Slots
	}
	return false
}

// Plugin consumes notifications from a Dispatcher.
//
// Each plugin is driven by its own goroutine, so methods are never called
// concurrently for the same plugin. A returned error is logged and the
// notification is dropped.
type Plugin interface {
	Name() string
	OnAccountUpdate(ctx context.Context, update *AccountUpdate) error
	OnTransaction(ctx context.Context, update *TransactionUpdate) error
	OnSlot(ctx context.Context, update *SlotUpdate) error
	Close() error
}

// PluginStats reports delivery counters for a registered plugin.
type PluginStats struct {
	Name      string `json:"name"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// ClientHealth represents the health status of the Geyser client.
type ClientHealth struct {
	// Connected indicates if the client is connected.
	Connected bool

	// LastSlot is the last slot received.
	LastSlot uint64

	// LastUpdate is when the last update was received.
	LastUpdate time.Time

	// Endpoint is the server the client subscribes to.
	Endpoint string

	// Received is the number of updates received across reconnects.
	Received uint64

	// ReconnectCount is the number of reconnection attempts.
	ReconnectCount int

	// LastError is the most recent error encountered.
	LastError error
}
