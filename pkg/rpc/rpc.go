// Package rpc serves the node over HTTP.
//
// The root path speaks Solana-compatible JSON-RPC 2.0, so standard wallets
// and web3 clients can submit the leaderboard instructions and read state:
//   - Account: getAccountInfo, getBalance, getMinimumBalanceForRentExemption, requestAirdrop
//   - Transaction: sendTransaction, simulateTransaction, getSignatureStatuses,
//     getTransaction, getSignaturesForAddress
//   - Cluster: getHealth, getVersion, getSlot, getLatestBlockhash, isBlockhashValid
//   - Leaderboard: getLeaderboard, getLeaderboardAddress
//
// GET /leaderboard/{owner} returns a decoded leaderboard as plain JSON and
// /ws accepts accountSubscribe, signatureSubscribe and slotSubscribe over a
// websocket.
package rpc

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes v as the response body.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, id interface{}, err *RPCError) {
	writeJSON(w, Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	})
}
