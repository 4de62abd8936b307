package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
	"github.com/go-chi/chi/v5"
)

var errLeaderboardNotFound = errors.New("leaderboard not found")

// getLeaderboardAddress derives a game owner's leaderboard address.
func (s *Server) getLeaderboardAddress(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	address, bump, err := leaderboard.FindLeaderboardAddress(owner, s.config.ProgramID)
	if err != nil {
		return nil, InternalServerErrorf("derive address: %v", err)
	}
	return LeaderboardAddress{Address: address.String(), Bump: bump}, nil
}

// getLeaderboard returns a game owner's decoded leaderboard, or a null
// value if none was initialized.
func (s *Server) getLeaderboard(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	slot := s.bank.Slot()
	info, err := s.loadLeaderboard(owner)
	if errors.Is(err, errLeaderboardNotFound) {
		return ResponseWithContext{Context: Context{Slot: slot}, Value: nil}, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("%v", err)
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: info}, nil
}

func (s *Server) loadLeaderboard(owner types.Pubkey) (*LeaderboardInfo, error) {
	address, _, err := leaderboard.FindLeaderboardAddress(owner, s.config.ProgramID)
	if err != nil {
		return nil, err
	}
	account, err := s.bank.GetAccount(address)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, errLeaderboardNotFound
	}
	if err != nil {
		return nil, err
	}
	if account.Owner != s.config.ProgramID {
		return nil, errLeaderboardNotFound
	}
	lb, err := leaderboard.Decode(account.Data)
	if err != nil {
		return nil, err
	}
	players := lb.Players
	if players == nil {
		players = []leaderboard.Player{}
	}
	return &LeaderboardInfo{
		Address:  address.String(),
		Owner:    lb.Owner.String(),
		Lamports: account.Lamports,
		Players:  players,
		Ranking:  lb.Ranking(),
	}, nil
}

// handleLeaderboard serves GET /leaderboard/{owner}.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	owner, err := types.PubkeyFromBase58(chi.URLParam(r, "owner"))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid owner: " + err.Error()})
		return
	}

	info, err := s.loadLeaderboard(owner)
	switch {
	case errors.Is(err, errLeaderboardNotFound):
		writeStatus(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		writeStatus(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeStatus(w, http.StatusOK, info)
	}
}

func writeStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
