package rpc

import (
	"encoding/json"
	"errors"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/accounts"
	"github.com/fortiblox/rock-destroyer/pkg/blockstore"
	"github.com/fortiblox/rock-destroyer/pkg/runtime"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

// Limits on list parameters.
const (
	maxSignatureStatuses  = 256
	maxSignaturesForQuery = 1000
)

// Account Methods

// getAccountInfo retrieves account information.
func (s *Server) getAccountInfo(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config AccountInfoConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}
	if config.Encoding == "" {
		config.Encoding = EncodingBase64
	}

	currentSlot := s.bank.Slot()
	if config.MinContextSlot != nil && *config.MinContextSlot > currentSlot {
		return nil, MinContextSlotError(*config.MinContextSlot, currentSlot)
	}

	account, err := s.bank.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return ResponseWithContext{Context: Context{Slot: currentSlot}, Value: nil}, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}

	info, err := s.accountInfo(account, config.Encoding, config.DataSlice)
	if err != nil {
		return nil, InvalidParamsError(err.Error())
	}
	return ResponseWithContext{Context: Context{Slot: currentSlot}, Value: info}, nil
}

// getBalance retrieves account balance.
func (s *Server) getBalance(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config BalanceConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	currentSlot := s.bank.Slot()
	if config.MinContextSlot != nil && *config.MinContextSlot > currentSlot {
		return nil, MinContextSlotError(*config.MinContextSlot, currentSlot)
	}

	balance, err := s.bank.GetBalance(pubkey)
	if err != nil {
		return nil, InternalServerErrorf("failed to get balance: %v", err)
	}
	return ResponseWithContext{Context: Context{Slot: currentSlot}, Value: balance}, nil
}

// getMinimumBalanceForRentExemption returns the rent-exempt minimum for a
// data length.
func (s *Server) getMinimumBalanceForRentExemption(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var dataLen uint64
	if err := json.Unmarshal(args[0], &dataLen); err != nil {
		return nil, InvalidParamsError("invalid data length")
	}
	if dataLen > accounts.MaxAccountDataSize {
		return nil, InvalidParamsErrorf("data length %d exceeds the maximum of %d", dataLen, accounts.MaxAccountDataSize)
	}
	return s.bank.RentMinimum(dataLen), nil
}

// requestAirdrop funds an account from the node's faucet.
func (s *Server) requestAirdrop(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if err := json.Unmarshal(args[1], &lamports); err != nil || lamports == 0 {
		return nil, InvalidParamsError("invalid lamports")
	}

	sig, err := s.bank.Airdrop(pubkey, lamports)
	switch {
	case errors.Is(err, runtime.ErrFaucetDisabled), errors.Is(err, runtime.ErrAirdropTooLarge):
		return nil, InvalidParamsError(err.Error())
	case err != nil:
		return nil, InternalServerErrorf("%v", err)
	}
	return sig.String(), nil
}

// Transaction Methods

// sendTransaction submits a signed transaction. Unless skipPreflight is set
// the transaction is simulated first and rejected, without charging a fee,
// if it would fail.
func (s *Server) sendTransaction(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	var config SendTransactionConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	tx, err := DecodeTransaction(encoded, config.Encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("failed to deserialize transaction: %v", err)
	}

	if !config.SkipPreflight {
		sim, err := s.bank.SimulateTransaction(tx, true, true)
		if err != nil {
			return nil, TransactionRejectedError(err)
		}
		if sim.Err != nil {
			return nil, PreflightFailureError(simulateResult(sim), sim.Err)
		}
	}

	result, err := s.bank.ProcessTransaction(tx)
	if err != nil {
		return nil, TransactionRejectedError(err)
	}
	return result.Signature.String(), nil
}

// simulateTransaction executes a transaction without committing it.
func (s *Server) simulateTransaction(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	var config SimulateTransactionConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}
	if config.SigVerify && config.ReplaceRecentBlockhash {
		return nil, InvalidParamsError("sigVerify may not be used with replaceRecentBlockhash")
	}

	tx, err := DecodeTransaction(encoded, config.Encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("failed to deserialize transaction: %v", err)
	}
	if config.ReplaceRecentBlockhash {
		tx.Message.RecentBlockhash, _ = s.bank.LatestBlockhash()
	}

	slot := s.bank.Slot()
	sim, err := s.bank.SimulateTransaction(tx, config.SigVerify, !config.ReplaceRecentBlockhash)
	if err != nil {
		var te *runtime.TransactionError
		if !errors.As(err, &te) {
			return nil, InternalServerErrorf("simulation failed: %v", err)
		}
		return ResponseWithContext{
			Context: Context{Slot: slot},
			Value:   &SimulateResult{Err: errJSON(te)},
		}, nil
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: simulateResult(sim)}, nil
}

func simulateResult(r *runtime.TransactionResult) *SimulateResult {
	logs := r.Logs
	if logs == nil {
		logs = []string{}
	}
	return &SimulateResult{
		Err:           errJSON(r.Err),
		Logs:          logs,
		UnitsConsumed: r.ComputeUnitsConsumed,
	}
}

// getSignatureStatuses returns the processing status of signatures.
func (s *Server) getSignatureStatuses(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var sigStrs []string
	if err := json.Unmarshal(args[0], &sigStrs); err != nil {
		return nil, InvalidParamsError("invalid signatures array")
	}
	if len(sigStrs) > maxSignatureStatuses {
		return nil, InvalidParamsErrorf("too many signatures (max %d)", maxSignatureStatuses)
	}

	var config SignatureStatusConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	currentSlot := s.bank.Slot()
	statuses := make([]*SignatureStatus, len(sigStrs))
	for i, sigStr := range sigStrs {
		sig, err := types.SignatureFromBase58(sigStr)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid signature %q", sigStr)
		}

		if st, ok := s.bank.SignatureStatus(sig); ok {
			statuses[i] = signatureStatus(st.Slot, errJSON(st.Err), currentSlot)
			continue
		}
		if !config.SearchTransactionHistory || s.ledger == nil {
			continue
		}
		rec, err := s.ledger.GetTransaction(sig)
		if err != nil {
			continue
		}
		statuses[i] = signatureStatus(rec.Slot, rec.Err, currentSlot)
	}

	return ResponseWithContext{Context: Context{Slot: currentSlot}, Value: statuses}, nil
}

func signatureStatus(slot uint64, errRaw json.RawMessage, current uint64) *SignatureStatus {
	commitment := blockstore.CommitmentAt(slot, current)
	st := &SignatureStatus{
		Slot:               slot,
		Err:                errRaw,
		Status:             TransactionStatus{Err: errRaw},
		ConfirmationStatus: commitment.String(),
	}
	if commitment != blockstore.CommitmentFinalized {
		confirmations := current - slot
		st.Confirmations = &confirmations
	}
	return st
}

// getTransaction returns a processed transaction with its metadata.
func (s *Server) getTransaction(params json.RawMessage) (interface{}, *RPCError) {
	if s.ledger == nil {
		return nil, ErrNoHistory
	}
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, rpcErr := parseSignature(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	config := TransactionConfig{Encoding: EncodingJSON}
	if len(args) > 1 {
		// Older clients pass the encoding as a bare string.
		var enc string
		if err := json.Unmarshal(args[1], &enc); err == nil {
			config.Encoding = Encoding(enc)
		} else if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	rec, err := s.ledger.GetTransaction(sig)
	if errors.Is(err, blockstore.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get transaction: %v", err)
	}

	encodedTx, err := EncodeTransaction(rec.Transaction, config.Encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode transaction: %v", err)
	}
	logs := rec.LogMessages
	if logs == nil {
		logs = []string{}
	}
	blockTime := rec.BlockTime
	return &TransactionResponse{
		Slot:        rec.Slot,
		Transaction: encodedTx,
		Meta: &TransactionMeta{
			Err:                  rec.Err,
			Status:               TransactionStatus{Err: rec.Err},
			Fee:                  rec.Fee,
			PreBalances:          rec.PreBalances,
			PostBalances:         rec.PostBalances,
			LogMessages:          logs,
			ComputeUnitsConsumed: rec.ComputeUnitsConsumed,
		},
		BlockTime: &blockTime,
		Version:   "legacy",
	}, nil
}

// getSignaturesForAddress returns an address's transaction history, newest
// first.
func (s *Server) getSignaturesForAddress(params json.RawMessage) (interface{}, *RPCError) {
	if s.ledger == nil {
		return nil, ErrNoHistory
	}
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	address, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config SignaturesForAddressConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}
	if config.Limit <= 0 {
		config.Limit = maxSignaturesForQuery
	}
	if config.Limit > maxSignaturesForQuery {
		return nil, InvalidParamsErrorf("Invalid limit; max %d", maxSignaturesForQuery)
	}

	opts := &blockstore.SignatureQueryOptions{Limit: config.Limit}
	if config.Before != "" {
		before, err := types.SignatureFromBase58(config.Before)
		if err != nil {
			return nil, InvalidParamsError("invalid before signature")
		}
		opts.Before = &before
	}
	if config.Until != "" {
		until, err := types.SignatureFromBase58(config.Until)
		if err != nil {
			return nil, InvalidParamsError("invalid until signature")
		}
		opts.Until = &until
	}

	infos, err := s.ledger.GetSignaturesForAddress(address, opts)
	if err != nil {
		return nil, InternalServerErrorf("failed to get signatures: %v", err)
	}

	currentSlot := s.bank.Slot()
	result := make([]SignatureInfo, len(infos))
	for i, info := range infos {
		blockTime := info.BlockTime
		result[i] = SignatureInfo{
			Signature:          info.Signature.String(),
			Slot:               info.Slot,
			Err:                info.Err,
			BlockTime:          &blockTime,
			ConfirmationStatus: blockstore.CommitmentAt(info.Slot, currentSlot).String(),
		}
	}
	return result, nil
}

// Cluster Methods

// getHealth returns the health status of the node.
func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node version.
func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{SolanaCore: Version}, nil
}

// getSlot returns the current slot.
func (s *Server) getSlot(params json.RawMessage) (interface{}, *RPCError) {
	config, rpcErr := parseSlotConfig(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	currentSlot := s.bank.Slot()
	if config.MinContextSlot != nil && *config.MinContextSlot > currentSlot {
		return nil, MinContextSlotError(*config.MinContextSlot, currentSlot)
	}
	return currentSlot, nil
}

// getLatestBlockhash returns the blockhash new transactions should use.
func (s *Server) getLatestBlockhash(params json.RawMessage) (interface{}, *RPCError) {
	config, rpcErr := parseSlotConfig(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	blockhash, slot := s.bank.LatestBlockhash()
	if config.MinContextSlot != nil && *config.MinContextSlot > slot {
		return nil, MinContextSlotError(*config.MinContextSlot, slot)
	}
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value: BlockhashInfo{
			Blockhash:            blockhash.String(),
			LastValidBlockHeight: slot + runtime.MaxRecentBlockhashes,
		},
	}, nil
}

// isBlockhashValid checks whether a blockhash would still be accepted.
func (s *Server) isBlockhashValid(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var str string
	if err := json.Unmarshal(args[0], &str); err != nil {
		return nil, InvalidParamsError("invalid blockhash")
	}
	blockhash, err := types.HashFromBase58(str)
	if err != nil {
		return nil, InvalidParamsError("invalid blockhash format")
	}
	return ResponseWithContext{
		Context: Context{Slot: s.bank.Slot()},
		Value:   s.bank.IsBlockhashValid(blockhash),
	}, nil
}

// Helper functions

// accountInfo renders account in the requested encoding. Leaderboard
// accounts are decoded for jsonParsed; anything else falls back to base64.
func (s *Server) accountInfo(account *accounts.Account, encoding Encoding, dataSlice *DataSlice) (*AccountInfo, error) {
	info := &AccountInfo{
		Executable: account.Executable,
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		RentEpoch:  account.RentEpoch,
		Space:      uint64(len(account.Data)),
	}

	if encoding == EncodingJSONParsed && account.Owner == s.config.ProgramID {
		if lb, err := leaderboard.Decode(account.Data); err == nil {
			info.Data = ParsedAccountData{
				Program: "rock-destroyer",
				Parsed:  ParsedInfo{Type: "leaderboard", Info: lb},
				Space:   uint64(len(account.Data)),
			}
			return info, nil
		}
	}

	data, err := EncodeAccountData(ApplyDataSlice(account.Data, dataSlice), encoding)
	if err != nil {
		return nil, err
	}
	info.Data = data
	return info, nil
}

// parseArgs splits positional params, requiring at least min of them.
func parseArgs(params json.RawMessage, min int) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < min {
		return nil, InvalidParamsErrorf("expected at least %d params, got %d", min, len(args))
	}
	return args, nil
}

func parsePubkey(arg json.RawMessage) (types.Pubkey, *RPCError) {
	var str string
	if err := json.Unmarshal(arg, &str); err != nil {
		return types.Pubkey{}, InvalidParamsError("invalid pubkey")
	}
	pubkey, err := types.PubkeyFromBase58(str)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("Invalid param: %v", err)
	}
	return pubkey, nil
}

func parseSignature(arg json.RawMessage) (types.Signature, *RPCError) {
	var str string
	if err := json.Unmarshal(arg, &str); err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature")
	}
	sig, err := types.SignatureFromBase58(str)
	if err != nil {
		return types.Signature{}, InvalidParamsErrorf("Invalid param: %v", err)
	}
	return sig, nil
}

func parseSlotConfig(params json.RawMessage) (SlotConfig, *RPCError) {
	var config SlotConfig
	args, rpcErr := parseArgs(params, 0)
	if rpcErr != nil {
		return config, rpcErr
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &config); err != nil {
			return config, InvalidParamsError("invalid config")
		}
	}
	return config, nil
}
