package runtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fortiblox/rock-destroyer/pkg/svm"
)

// TransactionError is a transaction-level failure, reported by name.
type TransactionError struct {
	Name string
	Msg  string
}

func (e *TransactionError) Error() string { return e.Msg }

// MarshalJSON renders the error as its bare name, e.g. "BlockhashNotFound".
func (e *TransactionError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Name)
}

// Transaction-level errors. Except for InsufficientFundsForRent, none of these
// charge a fee or reach the ledger.
var (
	ErrAccountNotFound         = &TransactionError{"AccountNotFound", "attempt to debit an account but found no record of a prior credit"}
	ErrInsufficientFundsForFee = &TransactionError{"InsufficientFundsForFee", "insufficient funds for fee"}
	ErrInvalidAccountForFee    = &TransactionError{"InvalidAccountForFee", "this account may not be used to pay transaction fees"}
	ErrAlreadyProcessed        = &TransactionError{"AlreadyProcessed", "this transaction has already been processed"}
	ErrBlockhashNotFound       = &TransactionError{"BlockhashNotFound", "blockhash not found"}
	ErrSignatureFailure        = &TransactionError{"SignatureFailure", "transaction did not pass signature verification"}
	ErrSanitizeFailure         = &TransactionError{"SanitizeFailure", "transaction failed to sanitize accounts offsets correctly"}
	ErrProgramAccountNotFound  = &TransactionError{"ProgramAccountNotFound", "attempt to load a program that does not exist"}
)

// RentError reports a writable account left below the rent-exempt minimum.
type RentError struct {
	AccountIndex uint8
}

func (e *RentError) Error() string {
	return fmt.Sprintf("transaction results in an account (%d) with insufficient funds for rent", e.AccountIndex)
}

// MarshalJSON renders {"InsufficientFundsForRent":{"account_index":n}}.
func (e *RentError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]map[string]uint8{
		"InsufficientFundsForRent": {"account_index": e.AccountIndex},
	})
}

// ErrorJSON renders err the way transaction status reports it. It returns
// nil for a nil error.
func ErrorJSON(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	var (
		ie  *svm.InstructionError
		te  *TransactionError
		re  *RentError
		raw []byte
	)
	switch {
	case errors.As(err, &ie):
		raw, _ = ie.MarshalJSON()
	case errors.As(err, &te):
		raw, _ = te.MarshalJSON()
	case errors.As(err, &re):
		raw, _ = re.MarshalJSON()
	default:
		raw, _ = json.Marshal(err.Error())
	}
	return raw
}
