package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fortiblox/rock-destroyer/pkg/runtime"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Solana-specific error codes.
const (
	// SendTransactionPreflightFailure indicates preflight simulation or
	// transaction checks failed.
	SendTransactionPreflightFailure = -32002

	// TransactionSignatureVerificationFailure indicates signature verification failed.
	TransactionSignatureVerificationFailure = -32003

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005

	// TransactionHistoryNotAvailable indicates transaction history not available.
	TransactionHistoryNotAvailable = -32011

	// MinContextSlotNotReached indicates min context slot not yet reached.
	MinContextSlotNotReached = -32016
)

// Common error messages.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrNodeUnhealthy  = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrNoHistory      = NewRPCError(TransactionHistoryNotAvailable, "Transaction history is not available from this node")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// MinContextSlotError creates an error for min context slot not reached.
func MinContextSlotError(minSlot, currentSlot uint64) *RPCError {
	return NewRPCErrorWithData(MinContextSlotNotReached,
		fmt.Sprintf("Minimum context slot %d has not been reached, current slot is %d", minSlot, currentSlot),
		map[string]uint64{"contextSlot": currentSlot})
}

// PreflightFailureError reports a transaction that failed simulation before
// submission. The data carries the simulation result so clients can decode
// the program error and logs.
func PreflightFailureError(result *SimulateResult, cause error) *RPCError {
	return NewRPCErrorWithData(SendTransactionPreflightFailure,
		fmt.Sprintf("Transaction simulation failed: %v", cause),
		result)
}

// TransactionRejectedError maps a transaction the bank refused to process
// onto the code clients expect for it.
func TransactionRejectedError(err error) *RPCError {
	if errors.Is(err, runtime.ErrSignatureFailure) {
		return NewRPCError(TransactionSignatureVerificationFailure, err.Error())
	}
	var te *runtime.TransactionError
	if errors.As(err, &te) {
		return NewRPCErrorWithData(SendTransactionPreflightFailure,
			fmt.Sprintf("Transaction simulation failed: %s", te.Msg),
			&SimulateResult{Err: runtime.ErrorJSON(te)})
	}
	return InternalServerErrorf("failed to process transaction: %v", err)
}

// errJSON returns the JSON form of a transaction error; nil encodes as null.
func errJSON(err error) json.RawMessage {
	return runtime.ErrorJSON(err)
}
