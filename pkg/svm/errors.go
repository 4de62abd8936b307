package svm

import (
	"encoding/json"
	"errors"
	"fmt"
)

// BuiltinError is one of the runtime's non-custom instruction errors. Its
// Name is the identifier clients see in transaction status.
type BuiltinError struct {
	Name string
	Msg  string
}

func (e *BuiltinError) Error() string { return e.Msg }

// Runtime instruction errors.
var (
	ErrInvalidArgument             = &BuiltinError{"InvalidArgument", "invalid program argument"}
	ErrInvalidInstructionData      = &BuiltinError{"InvalidInstructionData", "invalid instruction data"}
	ErrInvalidAccountData          = &BuiltinError{"InvalidAccountData", "invalid account data for instruction"}
	ErrMissingRequiredSignature    = &BuiltinError{"MissingRequiredSignature", "missing required signature for instruction"}
	ErrNotEnoughAccountKeys        = &BuiltinError{"NotEnoughAccountKeys", "insufficient account keys for instruction"}
	ErrIncorrectProgramID          = &BuiltinError{"IncorrectProgramId", "incorrect program id for instruction"}
	ErrUnsupportedProgramID        = &BuiltinError{"UnsupportedProgramId", "unsupported program id"}
	ErrExternalAccountLamportSpend = &BuiltinError{"ExternalAccountLamportSpend", "instruction spent from the balance of an account it does not own"}
	ErrExternalAccountDataModified = &BuiltinError{"ExternalAccountDataModified", "instruction modified data of an account it does not own"}
	ErrReadonlyLamportChange       = &BuiltinError{"ReadonlyLamportChange", "instruction changed the balance of a read-only account"}
	ErrReadonlyDataModified        = &BuiltinError{"ReadonlyDataModified", "instruction modified data of a read-only account"}
	ErrModifiedProgramID           = &BuiltinError{"ModifiedProgramId", "instruction illegally modified the program id of an account"}
	ErrUnbalancedInstruction       = &BuiltinError{"UnbalancedInstruction", "sum of account balances before and after instruction do not match"}
	ErrPrivilegeEscalation         = &BuiltinError{"PrivilegeEscalation", "cross-program invocation with unauthorized signer or writable account"}
	ErrCallDepth                   = &BuiltinError{"CallDepth", "cross-program invocation call depth too deep"}
	ErrComputationalBudgetExceeded = &BuiltinError{"ComputationalBudgetExceeded", "computational budget exceeded"}
	ErrAccountDataTooSmall         = &BuiltinError{"AccountDataTooSmall", "account data too small for instruction"}
	ErrInvalidSeeds                = &BuiltinError{"InvalidSeeds", "could not create program address with signer seeds"}
	ErrMissingAccount              = &BuiltinError{"MissingAccount", "an account required by the instruction is missing"}
)

// CustomError is a program-defined error carried as Custom(code).
type CustomError struct {
	Code uint32
	Name string
	Msg  string
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("custom program error: %#x (%s: %s)", e.Code, e.Name, e.Msg)
}

// InstructionError attaches the failing instruction's index to its cause.
type InstructionError struct {
	Index uint8
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("Error processing Instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error { return e.Err }

// CustomCode returns the custom error code, if the cause is a CustomError.
func (e *InstructionError) CustomCode() (uint32, bool) {
	var ce *CustomError
	if errors.As(e.Err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// MarshalJSON renders the error the way transaction status reports it:
//
//	{"InstructionError":[0,{"Custom":6001}]}
//	{"InstructionError":[1,"MissingRequiredSignature"]}
func (e *InstructionError) MarshalJSON() ([]byte, error) {
	var detail interface{}
	var be *BuiltinError
	switch {
	case errors.As(e.Err, &be):
		detail = be.Name
	default:
		if code, ok := e.CustomCode(); ok {
			detail = map[string]uint32{"Custom": code}
		} else {
			detail = map[string]string{"BorshIoError": e.Err.Error()}
		}
	}
	return json.Marshal(map[string][]interface{}{
		"InstructionError": {e.Index, detail},
	})
}
