package leaderboard

import "github.com/fortiblox/rock-destroyer/pkg/svm"

// Program errors. The numbering is part of the client contract.
var (
	ErrPlayerNotFound    = &svm.CustomError{Code: 6000, Name: "PlayerNotFound", Msg: "Player not found"}
	ErrPlayerHasNotPaid  = &svm.CustomError{Code: 6001, Name: "PlayerHasNotPaid", Msg: "Player has not paid"}
	ErrPlayerAlreadyPaid = &svm.CustomError{Code: 6002, Name: "PlayerAlreadyPaid", Msg: "Player still has an unused paid entry"}
)

// Account validation errors, numbered as the Anchor framework numbers them.
var (
	ErrInstructionMissing           = &svm.CustomError{Code: 100, Name: "InstructionMissing", Msg: "8 byte instruction identifier not provided"}
	ErrInstructionFallbackNotFound  = &svm.CustomError{Code: 101, Name: "InstructionFallbackNotFound", Msg: "Fallback functions are not supported"}
	ErrInstructionDidNotDeserialize = &svm.CustomError{Code: 102, Name: "InstructionDidNotDeserialize", Msg: "The program could not deserialize the given instruction"}
	ErrConstraintMut                = &svm.CustomError{Code: 2000, Name: "ConstraintMut", Msg: "A mut constraint was violated"}
	ErrConstraintHasOne             = &svm.CustomError{Code: 2001, Name: "ConstraintHasOne", Msg: "A has one constraint was violated"}
	ErrConstraintOwner              = &svm.CustomError{Code: 2004, Name: "ConstraintOwner", Msg: "An owner constraint was violated"}
	ErrConstraintSeeds              = &svm.CustomError{Code: 2006, Name: "ConstraintSeeds", Msg: "A seeds constraint was violated"}
	ErrConstraintAddress            = &svm.CustomError{Code: 2012, Name: "ConstraintAddress", Msg: "An address constraint was violated"}
	ErrAccountDiscriminatorNotFound = &svm.CustomError{Code: 3001, Name: "AccountDiscriminatorNotFound", Msg: "No 8 byte discriminator was found on the account"}
	ErrAccountDiscriminatorMismatch = &svm.CustomError{Code: 3002, Name: "AccountDiscriminatorMismatch", Msg: "8 byte discriminator did not match what was expected"}
	ErrAccountDidNotDeserialize     = &svm.CustomError{Code: 3003, Name: "AccountDidNotDeserialize", Msg: "Failed to deserialize the account"}
	ErrAccountDidNotSerialize       = &svm.CustomError{Code: 3004, Name: "AccountDidNotSerialize", Msg: "Failed to serialize the account"}
	ErrAccountNotEnoughKeys         = &svm.CustomError{Code: 3005, Name: "AccountNotEnoughKeys", Msg: "Not enough account keys given to the instruction"}
	ErrAccountOwnedByWrongProgram   = &svm.CustomError{Code: 3007, Name: "AccountOwnedByWrongProgram", Msg: "The given account is owned by a different program than expected"}
	ErrInvalidProgramID             = &svm.CustomError{Code: 3008, Name: "InvalidProgramId", Msg: "Program ID was not as expected"}
	ErrAccountNotSigner             = &svm.CustomError{Code: 3010, Name: "AccountNotSigner", Msg: "The given account did not sign"}
	ErrAccountNotInitialized        = &svm.CustomError{Code: 3012, Name: "AccountNotInitialized", Msg: "The program expected this account to be already initialized"}
)
