// Package errs defines the error taxonomy shared by every governance
// operation. Each error carries a stable code and a classification; none
// are retryable, the caller resubmits a corrected action instead.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Class groups error codes by what went wrong.
type Class string

const (
	// ClassAuthorization covers wrong signer, missing permission or record mismatch.
	ClassAuthorization Class = "AUTHORIZATION"
	// ClassState covers wrong proposal status, staleness and duplicate votes.
	ClassState Class = "STATE"
	// ClassArithmetic covers overflow, invariant violations and exceeded limits.
	ClassArithmetic Class = "ARITHMETIC"
	// ClassMalformedInput covers bad messages, buffers and constraint data.
	ClassMalformedInput Class = "MALFORMED_INPUT"
	// ClassStorage covers collaborator failures (missing records, rent).
	ClassStorage Class = "STORAGE"
)

// Error is a classified governance error. Two Errors match under errors.Is
// when their codes are equal, regardless of detail.
type Error struct {
	Code   string
	Class  Class
	Title  string
	Detail string
	cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Title)
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Is matches on code so sentinels compare equal to their detailed copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Unwrap() error { return e.cause }

// With returns a copy of e carrying a formatted detail message.
func (e *Error) With(format string, args ...any) *Error {
	c := *e
	c.Detail = fmt.Sprintf(format, args...)
	return &c
}

// Wrap returns a copy of e that wraps cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

func newError(class Class, code, title string) *Error {
	return &Error{Code: "SMART_ACCOUNT/" + code, Class: class, Title: title}
}

// ClassOf reports the classification of err, or "" when err is not an *Error.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// Authorization errors.
var (
	ErrNotASigner             = newError(ClassAuthorization, "AUTH/NOT_A_SIGNER", "signer is not part of the consensus account")
	ErrUnauthorized           = newError(ClassAuthorization, "AUTH/UNAUTHORIZED", "signer lacks the required permission")
	ErrInvalidAccount         = newError(ClassAuthorization, "AUTH/INVALID_ACCOUNT", "account does not match the expected record")
	ErrInvalidOwner           = newError(ClassAuthorization, "AUTH/INVALID_OWNER", "account is not owned by the program")
	ErrSettingsMismatch       = newError(ClassAuthorization, "AUTH/SETTINGS_MISMATCH", "record belongs to a different consensus account")
	ErrNotSettingsAuthority   = newError(ClassAuthorization, "AUTH/NOT_SETTINGS_AUTHORITY", "caller is not the settings authority")
	ErrNotControlled          = newError(ClassAuthorization, "AUTH/NOT_CONTROLLED", "settings are autonomous and have no settings authority")
	ErrNotAutonomous          = newError(ClassAuthorization, "AUTH/NOT_AUTONOMOUS", "controlled settings cannot use settings transactions")
	ErrNotInitializer         = newError(ClassAuthorization, "AUTH/NOT_INITIALIZER", "caller is not an allowed program config initializer")
	ErrNotProgramAuthority    = newError(ClassAuthorization, "AUTH/NOT_PROGRAM_AUTHORITY", "caller is not the program config authority")
	ErrMissingSignature       = newError(ClassAuthorization, "AUTH/MISSING_SIGNATURE", "required signature is missing")
	ErrProtectedAccount       = newError(ClassAuthorization, "AUTH/PROTECTED_ACCOUNT", "protected account cannot be writable in an inner call")
	ErrReadonlyModified       = newError(ClassAuthorization, "AUTH/READONLY_MODIFIED", "inner call modified a read-only account")
	ErrInvalidSignerSeeds     = newError(ClassAuthorization, "AUTH/INVALID_SIGNER_SEEDS", "signer seeds do not derive the signing account")
	ErrInvalidDestination     = newError(ClassAuthorization, "AUTH/INVALID_DESTINATION", "destination is not allowed")
	ErrSpendingLimitSigner    = newError(ClassAuthorization, "AUTH/SPENDING_LIMIT_SIGNER", "signer is not allowed to use the spending limit")
	ErrPolicyNotActive        = newError(ClassAuthorization, "AUTH/POLICY_NOT_ACTIVE", "policy is expired or not yet started")
	ErrInsufficientVotePower  = newError(ClassAuthorization, "AUTH/INSUFFICIENT_VOTE_PERMISSION", "not enough voting signers present")
	ErrInsufficientAggregate  = newError(ClassAuthorization, "AUTH/INSUFFICIENT_AGGREGATE_PERMISSIONS", "present signers lack an aggregate permission")
	ErrInvalidSignerCount     = newError(ClassAuthorization, "AUTH/INVALID_SIGNER_COUNT", "signer count does not match presented signers")
	ErrNotBufferCreator       = newError(ClassAuthorization, "AUTH/NOT_BUFFER_CREATOR", "only the buffer creator may modify it")
	ErrInvalidRentCollector   = newError(ClassAuthorization, "AUTH/INVALID_RENT_COLLECTOR", "refund target is not the recorded rent collector")
	ErrInvalidTreasury        = newError(ClassAuthorization, "AUTH/INVALID_TREASURY", "treasury does not match program config")
	ErrSpendingLimitMismatch  = newError(ClassAuthorization, "AUTH/SPENDING_LIMIT_MISMATCH", "spending limit does not match the request")
	ErrInvalidPolicyKind      = newError(ClassAuthorization, "AUTH/INVALID_POLICY_KIND", "operation is not available for this policy kind")
	ErrProgramInteractionCall = newError(ClassAuthorization, "AUTH/PROGRAM_INTERACTION_UNCONSTRAINED", "instruction matches no declared constraint")
)

// State errors.
var (
	ErrInvalidProposalStatus   = newError(ClassState, "STATE/INVALID_PROPOSAL_STATUS", "proposal is not in the required status")
	ErrStaleProposal           = newError(ClassState, "STATE/STALE_PROPOSAL", "proposal is stale")
	ErrInvalidStaleTx          = newError(ClassState, "STATE/INVALID_STALE_TRANSACTION", "transaction was created before the last configuration change")
	ErrAlreadyApproved         = newError(ClassState, "STATE/ALREADY_APPROVED", "signer already approved")
	ErrAlreadyRejected         = newError(ClassState, "STATE/ALREADY_REJECTED", "signer already rejected")
	ErrAlreadyCancelled        = newError(ClassState, "STATE/ALREADY_CANCELLED", "signer already cancelled")
	ErrTimeLockNotReleased     = newError(ClassState, "STATE/TIME_LOCK_NOT_RELEASED", "time lock has not elapsed")
	ErrTimeLockNotZero         = newError(ClassState, "STATE/TIME_LOCK_NOT_ZERO", "instant execution requires a zero time lock")
	ErrInvalidTxIndex          = newError(ClassState, "STATE/INVALID_TRANSACTION_INDEX", "transaction index out of range")
	ErrTransactionNotClosable  = newError(ClassState, "STATE/NOT_CLOSABLE", "record cannot be closed in its current state")
	ErrBatchNotEmpty           = newError(ClassState, "STATE/BATCH_NOT_EMPTY", "batch still holds transactions")
	ErrBatchExecuted           = newError(ClassState, "STATE/BATCH_EXECUTED", "batch has no transactions left to execute")
	ErrBatchOrder              = newError(ClassState, "STATE/BATCH_ORDER", "batch transactions must be processed in order")
	ErrPayloadConsumed         = newError(ClassState, "STATE/PAYLOAD_CONSUMED", "stored action has already been consumed")
	ErrAlreadyInitialized      = newError(ClassState, "STATE/ALREADY_INITIALIZED", "record already exists")
	ErrNotFound                = newError(ClassState, "STATE/NOT_FOUND", "record not found")
	ErrSpendingLimitExpired    = newError(ClassState, "STATE/SPENDING_LIMIT_EXPIRED", "spending limit expired")
	ErrSpendingLimitNotStarted = newError(ClassState, "STATE/SPENDING_LIMIT_NOT_STARTED", "spending limit not active yet")
	ErrPolicyMismatch          = newError(ClassState, "STATE/POLICY_MISMATCH", "transaction targets a different policy")
)

// Arithmetic and invariant errors.
var (
	ErrOverflow              = newError(ClassArithmetic, "ARITH/OVERFLOW", "arithmetic overflow")
	ErrInvariantViolated     = newError(ClassArithmetic, "ARITH/INVARIANT_VIOLATED", "internal invariant violated")
	ErrDuplicateSigner       = newError(ClassArithmetic, "ARITH/DUPLICATE_SIGNER", "duplicate signer")
	ErrEmptySigners          = newError(ClassArithmetic, "ARITH/EMPTY_SIGNERS", "signer set is empty")
	ErrTooManySigners        = newError(ClassArithmetic, "ARITH/TOO_MANY_SIGNERS", "too many signers")
	ErrUnknownPermission     = newError(ClassArithmetic, "ARITH/UNKNOWN_PERMISSION", "permission mask has unknown bits")
	ErrNoProposers           = newError(ClassArithmetic, "ARITH/NO_PROPOSERS", "no signer can initiate")
	ErrNoVoters              = newError(ClassArithmetic, "ARITH/NO_VOTERS", "no signer can vote")
	ErrNoExecutors           = newError(ClassArithmetic, "ARITH/NO_EXECUTORS", "no signer can execute")
	ErrInvalidThreshold      = newError(ClassArithmetic, "ARITH/INVALID_THRESHOLD", "threshold must be between 1 and the number of voters")
	ErrTimeLockExceedsMax    = newError(ClassArithmetic, "ARITH/TIME_LOCK_EXCEEDS_MAX", "time lock exceeds the maximum")
	ErrSpendingLimitExceeded = newError(ClassArithmetic, "ARITH/SPENDING_LIMIT_EXCEEDED", "amount exceeds remaining allowance")
	ErrInvalidAmount         = newError(ClassArithmetic, "ARITH/INVALID_AMOUNT", "invalid amount")
	ErrInvalidLimit          = newError(ClassArithmetic, "ARITH/INVALID_LIMIT", "resource limit configuration is invalid")
	ErrInsufficientAllowance = newError(ClassArithmetic, "ARITH/INSUFFICIENT_ALLOWANCE", "balance decreased beyond the allowance")
	ErrInsufficientFunds     = newError(ClassArithmetic, "ARITH/INSUFFICIENT_FUNDS", "insufficient lamports")
)

// Malformed-input errors.
var (
	ErrInvalidTransactionMessage = newError(ClassMalformedInput, "INPUT/INVALID_TRANSACTION_MESSAGE", "transaction message is malformed")
	ErrInvalidNumberOfAccounts   = newError(ClassMalformedInput, "INPUT/INVALID_NUMBER_OF_ACCOUNTS", "unexpected number of accounts")
	ErrInvalidPayload            = newError(ClassMalformedInput, "INPUT/INVALID_PAYLOAD", "payload does not match the policy kind")
	ErrInvalidBuffer             = newError(ClassMalformedInput, "INPUT/INVALID_BUFFER", "transaction buffer hash or size mismatch")
	ErrBufferTooLarge            = newError(ClassMalformedInput, "INPUT/BUFFER_TOO_LARGE", "transaction buffer exceeds the maximum size")
	ErrDataTooShort              = newError(ClassMalformedInput, "INPUT/DATA_TOO_SHORT", "data too short for constraint offset")
	ErrParsing                   = newError(ClassMalformedInput, "INPUT/PARSING_ERROR", "unable to parse value")
	ErrInvalidOperator           = newError(ClassMalformedInput, "INPUT/INVALID_OPERATOR", "operator not supported for this value")
	ErrInvalidPolicyPayload      = newError(ClassMalformedInput, "INPUT/INVALID_POLICY", "policy configuration is invalid")
	ErrInvalidAction             = newError(ClassMalformedInput, "INPUT/INVALID_ACTION", "settings action is invalid in this context")
	ErrEmptyActions              = newError(ClassMalformedInput, "INPUT/EMPTY_ACTIONS", "no actions provided")
	ErrInvalidEphemeralSigner    = newError(ClassMalformedInput, "INPUT/INVALID_EPHEMERAL_SIGNER", "ephemeral signer index out of range")
	ErrDecode                    = newError(ClassMalformedInput, "INPUT/DECODE", "record could not be decoded")
)

// Policy constraint failures.
var (
	ErrInternalTransferSource      = newError(ClassAuthorization, "POLICY/INTERNAL_TRANSFER_SOURCE", "source account index not allowed")
	ErrInternalTransferDestination = newError(ClassAuthorization, "POLICY/INTERNAL_TRANSFER_DESTINATION", "destination account index not allowed")
	ErrInternalTransferSameAccount = newError(ClassAuthorization, "POLICY/INTERNAL_TRANSFER_SAME_ACCOUNT", "source and destination are the same")
	ErrInternalTransferMint        = newError(ClassAuthorization, "POLICY/INTERNAL_TRANSFER_MINT", "mint not allowed")
	ErrAccountConstraintFailed     = newError(ClassAuthorization, "POLICY/ACCOUNT_CONSTRAINT_FAILED", "account constraint failed")
	ErrDataConstraintFailed        = newError(ClassAuthorization, "POLICY/DATA_CONSTRAINT_FAILED", "data constraint failed")
	ErrProgramIDMismatch           = newError(ClassAuthorization, "POLICY/PROGRAM_ID_MISMATCH", "instruction program does not match constraint")
	ErrAccountIndexOutOfBounds     = newError(ClassMalformedInput, "POLICY/ACCOUNT_INDEX_OUT_OF_BOUNDS", "constraint account index out of bounds")
	ErrTokenAccountClosed          = newError(ClassAuthorization, "POLICY/TOKEN_ACCOUNT_CLOSED", "tracked token account was closed")
	ErrTokenAuthorityChanged       = newError(ClassAuthorization, "POLICY/TOKEN_AUTHORITY_CHANGED", "tracked token account delegate or authority changed")
	ErrSettingsChangeNotAllowed    = newError(ClassAuthorization, "POLICY/SETTINGS_CHANGE_NOT_ALLOWED", "settings change does not match an allowed change")
)

// Storage errors.
var (
	ErrStorage    = newError(ClassStorage, "STORAGE/BACKEND", "account store failure")
	ErrRentExempt = newError(ClassStorage, "STORAGE/RENT", "account would not be rent exempt")
)
