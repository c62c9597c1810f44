// Package errors provides the council module's two-layer error model.
//
//   - L1 sentinel errors: ErrNotFound / ErrUnknownAgent / ErrInvalidTransition / ...
//   - L2 AppError: an application error carrying Op + Code + Message, wrapping
//     an optional underlying cause so callers can still errors.Is/As through it.
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 sentinel errors
// ========================================

var (
	// ErrNotFound is returned when a lookup finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal is returned for unexpected internal failures.
	ErrInternal = errors.New("internal error")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrUnknownAgent is returned when an agent id does not resolve against
	// the current council roster.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidTransition is returned when a phase transition is not legal
	// under the session state machine.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrAlreadyVoted is returned when an agent casts a second ballot on the
	// same session.
	ErrAlreadyVoted = errors.New("agent already voted on this session")

	// ErrInvalidVoteValue is returned when a ballot value is not accepted by
	// the session's voting scheme.
	ErrInvalidVoteValue = errors.New("invalid vote value for scheme")

	// ErrNotInPhase is returned when an operation is attempted outside the
	// phase it requires.
	ErrNotInPhase = errors.New("session not in required phase")

	// ErrNotAuthorized is returned when an agent is not part of a session
	// (neither lead nor consult) and attempts a session-scoped operation.
	ErrNotAuthorized = errors.New("agent not authorized for session")

	// ErrConfigLoad is returned when a council configuration file fails to
	// parse or validate.
	ErrConfigLoad = errors.New("config load failed")
)

// ========================================
// L2 AppError
// ========================================

// FieldError names one problem found while validating a config document.
type FieldError struct {
	Path    string
	Message string
}

// AppError is an application-level error carrying call-site context.
type AppError struct {
	Op      string // operation name, e.g. "Orchestrator.CastVote"
	Code    string // machine-readable code, e.g. "ALREADY_VOTED"
	Message string // human-readable message
	Err     error  // underlying cause, if any
	Fields  []FieldError
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap supports errors.Is / errors.As chaining.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with no underlying cause.
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with operation context.
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode attaches a machine-readable code to an AppError in place.
func WithCode(err error, code string) error {
	var ae *AppError
	if errors.As(err, &ae) {
		ae.Code = code
		return ae
	}
	return &AppError{Op: "unknown", Message: err.Error(), Err: err, Code: code}
}

// Kind codes for the error kinds named in the error handling design.
const (
	CodeConfigLoad        = "CONFIG_LOAD"
	CodeUnknownAgent      = "UNKNOWN_AGENT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeAlreadyVoted      = "ALREADY_VOTED"
	CodeInvalidVoteValue  = "INVALID_VOTE_VALUE"
	CodeNotInPhase        = "NOT_IN_PHASE"
	CodeNotAuthorized     = "NOT_AUTHORIZED"
	CodeStoreError        = "STORE_ERROR"
	CodeSpawnError        = "SPAWN_ERROR"
)

// NewConfigLoad builds an AppError carrying per-path validation detail.
func NewConfigLoad(op string, fields []FieldError) error {
	return &AppError{Op: op, Code: CodeConfigLoad, Message: "council config invalid", Err: ErrConfigLoad, Fields: fields}
}

// StoreError wraps a Store-layer failure.
func StoreError(op string, err error) error {
	return &AppError{Op: op, Code: CodeStoreError, Message: "store operation failed", Err: err}
}

// SpawnError wraps a Spawner-layer failure. By policy this is
// logged, never surfaced to the caller of CastVote/PostMessage.
func SpawnError(op string, err error) error {
	return &AppError{Op: op, Code: CodeSpawnError, Message: "spawn failed", Err: err}
}
