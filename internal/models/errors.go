package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown local account or address.
	ErrNotFound = errors.New("account not found")
	// ErrInsufficientFunds is returned when balance plus receivable cannot
	// cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConflict is returned on a duplicate address or index insert.
	ErrConflict = errors.New("conflict")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation error")
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrNotImplemented is returned by protocol stubs.
	ErrNotImplemented = errors.New("not implemented")
	// ErrAlreadyBroadcast is returned by a second TransactionPreview.Send.
	ErrAlreadyBroadcast = errors.New("transaction already broadcast")
	// ErrUnknownNetwork is returned for a network without a configured engine.
	ErrUnknownNetwork = errors.New("unknown network")
)

// ValidationError carries the chain's (or the local validator's) reason for
// rejecting a transaction or block.
type ValidationError struct {
	Reason string
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransportError wraps an RPC or socket failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
