package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrorKind classifies failures returned by ContractService.
type ErrorKind string

const (
	KindNotFound                  ErrorKind = "not_found"
	KindInvalidState              ErrorKind = "invalid_state"
	KindTokenExpired              ErrorKind = "token_expired"
	KindAlreadyFinalized          ErrorKind = "already_finalized"
	KindInvalidEvidence           ErrorKind = "invalid_evidence"
	KindInvalidPassword           ErrorKind = "invalid_password"
	KindUpstreamGenerationFailure ErrorKind = "upstream_generation_failure"
	KindConflict                  ErrorKind = "conflict"
	KindValidation                ErrorKind = "validation"
	KindInternal                  ErrorKind = "internal"
)

// Error is the only error type ContractService returns.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same call may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindConflict || e.Kind == KindUpstreamGenerationFailure
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Failures raised by the ledger, state machine and share-link manager.
var (
	errContractNotFound  = errors.New("contract not found")
	errSignatureNotFound = errors.New("signature request not found")
	errShareNotFound     = errors.New("share link not found")
	errShareExpired      = errors.New("share link expired")
	errInvalidState      = errors.New("operation not allowed in current state")
	errInvalidTransition = errors.New("invalid status transition")
	errTokenExpired      = errors.New("signing token expired")
	errAlreadyFinalized  = errors.New("signature already finalized")
	errInvalidEvidence   = errors.New("invalid signature evidence")
	errInvalidPassword   = errors.New("invalid password")
	errConcurrentUpdate  = errors.New("contract was modified concurrently")
	errGenerationFailed  = errors.New("document generation failed")
	errValidation        = errors.New("invalid input")
)

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidState, fmt.Sprintf(format, args...))
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errValidation, fmt.Sprintf(format, args...))
}

func invalidEvidence(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidEvidence, fmt.Sprintf(format, args...))
}

// translate maps internal failures onto the public taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	kind := KindInternal
	message := "internal error"

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, errContractNotFound):
		kind, message = KindNotFound, "contract not found"
	case errors.Is(err, errSignatureNotFound):
		kind, message = KindNotFound, "signature request not found"
	case errors.Is(err, errShareNotFound):
		kind, message = KindNotFound, "share link not found"
	case errors.Is(err, errShareExpired), errors.Is(err, errTokenExpired):
		kind, message = KindTokenExpired, err.Error()
	case errors.Is(err, errInvalidState), errors.Is(err, errInvalidTransition):
		kind, message = KindInvalidState, err.Error()
	case errors.Is(err, errAlreadyFinalized):
		kind, message = KindAlreadyFinalized, err.Error()
	case errors.Is(err, errInvalidEvidence):
		kind, message = KindInvalidEvidence, err.Error()
	case errors.Is(err, errInvalidPassword):
		kind, message = KindInvalidPassword, err.Error()
	case errors.Is(err, errGenerationFailed):
		kind, message = KindUpstreamGenerationFailure, err.Error()
	case errors.Is(err, errConcurrentUpdate), errors.Is(err, gorm.ErrDuplicatedKey):
		kind, message = KindConflict, "contract was modified concurrently, retry the request"
	case errors.Is(err, errValidation):
		kind, message = KindValidation, err.Error()
	}

	return &Error{Kind: kind, Message: message, Err: err}
}
