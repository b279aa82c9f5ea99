// Package conduiterr defines the error taxonomy shared by every core
// component. Callers at the edge (HTTP front door, CLI) map a Kind to a
// status code or exit code without string-matching error text.
package conduiterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of propagation and HTTP status
// mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindSpawn
	KindBridge
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindSpawn:
		return "spawn"
	case KindBridge:
		return "bridge"
	case KindProtocol:
		return "protocol"
	default:
		return "internal"
	}
}

// Error is a typed error carrying a Kind alongside the usual message/cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's taxonomy kind.
func (e *Error) Kind() Kind { return e.kind }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

func NewValidationError(message string, cause error) *Error { return newError(KindValidation, message, cause) }
func NewNotFoundError(message string, cause error) *Error   { return newError(KindNotFound, message, cause) }
func NewConflictError(message string, cause error) *Error   { return newError(KindConflict, message, cause) }
func NewSpawnError(message string, cause error) *Error      { return newError(KindSpawn, message, cause) }
func NewBridgeError(message string, cause error) *Error     { return newError(KindBridge, message, cause) }
func NewProtocolError(message string, cause error) *Error   { return newError(KindProtocol, message, cause) }
func NewInternalError(message string, cause error) *Error   { return newError(KindInternal, message, cause) }

// KindOf extracts the Kind of err, defaulting to KindInternal for errors
// that were never wrapped by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}
