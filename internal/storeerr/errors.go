// Package storeerr defines the uniform error kinds surfaced by the store
// across its internal packages and, eventually, the wire dispatcher.
package storeerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the store's well-known failure modes.
type Kind int

const (
	// Internal is used when a failure does not map to any other kind.
	Internal Kind = iota
	// NotFound means a primary-key lookup (Remove, GetOne-style update) found nothing.
	NotFound
	// NotIndexable means an and-block carried no predicate any index could serve.
	NotIndexable
	// SchemaMismatch means a record's key values disagree with its type's TypeDescription.
	SchemaMismatch
	// UnknownType means an operation named a type that was never registered.
	UnknownType
	// InvalidQuery means a predicate was malformed or used the wrong operator for its kind.
	InvalidQuery
	// DumpCorrupt means a dump directory failed validation on import.
	DumpCorrupt
	// StoreNotEmpty means InitializeFromDump targeted a non-empty store.
	StoreNotEmpty
	// IOFailure wraps an underlying filesystem/log error.
	IOFailure
	// AlreadyRegisteredWithDifferentSchema means Register named a type already
	// registered with a structurally different TypeDescription.
	AlreadyRegisteredWithDifferentSchema
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case NotIndexable:
		return "NotIndexable"
	case SchemaMismatch:
		return "SchemaMismatch"
	case UnknownType:
		return "UnknownType"
	case InvalidQuery:
		return "InvalidQuery"
	case DumpCorrupt:
		return "DumpCorrupt"
	case StoreNotEmpty:
		return "StoreNotEmpty"
	case IOFailure:
		return "IOFailure"
	case AlreadyRegisteredWithDifferentSchema:
		return "AlreadyRegisteredWithDifferentSchema"
	default:
		return "Internal"
	}
}

// StoreError is the single uniform error type the core packages return.
// The dispatcher packages one of these onto the channel as a single message;
// clients unwrap it back to one domain error kind carrying the server message.
type StoreError struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "Put", "ImportDump"
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, target) match when target is a *StoreError of the
// same Kind, whatever its Op, Message or Cause.
func (e *StoreError) Is(target error) bool {
	var other *StoreError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a StoreError with no wrapped cause.
func New(kind Kind, op, message string) *StoreError {
	return &StoreError{Kind: kind, Op: op, Message: message}
}

// Wrap constructs a StoreError wrapping cause.
func Wrap(kind Kind, op, message string, cause error) *StoreError {
	return &StoreError{Kind: kind, Op: op, Message: message, Cause: cause}
}

// KindOf extracts the Kind of the first StoreError in err's chain, or
// Internal if err is not (or does not wrap) a StoreError.
func KindOf(err error) Kind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return Internal
}
