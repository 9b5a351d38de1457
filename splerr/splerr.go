// Package splerr defines the error taxonomy shared by every Splinter
// component (spec.md §7). Each Kind is a distinct, wrappable error type
// so callers can use errors.As to recover the kind and errors.Unwrap to
// walk the source chain, instead of matching on formatted strings.
package splerr

import (
	"fmt"
)

// Internal signals a bug or a broken invariant. It is always surfaced
// and logged, never retried.
type Internal struct {
	Msg   string
	Cause error
}

func NewInternal(msg string, cause error) *Internal { return &Internal{Msg: msg, Cause: cause} }

func (e *Internal) Error() string {
	if e.Cause == nil {
		return "internal: " + e.Msg
	}
	return fmt.Sprintf("internal: %s: %v", e.Msg, e.Cause)
}

func (e *Internal) Unwrap() error { return e.Cause }

// InvalidState signals an operation disallowed in the callee's current
// state (e.g. voting twice, updating a row that doesn't exist).
type InvalidState struct {
	Msg   string
	Cause error
}

func NewInvalidState(msg string, cause error) *InvalidState {
	return &InvalidState{Msg: msg, Cause: cause}
}

func (e *InvalidState) Error() string {
	if e.Cause == nil {
		return "invalid state: " + e.Msg
	}
	return fmt.Sprintf("invalid state: %s: %v", e.Msg, e.Cause)
}

func (e *InvalidState) Unwrap() error { return e.Cause }

// InvalidArgument signals caller-provided data that failed validation.
type InvalidArgument struct {
	Field string
	Msg   string
}

func NewInvalidArgument(field, msg string) *InvalidArgument {
	return &InvalidArgument{Field: field, Msg: msg}
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Msg)
}

// ConstraintKind distinguishes store-level conflicts.
type ConstraintKind int

const (
	ConstraintUnique ConstraintKind = iota
	ConstraintForeignKey
	ConstraintNotFound
	ConstraintOther
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintUnique:
		return "unique"
	case ConstraintForeignKey:
		return "foreign_key"
	case ConstraintNotFound:
		return "not_found"
	default:
		return "other"
	}
}

// ConstraintViolation signals a store-level conflict. 2PC treats any
// ConstraintViolation as grounds for an abort vote (spec.md §7).
type ConstraintViolation struct {
	Kind  ConstraintKind
	Msg   string
	Cause error
}

func NewConstraintViolation(kind ConstraintKind, msg string, cause error) *ConstraintViolation {
	return &ConstraintViolation{Kind: kind, Msg: msg, Cause: cause}
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation (%s): %s", e.Kind, e.Msg)
}

func (e *ConstraintViolation) Unwrap() error { return e.Cause }

// ResourceTemporarilyUnavailable signals pool exhaustion or lock
// contention; the caller may retry with backoff.
type ResourceTemporarilyUnavailable struct {
	Msg   string
	Cause error
}

func NewResourceTemporarilyUnavailable(msg string, cause error) *ResourceTemporarilyUnavailable {
	return &ResourceTemporarilyUnavailable{Msg: msg, Cause: cause}
}

func (e *ResourceTemporarilyUnavailable) Error() string {
	return fmt.Sprintf("resource temporarily unavailable: %s", e.Msg)
}

func (e *ResourceTemporarilyUnavailable) Unwrap() error { return e.Cause }

// UnsetField signals a required enum value (authorization_type,
// persistence, durability, routes, ...) was left at its UNSET
// sentinel on ingest (spec.md §4.4).
type UnsetField struct {
	Name string
}

func NewUnsetField(name string) *UnsetField { return &UnsetField{Name: name} }

func (e *UnsetField) Error() string { return fmt.Sprintf("unset field: %s", e.Name) }

// DispatchError is the family of per-message dispatch failures
// (spec.md §7).
type DispatchErrorKind int

const (
	DeserializationError DispatchErrorKind = iota
	SerializationError
	HandleError
	NetworkSendError
)

func (k DispatchErrorKind) String() string {
	switch k {
	case DeserializationError:
		return "deserialization"
	case SerializationError:
		return "serialization"
	case HandleError:
		return "handle"
	case NetworkSendError:
		return "network_send"
	default:
		return "unknown"
	}
}

// DispatchError wraps a dispatch-stage failure. Payload is an optional
// slot for the failed (peer, bytes) pair; NewDispatchError leaves it
// nil and no caller in this module sets it, so a NetworkSendError
// carries only its Cause.
type DispatchError struct {
	Kind    DispatchErrorKind
	Cause   error
	Payload interface{}
}

func NewDispatchError(kind DispatchErrorKind, cause error) *DispatchError {
	return &DispatchError{Kind: kind, Cause: cause}
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch error (%s): %v", e.Kind, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }
