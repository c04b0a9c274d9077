// Package errors provides the typed error kinds the store reports.
package errors

import "fmt"

// Kind categorizes a StoreError by the class of failure it represents.
type Kind string

const (
	KindPersistence        Kind = "persistence"
	KindIncompatibleSchema Kind = "incompatible_schema"
	KindClassNotRegistered Kind = "class_not_registered"
	KindInvalidArgument    Kind = "invalid_argument"
)

// SchemaDiff describes one property-level disagreement between the
// persisted and runtime schema for a class.
type SchemaDiff struct {
	Position    int
	Field       string
	Description string
	Runtime     string
	Saved       string
}

// StoreError is the single error type the store returns. Every error it
// raises carries a Kind, a human-readable Message and, for
// incompatible_schema errors, a structured Detail ([]SchemaDiff).
type StoreError struct {
	Kind      Kind
	Code      string
	Message   string
	Component string
	Cause     error
	Detail    interface{}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s/%s): %v", e.Component, e.Message, e.Kind, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s (%s/%s)", e.Component, e.Message, e.Kind, e.Code)
}

// Unwrap returns the underlying cause, if any.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StoreError with the same Kind and Code.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func new(kind Kind, component, code, message string) *StoreError {
	return &StoreError{Kind: kind, Code: code, Component: component, Message: message}
}

// NewPersistenceError builds a KindPersistence error: underlying KV I/O
// failure, capacity exhaustion, or corruption.
func NewPersistenceError(component, code, message string, cause error) *StoreError {
	e := new(KindPersistence, component, code, message)
	e.Cause = cause
	return e
}

// NewIncompatibleSchemaError builds a KindIncompatibleSchema error carrying
// the per-property diff list explaining why.
func NewIncompatibleSchemaError(component, className string, diffs []SchemaDiff) *StoreError {
	e := new(KindIncompatibleSchema, component, "SCHEMA_INCOMPATIBLE", fmt.Sprintf("class %q is incompatible with its persisted schema", className))
	e.Detail = diffs
	return e
}

// NewClassNotRegisteredError builds a KindClassNotRegistered error: a load
// encountered a classId the runtime registry doesn't know and no substitute
// is configured.
func NewClassNotRegisteredError(component string, classId uint16) *StoreError {
	return new(KindClassNotRegistered, component, "CLASS_NOT_REGISTERED", fmt.Sprintf("class id %d is not registered and has no substitute", classId))
}

// NewInvalidArgumentError builds a KindInvalidArgument error: a transaction
// lifecycle violation such as writer-while-writer or a non-monotonic
// append-mode key.
func NewInvalidArgumentError(component, message string) *StoreError {
	return new(KindInvalidArgument, component, "INVALID_ARGUMENT", message)
}

// Wrap wraps err as a KindPersistence StoreError unless it already is one.
func Wrap(component, code, message string, err error) *StoreError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*StoreError); ok {
		return se
	}
	return NewPersistenceError(component, code, message, err)
}

// IsKind reports whether err is a StoreError of the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := err.(*StoreError)
	return ok && se.Kind == kind
}
