package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreErrorMessage(t *testing.T) {
	e := NewPersistenceError("txn", "COMMIT_FAILED", "commit failed", nil)
	assert.Contains(t, e.Error(), "commit failed")
	assert.Contains(t, e.Error(), "persistence")
}

func TestStoreErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := NewPersistenceError("kvengine", "GROW_FAILED", "cannot grow map", cause)
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestStoreErrorIs(t *testing.T) {
	a := NewClassNotRegisteredError("schema", 42)
	b := NewClassNotRegisteredError("schema", 99)
	assert.True(t, errors.Is(a, b), "same kind+code should match regardless of message")
}

func TestIncompatibleSchemaDetail(t *testing.T) {
	diffs := []SchemaDiff{{Position: 2, Field: "v", Description: "appended"}}
	e := NewIncompatibleSchemaError("schema", "Class1", diffs)
	got, ok := e.Detail.([]SchemaDiff)
	assert.True(t, ok)
	assert.Equal(t, diffs, got)
}

func TestWrapPassesThroughStoreError(t *testing.T) {
	inner := NewInvalidArgumentError("txn", "writer already active")
	wrapped := Wrap("txn", "X", "y", inner)
	assert.Same(t, inner, wrapped)
}

func TestIsKind(t *testing.T) {
	e := NewInvalidArgumentError("txn", "bad")
	assert.True(t, IsKind(e, KindInvalidArgument))
	assert.False(t, IsKind(e, KindPersistence))
}
