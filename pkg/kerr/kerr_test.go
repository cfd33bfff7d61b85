package kerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageFormatting(t *testing.T) {
	require.Equal(t, "field_readonly", New(FieldReadonly, "").Error())
	require.Equal(t, "field_readonly: created is readonly", New(FieldReadonly, "%s is readonly", "created").Error())
}

func TestIsMatchesByKindIgnoringMessageAndFields(t *testing.T) {
	a := New(FieldReadonly, "created is readonly").With("field", "created")
	b := New(FieldReadonly, "a different message entirely")

	require.True(t, errors.Is(a, b), "errors.Is must match on Kind alone")
	require.True(t, errors.Is(a, New(FieldReadonly, "")))
	require.False(t, errors.Is(a, New(FieldUndefined, "")))
}

func TestWithAndField(t *testing.T) {
	err := New(InvalidParam, "bad param").With("name", "auth").With("value", 42)
	require.Equal(t, "auth", err.Field("name"))
	require.Equal(t, 42, err.Field("value"))
	require.Nil(t, err.Field("missing"))

	// A freshly constructed error with no With calls must not panic on Field.
	require.Nil(t, New(InvalidParam, "x").Field("name"))
}

func TestUnreachableErrKind(t *testing.T) {
	err := UnreachableErr("transaction already attached")
	require.Equal(t, Unreachable, err.Kind)
	require.Equal(t, "unreachable: transaction already attached", err.Error())
}

func TestWithReturnsSameInstanceForChaining(t *testing.T) {
	err := New(InvalidStatement, "bad")
	chained := err.With("a", 1)
	require.Same(t, err, chained)
}
