package merr_test

import (
	"errors"
	"testing"

	"github.com/dot-do/mondodb/internal/merr"
	"github.com/stretchr/testify/require"
)

func TestNewFormatsMessage(t *testing.T) {
	err := merr.New(merr.Validation, "bad field %q", "_id")
	require.Equal(t, `bad field "_id"`, err.Error())
	require.Equal(t, merr.CodeBadValue, err.Code)
}

func TestDefaultCodePerKind(t *testing.T) {
	require.Equal(t, merr.CodeNamespaceNotFound, merr.New(merr.NotFound, "gone").Code)
	require.Equal(t, merr.CodeDuplicateKey, merr.New(merr.Conflict, "dup").Code)
	require.Equal(t, merr.CodeInternal, merr.New(merr.Internal, "boom").Code)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := merr.Wrap(merr.Internal, cause, "write failed")
	require.ErrorIs(t, wrapped, cause)
}

func TestKindOfDefaultsToInternalForForeignErrors(t *testing.T) {
	require.Equal(t, merr.Internal, merr.KindOf(errors.New("plain")))
	require.True(t, merr.Is(merr.New(merr.Timeout, "slow"), merr.Timeout))
}

func TestWithCodeOverridesWithoutMutatingOriginal(t *testing.T) {
	base := merr.New(merr.Validation, "x")
	overridden := base.WithCode(99, "Custom")
	require.Equal(t, merr.CodeBadValue, base.Code)
	require.Equal(t, 99, overridden.Code)
	require.Equal(t, "Custom", overridden.CodeName)
}
