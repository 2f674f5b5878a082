package document_test

import (
	"strings"
	"testing"

	"github.com/dot-do/mondodb/internal/document"
	"github.com/stretchr/testify/require"
)

func TestValidateDatabaseNameRejectsPathTraversal(t *testing.T) {
	cases := []string{"../etc", "a/b", "a\\b", "..", ".hidden", ""}
	for _, name := range cases {
		err := document.ValidateDatabaseName(name)
		require.Error(t, err, "expected rejection for %q", name)
	}
}

func TestValidateDatabaseNameAcceptsOrdinary(t *testing.T) {
	require.NoError(t, document.ValidateDatabaseName("app_prod-1"))
}

func TestValidateCollectionNameRejectsReservedSystemPrefix(t *testing.T) {
	require.Error(t, document.ValidateCollectionName("system.profile"))
	require.NoError(t, document.ValidateCollectionName("system.indexes"))
}

func TestValidateFieldPathRejectsInjectionCharacters(t *testing.T) {
	cases := []string{"a; DROP TABLE x", "a.$b", "a b", "a..b", ""}
	for _, p := range cases {
		require.Error(t, document.ValidateFieldPath(p), "expected rejection for %q", p)
	}
	require.NoError(t, document.ValidateFieldPath("a.b.c"))
}

func TestValidateDatabaseNameMaxLength(t *testing.T) {
	long := strings.Repeat("a", 256)
	require.Error(t, document.ValidateDatabaseName(long))
}
