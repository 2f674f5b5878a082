package document

import (
	"regexp"
	"strings"

	"github.com/dot-do/mondodb/internal/merr"
)

// Validation is implemented on regexp + strings deliberately: no library in
// the example corpus addresses identifier/path-traversal safety, and this is
// exactly the narrow, stable kind of concern the teacher itself leaves to the
// standard library (see DESIGN.md). Re-architected per spec.md §9's "validate
// against an allow-list grammar" REDESIGN FLAG: every caller-supplied
// identifier passes through here before reaching a filesystem path or a
// generated SQL statement.

var (
	dbNamePattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	collNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
)

// systemCollectionAllowList is the exact allow-list of spec.md §4.1: the
// only "system."-prefixed collection names that are permitted.
var systemCollectionAllowList = map[string]bool{
	"system.users":   true,
	"system.indexes": true,
	"system.namespaces": true,
}

const maxNameLength = 255

// ValidateDatabaseName rejects any database name that could escape the
// configured data directory or otherwise misbehave as a filesystem path
// component (spec.md §4.1, §3 "the database name never escapes the
// configured data directory").
func ValidateDatabaseName(name string) error {
	if name == "" {
		return merr.New(merr.Validation, "database name must not be empty")
	}
	if len(name) > maxNameLength {
		return merr.New(merr.Validation, "database name exceeds maximum length")
	}
	if strings.Contains(name, "..") {
		return merr.New(merr.Validation, "database name must not contain '..'")
	}
	if strings.ContainsAny(name, "/\\") {
		return merr.New(merr.Validation, "database name must not contain path separators")
	}
	if strings.ContainsRune(name, 0) {
		return merr.New(merr.Validation, "database name must not contain a null byte")
	}
	if strings.HasPrefix(name, ".") {
		return merr.New(merr.Validation, "database name must not start with '.'")
	}
	if !dbNamePattern.MatchString(name) {
		return merr.New(merr.Validation, "database name contains illegal characters")
	}
	return nil
}

// ValidateCollectionName rejects illegal or reserved collection names
// (spec.md §4.1).
func ValidateCollectionName(name string) error {
	if name == "" {
		return merr.New(merr.Validation, "collection name must not be empty")
	}
	if len(name) > maxNameLength {
		return merr.New(merr.Validation, "collection name exceeds maximum length")
	}
	if strings.ContainsRune(name, 0) {
		return merr.New(merr.Validation, "collection name must not contain a null byte")
	}
	if !collNamePattern.MatchString(name) {
		return merr.New(merr.Validation, "collection name contains illegal characters")
	}
	if strings.HasPrefix(name, "system.") && !systemCollectionAllowList[name] {
		return merr.New(merr.Validation, "collection name uses the reserved 'system.' prefix")
	}
	return nil
}

// fieldPathPattern allows letters, digits, underscore, and single internal
// dots — the allow-list grammar spec.md §4.3 requires before a field path is
// rendered into a JSON-path literal for json_extract().
var fieldPathPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// ValidateFieldPath rejects any field path containing a character other than
// letters, digits, underscore, and single internal dots (spec.md §4.3's
// defense against SQL injection through field names).
func ValidateFieldPath(path string) error {
	if path == "" {
		return merr.New(merr.Validation, "field path must not be empty")
	}
	if !fieldPathPattern.MatchString(path) {
		return merr.New(merr.Validation, "field path contains illegal characters")
	}
	return nil
}
