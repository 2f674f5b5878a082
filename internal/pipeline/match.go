// Package pipeline implements the in-memory aggregation pipeline interpreter
// (spec.md §4.8), optimizer (§4.7), and JSON validator (§4.10). All three
// operate on the same document.Doc representation: pipeline stages are
// themselves one-key ("$"-operator) documents, so no separate "raw JSON"
// shape is needed once the wire layer has decoded a request into the
// document model.
package pipeline

import (
	"strings"

	"github.com/dot-do/mondodb/internal/document"
)

// MatchFilter reports whether doc satisfies filter, implementing the
// recursive $and/$or, comparison ($eq/$ne/$gt/$gte/$lt/$lte), membership
// ($in), and existence ($exists) evaluation of spec.md §4.8's $match.
// Interpret's $match stage is its only caller outside this file.
func MatchFilter(filter *document.Doc, doc *document.Doc) bool {
	if filter == nil || filter.Len() == 0 {
		return true
	}
	result := true
	filter.Range(func(key string, v document.Value) bool {
		if !matchField(key, v, doc) {
			result = false
			return false
		}
		return true
	})
	return result
}

func matchField(key string, condition document.Value, doc *document.Doc) bool {
	switch key {
	case "$and":
		return matchLogical(condition, doc, true)
	case "$or":
		return matchLogical(condition, doc, false)
	}

	actual, present := resolveField(key, doc)

	if isOperatorDocument(condition) {
		return matchOperators(condition.Doc, actual, present, doc)
	}
	// Bare equality.
	return present && document.Equal(actual, condition)
}

// isOperatorDocument reports whether condition is an operator document
// (every key begins with "$") as opposed to a literal value to compare for
// equality. A document with at least one non-"$" key is treated as a
// literal (nested-document equality), matching MongoDB's own rule.
func isOperatorDocument(condition document.Value) bool {
	if condition.Kind != document.KindDocument || condition.Doc == nil || condition.Doc.Len() == 0 {
		return false
	}
	isOperator := true
	condition.Doc.Range(func(k string, _ document.Value) bool {
		if !strings.HasPrefix(k, "$") {
			isOperator = false
			return false
		}
		return true
	})
	return isOperator
}

func matchLogical(condition document.Value, doc *document.Doc, and bool) bool {
	if condition.Kind != document.KindArray {
		return false
	}
	for _, sub := range condition.Array {
		if sub.Kind != document.KindDocument {
			continue
		}
		ok := MatchFilter(sub.Doc, doc)
		if and && !ok {
			return false
		}
		if !and && ok {
			return true
		}
	}
	return and
}

func matchOperators(ops *document.Doc, actual document.Value, present bool, doc *document.Doc) bool {
	result := true
	ops.Range(func(op string, arg document.Value) bool {
		if !evalOperator(op, arg, actual, present) {
			result = false
			return false
		}
		return true
	})
	return result
}

func evalOperator(op string, arg, actual document.Value, present bool) bool {
	switch op {
	case "$eq":
		return present && document.Equal(actual, arg)
	case "$ne":
		return !present || !document.Equal(actual, arg)
	case "$gt":
		return present && document.Compare(actual, arg) > 0
	case "$gte":
		return present && document.Compare(actual, arg) >= 0
	case "$lt":
		return present && document.Compare(actual, arg) < 0
	case "$lte":
		return present && document.Compare(actual, arg) <= 0
	case "$in":
		if !present || arg.Kind != document.KindArray {
			return false
		}
		for _, v := range arg.Array {
			if document.Equal(actual, v) {
				return true
			}
		}
		return false
	case "$nin":
		if !present {
			return true
		}
		if arg.Kind != document.KindArray {
			return true
		}
		for _, v := range arg.Array {
			if document.Equal(actual, v) {
				return false
			}
		}
		return true
	case "$exists":
		want := arg.Kind == document.KindBool && arg.Bool
		return present == want
	default:
		// Unrecognized operator: fail closed (no match), consistent with
		// the validator rejecting unknown operators before this is reached
		// in the normal flow.
		return false
	}
}

// resolveField resolves a (possibly dotted) field path against doc, with the
// "_id" special case handled the same way as every other field once the
// document model is in play (the SQL column/JSON split is an embedded-backend
// storage detail, invisible here).
func resolveField(path string, doc *document.Doc) (document.Value, bool) {
	return doc.GetPath(path)
}
