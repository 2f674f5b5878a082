package pipeline

import (
	"strings"

	"github.com/dot-do/mondodb/internal/document"
)

// Optimize rewrites a validated pipeline into an equivalent, cheaper one
// (spec.md §4.7): predicate pushdown moves $match earlier past stages that
// cannot change whether a document matches it, adjacent compatible stages
// are fused, and stages that can provably never affect the result are
// dropped. Every rewrite here must preserve output equivalence exactly —
// this is not a heuristic planner, it only removes provable waste.
func Optimize(stages []*document.Doc) []*document.Doc {
	out := append([]*document.Doc(nil), stages...)
	out = pushDownMatches(out)
	out = mergeAdjacent(out)
	out = dropRedundant(out)
	return out
}

// pushDownMatches repeatedly swaps a $match stage past the stage before it
// when that stage cannot influence the match's outcome, moving filtering as
// early as possible in the pipeline.
func pushDownMatches(stages []*document.Doc) []*document.Doc {
	changed := true
	for changed {
		changed = false
		for i := 1; i < len(stages); i++ {
			op, _, ok := soleOperator(stages[i])
			if !ok || op != "$match" {
				continue
			}
			prevOp, prevArg, ok := soleOperator(stages[i-1])
			if !ok {
				continue
			}
			if canPushPast(prevOp, prevArg, stages[i]) {
				stages[i-1], stages[i] = stages[i], stages[i-1]
				changed = true
			}
		}
	}
	return stages
}

// canPushPast reports whether a $match stage may be swapped to run before
// the stage (prevOp, prevArg) that currently precedes it. $sort never
// changes which documents match. $addFields/$set is crossed only when no
// top-level key of the match shares its root field with a field the stage
// sets, and never when the match has a top-level operator such as $and or
// $or, whose nested conditions are not inspected. $project is never pushed
// past since dropped fields could silently turn a $match rule that used
// $exists into a false positive.
func canPushPast(prevOp string, prevArg document.Value, match *document.Doc) bool {
	switch prevOp {
	case "$sort":
		return true
	case "$addFields", "$set":
		return !matchReferencesAddedFields(prevArg, match)
	default:
		// $group, $limit, $skip, $unwind, $lookup, $facet, $project, and
		// anything else are never pushed past (spec.md §4.7).
		return false
	}
}

func addFieldsIsPassthroughOnly(arg document.Value) bool {
	if arg.Kind != document.KindDocument {
		return true
	}
	safe := true
	arg.Doc.Range(func(_ string, v document.Value) bool {
		if v.Kind != document.KindString {
			safe = false
			return false
		}
		return true
	})
	return safe
}

func matchReferencesAddedFields(addFieldsArg document.Value, match *document.Doc) bool {
	if addFieldsArg.Kind != document.KindDocument {
		return false
	}
	_, matchArg, ok := soleOperator(match)
	if !ok || matchArg.Kind != document.KindDocument {
		return false
	}
	overlap := false
	matchArg.Doc.Range(func(key string, _ document.Value) bool {
		addFieldsArg.Doc.Range(func(field string, _ document.Value) bool {
			overlap = strings.HasPrefix(key, "$") ||
				strings.SplitN(key, ".", 2)[0] == strings.SplitN(field, ".", 2)[0]
			return !overlap
		})
		return !overlap
	})
	return overlap
}

// mergeAdjacent fuses consecutive $match stages into one via $and, and fuses
// consecutive $addFields/$set stages (later keys override earlier ones,
// matching MongoDB's own left-to-right field evaluation). $project stages
// are never merged: an inclusion $project followed by an exclusion one (or
// vice versa) has no single-stage equivalent worth deriving here.
func mergeAdjacent(stages []*document.Doc) []*document.Doc {
	out := make([]*document.Doc, 0, len(stages))
	for _, s := range stages {
		if len(out) == 0 {
			out = append(out, s)
			continue
		}
		last := out[len(out)-1]
		lastOp, lastArg, lastOK := soleOperator(last)
		op, arg, ok := soleOperator(s)
		if lastOK && ok && lastOp == "$match" && op == "$match" {
			out[len(out)-1] = mergeMatches(lastArg, arg)
			continue
		}
		if lastOK && ok && (lastOp == "$addFields" || lastOp == "$set") && (op == "$addFields" || op == "$set") {
			out[len(out)-1] = mergeAddFields(lastOp, lastArg, arg)
			continue
		}
		out = append(out, s)
	}
	return out
}

func mergeMatches(a, b document.Value) *document.Doc {
	merged := document.NewDoc()
	and := document.ArrayOf(a, b)
	merged.Set("$and", and)
	d := document.NewDoc()
	d.Set("$match", document.DocumentOf(merged))
	return d
}

func mergeAddFields(op string, a, b document.Value) *document.Doc {
	merged := document.NewDoc()
	if a.Kind == document.KindDocument {
		a.Doc.Range(func(k string, v document.Value) bool {
			merged.Set(k, v)
			return true
		})
	}
	if b.Kind == document.KindDocument {
		b.Doc.Range(func(k string, v document.Value) bool {
			merged.Set(k, v)
			return true
		})
	}
	d := document.NewDoc()
	d.Set(op, document.DocumentOf(merged))
	return d
}

// dropRedundant removes stages that are provably no-ops: an empty $match,
// an empty $addFields/$set, or a $limit/$skip of zero-that-is-actually-skip
// (skip 0 is a no-op; limit 0 is NOT dropped, since it legitimately empties
// the result set and must still run).
func dropRedundant(stages []*document.Doc) []*document.Doc {
	out := make([]*document.Doc, 0, len(stages))
	for _, s := range stages {
		op, arg, ok := soleOperator(s)
		if !ok {
			out = append(out, s)
			continue
		}
		switch op {
		case "$match":
			if arg.Kind == document.KindDocument && arg.Doc.Len() == 0 {
				continue
			}
		case "$addFields", "$set":
			if arg.Kind == document.KindDocument && arg.Doc.Len() == 0 {
				continue
			}
		case "$skip":
			if n, ok := arg.AsFloat64(); ok && n == 0 {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}
