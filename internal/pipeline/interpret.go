package pipeline

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/dot-do/mondodb/internal/document"
)

// Interpret evaluates stages over input in order, implementing every stage
// of spec.md §4.8. Callers should run Optimize first (spec.md §4.7) and
// Validate before that (spec.md §4.10). A stage Validate accepts but this
// interpreter has no local evaluation for (such as $lookup, which needs a
// join Interpret cannot perform without access to another collection) is an
// error here rather than a silent passthrough: the router is responsible for
// sending those pipelines to a backend that can actually evaluate them, and
// a bug in that routing should surface as a failure, not a quietly wrong
// result.
func Interpret(stages []*document.Doc, input []*document.Doc) ([]*document.Doc, error) {
	docs := input
	for _, stage := range stages {
		op, arg, ok := soleOperator(stage)
		if !ok {
			continue
		}
		var err error
		docs, err = applyStage(op, arg, docs)
		if err != nil {
			return nil, fmt.Errorf("pipeline: stage %s: %w", op, err)
		}
	}
	return docs, nil
}

func soleOperator(stage *document.Doc) (string, document.Value, bool) {
	if stage == nil || stage.Len() != 1 {
		return "", document.Value{}, false
	}
	op := stage.Keys()[0]
	v, _ := stage.Get(op)
	return op, v, true
}

func applyStage(op string, arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	switch op {
	case "$match":
		return stageMatch(arg, docs)
	case "$project":
		return stageProject(arg, docs)
	case "$addFields", "$set":
		return stageAddFields(arg, docs)
	case "$unwind":
		return stageUnwind(arg, docs)
	case "$sort":
		return stageSort(arg, docs)
	case "$limit":
		return stageLimit(arg, docs)
	case "$skip":
		return stageSkip(arg, docs)
	case "$count":
		return stageCount(arg, docs)
	case "$sample":
		return stageSample(arg, docs)
	case "$group":
		return stageGroup(arg, docs)
	case "$skipAutoRoute":
		// No payload contract; presence alone is the signal, already spent
		// by the router before Interpret ever saw this pipeline.
		return docs, nil
	default:
		return nil, fmt.Errorf("stage %q has no local evaluation; it must be routed to a backend that can evaluate it", op)
	}
}

func stageMatch(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	if arg.Kind != document.KindDocument {
		return docs, nil
	}
	out := make([]*document.Doc, 0, len(docs))
	for _, d := range docs {
		if MatchFilter(arg.Doc, d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func stageProject(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	if arg.Kind != document.KindDocument {
		return docs, nil
	}
	inclusion, idExcluded := projectionMode(arg.Doc)
	out := make([]*document.Doc, 0, len(docs))
	for _, d := range docs {
		out = append(out, projectOne(arg.Doc, d, inclusion, idExcluded))
	}
	return out, nil
}

// projectionMode determines whether arg is inclusion-form (true) or
// exclusion-form (false); mixed polarity outside of "_id" is a validator-time
// error (spec.md §4.8) so by the time Interpret sees it, it is consistent.
func projectionMode(spec *document.Doc) (inclusion bool, idExcluded bool) {
	inclusion = true
	first := true
	spec.Range(func(k string, v document.Value) bool {
		truthy := isProjectionTruthy(v)
		if k == "_id" {
			idExcluded = !truthy
			return true
		}
		if first {
			inclusion = truthy
			first = false
		}
		return true
	})
	return inclusion, idExcluded
}

func isProjectionTruthy(v document.Value) bool {
	switch v.Kind {
	case document.KindBool:
		return v.Bool
	case document.KindInt64:
		return v.Int64 != 0
	case document.KindFloat64:
		return v.Float != 0
	default:
		return true
	}
}

func projectOne(spec *document.Doc, d *document.Doc, inclusion, idExcluded bool) *document.Doc {
	out := document.NewDoc()
	if inclusion {
		if !idExcluded {
			if v, ok := d.Get("_id"); ok {
				out.Set("_id", v)
			}
		}
		spec.Range(func(k string, _ document.Value) bool {
			if k == "_id" {
				return true
			}
			if v, ok := d.GetPath(k); ok {
				out.Set(k, v)
			}
			return true
		})
		return out
	}
	// Exclusion form: copy everything except the listed fields.
	excluded := make(map[string]bool)
	spec.Range(func(k string, _ document.Value) bool {
		if k != "_id" {
			excluded[k] = true
		}
		return true
	})
	d.Range(func(k string, v document.Value) bool {
		if !excluded[k] {
			out.Set(k, v)
		}
		return true
	})
	if idExcluded {
		out.Delete("_id")
	}
	return out
}

func stageAddFields(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	if arg.Kind != document.KindDocument {
		return docs, nil
	}
	out := make([]*document.Doc, 0, len(docs))
	for _, d := range docs {
		cp := d.Clone()
		arg.Doc.Range(func(k string, v document.Value) bool {
			cp.Set(k, evalAddFieldExpr(v, d))
			return true
		})
		out = append(out, cp)
	}
	return out, nil
}

// evalAddFieldExpr resolves "$field" path references inside an $addFields
// value; any other value (including literals and nested documents without a
// leading "$" string) passes through unchanged. Full aggregation expression
// evaluation ($concat, $add, etc.) is out of scope for this interpreter.
func evalAddFieldExpr(v document.Value, source *document.Doc) document.Value {
	if v.Kind == document.KindString && len(v.Str) > 1 && v.Str[0] == '$' {
		if resolved, ok := source.GetPath(v.Str[1:]); ok {
			return resolved
		}
		return document.Null()
	}
	return v
}

func stageUnwind(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	var path string
	preserveEmpty := false
	switch arg.Kind {
	case document.KindString:
		path = arg.Str
	case document.KindDocument:
		if p, ok := arg.Doc.Get("path"); ok && p.Kind == document.KindString {
			path = p.Str
		}
		if pv, ok := arg.Doc.Get("preserveNullAndEmptyArrays"); ok {
			preserveEmpty = pv.Kind == document.KindBool && pv.Bool
		}
	default:
		return docs, nil
	}
	if len(path) > 0 && path[0] == '$' {
		path = path[1:]
	}

	out := make([]*document.Doc, 0, len(docs))
	for _, d := range docs {
		v, ok := d.GetPath(path)
		if !ok || v.Kind != document.KindArray || len(v.Array) == 0 {
			if preserveEmpty {
				cp := d.Clone()
				out = append(out, cp)
			}
			continue
		}
		for _, elem := range v.Array {
			cp := d.Clone()
			cp.Set(path, elem)
			out = append(out, cp)
		}
	}
	return out, nil
}

func stageSort(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	if arg.Kind != document.KindDocument {
		return docs, nil
	}
	type sortKey struct {
		field string
		dir   int
	}
	var keys []sortKey
	arg.Doc.Range(func(k string, v document.Value) bool {
		dir := 1
		if n, ok := v.AsFloat64(); ok && n < 0 {
			dir = -1
		}
		keys = append(keys, sortKey{field: k, dir: dir})
		return true
	})

	out := append([]*document.Doc(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			vi, _ := out[i].GetPath(k.field)
			vj, _ := out[j].GetPath(k.field)
			c := document.Compare(vi, vj)
			if c != 0 {
				if k.dir < 0 {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
	return out, nil
}

func stageLimit(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	n, _ := arg.AsFloat64()
	limit := int(n)
	if limit < 0 || limit >= len(docs) {
		return docs, nil
	}
	return docs[:limit], nil
}

func stageSkip(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	n, _ := arg.AsFloat64()
	skip := int(n)
	if skip <= 0 {
		return docs, nil
	}
	if skip >= len(docs) {
		return nil, nil
	}
	return docs[skip:], nil
}

func stageCount(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	if arg.Kind != document.KindString || arg.Str == "" {
		return nil, fmt.Errorf("$count requires a non-empty field name")
	}
	out := document.NewDoc()
	out.Set(arg.Str, document.Int64(int64(len(docs))))
	return []*document.Doc{out}, nil
}

func stageSample(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	size := len(docs)
	if arg.Kind == document.KindDocument {
		if sv, ok := arg.Doc.Get("size"); ok {
			if n, ok := sv.AsFloat64(); ok {
				size = int(n)
			}
		}
	}
	shuffled := append([]*document.Doc(nil), docs...)
	// Fisher-Yates shuffle (spec.md §4.8 $sample).
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	if size < len(shuffled) {
		shuffled = shuffled[:size]
	}
	return shuffled, nil
}
