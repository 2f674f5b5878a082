package pipeline

import (
	"fmt"

	"github.com/dot-do/mondodb/internal/document"
)

// Issue is one validator finding, carrying the JSON-pointer-style path of
// the offending value and a stable code a client can branch on (spec.md
// §4.10). Errors reject the pipeline outright; Warnings pass through with
// the pipeline still accepted.
type Issue struct {
	Path    string
	Code    string
	Message string
}

// Result is the outcome of Validate: Errors non-empty means the pipeline
// must be rejected before it ever reaches Optimize or Interpret.
type Result struct {
	Errors   []Issue
	Warnings []Issue
}

func (r *Result) addError(path, code, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(path, code, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a raw, wire-decoded pipeline value against spec.md §4.10's
// per-stage contracts: array-of-single-key-documents shape at the top, then
// operator-specific requirements, performing light coercions (string "10" to
// integer 10 for $limit/$skip, string sort directions to their numeric form)
// in place so a pipeline that passes validation is ready for Optimize.
func Validate(raw document.Value) ([]*document.Doc, *Result) {
	res := &Result{}
	if raw.Kind != document.KindArray {
		res.addError("/", "pipeline-not-array", "pipeline must be an array of stages")
		return nil, res
	}

	stages := make([]*document.Doc, 0, len(raw.Array))
	for i, stage := range raw.Array {
		path := fmt.Sprintf("/%d", i)
		if stage.Kind != document.KindDocument {
			res.addError(path, "stage-not-object", "pipeline stage must be an object")
			continue
		}
		if stage.Doc.Len() != 1 {
			res.addError(path, "stage-multi-key", "pipeline stage must have exactly one operator key")
			continue
		}
		op := stage.Doc.Keys()[0]
		arg, _ := stage.Doc.Get(op)
		validateStage(res, path+"/"+op, op, arg, stage.Doc)
		stages = append(stages, stage.Doc)
	}

	if len(stages) >= 2 {
		if op, _, ok := soleOperator(stages[len(stages)-1]); ok && op == "$match" {
			res.addWarning("/"+fmt.Sprint(len(stages)-1), "trailing-match",
				"a pipeline ending in $match may be cheaper expressed as a filter before aggregation")
		}
	}

	if len(res.Errors) > 0 {
		return nil, res
	}
	return stages, res
}

func validateStage(res *Result, path, op string, arg document.Value, stage *document.Doc) {
	switch op {
	case "$match":
		if arg.Kind != document.KindDocument {
			res.addError(path, "match-not-object", "$match requires an object")
		}
	case "$project":
		if arg.Kind != document.KindDocument {
			res.addError(path, "project-not-object", "$project requires an object")
			return
		}
		validateProjectionPolarity(res, path, arg)
	case "$addFields", "$set":
		if arg.Kind != document.KindDocument {
			res.addError(path, "addfields-not-object", "$addFields requires an object")
		}
	case "$unwind":
		validateUnwind(res, path, arg)
	case "$sort":
		validateSort(res, path, arg)
	case "$limit":
		validateNonNegativeInt(res, path, arg, "$limit", stage, op)
	case "$skip":
		validateNonNegativeInt(res, path, arg, "$skip", stage, op)
	case "$count":
		if arg.Kind != document.KindString || arg.Str == "" {
			res.addError(path, "count-bad-field", "$count requires a non-empty string field name")
		}
	case "$sample":
		validateSample(res, path, arg)
	case "$group":
		validateGroup(res, path, arg)
	case "$lookup":
		validateLookup(res, path, arg)
	case "$vectorSearch":
		validateVectorSearch(res, path, arg)
	case "$skipAutoRoute":
		// No payload contract; presence alone is the signal (spec.md §4.5
		// rule 3).
	case "$bucket", "$bucketAuto", "$facet", "$graphLookup", "$sortByCount", "$densify", "$fill":
		validateHeavyStageShape(res, path, op, arg)
	default:
		res.addError(path, "unknown-stage", "unrecognized pipeline stage %q", op)
	}
}

// validateHeavyStageShape checks the one thing every heavy aggregation stage
// (spec.md §4.5's hasHeavyAggregation set, minus $group which has its own
// validator above) has in common: an object argument. These stages are
// columnar-engine territory — the router sends them to OLAP rather than this
// process interpreting them, so validation only needs to keep obviously
// malformed pipelines from reaching the backend at all, not reproduce each
// stage's full accumulator/expression grammar.
func validateHeavyStageShape(res *Result, path, op string, arg document.Value) {
	if arg.Kind != document.KindDocument {
		res.addError(path, "heavy-stage-not-object", "%s requires an object", op)
	}
}

func validateProjectionPolarity(res *Result, path string, arg document.Value) {
	sawInclude, sawExclude := false, false
	arg.Doc.Range(func(k string, v document.Value) bool {
		if k == "_id" {
			return true
		}
		if isProjectionTruthy(v) {
			sawInclude = true
		} else {
			sawExclude = true
		}
		return true
	})
	if sawInclude && sawExclude {
		res.addError(path, "project-mixed-polarity", "$project cannot mix inclusion and exclusion outside of _id")
	}
}

func validateUnwind(res *Result, path string, arg document.Value) {
	switch arg.Kind {
	case document.KindString:
		if len(arg.Str) == 0 || arg.Str[0] != '$' {
			res.addError(path, "unwind-bad-path", "$unwind string form must begin with \"$\"")
		}
	case document.KindDocument:
		p, ok := arg.Doc.Get("path")
		if !ok || p.Kind != document.KindString || len(p.Str) == 0 || p.Str[0] != '$' {
			res.addError(path, "unwind-bad-path", "$unwind object form requires a \"path\" string beginning with \"$\"")
		}
		if _, ok := arg.Doc.Get("preserveNullAndEmptyArrays"); !ok {
			res.addWarning(path, "unwind-no-preserve", "preserveNullAndEmptyArrays not set; documents with an empty or missing array are dropped")
		}
	default:
		res.addError(path, "unwind-bad-type", "$unwind requires a string or object")
	}
}

func validateSort(res *Result, path string, arg document.Value) {
	if arg.Kind != document.KindDocument {
		res.addError(path, "sort-not-object", "$sort requires an object")
		return
	}
	arg.Doc.Range(func(k string, v document.Value) bool {
		coerced, ok := coerceSortDirection(v)
		if !ok {
			res.addError(path+"/"+k, "sort-bad-direction", "$sort direction must be 1, -1, or a string/meta equivalent")
			return true
		}
		arg.Doc.Set(k, coerced)
		return true
	})
}

func coerceSortDirection(v document.Value) (document.Value, bool) {
	switch v.Kind {
	case document.KindInt64:
		if v.Int64 == 1 || v.Int64 == -1 {
			return v, true
		}
	case document.KindFloat64:
		if v.Float == 1 || v.Float == -1 {
			return document.Int64(int64(v.Float)), true
		}
	case document.KindString:
		switch v.Str {
		case "1", "asc", "ascending":
			return document.Int64(1), true
		case "-1", "desc", "descending":
			return document.Int64(-1), true
		}
	}
	return document.Value{}, false
}

func validateNonNegativeInt(res *Result, path string, arg document.Value, label string, stage *document.Doc, key string) {
	n, ok := coerceInt(arg)
	if !ok {
		res.addError(path, "bad-int", "%s requires an integer or numeric string", label)
		return
	}
	if n < 0 {
		res.addError(path, "negative-int", "%s must not be negative", label)
		return
	}
	stage.Set(key, document.Int64(n))
	if label == "$limit" && n >= 100000 {
		res.addWarning(path, "large-limit", "%s of %d may be expensive; consider a smaller batch with cursors", label, n)
	}
}

// coerceInt implements spec.md §4.10's "string '10' to integer 10" coercion
// for $limit/$skip/$sample size arguments.
func coerceInt(v document.Value) (int64, bool) {
	switch v.Kind {
	case document.KindInt64:
		return v.Int64, true
	case document.KindFloat64:
		return int64(v.Float), true
	case document.KindString:
		if !isIntegerLiteral(v.Str) {
			return 0, false
		}
		var n int64
		neg := false
		s := v.Str
		if len(s) > 0 && s[0] == '-' {
			neg = true
			s = s[1:]
		}
		for _, c := range s {
			if c < '0' || c > '9' {
				return 0, false
			}
			n = n*10 + int64(c-'0')
		}
		if neg {
			n = -n
		}
		return n, true
	default:
		return 0, false
	}
}

func validateSample(res *Result, path string, arg document.Value) {
	if arg.Kind != document.KindDocument {
		res.addError(path, "sample-not-object", "$sample requires an object")
		return
	}
	sv, ok := arg.Doc.Get("size")
	if !ok {
		res.addError(path, "sample-no-size", "$sample requires a \"size\" field")
		return
	}
	n, ok := coerceInt(sv)
	if !ok || n <= 0 {
		res.addError(path+"/size", "sample-bad-size", "$sample size must be a positive integer")
	}
}

func validateGroup(res *Result, path string, arg document.Value) {
	if arg.Kind != document.KindDocument {
		res.addError(path, "group-not-object", "$group requires an object")
		return
	}
	if _, ok := arg.Doc.Get("_id"); !ok {
		res.addError(path, "group-no-id", "$group requires an \"_id\" field")
	}
}

func validateLookup(res *Result, path string, arg document.Value) {
	if arg.Kind != document.KindDocument {
		res.addError(path, "lookup-not-object", "$lookup requires an object")
		return
	}
	from, hasFrom := arg.Doc.Get("from")
	if !hasFrom || from.Kind != document.KindString || from.Str == "" {
		res.addError(path, "lookup-no-from", "$lookup requires a non-empty \"from\" collection name")
	}
	as, hasAs := arg.Doc.Get("as")
	if !hasAs || as.Kind != document.KindString || as.Str == "" {
		res.addError(path, "lookup-no-as", "$lookup requires a non-empty \"as\" output field name")
	}
	_, hasPipeline := arg.Doc.Get("pipeline")
	_, hasLocal := arg.Doc.Get("localField")
	_, hasForeign := arg.Doc.Get("foreignField")
	if !hasPipeline && !(hasLocal && hasForeign) {
		res.addError(path, "lookup-no-join", "$lookup requires either \"pipeline\" or both \"localField\" and \"foreignField\"")
	}
}

func validateVectorSearch(res *Result, path string, arg document.Value) {
	if arg.Kind != document.KindDocument {
		res.addError(path, "vectorsearch-not-object", "$vectorSearch requires an object")
		return
	}
	for _, field := range []string{"index", "path", "queryVector", "numCandidates", "limit"} {
		if _, ok := arg.Doc.Get(field); !ok {
			res.addError(path, "vectorsearch-missing-field", "$vectorSearch requires %q", field)
		}
	}
}
