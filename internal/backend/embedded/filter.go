package embedded

import (
	"strconv"
	"strings"

	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/merr"
)

// sqlFilter is a translated WHERE clause fragment plus its bound parameters,
// built by walking a document filter per spec.md §4.3.
type sqlFilter struct {
	clause string
	args   []interface{}
}

// buildFilter translates filter into a SQL WHERE clause. An empty filter
// (nil or zero keys) translates to "1=1".
func buildFilter(filter *document.Doc) (sqlFilter, error) {
	if filter == nil || filter.Len() == 0 {
		return sqlFilter{clause: "1=1"}, nil
	}
	var clauses []string
	var args []interface{}
	var err error
	filter.Range(func(key string, v document.Value) bool {
		var f sqlFilter
		f, err = buildFieldFilter(key, v)
		if err != nil {
			return false
		}
		clauses = append(clauses, f.clause)
		args = append(args, f.args...)
		return true
	})
	if err != nil {
		return sqlFilter{}, err
	}
	if len(clauses) == 0 {
		return sqlFilter{clause: "1=1"}, nil
	}
	return sqlFilter{clause: "(" + strings.Join(clauses, " AND ") + ")", args: args}, nil
}

func buildFieldFilter(key string, condition document.Value) (sqlFilter, error) {
	switch key {
	case "$and":
		return buildLogical(condition, " AND ")
	case "$or":
		return buildLogical(condition, " OR ")
	}

	if key == "_id" {
		return buildIDFilter(condition)
	}

	if err := document.ValidateFieldPath(key); err != nil {
		return sqlFilter{}, err
	}
	column := fieldColumn(key)

	if isOperatorDoc(condition) {
		return buildOperatorFilter(column, condition.Doc)
	}
	return sqlFilter{clause: column + " = ?", args: []interface{}{toSQLValue(condition)}}, nil
}

// fieldColumn renders the json_extract() expression for a validated field
// path. Dates are stored as {"$date": <millis>}, so the $date member is
// extracted when present and the field's own value otherwise.
func fieldColumn(path string) string {
	return "COALESCE(json_extract(data, '$." + path + ".\"$date\"'), json_extract(data, '$." + path + "'))"
}

func buildLogical(condition document.Value, joiner string) (sqlFilter, error) {
	if condition.Kind != document.KindArray {
		return sqlFilter{}, merr.New(merr.Validation, "logical operator requires an array of sub-filters")
	}
	var clauses []string
	var args []interface{}
	for _, sub := range condition.Array {
		if sub.Kind != document.KindDocument {
			return sqlFilter{}, merr.New(merr.Validation, "logical operator sub-filter must be an object")
		}
		f, err := buildFilter(sub.Doc)
		if err != nil {
			return sqlFilter{}, err
		}
		clauses = append(clauses, f.clause)
		args = append(args, f.args...)
	}
	if len(clauses) == 0 {
		return sqlFilter{clause: "1=1"}, nil
	}
	return sqlFilter{clause: "(" + strings.Join(clauses, joiner) + ")", args: args}, nil
}

func buildIDFilter(condition document.Value) (sqlFilter, error) {
	if isOperatorDoc(condition) {
		return buildOperatorFilter("documents._id", condition.Doc)
	}
	return sqlFilter{clause: "documents._id = ?", args: []interface{}{idString(condition)}}, nil
}

func isOperatorDoc(v document.Value) bool {
	if v.Kind != document.KindDocument || v.Doc == nil || v.Doc.Len() == 0 {
		return false
	}
	isOp := true
	v.Doc.Range(func(k string, _ document.Value) bool {
		if !strings.HasPrefix(k, "$") {
			isOp = false
			return false
		}
		return true
	})
	return isOp
}

func buildOperatorFilter(column string, ops *document.Doc) (sqlFilter, error) {
	var clauses []string
	var args []interface{}
	var err error
	ops.Range(func(op string, arg document.Value) bool {
		switch op {
		case "$eq":
			clauses = append(clauses, column+" = ?")
			args = append(args, toSQLValue(arg))
		case "$ne":
			clauses = append(clauses, "("+column+" IS NULL OR "+column+" != ?)")
			args = append(args, toSQLValue(arg))
		case "$gt":
			clauses = append(clauses, column+" > ?")
			args = append(args, toSQLValue(arg))
		case "$gte":
			clauses = append(clauses, column+" >= ?")
			args = append(args, toSQLValue(arg))
		case "$lt":
			clauses = append(clauses, column+" < ?")
			args = append(args, toSQLValue(arg))
		case "$lte":
			clauses = append(clauses, column+" <= ?")
			args = append(args, toSQLValue(arg))
		case "$exists":
			want := arg.Kind == document.KindBool && arg.Bool
			if want {
				clauses = append(clauses, column+" IS NOT NULL")
			} else {
				clauses = append(clauses, column+" IS NULL")
			}
		case "$in":
			if arg.Kind != document.KindArray {
				err = merr.New(merr.Validation, "$in requires an array")
				return false
			}
			placeholders := make([]string, len(arg.Array))
			for i, v := range arg.Array {
				placeholders[i] = "?"
				args = append(args, toSQLValue(v))
			}
			if len(placeholders) == 0 {
				clauses = append(clauses, "1=0")
			} else {
				clauses = append(clauses, column+" IN ("+strings.Join(placeholders, ",")+")")
			}
		case "$nin":
			if arg.Kind != document.KindArray {
				err = merr.New(merr.Validation, "$nin requires an array")
				return false
			}
			placeholders := make([]string, len(arg.Array))
			for i, v := range arg.Array {
				placeholders[i] = "?"
				args = append(args, toSQLValue(v))
			}
			if len(placeholders) == 0 {
				clauses = append(clauses, "1=1")
			} else {
				clauses = append(clauses, "("+column+" IS NULL OR "+column+" NOT IN ("+strings.Join(placeholders, ",")+"))")
			}
		default:
			err = merr.New(merr.Validation, "unsupported filter operator %q", op)
			return false
		}
		return true
	})
	if err != nil {
		return sqlFilter{}, err
	}
	if len(clauses) == 0 {
		return sqlFilter{clause: "1=1"}, nil
	}
	return sqlFilter{clause: "(" + strings.Join(clauses, " AND ") + ")", args: args}, nil
}

// toSQLValue coerces a document.Value into a SQL bind parameter; booleans
// are coerced to 0/1 per spec.md §4.3, and dates to Unix milliseconds.
func toSQLValue(v document.Value) interface{} {
	switch v.Kind {
	case document.KindDate:
		return v.Date.UnixMilli()
	case document.KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case document.KindInt64:
		return v.Int64
	case document.KindFloat64:
		return v.Float
	case document.KindString:
		return v.Str
	case document.KindNull:
		return nil
	default:
		b, err := document.ToJSON(wrapValue(v))
		if err != nil {
			return v.String()
		}
		return string(b)
	}
}

func wrapValue(v document.Value) *document.Doc {
	d := document.NewDoc()
	d.Set("v", v)
	return d
}

func idString(v document.Value) string {
	if v.Kind == document.KindString {
		return v.Str
	}
	return v.String()
}

// buildOrderBy translates sort fields into an ORDER BY clause per spec.md
// §4.3: "_id" sorts the column directly, every other field sorts its
// json_extract() projection.
func buildOrderBy(sort []sortField) (string, error) {
	if len(sort) == 0 {
		return "", nil
	}
	var parts []string
	for _, s := range sort {
		dir := "ASC"
		if s.Direction < 0 {
			dir = "DESC"
		}
		if s.Field == "_id" {
			parts = append(parts, "documents._id "+dir)
			continue
		}
		if err := document.ValidateFieldPath(s.Field); err != nil {
			return "", err
		}
		parts = append(parts, "json_extract(data, '$."+s.Field+"') "+dir)
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

// sortField is the package-local copy of backend.SortField that
// buildOrderBy takes; Find copies each backend.SortField into it.
type sortField struct {
	Field     string
	Direction int
}

func limitOffsetClause(limit, skip int64) string {
	clause := ""
	if limit > 0 {
		clause += " LIMIT " + strconv.FormatInt(limit, 10)
	} else if skip > 0 {
		clause += " LIMIT -1"
	}
	if skip > 0 {
		clause += " OFFSET " + strconv.FormatInt(skip, 10)
	}
	return clause
}
