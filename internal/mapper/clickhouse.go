// Package mapper implements the bidirectional ClickHouse-style columnar
// result mapper of spec.md §4.9, the point where internal/backend/proxy's
// HTTP responses cross from a relational columnar schema into the document
// model. DocumentToRow provides the document→columnar direction; the proxy
// backend does not call it. Grounded on the teacher's convertMGOToOfficial /
// convertOfficialToMGO pair in modern_utils.go, generalized from "one BSON
// dialect to another" to "document model to named-and-typed columnar row".
package mapper

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dot-do/mondodb/internal/document"
)

// Column is one result column's declared name and ClickHouse-shaped type
// string (e.g. "Nullable(DateTime64(3))", "Array(String)").
type Column struct {
	Name string
	Type string
}

// FieldMapper lets a caller override the conversion of one named field,
// taking priority over every built-in type rule.
type FieldMapper func(raw interface{}) (document.Value, error)

// Options configures the columnar-to-document direction (RowToDocument and
// its nested-value inference) per spec.md §4.9's "options beyond type
// hints". DocumentToRow takes no options.
type Options struct {
	PreserveObjectID      bool
	PreserveBinary        bool
	TreatUInt8AsBool      bool
	TreatTimestampAsDate  bool
	FieldMappers          map[string]FieldMapper
	Renames               map[string]string
	Include               []string
	Exclude               []string
}

func (o Options) included(name string) bool {
	if len(o.Include) > 0 {
		found := false
		for _, f := range o.Include {
			if f == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, f := range o.Exclude {
		if f == name {
			return false
		}
	}
	return true
}

func (o Options) outputName(name string) string {
	if renamed, ok := o.Renames[name]; ok {
		return renamed
	}
	return name
}

// RowToDocument converts one columnar row (column name -> raw decoded value,
// as produced by whatever JSON/native decoder reads the wire format) into a
// document.Doc, per spec.md §4.9's columnar-to-document direction.
func RowToDocument(cols []Column, row map[string]interface{}, opts Options) (*document.Doc, error) {
	out := document.NewDoc()
	for _, col := range cols {
		if !opts.included(col.Name) {
			continue
		}
		raw, present := row[col.Name]
		if !present {
			continue
		}
		var v document.Value
		var err error
		if fm, ok := opts.FieldMappers[col.Name]; ok {
			v, err = fm(raw)
		} else {
			v, err = columnValue(col.Type, raw, opts)
		}
		if err != nil {
			return nil, fmt.Errorf("mapper: column %q: %w", col.Name, err)
		}
		out.Set(opts.outputName(col.Name), v)
	}
	if opts.PreserveObjectID {
		rewriteObjectIDs(out)
	}
	return out, nil
}

// columnValue dispatches on the declared ClickHouse type string, peeling
// Nullable/LowCardinality wrappers first.
func columnValue(typ string, raw interface{}, opts Options) (document.Value, error) {
	if raw == nil {
		return document.Null(), nil
	}
	if inner, ok := unwrap(typ, "Nullable"); ok {
		return columnValue(inner, raw, opts)
	}
	if inner, ok := unwrap(typ, "LowCardinality"); ok {
		return columnValue(inner, raw, opts)
	}
	if inner, ok := unwrap(typ, "Array"); ok {
		arr, ok := raw.([]interface{})
		if !ok {
			return document.Value{}, fmt.Errorf("expected array for type %s", typ)
		}
		vals := make([]document.Value, len(arr))
		for i, elem := range arr {
			v, err := columnValue(inner, elem, opts)
			if err != nil {
				return document.Value{}, err
			}
			vals[i] = v
		}
		return document.ArrayOf(vals...), nil
	}
	if strings.HasPrefix(typ, "Tuple(") || strings.HasPrefix(typ, "Object(") {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return document.Value{}, fmt.Errorf("expected object for type %s", typ)
		}
		return mapToDocument(obj, opts)
	}

	switch {
	case isIntType(typ):
		return intColumnValue(raw)
	case strings.HasPrefix(typ, "Float"):
		return floatColumnValue(raw), nil
	case typ == "Bool" || (opts.TreatUInt8AsBool && typ == "UInt8"):
		return boolColumnValue(raw)
	case typ == "Date" || typ == "Date32":
		return dateColumnValue(raw, "2006-01-02")
	case strings.HasPrefix(typ, "DateTime64"):
		return dateTime64Value(raw)
	case typ == "DateTime" || (opts.TreatTimestampAsDate && isTimestampLike(typ)):
		return dateTimeValue(raw)
	case typ == "UUID":
		s, _ := raw.(string)
		return document.UUIDOf(s), nil
	case strings.HasPrefix(typ, "Decimal"):
		return decimalColumnValue(raw), nil
	case strings.HasPrefix(typ, "Enum8") || strings.HasPrefix(typ, "Enum16"):
		return stringColumnValue(raw), nil
	case typ == "String" || strings.HasPrefix(typ, "FixedString"):
		return stringLikeValue(raw, opts)
	default:
		return stringColumnValue(raw), nil
	}
}

func unwrap(typ, wrapper string) (string, bool) {
	prefix := wrapper + "("
	if strings.HasPrefix(typ, prefix) && strings.HasSuffix(typ, ")") {
		return typ[len(prefix) : len(typ)-1], true
	}
	return "", false
}

func isIntType(typ string) bool {
	switch {
	case strings.HasPrefix(typ, "UInt"), strings.HasPrefix(typ, "Int"):
		return true
	default:
		return false
	}
}

func intColumnValue(raw interface{}) (document.Value, error) {
	switch v := raw.(type) {
	case float64:
		return document.Int64(int64(v)), nil
	case int64:
		return document.Int64(v), nil
	case int:
		return document.Int64(int64(v)), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return document.Value{}, fmt.Errorf("not a base-10 integer: %q", v)
		}
		return document.Int64(n), nil
	default:
		return document.Value{}, fmt.Errorf("unsupported int representation %T", raw)
	}
}

func floatColumnValue(raw interface{}) document.Value {
	switch v := raw.(type) {
	case float64:
		return document.Float64(v)
	case int64:
		return document.Float64(float64(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return document.Float64(nan())
		}
		return document.Float64(f)
	default:
		return document.Float64(nan())
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func boolColumnValue(raw interface{}) (document.Value, error) {
	switch v := raw.(type) {
	case bool:
		return document.Bool(v), nil
	case float64:
		return document.Bool(v != 0), nil
	case int64:
		return document.Bool(v != 0), nil
	case string:
		switch strings.ToLower(v) {
		case "true", "1":
			return document.Bool(true), nil
		case "false", "0":
			return document.Bool(false), nil
		}
		return document.Value{}, fmt.Errorf("not a recognizable boolean: %q", v)
	default:
		return document.Value{}, fmt.Errorf("unsupported bool representation %T", raw)
	}
}

func dateColumnValue(raw interface{}, layout string) (document.Value, error) {
	s, ok := raw.(string)
	if !ok {
		return document.Value{}, fmt.Errorf("expected string date, got %T", raw)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return document.Value{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return document.Date(t), nil
}

// dateTimeValue parses ClickHouse's "YYYY-MM-DD HH:MM:SS[.sss]" DateTime
// form, appending "Z" when no zone is present, or accepts a unix-seconds
// number (spec.md §4.9).
func dateTimeValue(raw interface{}) (document.Value, error) {
	switch v := raw.(type) {
	case float64:
		return document.Date(time.Unix(int64(v), 0).UTC()), nil
	case int64:
		return document.Date(time.Unix(v, 0).UTC()), nil
	case string:
		s := v
		if !strings.HasSuffix(s, "Z") {
			s = strings.Replace(s, " ", "T", 1) + "Z"
		} else {
			s = strings.Replace(s, " ", "T", 1)
		}
		layout := "2006-01-02T15:04:05Z"
		if strings.Contains(s, ".") {
			layout = "2006-01-02T15:04:05.999999999Z"
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return document.Value{}, fmt.Errorf("bad datetime %q: %w", v, err)
		}
		return document.Date(t), nil
	default:
		return document.Value{}, fmt.Errorf("unsupported datetime representation %T", raw)
	}
}

// dateTime64Value parses DateTime64(p), preserving millisecond precision
// and truncating anything finer (spec.md §4.9).
func dateTime64Value(raw interface{}) (document.Value, error) {
	v, err := dateTimeValue(raw)
	if err != nil {
		return v, err
	}
	t := v.Date
	ms := t.Nanosecond() / 1e6
	truncated := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), ms*1e6, time.UTC)
	return document.Date(truncated), nil
}

func decimalColumnValue(raw interface{}) document.Value {
	switch v := raw.(type) {
	case string:
		return document.DecimalOf(v)
	case float64:
		return document.DecimalOf(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return document.DecimalOf(fmt.Sprintf("%v", raw))
	}
}

func stringColumnValue(raw interface{}) document.Value {
	if s, ok := raw.(string); ok {
		return document.String(s)
	}
	return document.String(fmt.Sprintf("%v", raw))
}

// stringLikeValue implements spec.md §4.9's String/FixedString(n) heuristic
// chain: preserveObjectId + 24-hex wins, then preserveBinary + base64-looking,
// then JSON-looking gets parsed as a nested object, otherwise plain string.
func stringLikeValue(raw interface{}, opts Options) (document.Value, error) {
	s, ok := raw.(string)
	if !ok {
		return document.String(fmt.Sprintf("%v", raw)), nil
	}
	if opts.PreserveObjectID && document.IsObjectIDHex(s) {
		if oid, err := document.ParseObjectIDHex(s); err == nil {
			// ObjectID values round-trip through KindString carrying the
			// canonical hex form (see document.ID.Value); re-lifting here
			// means normalizing to that canonical lowercase form rather than
			// switching Kind, since the model has no separate object-id kind.
			return document.String(oid.Hex()), nil
		}
	}
	if opts.PreserveBinary && looksBase64(s) {
		data, err := base64.StdEncoding.DecodeString(s)
		if err == nil {
			return document.BinaryOf(0, data), nil
		}
	}
	if looksJSON(s) {
		if doc, err := document.FromJSON([]byte(s)); err == nil {
			return document.DocumentOf(doc), nil
		}
	}
	return document.String(s), nil
}

func looksBase64(s string) bool {
	if len(s) == 0 || len(s)%4 != 0 {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

func looksJSON(s string) bool {
	t := strings.TrimSpace(s)
	return len(t) > 1 && (t[0] == '{' && t[len(t)-1] == '}')
}

func isTimestampLike(typ string) bool {
	return strings.HasPrefix(typ, "UInt32") || strings.HasPrefix(typ, "Int64")
}

func mapToDocument(obj map[string]interface{}, opts Options) (document.Value, error) {
	out := document.NewDoc()
	for k, raw := range obj {
		v, err := InferValue(raw, opts)
		if err != nil {
			return document.Value{}, err
		}
		out.Set(k, v)
	}
	return document.DocumentOf(out), nil
}

// InferValue handles the untyped case (Tuple/Object(JSON) members, and
// columnless values like a $distinct result, carry no per-field column
// metadata), picking the variant from the raw Go type the JSON decoder
// produced.
func InferValue(raw interface{}, opts Options) (document.Value, error) {
	switch v := raw.(type) {
	case nil:
		return document.Null(), nil
	case bool:
		return document.Bool(v), nil
	case float64:
		return document.Float64(v), nil
	case string:
		return stringLikeValue(v, opts)
	case []interface{}:
		vals := make([]document.Value, len(v))
		for i, e := range v {
			ev, err := InferValue(e, opts)
			if err != nil {
				return document.Value{}, err
			}
			vals[i] = ev
		}
		return document.ArrayOf(vals...), nil
	case map[string]interface{}:
		return mapToDocument(v, opts)
	default:
		return document.String(fmt.Sprintf("%v", v)), nil
	}
}

// rewriteObjectIDs recursively rewrites 24-hex strings inside nested
// documents and arrays into object-ids when preserveObjectId is set
// (spec.md §4.9).
func rewriteObjectIDs(d *document.Doc) {
	d.Range(func(k string, v document.Value) bool {
		d.Set(k, rewriteValue(v))
		return true
	})
}

func rewriteValue(v document.Value) document.Value {
	switch v.Kind {
	case document.KindString:
		if document.IsObjectIDHex(v.Str) {
			if oid, err := document.ParseObjectIDHex(v.Str); err == nil {
				return document.String(oid.Hex())
			}
		}
		return v
	case document.KindArray:
		for i, e := range v.Array {
			v.Array[i] = rewriteValue(e)
		}
		return v
	case document.KindDocument:
		rewriteObjectIDs(v.Doc)
		return v
	default:
		return v
	}
}

// DocumentToRow implements spec.md §4.9's document-to-columnar direction:
// object-ids render as hex strings, dates as ISO-8601, decimal/UUID/binary
// as their canonical string forms, arrays and nested documents recurse, and
// fields absent from the document are simply omitted from the output row.
func DocumentToRow(doc *document.Doc) map[string]interface{} {
	row := make(map[string]interface{}, doc.Len())
	doc.Range(func(k string, v document.Value) bool {
		row[k] = documentValueToColumnar(v)
		return true
	})
	return row
}

func documentValueToColumnar(v document.Value) interface{} {
	switch v.Kind {
	case document.KindNull:
		return nil
	case document.KindBool:
		return v.Bool
	case document.KindInt64:
		return v.Int64
	case document.KindFloat64:
		return v.Float
	case document.KindString:
		return v.Str
	case document.KindDate:
		return v.Date.UTC().Format(time.RFC3339Nano)
	case document.KindDecimal128:
		return v.Dec.Canonical
	case document.KindUUID:
		return v.UUID.Canonical
	case document.KindBinary:
		return base64.StdEncoding.EncodeToString(v.Bin.Data)
	case document.KindArray:
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			out[i] = documentValueToColumnar(e)
		}
		return out
	case document.KindDocument:
		return DocumentToRow(v.Doc)
	default:
		return nil
	}
}
