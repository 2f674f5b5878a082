package document

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Canonical on-disk JSON encoding used by the embedded SQL backend's
// `documents.data` blob (spec.md §4.3). Rich types that have no native JSON
// representation are wrapped in a single-key object so the round trip
// insert(d); findOne(...) == d (spec.md §8) is lossless: dates become
// {"$date": <millis>}, decimal128 becomes {"$decimal": "<canonical>"},
// binary becomes {"$binary": {"subtype": n, "data": "<base64>"}}, UUID
// becomes {"$uuid": "<canonical>"}. ObjectIDs are KindString values and are
// written as plain hex strings; FromJSON also accepts {"$oid": "<hex>"} and
// reads it back as a plain string. Plain strings, numbers, bools, arrays,
// and nested documents round-trip through their natural JSON shapes.
//
// Date millis (rather than an ISO-8601 string) keeps the embedded backend's
// json_extract()-based range comparisons a plain numeric comparison (see
// internal/backend/embedded/filter.go) instead of relying on string
// padding/lexical tricks.

// ToJSON renders d as the canonical on-disk JSON document.
func ToJSON(d *Doc) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	var buf []byte
	buf = append(buf, '{')
	first := true
	var err error
	d.Range(func(k string, v Value) bool {
		if !first {
			buf = append(buf, ',')
		}
		first = false
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		var vb []byte
		vb, err = valueToJSON(v)
		buf = append(buf, vb...)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	buf = append(buf, '}')
	return buf, nil
}

func valueToJSON(v Value) ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.Bool {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindInt64:
		return json.Marshal(v.Int64)
	case KindFloat64:
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	case KindDate:
		return json.Marshal(map[string]int64{"$date": v.Date.UnixMilli()})
	case KindDecimal128:
		return json.Marshal(map[string]string{"$decimal": v.Dec.Canonical})
	case KindBinary:
		return json.Marshal(map[string]interface{}{
			"$binary": map[string]interface{}{
				"subtype": v.Bin.Subtype,
				"data":    base64.StdEncoding.EncodeToString(v.Bin.Data),
			},
		})
	case KindUUID:
		return json.Marshal(map[string]string{"$uuid": v.UUID.Canonical})
	case KindArray:
		var buf []byte
		buf = append(buf, '[')
		for i, e := range v.Array {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := valueToJSON(e)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	case KindDocument:
		return ToJSON(v.Doc)
	default:
		return nil, fmt.Errorf("document: unknown kind %v", v.Kind)
	}
}

// FromJSON parses the canonical on-disk JSON document back into a Doc,
// reversing the wrapper encoding used by ToJSON.
func FromJSON(data []byte) (*Doc, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	// encoding/json maps don't preserve order; recover the original
	// insertion order by scanning the raw bytes for key positions.
	order := keyOrder(data)
	d := NewDoc()
	for _, k := range order {
		rm, ok := raw[k]
		if !ok {
			continue
		}
		v, err := valueFromJSON(rm)
		if err != nil {
			return nil, err
		}
		d.Set(k, v)
	}
	return d, nil
}

// keyOrder performs a minimal top-level scan of a JSON object's source bytes
// to recover key insertion order, since encoding/json's map decoding does not
// preserve it.
func keyOrder(data []byte) []string {
	var keys []string
	depth := 0
	inStr := false
	esc := false
	var cur []byte
	expectKey := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inStr {
			if esc {
				esc = false
				cur = append(cur, c)
				continue
			}
			if c == '\\' {
				esc = true
				continue
			}
			if c == '"' {
				inStr = false
				if expectKey && depth == 1 {
					var key string
					_ = json.Unmarshal(append([]byte{'"'}, append(cur, '"')...), &key)
					keys = append(keys, key)
				}
				cur = nil
				continue
			}
			cur = append(cur, c)
			continue
		}
		switch c {
		case '"':
			inStr = true
			expectKey = depth == 1
		case '{':
			depth++
		case '}':
			depth--
		case '[':
			depth++
		case ']':
			depth--
		}
	}
	return keys
}

func millisToTime(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}

func numberFromJSON(raw json.RawMessage) (Value, error) {
	s := string(raw)
	var i int64
	if err := json.Unmarshal(raw, &i); err == nil && isIntegerLiteral(s) {
		return Int64(i), nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return Value{}, err
	}
	return Float64(f), nil
}

func isIntegerLiteral(s string) bool {
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'E' {
			return false
		}
	}
	return true
}

func valueFromJSON(raw json.RawMessage) (Value, error) {
	trimmed := trimSpace(raw)
	if len(trimmed) == 0 {
		return Null(), nil
	}
	switch trimmed[0] {
	case 'n':
		return Null(), nil
	case 't':
		return Bool(true), nil
	case 'f':
		return Bool(false), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return String(s), nil
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return Value{}, err
		}
		vs := make([]Value, len(arr))
		for i, e := range arr {
			v, err := valueFromJSON(e)
			if err != nil {
				return Value{}, err
			}
			vs[i] = v
		}
		return ArrayOf(vs...), nil
	case '{':
		return objectFromJSON(raw)
	default:
		return numberFromJSON(raw)
	}
}

func objectFromJSON(raw json.RawMessage) (Value, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Value{}, err
	}
	if len(probe) == 1 {
		if rm, ok := probe["$date"]; ok {
			var millis int64
			if err := json.Unmarshal(rm, &millis); err == nil {
				return Date(millisToTime(millis)), nil
			}
		}
		if rm, ok := probe["$decimal"]; ok {
			var s string
			if err := json.Unmarshal(rm, &s); err == nil {
				return DecimalOf(s), nil
			}
		}
		if rm, ok := probe["$uuid"]; ok {
			var s string
			if err := json.Unmarshal(rm, &s); err == nil {
				return UUIDOf(s), nil
			}
		}
		if rm, ok := probe["$oid"]; ok {
			var s string
			if err := json.Unmarshal(rm, &s); err == nil {
				return String(s), nil
			}
		}
		if rm, ok := probe["$binary"]; ok {
			var bw struct {
				Subtype byte   `json:"subtype"`
				Data    string `json:"data"`
			}
			if err := json.Unmarshal(rm, &bw); err == nil {
				data, derr := base64.StdEncoding.DecodeString(bw.Data)
				if derr == nil {
					return BinaryOf(bw.Subtype, data), nil
				}
			}
		}
	}
	d, err := FromJSON(raw)
	if err != nil {
		return Value{}, err
	}
	return DocumentOf(d), nil
}

func trimSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}
