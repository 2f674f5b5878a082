// Package document implements the tagged-union document value model of
// spec.md §3: an ordered string-keyed mapping whose values are drawn from a
// closed sum type. This replaces the teacher's bson.M / officialBson.M
// structural maps and primitive.ObjectID/DateTime wrapper types (see
// modern_utils.go's convertMGOToOfficial/convertOfficialToMGO) with a single
// explicit variant type that every component (wire decoder, SQL JSON codec,
// ClickHouse mapper) constructs directly instead of inferring structurally.
package document

import (
	"fmt"
	"time"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindDate
	KindDecimal128
	KindBinary
	KindUUID
	KindArray
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindDecimal128:
		return "decimal128"
	case KindBinary:
		return "binary"
	case KindUUID:
		return "uuid"
	case KindArray:
		return "array"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Decimal128 preserves a high-precision decimal as its canonical string form.
// spec.md §3 requires the value to round-trip losslessly; Go has no native
// 128-bit decimal, so the canonical string IS the representation, never
// parsed into a float along the way.
type Decimal128 struct {
	Canonical string
}

// Binary is an opaque byte payload, optionally carrying a BSON-style subtype.
type Binary struct {
	Subtype byte
	Data    []byte
}

// UUID preserves a UUID's canonical string form.
type UUID struct {
	Canonical string
}

// Value is the closed sum type described in spec.md §3. Exactly one of the
// typed fields is meaningful, selected by Kind; callers must switch on Kind
// rather than probe the fields structurally.
type Value struct {
	Kind   Kind
	Bool   bool
	Int64  int64
	Float  float64
	Str    string
	Date   time.Time
	Dec    Decimal128
	Bin    Binary
	UUID   UUID
	Array  []Value
	Doc    *Doc
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Int64(i int64) Value         { return Value{Kind: KindInt64, Int64: i} }
func Float64(f float64) Value     { return Value{Kind: KindFloat64, Float: f} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Date(t time.Time) Value      { return Value{Kind: KindDate, Date: t.UTC()} }
func DecimalOf(s string) Value    { return Value{Kind: KindDecimal128, Dec: Decimal128{Canonical: s}} }
func BinaryOf(subtype byte, data []byte) Value {
	return Value{Kind: KindBinary, Bin: Binary{Subtype: subtype, Data: data}}
}
func UUIDOf(canonical string) Value { return Value{Kind: KindUUID, UUID: UUID{Canonical: canonical}} }
func ArrayOf(vs ...Value) Value     { return Value{Kind: KindArray, Array: vs} }
func DocumentOf(d *Doc) Value       { return Value{Kind: KindDocument, Doc: d} }

// IsNullish reports whether the value is Null or the Go zero Value (field
// absent from a document). The embedded backend's InsertMany uses it to
// treat a null _id as absent.
func (v Value) IsNullish() bool {
	return v.Kind == KindNull
}

// IsNumeric reports whether the value participates in numeric accumulators.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInt64 || v.Kind == KindFloat64
}

// AsFloat64 coerces a numeric Value to float64; ok is false for non-numerics.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindInt64:
		return float64(v.Int64), true
	case KindFloat64:
		return v.Float, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindInt64:
		return fmt.Sprintf("%d", v.Int64)
	case KindFloat64:
		return fmt.Sprintf("%v", v.Float)
	case KindString:
		return v.Str
	case KindDate:
		return v.Date.Format(time.RFC3339Nano)
	case KindDecimal128:
		return v.Dec.Canonical
	case KindBinary:
		return fmt.Sprintf("binary(%d bytes)", len(v.Bin.Data))
	case KindUUID:
		return v.UUID.Canonical
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.Array))
	case KindDocument:
		return "document"
	default:
		return "?"
	}
}
