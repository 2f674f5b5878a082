package wire

import (
	"fmt"

	"github.com/dot-do/mondodb/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DocFromBSON decodes a raw BSON command/filter document into the document
// model, lifting primitive.ObjectID to the canonical hex KindString per
// id.go's documented wire-boundary contract.
func DocFromBSON(raw bson.Raw) (*document.Doc, error) {
	elements, err := raw.Elements()
	if err != nil {
		return nil, err
	}
	d := document.NewDoc()
	for _, el := range elements {
		key := el.Key()
		v, err := valueFromBSON(el.Value())
		if err != nil {
			return nil, fmt.Errorf("wire: field %q: %w", key, err)
		}
		d.Set(key, v)
	}
	return d, nil
}

func valueFromBSON(rv bson.RawValue) (document.Value, error) {
	switch rv.Type {
	case bson.TypeNull, bson.TypeUndefined:
		return document.Null(), nil
	case bson.TypeBoolean:
		return document.Bool(rv.Boolean()), nil
	case bson.TypeInt32:
		return document.Int64(int64(rv.Int32())), nil
	case bson.TypeInt64:
		return document.Int64(rv.Int64()), nil
	case bson.TypeDouble:
		return document.Float64(rv.Double()), nil
	case bson.TypeString:
		return document.String(rv.StringValue()), nil
	case bson.TypeDateTime:
		return document.Date(rv.Time()), nil
	case bson.TypeObjectID:
		oid := rv.ObjectID()
		return document.String(oid.Hex()), nil
	case bson.TypeDecimal128:
		d128 := rv.Decimal128()
		return document.DecimalOf(d128.String()), nil
	case bson.TypeBinary:
		subtype, data := rv.Binary()
		if subtype == 0x04 {
			uid, err := uuidFromBytes(data)
			if err == nil {
				return document.UUIDOf(uid), nil
			}
		}
		return document.BinaryOf(subtype, data), nil
	case bson.TypeArray:
		elements, err := rv.Array().Elements()
		if err != nil {
			return document.Value{}, err
		}
		vals := make([]document.Value, 0, len(elements))
		for _, el := range elements {
			v, err := valueFromBSON(el.Value())
			if err != nil {
				return document.Value{}, err
			}
			vals = append(vals, v)
		}
		return document.ArrayOf(vals...), nil
	case bson.TypeEmbeddedDocument:
		sub, err := DocFromBSON(rv.Document())
		if err != nil {
			return document.Value{}, err
		}
		return document.DocumentOf(sub), nil
	default:
		return document.Value{}, fmt.Errorf("wire: unsupported BSON type %v", rv.Type)
	}
}

func uuidFromBytes(b []byte) (string, error) {
	if len(b) != 16 {
		return "", fmt.Errorf("wire: not a 16-byte uuid")
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}

// DocToBSON renders a document.Doc as an ordered bson.D, re-lowering any
// 24-hex string that was originally an ObjectID back to primitive.ObjectID
// only where the field is the reserved "_id" key; every other string stays a
// plain string, matching MongoDB's own behavior of never guessing.
func DocToBSON(d *document.Doc) bson.D {
	if d == nil {
		return bson.D{}
	}
	out := make(bson.D, 0, d.Len())
	d.Range(func(key string, v document.Value) bool {
		out = append(out, bson.E{Key: key, Value: valueToBSON(key, v)})
		return true
	})
	return out
}

func valueToBSON(key string, v document.Value) interface{} {
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
		if key == "_id" && document.IsObjectIDHex(v.Str) {
			oid, err := primitive.ObjectIDFromHex(v.Str)
			if err == nil {
				return oid
			}
		}
		return v.Str
	case document.KindDate:
		return primitive.NewDateTimeFromTime(v.Date)
	case document.KindDecimal128:
		dec, err := primitive.ParseDecimal128(v.Dec.Canonical)
		if err == nil {
			return dec
		}
		return v.Dec.Canonical
	case document.KindBinary:
		return primitive.Binary{Subtype: v.Bin.Subtype, Data: v.Bin.Data}
	case document.KindUUID:
		return v.UUID.Canonical
	case document.KindArray:
		arr := make(bson.A, len(v.Array))
		for i, e := range v.Array {
			arr[i] = valueToBSON("", e)
		}
		return arr
	case document.KindDocument:
		return DocToBSON(v.Doc)
	default:
		return nil
	}
}
