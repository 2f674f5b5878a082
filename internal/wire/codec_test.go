package wire_test

import (
	"testing"
	"time"

	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/wire"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDocFromBSONDecodesScalarKinds(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.M{
		"_id":    oid,
		"name":   "ada",
		"age":    int32(30),
		"score":  1.5,
		"active": true,
		"tags":   bson.A{"a", "b"},
		"nested": bson.M{"x": int64(1)},
	})
	require.NoError(t, err)

	d, err := wire.DocFromBSON(raw)
	require.NoError(t, err)

	id, ok := d.Get("_id")
	require.True(t, ok)
	require.Equal(t, document.KindString, id.Kind)
	require.Equal(t, oid.Hex(), id.Str)

	age, _ := d.Get("age")
	require.Equal(t, int64(30), age.Int64)

	active, _ := d.Get("active")
	require.True(t, active.Bool)

	tags, _ := d.Get("tags")
	require.Len(t, tags.Array, 2)

	nested, _ := d.Get("nested")
	require.Equal(t, document.KindDocument, nested.Kind)
	x, _ := nested.Doc.Get("x")
	require.Equal(t, int64(1), x.Int64)
}

func TestDocToBSONRelowersIDFieldToObjectID(t *testing.T) {
	oid := primitive.NewObjectID()
	d := document.NewDoc()
	d.Set("_id", document.String(oid.Hex()))
	d.Set("label", document.String(oid.Hex())) // same hex, non-_id field

	out := wire.DocToBSON(d)
	var decoded bson.M
	raw, err := bson.Marshal(out)
	require.NoError(t, err)
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	require.IsType(t, primitive.ObjectID{}, decoded["_id"])
	require.Equal(t, oid, decoded["_id"])
	require.IsType(t, "", decoded["label"])
}

func TestDocToBSONFromBSONRoundTripsDate(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := document.NewDoc()
	d.Set("ts", document.Date(ts))

	bsonD := wire.DocToBSON(d)
	raw, err := bson.Marshal(bsonD)
	require.NoError(t, err)

	back, err := wire.DocFromBSON(raw)
	require.NoError(t, err)
	v, ok := back.Get("ts")
	require.True(t, ok)
	require.Equal(t, document.KindDate, v.Kind)
	require.True(t, ts.Equal(v.Date))
}

func TestDocToBSONEncodesBinaryAndArray(t *testing.T) {
	d := document.NewDoc()
	d.Set("blob", document.BinaryOf(0, []byte{1, 2, 3}))
	d.Set("list", document.ArrayOf(document.Int64(1), document.String("x")))

	bsonD := wire.DocToBSON(d)
	raw, err := bson.Marshal(bsonD)
	require.NoError(t, err)

	back, err := wire.DocFromBSON(raw)
	require.NoError(t, err)
	blob, ok := back.Get("blob")
	require.True(t, ok)
	require.Equal(t, document.KindBinary, blob.Kind)
	require.Equal(t, []byte{1, 2, 3}, blob.Bin.Data)

	list, _ := back.Get("list")
	require.Len(t, list.Array, 2)
}
