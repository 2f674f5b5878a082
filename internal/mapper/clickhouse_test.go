package mapper_test

import (
	"testing"
	"time"

	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/mapper"
	"github.com/stretchr/testify/require"
)

func TestRowToDocumentBasicTypes(t *testing.T) {
	cols := []mapper.Column{
		{Name: "id", Type: "UInt64"},
		{Name: "name", Type: "String"},
		{Name: "score", Type: "Float64"},
		{Name: "active", Type: "UInt8"},
		{Name: "created", Type: "DateTime"},
	}
	row := map[string]interface{}{
		"id":      float64(42),
		"name":    "ada",
		"score":   3.5,
		"active":  float64(1),
		"created": "2026-01-02 03:04:05",
	}
	d, err := mapper.RowToDocument(cols, row, mapper.Options{TreatUInt8AsBool: true})
	require.NoError(t, err)

	id, _ := d.Get("id")
	require.Equal(t, int64(42), id.Int64)
	active, _ := d.Get("active")
	require.Equal(t, document.KindBool, active.Kind)
	require.True(t, active.Bool)
	created, _ := d.Get("created")
	require.Equal(t, document.KindDate, created.Kind)
	require.Equal(t, 2026, created.Date.Year())
}

func TestRowToDocumentNullable(t *testing.T) {
	cols := []mapper.Column{{Name: "v", Type: "Nullable(Int32)"}}
	d, err := mapper.RowToDocument(cols, map[string]interface{}{"v": nil}, mapper.Options{})
	require.NoError(t, err)
	v, _ := d.Get("v")
	require.Equal(t, document.KindNull, v.Kind)
}

func TestRowToDocumentArray(t *testing.T) {
	cols := []mapper.Column{{Name: "tags", Type: "Array(String)"}}
	row := map[string]interface{}{"tags": []interface{}{"a", "b"}}
	d, err := mapper.RowToDocument(cols, row, mapper.Options{})
	require.NoError(t, err)
	tags, _ := d.Get("tags")
	require.Len(t, tags.Array, 2)
	require.Equal(t, "a", tags.Array[0].Str)
}

func TestRowToDocumentPreserveObjectID(t *testing.T) {
	oid := document.NewObjectID().Hex()
	cols := []mapper.Column{{Name: "_id", Type: "String"}}
	d, err := mapper.RowToDocument(cols, map[string]interface{}{"_id": oid}, mapper.Options{PreserveObjectID: true})
	require.NoError(t, err)
	id, _ := d.Get("_id")
	require.Equal(t, document.KindString, id.Kind)
	require.Equal(t, oid, id.Str)
}

func TestDocumentToRowRoundTripsThroughDateTime64(t *testing.T) {
	d := document.NewDoc()
	d.Set("ts", document.Date(time.Date(2026, 3, 4, 5, 6, 7, 250_000_000, time.UTC)))
	row := mapper.DocumentToRow(d)

	cols := []mapper.Column{{Name: "ts", Type: "DateTime64(3)"}}
	back, err := mapper.RowToDocument(cols, map[string]interface{}{"ts": row["ts"]}, mapper.Options{})
	require.NoError(t, err)
	ts, _ := back.Get("ts")
	require.Equal(t, 250, ts.Date.Nanosecond()/1_000_000)
}

func TestDocumentToRowBinaryBase64(t *testing.T) {
	d := document.NewDoc()
	d.Set("blob", document.BinaryOf(0, []byte{1, 2, 3}))
	row := mapper.DocumentToRow(d)
	s, ok := row["blob"].(string)
	require.True(t, ok)
	require.NotEmpty(t, s)
}

func TestInferValueHandlesNestedMap(t *testing.T) {
	v, err := mapper.InferValue(map[string]interface{}{"a": float64(1)}, mapper.Options{})
	require.NoError(t, err)
	require.Equal(t, document.KindDocument, v.Kind)
	a, _ := v.Doc.Get("a")
	require.Equal(t, float64(1), a.Float)
}

func TestRowToDocumentIncludeExcludeAndRename(t *testing.T) {
	cols := []mapper.Column{{Name: "secret", Type: "String"}, {Name: "public", Type: "String"}}
	row := map[string]interface{}{"secret": "s", "public": "p"}
	d, err := mapper.RowToDocument(cols, row, mapper.Options{
		Exclude: []string{"secret"},
		Renames: map[string]string{"public": "pub"},
	})
	require.NoError(t, err)
	require.False(t, d.Has("secret"))
	require.True(t, d.Has("pub"))
}
