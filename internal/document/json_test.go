package document_test

import (
	"testing"
	"time"

	"github.com/dot-do/mondodb/internal/document"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTripScalarKinds(t *testing.T) {
	d := document.NewDoc()
	d.Set("name", document.String("ada"))
	d.Set("age", document.Int64(36))
	d.Set("score", document.Float64(98.6))
	d.Set("active", document.Bool(true))
	d.Set("missing", document.Null())
	d.Set("created", document.Date(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	d.Set("amount", document.DecimalOf("19.99"))
	d.Set("token", document.UUIDOf("550e8400-e29b-41d4-a716-446655440000"))
	d.Set("tags", document.ArrayOf(document.String("a"), document.String("b")))

	raw, err := document.ToJSON(d)
	require.NoError(t, err)

	back, err := document.FromJSON(raw)
	require.NoError(t, err)

	require.Equal(t, d.Keys(), back.Keys())
	for _, k := range d.Keys() {
		want, _ := d.Get(k)
		got, _ := back.Get(k)
		require.True(t, document.Equal(want, got), "field %q: %v != %v", k, want, got)
	}
}

func TestJSONRoundTripNestedDocument(t *testing.T) {
	inner := document.NewDoc()
	inner.Set("city", document.String("nyc"))
	outer := document.NewDoc()
	outer.Set("address", document.DocumentOf(inner))

	raw, err := document.ToJSON(outer)
	require.NoError(t, err)

	back, err := document.FromJSON(raw)
	require.NoError(t, err)

	addr, ok := back.Get("address")
	require.True(t, ok)
	require.Equal(t, document.KindDocument, addr.Kind)
	city, ok := addr.Doc.Get("city")
	require.True(t, ok)
	require.Equal(t, "nyc", city.Str)
}

func TestFromJSONRejectsMalformed(t *testing.T) {
	_, err := document.FromJSON([]byte(`{"a": `))
	require.Error(t, err)
}
