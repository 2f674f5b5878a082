package embedded_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/backend/embedded"
	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/merr"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *embedded.Backend {
	t.Helper()
	b, err := embedded.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return b
}

func mustDoc(t *testing.T, pairs ...document.Pair) *document.Doc {
	t.Helper()
	d, err := document.NewDocFromPairs(pairs...)
	require.NoError(t, err)
	return d
}

func TestInsertOneThenFindRoundTrips(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	d := mustDoc(t, document.Pair{Key: "name", Value: document.String("ada")})
	res, err := b.InsertOne(ctx, "db", "people", d)
	require.NoError(t, err)
	require.True(t, res.Acknowledged)
	require.Equal(t, 1, res.InsertedCount)
	require.Len(t, res.InsertedIDs, 1)

	found, err := b.Find(ctx, "db", "people", backend.FindOptions{Filter: document.NewDoc(), BatchSize: 10})
	require.NoError(t, err)
	require.Len(t, found.Documents, 1)
	name, ok := found.Documents[0].Get("name")
	require.True(t, ok)
	require.Equal(t, "ada", name.Str)
}

func TestCountMatchesFindLength(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	docs := []*document.Doc{
		mustDoc(t, document.Pair{Key: "n", Value: document.Int64(1)}),
		mustDoc(t, document.Pair{Key: "n", Value: document.Int64(2)}),
		mustDoc(t, document.Pair{Key: "n", Value: document.Int64(3)}),
	}
	_, err := b.InsertMany(ctx, "db", "nums", docs)
	require.NoError(t, err)

	n, err := b.Count(ctx, "db", "nums", document.NewDoc())
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	found, err := b.Find(ctx, "db", "nums", backend.FindOptions{Filter: document.NewDoc(), BatchSize: 100})
	require.NoError(t, err)
	require.Len(t, found.Documents, int(n))
}

func TestInsertDuplicateIDRejected(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	d1 := mustDoc(t, document.Pair{Key: "_id", Value: document.String("abc")}, document.Pair{Key: "v", Value: document.Int64(1)})
	_, err := b.InsertOne(ctx, "db", "coll", d1)
	require.NoError(t, err)

	d2 := mustDoc(t, document.Pair{Key: "_id", Value: document.String("abc")}, document.Pair{Key: "v", Value: document.Int64(2)})
	_, err = b.InsertOne(ctx, "db", "coll", d2)
	require.Error(t, err)
	require.Equal(t, merr.Conflict, merr.KindOf(err))
}

func TestUpsertOnZeroMatchesSynthesizesFromFilter(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	filter := mustDoc(t, document.Pair{Key: "sku", Value: document.String("widget")})
	update := mustDoc(t, document.Pair{Key: "$set", Value: document.DocumentOf(
		mustDoc(t, document.Pair{Key: "price", Value: document.Int64(9)}),
	)})

	res, err := b.UpdateOne(ctx, "db", "stock", backend.UpdateOptions{Filter: filter, Update: update, Upsert: true})
	require.NoError(t, err)
	require.NotNil(t, res.UpsertedID)

	found, err := b.Find(ctx, "db", "stock", backend.FindOptions{Filter: document.NewDoc(), BatchSize: 10})
	require.NoError(t, err)
	require.Len(t, found.Documents, 1)
	sku, _ := found.Documents[0].Get("sku")
	require.Equal(t, "widget", sku.Str)
	price, _ := found.Documents[0].Get("price")
	require.Equal(t, int64(9), price.Int64)
}

func TestUpdateManyAppliesToAllMatches(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	docs := []*document.Doc{
		mustDoc(t, document.Pair{Key: "grp", Value: document.String("a")}, document.Pair{Key: "v", Value: document.Int64(1)}),
		mustDoc(t, document.Pair{Key: "grp", Value: document.String("a")}, document.Pair{Key: "v", Value: document.Int64(2)}),
		mustDoc(t, document.Pair{Key: "grp", Value: document.String("b")}, document.Pair{Key: "v", Value: document.Int64(3)}),
	}
	_, err := b.InsertMany(ctx, "db", "grouped", docs)
	require.NoError(t, err)

	filter := mustDoc(t, document.Pair{Key: "grp", Value: document.String("a")})
	update := mustDoc(t, document.Pair{Key: "$set", Value: document.DocumentOf(
		mustDoc(t, document.Pair{Key: "touched", Value: document.Bool(true)}),
	)})
	res, err := b.UpdateMany(ctx, "db", "grouped", backend.UpdateOptions{Filter: filter, Update: update})
	require.NoError(t, err)
	require.Equal(t, 2, res.MatchedCount)
	require.Equal(t, 2, res.ModifiedCount)
}

func TestDeleteOneRemovesSingleDocument(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	docs := []*document.Doc{
		mustDoc(t, document.Pair{Key: "v", Value: document.Int64(1)}),
		mustDoc(t, document.Pair{Key: "v", Value: document.Int64(1)}),
	}
	_, err := b.InsertMany(ctx, "db", "coll", docs)
	require.NoError(t, err)

	res, err := b.DeleteOne(ctx, "db", "coll", mustDoc(t, document.Pair{Key: "v", Value: document.Int64(1)}))
	require.NoError(t, err)
	require.Equal(t, 1, res.DeletedCount)

	n, err := b.Count(ctx, "db", "coll", document.NewDoc())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestDistinctDedupsValues(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	docs := []*document.Doc{
		mustDoc(t, document.Pair{Key: "color", Value: document.String("red")}),
		mustDoc(t, document.Pair{Key: "color", Value: document.String("red")}),
		mustDoc(t, document.Pair{Key: "color", Value: document.String("blue")}),
	}
	_, err := b.InsertMany(ctx, "db", "coll", docs)
	require.NoError(t, err)

	vals, err := b.Distinct(ctx, "db", "coll", "color", document.NewDoc())
	require.NoError(t, err)
	require.Len(t, vals, 2)
}

func TestFindOnMissingCollectionReturnsEmpty(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	res, err := b.Find(ctx, "db", "nope", backend.FindOptions{Filter: document.NewDoc()})
	require.NoError(t, err)
	require.Empty(t, res.Documents)
}
