package embedded_test

import (
	"context"
	"testing"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/stretchr/testify/require"
)

func TestListIndexesStartsWithImplicitIDIndex(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.CreateCollection(ctx, "db", "coll", nil))
	idx, err := b.ListIndexes(ctx, "db", "coll")
	require.NoError(t, err)
	require.Len(t, idx, 1)
	require.Equal(t, "_id_", idx[0].Name)
}

func TestCreateIndexesAppearsInListIndexes(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	err := b.CreateIndexes(ctx, "db", "coll", []backend.IndexSpec{{
		Keys:   []backend.IndexKey{{Field: "email", Direction: 1}},
		Unique: true,
	}})
	require.NoError(t, err)

	idx, err := b.ListIndexes(ctx, "db", "coll")
	require.NoError(t, err)
	require.Len(t, idx, 2)

	var found bool
	for _, spec := range idx {
		if spec.Name == "email_1" {
			found = true
			require.True(t, spec.Unique)
		}
	}
	require.True(t, found)
}

func TestDropIndexRemovesNamedIndex(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.CreateIndexes(ctx, "db", "coll", []backend.IndexSpec{{
		Keys: []backend.IndexKey{{Field: "sku", Direction: 1}},
	}}))
	idx, err := b.ListIndexes(ctx, "db", "coll")
	require.NoError(t, err)
	require.Len(t, idx, 2)

	require.NoError(t, b.DropIndex(ctx, "db", "coll", "sku_1"))
	idx, err = b.ListIndexes(ctx, "db", "coll")
	require.NoError(t, err)
	require.Len(t, idx, 1)
	require.Equal(t, "_id_", idx[0].Name)
}

func TestDropIndexRejectsIDIndex(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.CreateCollection(ctx, "db", "coll", nil))
	err := b.DropIndex(ctx, "db", "coll", "_id_")
	require.Error(t, err)
}

func TestDropAllIndexesExceptIDLeavesOnlyImplicitIndex(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.CreateIndexes(ctx, "db", "coll", []backend.IndexSpec{
		{Keys: []backend.IndexKey{{Field: "a", Direction: 1}}},
		{Keys: []backend.IndexKey{{Field: "b", Direction: -1}}},
	}))
	idx, err := b.ListIndexes(ctx, "db", "coll")
	require.NoError(t, err)
	require.Len(t, idx, 3)

	require.NoError(t, b.DropAllIndexesExceptID(ctx, "db", "coll"))
	idx, err = b.ListIndexes(ctx, "db", "coll")
	require.NoError(t, err)
	require.Len(t, idx, 1)
	require.Equal(t, "_id_", idx[0].Name)
}
