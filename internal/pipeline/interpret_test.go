package pipeline_test

import (
	"testing"

	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func stage(op string, arg document.Value) *document.Doc {
	return doc(document.Pair{Key: op, Value: arg})
}

func sampleDocs() []*document.Doc {
	return []*document.Doc{
		doc(document.Pair{Key: "_id", Value: document.Int64(1)}, document.Pair{Key: "category", Value: document.String("a")}, document.Pair{Key: "amount", Value: document.Int64(10)}),
		doc(document.Pair{Key: "_id", Value: document.Int64(2)}, document.Pair{Key: "category", Value: document.String("a")}, document.Pair{Key: "amount", Value: document.Int64(5)}),
		doc(document.Pair{Key: "_id", Value: document.Int64(3)}, document.Pair{Key: "category", Value: document.String("b")}, document.Pair{Key: "amount", Value: document.Int64(7)}),
	}
}

func TestInterpretMatchThenSort(t *testing.T) {
	stages := []*document.Doc{
		stage("$match", document.DocumentOf(doc(document.Pair{Key: "category", Value: document.String("a")}))),
		stage("$sort", document.DocumentOf(doc(document.Pair{Key: "amount", Value: document.Int64(1)}))),
	}
	out, err := pipeline.Interpret(stages, sampleDocs())
	require.NoError(t, err)
	require.Len(t, out, 2)
	first, _ := out[0].Get("amount")
	require.Equal(t, int64(5), first.Int64)
}

func TestInterpretLimitAndSkip(t *testing.T) {
	stages := []*document.Doc{
		stage("$skip", document.Int64(1)),
		stage("$limit", document.Int64(1)),
	}
	out, err := pipeline.Interpret(stages, sampleDocs())
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestInterpretCount(t *testing.T) {
	stages := []*document.Doc{stage("$count", document.String("total"))}
	out, err := pipeline.Interpret(stages, sampleDocs())
	require.NoError(t, err)
	require.Len(t, out, 1)
	v, ok := out[0].Get("total")
	require.True(t, ok)
	require.Equal(t, int64(3), v.Int64)
}

func TestInterpretGroupSumByField(t *testing.T) {
	groupArg := document.DocumentOf(doc(
		document.Pair{Key: "_id", Value: document.String("$category")},
		document.Pair{Key: "total", Value: document.DocumentOf(doc(document.Pair{Key: "$sum", Value: document.String("$amount")}))},
	))
	out, err := pipeline.Interpret([]*document.Doc{stage("$group", groupArg)}, sampleDocs())
	require.NoError(t, err)
	require.Len(t, out, 2)

	totals := map[string]int64{}
	for _, d := range out {
		id, _ := d.Get("_id")
		total, _ := d.Get("total")
		totals[id.Str] = total.Int64
	}
	require.Equal(t, int64(15), totals["a"])
	require.Equal(t, int64(7), totals["b"])
}

func TestInterpretLookupErrorsRatherThanPassingThrough(t *testing.T) {
	lookupArg := document.DocumentOf(doc(
		document.Pair{Key: "from", Value: document.String("orders")},
		document.Pair{Key: "localField", Value: document.String("_id")},
		document.Pair{Key: "foreignField", Value: document.String("customerId")},
		document.Pair{Key: "as", Value: document.String("orders")},
	))
	_, err := pipeline.Interpret([]*document.Doc{stage("$lookup", lookupArg)}, sampleDocs())
	require.Error(t, err)
}

func TestInterpretSkipAutoRouteIsNoOp(t *testing.T) {
	out, err := pipeline.Interpret([]*document.Doc{stage("$skipAutoRoute", document.Bool(true))}, sampleDocs())
	require.NoError(t, err)
	require.Len(t, out, len(sampleDocs()))
}

// optimize(pipeline) must never change the observable result of interpreting
// it, matching spec.md §8's equivalence-preservation law.
func TestOptimizePreservesInterpretResult(t *testing.T) {
	stages := []*document.Doc{
		stage("$match", document.DocumentOf(doc(document.Pair{Key: "category", Value: document.String("a")}))),
		stage("$addFields", document.DocumentOf(doc(document.Pair{Key: "doubled", Value: document.Int64(1)}))),
		stage("$sort", document.DocumentOf(doc(document.Pair{Key: "amount", Value: document.Int64(-1)}))),
	}
	direct, err := pipeline.Interpret(stages, sampleDocs())
	require.NoError(t, err)

	optimized := pipeline.Optimize(stages)
	viaOptimize, err := pipeline.Interpret(optimized, sampleDocs())
	require.NoError(t, err)

	require.Equal(t, len(direct), len(viaOptimize))
	for i := range direct {
		da, _ := direct[i].Get("_id")
		db, _ := viaOptimize[i].Get("_id")
		require.Equal(t, da.Int64, db.Int64)
	}
}
