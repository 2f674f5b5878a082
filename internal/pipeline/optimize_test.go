package pipeline_test

import (
	"testing"

	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestOptimizeMergesAdjacentMatches(t *testing.T) {
	stages := []*document.Doc{
		stage("$match", document.DocumentOf(doc(document.Pair{Key: "a", Value: document.Int64(1)}))),
		stage("$match", document.DocumentOf(doc(document.Pair{Key: "b", Value: document.Int64(2)}))),
	}
	out := pipeline.Optimize(stages)
	require.Len(t, out, 1)
	arg, _ := out[0].Get("$match")
	require.Equal(t, document.KindDocument, arg.Kind)
	_, hasAnd := arg.Doc.Get("$and")
	require.True(t, hasAnd)
}

func TestOptimizeNeverMergesProject(t *testing.T) {
	stages := []*document.Doc{
		stage("$project", document.DocumentOf(doc(document.Pair{Key: "a", Value: document.Int64(1)}))),
		stage("$project", document.DocumentOf(doc(document.Pair{Key: "b", Value: document.Int64(1)}))),
	}
	out := pipeline.Optimize(stages)
	require.Len(t, out, 2)
}

func TestOptimizePushesMatchPastSort(t *testing.T) {
	stages := []*document.Doc{
		stage("$sort", document.DocumentOf(doc(document.Pair{Key: "x", Value: document.Int64(1)}))),
		stage("$match", document.DocumentOf(doc(document.Pair{Key: "a", Value: document.Int64(1)}))),
	}
	out := pipeline.Optimize(stages)
	require.Len(t, out, 2)
	first, _ := out[0].Get("$match")
	require.Equal(t, document.KindDocument, first.Kind)
}

func TestOptimizeNeverPushesMatchPastGroup(t *testing.T) {
	groupArg := document.DocumentOf(doc(document.Pair{Key: "_id", Value: document.Null()}))
	stages := []*document.Doc{
		stage("$group", groupArg),
		stage("$match", document.DocumentOf(doc(document.Pair{Key: "a", Value: document.Int64(1)}))),
	}
	out := pipeline.Optimize(stages)
	require.Len(t, out, 2)
	_, firstIsGroup := out[0].Get("$group")
	require.True(t, firstIsGroup)
}

func TestOptimizeDropsZeroSkipButKeepsZeroLimit(t *testing.T) {
	stages := []*document.Doc{
		stage("$skip", document.Int64(0)),
		stage("$limit", document.Int64(0)),
	}
	out := pipeline.Optimize(stages)
	require.Len(t, out, 1)
	_, hasLimit := out[0].Get("$limit")
	require.True(t, hasLimit)
}

func TestOptimizeDropsEmptyMatch(t *testing.T) {
	stages := []*document.Doc{
		stage("$match", document.DocumentOf(document.NewDoc())),
		stage("$limit", document.Int64(5)),
	}
	out := pipeline.Optimize(stages)
	require.Len(t, out, 1)
}
