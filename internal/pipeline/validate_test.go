package pipeline_test

import (
	"testing"

	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormedPipeline(t *testing.T) {
	raw := document.ArrayOf(
		document.DocumentOf(stage("$match", document.DocumentOf(doc(document.Pair{Key: "a", Value: document.Int64(1)})))),
		document.DocumentOf(stage("$limit", document.Int64(10))),
	)
	stages, res := pipeline.Validate(raw)
	require.Empty(t, res.Errors)
	require.Len(t, stages, 2)
}

func TestValidateRejectsNonArrayPipeline(t *testing.T) {
	_, res := pipeline.Validate(document.DocumentOf(document.NewDoc()))
	require.NotEmpty(t, res.Errors)
}

func TestValidateRejectsUnknownStage(t *testing.T) {
	raw := document.ArrayOf(document.DocumentOf(stage("$bogus", document.Int64(1))))
	_, res := pipeline.Validate(raw)
	require.NotEmpty(t, res.Errors)
}

func TestValidateRejectsMultiKeyStage(t *testing.T) {
	bad, err := document.NewDocFromPairs(
		document.Pair{Key: "$match", Value: document.DocumentOf(document.NewDoc())},
		document.Pair{Key: "$limit", Value: document.Int64(1)},
	)
	require.NoError(t, err)
	raw := document.ArrayOf(document.DocumentOf(bad))
	_, res := pipeline.Validate(raw)
	require.NotEmpty(t, res.Errors)
}

func TestValidateGroupRequiresID(t *testing.T) {
	groupArg := document.DocumentOf(doc(document.Pair{Key: "total", Value: document.DocumentOf(doc(document.Pair{Key: "$sum", Value: document.Int64(1)}))}))
	raw := document.ArrayOf(document.DocumentOf(stage("$group", groupArg)))
	_, res := pipeline.Validate(raw)
	require.NotEmpty(t, res.Errors)
}

func TestValidateAcceptsHeavyAggregationStages(t *testing.T) {
	for _, op := range []string{"$bucket", "$bucketAuto", "$facet", "$graphLookup", "$sortByCount", "$densify", "$fill"} {
		raw := document.ArrayOf(document.DocumentOf(stage(op, document.DocumentOf(document.NewDoc()))))
		stages, res := pipeline.Validate(raw)
		require.Emptyf(t, res.Errors, "%s: %v", op, res.Errors)
		require.Len(t, stages, 1)
	}
}

func TestValidateRejectsNonObjectHeavyAggregationStage(t *testing.T) {
	raw := document.ArrayOf(document.DocumentOf(stage("$facet", document.Int64(1))))
	_, res := pipeline.Validate(raw)
	require.NotEmpty(t, res.Errors)
}

func TestValidateCoercesStringLimitToInt(t *testing.T) {
	raw := document.ArrayOf(document.DocumentOf(stage("$limit", document.String("5"))))
	stages, res := pipeline.Validate(raw)
	require.Empty(t, res.Errors)
	arg, _ := stages[0].Get("$limit")
	require.Equal(t, document.KindInt64, arg.Kind)
	require.Equal(t, int64(5), arg.Int64)
}
