package router

import (
	"strings"

	"github.com/dot-do/mondodb/internal/document"
)

// filterSummary is the result of walking a filter document for the routing
// signals spec.md §4.5 names.
type filterSummary struct {
	hasIDLookup  bool
	isTimeRange  bool
	filterPresent bool
}

// analyzeFilter implements spec.md §4.5's hasIdLookup and isTimeRangeQuery
// analysis over a single filter document.
func analyzeFilter(filter *document.Doc, cfg Config) filterSummary {
	var s filterSummary
	if filter == nil || filter.Len() == 0 {
		return s
	}
	s.filterPresent = true
	filter.Range(func(key string, v document.Value) bool {
		if key == "_id" {
			s.hasIDLookup = s.hasIDLookup || isIDLookupCondition(v, cfg)
		}
		if cfg.TimestampFields[key] && hasRangeOperator(v) {
			s.isTimeRange = true
		}
		return true
	})
	return s
}

// isIDLookupCondition reports whether condition on "_id" counts as an
// id-lookup: direct equality, {$eq: ...}, or {$in: [<=N values]}.
func isIDLookupCondition(condition document.Value, cfg Config) bool {
	if condition.Kind != document.KindDocument {
		return true // bare equality
	}
	isOperatorDoc := true
	condition.Doc.Range(func(k string, _ document.Value) bool {
		if !strings.HasPrefix(k, "$") {
			isOperatorDoc = false
			return false
		}
		return true
	})
	if !isOperatorDoc {
		return true // nested-document equality against _id, still a direct lookup
	}
	if eqVal, ok := condition.Doc.Get("$eq"); ok {
		_ = eqVal
		return true
	}
	if inVal, ok := condition.Doc.Get("$in"); ok && inVal.Kind == document.KindArray {
		threshold := cfg.IDLookupInThreshold
		if threshold <= 0 {
			threshold = 100
		}
		return len(inVal.Array) <= threshold
	}
	return false
}

func hasRangeOperator(v document.Value) bool {
	if v.Kind != document.KindDocument {
		return false
	}
	has := false
	v.Doc.Range(func(op string, _ document.Value) bool {
		switch op {
		case "$gt", "$gte", "$lt", "$lte":
			has = true
			return false
		}
		return true
	})
	return has
}

// estimatedRows implements spec.md §4.5's estimate: id-lookup -> 1, else
// explicit limit, else filter-present heuristic 1000, else threshold+1
// (full-scan signal).
func estimatedRows(s filterSummary, limit int64, cfg Config) int64 {
	if s.hasIDLookup {
		return 1
	}
	if limit > 0 {
		return limit
	}
	if s.filterPresent {
		return 1000
	}
	return cfg.RowThreshold + 1
}

// pipelineAnalysis is the result of walking an aggregation pipeline for
// spec.md §4.5's pipeline-level routing signals.
type pipelineAnalysis struct {
	hasHeavyAggregation bool
	filterSummary       filterSummary
	smallestLimit       int64
	hasOLAPSignal       bool
	// requiresOLAP is set by stages this process cannot evaluate locally at
	// all (rather than merely preferring not to), so routing must send them
	// to OLAP unconditionally instead of weighing them against
	// PreferOLAPForAggregations like hasOLAPSignal does.
	requiresOLAP bool
}

// analyzePipeline walks each stage per spec.md §4.5: heavy stages flip
// hasHeavyAggregation, $match contributes filter analysis, $limit
// contributes the smallest seen limit, $sample above 1000 and $graphLookup
// add to the OLAP signal, and $lookup forces OLAP outright since this
// process cannot evaluate a join locally.
func analyzePipeline(stages []*document.Doc, cfg Config) pipelineAnalysis {
	pa := pipelineAnalysis{}
	for _, stage := range stages {
		if stage == nil || stage.Len() != 1 {
			continue
		}
		op := stage.Keys()[0]
		arg, _ := stage.Get(op)

		if heavyAggregationStages[op] {
			pa.hasHeavyAggregation = true
		}
		switch op {
		case "$match":
			if arg.Kind == document.KindDocument {
				fs := analyzeFilter(arg.Doc, cfg)
				pa.filterSummary.hasIDLookup = pa.filterSummary.hasIDLookup || fs.hasIDLookup
				pa.filterSummary.isTimeRange = pa.filterSummary.isTimeRange || fs.isTimeRange
				pa.filterSummary.filterPresent = pa.filterSummary.filterPresent || fs.filterPresent
			}
		case "$limit":
			if n, ok := arg.AsFloat64(); ok {
				limit := int64(n)
				if pa.smallestLimit == 0 || limit < pa.smallestLimit {
					pa.smallestLimit = limit
				}
			}
		case "$sample":
			if arg.Kind == document.KindDocument {
				if sv, ok := arg.Doc.Get("size"); ok {
					if n, ok := sv.AsFloat64(); ok && n > 1000 {
						pa.hasOLAPSignal = true
					}
				}
			}
		case "$lookup":
			// The local interpreter has no access to any collection but the
			// one it was handed, so it cannot join; the remote OLAP engine
			// evaluates the whole pipeline itself and can.
			pa.requiresOLAP = true
		case "$graphLookup":
			pa.hasOLAPSignal = true
		}
	}
	return pa
}
