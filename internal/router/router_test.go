package router_test

import (
	"context"
	"testing"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/router"
	"github.com/stretchr/testify/require"
)

// recordingBackend is a minimal backend.Backend stub that records which
// engine-specific method got called, letting tests assert routing decisions
// without standing up a real OLTP/OLAP pair.
type recordingBackend struct {
	backend.Backend
	name  string
	calls *[]string
}

func (r *recordingBackend) Find(ctx context.Context, db, coll string, opts backend.FindOptions) (backend.FindResult, error) {
	*r.calls = append(*r.calls, r.name+":Find")
	return backend.FindResult{}, nil
}

func (r *recordingBackend) Aggregate(ctx context.Context, db, coll string, opts backend.AggregateOptions) (backend.FindResult, error) {
	*r.calls = append(*r.calls, r.name+":Aggregate")
	return backend.FindResult{}, nil
}

func (r *recordingBackend) InsertOne(ctx context.Context, db, coll string, d *document.Doc) (backend.WriteResult, error) {
	*r.calls = append(*r.calls, r.name+":InsertOne")
	return backend.WriteResult{}, nil
}

func (r *recordingBackend) Count(ctx context.Context, db, coll string, filter *document.Doc) (int64, error) {
	*r.calls = append(*r.calls, r.name+":Count")
	return 0, nil
}

func newPair() (oltp, olap *recordingBackend, calls *[]string) {
	calls = &[]string{}
	return &recordingBackend{name: "oltp", calls: calls}, &recordingBackend{name: "olap", calls: calls}, calls
}

func TestWritesAlwaysRouteToOLTP(t *testing.T) {
	oltp, olap, calls := newPair()
	cfg := router.DefaultConfig()
	r := router.New(oltp, olap, cfg)

	_, err := r.InsertOne(context.Background(), "db", "coll", document.NewDoc())
	require.NoError(t, err)
	require.Equal(t, []string{"oltp:InsertOne"}, *calls)
}

func TestNoOLAPConfiguredAlwaysRoutesOLTP(t *testing.T) {
	oltp, _, calls := newPair()
	cfg := router.DefaultConfig()
	r := router.New(oltp, nil, cfg)

	filter, _ := document.NewDocFromPairs(document.Pair{Key: "_id", Value: document.Int64(1)})
	_, err := r.Find(context.Background(), "db", "coll", backend.FindOptions{Filter: filter})
	require.NoError(t, err)
	require.Equal(t, []string{"oltp:Find"}, *calls)
}

func TestIDLookupFindRoutesOLTPEvenWithOLAPAvailable(t *testing.T) {
	oltp, _, calls := newPair()
	olap := &recordingBackend{name: "olap", calls: calls}
	cfg := router.DefaultConfig()
	r := router.New(oltp, olap, cfg)

	filter, _ := document.NewDocFromPairs(document.Pair{Key: "_id", Value: document.Int64(1)})
	_, err := r.Find(context.Background(), "db", "coll", backend.FindOptions{Filter: filter})
	require.NoError(t, err)
	require.Equal(t, []string{"oltp:Find"}, *calls)
}

func TestFullScanAboveThresholdRoutesOLAP(t *testing.T) {
	oltp, olap, calls := newPair()
	cfg := router.DefaultConfig()
	cfg.RowThreshold = 10
	r := router.New(oltp, olap, cfg)

	_, err := r.Find(context.Background(), "db", "coll", backend.FindOptions{Filter: document.NewDoc()})
	require.NoError(t, err)
	require.Equal(t, []string{"olap:Find"}, *calls)
}

func TestExplicitBackendOverrideWins(t *testing.T) {
	oltp, olap, calls := newPair()
	cfg := router.DefaultConfig()
	cfg.RowThreshold = 1
	r := router.New(oltp, olap, cfg)

	_, err := r.Find(context.Background(), "db", "coll", backend.FindOptions{Filter: document.NewDoc(), Backend: backend.OLTP})
	require.NoError(t, err)
	require.Equal(t, []string{"oltp:Find"}, *calls)
}

func TestHeavyAggregationStageRoutesOLAP(t *testing.T) {
	oltp, olap, calls := newPair()
	cfg := router.DefaultConfig()
	r := router.New(oltp, olap, cfg)

	groupStage, _ := document.NewDocFromPairs(document.Pair{Key: "$group", Value: document.DocumentOf(document.NewDoc())})
	_, err := r.Aggregate(context.Background(), "db", "coll", backend.AggregateOptions{Pipeline: []*document.Doc{groupStage}})
	require.NoError(t, err)
	require.Equal(t, []string{"olap:Aggregate"}, *calls)
}

func TestEachHeavyAggregationStageRoutesOLAP(t *testing.T) {
	for _, op := range []string{"$bucket", "$bucketAuto", "$facet", "$graphLookup", "$sortByCount", "$densify", "$fill"} {
		t.Run(op, func(t *testing.T) {
			oltp, olap, calls := newPair()
			cfg := router.DefaultConfig()
			r := router.New(oltp, olap, cfg)

			stage, _ := document.NewDocFromPairs(document.Pair{Key: op, Value: document.DocumentOf(document.NewDoc())})
			_, err := r.Aggregate(context.Background(), "db", "coll", backend.AggregateOptions{Pipeline: []*document.Doc{stage}})
			require.NoError(t, err)
			require.Equal(t, []string{"olap:Aggregate"}, *calls)
		})
	}
}

func TestLookupStageRoutesOLAPRegardlessOfPreferOLAPForAggregations(t *testing.T) {
	oltp, olap, calls := newPair()
	cfg := router.DefaultConfig()
	cfg.PreferOLAPForAggregations = false
	r := router.New(oltp, olap, cfg)

	lookupStage, _ := document.NewDocFromPairs(document.Pair{Key: "$lookup", Value: document.DocumentOf(document.NewDoc())})
	_, err := r.Aggregate(context.Background(), "db", "coll", backend.AggregateOptions{Pipeline: []*document.Doc{lookupStage}})
	require.NoError(t, err)
	require.Equal(t, []string{"olap:Aggregate"}, *calls)
}

func TestScalarRoutingEscalatesOnlyOnRowCount(t *testing.T) {
	oltp, olap, calls := newPair()
	cfg := router.DefaultConfig()
	cfg.RowThreshold = 10
	r := router.New(oltp, olap, cfg)

	_, err := r.Count(context.Background(), "db", "coll", document.NewDoc())
	require.NoError(t, err)
	require.Equal(t, []string{"olap:Count"}, *calls)
}
