// Package router implements the query router of spec.md §4.5: the
// subsystem that picks OLTP or OLAP per call, the one piece of this system
// with no teacher analogue (the teacher always talks to exactly one
// mongod). Grounded in style on the teacher's ModernDB dispatch methods
// (modern_collection.go) — one small method per MongoDB verb — generalized
// so each method first decides an engine, then delegates.
package router

import (
	"context"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/document"
)

// heavyAggregationStages is the spec.md §2/§4.5 list of stages whose
// evaluation cost suggests columnar execution.
var heavyAggregationStages = map[string]bool{
	"$group": true, "$bucket": true, "$bucketAuto": true, "$facet": true,
	"$graphLookup": true, "$sortByCount": true, "$densify": true, "$fill": true,
}

// Config configures routing thresholds and behavior (spec.md §4.5).
type Config struct {
	RowThreshold             int64
	TimestampFields          map[string]bool
	AutoRoute                bool
	PreferOLAPForAggregations bool
	// IDLookupInThreshold bounds how large an $in array may be and still
	// count as an id-lookup (Open Question (b), exposed per SPEC_FULL.md).
	IDLookupInThreshold int
}

// DefaultConfig returns spec.md §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		RowThreshold: 10000,
		TimestampFields: map[string]bool{
			"_cdc_timestamp": true, "created_at": true, "updated_at": true, "timestamp": true,
		},
		AutoRoute:           true,
		IDLookupInThreshold: 100,
	}
}

// Router dispatches every backend.Backend operation to either oltp or olap,
// per the precedence rules of spec.md §4.5.
type Router struct {
	oltp backend.Backend
	olap backend.Backend
	cfg  Config
}

// New builds a Router. olap may be nil (rule 2: no OLAP available -> OLTP).
func New(oltp backend.Backend, olap backend.Backend, cfg Config) *Router {
	return &Router{oltp: oltp, olap: olap, cfg: cfg}
}

// chooseExplicit applies rule 1: an explicit override wins, falling back to
// OLTP silently if OLAP was requested but none is configured.
func (r *Router) chooseExplicit(requested backend.Engine) (backend.Backend, bool) {
	if requested == "" {
		return nil, false
	}
	if requested == backend.OLAP {
		if r.olap != nil {
			return r.olap, true
		}
		return r.oltp, true
	}
	return r.oltp, true
}

// pickUnconditional implements rules 2-4: writes, DDL, and index operations
// always go to OLTP, and so does everything else when OLAP is unavailable
// or auto-routing is off.
func (r *Router) pickUnconditional() backend.Backend {
	return r.oltp
}

func (r *Router) autoRoutingActive() bool {
	return r.olap != nil && r.cfg.AutoRoute
}

// pickForFind implements rule 5.
func (r *Router) pickForFind(filter *document.Doc, limit int64) backend.Backend {
	if b, ok := r.oltpOnlyFastPath(); ok {
		return b
	}
	c := analyzeFilter(filter, r.cfg)
	if c.hasIDLookup {
		return r.oltp
	}
	if c.isTimeRange {
		return r.olap
	}
	rows := estimatedRows(c, limit, r.cfg)
	if rows > r.cfg.RowThreshold {
		return r.olap
	}
	return r.oltp
}

// oltpOnlyFastPath reports (oltp, true) when routing should short-circuit to
// OLTP before any analysis: no OLAP configured, or auto-routing disabled.
func (r *Router) oltpOnlyFastPath() (backend.Backend, bool) {
	if !r.autoRoutingActive() {
		return r.oltp, true
	}
	return nil, false
}

// pickForAggregate implements rule 6. A $skipAutoRoute stage anywhere in the
// pipeline turns auto-routing off for this call, so it goes to OLTP.
func (r *Router) pickForAggregate(pipeline []*document.Doc) backend.Backend {
	if b, ok := r.oltpOnlyFastPath(); ok {
		return b
	}
	for _, stage := range pipeline {
		if stage != nil && stage.Len() == 1 && stage.Keys()[0] == "$skipAutoRoute" {
			return r.oltp
		}
	}
	pa := analyzePipeline(pipeline, r.cfg)
	if pa.hasHeavyAggregation || pa.requiresOLAP {
		return r.olap
	}
	if pa.filterSummary.hasIDLookup && estimatedRows(pa.filterSummary, pa.smallestLimit, r.cfg) <= 1 {
		return r.oltp
	}
	if pa.filterSummary.isTimeRange {
		return r.olap
	}
	rows := estimatedRows(pa.filterSummary, pa.smallestLimit, r.cfg)
	if rows > r.cfg.RowThreshold {
		return r.olap
	}
	if r.cfg.PreferOLAPForAggregations && pa.hasOLAPSignal {
		return r.olap
	}
	return r.oltp
}

// pickForScalar implements rule 7 (count/distinct): run the find analysis,
// escalating to OLAP purely on row-count, never on time-range, since a
// scalar result has no notion of "recent rows first".
func (r *Router) pickForScalar(filter *document.Doc) backend.Backend {
	if b, ok := r.oltpOnlyFastPath(); ok {
		return b
	}
	c := analyzeFilter(filter, r.cfg)
	rows := estimatedRows(c, 0, r.cfg)
	if rows > r.cfg.RowThreshold {
		return r.olap
	}
	return r.oltp
}

func (r *Router) Find(ctx context.Context, dbName, coll string, opts backend.FindOptions) (backend.FindResult, error) {
	b, ok := r.chooseExplicit(opts.Backend)
	if !ok {
		b = r.pickForFind(opts.Filter, opts.Limit)
	}
	return b.Find(ctx, dbName, coll, opts)
}

func (r *Router) Aggregate(ctx context.Context, dbName, coll string, opts backend.AggregateOptions) (backend.FindResult, error) {
	b, ok := r.chooseExplicit(opts.Backend)
	if !ok {
		b = r.pickForAggregate(opts.Pipeline)
	}
	return b.Aggregate(ctx, dbName, coll, opts)
}

func (r *Router) Count(ctx context.Context, dbName, coll string, filter *document.Doc) (int64, error) {
	return r.pickForScalar(filter).Count(ctx, dbName, coll, filter)
}

func (r *Router) Distinct(ctx context.Context, dbName, coll, field string, filter *document.Doc) ([]document.Value, error) {
	return r.pickForScalar(filter).Distinct(ctx, dbName, coll, field, filter)
}

// Writes, DDL, and index operations are unconditionally OLTP (rule 4).

func (r *Router) InsertOne(ctx context.Context, dbName, coll string, doc *document.Doc) (backend.WriteResult, error) {
	return r.pickUnconditional().InsertOne(ctx, dbName, coll, doc)
}

func (r *Router) InsertMany(ctx context.Context, dbName, coll string, docs []*document.Doc) (backend.WriteResult, error) {
	return r.pickUnconditional().InsertMany(ctx, dbName, coll, docs)
}

func (r *Router) UpdateOne(ctx context.Context, dbName, coll string, opts backend.UpdateOptions) (backend.WriteResult, error) {
	return r.pickUnconditional().UpdateOne(ctx, dbName, coll, opts)
}

func (r *Router) UpdateMany(ctx context.Context, dbName, coll string, opts backend.UpdateOptions) (backend.WriteResult, error) {
	return r.pickUnconditional().UpdateMany(ctx, dbName, coll, opts)
}

func (r *Router) DeleteOne(ctx context.Context, dbName, coll string, filter *document.Doc) (backend.WriteResult, error) {
	return r.pickUnconditional().DeleteOne(ctx, dbName, coll, filter)
}

func (r *Router) DeleteMany(ctx context.Context, dbName, coll string, filter *document.Doc) (backend.WriteResult, error) {
	return r.pickUnconditional().DeleteMany(ctx, dbName, coll, filter)
}

func (r *Router) CreateDatabase(ctx context.Context, dbName string) error {
	return r.pickUnconditional().CreateDatabase(ctx, dbName)
}

func (r *Router) DropDatabase(ctx context.Context, dbName string) error {
	return r.pickUnconditional().DropDatabase(ctx, dbName)
}

func (r *Router) DatabaseExists(ctx context.Context, dbName string) (bool, error) {
	return r.pickUnconditional().DatabaseExists(ctx, dbName)
}

func (r *Router) ListDatabases(ctx context.Context) ([]string, error) {
	return r.pickUnconditional().ListDatabases(ctx)
}

func (r *Router) ListCollections(ctx context.Context, dbName, nameFilter string) ([]backend.Collection, error) {
	return r.pickUnconditional().ListCollections(ctx, dbName, nameFilter)
}

func (r *Router) CreateCollection(ctx context.Context, dbName, coll string, options *document.Doc) error {
	return r.pickUnconditional().CreateCollection(ctx, dbName, coll, options)
}

func (r *Router) DropCollection(ctx context.Context, dbName, coll string) error {
	return r.pickUnconditional().DropCollection(ctx, dbName, coll)
}

func (r *Router) CollectionExists(ctx context.Context, dbName, coll string) (bool, error) {
	return r.pickUnconditional().CollectionExists(ctx, dbName, coll)
}

func (r *Router) CollStats(ctx context.Context, dbName, coll string) (backend.CollStats, error) {
	return r.pickUnconditional().CollStats(ctx, dbName, coll)
}

func (r *Router) DBStats(ctx context.Context, dbName string) (backend.DBStats, error) {
	return r.pickUnconditional().DBStats(ctx, dbName)
}

func (r *Router) ListIndexes(ctx context.Context, dbName, coll string) ([]backend.IndexSpec, error) {
	return r.pickUnconditional().ListIndexes(ctx, dbName, coll)
}

func (r *Router) CreateIndexes(ctx context.Context, dbName, coll string, specs []backend.IndexSpec) error {
	return r.pickUnconditional().CreateIndexes(ctx, dbName, coll, specs)
}

func (r *Router) DropIndex(ctx context.Context, dbName, coll, name string) error {
	return r.pickUnconditional().DropIndex(ctx, dbName, coll, name)
}

func (r *Router) DropAllIndexesExceptID(ctx context.Context, dbName, coll string) error {
	return r.pickUnconditional().DropAllIndexesExceptID(ctx, dbName, coll)
}

// Cursor delegation (spec.md §4.5's final paragraph): the router holds no
// cursors of its own.

func (r *Router) CreateCursor(ctx context.Context, namespace string, docs []*document.Doc, batchSize int) (backend.FindResult, error) {
	return r.oltp.CreateCursor(ctx, namespace, docs, batchSize)
}

func (r *Router) GetCursor(ctx context.Context, id int64) (backend.Cursor, bool) {
	if c, ok := r.oltp.GetCursor(ctx, id); ok {
		return c, true
	}
	if r.olap != nil {
		return r.olap.GetCursor(ctx, id)
	}
	return backend.Cursor{}, false
}

func (r *Router) AdvanceCursor(ctx context.Context, id int64, n int) (backend.FindResult, error) {
	if _, ok := r.oltp.GetCursor(ctx, id); ok {
		return r.oltp.AdvanceCursor(ctx, id, n)
	}
	if r.olap != nil {
		return r.olap.AdvanceCursor(ctx, id, n)
	}
	return r.oltp.AdvanceCursor(ctx, id, n)
}

func (r *Router) CloseCursor(ctx context.Context, id int64) bool {
	oltpClosed := r.oltp.CloseCursor(ctx, id)
	olapClosed := false
	if r.olap != nil {
		olapClosed = r.olap.CloseCursor(ctx, id)
	}
	return oltpClosed || olapClosed
}

func (r *Router) CleanupExpiredCursors(ctx context.Context) int {
	n := r.oltp.CleanupExpiredCursors(ctx)
	if r.olap != nil {
		n += r.olap.CleanupExpiredCursors(ctx)
	}
	return n
}
