// Package backend defines the MondoBackend contract of spec.md §4.2: the
// uniform operation set the wire layer and the query router consume,
// implemented concretely by internal/backend/embedded and
// internal/backend/proxy. This is the Go rendering of spec.md §9's "duck
// typed backend interface" REDESIGN FLAG — a closed capability set (the
// Backend interface below) rather than structural typing, grounded on the
// teacher's own ModernColl/ModernDB split (modern_types.go) generalized from
// "one concrete driver" to "any of several concrete engines".
package backend

import (
	"context"

	"github.com/dot-do/mondodb/internal/document"
)

// Engine names the concrete backend kind, used by routing decisions
// (spec.md §3 "Routing decision").
type Engine string

const (
	OLTP Engine = "oltp"
	OLAP Engine = "olap"
)

// Collection is the spec.md §3 Collection attributes.
type Collection struct {
	Name    string
	Options *document.Doc
}

// IndexSpec is the spec.md §3 index specification.
type IndexSpec struct {
	// Keys maps field paths to sort direction (1 or -1) or "text"/"2dsphere".
	Keys   []IndexKey
	Unique bool
	Sparse bool
	Name   string
}

// IndexKey is one field/direction pair of an IndexSpec, kept ordered because
// compound index key order is semantically meaningful.
type IndexKey struct {
	Field     string
	Direction interface{} // int (1/-1) or string ("text", "2dsphere")
}

// SynthesizeName builds the MongoDB-style auto-generated index name
// ("field_1_other_-1") when IndexSpec.Name is empty (spec.md §3).
func (s IndexSpec) SynthesizeName() string {
	if s.Name != "" {
		return s.Name
	}
	name := ""
	for i, k := range s.Keys {
		if i > 0 {
			name += "_"
		}
		name += k.Field + "_" + dirSuffix(k.Direction)
	}
	return name
}

func dirSuffix(dir interface{}) string {
	switch v := dir.(type) {
	case int:
		if v < 0 {
			return "-1"
		}
		return "1"
	case string:
		return v
	default:
		return "1"
	}
}

// FindOptions configures a Find call.
type FindOptions struct {
	Filter     *document.Doc
	Sort       []SortField
	Limit      int64
	Skip       int64
	Projection *document.Doc
	BatchSize  int
	// Backend explicitly overrides routing (spec.md §4.5 rule 1). Empty
	// means "let the router decide".
	Backend Engine
}

// SortField is one field of a sort specification, direction +1/-1.
type SortField struct {
	Field     string
	Direction int
}

// FindResult is spec.md §4.2's overflow-aware read result shape.
type FindResult struct {
	Documents []*document.Doc
	CursorID  int64
	HasMore   bool
}

// WriteResult is spec.md §4.2's write result shape.
type WriteResult struct {
	Acknowledged  bool
	InsertedCount int
	InsertedIDs   []document.ID
	MatchedCount  int
	ModifiedCount int
	DeletedCount  int
	UpsertedID    *document.ID
}

// UpdateOptions configures UpdateOne/UpdateMany.
type UpdateOptions struct {
	Filter *document.Doc
	Update *document.Doc
	Upsert bool
}

// AggregateOptions configures an Aggregate call.
type AggregateOptions struct {
	Pipeline     []*document.Doc
	BatchSize    int
	AllowDiskUse bool
	Backend      Engine
}

// CollStats is spec.md §4.3's collStats result.
type CollStats struct {
	Count int64
	Size  int64
	Avg   float64
}

// DBStats is spec.md §4.3's dbStats result.
type DBStats struct {
	Collections int64
	Objects     int64
	DataSize    int64
}

// Cursor is the server-side iteration handle of spec.md §3, as exposed by
// the backend's Cursor operation group.
type Cursor struct {
	ID        int64
	Namespace string
	BatchSize int
}

// Backend is the MondoBackend contract of spec.md §4.2.
type Backend interface {
	// Database operations.
	ListDatabases(ctx context.Context) ([]string, error)
	CreateDatabase(ctx context.Context, db string) error
	DropDatabase(ctx context.Context, db string) error
	DatabaseExists(ctx context.Context, db string) (bool, error)

	// Collection operations.
	ListCollections(ctx context.Context, db string, nameFilter string) ([]Collection, error)
	CreateCollection(ctx context.Context, db, coll string, options *document.Doc) error
	DropCollection(ctx context.Context, db, coll string) error
	CollectionExists(ctx context.Context, db, coll string) (bool, error)
	CollStats(ctx context.Context, db, coll string) (CollStats, error)
	DBStats(ctx context.Context, db string) (DBStats, error)

	// CRUD.
	Find(ctx context.Context, db, coll string, opts FindOptions) (FindResult, error)
	InsertOne(ctx context.Context, db, coll string, doc *document.Doc) (WriteResult, error)
	InsertMany(ctx context.Context, db, coll string, docs []*document.Doc) (WriteResult, error)
	UpdateOne(ctx context.Context, db, coll string, opts UpdateOptions) (WriteResult, error)
	UpdateMany(ctx context.Context, db, coll string, opts UpdateOptions) (WriteResult, error)
	DeleteOne(ctx context.Context, db, coll string, filter *document.Doc) (WriteResult, error)
	DeleteMany(ctx context.Context, db, coll string, filter *document.Doc) (WriteResult, error)

	// Scalar.
	Count(ctx context.Context, db, coll string, filter *document.Doc) (int64, error)
	Distinct(ctx context.Context, db, coll, field string, filter *document.Doc) ([]document.Value, error)

	// Pipeline.
	Aggregate(ctx context.Context, db, coll string, opts AggregateOptions) (FindResult, error)

	// Indexes.
	ListIndexes(ctx context.Context, db, coll string) ([]IndexSpec, error)
	CreateIndexes(ctx context.Context, db, coll string, specs []IndexSpec) error
	DropIndex(ctx context.Context, db, coll, name string) error
	DropAllIndexesExceptID(ctx context.Context, db, coll string) error

	// Cursor.
	CreateCursor(ctx context.Context, namespace string, docs []*document.Doc, batchSize int) (FindResult, error)
	GetCursor(ctx context.Context, id int64) (Cursor, bool)
	AdvanceCursor(ctx context.Context, id int64, n int) (FindResult, error)
	CloseCursor(ctx context.Context, id int64) bool
	CleanupExpiredCursors(ctx context.Context) int
}
