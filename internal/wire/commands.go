// Server wires the wire protocol frames to the query router, per spec.md
// §6's command table. Grounded in style on the teacher's ModernDB method
// dispatch (modern_collection.go): one small method per MongoDB verb,
// generalized here to a map so a single connection loop can reach all of
// them by name.
package wire

import (
	"context"
	"time"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/merr"
	"github.com/dot-do/mondodb/internal/pipeline"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Server dispatches decoded commands to a backend.Backend (normally a
// *router.Router) and renders replies as BSON documents.
type Server struct {
	Backend          backend.Backend
	Log              *zap.Logger
	DefaultBatchSize int
}

type handlerFunc func(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error)

// commandTable is spec.md §6's full command set. The command name is always
// the first key of the command document, per MongoDB convention.
var commandTable = map[string]handlerFunc{
	"hello":           handleHello,
	"ismaster":        handleHello,
	"isMaster":        handleHello,
	"ping":            handlePing,
	"listDatabases":   handleListDatabases,
	"listCollections": handleListCollections,
	"find":            handleFind,
	"getMore":         handleGetMore,
	"killCursors":     handleKillCursors,
	"insert":          handleInsert,
	"update":          handleUpdate,
	"delete":          handleDelete,
	"count":           handleCount,
	"distinct":        handleDistinct,
	"aggregate":       handleAggregate,
	"createIndexes":   handleCreateIndexes,
	"listIndexes":     handleListIndexes,
	"dropIndexes":     handleDropIndexes,
	"drop":            handleDropCollection,
	"dropDatabase":    handleDropDatabase,
	"create":          handleCreate,
	"collStats":       handleCollStats,
	"dbStats":         handleDBStats,
}

// Handle decodes a frame's command document, dispatches it, and renders the
// reply; callers write it back with WriteOpMsgReply/WriteOpReplyLegacy.
func (s *Server) Handle(ctx context.Context, f *Frame) bson.M {
	cmd, err := DocFromBSON(f.Command)
	if err != nil {
		return errorReply(merr.Wrap(merr.Validation, err, "malformed command document"))
	}
	if cmd.Len() == 0 {
		return errorReply(merr.New(merr.Validation, "empty command document"))
	}
	name := cmd.Keys()[0]
	handler, ok := commandTable[name]
	if !ok {
		return errorReply(merr.New(merr.Internal, "no such command: '%s'", name).WithCode(merr.CodeCommandNotFound, "CommandNotFound"))
	}
	reply, err := handler(ctx, s, f.Database, cmd)
	if err != nil {
		if s.Log != nil {
			s.Log.Error("command failed", zap.String("command", name), zap.String("db", f.Database), zap.Error(err))
		}
		return errorReply(err)
	}
	if reply == nil {
		reply = bson.M{}
	}
	if _, ok := reply["ok"]; !ok {
		reply["ok"] = float64(1)
	}
	return reply
}

func handleHello(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	return bson.M{
		"ismaster":            true,
		"maxBsonObjectSize":   16777216,
		"maxMessageSizeBytes": 48000000,
		"maxWriteBatchSize":   100000,
		"localTime":           time.Now().UTC(),
		"minWireVersion":      0,
		"maxWireVersion":      17,
		"readOnly":            false,
	}, nil
}

func handlePing(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	return bson.M{}, nil
}

func collArg(cmd *document.Doc, key string) string {
	v, ok := cmd.Get(key)
	if !ok || v.Kind != document.KindString {
		return ""
	}
	return v.Str
}

func docArg(cmd *document.Doc, key string) *document.Doc {
	v, ok := cmd.Get(key)
	if !ok || v.Kind != document.KindDocument {
		return document.NewDoc()
	}
	return v.Doc
}

func intArg(cmd *document.Doc, key string) (int64, bool) {
	v, ok := cmd.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := v.AsFloat64()
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func stringArg(cmd *document.Doc, key string) (string, bool) {
	v, ok := cmd.Get(key)
	if !ok || v.Kind != document.KindString {
		return "", false
	}
	return v.Str, true
}

func boolArg(cmd *document.Doc, key string) bool {
	v, ok := cmd.Get(key)
	return ok && v.Kind == document.KindBool && v.Bool
}

func sortArg(cmd *document.Doc) []backend.SortField {
	sortDoc := docArg(cmd, "sort")
	var fields []backend.SortField
	sortDoc.Range(func(k string, v document.Value) bool {
		dir := 1
		if n, ok := v.AsFloat64(); ok && n < 0 {
			dir = -1
		}
		fields = append(fields, backend.SortField{Field: k, Direction: dir})
		return true
	})
	return fields
}

func handleListDatabases(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	names, err := s.Backend.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	dbs := make(bson.A, 0, len(names))
	for _, n := range names {
		dbs = append(dbs, bson.M{"name": n, "sizeOnDisk": int64(0), "empty": false})
	}
	return bson.M{"databases": dbs, "totalSize": int64(0)}, nil
}

func handleListCollections(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	filter := ""
	if f := docArg(cmd, "filter"); f.Len() > 0 {
		if name, ok := stringArg(f, "name"); ok {
			filter = name
		}
	}
	colls, err := s.Backend.ListCollections(ctx, db, filter)
	if err != nil {
		return nil, err
	}
	items := make(bson.A, 0, len(colls))
	for _, c := range colls {
		items = append(items, bson.M{"name": c.Name, "type": "collection"})
	}
	return firstBatchReply(0, "", items), nil
}

func firstBatchReply(cursorID int64, namespace string, batch bson.A) bson.M {
	return bson.M{
		"cursor": bson.M{
			"id":         cursorID,
			"ns":         namespace,
			"firstBatch": batch,
		},
	}
}

func docsToBSONArray(docs []*document.Doc) bson.A {
	out := make(bson.A, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocToBSON(d))
	}
	return out
}

func (s *Server) batchSize(cmd *document.Doc) int {
	if v, ok := cmd.Get("batchSize"); ok {
		if n, ok := v.AsFloat64(); ok && n > 0 {
			return int(n)
		}
	}
	if opts := docArg(cmd, "cursor"); opts.Len() > 0 {
		if n, ok := intArg(opts, "batchSize"); ok && n > 0 {
			return int(n)
		}
	}
	if s.DefaultBatchSize > 0 {
		return s.DefaultBatchSize
	}
	return 101
}

func handleFind(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "find")
	limit, _ := intArg(cmd, "limit")
	skip, _ := intArg(cmd, "skip")
	opts := backend.FindOptions{
		Filter:     docArg(cmd, "filter"),
		Sort:       sortArg(cmd),
		Limit:      limit,
		Skip:       skip,
		Projection: docArg(cmd, "projection"),
		BatchSize:  s.batchSize(cmd),
	}
	res, err := s.Backend.Find(ctx, db, coll, opts)
	if err != nil {
		return nil, err
	}
	ns := db + "." + coll
	return firstBatchReply(res.CursorID, ns, docsToBSONArray(res.Documents)), nil
}

func handleGetMore(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	id, ok := intArg(cmd, "getMore")
	if !ok {
		return nil, merr.New(merr.Validation, "getMore requires a cursor id")
	}
	coll, _ := stringArg(cmd, "collection")
	n := s.batchSize(cmd)
	res, err := s.Backend.AdvanceCursor(ctx, id, n)
	if err != nil {
		return nil, err
	}
	ns := db + "." + coll
	return bson.M{
		"cursor": bson.M{
			"id":         res.CursorID,
			"ns":         ns,
			"nextBatch":  docsToBSONArray(res.Documents),
		},
	}, nil
}

func handleKillCursors(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	v, ok := cmd.Get("cursors")
	killed := bson.A{}
	notFound := bson.A{}
	if ok && v.Kind == document.KindArray {
		for _, elem := range v.Array {
			id, ok := elem.AsFloat64()
			if !ok {
				continue
			}
			if s.Backend.CloseCursor(ctx, int64(id)) {
				killed = append(killed, int64(id))
			} else {
				notFound = append(notFound, int64(id))
			}
		}
	}
	return bson.M{"cursorsKilled": killed, "cursorsNotFound": notFound, "cursorsAlive": bson.A{}, "cursorsUnknown": bson.A{}}, nil
}

func handleInsert(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "insert")
	v, ok := cmd.Get("documents")
	if !ok || v.Kind != document.KindArray {
		return nil, merr.New(merr.Validation, "insert requires a 'documents' array")
	}
	docs := make([]*document.Doc, 0, len(v.Array))
	for _, elem := range v.Array {
		if elem.Kind != document.KindDocument {
			return nil, merr.New(merr.Validation, "insert documents must be objects")
		}
		docs = append(docs, elem.Doc)
	}
	res, err := s.Backend.InsertMany(ctx, db, coll, docs)
	if err != nil {
		return nil, err
	}
	return bson.M{"n": res.InsertedCount}, nil
}

func handleUpdate(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "update")
	v, ok := cmd.Get("updates")
	if !ok || v.Kind != document.KindArray {
		return nil, merr.New(merr.Validation, "update requires an 'updates' array")
	}
	var matched, modified, upserted int
	var upsertedDocs bson.A
	for _, elem := range v.Array {
		if elem.Kind != document.KindDocument {
			continue
		}
		u := elem.Doc
		filter := docArg(u, "q")
		updateDoc := docArg(u, "u")
		multi := boolArg(u, "multi")
		upsert := boolArg(u, "upsert")
		opts := backend.UpdateOptions{Filter: filter, Update: updateDoc, Upsert: upsert}
		var res backend.WriteResult
		var err error
		if multi {
			res, err = s.Backend.UpdateMany(ctx, db, coll, opts)
		} else {
			res, err = s.Backend.UpdateOne(ctx, db, coll, opts)
		}
		if err != nil {
			return nil, err
		}
		matched += res.MatchedCount
		modified += res.ModifiedCount
		if res.UpsertedID != nil {
			upserted++
			upsertedDocs = append(upsertedDocs, bson.M{"index": 0, "_id": res.UpsertedID.String()})
		}
	}
	return bson.M{"n": matched, "nModified": modified, "upserted": upsertedDocs}, nil
}

func handleDelete(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "delete")
	v, ok := cmd.Get("deletes")
	if !ok || v.Kind != document.KindArray {
		return nil, merr.New(merr.Validation, "delete requires a 'deletes' array")
	}
	var n int
	for _, elem := range v.Array {
		if elem.Kind != document.KindDocument {
			continue
		}
		d := elem.Doc
		filter := docArg(d, "q")
		limit, _ := intArg(d, "limit")
		var res backend.WriteResult
		var err error
		if limit == 1 {
			res, err = s.Backend.DeleteOne(ctx, db, coll, filter)
		} else {
			res, err = s.Backend.DeleteMany(ctx, db, coll, filter)
		}
		if err != nil {
			return nil, err
		}
		n += res.DeletedCount
	}
	return bson.M{"n": n}, nil
}

func handleCount(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "count")
	filter := docArg(cmd, "query")
	n, err := s.Backend.Count(ctx, db, coll, filter)
	if err != nil {
		return nil, err
	}
	return bson.M{"n": n}, nil
}

func handleDistinct(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "distinct")
	field, _ := stringArg(cmd, "key")
	filter := docArg(cmd, "query")
	vals, err := s.Backend.Distinct(ctx, db, coll, field, filter)
	if err != nil {
		return nil, err
	}
	out := make(bson.A, 0, len(vals))
	for _, v := range vals {
		out = append(out, valueToBSON("", v))
	}
	return bson.M{"values": out}, nil
}

func handleAggregate(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "aggregate")
	v, ok := cmd.Get("pipeline")
	if !ok || v.Kind != document.KindArray {
		return nil, merr.New(merr.Validation, "aggregate requires a 'pipeline' array")
	}
	stages, valResult := pipeline.Validate(v)
	if valResult.Errors != nil && len(valResult.Errors) > 0 {
		first := valResult.Errors[0]
		return nil, merr.New(merr.Validation, "invalid pipeline stage at %s: %s", first.Path, first.Message)
	}
	opts := backend.AggregateOptions{
		Pipeline:     pipeline.Optimize(stages),
		BatchSize:    s.batchSize(cmd),
		AllowDiskUse: boolArg(cmd, "allowDiskUse"),
	}
	res, err := s.Backend.Aggregate(ctx, db, coll, opts)
	if err != nil {
		return nil, err
	}
	ns := db + "." + coll
	return firstBatchReply(res.CursorID, ns, docsToBSONArray(res.Documents)), nil
}

func handleCreateIndexes(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "createIndexes")
	v, ok := cmd.Get("indexes")
	if !ok || v.Kind != document.KindArray {
		return nil, merr.New(merr.Validation, "createIndexes requires an 'indexes' array")
	}
	specs := make([]backend.IndexSpec, 0, len(v.Array))
	for _, elem := range v.Array {
		if elem.Kind != document.KindDocument {
			continue
		}
		spec := elem.Doc
		keyDoc := docArg(spec, "key")
		var keys []backend.IndexKey
		keyDoc.Range(func(k string, kv document.Value) bool {
			if kv.Kind == document.KindString {
				keys = append(keys, backend.IndexKey{Field: k, Direction: kv.Str})
			} else if n, ok := kv.AsFloat64(); ok {
				keys = append(keys, backend.IndexKey{Field: k, Direction: int(n)})
			}
			return true
		})
		name, _ := stringArg(spec, "name")
		specs = append(specs, backend.IndexSpec{
			Keys:   keys,
			Unique: boolArg(spec, "unique"),
			Sparse: boolArg(spec, "sparse"),
			Name:   name,
		})
	}
	if err := s.Backend.CreateIndexes(ctx, db, coll, specs); err != nil {
		return nil, err
	}
	return bson.M{"numIndexesAfter": len(specs), "createdCollectionAutomatically": false}, nil
}

func handleListIndexes(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "listIndexes")
	specs, err := s.Backend.ListIndexes(ctx, db, coll)
	if err != nil {
		return nil, err
	}
	items := make(bson.A, 0, len(specs))
	for _, spec := range specs {
		key := bson.D{}
		for _, k := range spec.Keys {
			key = append(key, bson.E{Key: k.Field, Value: k.Direction})
		}
		entry := bson.M{"v": 2, "key": key, "name": spec.SynthesizeName()}
		if spec.Unique {
			entry["unique"] = true
		}
		if spec.Sparse {
			entry["sparse"] = true
		}
		items = append(items, entry)
	}
	return firstBatchReply(0, db+"."+coll, items), nil
}

func handleDropIndexes(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "dropIndexes")
	v, ok := cmd.Get("index")
	if ok && v.Kind == document.KindString && v.Str == "*" {
		if err := s.Backend.DropAllIndexesExceptID(ctx, db, coll); err != nil {
			return nil, err
		}
		return bson.M{"nIndexesWas": 0}, nil
	}
	if ok && v.Kind == document.KindString {
		if err := s.Backend.DropIndex(ctx, db, coll, v.Str); err != nil {
			return nil, err
		}
		return bson.M{"nIndexesWas": 0}, nil
	}
	if err := s.Backend.DropAllIndexesExceptID(ctx, db, coll); err != nil {
		return nil, err
	}
	return bson.M{"nIndexesWas": 0}, nil
}

func handleDropCollection(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "drop")
	if err := s.Backend.DropCollection(ctx, db, coll); err != nil {
		return nil, err
	}
	return bson.M{}, nil
}

func handleDropDatabase(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	if err := s.Backend.DropDatabase(ctx, db); err != nil {
		return nil, err
	}
	return bson.M{"dropped": db}, nil
}

func handleCreate(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "create")
	if err := s.Backend.CreateCollection(ctx, db, coll, cmd); err != nil {
		return nil, err
	}
	return bson.M{}, nil
}

func handleCollStats(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	coll, _ := stringArg(cmd, "collStats")
	stats, err := s.Backend.CollStats(ctx, db, coll)
	if err != nil {
		return nil, err
	}
	return bson.M{"ns": db + "." + coll, "count": stats.Count, "size": stats.Size, "avgObjSize": stats.Avg}, nil
}

func handleDBStats(ctx context.Context, s *Server, db string, cmd *document.Doc) (bson.M, error) {
	stats, err := s.Backend.DBStats(ctx, db)
	if err != nil {
		return nil, err
	}
	return bson.M{"db": db, "collections": stats.Collections, "objects": stats.Objects, "dataSize": stats.DataSize}, nil
}
