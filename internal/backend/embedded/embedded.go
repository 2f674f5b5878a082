// Package embedded implements backend.Backend against database/sql with the
// github.com/mattn/go-sqlite3 driver, one *sql.DB per database file, per
// spec.md §4.3. Grounded on the teacher's ModernDB/ModernColl split
// (modern_types.go, modern_collection.go): where the teacher opens one
// mgo.Session against a remote mongod, this opens one *sql.DB per database
// name, lazily, under a shared directory.
package embedded

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/cursor"
	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/merr"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	name    TEXT UNIQUE NOT NULL,
	options TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS documents (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id INTEGER NOT NULL REFERENCES collections(id),
	_id           TEXT NOT NULL,
	data          TEXT NOT NULL DEFAULT '{}',
	UNIQUE(collection_id, _id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id);
CREATE TABLE IF NOT EXISTS indexes (
	collection_id INTEGER NOT NULL REFERENCES collections(id),
	name          TEXT NOT NULL,
	key           TEXT NOT NULL,
	options       TEXT NOT NULL DEFAULT '{}',
	UNIQUE(collection_id, name)
);
`

// Backend is one dataDir-rooted set of SQLite-backed databases, opened
// lazily on first use and kept open for the process lifetime.
type Backend struct {
	dataDir string
	log     *zap.Logger
	cursors *cursor.Manager

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// New builds an embedded Backend rooted at dataDir. dataDir is created if
// missing.
func New(dataDir string, log *zap.Logger) (*Backend, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("embedded: create data dir: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		dataDir: dataDir,
		log:     log,
		cursors: cursor.New(),
		dbs:     make(map[string]*sql.DB),
	}, nil
}

func (b *Backend) dbFile(name string) string {
	return filepath.Join(b.dataDir, name+".sqlite")
}

// open returns the *sql.DB for name, opening and migrating it on first use.
func (b *Backend) open(name string) (*sql.DB, error) {
	if err := document.ValidateDatabaseName(name); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if db, ok := b.dbs[name]; ok {
		return db, nil
	}
	db, err := sql.Open("sqlite3", b.dbFile(name)+"?_foreign_keys=on")
	if err != nil {
		return nil, merr.Wrap(merr.Internal, err, "embedded: open %s", name)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, merr.Wrap(merr.Internal, err, "embedded: migrate %s", name)
	}
	b.dbs[name] = db
	b.log.Debug("opened database", zap.String("db", name))
	return db, nil
}

// existingDatabases lists database files already materialized on disk.
func (b *Backend) existingDatabases() ([]string, error) {
	entries, err := os.ReadDir(b.dataDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".sqlite" {
			names = append(names, e.Name()[:len(e.Name())-len(".sqlite")])
		}
	}
	return names, nil
}

func (b *Backend) ListDatabases(ctx context.Context) ([]string, error) {
	return b.existingDatabases()
}

func (b *Backend) CreateDatabase(ctx context.Context, dbName string) error {
	_, err := b.open(dbName)
	return err
}

func (b *Backend) DropDatabase(ctx context.Context, dbName string) error {
	if err := document.ValidateDatabaseName(dbName); err != nil {
		return err
	}
	b.mu.Lock()
	if db, ok := b.dbs[dbName]; ok {
		db.Close()
		delete(b.dbs, dbName)
	}
	b.mu.Unlock()
	if err := os.Remove(b.dbFile(dbName)); err != nil && !os.IsNotExist(err) {
		return merr.Wrap(merr.Internal, err, "embedded: drop database %s", dbName)
	}
	return nil
}

func (b *Backend) DatabaseExists(ctx context.Context, dbName string) (bool, error) {
	_, err := os.Stat(b.dbFile(dbName))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *Backend) ListCollections(ctx context.Context, dbName, nameFilter string) ([]backend.Collection, error) {
	db, err := b.open(dbName)
	if err != nil {
		return nil, err
	}
	query := "SELECT name, options FROM collections"
	args := []interface{}{}
	if nameFilter != "" {
		query += " WHERE name = ?"
		args = append(args, nameFilter)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, merr.Wrap(merr.Internal, err, "embedded: list collections")
	}
	defer rows.Close()

	var out []backend.Collection
	for rows.Next() {
		var name, optionsJSON string
		if err := rows.Scan(&name, &optionsJSON); err != nil {
			return nil, merr.Wrap(merr.Internal, err, "embedded: scan collection row")
		}
		opts, err := document.FromJSON([]byte(optionsJSON))
		if err != nil {
			opts = document.NewDoc()
		}
		out = append(out, backend.Collection{Name: name, Options: opts})
	}
	return out, rows.Err()
}

func (b *Backend) CreateCollection(ctx context.Context, dbName, coll string, options *document.Doc) error {
	if err := document.ValidateCollectionName(coll); err != nil {
		return err
	}
	db, err := b.open(dbName)
	if err != nil {
		return err
	}
	optsJSON, err := document.ToJSON(options)
	if err != nil {
		return merr.Wrap(merr.Validation, err, "embedded: encode collection options")
	}
	_, err = db.ExecContext(ctx, `INSERT OR IGNORE INTO collections(name, options) VALUES (?, ?)`, coll, string(optsJSON))
	if err != nil {
		return merr.Wrap(merr.Internal, err, "embedded: create collection %s", coll)
	}
	return nil
}

func (b *Backend) DropCollection(ctx context.Context, dbName, coll string) error {
	db, err := b.open(dbName)
	if err != nil {
		return err
	}
	id, ok, err := b.collectionID(ctx, db, coll)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return merr.Wrap(merr.Internal, err, "embedded: begin drop collection")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection_id = ?`, id); err != nil {
		return merr.Wrap(merr.Internal, err, "embedded: drop documents for %s", coll)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE collection_id = ?`, id); err != nil {
		return merr.Wrap(merr.Internal, err, "embedded: drop indexes for %s", coll)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id); err != nil {
		return merr.Wrap(merr.Internal, err, "embedded: drop collection row %s", coll)
	}
	return tx.Commit()
}

func (b *Backend) CollectionExists(ctx context.Context, dbName, coll string) (bool, error) {
	db, err := b.open(dbName)
	if err != nil {
		return false, err
	}
	_, ok, err := b.collectionID(ctx, db, coll)
	return ok, err
}

// collectionID resolves coll's primary key, auto-creating the row is NOT
// performed here (callers that need create-on-first-write call
// ensureCollectionID instead).
func (b *Backend) collectionID(ctx context.Context, db *sql.DB, coll string) (int64, bool, error) {
	var id int64
	err := db.QueryRowContext(ctx, `SELECT id FROM collections WHERE name = ?`, coll).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, merr.Wrap(merr.Internal, err, "embedded: lookup collection %s", coll)
	}
	return id, true, nil
}

func (b *Backend) ensureCollectionID(ctx context.Context, db *sql.DB, coll string) (int64, error) {
	if err := document.ValidateCollectionName(coll); err != nil {
		return 0, err
	}
	id, ok, err := b.collectionID(ctx, db, coll)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}
	res, err := db.ExecContext(ctx, `INSERT INTO collections(name) VALUES (?)`, coll)
	if err != nil {
		return 0, merr.Wrap(merr.Internal, err, "embedded: auto-create collection %s", coll)
	}
	return res.LastInsertId()
}

func (b *Backend) CollStats(ctx context.Context, dbName, coll string) (backend.CollStats, error) {
	db, err := b.open(dbName)
	if err != nil {
		return backend.CollStats{}, err
	}
	id, ok, err := b.collectionID(ctx, db, coll)
	if err != nil || !ok {
		return backend.CollStats{}, err
	}
	var count int64
	var totalSize sql.NullInt64
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(LENGTH(data)) FROM documents WHERE collection_id = ?`, id,
	).Scan(&count, &totalSize)
	if err != nil {
		return backend.CollStats{}, merr.Wrap(merr.Internal, err, "embedded: collStats %s", coll)
	}
	stats := backend.CollStats{Count: count, Size: totalSize.Int64}
	if count > 0 {
		stats.Avg = float64(stats.Size) / float64(count)
	}
	return stats, nil
}

func (b *Backend) DBStats(ctx context.Context, dbName string) (backend.DBStats, error) {
	db, err := b.open(dbName)
	if err != nil {
		return backend.DBStats{}, err
	}
	var collections int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections`).Scan(&collections); err != nil {
		return backend.DBStats{}, merr.Wrap(merr.Internal, err, "embedded: dbStats collections")
	}
	var objects int64
	var dataSize sql.NullInt64
	err = db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(LENGTH(data)) FROM documents`).Scan(&objects, &dataSize)
	if err != nil {
		return backend.DBStats{}, merr.Wrap(merr.Internal, err, "embedded: dbStats documents")
	}
	return backend.DBStats{Collections: collections, Objects: objects, DataSize: dataSize.Int64}, nil
}

// Cursor operations delegate to the embedded Manager shared across every
// database this Backend serves (spec.md §4.6).
func (b *Backend) CreateCursor(ctx context.Context, namespace string, docs []*document.Doc, batchSize int) (backend.FindResult, error) {
	batch := b.cursors.Open(namespace, docs, batchSize)
	return backend.FindResult{Documents: batch.Documents, CursorID: batch.CursorID, HasMore: batch.HasMore}, nil
}

func (b *Backend) GetCursor(ctx context.Context, id int64) (backend.Cursor, bool) {
	ns, batchSize, ok := b.cursors.Get(id)
	if !ok {
		return backend.Cursor{}, false
	}
	return backend.Cursor{ID: id, Namespace: ns, BatchSize: batchSize}, true
}

func (b *Backend) AdvanceCursor(ctx context.Context, id int64, n int) (backend.FindResult, error) {
	batch, ok := b.cursors.Advance(id, n)
	if !ok {
		return backend.FindResult{}, merr.New(merr.NotFound, "embedded: cursor %d not found or expired", id)
	}
	return backend.FindResult{Documents: batch.Documents, CursorID: batch.CursorID, HasMore: batch.HasMore}, nil
}

func (b *Backend) CloseCursor(ctx context.Context, id int64) bool {
	return b.cursors.Close(id)
}

func (b *Backend) CleanupExpiredCursors(ctx context.Context) int {
	return b.cursors.CleanupExpired()
}
