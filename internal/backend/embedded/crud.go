package embedded

import (
	"context"
	"database/sql"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/merr"
	"github.com/dot-do/mondodb/internal/pipeline"
)

func (b *Backend) Find(ctx context.Context, dbName, coll string, opts backend.FindOptions) (backend.FindResult, error) {
	db, err := b.open(dbName)
	if err != nil {
		return backend.FindResult{}, err
	}
	id, ok, err := b.collectionID(ctx, db, coll)
	if err != nil {
		return backend.FindResult{}, err
	}
	if !ok {
		return backend.FindResult{}, nil
	}

	f, err := buildFilter(opts.Filter)
	if err != nil {
		return backend.FindResult{}, err
	}
	sortFields := make([]sortField, len(opts.Sort))
	for i, s := range opts.Sort {
		sortFields[i] = sortField{Field: s.Field, Direction: s.Direction}
	}
	orderBy, err := buildOrderBy(sortFields)
	if err != nil {
		return backend.FindResult{}, err
	}

	query := "SELECT _id, data FROM documents WHERE collection_id = ? AND " + f.clause
	if orderBy != "" {
		query += " " + orderBy
	}
	query += limitOffsetClause(opts.Limit, opts.Skip)

	args := append([]interface{}{id}, f.args...)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return backend.FindResult{}, merr.Wrap(merr.Internal, err, "embedded: find %s", coll)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return backend.FindResult{}, err
	}
	docs = applyProjection(docs, opts.Projection)

	batchSize := opts.BatchSize
	res, err := b.CreateCursor(ctx, dbName+"."+coll, docs, batchSize)
	return res, err
}

func scanDocuments(rows *sql.Rows) ([]*document.Doc, error) {
	var out []*document.Doc
	for rows.Next() {
		var idStr, dataStr string
		if err := rows.Scan(&idStr, &dataStr); err != nil {
			return nil, merr.Wrap(merr.Internal, err, "embedded: scan document row")
		}
		d, err := document.FromJSON([]byte(dataStr))
		if err != nil {
			return nil, merr.Wrap(merr.Internal, err, "embedded: decode document %s", idStr)
		}
		d.Set("_id", document.String(idStr))
		out = append(out, d)
	}
	return out, rows.Err()
}

func applyProjection(docs []*document.Doc, proj *document.Doc) []*document.Doc {
	if proj == nil || proj.Len() == 0 {
		return docs
	}
	stage := document.NewDoc()
	stage.Set("$project", document.DocumentOf(proj))
	out, err := pipeline.Interpret([]*document.Doc{stage}, docs)
	if err != nil {
		return docs
	}
	return out
}

func (b *Backend) InsertOne(ctx context.Context, dbName, coll string, doc *document.Doc) (backend.WriteResult, error) {
	res, err := b.InsertMany(ctx, dbName, coll, []*document.Doc{doc})
	return res, err
}

func (b *Backend) InsertMany(ctx context.Context, dbName, coll string, docs []*document.Doc) (backend.WriteResult, error) {
	db, err := b.open(dbName)
	if err != nil {
		return backend.WriteResult{}, err
	}
	id, err := b.ensureCollectionID(ctx, db, coll)
	if err != nil {
		return backend.WriteResult{}, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: begin insert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents(collection_id, _id, data) VALUES (?, ?, ?)`)
	if err != nil {
		return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: prepare insert")
	}
	defer stmt.Close()

	result := backend.WriteResult{Acknowledged: true}
	for _, doc := range docs {
		idVal, hasID := doc.Get("_id")
		var docID document.ID
		if !hasID || idVal.IsNullish() {
			docID = document.NewObjectIDValue()
			doc.Set("_id", docID.Value())
		} else {
			docID = document.IDFromString(idVal.String())
		}
		dataJSON, err := document.ToJSON(doc)
		if err != nil {
			return backend.WriteResult{}, merr.Wrap(merr.Validation, err, "embedded: encode document")
		}
		if _, err := stmt.ExecContext(ctx, id, docID.String(), string(dataJSON)); err != nil {
			if isUniqueViolation(err) {
				return backend.WriteResult{}, merr.Wrap(merr.Conflict, err, "embedded: duplicate _id %s", docID.String())
			}
			return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: insert document")
		}
		result.InsertedCount++
		result.InsertedIDs = append(result.InsertedIDs, docID)
	}
	if err := tx.Commit(); err != nil {
		return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: commit insert")
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if e, ok := err.(sqlite3.Error); ok {
		sqliteErr = e
	} else {
		return strings.Contains(err.Error(), "UNIQUE constraint")
	}
	return sqliteErr.Code == sqlite3.ErrConstraint
}

func (b *Backend) UpdateOne(ctx context.Context, dbName, coll string, opts backend.UpdateOptions) (backend.WriteResult, error) {
	return b.update(ctx, dbName, coll, opts, false)
}

func (b *Backend) UpdateMany(ctx context.Context, dbName, coll string, opts backend.UpdateOptions) (backend.WriteResult, error) {
	return b.update(ctx, dbName, coll, opts, true)
}

// update implements spec.md §4.3's write semantics: match rows with the
// filter, apply either the operator merge form or a full replace that
// preserves _id, and fold the filter into a synthesized document on an
// upserted zero-match.
func (b *Backend) update(ctx context.Context, dbName, coll string, opts backend.UpdateOptions, many bool) (backend.WriteResult, error) {
	db, err := b.open(dbName)
	if err != nil {
		return backend.WriteResult{}, err
	}
	collID, ok, err := b.collectionID(ctx, db, coll)
	if err != nil {
		return backend.WriteResult{}, err
	}
	if !ok {
		if opts.Upsert {
			return b.upsertNew(ctx, dbName, coll, opts)
		}
		return backend.WriteResult{Acknowledged: true}, nil
	}

	f, err := buildFilter(opts.Filter)
	if err != nil {
		return backend.WriteResult{}, err
	}
	query := "SELECT id, _id, data FROM documents WHERE collection_id = ? AND " + f.clause
	if !many {
		query += " LIMIT 1"
	}
	args := append([]interface{}{collID}, f.args...)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: update select %s", coll)
	}
	type row struct {
		rowID int64
		docID string
		data  string
	}
	var matched []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.rowID, &r.docID, &r.data); err != nil {
			rows.Close()
			return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: scan update row")
		}
		matched = append(matched, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: iterate update rows")
	}

	if len(matched) == 0 {
		if opts.Upsert {
			return b.upsertNew(ctx, dbName, coll, opts)
		}
		return backend.WriteResult{Acknowledged: true}, nil
	}

	result := backend.WriteResult{Acknowledged: true, MatchedCount: len(matched)}
	for _, r := range matched {
		existing, err := document.FromJSON([]byte(r.data))
		if err != nil {
			return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: decode existing document")
		}
		existing.Set("_id", document.String(r.docID))
		updated := applyUpdate(existing, opts.Update, r.docID)
		dataJSON, err := document.ToJSON(updated)
		if err != nil {
			return backend.WriteResult{}, merr.Wrap(merr.Validation, err, "embedded: encode updated document")
		}
		if _, err := db.ExecContext(ctx, `UPDATE documents SET data = ? WHERE id = ?`, string(dataJSON), r.rowID); err != nil {
			return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: apply update")
		}
		result.ModifiedCount++
	}
	return result, nil
}

// upsertNew synthesizes a document by folding the filter's equality
// conditions, applies the update operators on top, and inserts it.
func (b *Backend) upsertNew(ctx context.Context, dbName, coll string, opts backend.UpdateOptions) (backend.WriteResult, error) {
	seed := document.NewDoc()
	foldFilterEquality(opts.Filter, seed)
	newDoc := applyUpdate(seed, opts.Update, "")
	res, err := b.InsertOne(ctx, dbName, coll, newDoc)
	if err != nil {
		return backend.WriteResult{}, err
	}
	write := backend.WriteResult{Acknowledged: true}
	if len(res.InsertedIDs) > 0 {
		id := res.InsertedIDs[0]
		write.UpsertedID = &id
	}
	return write, nil
}

// foldFilterEquality copies top-level equality conditions from filter into
// seed, per spec.md §4.3's upsert synthesis rule. An operator document
// contributes only its $eq value, and logical combinators contribute
// nothing (there is no single equality value to fold from a range or $or
// condition).
func foldFilterEquality(filter *document.Doc, seed *document.Doc) {
	if filter == nil {
		return
	}
	filter.Range(func(key string, v document.Value) bool {
		if key == "$and" || key == "$or" {
			return true
		}
		if isOperatorDoc(v) {
			if eq, ok := v.Doc.Get("$eq"); ok {
				seed.Set(key, eq)
			}
			return true
		}
		seed.Set(key, v)
		return true
	})
}

// applyUpdate merges operator-form updates ($set/$unset/$inc/$push) into
// existing, or replaces it wholesale for non-operator form, preserving _id
// either way (spec.md §4.3).
func applyUpdate(existing *document.Doc, update *document.Doc, preserveID string) *document.Doc {
	if update == nil {
		return existing
	}
	if isUpdateOperatorForm(update) {
		out := existing.Clone()
		update.Range(func(op string, arg document.Value) bool {
			applyUpdateOperator(out, op, arg)
			return true
		})
		return out
	}
	// Non-operator form: full replace, preserving the original _id.
	out := update.Clone()
	if preserveID != "" {
		out.Set("_id", document.String(preserveID))
	} else if v, ok := existing.Get("_id"); ok {
		out.Set("_id", v)
	}
	return out
}

func isUpdateOperatorForm(update *document.Doc) bool {
	if update.Len() == 0 {
		return true
	}
	isOp := true
	update.Range(func(k string, _ document.Value) bool {
		if !strings.HasPrefix(k, "$") {
			isOp = false
			return false
		}
		return true
	})
	return isOp
}

func applyUpdateOperator(doc *document.Doc, op string, arg document.Value) {
	if arg.Kind != document.KindDocument {
		return
	}
	switch op {
	case "$set":
		arg.Doc.Range(func(field string, v document.Value) bool {
			doc.Set(field, v)
			return true
		})
	case "$unset":
		arg.Doc.Range(func(field string, _ document.Value) bool {
			doc.Delete(field)
			return true
		})
	case "$inc":
		arg.Doc.Range(func(field string, delta document.Value) bool {
			cur, _ := doc.Get(field)
			n, _ := cur.AsFloat64()
			dn, _ := delta.AsFloat64()
			sum := n + dn
			if cur.Kind == document.KindFloat64 || delta.Kind == document.KindFloat64 {
				doc.Set(field, document.Float64(sum))
			} else {
				doc.Set(field, document.Int64(int64(sum)))
			}
			return true
		})
	case "$push":
		arg.Doc.Range(func(field string, v document.Value) bool {
			cur, _ := doc.Get(field)
			var arr []document.Value
			if cur.Kind == document.KindArray {
				arr = cur.Array
			}
			if v.Kind == document.KindDocument {
				if each, ok := v.Doc.Get("$each"); ok && each.Kind == document.KindArray {
					arr = append(arr, each.Array...)
					doc.Set(field, document.ArrayOf(arr...))
					return true
				}
			}
			arr = append(arr, v)
			doc.Set(field, document.ArrayOf(arr...))
			return true
		})
	}
}

func (b *Backend) DeleteOne(ctx context.Context, dbName, coll string, filter *document.Doc) (backend.WriteResult, error) {
	return b.delete(ctx, dbName, coll, filter, false)
}

func (b *Backend) DeleteMany(ctx context.Context, dbName, coll string, filter *document.Doc) (backend.WriteResult, error) {
	return b.delete(ctx, dbName, coll, filter, true)
}

func (b *Backend) delete(ctx context.Context, dbName, coll string, filter *document.Doc, many bool) (backend.WriteResult, error) {
	db, err := b.open(dbName)
	if err != nil {
		return backend.WriteResult{}, err
	}
	collID, ok, err := b.collectionID(ctx, db, coll)
	if err != nil || !ok {
		return backend.WriteResult{Acknowledged: true}, err
	}
	f, err := buildFilter(filter)
	if err != nil {
		return backend.WriteResult{}, err
	}
	if many {
		res, err := db.ExecContext(ctx, "DELETE FROM documents WHERE collection_id = ? AND "+f.clause,
			append([]interface{}{collID}, f.args...)...)
		if err != nil {
			return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: delete many")
		}
		n, _ := res.RowsAffected()
		return backend.WriteResult{Acknowledged: true, DeletedCount: int(n)}, nil
	}
	var rowID int64
	err = db.QueryRowContext(ctx, "SELECT id FROM documents WHERE collection_id = ? AND "+f.clause+" LIMIT 1",
		append([]interface{}{collID}, f.args...)...).Scan(&rowID)
	if err == sql.ErrNoRows {
		return backend.WriteResult{Acknowledged: true}, nil
	}
	if err != nil {
		return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: delete one select")
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, rowID); err != nil {
		return backend.WriteResult{}, merr.Wrap(merr.Internal, err, "embedded: delete one")
	}
	return backend.WriteResult{Acknowledged: true, DeletedCount: 1}, nil
}

func (b *Backend) Count(ctx context.Context, dbName, coll string, filter *document.Doc) (int64, error) {
	db, err := b.open(dbName)
	if err != nil {
		return 0, err
	}
	collID, ok, err := b.collectionID(ctx, db, coll)
	if err != nil || !ok {
		return 0, err
	}
	f, err := buildFilter(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE collection_id = ? AND "+f.clause,
		append([]interface{}{collID}, f.args...)...).Scan(&n)
	if err != nil {
		return 0, merr.Wrap(merr.Internal, err, "embedded: count %s", coll)
	}
	return n, nil
}

func (b *Backend) Distinct(ctx context.Context, dbName, coll, field string, filter *document.Doc) ([]document.Value, error) {
	db, err := b.open(dbName)
	if err != nil {
		return nil, err
	}
	collID, ok, err := b.collectionID(ctx, db, coll)
	if err != nil || !ok {
		return nil, err
	}
	f, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}
	query := "SELECT _id, data FROM documents WHERE collection_id = ? AND " + f.clause
	rows, err := db.QueryContext(ctx, query, append([]interface{}{collID}, f.args...)...)
	if err != nil {
		return nil, merr.Wrap(merr.Internal, err, "embedded: distinct %s", coll)
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []document.Value
	for _, d := range docs {
		v, ok := d.GetPath(field)
		if !ok {
			continue
		}
		key := v.String() + "|" + v.Kind.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out, nil
}

func (b *Backend) Aggregate(ctx context.Context, dbName, coll string, opts backend.AggregateOptions) (backend.FindResult, error) {
	db, err := b.open(dbName)
	if err != nil {
		return backend.FindResult{}, err
	}
	collID, ok, err := b.collectionID(ctx, db, coll)
	if err != nil {
		return backend.FindResult{}, err
	}
	if !ok {
		return backend.FindResult{}, nil
	}
	rows, err := db.QueryContext(ctx, `SELECT _id, data FROM documents WHERE collection_id = ?`, collID)
	if err != nil {
		return backend.FindResult{}, merr.Wrap(merr.Internal, err, "embedded: aggregate materialize %s", coll)
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	if err != nil {
		return backend.FindResult{}, err
	}

	optimized := pipeline.Optimize(opts.Pipeline)
	out, err := pipeline.Interpret(optimized, docs)
	if err != nil {
		return backend.FindResult{}, merr.Wrap(merr.Internal, err, "embedded: aggregate interpret %s", coll)
	}
	return b.CreateCursor(ctx, dbName+"."+coll, out, opts.BatchSize)
}
