package embedded

import (
	"context"
	"encoding/json"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/merr"
)

// indexKeyWire is the on-disk JSON shape of one IndexSpec.Keys entry.
type indexKeyWire struct {
	Field     string      `json:"field"`
	Direction interface{} `json:"direction"`
}

type indexSpecWire struct {
	Keys   []indexKeyWire `json:"keys"`
	Unique bool           `json:"unique"`
	Sparse bool           `json:"sparse"`
}

func (b *Backend) ListIndexes(ctx context.Context, dbName, coll string) ([]backend.IndexSpec, error) {
	db, err := b.open(dbName)
	if err != nil {
		return nil, err
	}
	collID, ok, err := b.collectionID(ctx, db, coll)
	if err != nil || !ok {
		return defaultIDIndex(), err
	}
	rows, err := db.QueryContext(ctx, `SELECT name, key, options FROM indexes WHERE collection_id = ?`, collID)
	if err != nil {
		return nil, merr.Wrap(merr.Internal, err, "embedded: list indexes %s", coll)
	}
	defer rows.Close()

	out := defaultIDIndex()
	for rows.Next() {
		var name, keyJSON, optionsJSON string
		if err := rows.Scan(&name, &keyJSON, &optionsJSON); err != nil {
			return nil, merr.Wrap(merr.Internal, err, "embedded: scan index row")
		}
		var wire indexSpecWire
		if err := json.Unmarshal([]byte(keyJSON), &wire.Keys); err != nil {
			return nil, merr.Wrap(merr.Internal, err, "embedded: decode index keys")
		}
		_ = json.Unmarshal([]byte(optionsJSON), &wire)
		spec := backend.IndexSpec{Name: name, Unique: wire.Unique, Sparse: wire.Sparse}
		for _, k := range wire.Keys {
			spec.Keys = append(spec.Keys, backend.IndexKey{Field: k.Field, Direction: k.Direction})
		}
		out = append(out, spec)
	}
	return out, rows.Err()
}

// defaultIDIndex is the implicit (collection_id, _id) index every collection
// carries, per spec.md §4.3.
func defaultIDIndex() []backend.IndexSpec {
	return []backend.IndexSpec{{
		Name: "_id_",
		Keys: []backend.IndexKey{{Field: "_id", Direction: 1}},
	}}
}

func (b *Backend) CreateIndexes(ctx context.Context, dbName, coll string, specs []backend.IndexSpec) error {
	db, err := b.open(dbName)
	if err != nil {
		return err
	}
	collID, err := b.ensureCollectionID(ctx, db, coll)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		name := spec.SynthesizeName()
		keys := make([]indexKeyWire, len(spec.Keys))
		for i, k := range spec.Keys {
			keys[i] = indexKeyWire{Field: k.Field, Direction: k.Direction}
		}
		keyJSON, err := json.Marshal(keys)
		if err != nil {
			return merr.Wrap(merr.Validation, err, "embedded: encode index keys")
		}
		optionsJSON, err := json.Marshal(indexSpecWire{Unique: spec.Unique, Sparse: spec.Sparse})
		if err != nil {
			return merr.Wrap(merr.Validation, err, "embedded: encode index options")
		}
		_, err = db.ExecContext(ctx,
			`INSERT OR REPLACE INTO indexes(collection_id, name, key, options) VALUES (?, ?, ?, ?)`,
			collID, name, string(keyJSON), string(optionsJSON))
		if err != nil {
			return merr.Wrap(merr.Internal, err, "embedded: create index %s", name)
		}
	}
	return nil
}

func (b *Backend) DropIndex(ctx context.Context, dbName, coll, name string) error {
	db, err := b.open(dbName)
	if err != nil {
		return err
	}
	collID, ok, err := b.collectionID(ctx, db, coll)
	if err != nil || !ok {
		return err
	}
	if name == "_id_" {
		return merr.New(merr.Validation, "embedded: the _id_ index cannot be dropped")
	}
	_, err = db.ExecContext(ctx, `DELETE FROM indexes WHERE collection_id = ? AND name = ?`, collID, name)
	if err != nil {
		return merr.Wrap(merr.Internal, err, "embedded: drop index %s", name)
	}
	return nil
}

func (b *Backend) DropAllIndexesExceptID(ctx context.Context, dbName, coll string) error {
	db, err := b.open(dbName)
	if err != nil {
		return err
	}
	collID, ok, err := b.collectionID(ctx, db, coll)
	if err != nil || !ok {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM indexes WHERE collection_id = ?`, collID)
	if err != nil {
		return merr.Wrap(merr.Internal, err, "embedded: drop all indexes for %s", coll)
	}
	return nil
}
