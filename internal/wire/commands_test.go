package wire_test

import (
	"context"
	"testing"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/merr"
	"github.com/dot-do/mondodb/internal/wire"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type stubBackend struct {
	backend.Backend
	findResult   backend.FindResult
	insertResult backend.WriteResult
	insertErr    error
}

func (s *stubBackend) Find(ctx context.Context, db, coll string, opts backend.FindOptions) (backend.FindResult, error) {
	return s.findResult, nil
}

func (s *stubBackend) InsertMany(ctx context.Context, db, coll string, docs []*document.Doc) (backend.WriteResult, error) {
	return s.insertResult, s.insertErr
}

func frameFor(t *testing.T, cmd bson.M, db string) *wire.Frame {
	t.Helper()
	raw, err := bson.Marshal(cmd)
	require.NoError(t, err)
	return &wire.Frame{Command: bson.Raw(raw), Database: db}
}

func TestHandlePingReturnsOK(t *testing.T) {
	srv := &wire.Server{Backend: &stubBackend{}}
	reply := srv.Handle(context.Background(), frameFor(t, bson.M{"ping": 1}, "admin"))
	require.Equal(t, float64(1), reply["ok"])
}

func TestHandleHelloReportsWireVersion(t *testing.T) {
	srv := &wire.Server{Backend: &stubBackend{}}
	reply := srv.Handle(context.Background(), frameFor(t, bson.M{"hello": 1}, "admin"))
	require.Equal(t, true, reply["ismaster"])
	require.Equal(t, 17, reply["maxWireVersion"])
}

func TestHandleUnknownCommandReturnsCommandNotFound(t *testing.T) {
	srv := &wire.Server{Backend: &stubBackend{}}
	reply := srv.Handle(context.Background(), frameFor(t, bson.M{"frobnicate": 1}, "admin"))
	require.Equal(t, float64(0), reply["ok"])
	require.Equal(t, merr.CodeCommandNotFound, reply["code"])
}

func TestHandleEmptyCommandDocumentErrors(t *testing.T) {
	srv := &wire.Server{Backend: &stubBackend{}}
	reply := srv.Handle(context.Background(), frameFor(t, bson.M{}, "admin"))
	require.Equal(t, float64(0), reply["ok"])
}

func TestHandleFindReturnsFirstBatch(t *testing.T) {
	doc := document.NewDoc()
	doc.Set("name", document.String("ada"))
	srv := &wire.Server{Backend: &stubBackend{findResult: backend.FindResult{Documents: []*document.Doc{doc}}}}

	reply := srv.Handle(context.Background(), frameFor(t, bson.M{"find": "people", "filter": bson.M{}}, "db"))
	cursor, ok := reply["cursor"].(bson.M)
	require.True(t, ok)
	batch, ok := cursor["firstBatch"].(bson.A)
	require.True(t, ok)
	require.Len(t, batch, 1)
}

func TestHandleInsertReportsInsertedCount(t *testing.T) {
	srv := &wire.Server{Backend: &stubBackend{insertResult: backend.WriteResult{InsertedCount: 2}}}
	reply := srv.Handle(context.Background(), frameFor(t, bson.M{
		"insert":    "coll",
		"documents": bson.A{bson.M{"a": 1}, bson.M{"a": 2}},
	}, "db"))
	require.Equal(t, 2, reply["n"])
}

func TestHandleInsertPropagatesBackendError(t *testing.T) {
	srv := &wire.Server{Backend: &stubBackend{insertErr: merr.New(merr.Conflict, "duplicate key")}}
	reply := srv.Handle(context.Background(), frameFor(t, bson.M{
		"insert":    "coll",
		"documents": bson.A{bson.M{"a": 1}},
	}, "db"))
	require.Equal(t, float64(0), reply["ok"])
	require.NotEmpty(t, reply["errmsg"])
}

func TestHandleInsertRejectsNonArrayDocuments(t *testing.T) {
	srv := &wire.Server{Backend: &stubBackend{}}
	reply := srv.Handle(context.Background(), frameFor(t, bson.M{"insert": "coll", "documents": "nope"}, "db"))
	require.Equal(t, float64(0), reply["ok"])
}
