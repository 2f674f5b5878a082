package proxy_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dot-do/mondodb/internal/backend"
	"github.com/dot-do/mondodb/internal/backend/proxy"
	"github.com/dot-do/mondodb/internal/document"
	"github.com/dot-do/mondodb/internal/merr"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *proxy.Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := proxy.New(proxy.Config{
		Endpoint:   srv.URL,
		RetryDelay: time.Millisecond,
		RetryCount: 3,
	}, nil)
	require.NoError(t, err)
	return b
}

func TestNewRejectsMalformedEndpoint(t *testing.T) {
	_, err := proxy.New(proxy.Config{Endpoint: "::not a url"}, nil)
	require.Error(t, err)
}

func TestFindDecodesColumnarRowsIntoDocuments(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var env map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&env)
		require.Equal(t, "find", env["method"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": 1,
			"result": map[string]interface{}{
				"columns": []map[string]string{{"name": "name", "type": "String"}},
				"rows":    []map[string]interface{}{{"name": "ada"}},
				"hasMore": false,
			},
		})
	})

	res, err := b.Find(context.Background(), "db", "coll", backend.FindOptions{Filter: document.NewDoc()})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	name, ok := res.Documents[0].Get("name")
	require.True(t, ok)
	require.Equal(t, "ada", name.Str)
}

func TestCallRetriesOnTransientStatusThenSucceeds(t *testing.T) {
	var attempts int32
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": 1, "result": int64(0)})
	})

	n, err := b.Count(context.Background(), "db", "coll", document.NewDoc())
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
	require.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestCallStopsImmediatelyOnNonRetryableCode(t *testing.T) {
	var attempts int32
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": 0, "error": "bad filter", "code": merr.CodeBadValue, "codeName": "BadValue",
		})
	})

	_, err := b.Count(context.Background(), "db", "coll", document.NewDoc())
	require.Error(t, err)
	require.Equal(t, merr.Validation, merr.KindOf(err))
	require.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestCallExhaustsRetriesOnPersistentTransientError(t *testing.T) {
	var attempts int32
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := b.Count(context.Background(), "db", "coll", document.NewDoc())
	require.Error(t, err)
	require.Equal(t, int32(4), atomic.LoadInt32(&attempts)) // initial + 3 retries
}

func TestInsertOneDecodesInsertedIDs(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": 1,
			"result": map[string]interface{}{
				"acknowledged":  true,
				"insertedCount": 1,
				"insertedIds":   []string{"abc123"},
			},
		})
	})

	d := document.NewDoc()
	res, err := b.InsertOne(context.Background(), "db", "coll", d)
	require.NoError(t, err)
	require.True(t, res.Acknowledged)
	require.Len(t, res.InsertedIDs, 1)
	require.Equal(t, "abc123", res.InsertedIDs[0].String())
}

func TestCreateCursorSynthesizesNegativeIDsOnOverflow(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	docs := make([]*document.Doc, 10)
	for i := range docs {
		docs[i] = document.NewDoc()
	}
	res, err := b.CreateCursor(context.Background(), "db.coll", docs, 4)
	require.NoError(t, err)
	require.Less(t, res.CursorID, int64(0))
	require.True(t, res.HasMore)
	require.Len(t, res.Documents, 4)

	cur, ok := b.GetCursor(context.Background(), res.CursorID)
	require.True(t, ok)
	require.Equal(t, "db.coll", cur.Namespace)
}

func TestCreateCursorFitsWithinBatchReturnsNoCursor(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	docs := []*document.Doc{document.NewDoc(), document.NewDoc()}
	res, err := b.CreateCursor(context.Background(), "db.coll", docs, 10)
	require.NoError(t, err)
	require.Zero(t, res.CursorID)
	require.False(t, res.HasMore)
}
