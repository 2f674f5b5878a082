package cursor

import (
	"testing"
	"time"

	"github.com/dot-do/mondodb/internal/document"
	"github.com/stretchr/testify/require"
)

func docs(n int) []*document.Doc {
	out := make([]*document.Doc, n)
	for i := range out {
		d := document.NewDoc()
		d.Set("_id", document.Int64(int64(i)))
		out[i] = d
	}
	return out
}

func TestOpenFitsWithinBatchSizeReturnsNoCursor(t *testing.T) {
	m := New()
	b := m.Open("db.coll", docs(5), 10)
	require.Equal(t, int64(0), b.CursorID)
	require.False(t, b.HasMore)
	require.Equal(t, 0, m.Len())
}

func TestOpenOverflowCreatesCursorAndAdvanceDrainsIt(t *testing.T) {
	m := New()
	b := m.Open("db.coll", docs(250), 101)
	require.NotZero(t, b.CursorID)
	require.True(t, b.HasMore)
	require.Len(t, b.Documents, 101)

	second, ok := m.Advance(b.CursorID, 101)
	require.True(t, ok)
	require.True(t, second.HasMore)
	require.Len(t, second.Documents, 101)

	third, ok := m.Advance(b.CursorID, 101)
	require.True(t, ok)
	require.False(t, third.HasMore)
	require.Len(t, third.Documents, 48)
	require.Equal(t, int64(0), third.CursorID)

	require.Equal(t, 0, m.Len())
}

func TestAdvanceUnknownCursorNotFound(t *testing.T) {
	m := New()
	_, ok := m.Advance(999, 10)
	require.False(t, ok)
}

func TestCloseRemovesCursor(t *testing.T) {
	m := New()
	b := m.Open("db.coll", docs(200), 50)
	require.True(t, m.Close(b.CursorID))
	require.False(t, m.Close(b.CursorID))
}

func TestCleanupExpiredEvictsOldCursors(t *testing.T) {
	m := New()
	b := m.Open("db.coll", docs(200), 50)

	m.mu.Lock()
	m.entries[b.CursorID].createdAt = time.Now().Add(-TTL - time.Second)
	m.mu.Unlock()

	n := m.CleanupExpired()
	require.Equal(t, 1, n)
	require.Equal(t, 0, m.Len())
}

func TestGetReportsNamespaceAndBatchSize(t *testing.T) {
	m := New()
	b := m.Open("mydb.mycoll", docs(300), 75)
	ns, batchSize, ok := m.Get(b.CursorID)
	require.True(t, ok)
	require.Equal(t, "mydb.mycoll", ns)
	require.Equal(t, 75, batchSize)
}
