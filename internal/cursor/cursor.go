// Package cursor implements the server-side cursor manager of spec.md §4.6:
// a mutex-protected table of materialized result sets, batch delivery, and
// wall-clock TTL eviction. Embedded into each backend implementation (the
// teacher's ModernIt in modern_iterator.go is the single-shot, driver-backed
// analogue this generalizes into a long-lived, backend-owned table).
package cursor

import (
	"sync"
	"time"

	"github.com/dot-do/mondodb/internal/document"
)

// TTL is the cursor lifetime of spec.md §3/§4.6: a cursor is evicted once
// (now - createdAt) exceeds this duration.
const TTL = 10 * time.Minute

// entry is one held cursor's full state.
type entry struct {
	namespace string
	documents []*document.Doc
	position  int
	batchSize int
	createdAt time.Time
}

// Manager is a single backend's cursor table. Zero value is not usable; call
// New.
type Manager struct {
	mu      sync.Mutex
	entries map[int64]*entry
	nextID  int64
}

// New builds an empty Manager with ids starting at 1 (spec.md §4.6).
func New() *Manager {
	return &Manager{entries: make(map[int64]*entry), nextID: 1}
}

// Batch is one delivered slice of documents plus whether more remain.
type Batch struct {
	Documents []*document.Doc
	CursorID  int64
	HasMore   bool
}

// Open registers docs under a fresh cursor id and returns the first batch.
// If all of docs fit within batchSize, it returns them directly with
// CursorID 0 (spec.md §4.2 "cursorId = 0 denotes the result fully fits in
// the first batch") without allocating a cursor entry at all.
func (m *Manager) Open(namespace string, docs []*document.Doc, batchSize int) Batch {
	if batchSize <= 0 {
		batchSize = len(docs)
	}
	if len(docs) <= batchSize {
		return Batch{Documents: docs, CursorID: 0, HasMore: false}
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	first := append([]*document.Doc(nil), docs[:batchSize]...)
	m.entries[id] = &entry{
		namespace: namespace,
		documents: docs,
		position:  batchSize,
		batchSize: batchSize,
		createdAt: time.Now(),
	}
	m.mu.Unlock()

	return Batch{Documents: first, CursorID: id, HasMore: true}
}

// Advance returns the next up-to-n documents for id, advancing the read
// position. Returns an empty, not-found batch for an unknown or expired id.
func (m *Manager) Advance(id int64, n int) (Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Batch{}, false
	}
	if n <= 0 {
		n = e.batchSize
	}
	end := e.position + n
	if end > len(e.documents) {
		end = len(e.documents)
	}
	slice := append([]*document.Doc(nil), e.documents[e.position:end]...)
	e.position = end
	hasMore := e.position < len(e.documents)

	cursorID := id
	if !hasMore {
		delete(m.entries, id)
		cursorID = 0
	}
	return Batch{Documents: slice, CursorID: cursorID, HasMore: hasMore}, true
}

// Close removes id, reporting whether it existed.
func (m *Manager) Close(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return false
	}
	delete(m.entries, id)
	return true
}

// Get reports a cursor's namespace and batch size without advancing it.
func (m *Manager) Get(id int64) (namespace string, batchSize int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, found := m.entries[id]
	if !found {
		return "", 0, false
	}
	return e.namespace, e.batchSize, true
}

// CleanupExpired removes every cursor older than TTL and returns the count
// removed (spec.md §4.6/§5's once-per-minute sweep).
func (m *Manager) CleanupExpired() int {
	cutoff := time.Now().Add(-TTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if e.createdAt.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

// Len reports the number of currently held cursors (tests, metrics).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
