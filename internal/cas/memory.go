package cas

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/mindoo/mindoo-core/internal/bloom"
	"github.com/mindoo/mindoo-core/internal/logging"
	"github.com/mindoo/mindoo-core/internal/types"
)

// orderedItem is the btree element: an entry's canonical sort key plus the
// id it identifies, so the tree alone is sufficient to drive scans without
// a second lookup.
type orderedItem struct {
	key types.SortKey
	id  string
}

func orderedLess(a, b orderedItem) bool {
	return a.key.Less(b.key)
}

// Memory is an in-memory Store, the reference implementation of the CAS
// contract. internal/diskstore wraps the same indexing scheme with a
// durable backend; tests and short-lived tooling use Memory directly.
type Memory struct {
	mu sync.RWMutex
	log *logging.Logger

	metadata map[string]types.EntryMetadata
	payloads map[string][]byte // content_hash -> ciphertext
	refcount map[string]int    // content_hash -> number of live entries referencing it
	docIndex map[string]map[string]struct{} // doc_id -> set of entry ids
	ordered  *btree.BTreeG[orderedItem]
}

// NewMemory constructs an empty in-memory store. log may be nil.
func NewMemory(log *logging.Logger) *Memory {
	return &Memory{
		log:      log,
		metadata: make(map[string]types.EntryMetadata),
		payloads: make(map[string][]byte),
		refcount: make(map[string]int),
		docIndex: make(map[string]map[string]struct{}),
		ordered:  btree.NewG(32, orderedLess),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) PutEntries(_ context.Context, entries []types.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if _, exists := m.metadata[e.ID]; exists {
			continue
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("cas: put_entries: %w", err)
		}

		if _, havePayload := m.payloads[e.ContentHash]; !havePayload {
			m.payloads[e.ContentHash] = append([]byte(nil), e.EncryptedData...)
		}
		m.refcount[e.ContentHash]++

		m.metadata[e.ID] = e.EntryMetadata
		m.ordered.ReplaceOrInsert(orderedItem{key: e.Key(), id: e.ID})

		if m.docIndex[e.DocID] == nil {
			m.docIndex[e.DocID] = make(map[string]struct{})
		}
		m.docIndex[e.DocID][e.ID] = struct{}{}
	}
	return nil
}

func (m *Memory) GetEntries(_ context.Context, ids []string) ([]types.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Entry, 0, len(ids))
	for _, id := range ids {
		meta, ok := m.metadata[id]
		if !ok {
			continue
		}
		payload, ok := m.payloads[meta.ContentHash]
		if !ok {
			m.log.Warnf("cas: metadata for %q present but payload for content_hash %q missing; omitting", id, meta.ContentHash)
			continue
		}
		out = append(out, types.Entry{EntryMetadata: meta, EncryptedData: append([]byte(nil), payload...)})
	}
	return out, nil
}

func (m *Memory) HasEntries(_ context.Context, ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := m.metadata[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) GetAllIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.metadata))
	m.ordered.Ascend(func(item orderedItem) bool {
		out = append(out, item.id)
		return true
	})
	return out, nil
}

func (m *Memory) FindNewEntries(_ context.Context, knownIDs []string) ([]types.EntryMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	known := toSet(knownIDs)
	var out []types.EntryMetadata
	m.ordered.Ascend(func(item orderedItem) bool {
		if _, isKnown := known[item.id]; !isKnown {
			out = append(out, m.metadata[item.id])
		}
		return true
	})
	return out, nil
}

func (m *Memory) FindNewEntriesForDoc(_ context.Context, knownIDs []string, docID string) ([]types.EntryMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	known := toSet(knownIDs)
	ids := m.docIndex[docID]
	out := make([]types.EntryMetadata, 0, len(ids))
	for id := range ids {
		if _, isKnown := known[id]; isKnown {
			continue
		}
		out = append(out, m.metadata[id])
	}
	types.SortMetadata(out)
	return out, nil
}

func (m *Memory) FindEntries(_ context.Context, entryType types.EntryType, from, until *int64) ([]types.EntryMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filters := types.ScanFilters{EntryTypes: []types.EntryType{entryType}, From: from, Until: until}
	var out []types.EntryMetadata
	m.ordered.Ascend(func(item orderedItem) bool {
		meta := m.metadata[item.id]
		if filters.Match(meta) {
			out = append(out, meta)
		}
		return true
	})
	return out, nil
}

func (m *Memory) ScanEntriesSince(_ context.Context, cursor types.Cursor, limit int, filters types.ScanFilters) (types.ScanPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var page types.ScanPage
	var pivot *orderedItem
	if !cursor.IsZero() {
		k := cursor.Key()
		pivot = &orderedItem{key: k}
	}

	visit := func(item orderedItem) bool {
		if pivot != nil && !pivot.key.Less(item.key) {
			// item is at or before the cursor; skip (strictly-after semantics).
			return true
		}
		meta := m.metadata[item.id]
		if !filters.Match(meta) {
			return true
		}
		if len(page.Entries) == limit {
			page.HasMore = true
			return false
		}
		page.Entries = append(page.Entries, meta)
		return true
	}

	if pivot != nil {
		m.ordered.AscendGreaterOrEqual(*pivot, visit)
	} else {
		m.ordered.Ascend(visit)
	}

	if len(page.Entries) > 0 {
		page.NextCursor = types.NewCursor(page.Entries[len(page.Entries)-1].Key())
	} else {
		page.NextCursor = cursor
	}
	return page, nil
}

func (m *Memory) ResolveDependencies(_ context.Context, startID string, opts types.DependencyOptions) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type queued struct {
		id    string
		depth int
	}

	visited := map[string]bool{startID: true}
	queue := []queued{{startID, 0}}
	var visitOrder []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		meta, ok := m.metadata[cur.id]
		if !ok {
			continue
		}
		visitOrder = append(visitOrder, cur.id)

		atDepthLimit := opts.MaxDepth > 0 && cur.depth >= opts.MaxDepth
		isStopType := opts.StopAtEntryType != "" && meta.EntryType == opts.StopAtEntryType
		if atDepthLimit || isStopType {
			continue
		}
		for _, dep := range meta.DependencyIDs {
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, queued{dep, cur.depth + 1})
			}
		}
	}

	result := make([]string, 0, len(visitOrder))
	for i := len(visitOrder) - 1; i >= 0; i-- {
		id := visitOrder[i]
		if !opts.IncludeStart && id == startID {
			continue
		}
		result = append(result, id)
	}
	return result, nil
}

func (m *Memory) GetIDBloomSummary(ctx context.Context) (types.BloomSummary, error) {
	ids, err := m.GetAllIDs(ctx)
	if err != nil {
		return types.BloomSummary{}, err
	}
	return bloom.Build(ids), nil
}

func (m *Memory) PurgeDocHistory(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.docIndex[docID]
	for id := range ids {
		meta, ok := m.metadata[id]
		if !ok {
			continue
		}
		delete(m.metadata, id)
		m.ordered.Delete(orderedItem{key: meta.Key(), id: id})

		m.refcount[meta.ContentHash]--
		if m.refcount[meta.ContentHash] <= 0 {
			delete(m.payloads, meta.ContentHash)
			delete(m.refcount, meta.ContentHash)
		}
	}
	delete(m.docIndex, docID)
	m.log.Infof("cas: purged doc history for %q (%d entries)", docID, len(ids))
	return nil
}

func (m *Memory) GetCompactionStatus(_ context.Context) (types.CompactionStatus, error) {
	return types.CompactionStatus{Disabled: true}, nil
}

func (m *Memory) AwaitIndexReady(_ context.Context) error {
	return nil
}

func (m *Memory) GetIndexBuildStatus(_ context.Context) (types.IndexBuildStatus, error) {
	return types.IndexBuildStatus{Ready: true}, nil
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}
