package cas

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindoo/mindoo-core/internal/bloom"
	"github.com/mindoo/mindoo-core/internal/types"
)

func entry(id, docID, contentHash string, ts int64, deps ...string) types.Entry {
	return types.Entry{
		EntryMetadata: types.EntryMetadata{
			ID:                 id,
			DocID:              docID,
			ContentHash:        contentHash,
			EntryType:          types.EntryDocChange,
			CreatedAt:          ts,
			CreatedByPublicKey: "pub1",
			Signature:          []byte{1, 2, 3, 4},
			DependencyIDs:      deps,
		},
		EncryptedData: []byte(contentHash + "-payload"),
	}
}

func TestBasicPutGet(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemory(nil)

	e := entry("id1", "doc1", "c1", 100)
	require.NoError(t, store.PutEntries(ctx, []types.Entry{e}))

	got, err := store.GetEntries(ctx, []string{"id1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "doc1", got[0].DocID)

	present, err := store.HasEntries(ctx, []string{"id1", "id2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id1"}, present)
}

func TestDedupBySharedContentHash(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemory(nil)

	e1 := entry("id1", "doc1", "shared", 100)
	e2 := entry("id2", "doc2", "shared", 101)
	require.NoError(t, store.PutEntries(ctx, []types.Entry{e1, e2}))

	m := store.(*Memory)
	assert.Len(t, m.payloads, 1)
	assert.Equal(t, 2, m.refcount["shared"])
}

func TestPutEntriesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemory(nil)

	e := entry("id1", "doc1", "c1", 100)
	require.NoError(t, store.PutEntries(ctx, []types.Entry{e}))
	require.NoError(t, store.PutEntries(ctx, []types.Entry{e}))

	m := store.(*Memory)
	assert.Equal(t, 1, m.refcount["c1"])
	ids, _ := store.GetAllIDs(ctx)
	assert.Equal(t, []string{"id1"}, ids)
}

func TestCursorScan(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemory(nil)

	e1 := entry("id1", "doc1", "c1", 100)
	e2 := entry("id2", "doc1", "c2", 101)
	e3 := entry("id3", "doc1", "c3", 102)
	require.NoError(t, store.PutEntries(ctx, []types.Entry{e1, e2, e3}))

	page1, err := store.ScanEntriesSince(ctx, types.Cursor{}, 2, types.ScanFilters{})
	require.NoError(t, err)
	require.Len(t, page1.Entries, 2)
	assert.Equal(t, "id1", page1.Entries[0].ID)
	assert.Equal(t, "id2", page1.Entries[1].ID)
	assert.True(t, page1.HasMore)

	page2, err := store.ScanEntriesSince(ctx, page1.NextCursor, 2, types.ScanFilters{})
	require.NoError(t, err)
	require.Len(t, page2.Entries, 1)
	assert.Equal(t, "id3", page2.Entries[0].ID)
	assert.False(t, page2.HasMore)
}

func TestPurgeWithSharedPayload(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemory(nil)

	unique := entry("id1", "doc1", "unique", 100)
	shared1 := entry("id2", "doc2", "shared", 101)
	shared2 := entry("id3", "doc1", "shared", 102)
	require.NoError(t, store.PutEntries(ctx, []types.Entry{unique, shared1, shared2}))

	require.NoError(t, store.PurgeDocHistory(ctx, "doc1"))

	ids, err := store.GetAllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id2"}, ids)

	m := store.(*Memory)
	assert.Len(t, m.payloads, 1)
	_, sharedStillPresent := m.payloads["shared"]
	assert.True(t, sharedStillPresent)
	_, uniqueStillPresent := m.payloads["unique"]
	assert.False(t, uniqueStillPresent)
}

func TestDependencyStopAt(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemory(nil)

	id1 := entry("id1", "doc1", "c1", 100)
	id1.EntryType = types.EntryDocCreate

	id2 := entry("id2", "doc1", "c2", 101, "id1")
	id2.EntryType = types.EntryDocSnapshot

	id3 := entry("id3", "doc1", "c3", 102, "id2")
	id3.EntryType = types.EntryDocChange

	require.NoError(t, store.PutEntries(ctx, []types.Entry{id1, id2, id3}))

	result, err := store.ResolveDependencies(ctx, "id3", types.DependencyOptions{
		StopAtEntryType: types.EntryDocSnapshot,
		IncludeStart:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id2", "id3"}, result)
}

func TestResolveDependenciesFullClosureNoDuplicates(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemory(nil)

	a := entry("a", "doc1", "ca", 100)
	b := entry("b", "doc1", "cb", 101, "a")
	c := entry("c", "doc1", "cc", 102, "a")
	d := entry("d", "doc1", "cd", 103, "b", "c")
	require.NoError(t, store.PutEntries(ctx, []types.Entry{a, b, c, d}))

	result, err := store.ResolveDependencies(ctx, "d", types.DefaultDependencyOptions())
	require.NoError(t, err)

	assert.Len(t, result, 4)
	seen := map[string]bool{}
	for _, id := range result {
		assert.False(t, seen[id], "duplicate id %q in resolved dependency order", id)
		seen[id] = true
	}
	assert.Equal(t, "d", result[len(result)-1], "start id must be last (shallowest) when include_start is true")
	assert.Equal(t, "a", result[0], "deepest dependency must appear first")
}

func TestGetEntriesOmitsMissingPayloadWithoutSynthesizing(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemory(nil)
	m := store.(*Memory)

	e := entry("id1", "doc1", "c1", 100)
	require.NoError(t, store.PutEntries(ctx, []types.Entry{e}))
	delete(m.payloads, "c1")

	got, err := store.GetEntries(ctx, []string{"id1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBloomSummaryContainsAllInsertedIDs(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemory(nil)
	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		entry("id1", "doc1", "c1", 100),
		entry("id2", "doc1", "c2", 101),
	}))

	summary, err := store.GetIDBloomSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalIDs)
	assert.True(t, bloom.MightContain(summary, "id1"))
	assert.True(t, bloom.MightContain(summary, "id2"))
}
