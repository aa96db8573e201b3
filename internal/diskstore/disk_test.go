package diskstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindoo/mindoo-core/internal/types"
)

func testEntry(id, docID, contentHash string, ts int64, deps ...string) types.Entry {
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

func openTestStore(t *testing.T) (*Disk, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(Config{BaseDir: dir, DisableWatch: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func TestOpenCreatesLayout(t *testing.T) {
	store, dir := openTestStore(t)
	_ = store
	for _, sub := range []string{"entries", "content", "metadata-segments"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, dir := openTestStore(t)

	e := testEntry("id1", "doc1", "c1", 100)
	require.NoError(t, store.PutEntries(ctx, []types.Entry{e}))

	got, err := store.GetEntries(ctx, []string{"id1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, e.EncryptedData, got[0].EncryptedData)

	// entry file and content file both landed on disk.
	_, err = os.Stat(filepath.Join(dir, "entries", "id1.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "content", "c1.bin"))
	require.NoError(t, err)
}

func TestRestartReplaysSegmentsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(Config{BaseDir: dir, DisableWatch: true}, nil)
	require.NoError(t, err)
	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		testEntry("id1", "doc1", "c1", 100),
		testEntry("id2", "doc1", "c2", 101),
	}))
	require.NoError(t, store.Close())

	reopened, err := Open(Config{BaseDir: dir, DisableWatch: true}, nil)
	require.NoError(t, err)
	defer reopened.Close()

	ids, err := reopened.GetAllIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"id1", "id2"}, ids)
}

func TestCompactionRewritesSnapshotAndDeletesOwnedSegments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(Config{BaseDir: dir, DisableWatch: true, CompactionMinFiles: 2}, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutEntries(ctx, []types.Entry{testEntry("id1", "doc1", "c1", 100)}))
	require.NoError(t, store.PutEntries(ctx, []types.Entry{testEntry("id2", "doc1", "c2", 101)}))

	status, err := store.GetCompactionStatus(ctx)
	require.NoError(t, err)
	require.Zero(t, status.PendingSegments, "compaction should have fired and cleared owned segments")

	_, err = os.Stat(filepath.Join(dir, "metadata-index.json"))
	require.NoError(t, err)
}

func TestPurgeDocHistoryRemovesEntryFiles(t *testing.T) {
	ctx := context.Background()
	store, dir := openTestStore(t)

	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		testEntry("id1", "doc1", "unique", 100),
		testEntry("id2", "doc2", "shared", 101),
		testEntry("id3", "doc1", "shared", 102),
	}))

	require.NoError(t, store.PurgeDocHistory(ctx, "doc1"))

	ids, err := store.GetAllIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"id2"}, ids)

	_, err = os.Stat(filepath.Join(dir, "entries", "id1.json"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "content", "unique.bin"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "content", "shared.bin"))
	require.NoError(t, err)
}
