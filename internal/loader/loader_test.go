package loader

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindoo/mindoo-core/internal/cas"
	"github.com/mindoo/mindoo-core/internal/crdt"
	"github.com/mindoo/mindoo-core/internal/crypto"
	"github.com/mindoo/mindoo-core/internal/directory"
	"github.com/mindoo/mindoo-core/internal/idgen"
	"github.com/mindoo/mindoo-core/internal/types"
)

type testWriter struct {
	kp  crypto.SigningKeyPair
	key []byte
}

func newTestWriter(t *testing.T) testWriter {
	t.Helper()
	kp, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)
	return testWriter{kp: kp, key: key}
}

func (w testWriter) signingKeyB64() string {
	return base64.StdEncoding.EncodeToString(w.kp.Public)
}

func (w testWriter) entry(id, docID string, entryType types.EntryType, ts int64, plaintext string, deps ...string) types.Entry {
	ciphertext, err := crypto.EncryptSymmetric(w.key, []byte(plaintext))
	if err != nil {
		panic(err)
	}
	sig := crypto.Sign(w.kp.Private, ciphertext)
	return types.Entry{
		EntryMetadata: types.EntryMetadata{
			ID:                 id,
			DocID:              docID,
			EntryType:          entryType,
			ContentHash:        idgen.ContentHash(ciphertext),
			CreatedAt:          ts,
			CreatedByPublicKey: w.signingKeyB64(),
			DecryptionKeyID:    "key1",
			Signature:          sig,
			DependencyIDs:      deps,
		},
		EncryptedData: ciphertext,
	}
}

func newTestLoader(t *testing.T, w testWriter, admin AdminPolicy) (*Loader, cas.Store) {
	t.Helper()
	store := cas.NewMemory(nil)
	keys := MapKeyBag{"key1": w.key}
	l := New(store, crdt.NewFake(), directory.NewFake(), keys, nil, admin)
	return l, store
}

func TestLoadDocumentAppliesEntriesInOrder(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(t)
	l, store := newTestLoader(t, w, AdminPolicy{})

	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		w.entry("id1", "doc1", types.EntryDocCreate, 100, "create"),
		w.entry("id2", "doc1", types.EntryDocChange, 101, "change-a"),
	}))

	status, err := l.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)

	engine := l.engine.(*crdt.Fake)
	assert.Len(t, engine.AppliedChanges("doc1"), 2)
}

func TestLoadDocumentNotFound(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(t)
	l, _ := newTestLoader(t, w, AdminPolicy{})

	status, err := l.LoadDocument(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status)
}

func TestLoadDocumentDetectsDelete(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(t)
	l, store := newTestLoader(t, w, AdminPolicy{})

	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		w.entry("id1", "doc1", types.EntryDocCreate, 100, "create"),
		w.entry("id2", "doc1", types.EntryDocDelete, 101, "delete"),
	}))

	status, err := l.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, status)
}

func TestLoadDocumentSkipsInvalidSignature(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(t)
	l, store := newTestLoader(t, w, AdminPolicy{})

	good := w.entry("id1", "doc1", types.EntryDocCreate, 100, "create")
	bad := w.entry("id2", "doc1", types.EntryDocChange, 101, "change")
	bad.Signature = []byte{9, 9, 9, 9}

	require.NoError(t, store.PutEntries(ctx, []types.Entry{good, bad}))

	status, err := l.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, status)

	engine := l.engine.(*crdt.Fake)
	assert.Len(t, engine.AppliedChanges("doc1"), 1)
}

func TestLoadDocumentSnapshotCutoffDiscardsEarlierChanges(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(t)
	l, store := newTestLoader(t, w, AdminPolicy{})

	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		w.entry("id1", "doc1", types.EntryDocCreate, 100, "create"),
		w.entry("id2", "doc1", types.EntryDocChange, 101, "stale-change"),
		w.entry("id3", "doc1", types.EntryDocSnapshot, 150, "snapshot"),
		w.entry("id4", "doc1", types.EntryDocChange, 200, "fresh-change"),
	}))

	status, err := l.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)

	engine := l.engine.(*crdt.Fake)
	applied := engine.AppliedChanges("doc1")
	// snapshot + fresh-change + doc_create (doc_create is not discarded by
	// the snapshot cutoff rule, only doc_change entries are).
	assert.Len(t, applied, 3)
}

func TestLoadDocumentKeyPendingDefersDocument(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(t)
	store := cas.NewMemory(nil)
	l := New(store, crdt.NewFake(), directory.NewFake(), MapKeyBag{}, nil, AdminPolicy{})

	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		w.entry("id1", "doc1", types.EntryDocCreate, 100, "create"),
	}))

	status, err := l.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, StatusKeyPending, status)
}

func TestLoadDocumentAdminOnlyRejectsNonAdminSigner(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(t)
	adminKP, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)

	l, store := newTestLoader(t, w, AdminPolicy{Enabled: true, AdminSigningKey: adminKP.Public})
	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		w.entry("id1", "doc1", types.EntryDocCreate, 100, "create"),
	}))

	status, err := l.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, status)

	engine := l.engine.(*crdt.Fake)
	assert.Empty(t, engine.AppliedChanges("doc1"))
}

func TestSyncStoreChangesReloadsAffectedDocs(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(t)
	l, store := newTestLoader(t, w, AdminPolicy{})

	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		w.entry("id1", "doc1", types.EntryDocCreate, 100, "create"),
	}))
	_, err := l.LoadDocument(ctx, "doc1")
	require.NoError(t, err)

	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		w.entry("id2", "doc1", types.EntryDocChange, 101, "change"),
		w.entry("id3", "doc2", types.EntryDocCreate, 102, "other-doc"),
	}))

	changed, err := l.SyncStoreChanges(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc1", "doc2"}, changed)
}

func TestProcessChangesSincePaginatesInCanonicalOrder(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter(t)
	l, store := newTestLoader(t, w, AdminPolicy{})

	require.NoError(t, store.PutEntries(ctx, []types.Entry{
		w.entry("id1", "docA", types.EntryDocCreate, 100, "a"),
		w.entry("id2", "docB", types.EntryDocCreate, 200, "b"),
		w.entry("id3", "docC", types.EntryDocCreate, 300, "c"),
	}))
	for _, docID := range []string{"docA", "docB", "docC"} {
		_, err := l.LoadDocument(ctx, docID)
		require.NoError(t, err)
	}

	var visitedFirst []string
	cursor, hasMore := l.ProcessChangesSince(DocCursor{}, 2, func(docID string, _ Status) bool {
		visitedFirst = append(visitedFirst, docID)
		return true
	})
	assert.Equal(t, []string{"docA", "docB"}, visitedFirst)
	assert.True(t, hasMore)

	var visitedSecond []string
	_, hasMore = l.ProcessChangesSince(cursor, 2, func(docID string, _ Status) bool {
		visitedSecond = append(visitedSecond, docID)
		return true
	})
	assert.Equal(t, []string{"docC"}, visitedSecond)
	assert.False(t, hasMore)
}
