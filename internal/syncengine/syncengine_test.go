package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindoo/mindoo-core/internal/bloom"
	"github.com/mindoo/mindoo-core/internal/cas"
	"github.com/mindoo/mindoo-core/internal/crypto"
	"github.com/mindoo/mindoo-core/internal/idgen"
	"github.com/mindoo/mindoo-core/internal/types"
)

func sampleEntry(t *testing.T, id, docID string, ts int64) types.Entry {
	t.Helper()
	kp, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	data := []byte("payload-" + id)
	sig := crypto.Sign(kp.Private, data)
	return types.Entry{
		EntryMetadata: types.EntryMetadata{
			ID:                 id,
			DocID:              docID,
			EntryType:          types.EntryDocCreate,
			ContentHash:        idgen.ContentHash(data),
			CreatedAt:          ts,
			CreatedByPublicKey: "k",
			Signature:          sig,
		},
		EncryptedData: data,
	}
}

func TestPullFetchesOnlyMissingEntries(t *testing.T) {
	ctx := context.Background()
	local := cas.NewMemory(nil)
	remote := cas.NewMemory(nil)

	require.NoError(t, remote.PutEntries(ctx, []types.Entry{
		sampleEntry(t, "id1", "doc1", 100),
		sampleEntry(t, "id2", "doc1", 101),
	}))
	require.NoError(t, local.PutEntries(ctx, []types.Entry{
		sampleEntry(t, "id1", "doc1", 100),
	}))

	eng := New(nil)
	result, err := eng.Pull(ctx, local, "db1", remote, "db1", Options{FetchConcurrency: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"id2"}, result.FetchedIDs)
	assert.Empty(t, result.FailedIDs)

	ids, err := local.GetAllIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"id1", "id2"}, ids)
}

func TestPullRefusesCrossDBID(t *testing.T) {
	ctx := context.Background()
	local := cas.NewMemory(nil)
	remote := cas.NewMemory(nil)

	eng := New(nil)
	_, err := eng.Pull(ctx, local, "db1", remote, "db2", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIncompatibleStore)
}

func TestPushMirrorsPull(t *testing.T) {
	ctx := context.Background()
	local := cas.NewMemory(nil)
	remote := cas.NewMemory(nil)

	require.NoError(t, local.PutEntries(ctx, []types.Entry{
		sampleEntry(t, "id1", "doc1", 100),
	}))

	eng := New(nil)
	result, err := eng.Push(ctx, local, "db1", remote, "db1", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id1"}, result.FetchedIDs)

	ids, err := remote.GetAllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id1"}, ids)
}

func TestSyncConvergesAfterOnePull(t *testing.T) {
	ctx := context.Background()
	local := cas.NewMemory(nil)
	remote := cas.NewMemory(nil)

	require.NoError(t, remote.PutEntries(ctx, []types.Entry{
		sampleEntry(t, "id1", "doc1", 100),
		sampleEntry(t, "id2", "doc1", 101),
	}))

	eng := New(nil)
	_, err := eng.Pull(ctx, local, "db1", remote, "db1", Options{})
	require.NoError(t, err)

	localIDs, err := local.GetAllIDs(ctx)
	require.NoError(t, err)
	remoteIDs, err := remote.GetAllIDs(ctx)
	require.NoError(t, err)
	assert.True(t, Converged(localIDs, remoteIDs))
}

func TestSecondPullWithKnownIDsYieldsOnlyRemainder(t *testing.T) {
	ctx := context.Background()
	local := cas.NewMemory(nil)
	remote := cas.NewMemory(nil)

	require.NoError(t, remote.PutEntries(ctx, []types.Entry{
		sampleEntry(t, "id1", "doc1", 100),
		sampleEntry(t, "id2", "doc1", 101),
	}))
	require.NoError(t, local.PutEntries(ctx, []types.Entry{
		sampleEntry(t, "id1", "doc1", 100),
	}))

	eng := New(nil)
	result, err := eng.Pull(ctx, local, "db1", remote, "db1", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id2"}, result.FetchedIDs)
}

func TestPullRejectsConcurrentSyncForSameDBID(t *testing.T) {
	ctx := context.Background()
	local := cas.NewMemory(nil)
	remote := cas.NewMemory(nil)

	eng := New(nil)
	end, err := eng.beginSync("db1")
	require.NoError(t, err)
	defer end()

	_, err = eng.Pull(ctx, local, "db1", remote, "db1", Options{})
	require.Error(t, err)
}

func TestPlanPushPartitionsByBloom(t *testing.T) {
	present := bloom.Build([]string{"id1", "id2"})

	missing, maybe := PlanPush(present, []string{"id1", "id3"})
	assert.Contains(t, maybe, "id1")
	assert.Contains(t, missing, "id3")
}
