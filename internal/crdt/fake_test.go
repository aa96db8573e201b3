package crdt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeApplyChangesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := NewFake()

	require.NoError(t, e.ApplyChanges(ctx, "doc1", []byte("change-a")))
	require.NoError(t, e.ApplyChanges(ctx, "doc1", []byte("change-a")))
	require.NoError(t, e.ApplyChanges(ctx, "doc1", []byte("change-b")))

	assert.Len(t, e.AppliedChanges("doc1"), 2)
}

func TestFakeChangeHashIsDeterministic(t *testing.T) {
	e := NewFake()
	h1, err := e.ChangeHash([]byte("same bytes"))
	require.NoError(t, err)
	h2, err := e.ChangeHash([]byte("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
