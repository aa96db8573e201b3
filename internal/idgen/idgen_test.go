package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocEntryIDIsDeterministic(t *testing.T) {
	id1 := DocEntryID("doc1", "crdt-hash-a", []string{"dep1", "dep2"})
	id2 := DocEntryID("doc1", "crdt-hash-a", []string{"dep1", "dep2"})
	assert.Equal(t, id1, id2)
}

func TestDocEntryIDIsOrderIndependentOverDeps(t *testing.T) {
	id1 := DocEntryID("doc1", "crdt-hash-a", []string{"dep1", "dep2"})
	id2 := DocEntryID("doc1", "crdt-hash-a", []string{"dep2", "dep1"})
	assert.Equal(t, id1, id2, "dependency set order must not affect the id")
}

func TestDocEntryIDDiffersOnDocOrHash(t *testing.T) {
	base := DocEntryID("doc1", "crdt-hash-a", nil)
	otherDoc := DocEntryID("doc2", "crdt-hash-a", nil)
	otherHash := DocEntryID("doc1", "crdt-hash-b", nil)
	assert.NotEqual(t, base, otherDoc)
	assert.NotEqual(t, base, otherHash)
}

func TestContentHashIndependentOfID(t *testing.T) {
	h1 := ContentHash([]byte("same-bytes"))
	h2 := ContentHash([]byte("same-bytes"))
	assert.Equal(t, h1, h2)

	h3 := ContentHash([]byte("different-bytes"))
	assert.NotEqual(t, h1, h3)
}

func TestNewAttachmentChunkIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewAttachmentChunkID()
		assert.False(t, seen[id], "generated duplicate id %q", id)
		seen[id] = true
	}
}
