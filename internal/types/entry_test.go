package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr string
	}{
		{
			name: "valid entry",
			entry: Entry{
				EntryMetadata: EntryMetadata{
					ID:                 "id1",
					DocID:              "doc1",
					EntryType:          EntryDocChange,
					ContentHash:        "c1",
					CreatedByPublicKey: "pub1",
					Signature:          []byte{1, 2, 3},
				},
				EncryptedData: []byte{10, 20, 30},
			},
		},
		{
			name:    "missing id",
			entry:   Entry{EntryMetadata: EntryMetadata{DocID: "doc1", EntryType: EntryDocChange, ContentHash: "c1", CreatedByPublicKey: "p", Signature: []byte{1}}},
			wantErr: "id is required",
		},
		{
			name:    "missing doc id",
			entry:   Entry{EntryMetadata: EntryMetadata{ID: "id1", EntryType: EntryDocChange, ContentHash: "c1", CreatedByPublicKey: "p", Signature: []byte{1}}},
			wantErr: "doc_id is required",
		},
		{
			name:    "invalid entry type",
			entry:   Entry{EntryMetadata: EntryMetadata{ID: "id1", DocID: "doc1", EntryType: EntryType("bogus"), ContentHash: "c1", CreatedByPublicKey: "p", Signature: []byte{1}}},
			wantErr: "invalid entry_type",
		},
		{
			name:    "missing content hash",
			entry:   Entry{EntryMetadata: EntryMetadata{ID: "id1", DocID: "doc1", EntryType: EntryDocChange, CreatedByPublicKey: "p", Signature: []byte{1}}},
			wantErr: "content_hash is required",
		},
		{
			name:    "missing signature",
			entry:   Entry{EntryMetadata: EntryMetadata{ID: "id1", DocID: "doc1", EntryType: EntryDocChange, ContentHash: "c1", CreatedByPublicKey: "p"}},
			wantErr: "signature is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSortKeyLessTieBreaksOnID(t *testing.T) {
	a := SortKey{CreatedAt: 100, ID: "a"}
	b := SortKey{CreatedAt: 100, ID: "b"}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))

	c := SortKey{CreatedAt: 99, ID: "z"}
	assert.True(t, c.Less(a))
}

func TestSortMetadataCanonicalOrder(t *testing.T) {
	ms := []EntryMetadata{
		{ID: "id3", CreatedAt: 3},
		{ID: "id1", CreatedAt: 1},
		{ID: "idX", CreatedAt: 1},
	}
	SortMetadata(ms)
	require.Len(t, ms, 3)
	assert.Equal(t, "id1", ms[0].ID)
	assert.Equal(t, "idX", ms[1].ID)
	assert.Equal(t, "id3", ms[2].ID)
}

func TestCursorZeroRoundTripsThroughJSONNull(t *testing.T) {
	var c Cursor
	data, err := c.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var decoded Cursor
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.True(t, decoded.IsZero())
}

func TestScanFiltersMatch(t *testing.T) {
	from := int64(10)
	until := int64(20)
	f := ScanFilters{DocID: "doc1", EntryTypes: []EntryType{EntryDocChange}, From: &from, Until: &until}

	assert.True(t, f.Match(EntryMetadata{DocID: "doc1", EntryType: EntryDocChange, CreatedAt: 15}))
	assert.False(t, f.Match(EntryMetadata{DocID: "doc2", EntryType: EntryDocChange, CreatedAt: 15}))
	assert.False(t, f.Match(EntryMetadata{DocID: "doc1", EntryType: EntryDocCreate, CreatedAt: 15}))
	assert.False(t, f.Match(EntryMetadata{DocID: "doc1", EntryType: EntryDocChange, CreatedAt: 9}))
	assert.False(t, f.Match(EntryMetadata{DocID: "doc1", EntryType: EntryDocChange, CreatedAt: 20}))
}

func TestKindOfClassifiesWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("key %q: %w", "k1", ErrKeyNotFound)
	assert.Equal(t, KindKeyNotFound, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(nil))
}
