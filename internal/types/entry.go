// Package types defines the wire and storage representation of the
// append-only entry log: the immutable Entry record, its metadata
// projection, and the small set of string-backed enums used across the
// store, sync engine, network boundary, and document loader.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// EntryType tags the kind of mutation an Entry records.
type EntryType string

const (
	EntryDocCreate       EntryType = "doc_create"
	EntryDocChange       EntryType = "doc_change"
	EntryDocSnapshot     EntryType = "doc_snapshot"
	EntryDocDelete       EntryType = "doc_delete"
	EntryAttachmentChunk EntryType = "attachment_chunk"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case EntryDocCreate, EntryDocChange, EntryDocSnapshot, EntryDocDelete, EntryAttachmentChunk:
		return true
	}
	return false
}

// EntryMetadata is an Entry without its payload — the projection stored in
// the CAS indexes and returned by every listing/scanning operation.
type EntryMetadata struct {
	EntryType           EntryType `json:"entry_type"`
	ID                  string    `json:"id"`
	ContentHash         string    `json:"content_hash"`
	DocID               string    `json:"doc_id"`
	DependencyIDs       []string  `json:"dependency_ids,omitempty"`
	CreatedAt           int64     `json:"created_at"` // unix millis
	CreatedByPublicKey  string    `json:"created_by_public_key"`
	DecryptionKeyID     string    `json:"decryption_key_id,omitempty"`
	Signature           []byte    `json:"signature"`
	OriginalSize        int64     `json:"original_size"`
	EncryptedSize       int64     `json:"encrypted_size"`
}

// Entry is the full immutable record, including its opaque ciphertext.
type Entry struct {
	EntryMetadata
	EncryptedData []byte `json:"encrypted_data"`
}

// Metadata returns the metadata projection of e.
func (e *Entry) Metadata() EntryMetadata {
	return e.EntryMetadata
}

// Validate checks the structural invariants an Entry must satisfy before
// it is accepted by the CAS. It does not check signatures or decrypt
// anything — that is the document loader's job.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entry: id is required")
	}
	if e.DocID == "" {
		return fmt.Errorf("entry: doc_id is required")
	}
	if !e.EntryType.Valid() {
		return fmt.Errorf("entry: invalid entry_type %q", e.EntryType)
	}
	if e.ContentHash == "" {
		return fmt.Errorf("entry: content_hash is required")
	}
	if e.CreatedByPublicKey == "" {
		return fmt.Errorf("entry: created_by_public_key is required")
	}
	if len(e.Signature) == 0 {
		return fmt.Errorf("entry: signature is required")
	}
	return nil
}

// SortKey is the canonical (created_at ASC, id ASC) ordering key used by
// every cursor scan and by the document loader's entry ordering.
type SortKey struct {
	CreatedAt int64
	ID        string
}

// Key returns m's canonical sort key.
func (m EntryMetadata) Key() SortKey {
	return SortKey{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Less implements the canonical ordering: created_at ascending, id
// ascending as a deterministic tie-breaker (spec Open Question, resolved
// in DESIGN.md).
func (k SortKey) Less(other SortKey) bool {
	if k.CreatedAt != other.CreatedAt {
		return k.CreatedAt < other.CreatedAt
	}
	return k.ID < other.ID
}

// SortMetadata sorts a slice of EntryMetadata in canonical order in place.
func SortMetadata(ms []EntryMetadata) {
	sort.Slice(ms, func(i, j int) bool {
		return ms[i].Key().Less(ms[j].Key())
	})
}

// Cursor is an opaque pagination token: the sort key of the last entry
// returned by a scan. The zero Cursor denotes "start of store".
type Cursor struct {
	CreatedAt int64  `json:"created_at"`
	ID        string `json:"id"`
	set       bool
}

// NewCursor builds a Cursor from a sort key.
func NewCursor(k SortKey) Cursor {
	return Cursor{CreatedAt: k.CreatedAt, ID: k.ID, set: true}
}

// IsZero reports whether the cursor denotes "start of store".
func (c Cursor) IsZero() bool {
	return !c.set
}

// Key converts the cursor back to a SortKey (only valid when !IsZero()).
func (c Cursor) Key() SortKey {
	return SortKey{CreatedAt: c.CreatedAt, ID: c.ID}
}

// MarshalJSON makes the zero Cursor encode as JSON null, matching the
// "cursor?" optional-parameter shape in the network protocol table.
func (c Cursor) MarshalJSON() ([]byte, error) {
	if !c.set {
		return []byte("null"), nil
	}
	type alias struct {
		CreatedAt int64  `json:"created_at"`
		ID        string `json:"id"`
	}
	return json.Marshal(alias{CreatedAt: c.CreatedAt, ID: c.ID})
}

// UnmarshalJSON accepts JSON null as the zero cursor.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Cursor{}
		return nil
	}
	var alias struct {
		CreatedAt int64  `json:"created_at"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*c = Cursor{CreatedAt: alias.CreatedAt, ID: alias.ID, set: true}
	return nil
}

// ScanFilters narrows a scan_entries_since / find_entries query.
type ScanFilters struct {
	DocID      string      `json:"doc_id,omitempty"`
	EntryTypes []EntryType `json:"entry_types,omitempty"`
	From       *int64      `json:"from,omitempty"`  // unix millis, inclusive
	Until      *int64      `json:"until,omitempty"` // unix millis, exclusive
}

// Match reports whether m satisfies f.
func (f ScanFilters) Match(m EntryMetadata) bool {
	if f.DocID != "" && m.DocID != f.DocID {
		return false
	}
	if len(f.EntryTypes) > 0 {
		found := false
		for _, t := range f.EntryTypes {
			if t == m.EntryType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && m.CreatedAt < *f.From {
		return false
	}
	if f.Until != nil && m.CreatedAt >= *f.Until {
		return false
	}
	return true
}

// ScanPage is the result of a single scan_entries_since call.
type ScanPage struct {
	Entries    []EntryMetadata `json:"entries"`
	NextCursor Cursor          `json:"next_cursor"`
	HasMore    bool            `json:"has_more"`
}

// DependencyOptions controls resolve_dependencies traversal.
type DependencyOptions struct {
	StopAtEntryType EntryType
	MaxDepth        int // 0 = unlimited
	IncludeStart    bool
}

// DefaultDependencyOptions returns the spec's defaults (include_start=true,
// unlimited depth, no stop-at type).
func DefaultDependencyOptions() DependencyOptions {
	return DependencyOptions{IncludeStart: true}
}

// BloomSummary is the versioned probabilistic digest of an id set.
type BloomSummary struct {
	Version   string `json:"version"`
	Bits      string `json:"bits"` // base64 of the bitset
	TotalIDs  int    `json:"total_ids"`
	BitCount  int    `json:"bit_count"`
	HashCount int    `json:"hash_count"`
	Salt      string `json:"salt"`
}

// CompactionStatus reports on-disk backend compaction state; non-disk
// backends return a zeroed, Disabled status.
type CompactionStatus struct {
	Disabled         bool  `json:"disabled"`
	PendingSegments  int   `json:"pending_segments"`
	PendingBytes     int64 `json:"pending_bytes"`
	LastCompactionAt int64 `json:"last_compaction_at,omitempty"`
}

// IndexBuildStatus reports asynchronous index construction progress.
type IndexBuildStatus struct {
	Ready           bool `json:"ready"`
	SegmentsApplied int  `json:"segments_applied"`
	SegmentsTotal   int  `json:"segments_total"`
}

// NetworkEncryptedEntry is an Entry whose EncryptedData has been wrapped a
// second time with a recipient's RSA public key at the network boundary.
// Metadata travels in the clear; only the payload is doubly wrapped.
type NetworkEncryptedEntry struct {
	EntryMetadata
	WrappedData []byte `json:"wrapped_data"`
}
