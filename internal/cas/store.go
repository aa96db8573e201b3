// Package cas defines the content-addressed store contract (spec.md §4.1)
// and an in-memory implementation of it. Durable backends (internal/diskstore)
// implement the same Store interface so the sync engine, document loader,
// and network boundary never need to know which backend they're talking to.
package cas

import (
	"context"

	"github.com/mindoo/mindoo-core/internal/types"
)

// Store is the full CAS contract. Every method is safe for concurrent use.
// Implementations must honor the commit ordering and idempotence guarantees
// spelled out per-method below; callers (sync engine, loader) rely on them.
type Store interface {
	// PutEntries idempotently commits entries. An entry whose id already
	// exists is a no-op for that entry; others in the same batch still
	// commit. Each entry commits payload-before-metadata-before-index, so
	// a crash mid-batch never leaves metadata pointing at an absent
	// payload.
	PutEntries(ctx context.Context, entries []types.Entry) error

	// GetEntries returns the subset of ids that exist. An id whose
	// metadata exists but whose payload is missing is omitted, not
	// synthesized.
	GetEntries(ctx context.Context, ids []string) ([]types.Entry, error)

	// HasEntries returns the subset of ids present in the store.
	HasEntries(ctx context.Context, ids []string) ([]string, error)

	// GetAllIDs returns every id in the store, in canonical order.
	GetAllIDs(ctx context.Context) ([]string, error)

	// FindNewEntries returns metadata for every id not in knownIDs.
	FindNewEntries(ctx context.Context, knownIDs []string) ([]types.EntryMetadata, error)

	// FindNewEntriesForDoc is FindNewEntries restricted to a single doc_id.
	FindNewEntriesForDoc(ctx context.Context, knownIDs []string, docID string) ([]types.EntryMetadata, error)

	// FindEntries filters by entry type and an optional half-open
	// [from, until) millisecond range.
	FindEntries(ctx context.Context, entryType types.EntryType, from, until *int64) ([]types.EntryMetadata, error)

	// ScanEntriesSince performs a paginated forward scan in canonical
	// order strictly after cursor. A zero cursor starts at the beginning.
	ScanEntriesSince(ctx context.Context, cursor types.Cursor, limit int, filters types.ScanFilters) (types.ScanPage, error)

	// ResolveDependencies performs a BFS over dependency_ids starting at
	// startID and returns ids in dependency order (deepest first).
	ResolveDependencies(ctx context.Context, startID string, opts types.DependencyOptions) ([]string, error)

	// GetIDBloomSummary returns a bloom-v1 summary of every id in the store.
	GetIDBloomSummary(ctx context.Context) (types.BloomSummary, error)

	// PurgeDocHistory removes all metadata for docID, decrements payload
	// ref-counts, and deletes any payload whose ref-count reaches zero.
	PurgeDocHistory(ctx context.Context, docID string) error

	// GetCompactionStatus reports on-disk compaction state. Backends with
	// no compaction concept return a disabled, zeroed status.
	GetCompactionStatus(ctx context.Context) (types.CompactionStatus, error)

	// AwaitIndexReady blocks until the store's index has finished any
	// asynchronous warm-up. Backends with no warm-up phase return
	// immediately.
	AwaitIndexReady(ctx context.Context) error

	// GetIndexBuildStatus reports index construction progress without
	// blocking.
	GetIndexBuildStatus(ctx context.Context) (types.IndexBuildStatus, error)
}
