// Package crdt defines the narrow interface the document loader needs from
// the CRDT engine — out of scope per spec.md §1, treated here as an opaque
// external collaborator — plus an in-memory fake satisfying it for tests.
package crdt

import "context"

// Engine applies decrypted change/snapshot bytes to a document and exposes
// the engine's own content hash for a change, which the loader uses to
// build its crdt_hash → entry_id translation table.
type Engine interface {
	// ApplyChanges feeds decrypted bytes to docID's CRDT state. The engine
	// must be idempotent: re-applying identical bytes is a no-op.
	ApplyChanges(ctx context.Context, docID string, changeBytes []byte) error

	// ChangeHash returns the engine's native content hash for changeBytes,
	// used as the crdt_change_hash half of the id algebra and as the key
	// in the loader's per-doc hash-to-id map.
	ChangeHash(changeBytes []byte) (string, error)
}
