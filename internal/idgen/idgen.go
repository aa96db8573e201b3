// Package idgen implements the entry id algebra described in spec.md §3:
// deterministic, append-order-independent ids for document entries derived
// from CRDT change hashes, and fresh time-ordered ids for attachment
// chunks chained via dependency_ids.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/google/uuid"
)

// DocEntryID computes id = H(doc_id ‖ crdt_change_hash ‖ H(sorted(dep_crdt_hashes))).
// It is a pure function of doc_id, the entry's own CRDT hash, and the set
// of dependency CRDT hashes — never of created_at or any writer-chosen
// value — so two replicas that independently produce the same logical
// mutation compute the same id without coordination.
func DocEntryID(docID, crdtChangeHash string, depCRDTHashes []string) string {
	sorted := append([]string(nil), depCRDTHashes...)
	sort.Strings(sorted)

	depHasher := sha256.New()
	for _, h := range sorted {
		depHasher.Write([]byte(h))
		depHasher.Write([]byte{0}) // separator, avoids ambiguity between ["ab","c"] and ["a","bc"]
	}
	depDigest := depHasher.Sum(nil)

	h := sha256.New()
	h.Write([]byte(docID))
	h.Write([]byte{0})
	h.Write([]byte(crdtChangeHash))
	h.Write([]byte{0})
	h.Write(depDigest)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash computes content_hash = H(encrypted_data), the dedup key for
// payload storage. It is independent of the entry id, so distinct entries
// may legitimately share one physical ciphertext.
func ContentHash(encryptedData []byte) string {
	sum := sha256.Sum256(encryptedData)
	return hex.EncodeToString(sum[:])
}

// NewAttachmentChunkID returns a fresh, time-ordered identifier for an
// attachment chunk entry. Chunks are chained to their predecessor via
// dependency_ids rather than a content-derived id, since chunk bytes are
// not deterministic inputs the way a CRDT change hash is.
func NewAttachmentChunkID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system's crypto RNG is unavailable; fall
		// back to a random v4 id. uuid.NewString panics if the RNG is
		// still failing.
		return uuid.NewString()
	}
	return id.String()
}
