// Package loader implements the document loader from spec.md §4.6: it
// resolves an opaque doc_id to a CRDT document by collecting entries from
// the CAS, verifying signatures, decrypting, and feeding decrypted bytes
// to the CRDT engine in canonical order, while maintaining a per-doc
// cursor into newly-arrived entries.
package loader

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"

	"github.com/mindoo/mindoo-core/internal/cas"
	"github.com/mindoo/mindoo-core/internal/crdt"
	"github.com/mindoo/mindoo-core/internal/crypto"
	"github.com/mindoo/mindoo-core/internal/directory"
	"github.com/mindoo/mindoo-core/internal/logging"
	"github.com/mindoo/mindoo-core/internal/types"
)

// Status is the outcome of a LoadDocument pass.
type Status string

const (
	// StatusOK means every collected entry applied cleanly.
	StatusOK Status = "ok"
	// StatusPartial means at least one entry was skipped (missing payload,
	// undecodable signer key, bad signature, admin gating, or decryption
	// failure); the document may be incomplete.
	StatusPartial Status = "partial"
	// StatusDeleted means at least one doc_delete entry was applied.
	StatusDeleted Status = "deleted"
	// StatusNotFound means the CAS holds no entries for the doc_id.
	StatusNotFound Status = "not_found"
	// StatusKeyPending means a decryption key was unavailable; the
	// document is not retried until new entries for it arrive.
	StatusKeyPending Status = "key_pending"
)

// docState is the loader's cached per-document state.
type docState struct {
	crdtHashToEntryID map[string]string
	lastModified      int64
	status            Status
}

// AdminPolicy configures the admin-only-mode signer gate. When Enabled,
// every entry's signer must match AdminSigningKey or it is rejected
// before decryption is attempted (spec.md Open Question, resolved in
// DESIGN.md: signer check always precedes decrypt, for every entry type
// including doc_snapshot).
type AdminPolicy struct {
	Enabled        bool
	AdminSigningKey ed25519.PublicKey
}

// Loader resolves doc_ids to CRDT documents for a single (tenant, db_id)
// pair. It borrows store, engine, and directory — all three must outlive
// it — and owns only its derived per-document state.
type Loader struct {
	store     cas.Store
	engine    crdt.Engine
	directory directory.Directory
	keys      KeyBag
	log       *logging.Logger
	admin     AdminPolicy

	mu           sync.Mutex
	processedIDs map[string]struct{}
	docs         map[string]*docState
}

// New constructs a Loader. log may be nil.
func New(store cas.Store, engine crdt.Engine, dir directory.Directory, keys KeyBag, log *logging.Logger, admin AdminPolicy) *Loader {
	return &Loader{
		store:        store,
		engine:       engine,
		directory:    dir,
		keys:         keys,
		log:          log,
		admin:        admin,
		processedIDs: make(map[string]struct{}),
		docs:         make(map[string]*docState),
	}
}

func decodeSigningKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("loader: decode created_by_public_key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("loader: created_by_public_key has wrong length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// LoadDocument runs the full per-(db_id, doc_id) algorithm from spec.md
// §4.6 against the loader's store.
func (l *Loader) LoadDocument(ctx context.Context, docID string) (Status, error) {
	metas, err := l.store.FindNewEntriesForDoc(ctx, nil, docID)
	if err != nil {
		return "", fmt.Errorf("loader: collect entries for %q: %w", docID, err)
	}
	if len(metas) == 0 {
		return StatusNotFound, nil
	}

	originalIDs := make([]string, len(metas))
	for i, m := range metas {
		originalIDs[i] = m.ID
	}

	ordered := applySnapshotCutoff(metas)

	l.mu.Lock()
	state := l.docs[docID]
	if state == nil {
		state = &docState{crdtHashToEntryID: make(map[string]string)}
		l.docs[docID] = state
	}
	l.mu.Unlock()

	sawDelete := false
	skippedAny := false

	for _, meta := range ordered {
		entries, err := l.store.GetEntries(ctx, []string{meta.ID})
		if err != nil {
			return "", fmt.Errorf("loader: fetch entry %q: %w", meta.ID, err)
		}
		if len(entries) == 0 {
			l.log.Warnf("loader: entry %q has metadata but no payload; skipping", meta.ID)
			skippedAny = true
			continue
		}
		entry := entries[0]

		signingKey, err := decodeSigningKey(entry.CreatedByPublicKey)
		if err != nil {
			l.log.Warnf("loader: entry %q: %v", entry.ID, err)
			skippedAny = true
			continue
		}
		if !crypto.Verify(signingKey, entry.EncryptedData, entry.Signature) {
			l.log.Warnf("loader: entry %q failed signature verification, skipping", entry.ID)
			skippedAny = true
			continue
		}
		if l.admin.Enabled && !bytes.Equal(signingKey, l.admin.AdminSigningKey) {
			l.log.Warnf("loader: entry %q signer is not the tenant admin in admin-only mode, skipping", entry.ID)
			skippedAny = true
			continue
		}

		key, ok := l.keys.SymmetricKey(entry.DecryptionKeyID)
		if !ok {
			l.log.Warnf("loader: key %q unavailable, deferring %q for this pass", entry.DecryptionKeyID, docID)
			l.markProcessed(originalIDs)
			state.status = StatusKeyPending
			return StatusKeyPending, nil
		}

		plaintext, err := crypto.DecryptSymmetric(key, entry.EncryptedData)
		if err != nil {
			l.log.Warnf("loader: entry %q failed to decrypt, skipping: %v", entry.ID, err)
			skippedAny = true
			continue
		}

		if err := l.engine.ApplyChanges(ctx, docID, plaintext); err != nil {
			return "", fmt.Errorf("loader: apply changes for %q: %w", entry.ID, err)
		}
		if hash, err := l.engine.ChangeHash(plaintext); err == nil {
			state.crdtHashToEntryID[hash] = entry.ID
		}

		if entry.CreatedAt > state.lastModified {
			state.lastModified = entry.CreatedAt
		}
		if entry.EntryType == types.EntryDocDelete {
			sawDelete = true
		}
	}

	l.markProcessed(originalIDs)

	status := StatusOK
	switch {
	case sawDelete:
		status = StatusDeleted
	case skippedAny:
		status = StatusPartial
	}
	state.status = status
	return status, nil
}

func (l *Loader) markProcessed(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.processedIDs[id] = struct{}{}
	}
}

// applySnapshotCutoff implements the snapshot-selection and ordering rule:
// pick the most recent doc_snapshot (if any), discard doc_change entries
// earlier than it, then order the chosen snapshot followed by the
// remaining doc_create/doc_change/doc_delete entries in canonical order.
func applySnapshotCutoff(metas []types.EntryMetadata) []types.EntryMetadata {
	var snapshots []types.EntryMetadata
	for _, m := range metas {
		if m.EntryType == types.EntryDocSnapshot {
			snapshots = append(snapshots, m)
		}
	}

	var chosen *types.EntryMetadata
	if len(snapshots) > 0 {
		types.SortMetadata(snapshots)
		chosen = &snapshots[len(snapshots)-1]
	}

	var rest []types.EntryMetadata
	for _, m := range metas {
		switch m.EntryType {
		case types.EntryDocSnapshot:
			continue // only the chosen one is kept, added back below
		case types.EntryDocChange:
			if chosen != nil && m.CreatedAt < chosen.CreatedAt {
				continue
			}
			rest = append(rest, m)
		case types.EntryDocCreate, types.EntryDocDelete:
			rest = append(rest, m)
		default:
			// attachment_chunk and any future type: not a document body
			// entry, not part of this loader's reconstruction.
		}
	}
	types.SortMetadata(rest)

	if chosen == nil {
		return rest
	}
	return append([]types.EntryMetadata{*chosen}, rest...)
}

// SyncStoreChanges performs the loader's incremental sync pass: it finds
// entries not yet processed, groups them by doc_id, evicts each affected
// document's cache, and reloads it. It returns the set of doc_ids that
// changed.
func (l *Loader) SyncStoreChanges(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	known := make([]string, 0, len(l.processedIDs))
	for id := range l.processedIDs {
		known = append(known, id)
	}
	l.mu.Unlock()

	newMetas, err := l.store.FindNewEntries(ctx, known)
	if err != nil {
		return nil, fmt.Errorf("loader: sync_store_changes: %w", err)
	}

	affected := make(map[string]struct{})
	for _, m := range newMetas {
		affected[m.DocID] = struct{}{}
	}

	changed := make([]string, 0, len(affected))
	for docID := range affected {
		l.mu.Lock()
		delete(l.docs, docID)
		l.mu.Unlock()

		if _, err := l.LoadDocument(ctx, docID); err != nil {
			return changed, fmt.Errorf("loader: reload %q: %w", docID, err)
		}
		changed = append(changed, docID)
	}
	sort.Strings(changed)
	return changed, nil
}

// ProcessChangesSince walks cached documents in canonical (last_modified,
// doc_id) order strictly after cursor, calling visit for each. visit
// returns false to stop iteration early.
func (l *Loader) ProcessChangesSince(cursor DocCursor, limit int, visit func(docID string, status Status) bool) (next DocCursor, hasMore bool) {
	l.mu.Lock()
	type item struct {
		key   docSortKey
		state Status
	}
	items := make([]item, 0, len(l.docs))
	for docID, st := range l.docs {
		items = append(items, item{key: docSortKey{lastModified: st.lastModified, docID: docID}, state: st.status})
	}
	l.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].key.less(items[j].key) })

	var filtered []item
	for _, it := range items {
		if !cursor.IsZero() && !cursor.key().less(it.key) {
			continue
		}
		filtered = append(filtered, it)
	}

	if limit <= 0 {
		limit = len(filtered)
	}

	next = cursor
	for i, it := range filtered {
		if i == limit {
			return next, true
		}
		cont := visit(it.key.docID, it.state)
		next = NewDocCursor(it.key.lastModified, it.key.docID)
		if !cont {
			return next, i+1 < len(filtered)
		}
	}
	return next, false
}

// CRDTHashToEntryID translates a set of CRDT change hashes into id-level
// dependency_ids for docID, using the map maintained during loading. A
// hash with no known entry id is omitted — the caller should not
// construct the new entry's dependency_ids until all of its dependencies
// have themselves been loaded.
func (l *Loader) CRDTHashToEntryID(docID string, crdtHashes []string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.docs[docID]
	if state == nil {
		return nil
	}
	out := make([]string, 0, len(crdtHashes))
	for _, h := range crdtHashes {
		if id, ok := state.crdtHashToEntryID[h]; ok {
			out = append(out, id)
		}
	}
	return out
}
