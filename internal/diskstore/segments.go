package diskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mindoo/mindoo-core/internal/types"
)

// segmentRecord is one mutation in a metadata-segments/*.json file. A
// segment file holds a JSON array of records so a whole PutEntries batch
// (or a whole doc purge) commits as one append.
type segmentRecord struct {
	Op       string              `json:"op"` // "upsert" or "delete"
	Metadata *types.EntryMetadata `json:"metadata,omitempty"`
	ID       string              `json:"id,omitempty"`
}

type snapshotFile struct {
	Entries []types.EntryMetadata `json:"entries"`
}

func (d *Disk) loadSnapshot() error {
	data, err := os.ReadFile(d.cfg.snapshotPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		d.log.Warnf("diskstore: corrupt snapshot at %s, ignoring: %v", d.cfg.snapshotPath(), err)
		return nil
	}
	for _, meta := range snap.Entries {
		d.insertIndex(meta)
		d.refcount[meta.ContentHash]++
	}
	return nil
}

// replayAllSegments applies every existing segment file in lexicographic
// (≈ chronological) filename order. At process start every segment on
// disk was written by some other process invocation (this one has
// written none yet), so none are added to ownSegments here — only
// segments this process itself appends become eligible for deletion at
// compaction time.
func (d *Disk) replayAllSegments() error {
	names, err := segmentFilenames(d.cfg.segmentsDir())
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := d.applySegmentFile(filepath.Join(d.cfg.segmentsDir(), name)); err != nil {
			d.log.Warnf("diskstore: skipping unreadable segment %s: %v", name, err)
		}
	}
	return nil
}

func segmentFilenames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *Disk) applySegmentFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var records []segmentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	for _, rec := range records {
		switch rec.Op {
		case "upsert":
			if rec.Metadata != nil {
				if _, exists := d.metadata[rec.Metadata.ID]; !exists {
					d.insertIndex(*rec.Metadata)
					d.refcount[rec.Metadata.ContentHash]++
				}
			}
		case "delete":
			if meta, ok := d.metadata[rec.ID]; ok {
				d.removeIndex(meta)
				d.refcount[meta.ContentHash]--
				if d.refcount[meta.ContentHash] <= 0 {
					delete(d.refcount, meta.ContentHash)
				}
			}
		}
	}
	return nil
}

// appendSegment writes records as a new segment file this process owns,
// atomically, and tracks it for the compaction threshold check.
func (d *Disk) appendSegment(records []segmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal segment: %w", err)
	}
	name := segmentFilename()
	path := filepath.Join(d.cfg.segmentsDir(), name)
	if err := atomicWriteFile(path, data); err != nil {
		return fmt.Errorf("write segment %s: %w", name, err)
	}
	d.ownSegments[name] = int64(len(data))
	d.pendingSegmentBytes += int64(len(data))
	return nil
}

// validateAgainstEntriesDir implements startup step 5: compare the
// entries/ directory's id set and count against the loaded index. A
// mismatch (stale snapshot, corruption, segments from a crashed process
// that never landed) triggers a full rebuild straight from the canonical
// entry files.
func (d *Disk) validateAgainstEntriesDir() error {
	files, err := os.ReadDir(d.cfg.entriesDir())
	if err != nil {
		return err
	}
	if len(files) == len(d.metadata) {
		names := make(map[string]struct{}, len(files))
		for _, f := range files {
			names[f.Name()] = struct{}{}
		}
		matched := true
		for id := range d.metadata {
			if _, ok := names[urlEscape(id)+".json"]; !ok {
				matched = false
				break
			}
		}
		if matched {
			return nil
		}
	}
	d.log.Warnf("diskstore: index has %d entries but entries/ has %d files; rebuilding from canonical files", len(d.metadata), len(files))
	return d.rebuildFromEntriesDir(files)
}

func (d *Disk) rebuildFromEntriesDir(files []os.DirEntry) error {
	d.metadata = make(map[string]types.EntryMetadata)
	d.refcount = make(map[string]int)
	d.docIndex = make(map[string]map[string]struct{})
	d.ordered.Clear(false)

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.cfg.entriesDir(), f.Name()))
		if err != nil {
			d.log.Warnf("diskstore: skipping unreadable entry file %s: %v", f.Name(), err)
			continue
		}
		var meta types.EntryMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			d.log.Warnf("diskstore: skipping corrupt entry file %s: %v", f.Name(), err)
			continue
		}
		d.insertIndex(meta)
		d.refcount[meta.ContentHash]++
	}

	if err := d.writeSnapshotLocked(); err != nil {
		return err
	}
	return d.deleteOwnedSegmentsLocked()
}

// writeSnapshotLocked atomically rewrites metadata-index.json from the
// current in-memory index. Caller must hold d.mu (or be in single-threaded
// startup).
func (d *Disk) writeSnapshotLocked() error {
	snap := snapshotFile{Entries: make([]types.EntryMetadata, 0, len(d.metadata))}
	d.ordered.Ascend(func(item orderedItem) bool {
		snap.Entries = append(snap.Entries, d.metadata[item.id])
		return true
	})
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := atomicWriteFile(d.cfg.snapshotPath(), data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (d *Disk) deleteOwnedSegmentsLocked() error {
	for name := range d.ownSegments {
		_ = os.Remove(filepath.Join(d.cfg.segmentsDir(), name))
	}
	d.ownSegments = make(map[string]int64)
	d.pendingSegmentBytes = 0
	return nil
}

// maybeCompactLocked rewrites the snapshot and drops this process's
// applied segments once either threshold from spec.md §4.2 is crossed.
// Caller must hold d.mu for writing.
func (d *Disk) maybeCompactLocked() {
	if len(d.ownSegments) < d.cfg.CompactionMinFiles && d.pendingSegmentBytes < d.cfg.CompactionMaxBytes {
		return
	}
	if err := d.writeSnapshotLocked(); err != nil {
		d.log.Warnf("diskstore: compaction snapshot write failed, will retry later: %v", err)
		return
	}
	if err := d.deleteOwnedSegmentsLocked(); err != nil {
		d.log.Warnf("diskstore: compaction segment cleanup failed: %v", err)
	}
	d.lastCompactionAt = nowMillis()
	diskMetrics.compactionCount.Add(context.Background(), 1)
}
