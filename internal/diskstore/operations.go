package diskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindoo/mindoo-core/internal/types"
)

// PutEntries commits payload-before-metadata-before-segment-before-index,
// matching the crash-safety argument in spec.md §4.2: a crash can only
// ever leave an orphaned payload or an un-indexed-but-on-disk entry, never
// metadata pointing at an absent payload.
func (d *Disk) PutEntries(ctx context.Context, entries []types.Entry) (err error) {
	ctx, span := diskTracer.Start(ctx, "diskstore.put_entries",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("mdb.entry_count", len(entries))),
	)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	var records []segmentRecord
	for _, e := range entries {
		if _, exists := d.metadata[e.ID]; exists {
			continue
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("diskstore: put_entries: %w", err)
		}

		contentPath := d.cfg.contentPath(e.ContentHash)
		if _, err := os.Stat(contentPath); os.IsNotExist(err) {
			if err := atomicWriteFile(contentPath, e.EncryptedData); err != nil {
				return fmt.Errorf("diskstore: write content %s: %w", e.ContentHash, err)
			}
		}

		metaBytes, err := json.Marshal(e.EntryMetadata)
		if err != nil {
			return fmt.Errorf("diskstore: marshal metadata for %s: %w", e.ID, err)
		}
		if err := atomicWriteFile(d.cfg.entryPath(e.ID), metaBytes); err != nil {
			return fmt.Errorf("diskstore: write entry file for %s: %w", e.ID, err)
		}

		meta := e.EntryMetadata
		records = append(records, segmentRecord{Op: "upsert", Metadata: &meta})
	}

	if err := d.appendSegment(records); err != nil {
		return fmt.Errorf("diskstore: append segment: %w", err)
	}
	for _, rec := range records {
		d.insertIndex(*rec.Metadata)
		d.refcount[rec.Metadata.ContentHash]++
	}
	d.maybeCompactLocked()
	diskMetrics.putCount.Add(ctx, int64(len(records)))
	return nil
}

func (d *Disk) GetEntries(ctx context.Context, ids []string) ([]types.Entry, error) {
	ctx, span := diskTracer.Start(ctx, "diskstore.get_entries",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("mdb.requested_count", len(ids))),
	)
	defer span.End()

	d.mu.RLock()
	metas := make([]types.EntryMetadata, 0, len(ids))
	for _, id := range ids {
		if meta, ok := d.metadata[id]; ok {
			metas = append(metas, meta)
		}
	}
	d.mu.RUnlock()

	out := make([]types.Entry, 0, len(metas))
	for _, meta := range metas {
		payload, err := os.ReadFile(d.cfg.contentPath(meta.ContentHash))
		if err != nil {
			d.log.Warnf("diskstore: metadata for %q present but payload %q unreadable; omitting: %v", meta.ID, meta.ContentHash, err)
			continue
		}
		out = append(out, types.Entry{EntryMetadata: meta, EncryptedData: payload})
	}
	diskMetrics.getCount.Add(ctx, int64(len(out)), metric.WithAttributes(attribute.Int("mdb.requested_count", len(ids))))
	return out, nil
}

func (d *Disk) HasEntries(_ context.Context, ids []string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := d.metadata[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *Disk) GetAllIDs(context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.metadata))
	d.ordered.Ascend(func(item orderedItem) bool {
		out = append(out, item.id)
		return true
	})
	return out, nil
}

func (d *Disk) FindNewEntries(_ context.Context, knownIDs []string) ([]types.EntryMetadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	known := toSet(knownIDs)
	var out []types.EntryMetadata
	d.ordered.Ascend(func(item orderedItem) bool {
		if _, isKnown := known[item.id]; !isKnown {
			out = append(out, d.metadata[item.id])
		}
		return true
	})
	return out, nil
}

func (d *Disk) FindNewEntriesForDoc(_ context.Context, knownIDs []string, docID string) ([]types.EntryMetadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	known := toSet(knownIDs)
	ids := d.docIndex[docID]
	out := make([]types.EntryMetadata, 0, len(ids))
	for id := range ids {
		if _, isKnown := known[id]; isKnown {
			continue
		}
		out = append(out, d.metadata[id])
	}
	types.SortMetadata(out)
	return out, nil
}

func (d *Disk) FindEntries(_ context.Context, entryType types.EntryType, from, until *int64) ([]types.EntryMetadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	filters := types.ScanFilters{EntryTypes: []types.EntryType{entryType}, From: from, Until: until}
	var out []types.EntryMetadata
	d.ordered.Ascend(func(item orderedItem) bool {
		meta := d.metadata[item.id]
		if filters.Match(meta) {
			out = append(out, meta)
		}
		return true
	})
	return out, nil
}

func (d *Disk) ScanEntriesSince(_ context.Context, cursor types.Cursor, limit int, filters types.ScanFilters) (types.ScanPage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var page types.ScanPage
	var pivot *orderedItem
	if !cursor.IsZero() {
		k := cursor.Key()
		pivot = &orderedItem{key: k}
	}

	visit := func(item orderedItem) bool {
		if pivot != nil && !pivot.key.Less(item.key) {
			return true
		}
		meta := d.metadata[item.id]
		if !filters.Match(meta) {
			return true
		}
		if len(page.Entries) == limit {
			page.HasMore = true
			return false
		}
		page.Entries = append(page.Entries, meta)
		return true
	}

	if pivot != nil {
		d.ordered.AscendGreaterOrEqual(*pivot, visit)
	} else {
		d.ordered.Ascend(visit)
	}

	if len(page.Entries) > 0 {
		page.NextCursor = types.NewCursor(page.Entries[len(page.Entries)-1].Key())
	} else {
		page.NextCursor = cursor
	}
	return page, nil
}

func (d *Disk) ResolveDependencies(_ context.Context, startID string, opts types.DependencyOptions) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	type queued struct {
		id    string
		depth int
	}
	visited := map[string]bool{startID: true}
	queue := []queued{{startID, 0}}
	var visitOrder []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		meta, ok := d.metadata[cur.id]
		if !ok {
			continue
		}
		visitOrder = append(visitOrder, cur.id)

		atDepthLimit := opts.MaxDepth > 0 && cur.depth >= opts.MaxDepth
		isStopType := opts.StopAtEntryType != "" && meta.EntryType == opts.StopAtEntryType
		if atDepthLimit || isStopType {
			continue
		}
		for _, dep := range meta.DependencyIDs {
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, queued{dep, cur.depth + 1})
			}
		}
	}

	result := make([]string, 0, len(visitOrder))
	for i := len(visitOrder) - 1; i >= 0; i-- {
		id := visitOrder[i]
		if !opts.IncludeStart && id == startID {
			continue
		}
		result = append(result, id)
	}
	return result, nil
}

// PurgeDocHistory removes every entry for docID: deletes its entry files,
// decrements content ref-counts and deletes orphaned payload files, logs
// a delete segment record, and updates the in-memory index.
func (d *Disk) PurgeDocHistory(_ context.Context, docID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := d.docIndex[docID]
	var records []segmentRecord
	for id := range ids {
		meta, ok := d.metadata[id]
		if !ok {
			continue
		}
		if err := os.Remove(d.cfg.entryPath(id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("diskstore: remove entry file for %s: %w", id, err)
		}
		records = append(records, segmentRecord{Op: "delete", ID: id})

		d.removeIndex(meta)
		d.refcount[meta.ContentHash]--
		if d.refcount[meta.ContentHash] <= 0 {
			delete(d.refcount, meta.ContentHash)
			if err := os.Remove(d.cfg.contentPath(meta.ContentHash)); err != nil && !os.IsNotExist(err) {
				d.log.Warnf("diskstore: orphaned content file %s not removed: %v", meta.ContentHash, err)
			}
		}
	}

	if err := d.appendSegment(records); err != nil {
		return fmt.Errorf("diskstore: append purge segment: %w", err)
	}
	d.maybeCompactLocked()
	d.log.Infof("diskstore: purged doc history for %q (%d entries)", docID, len(ids))
	return nil
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}
