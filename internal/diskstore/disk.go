// Package diskstore implements the on-disk CAS backend from spec.md §4.2:
// a directory of canonical entry files plus a snapshot+segment-log
// acceleration index, with an atomic write protocol and crash-recovery
// validation against the canonical entries/ directory.
package diskstore

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/btree"

	"github.com/mindoo/mindoo-core/internal/bloom"
	"github.com/mindoo/mindoo-core/internal/cas"
	"github.com/mindoo/mindoo-core/internal/logging"
	"github.com/mindoo/mindoo-core/internal/types"
)

// Config controls a Disk store's on-disk location and compaction policy.
type Config struct {
	// BaseDir is <base>/<db_id> — the root this store owns exclusively
	// (besides segment files written by sibling processes sharing it).
	BaseDir string

	// WipeOnStart makes Open discard any existing contents before it
	// ensures directories exist. No command or test in this repository
	// sets it.
	WipeOnStart bool

	// CompactionMinFiles triggers a snapshot rewrite once this many
	// segments written by this process have been applied.
	CompactionMinFiles int

	// CompactionMaxBytes triggers a snapshot rewrite once this many bytes
	// of segments written by this process have been applied.
	CompactionMaxBytes int64

	// DisableWatch skips the fsnotify watcher on metadata-segments/. Set
	// in tests that don't need cross-process pickup.
	DisableWatch bool
}

func (c Config) entriesDir() string          { return filepath.Join(c.BaseDir, "entries") }
func (c Config) contentDir() string          { return filepath.Join(c.BaseDir, "content") }
func (c Config) segmentsDir() string         { return filepath.Join(c.BaseDir, "metadata-segments") }
func (c Config) snapshotPath() string        { return filepath.Join(c.BaseDir, "metadata-index.json") }
func (c Config) entryPath(id string) string  { return filepath.Join(c.entriesDir(), urlEscape(id)+".json") }
func (c Config) contentPath(hash string) string {
	return filepath.Join(c.contentDir(), urlEscape(hash)+".bin")
}

func withDefaults(c Config) Config {
	if c.CompactionMinFiles <= 0 {
		c.CompactionMinFiles = 64
	}
	if c.CompactionMaxBytes <= 0 {
		c.CompactionMaxBytes = 8 << 20 // 8MiB
	}
	return c
}

// orderedItem mirrors cas.Memory's ordered-index element; kept separate
// since Disk maintains its own index rather than embedding cas.Memory, so
// it can serve GetEntries payloads lazily from content/ instead of holding
// every payload in RAM.
type orderedItem struct {
	key types.SortKey
	id  string
}

func orderedLess(a, b orderedItem) bool { return a.key.Less(b.key) }

// Disk is an on-disk Store. It keeps metadata fully in memory (mirroring
// the snapshot+segment acceleration structure) but reads payload bytes
// from content/ lazily, since those may be large.
type Disk struct {
	cfg Config
	log *logging.Logger

	mu       sync.RWMutex
	metadata map[string]types.EntryMetadata
	refcount map[string]int
	docIndex map[string]map[string]struct{}
	ordered  *btree.BTreeG[orderedItem]

	ownSegments         map[string]int64 // filename -> size, segments this process wrote and hasn't compacted away
	pendingSegmentBytes int64
	lastCompactionAt    int64

	watcher  *fsnotify.Watcher
	stopWatch chan struct{}
}

var _ cas.Store = (*Disk)(nil)

// Open performs the full startup sequence from spec.md §4.2 (optional
// wipe, ensure dirs, load snapshot, replay segments, validate) and
// returns a ready-to-use store.
func Open(cfg Config, log *logging.Logger) (*Disk, error) {
	cfg = withDefaults(cfg)
	d := &Disk{
		cfg:         cfg,
		log:         log,
		metadata:    make(map[string]types.EntryMetadata),
		refcount:    make(map[string]int),
		docIndex:    make(map[string]map[string]struct{}),
		ordered:     btree.NewG(32, orderedLess),
		ownSegments: make(map[string]int64),
	}

	if cfg.WipeOnStart {
		if err := os.RemoveAll(cfg.BaseDir); err != nil {
			return nil, fmt.Errorf("diskstore: wipe %s: %w", cfg.BaseDir, err)
		}
	}
	for _, dir := range []string{cfg.entriesDir(), cfg.contentDir(), cfg.segmentsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("diskstore: ensure dir %s: %w", dir, err)
		}
	}

	if err := d.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("diskstore: load snapshot: %w", err)
	}
	if err := d.replayAllSegments(); err != nil {
		return nil, fmt.Errorf("diskstore: replay segments: %w", err)
	}
	if err := d.validateAgainstEntriesDir(); err != nil {
		return nil, fmt.Errorf("diskstore: validate: %w", err)
	}

	if !cfg.DisableWatch {
		if err := d.startWatch(); err != nil {
			d.log.Warnf("diskstore: fsnotify watch on %s unavailable: %v", cfg.segmentsDir(), err)
		}
	}

	return d, nil
}

// Close stops the background segment watcher, if running.
func (d *Disk) Close() error {
	if d.watcher == nil {
		return nil
	}
	close(d.stopWatch)
	return d.watcher.Close()
}

func urlEscape(s string) string {
	// entry ids and content hashes are hex/opaque tokens; filepath.Base
	// escaping is unnecessary for the ids this package produces (idgen
	// emits hex and UUIDs only) but defensively replace path separators
	// so a malformed id can never escape the target directory.
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '/', '\\', '.':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func (d *Disk) insertIndex(meta types.EntryMetadata) {
	d.metadata[meta.ID] = meta
	d.ordered.ReplaceOrInsert(orderedItem{key: meta.Key(), id: meta.ID})
	if d.docIndex[meta.DocID] == nil {
		d.docIndex[meta.DocID] = make(map[string]struct{})
	}
	d.docIndex[meta.DocID][meta.ID] = struct{}{}
}

func (d *Disk) removeIndex(meta types.EntryMetadata) {
	delete(d.metadata, meta.ID)
	d.ordered.Delete(orderedItem{key: meta.Key(), id: meta.ID})
	if set := d.docIndex[meta.DocID]; set != nil {
		delete(set, meta.ID)
		if len(set) == 0 {
			delete(d.docIndex, meta.DocID)
		}
	}
}

// GetIDBloomSummary delegates to the shared bloom package over the current
// id set.
func (d *Disk) GetIDBloomSummary(ctx context.Context) (types.BloomSummary, error) {
	ids, err := d.GetAllIDs(ctx)
	if err != nil {
		return types.BloomSummary{}, err
	}
	return bloom.Build(ids), nil
}

func (d *Disk) GetCompactionStatus(context.Context) (types.CompactionStatus, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return types.CompactionStatus{
		Disabled:         false,
		PendingSegments:  len(d.ownSegments),
		PendingBytes:     d.pendingSegmentBytes,
		LastCompactionAt: d.lastCompactionAt,
	}, nil
}

func (d *Disk) AwaitIndexReady(context.Context) error { return nil }

func (d *Disk) GetIndexBuildStatus(context.Context) (types.IndexBuildStatus, error) {
	return types.IndexBuildStatus{Ready: true}, nil
}

// --- atomic file write protocol -------------------------------------------------

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-%d-%d-%d", os.Getpid(), time.Now().UnixNano(), rand.Int63()))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open parent dir: %w", err)
	}
	defer df.Close()
	// fsync on a directory handle is not supported on all platforms
	// (notably Windows); a failure here is non-fatal since the file
	// rename itself already landed durably on most filesystems we target.
	if err := df.Sync(); err != nil {
		return nil
	}
	return nil
}

func segmentFilename() string {
	return fmt.Sprintf("%020d-%d-%d.json", time.Now().UnixMilli(), os.Getpid(), rand.Int31())
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
