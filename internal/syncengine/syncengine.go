// Package syncengine implements the stateless pull/push driver from
// spec.md §4.4: it reconciles two cas.Store instances over an id-set
// diff, fetching what one side is missing and committing it idempotently
// to the other. The engine holds no long-lived state of its own — every
// call takes both stores and returns a fresh result.
package syncengine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mindoo/mindoo-core/internal/bloom"
	"github.com/mindoo/mindoo-core/internal/cas"
	"github.com/mindoo/mindoo-core/internal/logging"
	"github.com/mindoo/mindoo-core/internal/types"
)

// Options configures a single pull or push call.
type Options struct {
	// FetchConcurrency bounds the number of fetched entries committed to
	// the destination concurrently. Zero means 1 (sequential).
	FetchConcurrency int
	// ScanPageSize is not read by Pull or Push: both ask FindNewEntries
	// for the whole diff in one call.
	ScanPageSize int
}

func (o Options) concurrency() int {
	if o.FetchConcurrency <= 0 {
		return 1
	}
	return o.FetchConcurrency
}

// Result reports a pull or push outcome. Per-entry failures are isolated
// and counted; they never abort the sync (spec.md §4.4 "Error handling").
type Result struct {
	FetchedIDs []string
	FailedIDs  []string
	Errors     []error
}

// Engine drives pull/push between a local and a remote cas.Store. Its
// only mutable state is the single-flight guard below; callers are free
// to construct a fresh Engine per call if they don't need that guard
// shared across calls.
type Engine struct {
	log *logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New constructs an Engine. log may be nil.
func New(log *logging.Logger) *Engine {
	return &Engine{log: log, inFlight: make(map[string]struct{})}
}

// beginSync enforces exactly-once-in-flight per db_id pair, mirroring the
// teacher's single-flight-guarded export/import: a second concurrent
// pull/push for the same pair is rejected rather than interleaved.
func (e *Engine) beginSync(dbID string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[dbID]; busy {
		return nil, fmt.Errorf("syncengine: sync for db_id %q already in flight", dbID)
	}
	e.inFlight[dbID] = struct{}{}
	return func() {
		e.mu.Lock()
		delete(e.inFlight, dbID)
		e.mu.Unlock()
	}, nil
}

// checkCompatible enforces the db_id precondition: both sides must agree
// on which logical database they represent, or the engine refuses to
// operate (spec.md §4.4 "Preconditions").
func checkCompatible(localDBID, remoteDBID string) error {
	if localDBID != remoteDBID {
		return fmt.Errorf("syncengine: local db_id %q != remote db_id %q: %w", localDBID, remoteDBID, types.ErrIncompatibleStore)
	}
	return nil
}

// Pull reconciles src entries into dst: every id src holds that dst does
// not is fetched and committed to dst. dstDBID and srcDBID must match.
func (e *Engine) Pull(ctx context.Context, dst cas.Store, dstDBID string, src cas.Store, srcDBID string, opts Options) (Result, error) {
	if err := checkCompatible(dstDBID, srcDBID); err != nil {
		return Result{}, err
	}

	end, err := e.beginSync(dstDBID)
	if err != nil {
		return Result{}, err
	}
	defer end()

	knownIDs, err := dst.GetAllIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("syncengine: get_all_ids on destination: %w", err)
	}

	newMeta, err := src.FindNewEntries(ctx, knownIDs)
	if err != nil {
		return Result{}, fmt.Errorf("syncengine: find_new_entries on source: %w", err)
	}
	if len(newMeta) == 0 {
		return Result{}, nil
	}

	ids := make([]string, len(newMeta))
	for i, m := range newMeta {
		ids[i] = m.ID
	}

	entries, err := src.GetEntries(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("syncengine: get_entries on source: %w", err)
	}

	return e.commitEach(ctx, dst, entries, opts), nil
}

// Push is Pull with the roles of dst and src reversed — entries dst holds
// that src does not are fetched from dst and committed to src.
func (e *Engine) Push(ctx context.Context, dst cas.Store, dstDBID string, src cas.Store, srcDBID string, opts Options) (Result, error) {
	return e.Pull(ctx, src, srcDBID, dst, dstDBID, opts)
}

// commitEach fans out per-entry PutEntries calls up to opts'
// FetchConcurrency and aggregates counts and errors; one entry's failure
// never aborts the others (spec.md §4.4 "Error handling").
func (e *Engine) commitEach(ctx context.Context, dst cas.Store, entries []types.Entry, opts Options) Result {
	var result Result
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency())

	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			err := dst.PutEntries(gctx, []types.Entry{entry})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Warnf("syncengine: commit entry %q failed: %v", entry.ID, err)
				result.FailedIDs = append(result.FailedIDs, entry.ID)
				result.Errors = append(result.Errors, fmt.Errorf("entry %q: %w", entry.ID, err))
				return nil // isolate: do not cancel sibling fetches
			}
			result.FetchedIDs = append(result.FetchedIDs, entry.ID)
			return nil
		})
	}
	_ = g.Wait() // commitEach never returns an aggregate error, only per-entry ones
	return result
}

// Converged reports whether dst's id set is a superset of src's — the
// convergence property spec.md §8 checks after a successful pull.
func Converged(dst, src []string) bool {
	have := make(map[string]struct{}, len(dst))
	for _, id := range dst {
		have[id] = struct{}{}
	}
	for _, id := range src {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}

// PlanPush partitions localIDs into ids the remote's bloom summary says
// it definitely lacks versus ids it may already have, for bandwidth
// planning ahead of a push (spec.md §4.4 step 2). It never decides
// correctness by itself — a push still idempotently commits everything
// the planner marks "maybe present".
func PlanPush(remoteBloom types.BloomSummary, localIDs []string) (definitelyMissing, maybePresent []string) {
	for _, id := range localIDs {
		if bloom.MightContain(remoteBloom, id) {
			maybePresent = append(maybePresent, id)
		} else {
			definitelyMissing = append(definitelyMissing, id)
		}
	}
	return definitelyMissing, maybePresent
}
