package secidx

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kvquery/secidx/secidxlog"
	"github.com/kvquery/secidx/secidxmetrics"
	"github.com/kvquery/secidx/shard"
)

// scanThreadsHint is passed to the connector's CreateBatchScanner as a hint
// for its own internal scan parallelism per task.
const scanThreadsHint = 10

// IndexColumnFamilyTag derives the index column-family tag the scanner
// must request, using the same (family, qualifier) convention the external
// index writer used when it wrote this column's entries.
func IndexColumnFamilyTag(family, qualifier string) []byte {
	tag := make([]byte, 0, len(family)+len(qualifier)+1)
	tag = append(tag, family...)
	tag = append(tag, 0)
	tag = append(tag, qualifier...)
	return tag
}

// ScanResult is one constraint's matching row-ids from an index scan.
type ScanResult struct {
	Constraint ColumnConstraint
	Rows       map[string]RowId
}

// IndexScanner executes range scans against an index table, one task per
// indexed constraint, in parallel over a bounded worker pool.
type IndexScanner struct {
	store  KVStore
	shards shard.IndexStorage
	sem    *semaphore.Weighted
	log    secidxlog.Logger
	obs    *secidxmetrics.Metrics
}

// NewIndexScanner builds an IndexScanner over store with a bounded pool of
// width 4*runtime.NumCPU(): an unbounded goroutine supply gated by a
// counting semaphore, so pool growth never head-of-line blocks behind a
// fixed-size worker queue. shards must be the same fanout codec the index
// writer encoded keys with. obs may be nil to disable instrumentation.
func NewIndexScanner(store KVStore, shards shard.IndexStorage, log secidxlog.Logger, obs *secidxmetrics.Metrics) *IndexScanner {
	if log == nil {
		log = secidxlog.NewNop()
	}
	width := int64(4 * runtime.NumCPU())
	return &IndexScanner{store: store, shards: shards, sem: semaphore.NewWeighted(width), log: log, obs: obs}
}

type scanTaskResult struct {
	result ScanResult
	err    error
}

// Scan produces, for each constraint, the set of row-ids that appear in
// indexTable under any of its ranges and also lie in rowIdRanges. Any task
// failure cancels its siblings and fails the whole call; no partial result
// is ever returned.
func (s *IndexScanner) Scan(
	ctx context.Context,
	indexTable string,
	constraintRanges []ConstraintRanges,
	rowIdRanges []ByteRange,
	auths Authorizations,
) ([]ScanResult, error) {
	if len(constraintRanges) == 0 {
		return nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	channels := make([]chan scanTaskResult, len(constraintRanges))
	for i := range channels {
		channels[i] = make(chan scanTaskResult, 1)
	}

	for i, cr := range constraintRanges {
		go s.runTask(runCtx, indexTable, cr, rowIdRanges, auths, channels[i])
	}

	// Consume in submission order, not completion order, so a caller
	// folding these into a set-intersection gets a deterministic seed.
	results := make([]ScanResult, 0, len(constraintRanges))
	for _, ch := range channels {
		select {
		case r := <-ch:
			if r.err != nil {
				cancel()
				if ctx.Err() != nil {
					return nil, newPlanError(ErrorKindInterrupted, ctx.Err(), "index scan interrupted")
				}
				return nil, newPlanError(ErrorKindScanFailure, r.err, "index scan failed")
			}
			results = append(results, r.result)
		case <-ctx.Done():
			cancel()
			return nil, newPlanError(ErrorKindInterrupted, ctx.Err(), "index scan interrupted")
		}
	}
	return results, nil
}

func (s *IndexScanner) runTask(
	ctx context.Context,
	indexTable string,
	cr ConstraintRanges,
	rowIdRanges []ByteRange,
	auths Authorizations,
	out chan<- scanTaskResult,
) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		out <- scanTaskResult{err: err}
		return
	}
	defer s.sem.Release(1)

	if s.obs != nil {
		start := time.Now()
		defer func() {
			s.obs.ScanDuration.WithLabelValues(cr.Constraint.Name).Observe(time.Since(start).Seconds())
		}()
	}

	scanner, err := s.store.CreateBatchScanner(ctx, indexTable, auths, scanThreadsHint)
	if err != nil {
		out <- scanTaskResult{err: err}
		return
	}
	defer scanner.Close()

	scanner.SetRanges(ShardRanges(s.shards, cr.Ranges))
	scanner.FetchColumnFamily(IndexColumnFamilyTag(cr.Constraint.Family, cr.Constraint.Qualifier))

	rows := make(map[string]RowId)
	it := scanner.Rows(ctx)
	for it.Next(ctx) {
		entry := it.Entry()
		if InAnyRange(entry.ColumnQualifier, rowIdRanges) {
			rid := RowId(append([]byte(nil), entry.ColumnQualifier...))
			rows[string(rid)] = rid
		}
	}
	if err := it.Err(); err != nil {
		out <- scanTaskResult{err: err}
		return
	}

	s.log.DebugCtx(ctx, "index scan constraint complete", "column", cr.Constraint.Name, "matches", len(rows))
	out <- scanTaskResult{result: ScanResult{Constraint: cr.Constraint, Rows: rows}}
}

// ShardRanges fans each logical index-key range out across every shard
// prefix the index writer could have stored a matching key under, so one
// multi-range scan covers all physical forms. Shard prefixes are fixed
// width, so prefixing both bounds of a range preserves its membership test
// within each shard's partition; an unbounded side becomes the partition's
// own bound (the shard prefix below, the next shard's prefix above).
func ShardRanges(shards shard.IndexStorage, ranges []ByteRange) []ByteRange {
	if shards == nil {
		return ranges
	}
	n := shards.NumShards()
	prefixes := shards.EncodeAllShards(nil)
	out := make([]ByteRange, 0, len(ranges)*n)
	for _, r := range ranges {
		starts := prefixes
		if r.Start != nil {
			starts = shards.EncodeAllShards(r.Start)
		}
		var ends [][]byte
		if r.End != nil {
			ends = shards.EncodeAllShards(r.End)
		}
		for i := 0; i < n; i++ {
			sr := ByteRange{
				Start:          starts[i],
				StartInclusive: r.StartInclusive || r.Start == nil,
				EndInclusive:   r.EndInclusive,
			}
			switch {
			case r.End != nil:
				sr.End = ends[i]
			case i+1 < n:
				sr.End = prefixes[i+1]
				sr.EndInclusive = false
			}
			out = append(out, sr)
		}
	}
	return out
}

// IntersectAll folds set-intersection over results in order, seeded from
// the first result. The set of constraints is never empty when this is
// called from the planner, but an empty results slice yields an empty,
// non-nil map.
func IntersectAll(results []ScanResult) map[string]RowId {
	if len(results) == 0 {
		return map[string]RowId{}
	}
	out := make(map[string]RowId, len(results[0].Rows))
	for k, v := range results[0].Rows {
		out[k] = v
	}
	for _, r := range results[1:] {
		for k := range out {
			if _, ok := r.Rows[k]; !ok {
				delete(out, k)
			}
		}
	}
	return out
}
