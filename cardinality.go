package secidx

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kvquery/secidx/secidxlog"
	"github.com/kvquery/secidx/secidxmetrics"
)

// ConstraintRanges pairs one constraint with the byte ranges its Domain
// serialized to. Order matters: it is both the task-submission order and,
// on a cardinality tie, the tie-break order (first encountered wins, not
// a stable name-based tie-break).
type ConstraintRanges struct {
	Constraint ColumnConstraint
	Ranges     []ByteRange
}

// cacheKey identifies one (column, range) cardinality memoized across
// queries.
type cacheKey struct {
	family, qualifier string
	start, end        string
	startIncl, endIncl bool
}

func keyFor(col ColumnIdentity, rng ByteRange) cacheKey {
	return cacheKey{
		family:    col.Family,
		qualifier: col.Qualifier,
		start:     string(rng.Start),
		end:       string(rng.End),
		startIncl: rng.StartInclusive,
		endIncl:   rng.EndInclusive,
	}
}

// CardinalityCache memoizes per-(column,range) cardinality estimates read
// from a MetricsReader and, for a whole constraint set, supports
// short-circuit polling: it can return as soon as any constraint's
// estimate is small enough, abandoning the rest.
//
// The memoization table is a bounded LRU so a long-lived planner doesn't
// grow its cache without limit; it is safe for concurrent readers per the
// hashicorp/golang-lru/v2 contract.
type CardinalityCache struct {
	reader MetricsReader
	cache  *lru.Cache[cacheKey, uint64]
	log    secidxlog.Logger
	obs    *secidxmetrics.Metrics
}

// NewCardinalityCache builds a CardinalityCache backed by reader, with up
// to cacheSize distinct (column, range) entries memoized at once. obs may
// be nil to disable instrumentation.
func NewCardinalityCache(reader MetricsReader, cacheSize int, log secidxlog.Logger, obs *secidxmetrics.Metrics) (*CardinalityCache, error) {
	cache, err := lru.New[cacheKey, uint64](cacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = secidxlog.NewNop()
	}
	return &CardinalityCache{reader: reader, cache: cache, log: log, obs: obs}, nil
}

// Invalidate drops every memoized estimate. Call this in response to the
// external invalidation event the index writer emits after a reindex.
func (c *CardinalityCache) Invalidate() {
	c.cache.Purge()
}

type cardWorkerResult struct {
	idx        int
	constraint ColumnConstraint
	estimate   uint64
}

// GetCardinalities computes a cardinality estimate per constraint and
// returns them in ascending-estimate order. With smallCardThreshold > 0
// and pollInterval > 0, the call may return as soon as some constraint's
// estimate is <= smallCardThreshold, cancelling estimation work still in
// flight for the others (short-circuit mode). With smallCardThreshold ==
// 0, every constraint's estimate is awaited (full mode).
func (c *CardinalityCache) GetCardinalities(
	ctx context.Context,
	schema, table string,
	auths Authorizations,
	constraintRanges []ConstraintRanges,
	smallCardThreshold uint64,
	pollInterval time.Duration,
) ([]CardinalityEstimate, error) {
	if len(constraintRanges) == 0 {
		return nil, nil
	}

	shortCircuit := smallCardThreshold > 0 && pollInterval > 0

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	completed := xsync.NewMapOf[int, cardWorkerResult]()
	errOnce := &onceErr{}

	var wg sync.WaitGroup
	wg.Add(len(constraintRanges))
	for i, cr := range constraintRanges {
		go func(i int, cr ConstraintRanges) {
			defer wg.Done()
			est, err := c.sumCardinality(runCtx, schema, table, cr)
			if err != nil {
				if runCtx.Err() == nil {
					errOnce.set(err)
					cancel()
				}
				return
			}
			completed.Store(i, cardWorkerResult{idx: i, constraint: cr.Constraint, estimate: est})
		}(i, cr)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	if shortCircuit {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				if err := errOnce.get(); err != nil {
					return nil, newPlanError(ErrorKindMetricsUnavailable, err, "cardinality estimation failed")
				}
				if ctx.Err() != nil {
					return nil, newPlanError(ErrorKindInterrupted, ctx.Err(), "cardinality estimation interrupted")
				}
				return orderedEstimates(completed), nil
			case <-ticker.C:
				if small, ok := smallestBelow(completed, smallCardThreshold); ok {
					cancel()
					c.log.DebugCtx(ctx, "cardinality short-circuit", "column", small.constraint.Name, "estimate", small.estimate)
					if c.obs != nil {
						c.obs.CacheShortCircuits.Inc()
					}
					return orderedEstimates(completed), nil
				}
			case <-ctx.Done():
				cancel()
				return nil, newPlanError(ErrorKindInterrupted, ctx.Err(), "cardinality estimation interrupted")
			}
		}
	}

	select {
	case <-done:
		if err := errOnce.get(); err != nil {
			return nil, newPlanError(ErrorKindMetricsUnavailable, err, "cardinality estimation failed")
		}
		if ctx.Err() != nil {
			return nil, newPlanError(ErrorKindInterrupted, ctx.Err(), "cardinality estimation interrupted")
		}
		return orderedEstimates(completed), nil
	case <-ctx.Done():
		cancel()
		return nil, newPlanError(ErrorKindInterrupted, ctx.Err(), "cardinality estimation interrupted")
	}
}

// sumCardinality sums per-range cardinalities for one constraint, serving
// memoized (column, range) pairs from the LRU and falling through to the
// metrics reader on a miss.
func (c *CardinalityCache) sumCardinality(ctx context.Context, schema, table string, cr ConstraintRanges) (uint64, error) {
	col := ColumnIdentity{Family: cr.Constraint.Family, Qualifier: cr.Constraint.Qualifier}
	var total uint64
	for _, rng := range cr.Ranges {
		key := keyFor(col, rng)
		if v, ok := c.cache.Get(key); ok {
			total += v
			continue
		}
		v, err := c.reader.Cardinality(ctx, col, rng)
		if err != nil {
			return 0, err
		}
		c.cache.Add(key, v)
		total += v
	}
	return total, nil
}

func smallestBelow(completed *xsync.MapOf[int, cardWorkerResult], threshold uint64) (cardWorkerResult, bool) {
	var best cardWorkerResult
	found := false
	completed.Range(func(_ int, r cardWorkerResult) bool {
		if r.estimate <= threshold {
			best = r
			found = true
			return false
		}
		return true
	})
	return best, found
}

// orderedEstimates materializes whatever is in completed (which, outside
// short-circuit, is always everything) sorted ascending by estimate, with
// ties broken by submission order: the first-submitted constraint with
// the lowest cardinality wins.
func orderedEstimates(completed *xsync.MapOf[int, cardWorkerResult]) []CardinalityEstimate {
	results := make([]cardWorkerResult, 0)
	completed.Range(func(_ int, r cardWorkerResult) bool {
		results = append(results, r)
		return true
	})
	sort.Slice(results, func(i, j int) bool {
		if results[i].estimate != results[j].estimate {
			return results[i].estimate < results[j].estimate
		}
		return results[i].idx < results[j].idx
	})
	out := make([]CardinalityEstimate, len(results))
	for i, r := range results {
		out[i] = CardinalityEstimate{Constraint: r.constraint, Estimate: r.estimate}
	}
	return out
}

// onceErr captures the first error reported by any worker; later ones are
// dropped, matching "a failure in any parallel task fails the whole call"
// without needing an unbounded error channel.
type onceErr struct {
	mu  sync.Mutex
	err error
}

func (o *onceErr) set(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err == nil {
		o.err = err
	}
}

func (o *onceErr) get() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
