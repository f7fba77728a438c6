package secidx

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/kvquery/secidx/secidxlog"
	"github.com/kvquery/secidx/secidxmetrics"
	"github.com/kvquery/secidx/shard"
)

// IndexTableName derives the index table name from (schema, table) using
// the external index writer's convention.
func IndexTableName(schema, table string) string {
	return fmt.Sprintf("%s.%s_idx", schema, table)
}

// IndexPlanner orchestrates cardinality estimation and index scanning to
// decide whether a query should use the secondary index and, if so, what
// tablet splits to emit.
//
// An IndexPlanner owns a bounded worker pool (via IndexScanner) created at
// construction and released at Shutdown; Shutdown is best-effort,
// immediate, and idempotent.
type IndexPlanner struct {
	cfg        Config
	serializer RowSerializer
	metrics    MetricsReader
	cache      *CardinalityCache
	scanner    *IndexScanner
	binner     RangeBinner
	log        secidxlog.Logger
	obs        *secidxmetrics.Metrics

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewIndexPlanner builds an IndexPlanner. obs may be nil to disable
// Prometheus instrumentation (e.g. in unit tests).
func NewIndexPlanner(
	store KVStore,
	metricsReader MetricsReader,
	serializer RowSerializer,
	cfg Config,
	log secidxlog.Logger,
	obs *secidxmetrics.Metrics,
) (*IndexPlanner, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = secidxlog.NewNop()
	}

	shards, err := shard.New(cfg.NumIndexShards)
	if err != nil {
		return nil, newPlanError(ErrorKindInvalidConfig, err, "numIndexShards")
	}

	cache, err := NewCardinalityCache(metricsReader, cfg.CardinalityCacheSize, log, obs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &IndexPlanner{
		cfg:        cfg,
		serializer: serializer,
		metrics:    metricsReader,
		cache:      cache,
		scanner:    NewIndexScanner(store, shards, log, obs),
		log:        log,
		obs:        obs,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Shutdown performs an immediate, best-effort interruption of any planner
// workers still running and is safe to call more than once.
func (p *IndexPlanner) Shutdown() {
	p.shutdownOnce.Do(p.cancel)
}

// callCtx derives a context that is cancelled either when ctx is (caller
// timeout/cancellation) or when the planner is shut down, whichever comes
// first.
func (p *IndexPlanner) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-p.ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return callCtx, func() {
		close(stop)
		cancel()
	}
}

// Apply decides whether to use the secondary index for the given
// constraints and, if so, produces the tablet splits to scan.
func (p *IndexPlanner) Apply(
	ctx context.Context,
	schema, table string,
	constraints []ColumnConstraint,
	rowIdRanges []ByteRange,
	auths Authorizations,
) (PlanResult, error) {
	if len(rowIdRanges) == 0 {
		rowIdRanges = []ByteRange{UnboundedRange()}
	}

	if !p.cfg.OptimizeIndexEnabled {
		p.log.DebugCtx(ctx, "secondary index disabled")
		p.observeOutcome("disabled")
		return DoNotUseIndexResult(), nil
	}

	callCtx, done := p.callCtx(ctx)
	defer done()

	constraintRanges, err := p.filterIndexedConstraints(ctx, constraints)
	if err != nil {
		return PlanResult{}, err
	}
	if len(constraintRanges) == 0 {
		p.log.DebugCtx(ctx, "query has no constraints on indexed columns, skipping secondary index")
		p.observeOutcome("no_indexed_constraint")
		return DoNotUseIndexResult(), nil
	}

	indexTable := IndexTableName(schema, table)

	if !p.cfg.IndexMetricsEnabled {
		return p.applyWithoutMetrics(callCtx, indexTable, constraintRanges, rowIdRanges, auths)
	}
	return p.applyWithMetrics(callCtx, schema, table, indexTable, constraintRanges, rowIdRanges, auths)
}

// filterIndexedConstraints keeps only the indexed constraints, turning
// each one's Domain into byte ranges via the row serializer. A constraint
// whose Domain serializes to zero ranges is kept (not dropped): its scan
// task trivially yields no matches, which is what "matches nothing" should
// mean for a range-free predicate. Non-indexed constraints are logged, not
// silently dropped.
func (p *IndexPlanner) filterIndexedConstraints(ctx context.Context, constraints []ColumnConstraint) ([]ConstraintRanges, error) {
	out := make([]ConstraintRanges, 0, len(constraints))
	for _, c := range constraints {
		if !c.Indexed {
			p.log.WarnCtx(ctx, "query contains constraint on non-indexed column, is it worth indexing?", "column", c.Name)
			continue
		}
		ranges, err := p.serializer.DomainToByteRanges(c.Domain)
		if err != nil {
			return nil, newPlanError(ErrorKindSerializerFailure, err, "domainToByteRanges")
		}
		out = append(out, ConstraintRanges{Constraint: c, Ranges: ranges})
	}
	return out, nil
}

func (p *IndexPlanner) applyWithoutMetrics(
	ctx context.Context,
	indexTable string,
	constraintRanges []ConstraintRanges,
	rowIdRanges []ByteRange,
	auths Authorizations,
) (PlanResult, error) {
	p.log.DebugCtx(ctx, "use of index metrics is disabled")
	results, err := p.scanner.Scan(ctx, indexTable, constraintRanges, rowIdRanges, auths)
	if err != nil {
		p.observeOutcome("scan_failure")
		return PlanResult{}, err
	}
	ranges := rowsToRanges(IntersectAll(results))
	return p.bin(ranges)
}

func (p *IndexPlanner) applyWithMetrics(
	ctx context.Context,
	schema, table, indexTable string,
	constraintRanges []ConstraintRanges,
	rowIdRanges []ByteRange,
	auths Authorizations,
) (PlanResult, error) {
	p.log.DebugCtx(ctx, "use of index metrics is enabled")

	numRows, err := p.metrics.NumRowsInTable(ctx, schema, table)
	if err != nil {
		p.observeOutcome("metrics_unavailable")
		return PlanResult{}, newPlanError(ErrorKindMetricsUnavailable, err, "numRowsInTable")
	}

	smallT := smallestCardinalityThreshold(numRows, p.cfg.IndexSmallCardThreshold, p.cfg.IndexSmallCardRowThreshold)

	var shortThreshold uint64
	var pollDur = p.cfg.IndexCardinalityCachePollingDuration
	if p.cfg.IndexShortCircuitEnabled {
		shortThreshold = smallT
	} else {
		pollDur = 0
	}

	cards, err := p.cache.GetCardinalities(ctx, schema, table, auths, constraintRanges, shortThreshold, pollDur)
	if err != nil {
		p.observeOutcome("metrics_unavailable")
		return PlanResult{}, err
	}
	if len(cards) == 0 {
		p.observeOutcome("no_cardinalities")
		return DoNotUseIndexResult(), nil
	}

	lowest := cards[0]
	p.log.DebugCtx(ctx, "smallest cardinality", "column", lowest.Constraint.Name, "estimate", lowest.Estimate, "threshold", smallT)

	var ranges []ByteRange
	if lowest.Estimate > smallT {
		if len(constraintRanges) == 1 {
			ratio := safeRatio(lowest.Estimate, numRows)
			if ratio >= p.cfg.IndexThreshold {
				p.log.DebugCtx(ctx, "single indexed column exceeds threshold without scanning", "ratio", ratio)
				p.observeOutcome("threshold_exceeded")
				return DoNotUseIndexResult(), nil
			}
		}

		p.log.DebugCtx(ctx, "intersecting ranges across indexed columns", "columns", len(constraintRanges))
		results, err := p.scanner.Scan(ctx, indexTable, constraintRanges, rowIdRanges, auths)
		if err != nil {
			p.observeOutcome("scan_failure")
			return PlanResult{}, err
		}
		ranges = rowsToRanges(IntersectAll(results))
	} else {
		p.log.DebugCtx(ctx, "not intersecting columns, using column with lowest cardinality", "column", lowest.Constraint.Name)
		only := onlyConstraint(constraintRanges, lowest.Constraint)
		results, err := p.scanner.Scan(ctx, indexTable, only, rowIdRanges, auths)
		if err != nil {
			p.observeOutcome("scan_failure")
			return PlanResult{}, err
		}
		ranges = rowsToRanges(results[0].Rows)
	}

	if len(ranges) == 0 {
		p.log.DebugCtx(ctx, "query would return no results, returning empty list of splits")
		p.observeOutcome("empty_intersection")
		return UseIndexResult(nil), nil
	}

	ratio := safeRatio(uint64(len(ranges)), numRows)
	if ratio >= p.cfg.IndexThreshold {
		p.log.DebugCtx(ctx, "index scan would visit too many rows", "ratio", ratio, "threshold", p.cfg.IndexThreshold)
		p.observeOutcome("threshold_exceeded")
		return DoNotUseIndexResult(), nil
	}

	return p.bin(ranges)
}

func (p *IndexPlanner) bin(ranges []ByteRange) (PlanResult, error) {
	splits, err := p.binner.Bin(int(p.cfg.NumIndexRowsPerSplit), ranges)
	if err != nil {
		return PlanResult{}, err
	}
	p.observeOutcome("use_index")
	if p.obs != nil {
		p.obs.SplitsEmitted.Observe(float64(len(splits)))
	}
	return UseIndexResult(splits), nil
}

func (p *IndexPlanner) observeOutcome(outcome string) {
	if p.obs != nil {
		p.obs.PlansTotal.WithLabelValues(outcome).Inc()
	}
}

// smallestCardinalityThreshold is the number of matching rows at or below
// which a column is "small enough" to skip intersection: the minimum of
// the percentage-based threshold and the absolute row threshold.
func smallestCardinalityThreshold(numRows uint64, pct float64, rowThreshold uint64) uint64 {
	pctThreshold := uint64(math.Floor(float64(numRows) * pct))
	if pctThreshold < rowThreshold {
		return pctThreshold
	}
	return rowThreshold
}

// safeRatio returns numerator/denominator as a ratio in [0, +Inf), or 1.0
// when the table is reported empty. A zero-row table can never justify
// an index scan, so we fail closed rather than divide by zero.
func safeRatio(numerator, denominator uint64) float64 {
	if denominator == 0 {
		return 1.0
	}
	return float64(numerator) / float64(denominator)
}

// onlyConstraint returns the single ConstraintRanges entry matching
// target, preserving its original ranges.
func onlyConstraint(all []ConstraintRanges, target ColumnConstraint) []ConstraintRanges {
	for _, cr := range all {
		if cr.Constraint.Family == target.Family && cr.Constraint.Qualifier == target.Qualifier {
			return []ConstraintRanges{cr}
		}
	}
	return nil
}

// rowsToRanges materializes a row-id set into a list of single-row-id
// ByteRanges in a deterministic per-call order (sorted by bytes), so that
// splits are reproducible within one Apply call even though the
// underlying set is unordered.
func rowsToRanges(rows map[string]RowId) []ByteRange {
	ids := make([]RowId, 0, len(rows))
	for _, id := range rows {
		ids = append(ids, id)
	}
	sortRowIds(ids)

	ranges := make([]ByteRange, len(ids))
	for i, id := range ids {
		ranges[i] = ByteRange{Start: id, StartInclusive: true, End: id, EndInclusive: true}
	}
	return ranges
}
