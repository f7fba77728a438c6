package secidx

import "time"

// Config holds the per-query planning options that, in the system this
// planner is embedded in, are threaded through from session properties;
// the connection/session plumbing itself lives with the caller.
type Config struct {
	// OptimizeIndexEnabled is the master switch: false always yields
	// DoNotUseIndex.
	OptimizeIndexEnabled bool
	// IndexMetricsEnabled controls whether the cardinality cache is
	// consulted at all; false skips straight to a full scan-and-
	// intersect.
	IndexMetricsEnabled bool
	// IndexShortCircuitEnabled allows CardinalityCache to return before
	// every constraint's estimate is known.
	IndexShortCircuitEnabled bool
	// IndexThreshold is the maximum allowed ratio of matched rows to
	// total rows before the index is deemed not worth using. Must be in
	// [0, 1].
	IndexThreshold float64
	// IndexSmallCardThreshold and IndexSmallCardRowThreshold bound how
	// small a single column's cardinality estimate must be to skip
	// intersecting it against the other indexed columns; the effective
	// threshold is min(numRows*IndexSmallCardThreshold,
	// IndexSmallCardRowThreshold). IndexSmallCardThreshold must be in
	// [0, 1].
	IndexSmallCardThreshold    float64
	IndexSmallCardRowThreshold uint64
	// NumIndexRowsPerSplit is the target tablet-split bin size.
	NumIndexRowsPerSplit uint32
	// NumIndexShards is the shard fanout the index writer used when it
	// spread each logical index key across physical shards; reads must use
	// the same count to find every form of a key. Must be greater than
	// one.
	NumIndexShards int
	// IndexCardinalityCachePollingDuration bounds the wake-up latency of
	// CardinalityCache's short-circuit polling.
	IndexCardinalityCachePollingDuration time.Duration
	// CardinalityCacheSize bounds how many distinct (column, range)
	// cardinality estimates are memoized at once.
	CardinalityCacheSize int
}

// SetDefaults fills in zero-valued fields with sane defaults.
func (c *Config) SetDefaults() {
	if c.NumIndexRowsPerSplit == 0 {
		c.NumIndexRowsPerSplit = 10000
	}
	if c.IndexCardinalityCachePollingDuration == 0 {
		c.IndexCardinalityCachePollingDuration = 10 * time.Millisecond
	}
	if c.CardinalityCacheSize == 0 {
		c.CardinalityCacheSize = 10000
	}
	if c.NumIndexShards == 0 {
		c.NumIndexShards = 4
	}
}

// Validate reports an InvalidConfig error if any threshold is out of its
// required range.
func (c *Config) Validate() error {
	if c.IndexThreshold < 0 || c.IndexThreshold > 1 {
		return newPlanError(ErrorKindInvalidConfig, ErrThresholdOutOfRange, "indexThreshold")
	}
	if c.IndexSmallCardThreshold < 0 || c.IndexSmallCardThreshold > 1 {
		return newPlanError(ErrorKindInvalidConfig, ErrThresholdOutOfRange, "indexSmallCardThreshold")
	}
	if c.NumIndexShards != 0 && c.NumIndexShards <= 1 {
		return newPlanError(ErrorKindInvalidConfig, ErrNumShardsTooSmall, "numIndexShards")
	}
	return nil
}
