package secidx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvquery/secidx"
	"github.com/kvquery/secidx/secidxtest"
)

func constraintRanges(name, family, qualifier string, ranges ...secidx.ByteRange) secidx.ConstraintRanges {
	return secidx.ConstraintRanges{
		Constraint: secidx.ColumnConstraint{Family: family, Qualifier: qualifier, Name: name, Indexed: true},
		Ranges:     ranges,
	}
}

func TestScan_FiltersByRowIdRangesAndDeduplicates(t *testing.T) {
	store := secidxtest.NewKVStore(testNumShards)
	store.Put("s.t_idx",
		secidxtest.IndexEntry{Family: "f", Qualifier: "a", Key: []byte{1}, RowId: []byte("row1")},
		secidxtest.IndexEntry{Family: "f", Qualifier: "a", Key: []byte{2}, RowId: []byte("row1")},
		secidxtest.IndexEntry{Family: "f", Qualifier: "a", Key: []byte{3}, RowId: []byte("row5")},
		secidxtest.IndexEntry{Family: "f", Qualifier: "a", Key: []byte{4}, RowId: []byte("row9")},
	)

	s := secidx.NewIndexScanner(store, testShards(t), nil, nil)
	results, err := s.Scan(context.Background(), "s.t_idx",
		[]secidx.ConstraintRanges{constraintRanges("a", "f", "a", rangeFor(0, 10))},
		[]secidx.ByteRange{{Start: []byte("row0"), StartInclusive: true, End: []byte("row5"), EndInclusive: true}},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// row1 appears under two index keys but is one row; row9 is outside the
	// rowIdRanges filter.
	assert.Len(t, results[0].Rows, 2)
	assert.Contains(t, results[0].Rows, "row1")
	assert.Contains(t, results[0].Rows, "row5")
}

func TestScan_ResultsFollowSubmissionOrder(t *testing.T) {
	store := secidxtest.NewKVStore(testNumShards)
	store.Put("s.t_idx",
		secidxtest.IndexEntry{Family: "f", Qualifier: "a", Key: []byte{1}, RowId: []byte("row1")},
		secidxtest.IndexEntry{Family: "f", Qualifier: "b", Key: []byte{1}, RowId: []byte("row2")},
		secidxtest.IndexEntry{Family: "f", Qualifier: "c", Key: []byte{1}, RowId: []byte("row3")},
	)

	s := secidx.NewIndexScanner(store, testShards(t), nil, nil)
	unbounded := []secidx.ByteRange{secidx.UnboundedRange()}
	results, err := s.Scan(context.Background(), "s.t_idx", []secidx.ConstraintRanges{
		constraintRanges("c", "f", "c", rangeFor(0, 10)),
		constraintRanges("a", "f", "a", rangeFor(0, 10)),
		constraintRanges("b", "f", "b", rangeFor(0, 10)),
	}, unbounded, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c", results[0].Constraint.Name)
	assert.Equal(t, "a", results[1].Constraint.Name)
	assert.Equal(t, "b", results[2].Constraint.Name)
}

func TestScan_EmptyRangesYieldEmptySet(t *testing.T) {
	store := secidxtest.NewKVStore(testNumShards)
	store.Put("s.t_idx",
		secidxtest.IndexEntry{Family: "f", Qualifier: "a", Key: []byte{1}, RowId: []byte("row1")},
	)

	s := secidx.NewIndexScanner(store, testShards(t), nil, nil)
	results, err := s.Scan(context.Background(), "s.t_idx",
		[]secidx.ConstraintRanges{constraintRanges("a", "f", "a")},
		[]secidx.ByteRange{secidx.UnboundedRange()},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Rows)
}

func TestScan_TaskFailureFailsWholeScan(t *testing.T) {
	store := secidxtest.NewKVStore(testNumShards)
	store.ScanErr = assert.AnError

	s := secidx.NewIndexScanner(store, testShards(t), nil, nil)
	_, err := s.Scan(context.Background(), "s.t_idx",
		[]secidx.ConstraintRanges{
			constraintRanges("a", "f", "a", rangeFor(0, 10)),
			constraintRanges("b", "f", "b", rangeFor(0, 10)),
		},
		[]secidx.ByteRange{secidx.UnboundedRange()},
		nil,
	)
	require.Error(t, err)
	assert.True(t, secidx.IsKind(err, secidx.ErrorKindScanFailure))
}

func TestScan_CancelledContextSurfacesInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := secidx.NewIndexScanner(secidxtest.NewKVStore(testNumShards), testShards(t), nil, nil)
	_, err := s.Scan(ctx, "s.t_idx",
		[]secidx.ConstraintRanges{constraintRanges("a", "f", "a", rangeFor(0, 10))},
		[]secidx.ByteRange{secidx.UnboundedRange()},
		nil,
	)
	require.Error(t, err)
	assert.True(t, secidx.IsKind(err, secidx.ErrorKindInterrupted))
}

func TestScan_NoConstraintsYieldsNoResults(t *testing.T) {
	s := secidx.NewIndexScanner(secidxtest.NewKVStore(testNumShards), testShards(t), nil, nil)
	results, err := s.Scan(context.Background(), "s.t_idx", nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestShardRanges_FansBoundedRangeAcrossEveryShard(t *testing.T) {
	shards := testShards(t)
	logical := secidx.ByteRange{
		Start: []byte("m"), StartInclusive: true,
		End: []byte("p"), EndInclusive: false,
	}

	fanned := secidx.ShardRanges(shards, []secidx.ByteRange{logical})
	require.Len(t, fanned, testNumShards)

	seen := map[string]bool{}
	for _, r := range fanned {
		prefix := string(r.Start[:len(r.Start)-1])
		assert.False(t, seen[prefix], "duplicate shard prefix %q", prefix)
		seen[prefix] = true
		assert.Equal(t, []byte("m"), shards.Decode(r.Start))
		assert.Equal(t, []byte("p"), shards.Decode(r.End))
		assert.True(t, r.StartInclusive)
		assert.False(t, r.EndInclusive)
	}

	// Every encoded form of a key inside the logical range must land in
	// its shard's fanned range.
	for _, enc := range shards.EncodeAllShards([]byte("n")) {
		assert.True(t, secidx.InAnyRange(enc, fanned))
	}
	// And keys outside it must not.
	for _, enc := range shards.EncodeAllShards([]byte("q")) {
		assert.False(t, secidx.InAnyRange(enc, fanned))
	}
}

func TestShardRanges_UnboundedSidesBecomeShardPartitionBounds(t *testing.T) {
	shards := testShards(t)

	fanned := secidx.ShardRanges(shards, []secidx.ByteRange{secidx.UnboundedRange()})
	require.Len(t, fanned, testNumShards)

	// The fanned ranges must jointly cover every encoded key, whatever
	// shard it hashed to.
	for _, key := range [][]byte{nil, {0}, []byte("anything"), {0xFF, 0xFF}} {
		assert.True(t, secidx.InAnyRange(shards.Encode(key), fanned))
	}

	// Only the last shard's range is unbounded above; the others stop at
	// the next shard's prefix.
	for i, r := range fanned {
		if i < len(fanned)-1 {
			assert.NotNil(t, r.End)
			assert.False(t, r.EndInclusive)
		} else {
			assert.Nil(t, r.End)
		}
	}
}

func rowSet(ids ...string) map[string]secidx.RowId {
	out := make(map[string]secidx.RowId, len(ids))
	for _, id := range ids {
		out[id] = secidx.RowId(id)
	}
	return out
}

func TestIntersectAll_FoldsInSubmissionOrder(t *testing.T) {
	got := secidx.IntersectAll([]secidx.ScanResult{
		{Rows: rowSet("r1", "r2", "r3", "r4")},
		{Rows: rowSet("r2", "r4", "r5")},
		{Rows: rowSet("r4", "r2")},
	})
	assert.Len(t, got, 2)
	assert.Contains(t, got, "r2")
	assert.Contains(t, got, "r4")
}

func TestIntersectAll_SingleResultPassesThrough(t *testing.T) {
	got := secidx.IntersectAll([]secidx.ScanResult{{Rows: rowSet("r1", "r2")}})
	assert.Len(t, got, 2)
}

func TestIntersectAll_DisjointSetsYieldEmpty(t *testing.T) {
	got := secidx.IntersectAll([]secidx.ScanResult{
		{Rows: rowSet("r1")},
		{Rows: rowSet("r2")},
	})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestIntersectAll_NoResultsYieldEmptyNonNil(t *testing.T) {
	got := secidx.IntersectAll(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
