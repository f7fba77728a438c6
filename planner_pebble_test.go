package secidx_test

// Exercises IndexPlanner end to end against the real pebblekv/pebblemetrics
// adapters instead of secidxtest's in-memory fakes, so the adapters are
// actually driven by a planning call rather than only type-checked via
// `var _ secidx.KVStore = ...`.

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvquery/secidx"
	"github.com/kvquery/secidx/pebblekv"
	"github.com/kvquery/secidx/pebblemetrics"
	"github.com/kvquery/secidx/secidxtest"
)

func TestApply_AgainstRealPebbleStoreAndMetrics(t *testing.T) {
	store, err := pebblekv.Open(filepath.Join(t.TempDir(), "idx"), testNumShards, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	metricsDB, err := pebble.Open(filepath.Join(t.TempDir(), "metrics"), &pebble.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = metricsDB.Close() })
	metrics := pebblemetrics.Open(metricsDB)

	indexTable := secidx.IndexTableName("s", "t")
	tagA := secidx.IndexColumnFamilyTag("f", "a")
	tagB := secidx.IndexColumnFamilyTag("f", "b")

	require.NoError(t, store.Put(indexTable, tagA, []byte{1}, []byte("row1")))
	require.NoError(t, store.Put(indexTable, tagA, []byte{1}, []byte("row2")))
	require.NoError(t, store.Put(indexTable, tagB, []byte{1}, []byte("row2")))
	require.NoError(t, store.Put(indexTable, tagB, []byte{1}, []byte("row3")))

	require.NoError(t, metrics.SetNumRows("s", "t", 1000))
	cardRange := rangeFor(0, 2)
	require.NoError(t, metrics.SetCardinality(secidx.ColumnIdentity{Family: "f", Qualifier: "a"}, cardRange, 2))
	require.NoError(t, metrics.SetCardinality(secidx.ColumnIdentity{Family: "f", Qualifier: "b"}, cardRange, 2))

	p, err := secidx.NewIndexPlanner(store, metrics, secidxtest.RowSerializer{}, secidx.Config{
		OptimizeIndexEnabled:       true,
		IndexMetricsEnabled:        true,
		IndexThreshold:             0.9,
		IndexSmallCardThreshold:    0,
		IndexSmallCardRowThreshold: 0,
		NumIndexShards:             testNumShards,
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)

	result, err := p.Apply(context.Background(), "s", "t", []secidx.ColumnConstraint{
		indexedConstraint("a", "f", "a", cardRange),
		indexedConstraint("b", "f", "b", cardRange),
	}, nil, nil)
	require.NoError(t, err)
	require.True(t, result.UseIndex)
	require.Len(t, result.Splits, 1)
	require.Len(t, result.Splits[0].Ranges, 1)
	assert.Equal(t, []byte("row2"), result.Splits[0].Ranges[0].Start)
}
