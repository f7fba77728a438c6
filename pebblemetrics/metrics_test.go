package pebblemetrics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvquery/secidx"
)

func openTestDB(t *testing.T) *pebble.DB {
	t.Helper()
	db, err := pebble.Open(filepath.Join(t.TempDir(), "metrics"), &pebble.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestReader_NumRowsInTable_UnsetReturnsZero(t *testing.T) {
	r := Open(openTestDB(t))
	n, err := r.NumRowsInTable(context.Background(), "s", "t")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReader_NumRowsInTable_RoundTrips(t *testing.T) {
	r := Open(openTestDB(t))
	require.NoError(t, r.SetNumRows("s", "t", 1_000_000))

	n, err := r.NumRowsInTable(context.Background(), "s", "t")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), n)

	// A different (schema, table) pair must not see this count.
	other, err := r.NumRowsInTable(context.Background(), "s", "other")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestReader_Cardinality_RoundTrips(t *testing.T) {
	r := Open(openTestDB(t))
	column := secidx.ColumnIdentity{Family: "f", Qualifier: "a"}
	rng := secidx.ByteRange{Start: []byte{0}, StartInclusive: true, End: []byte{10}, EndInclusive: true}

	require.NoError(t, r.SetCardinality(column, rng, 42))

	got, err := r.Cardinality(context.Background(), column, rng)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got)

	// A different range over the same column is a different estimate.
	otherRange := secidx.ByteRange{Start: []byte{20}, StartInclusive: true, End: []byte{30}, EndInclusive: true}
	got, err = r.Cardinality(context.Background(), column, otherRange)
	require.NoError(t, err)
	assert.Zero(t, got)
}
