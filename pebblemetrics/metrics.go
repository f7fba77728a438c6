// Package pebblemetrics is a secidx.MetricsReader backed by a second
// pebble column-family-style partition of the same embedded store
// pebblekv uses for index tables, keeping index bookkeeping in the same
// database as index data rather than standing up a separate metrics
// service. NumRowsInTable and Cardinality are both simple counter reads.
package pebblemetrics

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/kvquery/secidx"
)

const metricsPrefix = "metrics\x00"

// Reader is a secidx.MetricsReader reading precomputed counters out of a
// pebble.DB. Population of those counters is the external index writer's
// job; Reader only ever reads.
type Reader struct {
	db *pebble.DB
}

// Open wraps an existing pebble.DB (typically the same one backing a
// pebblekv.Store) as a MetricsReader.
func Open(db *pebble.DB) *Reader {
	return &Reader{db: db}
}

// SetNumRows records the base table's row count. Exposed for the index
// writer / test setup; the planner itself only ever calls NumRowsInTable.
func (r *Reader) SetNumRows(schema, table string, n uint64) error {
	return r.db.Set(numRowsKey(schema, table), encodeUint64(n), pebble.Sync)
}

// SetCardinality records the number of index entries matching one column
// range, keyed on the range exactly as given (the planner asks with the
// unsharded ranges the row serializer produced). Exposed for the index
// writer / test setup.
func (r *Reader) SetCardinality(column secidx.ColumnIdentity, rng secidx.ByteRange, count uint64) error {
	return r.db.Set(cardinalityKey(column, rng), encodeUint64(count), pebble.Sync)
}

// NumRowsInTable implements secidx.MetricsReader.
func (r *Reader) NumRowsInTable(ctx context.Context, schema, table string) (uint64, error) {
	return r.readUint64(numRowsKey(schema, table))
}

// Cardinality implements secidx.MetricsReader.
func (r *Reader) Cardinality(ctx context.Context, column secidx.ColumnIdentity, rng secidx.ByteRange) (uint64, error) {
	return r.readUint64(cardinalityKey(column, rng))
}

func (r *Reader) readUint64(key []byte) (uint64, error) {
	v, closer, err := r.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "pebblemetrics: get")
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(v), nil
}

func encodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func numRowsKey(schema, table string) []byte {
	key := append([]byte(metricsPrefix), "rows\x00"...)
	key = append(key, schema...)
	key = append(key, 0)
	key = append(key, table...)
	return key
}

// cardinalityKey keys a (column, range) cardinality on the same fields
// CardinalityCache's in-process memoization uses (cardinality.go's
// cacheKey/keyFor): family, qualifier, both bounds and both inclusive
// flags, so a byte-identical range produces a byte-identical key. The two
// encodings are written separately; a change to one does not change the
// other.
func cardinalityKey(column secidx.ColumnIdentity, rng secidx.ByteRange) []byte {
	key := append([]byte(metricsPrefix), "card\x00"...)
	key = append(key, column.Family...)
	key = append(key, 0)
	key = append(key, column.Qualifier...)
	key = append(key, 0)
	key = binary.BigEndian.AppendUint32(key, uint32(len(rng.Start)))
	key = append(key, rng.Start...)
	key = binary.BigEndian.AppendUint32(key, uint32(len(rng.End)))
	key = append(key, rng.End...)
	if rng.StartInclusive {
		key = append(key, 1)
	} else {
		key = append(key, 0)
	}
	if rng.EndInclusive {
		key = append(key, 1)
	} else {
		key = append(key, 0)
	}
	return key
}

var _ secidx.MetricsReader = (*Reader)(nil)
