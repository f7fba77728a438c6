// Package pebblekv adapts github.com/cockroachdb/pebble, an embedded
// sorted key-value engine, into the secidx.KVStore/secidx.Scanner
// capability the planner scans through: one real embedded store, many
// index tables multiplexed into its single flat keyspace by a per-table
// key prefix. Index keys are stored shard-prefixed (the writer-side half
// of the shard fanout convention), so scans must arrive with ranges
// already fanned across shards via secidx.ShardRanges.
package pebblekv

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/kvquery/secidx"
	"github.com/kvquery/secidx/shard"
)

// Store is a secidx.KVStore backed by one pebble.DB. Every index table the
// planner asks to scan is a logical partition of the same physical
// keyspace, distinguished by tableCfPrefix.
type Store struct {
	db     *pebble.DB
	shards *shard.ShardedIndexStorage
}

// Open opens (or creates) a pebble database at path for use as a secidx
// index store fanning keys across numShards shards; readers must be
// configured with the same count. ErrorIfNotExists is left false: an
// index store comes up fresh on first use rather than requiring a prior
// explicit create step.
func Open(path string, numShards int, opts *pebble.Options) (*Store, error) {
	shards, err := shard.New(numShards)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "pebblekv: open %s", path)
	}
	return &Store{db: db, shards: shards}, nil
}

// Shards exposes the store's key-fanout codec so callers scanning without
// an IndexScanner can fan their ranges the same way (secidx.ShardRanges).
func (s *Store) Shards() shard.IndexStorage { return s.shards }

// Close releases the underlying database. It is not part of
// secidx.KVStore: the planner never owns the store's lifecycle, only a
// shared read-only handle to it.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pebble handle for the external index writer
// to populate entries with Put.
func (s *Store) DB() *pebble.DB { return s.db }

// Put writes one index entry directly, the shape the external index writer
// would use: table/cfTag identify the logical (schema.table_idx, column)
// pair, key is the logical index key (shard-prefixed here before storage),
// rowID is the base-table row this entry references.
func (s *Store) Put(table string, cfTag, key, rowID []byte) error {
	return s.db.Set(physicalKey(table, cfTag, s.shards.Encode(key), rowID), rowID, pebble.Sync)
}

// CreateBatchScanner opens a scoped Scanner against table. threadsHint is
// accepted for interface parity with the KV-store connector contract, but
// pebble has no per-scan thread tuning knob to forward it to; a connector
// with a threaded batch scanner would pass it through.
func (s *Store) CreateBatchScanner(ctx context.Context, table string, auths secidx.Authorizations, threadsHint int) (secidx.Scanner, error) {
	snap := s.db.NewSnapshot()
	return &tableScanner{snap: snap, table: table, shards: s.shards}, nil
}

var _ secidx.KVStore = (*Store)(nil)

// tableScanner is the scoped, single-use handle one IndexScanner task holds
// for the duration of its constraint's scan. Close releases the pebble
// snapshot it was issued; it is safe to call more than once.
type tableScanner struct {
	snap   *pebble.Snapshot
	table  string
	shards *shard.ShardedIndexStorage
	ranges []secidx.ByteRange
	cfTag  []byte
	iter   *pebble.Iterator
	closed bool
}

func (sc *tableScanner) SetRanges(ranges []secidx.ByteRange) { sc.ranges = ranges }
func (sc *tableScanner) FetchColumnFamily(tag []byte)        { sc.cfTag = tag }

func (sc *tableScanner) Rows(ctx context.Context) secidx.RowIterator {
	prefix, upper := scanBounds(sc.table, sc.cfTag)
	iter, err := sc.snap.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return &rowIterator{err: err}
	}
	sc.iter = iter
	return &rowIterator{iter: iter, lowerBound: prefix, shards: sc.shards, ranges: sc.ranges, prefixLen: len(prefix)}
}

// Close releases the iterator (if Rows was called) and the snapshot it was
// issued over. It is idempotent: every exit path out of an IndexScanner
// task (normal completion, early error, or cancellation) calls Close
// exactly once via defer, but a second call must still be safe.
func (sc *tableScanner) Close() error {
	if sc.closed {
		return nil
	}
	sc.closed = true
	if sc.iter != nil {
		_ = sc.iter.Close()
	}
	return sc.snap.Close()
}

var _ secidx.Scanner = (*tableScanner)(nil)

// rowIterator walks every entry under the scanner's (table, cfTag)
// partition and keeps only those whose stored (shard-prefixed) index key
// falls in at least one requested ByteRange. The pebble LowerBound/
// UpperBound already restrict the walk to the right table and column
// family; InAnyRange then narrows it to the requested index-key ranges.
// Emitted entries carry the logical key with the shard prefix decoded
// back off.
type rowIterator struct {
	iter       *pebble.Iterator
	lowerBound []byte
	shards     *shard.ShardedIndexStorage
	ranges     []secidx.ByteRange
	prefixLen  int
	started    bool
	err        error
	cur        secidx.KeyValue
}

func (it *rowIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.iter == nil {
		return false
	}
	for {
		var ok bool
		if !it.started {
			it.started = true
			ok = it.iter.SeekGE(it.lowerBound)
		} else {
			ok = it.iter.Next()
		}
		if !ok || !it.iter.Valid() {
			if err := it.iter.Error(); err != nil {
				it.err = err
			}
			return false
		}
		if ctx.Err() != nil {
			it.err = ctx.Err()
			return false
		}

		indexKey := indexKeyOf(it.iter.Key(), it.prefixLen)
		if !secidx.InAnyRange(indexKey, it.ranges) {
			continue
		}
		key := append([]byte(nil), it.shards.Decode(indexKey)...)
		rowID := append([]byte(nil), it.iter.Value()...)
		it.cur = secidx.KeyValue{Key: key, ColumnQualifier: rowID}
		return true
	}
}

func (it *rowIterator) Entry() secidx.KeyValue { return it.cur }
func (it *rowIterator) Err() error             { return it.err }

var _ secidx.RowIterator = (*rowIterator)(nil)

const keySep = 0x00

// tableCfPrefix is the fixed portion of every physical key written for one
// (table, cfTag) partition: table ++ 0x00 ++ uint32(len(cfTag)) ++ cfTag.
// table (from IndexTableName) is ended by the 0x00 separator alone. cfTag
// is length-framed because one column's tag can be a byte prefix of
// another's (IndexColumnFamilyTag("f", "a") of IndexColumnFamilyTag("f",
// "ab")); the frame keeps the scan bounds of one partition from covering
// the other.
func tableCfPrefix(table string, cfTag []byte) []byte {
	out := make([]byte, 0, len(table)+1+4+len(cfTag))
	out = append(out, table...)
	out = append(out, keySep)
	out = binary.BigEndian.AppendUint32(out, uint32(len(cfTag)))
	out = append(out, cfTag...)
	return out
}

// physicalKey lays out one index entry's key as
// tableCfPrefix ++ uint32(len(indexKey)) ++ indexKey ++ rowID. indexKey
// and rowID are arbitrary caller-supplied byte strings, so a plain
// separator byte would be ambiguous; a fixed-width length prefix on
// indexKey removes the ambiguity without needing one on rowID, since
// rowID is always whatever bytes remain.
func physicalKey(table string, cfTag, indexKey, rowID []byte) []byte {
	prefix := tableCfPrefix(table, cfTag)
	out := make([]byte, 0, len(prefix)+4+len(indexKey)+len(rowID))
	out = append(out, prefix...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(indexKey)))
	out = append(out, indexKey...)
	out = append(out, rowID...)
	return out
}

// indexKeyOf recovers the indexKey portion of a physical key already known
// to start with a prefix of prefixLen bytes (the caller bounded its
// iterator to exactly that prefix via scanBounds).
func indexKeyOf(key []byte, prefixLen int) []byte {
	rest := key[prefixLen:]
	n := binary.BigEndian.Uint32(rest[:4])
	return rest[4 : 4+int(n)]
}

// scanBounds computes the [lower, upper) pebble bound that covers every
// physical key written for (table, cfTag), regardless of indexKey/rowID
// suffix.
func scanBounds(table string, cfTag []byte) (lower, upper []byte) {
	prefix := tableCfPrefix(table, cfTag)
	return prefix, prefixEnd(prefix)
}

// prefixEnd returns the smallest key that sorts strictly after every key
// with the given prefix, or nil (meaning unbounded) if prefix is all 0xFF
// bytes.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
