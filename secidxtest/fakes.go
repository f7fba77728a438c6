// Package secidxtest provides in-memory fakes for the planner's
// collaborator interfaces (KVStore, MetricsReader, RowSerializer), so
// planner tests can exercise the full decision algorithm without a real
// key-value store backing it.
package secidxtest

import (
	"context"
	"sync"

	"github.com/kvquery/secidx"
	"github.com/kvquery/secidx/shard"
)

// Domain is a fixed-ranges stand-in for a query engine's predicate domain.
type Domain struct {
	All    bool
	Ranges []secidx.ByteRange
}

func (d *Domain) IsAll() bool { return d.All }

// RowSerializer turns a *Domain back into its fixed Ranges. Any other
// Domain implementation is a test-author error.
type RowSerializer struct{}

func (RowSerializer) DomainToByteRanges(domain secidx.Domain) ([]secidx.ByteRange, error) {
	d, ok := domain.(*Domain)
	if !ok {
		return nil, errNotFakeDomain
	}
	return d.Ranges, nil
}

var errNotFakeDomain = domainErr("secidxtest: domain is not a *secidxtest.Domain")

type domainErr string

func (e domainErr) Error() string { return string(e) }

// IndexEntry is one row the fake KV store holds in an index table. Key is
// the logical index key; the store shard-encodes it on Put the way the
// external index writer would.
type IndexEntry struct {
	Family    string
	Qualifier string
	Key       []byte
	RowId     []byte
}

type storedEntry struct {
	IndexEntry
	encKey []byte
}

// KVStore is an in-memory KVStore backed by a fixed set of index entries
// per table, filtered at scan time by ranges and column-family tag.
type KVStore struct {
	mu      sync.Mutex
	shards  *shard.ShardedIndexStorage
	tables  map[string][]storedEntry
	ScanErr error
}

// NewKVStore builds a fake store fanning keys across numShards shards,
// which must match the planner config it is paired with.
func NewKVStore(numShards int) *KVStore {
	shards, err := shard.New(numShards)
	if err != nil {
		panic(err)
	}
	return &KVStore{shards: shards, tables: make(map[string][]storedEntry)}
}

func (s *KVStore) Put(table string, entries ...IndexEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.tables[table] = append(s.tables[table], storedEntry{IndexEntry: e, encKey: s.shards.Encode(e.Key)})
	}
}

func (s *KVStore) CreateBatchScanner(ctx context.Context, table string, auths secidx.Authorizations, threadsHint int) (secidx.Scanner, error) {
	if s.ScanErr != nil {
		return nil, s.ScanErr
	}
	s.mu.Lock()
	entries := append([]storedEntry(nil), s.tables[table]...)
	s.mu.Unlock()
	return &fakeScanner{entries: entries}, nil
}

type fakeScanner struct {
	entries []storedEntry
	ranges  []secidx.ByteRange
	family  []byte
	closed  bool
}

func (s *fakeScanner) SetRanges(ranges []secidx.ByteRange) { s.ranges = ranges }
func (s *fakeScanner) FetchColumnFamily(tag []byte)        { s.family = tag }
func (s *fakeScanner) Close() error                        { s.closed = true; return nil }

func (s *fakeScanner) Rows(ctx context.Context) secidx.RowIterator {
	matches := make([]storedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if s.family != nil && string(secidx.IndexColumnFamilyTag(e.Family, e.Qualifier)) != string(s.family) {
			continue
		}
		if !secidx.InAnyRange(e.encKey, s.ranges) {
			continue
		}
		matches = append(matches, e)
	}
	return &fakeRowIterator{entries: matches, idx: -1}
}

type fakeRowIterator struct {
	entries []storedEntry
	idx     int
}

func (it *fakeRowIterator) Next(ctx context.Context) bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *fakeRowIterator) Entry() secidx.KeyValue {
	e := it.entries[it.idx]
	return secidx.KeyValue{Key: e.Key, ColumnQualifier: e.RowId}
}

func (it *fakeRowIterator) Err() error { return nil }

// MetricsReader is a fixed-answer MetricsReader: NumRows is keyed by
// "schema.table"; Cardinality answers with the number of CardEntries held
// for the requested column, whatever range is asked about. Cardinalities
// are set up with SetCardinality, separately from any index entries a test
// puts into a KVStore.
type MetricsReader struct {
	mu          sync.Mutex
	NumRows     map[string]uint64
	CardEntries map[secidx.ColumnIdentity][]secidx.ByteRange
	CardErr     error
	NumRowsErr  error
}

func NewMetricsReader() *MetricsReader {
	return &MetricsReader{
		NumRows:     make(map[string]uint64),
		CardEntries: make(map[secidx.ColumnIdentity][]secidx.ByteRange),
	}
}

func (m *MetricsReader) SetNumRows(schema, table string, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NumRows[schema+"."+table] = n
}

// SetCardinality stores count copies of rng as column's CardEntries,
// replacing any earlier registration, so Cardinality answers count for
// column on any range.
func (m *MetricsReader) SetCardinality(column secidx.ColumnIdentity, rng secidx.ByteRange, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ranges := make([]secidx.ByteRange, count)
	for i := range ranges {
		ranges[i] = rng
	}
	m.CardEntries[column] = ranges
}

func (m *MetricsReader) NumRowsInTable(ctx context.Context, schema, table string) (uint64, error) {
	if m.NumRowsErr != nil {
		return 0, m.NumRowsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.NumRows[schema+"."+table], nil
}

func (m *MetricsReader) Cardinality(ctx context.Context, column secidx.ColumnIdentity, rng secidx.ByteRange) (uint64, error) {
	if m.CardErr != nil {
		return 0, m.CardErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.CardEntries[column])), nil
}
