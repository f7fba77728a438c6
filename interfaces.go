package secidx

import "context"

// RowSerializer turns a typed predicate Domain into the byte ranges the KV
// store's key-order comparator can scan. The planner never interprets a
// column's type itself; it only consumes whatever ranges come back.
type RowSerializer interface {
	DomainToByteRanges(domain Domain) ([]ByteRange, error)
}

// MetricsReader answers cardinality questions from an external metrics
// store populated by the index writer. It is out of scope for this
// repository to implement how that store is maintained; only its read
// contract is referenced here.
type MetricsReader interface {
	// NumRowsInTable returns the total row count of the base table.
	NumRowsInTable(ctx context.Context, schema, table string) (uint64, error)
	// Cardinality returns the number of index entries matching one byte
	// range for one column. CardinalityCache passes the range as the row
	// serializer produced it; it is not fanned across shard prefixes first.
	Cardinality(ctx context.Context, column ColumnIdentity, rng ByteRange) (uint64, error)
}

// ColumnIdentity names a column the way the index writer's metrics and
// index tables key on it.
type ColumnIdentity struct {
	Family    string
	Qualifier string
}

// KeyValue is one entry read back from an index table scan: a key plus a
// column-qualifier accessor, mirroring the KV store's own Key/Value
// accessors (the planner only ever reads the qualifier, which carries the
// referenced row-id).
type KeyValue struct {
	Key             []byte
	ColumnQualifier []byte
}

// RowIterator streams the entries a Scanner produced for one multi-range
// scan. Implementations must support safe early abandonment: a consumer
// that stops calling Next before it returns false is always fine to do
// when paired with Close.
type RowIterator interface {
	// Next advances the iterator and reports whether an entry is
	// available. It returns false both at end of stream and after any
	// error; callers must check Err() to tell the two apart.
	Next(ctx context.Context) bool
	// Entry returns the current entry. Only valid after Next returns
	// true.
	Entry() KeyValue
	// Err returns the first error encountered, if any.
	Err() error
}

// Scanner is a scoped handle over one index-table scan. It must be
// released via Close on every exit path: normal completion, early
// return, or error.
type Scanner interface {
	// SetRanges restricts the scan to the union of ranges.
	SetRanges(ranges []ByteRange)
	// FetchColumnFamily restricts the scan to entries tagged with this
	// column-family tag, the same tag the index writer used when it
	// wrote this column's entries.
	FetchColumnFamily(tag []byte)
	// Rows returns an iterator over the scan's results. Calling Rows
	// more than once is undefined.
	Rows(ctx context.Context) RowIterator
	// Close releases the scanner's resources. Close must be idempotent.
	Close() error
}

// KVStore is the capability the planner needs from the underlying sorted
// key-value store connector: the ability to open a scoped, threaded batch
// scanner against one table. Authentication/authorization tokens are
// opaque to the planner and passed through verbatim.
type KVStore interface {
	// CreateBatchScanner opens a new Scanner against table, requesting
	// threadsHint internal scan threads as a hint to the connector (the
	// connector is free to ignore it).
	CreateBatchScanner(ctx context.Context, table string, auths Authorizations, threadsHint int) (Scanner, error)
}

// Authorizations is an opaque set of security labels passed through to the
// KV store connector unchanged; the planner never inspects it.
type Authorizations []string
