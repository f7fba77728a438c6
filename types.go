// Package secidx is a secondary-index query planner for connectors that
// push predicate evaluation down into a distributed, sorted key-value
// store. Given a query's per-column predicates it decides whether scanning
// the index tables beats scanning the base table outright, and if so
// produces row-id ranges packed into tablet splits for parallel execution.
package secidx

import (
	"bytes"
	"sort"
)

// RowId is the opaque primary-key byte string of one base-table row.
type RowId []byte

// Equal reports whether two RowIds identify the same row.
func (r RowId) Equal(other RowId) bool { return bytes.Equal(r, other) }

// String renders the RowId for logging; it is not a parseable format.
func (r RowId) String() string { return string(r) }

// sortRowIds sorts ids in place by their byte-lexicographic order, giving
// planner output a deterministic split order independent of map iteration.
func sortRowIds(ids []RowId) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i], ids[j]) < 0 })
}

// ByteRange is an inclusive/exclusive bound pair over the sorted key
// space. Either side may be unbounded (Start == nil, StartInclusive
// irrelevant; likewise End == nil).
type ByteRange struct {
	Start          []byte
	StartInclusive bool
	End            []byte
	EndInclusive   bool
}

// UnboundedRange matches every key; it is the default rowIdRanges filter
// when the caller places no predicate on the row-id space.
func UnboundedRange() ByteRange {
	return ByteRange{StartInclusive: true, EndInclusive: true}
}

// beforeStart reports whether key sorts strictly before the range's lower
// bound, i.e. it is excluded on the low side.
func (r ByteRange) beforeStart(key []byte) bool {
	if r.Start == nil {
		return false
	}
	c := bytes.Compare(key, r.Start)
	if r.StartInclusive {
		return c < 0
	}
	return c <= 0
}

// afterEnd reports whether key sorts strictly after the range's upper
// bound, i.e. it is excluded on the high side.
func (r ByteRange) afterEnd(key []byte) bool {
	if r.End == nil {
		return false
	}
	c := bytes.Compare(key, r.End)
	if r.EndInclusive {
		return c > 0
	}
	return c >= 0
}

// Contains reports whether key lies within [Start, End] honoring the
// inclusive/exclusive flags, using the KV store's own byte-lexicographic
// key-order comparator. Unbounded sides always pass.
func (r ByteRange) Contains(key []byte) bool {
	return !r.beforeStart(key) && !r.afterEnd(key)
}

// InAnyRange reports whether key lies within at least one of ranges. An
// empty ranges slice matches nothing.
func InAnyRange(key []byte, ranges []ByteRange) bool {
	for _, r := range ranges {
		if r.Contains(key) {
			return true
		}
	}
	return false
}

// Domain is a disjunction of value ranges over one typed column, as
// produced by the query engine's predicate pushdown. The planner never
// interprets a Domain itself; it only ever asks a RowSerializer to turn
// one into ByteRanges.
type Domain interface {
	// IsAll reports whether the domain matches every possible value (an
	// unconstrained column), in which case indexing it is never useful.
	IsAll() bool
}

// ColumnConstraint is one column's predicate within a query, alongside the
// column identity the index writer used when it built the secondary index
// for this column (if any).
type ColumnConstraint struct {
	// Family and Qualifier identify the column the way the underlying KV
	// store's row serializer and the index writer do.
	Family    string
	Qualifier string
	// Name is the display name used in diagnostics only.
	Name string
	// Domain is this column's predicate for the current query.
	Domain Domain
	// Indexed reports whether the index writer maintains a secondary
	// index for this column.
	Indexed bool
}

// TabletSplit is one unit of parallel work: a bag of row-id ranges over
// the base table, with no tablet-locality hint because the ranges it
// carries may be scattered across many servers.
type TabletSplit struct {
	Ranges []ByteRange
}

// PlanResult is the outcome of IndexPlanner.Apply: either a (possibly
// empty) set of tablet splits to scan via the index, or a decision not to
// use the index at all. It is a tagged result, never an error by itself;
// failures are reported separately via ErrorKind (see errors.go).
type PlanResult struct {
	// UseIndex is true when the secondary index should be used. Splits is
	// only meaningful when UseIndex is true; an empty, non-nil Splits
	// with UseIndex true means the conjunction of indexed predicates
	// provably matches no rows.
	UseIndex bool
	Splits   []TabletSplit
}

// DoNotUseIndexResult is the canonical "fall back to a base-table scan"
// result.
func DoNotUseIndexResult() PlanResult {
	return PlanResult{UseIndex: false}
}

// UseIndexResult wraps splits (which may be empty) as a decision to use
// the secondary index.
func UseIndexResult(splits []TabletSplit) PlanResult {
	if splits == nil {
		splits = []TabletSplit{}
	}
	return PlanResult{UseIndex: true, Splits: splits}
}

// CardinalityEstimate is how many index entries a constraint's ranges are
// estimated to match. It is only valid for the lifetime of one planning
// call: the planner reads it once and never persists it.
type CardinalityEstimate struct {
	Constraint ColumnConstraint
	Estimate   uint64
}
