package secidx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteRange_Contains(t *testing.T) {
	for _, tc := range []struct {
		name string
		rng  ByteRange
		key  []byte
		want bool
	}{
		{
			name: "inside inclusive bounds",
			rng:  ByteRange{Start: []byte("b"), StartInclusive: true, End: []byte("d"), EndInclusive: true},
			key:  []byte("c"),
			want: true,
		},
		{
			name: "on inclusive start",
			rng:  ByteRange{Start: []byte("b"), StartInclusive: true, End: []byte("d"), EndInclusive: true},
			key:  []byte("b"),
			want: true,
		},
		{
			name: "on exclusive start",
			rng:  ByteRange{Start: []byte("b"), StartInclusive: false, End: []byte("d"), EndInclusive: true},
			key:  []byte("b"),
			want: false,
		},
		{
			name: "on inclusive end",
			rng:  ByteRange{Start: []byte("b"), StartInclusive: true, End: []byte("d"), EndInclusive: true},
			key:  []byte("d"),
			want: true,
		},
		{
			name: "on exclusive end",
			rng:  ByteRange{Start: []byte("b"), StartInclusive: true, End: []byte("d"), EndInclusive: false},
			key:  []byte("d"),
			want: false,
		},
		{
			name: "before start",
			rng:  ByteRange{Start: []byte("b"), StartInclusive: true, End: []byte("d"), EndInclusive: true},
			key:  []byte("a"),
			want: false,
		},
		{
			name: "after end",
			rng:  ByteRange{Start: []byte("b"), StartInclusive: true, End: []byte("d"), EndInclusive: true},
			key:  []byte("e"),
			want: false,
		},
		{
			name: "unbounded low side passes everything below",
			rng:  ByteRange{End: []byte("d"), EndInclusive: true},
			key:  []byte{0},
			want: true,
		},
		{
			name: "unbounded high side passes everything above",
			rng:  ByteRange{Start: []byte("b"), StartInclusive: true},
			key:  []byte{0xFF, 0xFF},
			want: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rng.Contains(tc.key))
		})
	}
}

func TestUnboundedRange_ContainsEverything(t *testing.T) {
	r := UnboundedRange()
	assert.True(t, r.Contains(nil))
	assert.True(t, r.Contains([]byte{}))
	assert.True(t, r.Contains([]byte{0}))
	assert.True(t, r.Contains([]byte{0xFF, 0xFF, 0xFF}))
}

func TestInAnyRange_EmptyRangesMatchNothing(t *testing.T) {
	assert.False(t, InAnyRange([]byte("anything"), nil))
}

func TestInAnyRange_AnyMatchingRangeSuffices(t *testing.T) {
	ranges := []ByteRange{
		{Start: []byte("a"), StartInclusive: true, End: []byte("b"), EndInclusive: true},
		{Start: []byte("x"), StartInclusive: true, End: []byte("z"), EndInclusive: true},
	}
	assert.True(t, InAnyRange([]byte("y"), ranges))
	assert.False(t, InAnyRange([]byte("m"), ranges))
}

func TestUseIndexResult_NormalizesNilSplits(t *testing.T) {
	r := UseIndexResult(nil)
	assert.True(t, r.UseIndex)
	assert.NotNil(t, r.Splits)
	assert.Empty(t, r.Splits)
}

func TestSortRowIds_ByteLexicographic(t *testing.T) {
	ids := []RowId{[]byte("row9"), []byte("row1"), []byte("row10")}
	sortRowIds(ids)
	assert.Equal(t, []RowId{[]byte("row1"), []byte("row10"), []byte("row9")}, ids)
}
