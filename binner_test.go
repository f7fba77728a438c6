package secidx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rangesOf(n int) []ByteRange {
	out := make([]ByteRange, n)
	for i := range out {
		out[i] = ByteRange{Start: []byte{byte(i)}, StartInclusive: true, End: []byte{byte(i)}, EndInclusive: true}
	}
	return out
}

func TestRangeBinner_RejectsNonPositiveBinSize(t *testing.T) {
	var b RangeBinner
	_, err := b.Bin(0, rangesOf(3))
	assert.True(t, IsKind(err, ErrorKindInvalidConfig))

	_, err = b.Bin(-1, rangesOf(3))
	assert.True(t, IsKind(err, ErrorKindInvalidConfig))
}

func TestRangeBinner_EmptyInputYieldsEmptyOutput(t *testing.T) {
	var b RangeBinner
	splits, err := b.Bin(5, nil)
	assert.NoError(t, err)
	assert.Empty(t, splits)
}

func TestRangeBinner_LastBinMayBeShort(t *testing.T) {
	var b RangeBinner
	splits, err := b.Bin(2, rangesOf(5))
	assert.NoError(t, err)
	if assert.Len(t, splits, 3) {
		assert.Len(t, splits[0].Ranges, 2)
		assert.Len(t, splits[1].Ranges, 2)
		assert.Len(t, splits[2].Ranges, 1)
	}
}

func TestRangeBinner_ExactMultipleHasNoShortBin(t *testing.T) {
	var b RangeBinner
	splits, err := b.Bin(2, rangesOf(4))
	assert.NoError(t, err)
	if assert.Len(t, splits, 2) {
		assert.Len(t, splits[0].Ranges, 2)
		assert.Len(t, splits[1].Ranges, 2)
	}
}

// Binning is order-preserving: flattening the splits yields the input
// back, in order.
func TestRangeBinner_FlatteningRoundTrips(t *testing.T) {
	var b RangeBinner
	input := rangesOf(11)
	splits, err := b.Bin(3, input)
	assert.NoError(t, err)

	var flattened []ByteRange
	for _, s := range splits {
		flattened = append(flattened, s.Ranges...)
	}
	assert.Equal(t, input, flattened)
}
