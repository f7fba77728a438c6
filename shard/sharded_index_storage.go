// Package shard implements the key-fanout scheme used to spread secondary
// index rows across many physical shards of the underlying sorted KV store,
// so that neither writes nor point lookups for one logical value pile up on
// a single tablet server.
package shard

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned when a ShardedIndexStorage is constructed
// with a shard count that can't be sharded (fewer than 2 shards).
var ErrInvalidConfig = errors.New("shard: numShards must be greater than one")

// IndexStorage is a key-fanout codec: it knows how to turn one logical
// index key into its physical, shard-prefixed form and back.
type IndexStorage interface {
	Encode(key []byte) []byte
	Decode(key []byte) []byte
	EncodeAllShards(key []byte) [][]byte
	NumShards() int
}

// ShardedIndexStorage prepends a fixed-width, zero-padded decimal shard
// prefix to every index key. The shard is chosen deterministically from a
// hash of the key, so a given logical key always lands in the same shard
// and the same Decode always strips the exact width that was added.
type ShardedIndexStorage struct {
	numShards    int
	prefixWidth  int
	formatString string
}

// New builds a ShardedIndexStorage fanning keys out across numShards
// physical shards. numShards must be greater than one: a single shard
// defeats the purpose of sharding, and the caller almost certainly meant
// to disable sharding entirely rather than construct one.
func New(numShards int) (*ShardedIndexStorage, error) {
	if numShards <= 1 {
		return nil, errors.Wrapf(ErrInvalidConfig, "numShards=%d", numShards)
	}
	width := len(fmt.Sprintf("%d", numShards-1))
	return &ShardedIndexStorage{
		numShards:    numShards,
		prefixWidth:  width,
		formatString: fmt.Sprintf("%%0%dd", width),
	}, nil
}

// NumShards reports the configured shard count. Equality and hashing of a
// ShardedIndexStorage value depend only on this.
func (s *ShardedIndexStorage) NumShards() int { return s.numShards }

// PrefixWidth reports the fixed width, in bytes, of the shard prefix this
// storage prepends.
func (s *ShardedIndexStorage) PrefixWidth() int { return s.prefixWidth }

// Encode prepends the deterministic shard prefix for key to key.
func (s *ShardedIndexStorage) Encode(key []byte) []byte {
	shard := s.shardOf(key)
	out := make([]byte, 0, s.prefixWidth+len(key))
	out = append(out, s.prefixBytes(shard)...)
	out = append(out, key...)
	return out
}

// Decode strips the shard prefix off an encoded key, recovering the
// original logical key. Decode(Encode(b)) == b for every b.
func (s *ShardedIndexStorage) Decode(key []byte) []byte {
	if len(key) < s.prefixWidth {
		return key
	}
	return key[s.prefixWidth:]
}

// EncodeAllShards enumerates every shard-prefixed form of key, in shard
// order 0..NumShards. The scanner uses this to fan a point lookup out to
// every shard that could hold a match.
func (s *ShardedIndexStorage) EncodeAllShards(key []byte) [][]byte {
	all := make([][]byte, s.numShards)
	for i := 0; i < s.numShards; i++ {
		out := make([]byte, 0, s.prefixWidth+len(key))
		out = append(out, s.prefixBytes(i)...)
		out = append(out, key...)
		all[i] = out
	}
	return all
}

func (s *ShardedIndexStorage) prefixBytes(shard int) []byte {
	return []byte(fmt.Sprintf(s.formatString, shard))
}

// shardOf hashes key down to a signed 32-bit value, then folds it into
// [0, numShards).
func (s *ShardedIndexStorage) shardOf(key []byte) int {
	return int(foldAbs(int32(xxhash.Sum64(key)))) % s.numShards
}

// foldAbs is abs(h) with math.MinInt32 folded to 0, since it has no
// positive two's complement counterpart.
func foldAbs(h int32) int32 {
	if h == math.MinInt32 {
		return 0
	}
	if h < 0 {
		return -h
	}
	return h
}

var _ IndexStorage = (*ShardedIndexStorage)(nil)
