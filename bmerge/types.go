// Package bmerge holds the data model shared by the binary-merge join:
// batched arrays, composite join keys and their comparator, sorted
// partitions and match records.
package bmerge

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// NumBuckets is the number of MSB buckets a side is partitioned into.
const NumBuckets = 256

// Side identifies one input of the join.
type Side uint8

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// JoinType selects which unmatched rows are kept.
type JoinType uint8

const (
	// Inner keeps only matched rows.
	Inner JoinType = iota
	// AllLeft keeps every left row, padding right columns with NA.
	AllLeft
	// AllRight keeps every right row. It is not supported and is rejected
	// wherever it would change the result.
	AllRight
)

func (t JoinType) String() string {
	switch t {
	case Inner:
		return "inner"
	case AllLeft:
		return "all-left"
	case AllRight:
		return "all-right"
	default:
		return fmt.Sprintf("join(%d)", uint8(t))
	}
}

// ParseJoinType parses the names produced by JoinType.String.
func ParseJoinType(s string) (JoinType, error) {
	switch s {
	case "inner", "":
		return Inner, nil
	case "all-left", "left":
		return AllLeft, nil
	case "all-right", "right":
		return AllRight, nil
	}
	return Inner, errors.Newf("unknown join type %q", s)
}

// SortedPartition is one MSB bucket of one side, sorted by join key.
// Order.At(i) is the global row id of the row whose key is Keys.At(i).
type SortedPartition struct {
	Side      Side
	MSB       int
	NumRows   int64
	BatchSize int64
	Keys      *KeyBytes
	Order     *Batched[int64]
}

// NewSortedPartition assembles a partition from its key and order batches
// and checks that both have the same shape.
func NewSortedPartition(side Side, msb int, batchSize int64, keySize int, keys [][]byte, order [][]int64) (*SortedPartition, error) {
	if len(keys) != len(order) {
		return nil, errors.Newf("%s partition %d: %d key batches but %d order batches", side, msb, len(keys), len(order))
	}
	ob, err := BatchedFrom(batchSize, order)
	if err != nil {
		return nil, errors.Wrapf(err, "%s partition %d", side, msb)
	}
	kb, err := NewKeyBytes(batchSize, keySize, keys)
	if err != nil {
		return nil, errors.Wrapf(err, "%s partition %d", side, msb)
	}
	if kb.Len() != ob.Len() {
		return nil, errors.Newf("%s partition %d: %d keys but %d order entries", side, msb, kb.Len(), ob.Len())
	}
	return &SortedPartition{
		Side:      side,
		MSB:       msb,
		NumRows:   ob.Len(),
		BatchSize: batchSize,
		Keys:      kb,
		Order:     ob,
	}, nil
}

// EmptyPartition returns a partition with no rows. It lets an outer-left
// join run the general merge when the right bucket is absent.
func EmptyPartition(side Side, msb int, keySize int) *SortedPartition {
	kb, _ := NewKeyBytes(1, max(keySize, 1), nil)
	ob, _ := BatchedFrom[int64](1, nil)
	return &SortedPartition{Side: side, MSB: msb, BatchSize: 1, Keys: kb, Order: ob}
}

// MatchRecord describes the right rows matched by one left row.
// First is 1-based; 0 means no match.
type MatchRecord struct {
	First  int64
	Length int64
}

// Matched reports whether the left row matched at least one right row.
func (m MatchRecord) Matched() bool { return m.Length > 0 }

// OwnerOfMSB returns the node that holds results keyed by bucket msb.
func OwnerOfMSB(msb, numNodes int) int {
	if numNodes <= 1 {
		return 0
	}
	return msb * numNodes / NumBuckets
}
