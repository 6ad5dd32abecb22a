package bmerge

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// BatchLayout maps a flat position onto a (batch, offset) pair for arrays
// that are split into fixed-size batches. Every batch holds BatchSize
// elements except the last, which holds the remainder.
type BatchLayout struct {
	BatchSize int64
	Len       int64
}

// NewBatchLayout returns the layout of n elements split into batches of
// batchSize.
func NewBatchLayout(batchSize, n int64) BatchLayout {
	if batchSize <= 0 {
		panic(fmt.Sprintf("bmerge: invalid batch size %d", batchSize))
	}
	return BatchLayout{BatchSize: batchSize, Len: n}
}

// Locate returns the batch and offset of flat position i.
func (l BatchLayout) Locate(i int64) (batch, offset int) {
	return int(i / l.BatchSize), int(i % l.BatchSize)
}

// NumBatches returns the number of batches needed to hold Len elements.
func (l BatchLayout) NumBatches() int {
	if l.Len <= 0 {
		return 0
	}
	return int((l.Len-1)/l.BatchSize + 1)
}

// BatchLen returns the number of elements held by batch b.
func (l BatchLayout) BatchLen(b int) int {
	nb := l.NumBatches()
	if b < 0 || b >= nb {
		return 0
	}
	if b < nb-1 {
		return int(l.BatchSize)
	}
	return int(l.Len - int64(nb-1)*l.BatchSize)
}

// Batched is a two-level array indexed by a flat int64 position.
type Batched[T any] struct {
	layout  BatchLayout
	batches [][]T
}

// NewBatched allocates a zeroed batched array of n elements.
func NewBatched[T any](batchSize, n int64) *Batched[T] {
	layout := NewBatchLayout(batchSize, n)
	batches := make([][]T, layout.NumBatches())
	for b := range batches {
		batches[b] = make([]T, layout.BatchLen(b))
	}
	return &Batched[T]{layout: layout, batches: batches}
}

// BatchedFrom wraps existing batches. All batches but the last must hold
// exactly batchSize elements.
func BatchedFrom[T any](batchSize int64, batches [][]T) (*Batched[T], error) {
	if batchSize <= 0 {
		return nil, errors.Newf("invalid batch size %d", batchSize)
	}
	var n int64
	for b, batch := range batches {
		if b < len(batches)-1 && int64(len(batch)) != batchSize {
			return nil, errors.Newf("batch %d holds %d elements, want %d", b, len(batch), batchSize)
		}
		if int64(len(batch)) > batchSize {
			return nil, errors.Newf("batch %d holds %d elements, more than batch size %d", b, len(batch), batchSize)
		}
		n += int64(len(batch))
	}
	return &Batched[T]{layout: NewBatchLayout(batchSize, n), batches: batches}, nil
}

func (a *Batched[T]) At(i int64) T {
	b, o := a.layout.Locate(i)
	return a.batches[b][o]
}

func (a *Batched[T]) Set(i int64, v T) {
	b, o := a.layout.Locate(i)
	a.batches[b][o] = v
}

// Fill sets every element to v.
func (a *Batched[T]) Fill(v T) {
	for _, batch := range a.batches {
		for i := range batch {
			batch[i] = v
		}
	}
}

func (a *Batched[T]) Len() int64          { return a.layout.Len }
func (a *Batched[T]) Layout() BatchLayout { return a.layout }
func (a *Batched[T]) NumBatches() int     { return len(a.batches) }
func (a *Batched[T]) Batch(b int) []T     { return a.batches[b] }

// Release drops batch b so its memory can be reclaimed.
func (a *Batched[T]) Release(b int) { a.batches[b] = nil }
