// Package partition stages the two inputs of a join as sorted, MSB
// bucketed partitions in the DKV, and loads them back for a merge task.
//
// Key columns are encoded as offset big-endian integers: value - base + 1,
// with NA encoded as 0. Both sides share the base of each column but each
// side picks the narrowest width that holds its own values, so the same
// value may be encoded with different widths on either side.
package partition

import (
	"bytes"
	"context"
	"math"
	"math/bits"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// Options controls staging.
type Options struct {
	// BatchSize is the number of rows per staged key/order batch.
	BatchSize int64
}

func DefaultOptions() Options {
	return Options{BatchSize: 1 << 15}
}

// ColumnReader reads a whole table column.
type ColumnReader interface {
	ReadColumn(ctx context.Context, t *storage.Table, col int) ([]float64, error)
}

// Layout describes how a pair of tables was staged.
type Layout struct {
	NumJoinCols  int
	LeftWidths   bmerge.FieldWidths
	RightWidths  bmerge.FieldWidths
	Bases        []int64
	Shift        uint
	LeftBuckets  map[int]int64 // msb -> rows
	RightBuckets map[int]int64
}

// Stage encodes the first numJoinCols columns of left and right as join
// keys, sorts and buckets them, and writes every non-empty bucket to the
// DKV. Buckets left over from an earlier staging are removed.
func Stage(ctx context.Context, r ColumnReader, dkv *storage.DKV, left, right *storage.Table, numJoinCols int, opts Options) (*Layout, error) {
	if numJoinCols <= 0 || numJoinCols > left.NumCols() || numJoinCols > right.NumCols() {
		return nil, errors.Newf("cannot join %s and %s on %d columns", left.Name, right.Name, numJoinCols)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}

	leftCols, err := readKeyColumns(ctx, r, left, numJoinCols)
	if err != nil {
		return nil, err
	}
	rightCols, err := readKeyColumns(ctx, r, right, numJoinCols)
	if err != nil {
		return nil, err
	}

	l := &Layout{
		NumJoinCols: numJoinCols,
		LeftWidths:  make(bmerge.FieldWidths, numJoinCols),
		RightWidths: make(bmerge.FieldWidths, numJoinCols),
		Bases:       make([]int64, numJoinCols),
	}
	var topBits int
	for j := 0; j < numJoinCols; j++ {
		base, ok := minValue(leftCols[j], rightCols[j])
		if !ok {
			base = 0
		}
		l.Bases[j] = base
		lmax := maxEncoded(leftCols[j], base)
		rmax := maxEncoded(rightCols[j], base)
		l.LeftWidths[j] = widthOf(lmax)
		l.RightWidths[j] = widthOf(rmax)
		if j == 0 {
			topBits = bits.Len64(max(lmax, rmax))
		}
	}
	if topBits > 8 {
		l.Shift = uint(topBits - 8)
	}

	if l.LeftBuckets, err = stageSide(ctx, dkv, bmerge.Left, leftCols, l.LeftWidths, l, opts); err != nil {
		return nil, errors.Wrapf(err, "staging %s", left.Name)
	}
	if l.RightBuckets, err = stageSide(ctx, dkv, bmerge.Right, rightCols, l.RightWidths, l, opts); err != nil {
		return nil, errors.Wrapf(err, "staging %s", right.Name)
	}
	return l, nil
}

func readKeyColumns(ctx context.Context, r ColumnReader, t *storage.Table, n int) ([][]float64, error) {
	cols := make([][]float64, n)
	for j := range cols {
		vals, err := r.ReadColumn(ctx, t, j)
		if err != nil {
			return nil, err
		}
		for row, v := range vals {
			if !math.IsNaN(v) && (v != math.Trunc(v) || math.Abs(v) > 1<<53) {
				return nil, errors.Newf("table %s: key column %s row %d holds non-integral %v", t.Name, t.Columns[j], row, v)
			}
		}
		cols[j] = vals
	}
	return cols, nil
}

func minValue(a, b []float64) (int64, bool) {
	found := false
	var m int64
	for _, col := range [][]float64{a, b} {
		for _, v := range col {
			if math.IsNaN(v) {
				continue
			}
			if !found || int64(v) < m {
				m = int64(v)
				found = true
			}
		}
	}
	return m, found
}

func maxEncoded(col []float64, base int64) uint64 {
	var m uint64
	for _, v := range col {
		m = max(m, encode(v, base))
	}
	return m
}

func encode(v float64, base int64) uint64 {
	if math.IsNaN(v) {
		return 0
	}
	return uint64(int64(v)-base) + 1
}

func widthOf(v uint64) int {
	return max(1, (bits.Len64(v)+7)/8)
}

func stageSide(ctx context.Context, dkv *storage.DKV, side bmerge.Side, cols [][]float64, widths bmerge.FieldWidths, l *Layout, opts Options) (map[int]int64, error) {
	keySize := widths.KeySize()
	var n int
	if len(cols) > 0 {
		n = len(cols[0])
	}

	keys := make([]byte, n*keySize)
	buckets := make(map[int][]int64)
	for row := 0; row < n; row++ {
		k := keys[row*keySize : (row+1)*keySize]
		off := 0
		for j, w := range widths {
			enc := encode(cols[j][row], l.Bases[j])
			for b := w - 1; b >= 0; b-- {
				k[off+b] = byte(enc)
				enc >>= 8
			}
			off += w
		}
		msb := int(encode(cols[0][row], l.Bases[0]) >> l.Shift)
		buckets[msb] = append(buckets[msb], int64(row))
	}

	keyOf := func(row int64) []byte { return keys[row*int64(keySize) : (row+1)*int64(keySize)] }
	counts := make(map[int]int64, len(buckets))
	for msb, rows := range buckets {
		slices.SortStableFunc(rows, func(a, b int64) int { return bytes.Compare(keyOf(a), keyOf(b)) })
		if err := writePartition(ctx, dkv, side, msb, keySize, rows, keyOf, opts.BatchSize); err != nil {
			return nil, err
		}
		counts[msb] = int64(len(rows))
	}

	for msb := 0; msb < bmerge.NumBuckets; msb++ {
		if _, ok := buckets[msb]; ok {
			continue
		}
		if err := Drop(ctx, dkv, side, msb); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

func writePartition(ctx context.Context, dkv *storage.DKV, side bmerge.Side, msb, keySize int, rows []int64, keyOf func(int64) []byte, batchSize int64) error {
	layout := bmerge.NewBatchLayout(batchSize, int64(len(rows)))
	for b := 0; b < layout.NumBatches(); b++ {
		start := int64(b) * batchSize
		order := rows[start : start+int64(layout.BatchLen(b))]
		keys := make([]byte, 0, len(order)*keySize)
		for _, row := range order {
			keys = append(keys, keyOf(row)...)
		}
		if err := dkv.Put(ctx, storage.PartitionBatchKey(side, msb, b), codec.EncodePartitionBatch(keys, order)); err != nil {
			return err
		}
	}
	hdr := codec.PartitionHeader{
		NumRows:    int64(len(rows)),
		BatchSize:  batchSize,
		NumBatches: int64(layout.NumBatches()),
		KeySize:    int64(keySize),
	}
	return dkv.Put(ctx, storage.PartitionHeaderKey(side, msb), codec.EncodePartitionHeader(hdr))
}

// Drop removes a staged partition if present.
func Drop(ctx context.Context, dkv *storage.DKV, side bmerge.Side, msb int) error {
	key := storage.PartitionHeaderKey(side, msb)
	b, err := dkv.Get(ctx, key)
	if err != nil || b == nil {
		return err
	}
	hdr, err := codec.DecodePartitionHeader(b)
	if err != nil {
		return err
	}
	for i := 0; i < int(hdr.NumBatches); i++ {
		if err := dkv.Delete(ctx, storage.PartitionBatchKey(side, msb, i)); err != nil {
			return err
		}
	}
	return dkv.Delete(ctx, key)
}
