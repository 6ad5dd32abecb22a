package executor

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// ResultFrame is the persisted result of a join: the chunks of every
// partition pair, read back in MSB order.
type ResultFrame struct {
	Columns []string
	Pairs   []*TaskResult
	NumRows int64

	dkv *storage.DKV
}

func newResultFrame(dkv *storage.DKV, left, right *storage.Table, numJoinCols int, results []*TaskResult) *ResultFrame {
	f := &ResultFrame{dkv: dkv, Pairs: results}
	f.Columns = append(f.Columns, left.Columns...)
	seen := make(map[string]bool, len(left.Columns))
	for _, name := range left.Columns {
		seen[name] = true
	}
	for _, name := range right.Columns[numJoinCols:] {
		if seen[name] {
			name += ".right"
		}
		seen[name] = true
		f.Columns = append(f.Columns, name)
	}
	for _, r := range results {
		f.NumRows += r.NumRowsInResult
	}
	return f
}

// NumChunks returns the number of chunks persisted across all columns.
func (f *ResultFrame) NumChunks() int {
	n := 0
	for _, r := range f.Pairs {
		n += len(r.ChunkSizes) * r.NumCols
	}
	return n
}

// ReadColumn reads result column col across every pair.
func (f *ResultFrame) ReadColumn(ctx context.Context, col int) ([]float64, error) {
	return f.readColumn(ctx, col, f.NumRows)
}

// readColumn reads chunks of col until at least n rows are covered.
func (f *ResultFrame) readColumn(ctx context.Context, col int, n int64) ([]float64, error) {
	if col < 0 || col >= len(f.Columns) {
		return nil, errors.Newf("result has no column %d", col)
	}
	out := make([]float64, 0, n)
	for _, r := range f.Pairs {
		for b, size := range r.ChunkSizes {
			if int64(len(out)) >= n {
				return out, nil
			}
			key := storage.ResultChunkKey(r.Pair.LeftMSB, r.Pair.RightMSB, col, b)
			raw, err := f.dkv.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if raw == nil {
				return nil, errors.AssertionFailedf("result chunk %s missing", key)
			}
			vals, err := codec.DecodeColumn(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "decoding %s", key)
			}
			if int64(len(vals)) != size {
				return nil, errors.AssertionFailedf("result chunk %s holds %d rows, want %d", key, len(vals), size)
			}
			out = append(out, vals...)
		}
	}
	return out, nil
}

// Rows returns up to limit result rows in row-major order. A limit of 0 or
// less returns every row.
func (f *ResultFrame) Rows(ctx context.Context, limit int) ([][]float64, error) {
	n := f.NumRows
	if limit > 0 && int64(limit) < n {
		n = int64(limit)
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, len(f.Columns))
	}
	for c := range f.Columns {
		vals, err := f.readColumn(ctx, c, n)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i][c] = vals[i]
		}
	}
	return rows, nil
}
