package executor

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/cluster"
	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// fetchStats summarises the remote reads of one pair.
type fetchStats struct {
	LeftRows  int64
	RightRows int64
	Calls     int64
}

// fetchOrchestrator executes a FetchPlan against the owning nodes and
// scatters the returned values into the result columns.
type fetchOrchestrator struct {
	transport   cluster.Transport
	left, right *storage.Table
	numJoinCols int
	metrics     *Metrics
}

// resultColumns returns the number of result columns: every left column
// followed by the right columns that are not join columns.
func resultColumns(left, right *storage.Table, numJoinCols int) int {
	return left.NumCols() + right.NumCols() - numJoinCols
}

// newResultBuffers allocates NA-filled result columns of numRows rows,
// batched at chunkRows.
func newResultBuffers(numCols int, numRows, chunkRows int64) []*bmerge.Batched[float64] {
	out := make([]*bmerge.Batched[float64], numCols)
	for c := range out {
		out[c] = bmerge.NewBatched[float64](chunkRows, numRows)
		out[c].Fill(math.NaN())
	}
	return out
}

// fetch issues one call per node and request batch, all concurrently, and
// waits for every call. Each call scatters into disjoint result rows.
func (f *fetchOrchestrator) fetch(ctx context.Context, plan *FetchPlan, out []*bmerge.Batched[float64]) (fetchStats, error) {
	leftCols := make([]int, f.left.NumCols())
	for c := range leftCols {
		leftCols[c] = c
	}
	rightCols := make([]int, 0, f.right.NumCols()-f.numJoinCols)
	for c := f.numJoinCols; c < f.right.NumCols(); c++ {
		rightCols = append(rightCols, c)
	}

	var stats fetchStats
	var calls atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for node, reqs := range plan.Left {
		for _, req := range reqs {
			stats.LeftRows += int64(req.Len())
			g.Go(func() error {
				calls.Add(1)
				resp, err := f.call(gctx, node, f.left, leftCols, req)
				if err != nil {
					return err
				}
				f.metrics.fetched(bmerge.Left.String(), req.Len())
				for c, vals := range resp.Values {
					dst := out[c]
					for i, v := range vals {
						for k := int64(0); k < req.Repeat[i]; k++ {
							dst.Set(req.Dest[i]+k, v)
						}
					}
				}
				return nil
			})
		}
	}
	if len(rightCols) > 0 {
		base := f.left.NumCols()
		for node, reqs := range plan.Right {
			for _, req := range reqs {
				stats.RightRows += int64(req.Len())
				g.Go(func() error {
					calls.Add(1)
					resp, err := f.call(gctx, node, f.right, rightCols, req)
					if err != nil {
						return err
					}
					f.metrics.fetched(bmerge.Right.String(), req.Len())
					for c, vals := range resp.Values {
						dst := out[base+c]
						for i, v := range vals {
							dst.Set(req.Dest[i], v)
						}
					}
					return nil
				})
			}
		}
	}
	err := g.Wait()
	stats.Calls = calls.Load()
	return stats, err
}

func (f *fetchOrchestrator) call(ctx context.Context, node int, t *storage.Table, cols []int, req *RowRequest) (*codec.FetchResponse, error) {
	resp, err := f.transport.Fetch(ctx, node, &codec.FetchRequest{
		Table:   t.Name,
		Columns: cols,
		Rows:    req.Rows,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Values) != len(cols) {
		return nil, errors.AssertionFailedf("node %d returned %d columns of %s, want %d", node, len(resp.Values), t.Name, len(cols))
	}
	for c, vals := range resp.Values {
		if len(vals) != req.Len() {
			return nil, errors.AssertionFailedf("node %d returned %d rows of %s column %d, want %d", node, len(vals), t.Name, cols[c], req.Len())
		}
	}
	return resp, nil
}
