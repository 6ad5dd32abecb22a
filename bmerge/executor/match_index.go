package executor

import (
	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge"
)

// MatchIndex holds one MatchRecord per left row, in left sorted order.
// Rows never written read as unmatched.
type MatchIndex struct {
	First  *bmerge.Batched[int64]
	Length *bmerge.Batched[int64]
}

// NewMatchIndex allocates an unmatched index for n left rows.
func NewMatchIndex(batchSize, n int64) *MatchIndex {
	return &MatchIndex{
		First:  bmerge.NewBatched[int64](batchSize, max(n, 0)),
		Length: bmerge.NewBatched[int64](batchSize, max(n, 0)),
	}
}

func (x *MatchIndex) Len() int64 { return x.First.Len() }

// Set records the match of the left row at sorted position i.
func (x *MatchIndex) Set(i int64, rec bmerge.MatchRecord) {
	x.First.Set(i, rec.First)
	x.Length.Set(i, rec.Length)
}

// At returns the match of the left row at sorted position i.
func (x *MatchIndex) At(i int64) bmerge.MatchRecord {
	return bmerge.MatchRecord{First: x.First.At(i), Length: x.Length.At(i)}
}

// Matched counts the left rows with at least one match.
func (x *MatchIndex) Matched() int64 {
	var n int64
	for b := 0; b < x.Length.NumBatches(); b++ {
		for _, l := range x.Length.Batch(b) {
			if l > 0 {
				n++
			}
		}
	}
	return n
}

// RowRequest is one batch of rows to fetch from a node. Rows[i] is written
// to result rows Dest[i] .. Dest[i]+Repeat[i]-1. Repeat is nil for right
// requests, where every row lands once.
type RowRequest struct {
	Rows   []int64
	Dest   []int64
	Repeat []int64
}

func (r *RowRequest) Len() int { return len(r.Rows) }

func (r *RowRequest) add(row, dest, repeat int64, withRepeat bool) {
	r.Rows = append(r.Rows, row)
	r.Dest = append(r.Dest, dest)
	if withRepeat {
		r.Repeat = append(r.Repeat, repeat)
	}
}

// FetchPlan lists, per node, the batched row requests that assemble the
// result of one partition pair.
type FetchPlan struct {
	Left            [][]*RowRequest
	Right           [][]*RowRequest
	NumRowsInResult int64
}

// NumBatches returns the number of left and right requests in the plan.
func (p *FetchPlan) NumBatches() (left, right int) {
	for _, reqs := range p.Left {
		left += len(reqs)
	}
	for _, reqs := range p.Right {
		right += len(reqs)
	}
	return left, right
}

// requestQueue fills fixed-capacity request batches for one node.
type requestQueue struct {
	batchSize  int64
	withRepeat bool
	reqs       []*RowRequest
	n          int64
}

func (q *requestQueue) push(row, dest, repeat int64) {
	if len(q.reqs) == 0 || int64(q.reqs[len(q.reqs)-1].Len()) == q.batchSize {
		capacity := q.batchSize
		q.reqs = append(q.reqs, &RowRequest{
			Rows: make([]int64, 0, capacity),
			Dest: make([]int64, 0, capacity),
		})
	}
	q.reqs[len(q.reqs)-1].add(row, dest, repeat, q.withRepeat)
	q.n++
}

// planFetches walks the match index in left sorted order and routes every
// contributing row to its owning node. Result rows are laid out in the same
// order: each left row occupies max(1, length) consecutive result rows.
//
// pendingLeft and pendingRight are the per-node counts gathered during the
// merge; the plan must agree with them.
func planFetches(
	left, right *bmerge.SortedPartition,
	matches *MatchIndex,
	leftOwner, rightOwner rowOwner,
	numNodes int,
	allLeft bool,
	batchSize int64,
	pendingLeft, pendingRight []int64,
) (*FetchPlan, error) {
	if batchSize <= 0 {
		batchSize = left.BatchSize
	}
	leftQ := make([]requestQueue, numNodes)
	rightQ := make([]requestQueue, numNodes)
	for n := 0; n < numNodes; n++ {
		leftQ[n] = requestQueue{batchSize: min(batchSize, max(pendingLeft[n], 1)), withRepeat: true}
		rightQ[n] = requestQueue{batchSize: min(batchSize, max(pendingRight[n], 1))}
	}

	var loc int64
	for i := int64(0); i < matches.Len(); i++ {
		rec := matches.At(i)
		if !rec.Matched() && !allLeft {
			continue
		}
		repeat := max(1, rec.Length)
		row := left.Order.At(i)
		leftQ[leftOwner(row)].push(row, loc, repeat)
		for r := int64(0); r < rec.Length; r++ {
			rrow := right.Order.At(rec.First - 1 + r)
			rightQ[rightOwner(rrow)].push(rrow, loc+r, 1)
		}
		loc += repeat
	}

	plan := &FetchPlan{
		Left:            make([][]*RowRequest, numNodes),
		Right:           make([][]*RowRequest, numNodes),
		NumRowsInResult: loc,
	}
	for n := 0; n < numNodes; n++ {
		if leftQ[n].n != pendingLeft[n] {
			return nil, errors.AssertionFailedf("node %d: planned %d left rows, merge counted %d", n, leftQ[n].n, pendingLeft[n])
		}
		if rightQ[n].n != pendingRight[n] {
			return nil, errors.AssertionFailedf("node %d: planned %d right rows, merge counted %d", n, rightQ[n].n, pendingRight[n])
		}
		plan.Left[n] = leftQ[n].reqs
		plan.Right[n] = rightQ[n].reqs
	}
	return plan, nil
}
