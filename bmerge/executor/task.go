package executor

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/annotations"
	"github.com/wbrown/janus-merge/bmerge/cluster"
	"github.com/wbrown/janus-merge/bmerge/partition"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// Environment is the cluster a join runs on.
type Environment interface {
	partition.ColumnReader
	DKV() *storage.DKV
	Transport() cluster.Transport
	Owner(t *storage.Table, row int64) int
	NumNodes() int
}

// Pair identifies the left and right MSB buckets merged by one task.
type Pair struct {
	LeftMSB  int
	RightMSB int
}

// TaskResult describes the persisted result of one partition pair.
type TaskResult struct {
	Pair            Pair
	NumRowsInResult int64
	ChunkSizes      []int64
	NumCols         int
	OneToMany       bool
	MatchedLeftRows int64
}

// Task merges one partition pair and persists its result chunks.
type Task struct {
	Pair   Pair
	env    Environment
	left   *storage.Table
	right  *storage.Table
	layout *partition.Layout
	opts   Options
	ectx   Context
}

// NewTask prepares the task for pair over tables staged as layout.
func NewTask(env Environment, left, right *storage.Table, layout *partition.Layout, pair Pair, opts Options, ectx Context) *Task {
	if ectx == nil {
		ectx = &BaseContext{}
	}
	return &Task{Pair: pair, env: env, left: left, right: right, layout: layout, opts: opts, ectx: ectx}
}

// Run loads both partitions, merges them, fetches the contributing rows
// from their owners and writes the result chunks.
func (t *Task) Run(ctx context.Context) (*TaskResult, error) {
	start := time.Now()
	node := bmerge.OwnerOfMSB(t.Pair.RightMSB, t.env.NumNodes())
	res, err := t.ectx.Task(t.Pair, node, func() (*TaskResult, error) {
		return t.run(ctx)
	})
	t.opts.Metrics.taskDone(start, err)
	if err != nil {
		return nil, errors.Wrapf(err, "partition pair %d/%d", t.Pair.LeftMSB, t.Pair.RightMSB)
	}
	return res, nil
}

func (t *Task) run(ctx context.Context) (*TaskResult, error) {
	dkv := t.env.DKV()
	empty := &TaskResult{Pair: t.Pair, NumCols: resultColumns(t.left, t.right, t.layout.NumJoinCols)}

	var left, right *bmerge.SortedPartition
	err := t.ectx.Phase(t.Pair, annotations.PartitionsLoaded, func() (map[string]interface{}, error) {
		var err error
		if left, err = partition.Load(ctx, dkv, bmerge.Left, t.Pair.LeftMSB); err != nil {
			return nil, err
		}
		if right, err = partition.Load(ctx, dkv, bmerge.Right, t.Pair.RightMSB); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"left.rows":  numRows(left),
			"right.rows": numRows(right),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	w := NewChunkWriter(dkv, t.opts.Metrics)
	if _, err := w.Clear(ctx, t.Pair); err != nil {
		return nil, err
	}

	if left == nil {
		if t.opts.JoinType == bmerge.AllRight {
			return nil, bmerge.MissingLeftPartition(t.Pair.LeftMSB)
		}
		return empty, nil
	}
	if right == nil {
		if !t.opts.allLeft() {
			return empty, nil
		}
		right = bmerge.EmptyPartition(bmerge.Right, t.Pair.RightMSB, t.layout.RightWidths.KeySize())
	}

	numNodes := t.env.NumNodes()
	leftOwner := func(row int64) int { return t.env.Owner(t.left, row) }
	rightOwner := func(row int64) int { return t.env.Owner(t.right, row) }

	m := newRangeMerger(left, right, t.layout.LeftWidths, t.layout.RightWidths, numNodes, leftOwner, rightOwner, t.opts)
	err = t.ectx.Phase(t.Pair, annotations.MergeRanges, func() (map[string]interface{}, error) {
		m.run()
		return map[string]interface{}{
			"left.matched": m.matchedLeft.Load(),
			"one.to.many":  m.oneToMany.Load(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	var plan *FetchPlan
	err = t.ectx.Phase(t.Pair, annotations.PlanFetches, func() (map[string]interface{}, error) {
		var err error
		plan, err = planFetches(left, right, m.matches, leftOwner, rightOwner, numNodes,
			t.opts.allLeft(), t.opts.FetchBatchSize, m.pendingLeft(), m.pendingRight())
		if err != nil {
			return nil, err
		}
		if plan.NumRowsInResult != m.numRows.Load() {
			return nil, errors.AssertionFailedf("planned %d result rows, merge counted %d", plan.NumRowsInResult, m.numRows.Load())
		}
		lb, rb := plan.NumBatches()
		return map[string]interface{}{
			"result.rows":   plan.NumRowsInResult,
			"left.batches":  lb,
			"right.batches": rb,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	result := &TaskResult{
		Pair:            t.Pair,
		NumRowsInResult: plan.NumRowsInResult,
		NumCols:         empty.NumCols,
		OneToMany:       m.oneToMany.Load(),
		MatchedLeftRows: m.matchedLeft.Load(),
	}
	if plan.NumRowsInResult == 0 {
		return result, nil
	}

	out := newResultBuffers(result.NumCols, plan.NumRowsInResult, t.opts.maxRowsPerChunk())
	f := &fetchOrchestrator{
		transport:   t.env.Transport(),
		left:        t.left,
		right:       t.right,
		numJoinCols: t.layout.NumJoinCols,
		metrics:     t.opts.Metrics,
	}
	err = t.ectx.Phase(t.Pair, annotations.FetchRows, func() (map[string]interface{}, error) {
		stats, err := f.fetch(ctx, plan, out)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"left.rows":  stats.LeftRows,
			"right.rows": stats.RightRows,
			"calls":      stats.Calls,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	err = t.ectx.Phase(t.Pair, annotations.ChunksWritten, func() (map[string]interface{}, error) {
		sizes, bytes, err := w.Write(ctx, t.Pair, out)
		if err != nil {
			return nil, err
		}
		result.ChunkSizes = sizes
		return map[string]interface{}{
			"chunks": len(sizes) * len(out),
			"bytes":  bytes,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func numRows(p *bmerge.SortedPartition) int64 {
	if p == nil {
		return 0
	}
	return p.NumRows
}
