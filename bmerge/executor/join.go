package executor

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/partition"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// Join stages left and right on their first numJoinCols columns and merges
// every MSB bucket pair. Pairs run on a worker pool; the first failing pair
// fails the join once all pairs have finished.
func Join(ctx context.Context, env Environment, left, right *storage.Table, numJoinCols int, opts Options, ectx Context) (*ResultFrame, error) {
	if ectx == nil {
		ectx = &BaseContext{}
	}
	ectx.JoinBegin(left.Name, right.Name, opts.JoinType.String(), numJoinCols)

	frame, err := join(ctx, env, left, right, numJoinCols, opts, ectx)
	if err != nil {
		ectx.JoinComplete(0, 0, 0, err)
		return nil, err
	}
	ectx.JoinComplete(frame.NumRows, frame.NumChunks(), len(frame.Pairs), nil)
	return frame, nil
}

func join(ctx context.Context, env Environment, left, right *storage.Table, numJoinCols int, opts Options, ectx Context) (*ResultFrame, error) {
	layout, err := partition.Stage(ctx, env, env.DKV(), left, right, numJoinCols, opts.Partition)
	if err != nil {
		return nil, err
	}
	ectx.JoinStaged(len(layout.LeftBuckets), len(layout.RightBuckets), layout.LeftWidths, layout.RightWidths)

	pairs, err := pairsFor(layout, opts.JoinType)
	if err != nil {
		return nil, err
	}

	pool := NewWorkerPool(opts.MaxTaskWorkers)
	results, err := ExecuteParallel(ctx, pool, pairs, func(ctx context.Context, pair Pair) (*TaskResult, error) {
		return NewTask(env, left, right, layout, pair, opts, ectx).Run(ctx)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "joining %s and %s", left.Name, right.Name)
	}
	return newResultFrame(env.DKV(), left, right, numJoinCols, results), nil
}

// pairsFor lists the bucket pairs to merge in MSB order. Both sides share
// the bucket boundaries, so bucket b of the left only meets bucket b of
// the right.
func pairsFor(layout *partition.Layout, joinType bmerge.JoinType) ([]Pair, error) {
	var msbs []int
	switch joinType {
	case bmerge.Inner:
		for msb := range layout.LeftBuckets {
			if _, ok := layout.RightBuckets[msb]; ok {
				msbs = append(msbs, msb)
			}
		}
	case bmerge.AllLeft:
		for msb := range layout.LeftBuckets {
			msbs = append(msbs, msb)
		}
	case bmerge.AllRight:
		for msb := range layout.RightBuckets {
			if _, ok := layout.LeftBuckets[msb]; !ok {
				return nil, bmerge.MissingLeftPartition(msb)
			}
		}
		return nil, errors.UnimplementedErrorf(errors.IssueLink{Detail: "all-right binary merge"},
			"joins keeping all right rows are not supported")
	default:
		return nil, errors.AssertionFailedf("unknown join type %s", joinType)
	}
	sort.Ints(msbs)

	pairs := make([]Pair, len(msbs))
	for i, msb := range msbs {
		pairs[i] = Pair{LeftMSB: msb, RightMSB: msb}
	}
	return pairs, nil
}
