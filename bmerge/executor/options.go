package executor

import (
	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/partition"
)

// DefaultMaxRowsPerChunk bounds result chunks: 32MB of doubles, well under
// the DKV value limit.
const DefaultMaxRowsPerChunk = 1 << 22

// Options configures a join and the partition pair tasks it runs.
type Options struct {
	// JoinType selects inner or all-left semantics. All-right is rejected
	// for buckets without left rows.
	JoinType bmerge.JoinType

	// MaxRowsPerChunk is the number of rows per persisted result chunk.
	MaxRowsPerChunk int

	// FetchBatchSize caps the rows per remote fetch call. If 0, the left
	// partition batch size is used.
	FetchBatchSize int64

	// ParallelMergeThreshold spawns the lower recursive branch of the merge
	// on its own goroutine when its left range holds at least this many
	// rows. If 0, the merge runs sequentially.
	ParallelMergeThreshold int64

	// MaxTaskWorkers bounds concurrently running partition pair tasks.
	// If 0, uses NumCPU.
	MaxTaskWorkers int

	// Metrics receives counters; nil disables them.
	Metrics *Metrics

	// Partition configures staging of the inputs.
	Partition partition.Options
}

// DefaultOptions returns options for an inner join with sequential merges.
func DefaultOptions() Options {
	return Options{
		JoinType:        bmerge.Inner,
		MaxRowsPerChunk: DefaultMaxRowsPerChunk,
		Partition:       partition.DefaultOptions(),
	}
}

func (o Options) allLeft() bool { return o.JoinType == bmerge.AllLeft }

func (o Options) maxRowsPerChunk() int64 {
	if o.MaxRowsPerChunk <= 0 {
		return DefaultMaxRowsPerChunk
	}
	return int64(o.MaxRowsPerChunk)
}
