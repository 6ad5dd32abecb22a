package executor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/annotations"
	"github.com/wbrown/janus-merge/bmerge/cluster"
	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/partition"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

func duplicateKeyTables(t *testing.T, c *cluster.Cluster) (*storage.Table, *storage.Table) {
	left := createTable(t, c, "left", []string{"key", "lv"},
		[][]float64{{5, 5, 7}, {1, 2, 3}}, 2)
	right := createTable(t, c, "right", []string{"key", "rv"},
		[][]float64{{5, 5, 5, 9}, {10, 20, 30, 40}}, 3)
	return left, right
}

func TestJoinDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 3)
	left, right := duplicateKeyTables(t, c)

	t.Run("Inner", func(t *testing.T) {
		frame, err := Join(ctx, c, left, right, 1, DefaultOptions(), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"key", "lv", "rv"}, frame.Columns)
		assert.Equal(t, int64(6), frame.NumRows)
		require.Len(t, frame.Pairs, 1)
		assert.True(t, frame.Pairs[0].OneToMany)
		assert.Equal(t, int64(2), frame.Pairs[0].MatchedLeftRows)

		rows, err := frame.Rows(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, [][]float64{
			{5, 1, 10}, {5, 1, 20}, {5, 1, 30},
			{5, 2, 10}, {5, 2, 20}, {5, 2, 30},
		}, rows)
	})

	t.Run("AllLeft", func(t *testing.T) {
		opts := DefaultOptions()
		opts.JoinType = bmerge.AllLeft
		frame, err := Join(ctx, c, left, right, 1, opts, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(7), frame.NumRows)
		require.Len(t, frame.Pairs, 2)

		rows, err := frame.Rows(ctx, 0)
		require.NoError(t, err)
		require.Len(t, rows, 7)
		assert.Equal(t, []float64{5, 2, 30}, rows[5])
		assert.Equal(t, 7.0, rows[6][0])
		assert.Equal(t, 3.0, rows[6][1])
		assert.True(t, math.IsNaN(rows[6][2]), "unmatched left row has NA right columns")
	})
}

func TestJoinChunking(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 2)
	left, right := duplicateKeyTables(t, c)

	opts := DefaultOptions()
	opts.MaxRowsPerChunk = 4
	frame, err := Join(ctx, c, left, right, 1, opts, nil)
	require.NoError(t, err)
	require.Len(t, frame.Pairs, 1)
	assert.Equal(t, []int64{4, 2}, frame.Pairs[0].ChunkSizes)
	assert.Equal(t, 6, frame.NumChunks())

	// Result chunks live on the owner of the right MSB.
	pair := frame.Pairs[0].Pair
	home := bmerge.OwnerOfMSB(pair.RightMSB, c.NumNodes())
	key := storage.ResultChunkKey(pair.LeftMSB, pair.RightMSB, 2, 1)
	v, err := c.Node(home).Local().Get([]byte(key.Name))
	require.NoError(t, err)
	assert.NotNil(t, v)

	col, err := frame.ReadColumn(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 10, 20, 30}, col)

	_, err = frame.ReadColumn(ctx, 3)
	assert.Error(t, err)
}

func TestResultRowsReadsOnlyLeadingChunks(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 2)
	left, right := duplicateKeyTables(t, c)

	opts := DefaultOptions()
	opts.MaxRowsPerChunk = 2
	frame, err := Join(ctx, c, left, right, 1, opts, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 2, 2}, frame.Pairs[0].ChunkSizes)

	pair := frame.Pairs[0].Pair
	for col := range frame.Columns {
		require.NoError(t, c.DKV().Delete(ctx, storage.ResultChunkKey(pair.LeftMSB, pair.RightMSB, col, 2)))
	}

	rows, err := frame.Rows(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{5, 1, 10}, {5, 1, 20}, {5, 1, 30}}, rows)

	_, err = frame.Rows(ctx, 0)
	assert.Error(t, err, "a full read reaches the deleted chunk")
}

func TestJoinRerunClearsStaleChunks(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 2)
	left, right := duplicateKeyTables(t, c)

	opts := DefaultOptions()
	opts.MaxRowsPerChunk = 2
	frame, err := Join(ctx, c, left, right, 1, opts, nil)
	require.NoError(t, err)
	require.Len(t, frame.Pairs, 1)
	require.Equal(t, []int64{2, 2, 2}, frame.Pairs[0].ChunkSizes)
	pair := frame.Pairs[0].Pair

	frame, err = Join(ctx, c, left, right, 1, DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, frame.Pairs[0].ChunkSizes)

	var names []string
	home := bmerge.OwnerOfMSB(pair.RightMSB, c.NumNodes())
	require.NoError(t, c.DKV().Scan(ctx, home, storage.ResultChunkPrefix, func(name string, _ []byte) error {
		names = append(names, name)
		return nil
	}))
	assert.Len(t, names, 3, "one chunk per column")
	for col := 0; col < 3; col++ {
		assert.Contains(t, names, storage.ResultChunkKey(pair.LeftMSB, pair.RightMSB, col, 0).Name)
	}

	n, err := NewChunkWriter(c.DKV(), nil).Clear(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = frame.ReadColumn(ctx, 0)
	assert.Error(t, err, "cleared chunks are gone")
}

func TestJoinIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 3)
	left, right := randomTables(t, c, rand.New(rand.NewSource(3)), 400, 300, 1)

	opts := DefaultOptions()
	opts.JoinType = bmerge.AllLeft
	opts.MaxRowsPerChunk = 64

	snapshot := func(frame *ResultFrame) map[string][]byte {
		out := make(map[string][]byte)
		for _, p := range frame.Pairs {
			for col := 0; col < p.NumCols; col++ {
				for b := range p.ChunkSizes {
					key := storage.ResultChunkKey(p.Pair.LeftMSB, p.Pair.RightMSB, col, b)
					v, err := c.DKV().Get(ctx, key)
					require.NoError(t, err)
					out[key.Name] = v
				}
			}
		}
		return out
	}

	first, err := Join(ctx, c, left, right, 1, opts, nil)
	require.NoError(t, err)
	before := snapshot(first)

	second, err := Join(ctx, c, left, right, 1, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, before, snapshot(second))
	assert.NotEmpty(t, before)
}

// randomTables creates tables keyed on numJoinCols columns, with NA keys
// and a second key column wider on the left than on the right.
func randomTables(t *testing.T, c *cluster.Cluster, rng *rand.Rand, nl, nr, numJoinCols int) (*storage.Table, *storage.Table) {
	gen := func(n int, widest int, extra int) [][]float64 {
		cols := make([][]float64, numJoinCols+extra)
		for i := range cols {
			cols[i] = make([]float64, n)
		}
		for r := 0; r < n; r++ {
			if rng.Intn(25) == 0 {
				cols[0][r] = math.NaN()
			} else {
				cols[0][r] = float64(rng.Intn(40) - 10)
			}
			for k := 1; k < numJoinCols; k++ {
				cols[k][r] = float64(rng.Intn(4)) * float64(widest)
			}
			for k := numJoinCols; k < len(cols); k++ {
				cols[k][r] = float64(rng.Intn(1000)) / 8
			}
		}
		return cols
	}
	var lnames, rnames []string
	for k := 0; k < numJoinCols; k++ {
		lnames = append(lnames, fmt.Sprintf("k%d", k))
		rnames = append(rnames, fmt.Sprintf("k%d", k))
	}
	left := createTable(t, c, "rl", append(lnames, "lv"), gen(nl, 100, 1), 37)
	right := createTable(t, c, "rr", append(rnames, "lv", "rv"), gen(nr, 1, 2), 53)
	return left, right
}

func readTable(t *testing.T, c *cluster.Cluster, tbl *storage.Table) [][]float64 {
	cols := make([][]float64, tbl.NumCols())
	for i := range cols {
		v, err := c.ReadColumn(context.Background(), tbl, i)
		require.NoError(t, err)
		cols[i] = v
	}
	return cols
}

func TestJoinMatchesNestedLoop(t *testing.T) {
	ctx := context.Background()
	for _, numJoinCols := range []int{1, 2} {
		c := newTestCluster(t, 4)
		rng := rand.New(rand.NewSource(int64(11 + numJoinCols)))
		left, right := randomTables(t, c, rng, 500, 350, numJoinCols)
		ld, rd := readTable(t, c, left), readTable(t, c, right)

		for _, jt := range []bmerge.JoinType{bmerge.Inner, bmerge.AllLeft} {
			opts := DefaultOptions()
			opts.JoinType = jt
			opts.MaxRowsPerChunk = 100
			opts.FetchBatchSize = 16
			opts.ParallelMergeThreshold = 8
			opts.MaxTaskWorkers = 3
			opts.Partition = partition.Options{BatchSize: 32}

			frame, err := Join(ctx, c, left, right, numJoinCols, opts, nil)
			require.NoError(t, err, "%s join on %d columns", jt, numJoinCols)

			want := nestedLoopJoin(ld, rd, numJoinCols, jt == bmerge.AllLeft)
			got, err := frame.Rows(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, rowStrings(want), rowStrings(got), "%s join on %d columns", jt, numJoinCols)

			assert.Equal(t, int64(len(want)), frame.NumRows)
			assert.Contains(t, frame.Columns, "lv.right", "clashing right column names are suffixed")

			var matched int64
			for _, p := range frame.Pairs {
				matched += p.MatchedLeftRows
			}
			assert.LessOrEqual(t, matched, left.NumRows())
		}
	}
}

func TestJoinAllRightUnsupported(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 2)
	left, right := duplicateKeyTables(t, c)

	opts := DefaultOptions()
	opts.JoinType = bmerge.AllRight
	_, err := Join(ctx, c, left, right, 1, opts, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bmerge.ErrMissingPartition), "right bucket of key 9 has no left partition")
	assert.True(t, errors.HasUnimplementedError(err))

	// A task over a bucket without left rows fails the same way.
	layout, err := partition.Stage(ctx, c, c.DKV(), left, right, 1, opts.Partition)
	require.NoError(t, err)
	var msb int
	for b := range layout.RightBuckets {
		if _, ok := layout.LeftBuckets[b]; !ok {
			msb = b
		}
	}
	_, err = NewTask(c, left, right, layout, Pair{LeftMSB: msb, RightMSB: msb}, opts, nil).Run(ctx)
	assert.True(t, errors.Is(err, bmerge.ErrMissingPartition))

	opts.JoinType = bmerge.Inner
	res, err := NewTask(c, left, right, layout, Pair{LeftMSB: msb, RightMSB: msb}, opts, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.NumRowsInResult)
}

func TestJoinRoutingFailureFailsJoin(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 3)
	left, right := duplicateKeyTables(t, c)

	// Send every fetch to node 0 so rows homed elsewhere are refused. The
	// left table's two chunks sit on different nodes and an all-left join
	// fetches both.
	require.NotEqual(t, left.HomeNode(0, 3), left.HomeNode(1, 3))
	c.SetTransport(misroutedTransport{inner: c.Transport()})
	opts := DefaultOptions()
	opts.JoinType = bmerge.AllLeft
	_, err := Join(ctx, c, left, right, 1, opts, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bmerge.ErrOwnershipViolation))
}

type misroutedTransport struct {
	inner cluster.Transport
}

func (m misroutedTransport) Fetch(ctx context.Context, node int, req *codec.FetchRequest) (*codec.FetchResponse, error) {
	return m.inner.Fetch(ctx, 0, req)
}

func TestJoinMetrics(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 2)
	left, right := duplicateKeyTables(t, c)

	opts := DefaultOptions()
	opts.Metrics = NewMetrics(prometheus.NewRegistry())
	_, err := Join(ctx, c, left, right, 1, opts, nil)
	require.NoError(t, err)

	m := opts.Metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsFetched.WithLabelValues("left")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.RowsFetched.WithLabelValues("right")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ChunksWritten))
	assert.Positive(t, testutil.ToFloat64(m.ChunkBytes))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TaskDuration))
}

func TestJoinAnnotations(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 2)
	left, right := duplicateKeyTables(t, c)

	var mu sync.Mutex
	var names []string
	ectx := NewContext(func(e annotations.Event) {
		mu.Lock()
		names = append(names, e.Name)
		mu.Unlock()
	})
	_, err := Join(ctx, c, left, right, 1, DefaultOptions(), ectx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		annotations.JoinInvoked,
		annotations.JoinStaged,
		annotations.TaskBegin,
		annotations.PartitionsLoaded,
		annotations.MergeRanges,
		annotations.PlanFetches,
		annotations.FetchRows,
		annotations.ChunksWritten,
		annotations.TaskComplete,
		annotations.JoinCompleted,
	}, names)
	assert.Len(t, ectx.Collector().Events(), len(names))
}
