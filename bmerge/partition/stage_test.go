package partition

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/cluster"
	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

func newTestCluster(t *testing.T, n int) *cluster.Cluster {
	t.Helper()
	c, err := cluster.NewMemoryCluster(n)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func createTable(t *testing.T, c *cluster.Cluster, name string, cols ...[]float64) *storage.Table {
	t.Helper()
	names := make([]string, len(cols))
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	tbl, err := c.CreateTable(context.Background(), name, names, cols, 2)
	require.NoError(t, err)
	return tbl
}

func TestStageBuckets(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 2)
	left := createTable(t, c, "l", []float64{7, 5, 5}, []float64{1, 2, 3})
	right := createTable(t, c, "r", []float64{9, 5, 5, 5}, []float64{10, 20, 30, 40})

	l, err := Stage(ctx, c, c.DKV(), left, right, 1, Options{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, []int64{5}, l.Bases)
	assert.Equal(t, bmerge.FieldWidths{1}, l.LeftWidths)
	assert.Equal(t, bmerge.FieldWidths{1}, l.RightWidths)
	assert.Equal(t, uint(0), l.Shift)
	assert.Equal(t, map[int]int64{1: 2, 3: 1}, l.LeftBuckets)
	assert.Equal(t, map[int]int64{1: 3, 5: 1}, l.RightBuckets)

	p, err := Load(ctx, c.DKV(), bmerge.Right, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(3), p.NumRows)
	assert.Equal(t, 2, p.Keys.Layout().NumBatches())
	assert.Equal(t, 2, p.Order.NumBatches())
	// Equal keys keep their table order.
	assert.Equal(t, []int64{1, 2, 3}, []int64{p.Order.At(0), p.Order.At(1), p.Order.At(2)})
	assert.Equal(t, []byte{1}, p.Keys.At(2))

	missing, err := Load(ctx, c.DKV(), bmerge.Left, 5)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStageSortsWithinBucket(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 3)
	n := 200
	lk := make([]float64, n)
	rk := make([]float64, n)
	for i := 0; i < n; i++ {
		lk[i] = float64((i * 37) % 1000)
		rk[i] = float64((i * 11) % 50)
	}
	lk[17] = math.NaN()
	left := createTable(t, c, "l", lk)
	right := createTable(t, c, "r", rk)

	l, err := Stage(ctx, c, c.DKV(), left, right, 1, Options{BatchSize: 8})
	require.NoError(t, err)
	assert.Equal(t, bmerge.FieldWidths{2}, l.LeftWidths, "left keys need two bytes")
	assert.Equal(t, bmerge.FieldWidths{1}, l.RightWidths)
	assert.Equal(t, int64(0), l.Bases[0])

	var total int64
	for msb, rows := range l.LeftBuckets {
		p, err := Load(ctx, c.DKV(), bmerge.Left, msb)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, rows, p.NumRows)
		for i := int64(1); i < p.NumRows; i++ {
			assert.LessOrEqual(t, bytes.Compare(p.Keys.At(i-1), p.Keys.At(i)), 0)
		}
		total += rows
	}
	assert.Equal(t, int64(n), total)

	na, err := Load(ctx, c.DKV(), bmerge.Left, 0)
	require.NoError(t, err)
	require.NotNil(t, na)
	assert.Equal(t, []byte{0, 0}, na.Keys.At(0), "NA sorts first as zero bytes")
	assert.Equal(t, int64(17), na.Order.At(0))
}

func TestStageDropsStaleBuckets(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 1)
	a := createTable(t, c, "a", []float64{1, 2, 3})
	b := createTable(t, c, "b", []float64{1, 1, 1})

	first, err := Stage(ctx, c, c.DKV(), a, a, 1, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, first.LeftBuckets, 3)

	second, err := Stage(ctx, c, c.DKV(), b, b, 1, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, second.LeftBuckets, 1)

	for msb := 0; msb < 8; msb++ {
		p, err := Load(ctx, c.DKV(), bmerge.Left, msb)
		require.NoError(t, err)
		if _, ok := second.LeftBuckets[msb]; ok {
			assert.NotNil(t, p)
		} else {
			assert.Nil(t, p, "bucket %d left over from the first staging", msb)
		}
	}
}

func TestLoadRejectsCorruptHeaders(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 2)

	for _, hdr := range []codec.PartitionHeader{
		{NumRows: 4, BatchSize: 0, NumBatches: 1, KeySize: 1},
		{NumRows: 4, BatchSize: -2, NumBatches: 1, KeySize: 1},
		{NumRows: 4, BatchSize: 2, NumBatches: 2, KeySize: 0},
		{NumRows: 4, BatchSize: 2, NumBatches: -1, KeySize: 1},
		{NumRows: 4, BatchSize: 2, NumBatches: 5, KeySize: 1},
	} {
		key := storage.PartitionHeaderKey(bmerge.Left, 9)
		require.NoError(t, c.DKV().Put(ctx, key, codec.EncodePartitionHeader(hdr)))
		p, err := Load(ctx, c.DKV(), bmerge.Left, 9)
		assert.Nil(t, p)
		require.Error(t, err, "header %+v", hdr)
		assert.True(t, errors.HasAssertionFailure(err), "header %+v", hdr)
	}
}

func TestStageRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 1)
	frac := createTable(t, c, "frac", []float64{1.5, 2})
	ints := createTable(t, c, "ints", []float64{1, 2}, []float64{3, 4})

	_, err := Stage(ctx, c, c.DKV(), frac, ints, 1, DefaultOptions())
	assert.Error(t, err)
	_, err = Stage(ctx, c, c.DKV(), ints, frac, 2, DefaultOptions())
	assert.Error(t, err, "right has one column")
	_, err = Stage(ctx, c, c.DKV(), ints, ints, 0, DefaultOptions())
	assert.Error(t, err)
}

func TestStageMultiColumnKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestCluster(t, 2)
	left := createTable(t, c, "l", []float64{1, 1, 2}, []float64{300, 4, 4})
	right := createTable(t, c, "r", []float64{1, 2}, []float64{4, 4}, []float64{8, 9})

	l, err := Stage(ctx, c, c.DKV(), left, right, 2, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, bmerge.FieldWidths{1, 2}, l.LeftWidths)
	assert.Equal(t, bmerge.FieldWidths{1, 1}, l.RightWidths)

	p, err := Load(ctx, c.DKV(), bmerge.Left, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	// (1,4) sorts before (1,300)
	assert.Equal(t, []byte{1, 0, 1}, p.Keys.At(0))
	assert.Equal(t, []byte{1, 1, 41}, p.Keys.At(1))
	assert.Equal(t, int64(1), p.Order.At(0))
}
