package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/cluster"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

func newTestCluster(t *testing.T, n int) *cluster.Cluster {
	t.Helper()
	c, err := cluster.NewMemoryCluster(n)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func createTable(t *testing.T, c *cluster.Cluster, name string, columns []string, data [][]float64, chunkRows int64) *storage.Table {
	t.Helper()
	tbl, err := c.CreateTable(context.Background(), name, columns, data, chunkRows)
	require.NoError(t, err)
	return tbl
}

// partitionOf builds a single-batch sorted partition of 1-byte keys whose
// row ids are their positions.
func partitionOf(t *testing.T, side bmerge.Side, keys ...byte) *bmerge.SortedPartition {
	t.Helper()
	order := make([]int64, len(keys))
	for i := range order {
		order[i] = int64(i)
	}
	batchSize := int64(max(len(keys), 1))
	var kb [][]byte
	var ob [][]int64
	if len(keys) > 0 {
		kb = [][]byte{append([]byte(nil), keys...)}
		ob = [][]int64{order}
	}
	p, err := bmerge.NewSortedPartition(side, 0, batchSize, 1, kb, ob)
	require.NoError(t, err)
	return p
}

// onNode places every row on node n.
func onNode(n int) rowOwner { return func(int64) int { return n } }

// rowString renders a result row with NA for NaN so rows compare by value.
func rowString(row []float64) string {
	s := ""
	for i, v := range row {
		if i > 0 {
			s += ","
		}
		if math.IsNaN(v) {
			s += "NA"
		} else {
			s += fmt.Sprint(v)
		}
	}
	return s
}

func rowStrings(rows [][]float64) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = rowString(r)
	}
	return out
}

// nestedLoopJoin computes the expected result: left rows ordered by key
// (NA first) then row id, each followed by its matching right rows in
// right row order. NA keys match NA keys.
func nestedLoopJoin(left, right [][]float64, numJoinCols int, allLeft bool) [][]float64 {
	cmp := func(ca [][]float64, i int, cb [][]float64, j int) int {
		for c := 0; c < numJoinCols; c++ {
			x, y := ca[c][i], cb[c][j]
			xn, yn := math.IsNaN(x), math.IsNaN(y)
			switch {
			case xn && yn:
				continue
			case xn:
				return -1
			case yn:
				return 1
			case x < y:
				return -1
			case x > y:
				return 1
			}
		}
		return 0
	}

	nl := len(left[0])
	idx := make([]int, nl)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return cmp(left, idx[a], left, idx[b]) < 0 })

	var out [][]float64
	for _, i := range idx {
		matched := false
		for j := 0; j < len(right[0]); j++ {
			if cmp(left, i, right, j) != 0 {
				continue
			}
			matched = true
			row := make([]float64, 0, len(left)+len(right)-numJoinCols)
			for c := range left {
				row = append(row, left[c][i])
			}
			for c := numJoinCols; c < len(right); c++ {
				row = append(row, right[c][j])
			}
			out = append(out, row)
		}
		if !matched && allLeft {
			row := make([]float64, 0, len(left)+len(right)-numJoinCols)
			for c := range left {
				row = append(row, left[c][i])
			}
			for c := numJoinCols; c < len(right); c++ {
				row = append(row, math.NaN())
			}
			out = append(out, row)
		}
	}
	return out
}
