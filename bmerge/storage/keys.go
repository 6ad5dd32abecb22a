package storage

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-merge/bmerge"
)

// PartitionHeaderKey names the header of the sorted partition of side for
// bucket msb.
func PartitionHeaderKey(side bmerge.Side, msb int) Key {
	return HashKey(fmt.Sprintf("__radix_order__SortedOXHeader_%s_MSB%d", side, msb))
}

// PartitionBatchKey names batch b of the sorted partition of side for
// bucket msb.
func PartitionBatchKey(side bmerge.Side, msb, batch int) Key {
	return HashKey(fmt.Sprintf("__radix_order__SortedOXBatch_%s_MSB%d_batch%d", side, msb, batch))
}

// ResultChunkPrefix starts the name of every result chunk key.
const ResultChunkPrefix = "__binary_merge__Chunk_for_"

// ResultChunkKey names result column col, chunk batch, of the partition
// pair (leftMSB, rightMSB). It is homed on the owner of rightMSB.
func ResultChunkKey(leftMSB, rightMSB, col, batch int) Key {
	name := ResultChunkPrefix + fmt.Sprintf("col%d_batch%d_leftMSB%d_rightMSB%d", col, batch, leftMSB, rightMSB)
	return PinnedKey(name, func(n int) int { return bmerge.OwnerOfMSB(rightMSB, n) })
}

// IsResultChunkOf reports whether name is a result chunk key of the pair
// (leftMSB, rightMSB).
func IsResultChunkOf(name string, leftMSB, rightMSB int) bool {
	return strings.HasPrefix(name, ResultChunkPrefix) &&
		strings.HasSuffix(name, fmt.Sprintf("_leftMSB%d_rightMSB%d", leftMSB, rightMSB))
}

// TableDescriptorKey names the descriptor of a table.
func TableDescriptorKey(table string) Key {
	return HashKey("__table__" + table)
}

// TableChunkKey names chunk chunk of column col of t, homed where the
// table places the chunk.
func TableChunkKey(t *Table, col, chunk int) Key {
	name := fmt.Sprintf("__table__%s_col%d_chunk%d", t.Name, col, chunk)
	return PinnedKey(name, func(n int) int { return t.HomeNode(chunk, n) })
}
