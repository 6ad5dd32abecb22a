package storage

import (
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Table describes a numeric columnar table split into row chunks. Chunk i
// holds rows [ESPC[i], ESPC[i+1]) of every column and lives on one node.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	ESPC    []int64  `json:"espc"`
}

// NewTable builds a descriptor for numRows rows cut into chunks of
// chunkRows.
func NewTable(name string, columns []string, numRows, chunkRows int64) (*Table, error) {
	if chunkRows <= 0 {
		return nil, errors.Newf("table %s: invalid chunk size %d", name, chunkRows)
	}
	espc := []int64{0}
	for start := int64(0); start < numRows; start += chunkRows {
		espc = append(espc, min(start+chunkRows, numRows))
	}
	return &Table{Name: name, Columns: columns, ESPC: espc}, nil
}

func (t *Table) NumRows() int64 { return t.ESPC[len(t.ESPC)-1] }
func (t *Table) NumCols() int   { return len(t.Columns) }
func (t *Table) NumChunks() int { return len(t.ESPC) - 1 }

// ChunkIndex returns the chunk holding global row id row, or -1 when row
// is out of range.
func (t *Table) ChunkIndex(row int64) int {
	if row < 0 || row >= t.NumRows() {
		return -1
	}
	// first chunk whose end is past row
	return sort.Search(t.NumChunks(), func(i int) bool { return t.ESPC[i+1] > row })
}

// HomeNode returns the node that holds chunk in a cluster of numNodes.
func (t *Table) HomeNode(chunk, numNodes int) int {
	if numNodes <= 1 {
		return 0
	}
	return int((xxhash.Sum64String(t.Name) + uint64(chunk)) % uint64(numNodes))
}

// Owner returns the node holding row, or -1 when row is out of range.
func (t *Table) Owner(row int64, numNodes int) int {
	c := t.ChunkIndex(row)
	if c < 0 {
		return -1
	}
	return t.HomeNode(c, numNodes)
}

// MarshalTable encodes a descriptor for the DKV.
func MarshalTable(t *Table) ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTable decodes a descriptor written by MarshalTable.
func UnmarshalTable(b []byte) (*Table, error) {
	t := &Table{}
	if err := json.Unmarshal(b, t); err != nil {
		return nil, errors.Wrap(err, "decoding table descriptor")
	}
	if len(t.ESPC) == 0 {
		return nil, errors.Newf("table %s: empty chunk index", t.Name)
	}
	return t, nil
}
