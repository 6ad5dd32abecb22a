package cluster

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// TableResolver looks up table descriptors by name.
type TableResolver interface {
	Table(ctx context.Context, name string) (*storage.Table, error)
}

// RowService serves fetch requests for rows homed on one node. It only
// reads the node-local store.
type RowService struct {
	node     int
	numNodes int
	local    storage.Store
	tables   TableResolver
}

func NewRowService(node, numNodes int, local storage.Store, tables TableResolver) *RowService {
	return &RowService{node: node, numNodes: numNodes, local: local, tables: tables}
}

// Fetch returns the requested columns of the requested rows. Every row
// must be homed on this node; a foreign row is an ownership violation.
func (s *RowService) Fetch(ctx context.Context, req *codec.FetchRequest) (*codec.FetchResponse, error) {
	t, err := s.tables.Table(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	chunkOf := make([]int, len(req.Rows))
	for i, row := range req.Rows {
		c := t.ChunkIndex(row)
		if c < 0 {
			return nil, errors.AssertionFailedf("table %s has no row %d", t.Name, row)
		}
		if home := t.HomeNode(c, s.numNodes); home != s.node {
			return nil, bmerge.OwnershipViolation(t.Name, row, s.node, home)
		}
		chunkOf[i] = c
	}

	resp := &codec.FetchResponse{Values: make([][]float64, len(req.Columns))}
	for ci, col := range req.Columns {
		if col < 0 || col >= t.NumCols() {
			return nil, errors.AssertionFailedf("table %s has no column %d", t.Name, col)
		}
		chunks := make(map[int][]float64)
		out := make([]float64, len(req.Rows))
		for i, row := range req.Rows {
			c := chunkOf[i]
			vals, ok := chunks[c]
			if !ok {
				if vals, err = s.readChunk(t, col, c); err != nil {
					return nil, err
				}
				chunks[c] = vals
			}
			out[i] = vals[row-t.ESPC[c]]
		}
		resp.Values[ci] = out
	}
	return resp, nil
}

func (s *RowService) readChunk(t *storage.Table, col, chunk int) ([]float64, error) {
	key := storage.TableChunkKey(t, col, chunk)
	b, err := s.local.Get([]byte(key.Name))
	if err != nil {
		return nil, errors.Wrapf(err, "node %d reading %s", s.node, key)
	}
	if b == nil {
		return nil, errors.AssertionFailedf("node %d does not hold %s", s.node, key)
	}
	vals, err := codec.DecodeColumn(b)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", key)
	}
	if want := t.ESPC[chunk+1] - t.ESPC[chunk]; int64(len(vals)) != want {
		return nil, errors.AssertionFailedf("%s holds %d rows, want %d", key, len(vals), want)
	}
	return vals, nil
}
