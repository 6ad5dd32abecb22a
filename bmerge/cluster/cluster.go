// Package cluster models the nodes that hold table chunks and serve row
// fetches for the join, together with the DKV that spans their stores.
package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// Cluster is a set of nodes sharing one DKV. Nodes run in process and talk
// through a Transport.
type Cluster struct {
	nodes     []*Node
	dkv       *storage.DKV
	transport Transport

	mu     sync.RWMutex
	tables map[string]*storage.Table
}

// NewMemoryCluster starts numNodes nodes backed by in-memory stores.
func NewMemoryCluster(numNodes int) (*Cluster, error) {
	return newCluster(numNodes, func(int) (storage.Store, error) {
		return storage.NewMemoryStore()
	})
}

// OpenCluster starts numNodes nodes whose stores live under dir/node-<i>.
func OpenCluster(dir string, numNodes int) (*Cluster, error) {
	return newCluster(numNodes, func(i int) (storage.Store, error) {
		path := filepath.Join(dir, fmt.Sprintf("node-%d", i))
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", path)
		}
		return storage.NewBadgerStore(path)
	})
}

func newCluster(numNodes int, open func(int) (storage.Store, error)) (*Cluster, error) {
	if numNodes <= 0 {
		return nil, errors.Newf("invalid cluster size %d", numNodes)
	}
	c := &Cluster{tables: make(map[string]*storage.Table)}
	stores := make([]storage.Store, 0, numNodes)
	for i := 0; i < numNodes; i++ {
		s, err := open(i)
		if err != nil {
			for _, opened := range stores {
				_ = opened.Close()
			}
			return nil, errors.Wrapf(err, "opening store of node %d", i)
		}
		stores = append(stores, s)
	}
	c.dkv = storage.NewDKV(stores)

	handlers := make([]Handler, numNodes)
	c.nodes = make([]*Node, numNodes)
	for i, s := range stores {
		n := &Node{Index: i, local: s, rows: NewRowService(i, numNodes, s, c)}
		c.nodes[i] = n
		handlers[i] = n
	}
	c.transport = NewLoopbackTransport(handlers)
	return c, nil
}

func (c *Cluster) NumNodes() int        { return len(c.nodes) }
func (c *Cluster) Node(i int) *Node     { return c.nodes[i] }
func (c *Cluster) DKV() *storage.DKV    { return c.dkv }
func (c *Cluster) Transport() Transport { return c.transport }

// SetTransport replaces the transport used to reach nodes.
func (c *Cluster) SetTransport(t Transport) { c.transport = t }

// Owner returns the node holding row of t.
func (c *Cluster) Owner(t *storage.Table, row int64) int {
	return t.Owner(row, len(c.nodes))
}

// Close closes every node's store.
func (c *Cluster) Close() error {
	return c.dkv.Close()
}

// CreateTable writes a table of column-major data cut into chunks of
// chunkRows, each chunk stored on its home node, and registers its
// descriptor in the DKV.
func (c *Cluster) CreateTable(ctx context.Context, name string, columns []string, data [][]float64, chunkRows int64) (*storage.Table, error) {
	if len(data) != len(columns) {
		return nil, errors.Newf("table %s: %d columns named but %d given", name, len(columns), len(data))
	}
	var numRows int64
	for i, col := range data {
		if i > 0 && int64(len(col)) != numRows {
			return nil, errors.Newf("table %s: column %s has %d rows, want %d", name, columns[i], len(col), numRows)
		}
		numRows = int64(len(col))
	}
	t, err := storage.NewTable(name, columns, numRows, chunkRows)
	if err != nil {
		return nil, err
	}
	for col, vals := range data {
		for chunk := 0; chunk < t.NumChunks(); chunk++ {
			b := codec.EncodeColumn(vals[t.ESPC[chunk]:t.ESPC[chunk+1]])
			if err := c.dkv.Put(ctx, storage.TableChunkKey(t, col, chunk), b); err != nil {
				return nil, err
			}
		}
	}
	desc, err := storage.MarshalTable(t)
	if err != nil {
		return nil, err
	}
	if err := c.dkv.Put(ctx, storage.TableDescriptorKey(name), desc); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tables[name] = t
	c.mu.Unlock()
	return t, nil
}

// Table resolves a table descriptor, caching it after the first DKV read.
func (c *Cluster) Table(ctx context.Context, name string) (*storage.Table, error) {
	c.mu.RLock()
	t, ok := c.tables[name]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	b, err := c.dkv.Get(ctx, storage.TableDescriptorKey(name))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.Newf("table %s does not exist", name)
	}
	t, err = storage.UnmarshalTable(b)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tables[name] = t
	c.mu.Unlock()
	return t, nil
}

// ReadColumn reads a whole column of t from the DKV.
func (c *Cluster) ReadColumn(ctx context.Context, t *storage.Table, col int) ([]float64, error) {
	out := make([]float64, 0, t.NumRows())
	for chunk := 0; chunk < t.NumChunks(); chunk++ {
		key := storage.TableChunkKey(t, col, chunk)
		b, err := c.dkv.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, errors.Newf("table %s: chunk %s missing", t.Name, key)
		}
		vals, err := codec.DecodeColumn(b)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", key)
		}
		out = append(out, vals...)
	}
	return out, nil
}
