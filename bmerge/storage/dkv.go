// Package storage provides the distributed key-value store used to stage
// sorted partitions, table chunks and join results. Each node owns a local
// Store; the DKV routes every key to the store of its home node.
package storage

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Key names a DKV value and decides which node is its home.
type Key struct {
	Name string
	home func(numNodes int) int
}

// HashKey is a key homed by hashing its name.
func HashKey(name string) Key { return Key{Name: name} }

// PinnedKey is a key homed by an explicit placement function.
func PinnedKey(name string, home func(numNodes int) int) Key {
	return Key{Name: name, home: home}
}

// Home returns the node that holds the key in a cluster of numNodes.
func (k Key) Home(numNodes int) int {
	if numNodes <= 1 {
		return 0
	}
	if k.home != nil {
		return k.home(numNodes)
	}
	return int(xxhash.Sum64String(k.Name) % uint64(numNodes))
}

func (k Key) String() string { return k.Name }

// DKV is a distributed key-value store over one local Store per node.
// Values are available on their home node; keys written by the join are
// unique per partition pair, column and batch, so no locking is needed.
type DKV struct {
	stores []Store
}

// NewDKV builds a DKV; stores[i] is the local store of node i.
func NewDKV(stores []Store) *DKV {
	return &DKV{stores: stores}
}

// NumNodes returns the number of nodes the DKV spans.
func (d *DKV) NumNodes() int { return len(d.stores) }

// Local returns the store of node i.
func (d *DKV) Local(node int) Store { return d.stores[node] }

// Home returns the home node of key.
func (d *DKV) Home(key Key) int { return key.Home(len(d.stores)) }

func (d *DKV) Put(ctx context.Context, key Key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	home := d.Home(key)
	return errors.Wrapf(d.stores[home].Put([]byte(key.Name), value), "put %s on node %d", key, home)
}

// Get returns the value under key, or nil if it is absent.
func (d *DKV) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	home := d.Home(key)
	v, err := d.stores[home].Get([]byte(key.Name))
	if err != nil {
		return nil, errors.Wrapf(err, "get %s from node %d", key, home)
	}
	return v, nil
}

func (d *DKV) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	home := d.Home(key)
	return errors.Wrapf(d.stores[home].Delete([]byte(key.Name)), "delete %s on node %d", key, home)
}

// Scan calls fn for every key starting with prefix that node holds, in key
// order.
func (d *DKV) Scan(ctx context.Context, node int, prefix string, fn func(name string, value []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.stores[node].Scan([]byte(prefix), func(key, value []byte) error {
		return fn(string(key), value)
	})
	return errors.Wrapf(err, "scan %s on node %d", prefix, node)
}

// Close closes every local store and returns the first error.
func (d *DKV) Close() error {
	var first error
	for _, s := range d.stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
