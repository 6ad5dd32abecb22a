package cluster

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// Handler serves encoded messages addressed to a node.
type Handler interface {
	Handle(ctx context.Context, msg []byte) ([]byte, error)
}

// Node is one member of the cluster: its local store and the services
// that run against it.
type Node struct {
	Index int
	local storage.Store
	rows  *RowService
}

// Handle decodes msg, dispatches on its kind and encodes the reply.
func (n *Node) Handle(ctx context.Context, msg []byte) ([]byte, error) {
	kind, err := codec.PeekKind(msg)
	if err != nil {
		return nil, err
	}
	switch kind {
	case codec.KindFetchRows:
		req, err := codec.DecodeFetchRequest(msg)
		if err != nil {
			return nil, err
		}
		resp, err := n.rows.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return codec.EncodeFetchResponse(resp)
	}
	return nil, errors.Newf("node %d: unknown message kind %q", n.Index, kind)
}

// Rows returns the node's row service.
func (n *Node) Rows() *RowService { return n.rows }

// Local returns the node's local store.
func (n *Node) Local() storage.Store { return n.local }
