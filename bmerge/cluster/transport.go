package cluster

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge/codec"
)

// Transport carries row fetch requests to the node that owns the rows.
type Transport interface {
	Fetch(ctx context.Context, node int, req *codec.FetchRequest) (*codec.FetchResponse, error)
}

// LoopbackTransport delivers requests to in-process nodes. Every call is
// encoded and decoded with the wire codec so the in-process path exercises
// the same bytes a network transport would carry.
type LoopbackTransport struct {
	handlers []Handler
}

func NewLoopbackTransport(handlers []Handler) *LoopbackTransport {
	return &LoopbackTransport{handlers: handlers}
}

func (t *LoopbackTransport) Fetch(ctx context.Context, node int, req *codec.FetchRequest) (*codec.FetchResponse, error) {
	if node < 0 || node >= len(t.handlers) {
		return nil, errors.AssertionFailedf("no node %d in a cluster of %d", node, len(t.handlers))
	}
	msg, err := codec.EncodeFetchRequest(req)
	if err != nil {
		return nil, err
	}
	reply, err := t.handlers[node].Handle(ctx, msg)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %d rows of %s from node %d", len(req.Rows), req.Table, node)
	}
	return codec.DecodeFetchResponse(reply)
}
