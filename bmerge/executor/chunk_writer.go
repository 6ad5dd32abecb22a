package executor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// ChunkWriter persists the result columns of one partition pair.
type ChunkWriter struct {
	dkv     *storage.DKV
	metrics *Metrics
}

func NewChunkWriter(dkv *storage.DKV, metrics *Metrics) *ChunkWriter {
	return &ChunkWriter{dkv: dkv, metrics: metrics}
}

// Clear deletes the result chunks an earlier join stored for pair and
// returns how many it removed.
func (w *ChunkWriter) Clear(ctx context.Context, pair Pair) (int, error) {
	home := bmerge.OwnerOfMSB(pair.RightMSB, w.dkv.NumNodes())
	var stale []string
	err := w.dkv.Scan(ctx, home, storage.ResultChunkPrefix, func(name string, _ []byte) error {
		if storage.IsResultChunkOf(name, pair.LeftMSB, pair.RightMSB) {
			stale = append(stale, name)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, name := range stale {
		key := storage.PinnedKey(name, func(int) int { return home })
		if err := w.dkv.Delete(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Write stores every batch of every column under its result chunk key and
// releases the batch once stored. All puts run concurrently; Write returns
// the rows per chunk and the total encoded bytes once every put is done.
func (w *ChunkWriter) Write(ctx context.Context, pair Pair, cols []*bmerge.Batched[float64]) ([]int64, int64, error) {
	if len(cols) == 0 {
		return nil, 0, nil
	}
	layout := cols[0].Layout()
	sizes := make([]int64, layout.NumBatches())
	for b := range sizes {
		sizes[b] = int64(layout.BatchLen(b))
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for c, col := range cols {
		for b := 0; b < col.NumBatches(); b++ {
			g.Go(func() error {
				enc := codec.EncodeColumn(col.Batch(b))
				col.Release(b)
				key := storage.ResultChunkKey(pair.LeftMSB, pair.RightMSB, c, b)
				if err := w.dkv.Put(gctx, key, enc); err != nil {
					return err
				}
				total.Add(int64(len(enc)))
				w.metrics.chunkWritten(len(enc))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return sizes, total.Load(), nil
}
