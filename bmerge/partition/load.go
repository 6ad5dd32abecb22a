package partition

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/wbrown/janus-merge/bmerge"
	"github.com/wbrown/janus-merge/bmerge/codec"
	"github.com/wbrown/janus-merge/bmerge/storage"
)

// Load reads the sorted partition of side for bucket msb. It returns nil
// without error when the bucket holds no rows.
func Load(ctx context.Context, dkv *storage.DKV, side bmerge.Side, msb int) (*bmerge.SortedPartition, error) {
	b, err := dkv.Get(ctx, storage.PartitionHeaderKey(side, msb))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	hdr, err := codec.DecodePartitionHeader(b)
	if err != nil {
		return nil, errors.Wrapf(err, "%s partition %d", side, msb)
	}
	if hdr.BatchSize <= 0 || hdr.KeySize <= 0 || hdr.NumRows < 0 ||
		hdr.NumBatches != int64(bmerge.NewBatchLayout(hdr.BatchSize, hdr.NumRows).NumBatches()) {
		return nil, errors.AssertionFailedf("%s partition %d: corrupt header %+v", side, msb, hdr)
	}

	keys := make([][]byte, hdr.NumBatches)
	order := make([][]int64, hdr.NumBatches)
	for i := range keys {
		key := storage.PartitionBatchKey(side, msb, i)
		raw, err := dkv.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, errors.Newf("%s partition %d: batch %d of %d missing", side, msb, i, hdr.NumBatches)
		}
		if keys[i], order[i], err = codec.DecodePartitionBatch(raw, int(hdr.KeySize)); err != nil {
			return nil, errors.Wrapf(err, "decoding %s", key)
		}
	}

	p, err := bmerge.NewSortedPartition(side, msb, hdr.BatchSize, int(hdr.KeySize), keys, order)
	if err != nil {
		return nil, err
	}
	if p.NumRows != hdr.NumRows {
		return nil, errors.AssertionFailedf("%s partition %d: header says %d rows, batches hold %d", side, msb, hdr.NumRows, p.NumRows)
	}
	return p, nil
}
