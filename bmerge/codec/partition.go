package codec

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// PartitionHeader describes a staged sorted partition.
type PartitionHeader struct {
	NumRows    int64
	BatchSize  int64
	NumBatches int64
	KeySize    int64
}

const headerSize = 4 * 8

func EncodePartitionHeader(h PartitionHeader) []byte {
	b := make([]byte, 0, headerSize)
	b = binary.LittleEndian.AppendUint64(b, uint64(h.NumRows))
	b = binary.LittleEndian.AppendUint64(b, uint64(h.BatchSize))
	b = binary.LittleEndian.AppendUint64(b, uint64(h.NumBatches))
	return binary.LittleEndian.AppendUint64(b, uint64(h.KeySize))
}

func DecodePartitionHeader(b []byte) (PartitionHeader, error) {
	if len(b) != headerSize {
		return PartitionHeader{}, errors.Newf("partition header: %d bytes", len(b))
	}
	return PartitionHeader{
		NumRows:    int64(binary.LittleEndian.Uint64(b[0:])),
		BatchSize:  int64(binary.LittleEndian.Uint64(b[8:])),
		NumBatches: int64(binary.LittleEndian.Uint64(b[16:])),
		KeySize:    int64(binary.LittleEndian.Uint64(b[24:])),
	}, nil
}

// EncodePartitionBatch stores one batch of sorted keys with their row ids.
// The layout is a uvarint row count, the raw key bytes, then the row ids
// as zstd compressed varints.
func EncodePartitionBatch(keys []byte, order []int64) []byte {
	b := binary.AppendUvarint(nil, uint64(len(order)))
	b = append(b, keys...)
	ids := make([]byte, 0, len(order)*binary.MaxVarintLen64/2)
	for _, id := range order {
		ids = binary.AppendVarint(ids, id)
	}
	return encoder.EncodeAll(ids, b)
}

// DecodePartitionBatch reverses EncodePartitionBatch.
func DecodePartitionBatch(b []byte, keySize int) (keys []byte, order []int64, err error) {
	n, sz := binary.Uvarint(b)
	if sz <= 0 {
		return nil, nil, errors.New("partition batch: bad row count")
	}
	b = b[sz:]
	nk := int(n) * keySize
	if len(b) < nk {
		return nil, nil, errors.Newf("partition batch: %d key bytes, want %d", len(b), nk)
	}
	keys = append([]byte(nil), b[:nk]...)
	ids, err := decoder.DecodeAll(b[nk:], nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "partition batch")
	}
	order = make([]int64, n)
	for i := range order {
		v, sz := binary.Varint(ids)
		if sz <= 0 {
			return nil, nil, errors.Newf("partition batch: bad row id at %d", i)
		}
		order[i] = v
		ids = ids[sz:]
	}
	return keys, order, nil
}
