package bmerge

import "github.com/cockroachdb/errors"

// FieldWidths holds the byte width of each key column, in key order.
type FieldWidths []int

// KeySize returns the total width of a key in bytes.
func (w FieldWidths) KeySize() int {
	n := 0
	for _, width := range w {
		n += width
	}
	return n
}

// JoinColumns returns the number of key columns taking part in the join.
// Trailing columns of the wider key are ignored.
func JoinColumns(left, right FieldWidths) int {
	return min(len(left), len(right))
}

// KeyBytes is a batched array of fixed-size composite keys. Batch b holds
// the keys of the rows in batch b of the matching order array, back to back.
type KeyBytes struct {
	layout  BatchLayout
	keySize int
	batches [][]byte
}

// NewKeyBytes wraps key batches of batchSize rows, each key keySize bytes.
func NewKeyBytes(batchSize int64, keySize int, batches [][]byte) (*KeyBytes, error) {
	if keySize <= 0 {
		return nil, errors.Newf("invalid key size %d", keySize)
	}
	if batchSize <= 0 {
		return nil, errors.Newf("invalid batch size %d", batchSize)
	}
	var n int64
	for b, batch := range batches {
		if len(batch)%keySize != 0 {
			return nil, errors.Newf("key batch %d has %d bytes, not a multiple of key size %d", b, len(batch), keySize)
		}
		rows := int64(len(batch) / keySize)
		if b < len(batches)-1 && rows != batchSize {
			return nil, errors.Newf("key batch %d holds %d keys, want %d", b, rows, batchSize)
		}
		n += rows
	}
	return &KeyBytes{
		layout:  NewBatchLayout(batchSize, n),
		keySize: keySize,
		batches: batches,
	}, nil
}

// At returns the key at sorted position i. The slice aliases the batch.
func (k *KeyBytes) At(i int64) []byte {
	b, o := k.layout.Locate(i)
	start := o * k.keySize
	return k.batches[b][start : start+k.keySize]
}

func (k *KeyBytes) Len() int64          { return k.layout.Len }
func (k *KeyBytes) Layout() BatchLayout { return k.layout }
func (k *KeyBytes) KeySize() int        { return k.keySize }
func (k *KeyBytes) Batch(b int) []byte  { return k.batches[b] }

// KeyComparator compares composite keys of two sides whose columns may be
// encoded with different widths.
type KeyComparator struct {
	left, right FieldWidths
	numJoinCols int
}

// NewKeyComparator builds a comparator for keys laid out as left and right.
func NewKeyComparator(left, right FieldWidths) *KeyComparator {
	return &KeyComparator{
		left:        left,
		right:       right,
		numJoinCols: JoinColumns(left, right),
	}
}

// NumJoinCols returns the number of key columns compared.
func (c *KeyComparator) NumJoinCols() int { return c.numJoinCols }

// Compare compares the left key at leftPos with the right key at rightPos.
func (c *KeyComparator) Compare(leftKeys *KeyBytes, leftPos int64, rightKeys *KeyBytes, rightPos int64) int {
	return c.CompareKeys(leftKeys.At(leftPos), rightKeys.At(rightPos))
}

// CompareKeys compares two raw keys. The result has the sign convention of
// strcmp: negative when x orders before y.
//
// When a column is wider on one side, its leading zero bytes are consumed
// until the widths agree, so 0x0005 equals 0x05. A nonzero byte met before
// the widths agree returns the width difference.
func (c *KeyComparator) CompareKeys(x, y []byte) int {
	var xByte, yByte byte
	xi, yi := 0, 0
	xlen := 0
	for i := 0; i < c.numJoinCols && xlen == 0; i++ {
		xlen = c.left[i]
		ylen := c.right[i]
		if xlen != ylen {
			for xlen > ylen && x[xi] == 0 {
				xi++
				xlen--
			}
			for ylen > xlen && y[yi] == 0 {
				yi++
				ylen--
			}
			if xlen != ylen {
				return xlen - ylen
			}
		}
		for xlen > 0 {
			xByte, yByte = x[xi], y[yi]
			if xByte != yByte {
				break
			}
			xi++
			yi++
			xlen--
		}
	}
	return int(xByte) - int(yByte)
}
