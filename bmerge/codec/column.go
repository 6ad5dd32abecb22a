// Package codec holds the byte formats of the join: compressed numeric
// column chunks, staged sorted-partition batches, and the row fetch
// messages exchanged between nodes.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

// Column chunk layouts. The layout byte follows a two byte magic.
const (
	layoutConstant byte = 1
	layoutInteger  byte = 2
	layoutDouble   byte = 3
)

var columnMagic = [2]byte{'b', 'c'}

// Integral values beyond this magnitude lose precision as float64 and are
// stored with the double layout.
const maxExactInt = 1 << 53

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	if encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic(errors.Wrap(err, "zstd encoder"))
	}
	if decoder, err = zstd.NewReader(nil); err != nil {
		panic(errors.Wrap(err, "zstd decoder"))
	}
}

// EncodeColumn compresses a dense numeric column chunk. NaN is NA.
//
// A chunk holding one repeated value is stored as that value. A chunk of
// integral values is stored as zigzag varint deltas plus an NA bitmap.
// Anything else is stored as raw IEEE-754 bits. The last two are zstd
// compressed.
func EncodeColumn(vals []float64) []byte {
	hdr := make([]byte, 0, 3+binary.MaxVarintLen64)
	hdr = append(hdr, columnMagic[0], columnMagic[1])

	switch {
	case len(vals) > 0 && isConstant(vals):
		hdr = append(hdr, layoutConstant)
		hdr = binary.AppendUvarint(hdr, uint64(len(vals)))
		return binary.LittleEndian.AppendUint64(hdr, math.Float64bits(vals[0]))
	case len(vals) > 0 && isIntegral(vals):
		hdr = append(hdr, layoutInteger)
		hdr = binary.AppendUvarint(hdr, uint64(len(vals)))
		return encoder.EncodeAll(integerPayload(vals), hdr)
	default:
		hdr = append(hdr, layoutDouble)
		hdr = binary.AppendUvarint(hdr, uint64(len(vals)))
		raw := make([]byte, 0, 8*len(vals))
		for _, v := range vals {
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(v))
		}
		return encoder.EncodeAll(raw, hdr)
	}
}

// DecodeColumn reverses EncodeColumn.
func DecodeColumn(b []byte) ([]float64, error) {
	if len(b) < 3 || b[0] != columnMagic[0] || b[1] != columnMagic[1] {
		return nil, errors.New("not a column chunk")
	}
	layout := b[2]
	n, sz := binary.Uvarint(b[3:])
	if sz <= 0 {
		return nil, errors.New("column chunk: bad row count")
	}
	body := b[3+sz:]
	out := make([]float64, n)

	switch layout {
	case layoutConstant:
		if len(body) != 8 {
			return nil, errors.Newf("column chunk: constant body of %d bytes", len(body))
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(body))
		for i := range out {
			out[i] = v
		}
		return out, nil

	case layoutInteger:
		raw, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, errors.Wrap(err, "column chunk")
		}
		if err := decodeIntegers(raw, out); err != nil {
			return nil, err
		}
		return out, nil

	case layoutDouble:
		raw, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, errors.Wrap(err, "column chunk")
		}
		if uint64(len(raw)) != 8*n {
			return nil, errors.Newf("column chunk: %d bytes for %d doubles", len(raw), n)
		}
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return out, nil
	}
	return nil, errors.Newf("column chunk: unknown layout %d", layout)
}

func isConstant(vals []float64) bool {
	first := math.Float64bits(vals[0])
	for _, v := range vals[1:] {
		if math.Float64bits(v) != first {
			return false
		}
	}
	return true
}

func isIntegral(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		if v != math.Trunc(v) || v > maxExactInt || v < -maxExactInt {
			return false
		}
		if v == 0 && math.Signbit(v) {
			return false
		}
	}
	return true
}

// integerPayload writes an NA bitmap followed by zigzag varint deltas of
// the non-NA values.
func integerPayload(vals []float64) []byte {
	bitmap := make([]byte, (len(vals)+7)/8)
	out := make([]byte, 0, len(bitmap)+2*len(vals))
	var prev int64
	var deltas []byte
	for i, v := range vals {
		if math.IsNaN(v) {
			bitmap[i/8] |= 1 << (i % 8)
			continue
		}
		cur := int64(v)
		deltas = binary.AppendVarint(deltas, cur-prev)
		prev = cur
	}
	out = append(out, bitmap...)
	return append(out, deltas...)
}

func decodeIntegers(raw []byte, out []float64) error {
	nb := (len(out) + 7) / 8
	if len(raw) < nb {
		return errors.New("column chunk: truncated NA bitmap")
	}
	bitmap, deltas := raw[:nb], raw[nb:]
	var prev int64
	for i := range out {
		if bitmap[i/8]&(1<<(i%8)) != 0 {
			out[i] = math.NaN()
			continue
		}
		d, sz := binary.Varint(deltas)
		if sz <= 0 {
			return errors.Newf("column chunk: bad delta at row %d", i)
		}
		deltas = deltas[sz:]
		prev += d
		out[i] = float64(prev)
	}
	return nil
}
