package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/cockroachdb/errors"
)

// MessageKind tags a message exchanged between nodes.
type MessageKind string

const (
	KindFetchRows       MessageKind = "fetch-rows"
	KindFetchRowsResult MessageKind = "fetch-rows.result"
)

const (
	metaKind    = "bmerge.kind"
	metaTable   = "bmerge.table"
	metaColumns = "bmerge.columns"
)

// FetchRequest asks a node for the values of Columns at the given global
// row ids of Table. The rows must all be homed on the receiving node.
type FetchRequest struct {
	Table   string
	Columns []int
	Rows    []int64
}

// FetchResponse carries the requested values column-major:
// Values[c][i] is column Columns[c] of row Rows[i].
type FetchResponse struct {
	Values [][]float64
}

var allocator = memory.DefaultAllocator

// EncodeFetchRequest serializes req as an Arrow IPC stream with a single
// int64 row id column. Table and columns travel in the schema metadata.
func EncodeFetchRequest(req *FetchRequest) ([]byte, error) {
	cols := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		cols[i] = strconv.Itoa(c)
	}
	md := arrow.NewMetadata(
		[]string{metaKind, metaTable, metaColumns},
		[]string{string(KindFetchRows), req.Table, strings.Join(cols, ",")})
	schema := arrow.NewSchema([]arrow.Field{{Name: "row_id", Type: arrow.PrimitiveTypes.Int64}}, &md)

	b := array.NewInt64Builder(allocator)
	defer b.Release()
	b.AppendValues(req.Rows, nil)
	rows := b.NewInt64Array()
	defer rows.Release()

	rec := array.NewRecord(schema, []arrow.Array{rows}, int64(len(req.Rows)))
	defer rec.Release()
	return writeStream(schema, rec)
}

// DecodeFetchRequest reverses EncodeFetchRequest.
func DecodeFetchRequest(b []byte) (*FetchRequest, error) {
	req := &FetchRequest{}
	err := readStream(b, KindFetchRows, func(md arrow.Metadata) error {
		req.Table = metaValue(md, metaTable)
		if s := metaValue(md, metaColumns); s != "" {
			for _, f := range strings.Split(s, ",") {
				c, err := strconv.Atoi(f)
				if err != nil {
					return errors.Wrapf(err, "fetch request column %q", f)
				}
				req.Columns = append(req.Columns, c)
			}
		}
		return nil
	}, func(rec arrow.Record) error {
		if rec.NumCols() != 1 {
			return errors.Newf("fetch request: %d columns", rec.NumCols())
		}
		ids, ok := rec.Column(0).(*array.Int64)
		if !ok {
			return errors.Newf("fetch request: row ids of type %s", rec.Column(0).DataType())
		}
		req.Rows = append(req.Rows, ids.Int64Values()...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeFetchResponse serializes resp as an Arrow IPC stream with one
// float64 column per requested column.
func EncodeFetchResponse(resp *FetchResponse) ([]byte, error) {
	md := arrow.NewMetadata([]string{metaKind}, []string{string(KindFetchRowsResult)})
	fields := make([]arrow.Field, len(resp.Values))
	arrs := make([]arrow.Array, len(resp.Values))
	var n int
	for c, vals := range resp.Values {
		if c > 0 && len(vals) != n {
			return nil, errors.AssertionFailedf("fetch response column %d has %d rows, want %d", c, len(vals), n)
		}
		n = len(vals)
		fields[c] = arrow.Field{Name: fmt.Sprintf("c%d", c), Type: arrow.PrimitiveTypes.Float64}
		b := array.NewFloat64Builder(allocator)
		b.AppendValues(vals, nil)
		arrs[c] = b.NewFloat64Array()
		b.Release()
	}
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()
	schema := arrow.NewSchema(fields, &md)
	rec := array.NewRecord(schema, arrs, int64(n))
	defer rec.Release()
	return writeStream(schema, rec)
}

// DecodeFetchResponse reverses EncodeFetchResponse.
func DecodeFetchResponse(b []byte) (*FetchResponse, error) {
	resp := &FetchResponse{}
	err := readStream(b, KindFetchRowsResult, nil, func(rec arrow.Record) error {
		if resp.Values == nil {
			resp.Values = make([][]float64, rec.NumCols())
		}
		for c := 0; c < int(rec.NumCols()); c++ {
			vals, ok := rec.Column(c).(*array.Float64)
			if !ok {
				return errors.Newf("fetch response: column %d of type %s", c, rec.Column(c).DataType())
			}
			resp.Values[c] = append(resp.Values[c], vals.Float64Values()...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// PeekKind returns the message kind of an encoded message without decoding
// its body.
func PeekKind(b []byte) (MessageKind, error) {
	r, err := ipc.NewReader(bytes.NewReader(b), ipc.WithAllocator(allocator))
	if err != nil {
		return "", errors.Wrap(err, "reading message schema")
	}
	defer r.Release()
	return MessageKind(metaValue(r.Schema().Metadata(), metaKind)), nil
}

func writeStream(schema *arrow.Schema, rec arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(allocator))
	if err := w.Write(rec); err != nil {
		return nil, errors.Wrap(err, "writing record")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "closing stream")
	}
	return buf.Bytes(), nil
}

func readStream(b []byte, want MessageKind, onSchema func(arrow.Metadata) error, onRecord func(arrow.Record) error) error {
	r, err := ipc.NewReader(bytes.NewReader(b), ipc.WithAllocator(allocator))
	if err != nil {
		return errors.Wrap(err, "opening stream")
	}
	defer r.Release()

	md := r.Schema().Metadata()
	if got := MessageKind(metaValue(md, metaKind)); got != want {
		return errors.Newf("message kind %q, want %q", got, want)
	}
	if onSchema != nil {
		if err := onSchema(md); err != nil {
			return err
		}
	}
	for r.Next() {
		if err := onRecord(r.Record()); err != nil {
			return err
		}
	}
	return errors.Wrap(r.Err(), "reading stream")
}

func metaValue(md arrow.Metadata, key string) string {
	if i := md.FindKey(key); i >= 0 {
		return md.Values()[i]
	}
	return ""
}
