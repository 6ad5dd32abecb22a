package codec

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sameValues compares float slices treating NaN as equal to NaN.
func sameValues(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "row %d: want NA, got %v", i, got[i])
			continue
		}
		assert.Equal(t, want[i], got[i], "row %d", i)
	}
}

func TestColumnLayouts(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name   string
		vals   []float64
		layout byte
	}{
		{"Constant", []float64{7, 7, 7, 7}, layoutConstant},
		{"ConstantNA", []float64{nan, nan}, layoutConstant},
		{"Integers", []float64{1, 5, -3, 1 << 40, 0}, layoutInteger},
		{"IntegersWithNA", []float64{4, nan, 6, nan, -2}, layoutInteger},
		{"Doubles", []float64{1.5, 2.25, nan, -0.125}, layoutDouble},
		{"NegativeZero", []float64{math.Copysign(0, -1), 1}, layoutDouble},
		{"Empty", nil, layoutDouble},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := EncodeColumn(tt.vals)
			require.GreaterOrEqual(t, len(b), 3)
			assert.Equal(t, tt.layout, b[2])

			got, err := DecodeColumn(b)
			require.NoError(t, err)
			sameValues(t, tt.vals, got)
		})
	}
}

func TestColumnDeterministic(t *testing.T) {
	vals := make([]float64, 5000)
	for i := range vals {
		vals[i] = float64(i % 97)
	}
	assert.Equal(t, EncodeColumn(vals), EncodeColumn(vals))
	assert.Less(t, len(EncodeColumn(vals)), 8*len(vals)/4, "integer chunks compress")
}

func TestColumnCodecSharedAcrossGoroutines(t *testing.T) {
	require.NotNil(t, encoder)
	require.NotNil(t, decoder)

	var wg sync.WaitGroup
	results := make([][]float64, 8)
	for g := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vals := make([]float64, 1000)
			for i := range vals {
				vals[i] = float64(g*1000+i) + 0.5
			}
			results[g], _ = DecodeColumn(EncodeColumn(vals))
		}()
	}
	wg.Wait()
	for g, got := range results {
		require.Len(t, got, 1000)
		assert.Equal(t, float64(g*1000)+0.5, got[0])
		assert.Equal(t, float64(g*1000+999)+0.5, got[999])
	}
}

func TestDecodeColumnRejectsGarbage(t *testing.T) {
	_, err := DecodeColumn([]byte("nope"))
	assert.Error(t, err)
	_, err = DecodeColumn([]byte{'b', 'c', 9, 1})
	assert.Error(t, err)
	_, err = DecodeColumn([]byte{'b', 'c', layoutConstant, 2, 0})
	assert.Error(t, err)
}

func TestPartitionHeader(t *testing.T) {
	h := PartitionHeader{NumRows: 70000, BatchSize: 32768, NumBatches: 3, KeySize: 5}
	got, err := DecodePartitionHeader(EncodePartitionHeader(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = DecodePartitionHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestPartitionBatch(t *testing.T) {
	keys := []byte{0, 1, 0, 1, 0, 3}
	order := []int64{10, 2, 999999}
	gotKeys, gotOrder, err := DecodePartitionBatch(EncodePartitionBatch(keys, order), 2)
	require.NoError(t, err)
	assert.Equal(t, keys, gotKeys)
	assert.Equal(t, order, gotOrder)

	_, _, err = DecodePartitionBatch(EncodePartitionBatch(keys, order), 3)
	assert.Error(t, err, "keys shorter than rows times key size")
}
