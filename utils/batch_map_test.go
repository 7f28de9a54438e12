package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchMap(t *testing.T) {
	{
		bm, err := NewBatchMap(332, 10000)
		require.NoError(t, err)
		assert.Equal(t, 31, bm.NumBatches())
		assert.Equal(t, [2]int{0, 332}, bm.Batches[0])
		assert.Equal(t, [2]int{9960, 10000}, bm.Batches[30])
		var total int
		for n := 0; n < bm.NumBatches(); n++ {
			kMin, kMax := bm.GetBucketRange(n)
			assert.True(t, kMax-kMin <= bm.BatchSize)
			total += kMax - kMin
		}
		assert.Equal(t, 10000, total)
	}
	{ // Test inverted bucket lookup
		for problemSize := 1; problemSize < 200; problemSize++ {
			bm, err := NewBatchMap(8, problemSize)
			require.NoError(t, err)
			for k := 0; k < problemSize; k++ {
				bn, kMin, kMax := bm.GetBucket(k)
				assert.True(t, k >= kMin && k < kMax)
				kLocal, _, bn2 := bm.GetLocalK(k)
				assert.Equal(t, bn, bn2)
				assert.Equal(t, k, bm.GetGlobalK(kLocal, bn))
			}
			bn, _, _ := bm.GetBucket(problemSize)
			assert.Equal(t, -1, bn)
		}
	}
	{
		bm, err := NewBatchMap(4, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, bm.NumBatches())
		_, err = NewBatchMap(0, 10)
		assert.Error(t, err)
	}
}
