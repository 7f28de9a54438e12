package utils

import "fmt"

// BatchMap splits [0, ProblemSize) into consecutive batches of at most BatchSize
// items, the same walk the generated driver performs over the condition set. Only
// the last batch may be short.
type BatchMap struct {
	ProblemSize int
	BatchSize   int
	Batches     [][2]int // Beginning and end index of each batch
}

func NewBatchMap(batchSize, problemSize int) (bm *BatchMap, err error) {
	if batchSize < 1 {
		err = fmt.Errorf("batch size must be positive, have %d", batchSize)
		return
	}
	if problemSize < 0 {
		err = fmt.Errorf("problem size must not be negative, have %d", problemSize)
		return
	}
	nb := (problemSize + batchSize - 1) / batchSize
	bm = &BatchMap{
		ProblemSize: problemSize,
		BatchSize:   batchSize,
		Batches:     make([][2]int, nb),
	}
	for n := 0; n < nb; n++ {
		bm.Batches[n] = bm.split(n)
	}
	return
}

func (bm *BatchMap) split(batchNum int) (bucket [2]int) {
	bucket[0] = batchNum * bm.BatchSize
	bucket[1] = min(bucket[0]+bm.BatchSize, bm.ProblemSize)
	return
}

func (bm *BatchMap) NumBatches() int {
	return len(bm.Batches)
}

// GetBucket returns the batch holding item k, -1 when k is out of range
func (bm *BatchMap) GetBucket(k int) (batchNum, kMin, kMax int) {
	if k < 0 || k >= bm.ProblemSize {
		return -1, 0, 0
	}
	batchNum = k / bm.BatchSize
	kMin, kMax = bm.Batches[batchNum][0], bm.Batches[batchNum][1]
	return
}

func (bm *BatchMap) GetBucketRange(batchNum int) (kMin, kMax int) {
	kMin, kMax = bm.Batches[batchNum][0], bm.Batches[batchNum][1]
	return
}

// GetLocalK converts a global item to its slot within the working buffer
func (bm *BatchMap) GetLocalK(baseK int) (k, kMax, bn int) {
	var (
		kmin, kmax int
	)
	bn, kmin, kmax = bm.GetBucket(baseK)
	kMax = kmax - kmin
	k = baseK - kmin
	return
}

func (bm *BatchMap) GetGlobalK(kLocal, bn int) (kGlobal int) {
	if bn == -1 {
		kGlobal = kLocal
		return
	}
	kGlobal = bm.Batches[bn][0] + kLocal
	return
}
