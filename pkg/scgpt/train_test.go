package scgpt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareDataMapsValues(t *testing.T) {
	tok := &TokenizedData{
		Genes:  []int32{10, 11, 12, 13},
		Values: []float32{0, 3, 7, PadValue},
		N:      1,
		T:      4,
	}
	ed := PrepareData(tok, []int32{0}, 0, nil)

	assert.Equal(t, []int32{BinOffset, BinOffset + 3, BinOffset + 7, PadValueID}, ed.ValueIDs)
	assert.Equal(t, []bool{false, false, false, true}, ed.PadMask)
	assert.Equal(t, []bool{false, false, false, false}, ed.MaskPos)
	assert.Equal(t, tok.Values, ed.Targets)
}

func TestPrepareDataMasking(t *testing.T) {
	T := 64
	tok := &TokenizedData{
		Genes:  make([]int32, T),
		Values: make([]float32, T),
		N:      1,
		T:      T,
	}
	for i := range tok.Values {
		tok.Values[i] = 1
	}
	ed := PrepareData(tok, []int32{0}, 0.5, rand.New(rand.NewSource(1)))

	assert.False(t, ed.MaskPos[0], "the first position is never masked")
	masked := 0
	for i := 1; i < T; i++ {
		if ed.MaskPos[i] {
			masked++
			assert.Equal(t, MaskValueID, ed.ValueIDs[i])
			assert.Equal(t, float32(1), ed.Targets[i], "targets keep the value under the mask")
		} else {
			assert.Equal(t, BinOffset+1, ed.ValueIDs[i])
		}
	}
	assert.Greater(t, masked, 0)
	assert.Less(t, masked, T-1)
}

func buildEpochData(n, T int, labels []int32) *EpochData {
	genes := make([]int32, n*T)
	values := make([]float32, n*T)
	for i := range values {
		values[i] = float32(i % 5)
	}
	tok := &TokenizedData{Genes: genes, Values: values, N: n, T: T}
	return PrepareData(tok, labels, 0, nil)
}

func TestDataLoaderCoversAllRows(t *testing.T) {
	labels := []int32{0, 1, 0, 1, 0, 1, 0}
	ed := buildEpochData(7, 3, labels)
	dl := NewDataLoader(ed, 3, true, false, rand.New(rand.NewSource(2)))

	assert.Equal(t, 3, dl.NumBatches)
	rows := 0
	labelCount := make(map[int32]int)
	for b := dl.NextBatch(); b != nil; b = dl.NextBatch() {
		rows += b.Size
		for i := 0; i < b.Size; i++ {
			labelCount[b.BatchLabels[i]]++
		}
		assert.Equal(t, 3, b.SeqLen)
	}
	assert.Equal(t, 7, rows)
	assert.Equal(t, 4, labelCount[0])
	assert.Equal(t, 3, labelCount[1])
}

func TestDataLoaderPerSeqBatchSample(t *testing.T) {
	labels := []int32{1, 0, 1, 0, 1, 0, 1, 0}
	ed := buildEpochData(8, 2, labels)
	dl := NewDataLoader(ed, 4, false, true, nil)

	// grouped by domain: first batch all label 0, second all label 1
	b := dl.NextBatch()
	require.NotNil(t, b)
	for i := 0; i < b.Size; i++ {
		assert.Equal(t, int32(0), b.BatchLabels[i])
	}
	b = dl.NextBatch()
	require.NotNil(t, b)
	for i := 0; i < b.Size; i++ {
		assert.Equal(t, int32(1), b.BatchLabels[i])
	}
	assert.Nil(t, dl.NextBatch())
}

func TestDataLoaderLastBatchSmaller(t *testing.T) {
	ed := buildEpochData(5, 2, []int32{0, 0, 0, 0, 0})
	dl := NewDataLoader(ed, 2, false, false, nil)

	sizes := []int{}
	for b := dl.NextBatch(); b != nil; b = dl.NextBatch() {
		sizes = append(sizes, b.Size)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)

	dl.Reset()
	b := dl.NextBatch()
	require.NotNil(t, b)
	assert.Equal(t, 2, b.Size)
}

func TestStepLR(t *testing.T) {
	s := NewStepLR(1e-4, 0.9)
	assert.InDelta(t, 1e-4, s.LR(), 1e-9)
	s.Step()
	assert.InDelta(t, 9e-5, s.LR(), 1e-9)
	s.Step()
	assert.InDelta(t, 8.1e-5, s.LR(), 1e-9)
}
