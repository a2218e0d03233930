package scgpt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainTestSplit(t *testing.T) {
	nRows, nCols := 20, 3
	x := make([]float32, nRows*nCols)
	labels := make([]int32, nRows)
	for r := 0; r < nRows; r++ {
		labels[r] = int32(r)
		for c := 0; c < nCols; c++ {
			x[r*nCols+c] = float32(r)
		}
	}

	trainX, validX, trainLabels, validLabels, err := TrainTestSplit(
		x, nRows, nCols, labels, 0.1, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Len(t, trainLabels, 18)
	assert.Len(t, validLabels, 2)
	assert.Len(t, trainX, 18*nCols)
	assert.Len(t, validX, 2*nCols)

	// every source row appears exactly once across both sides, rows intact
	seen := make(map[int32]bool)
	checkSide := func(xs []float32, ls []int32) {
		for i, lbl := range ls {
			assert.False(t, seen[lbl], "row %d duplicated", lbl)
			seen[lbl] = true
			for c := 0; c < nCols; c++ {
				assert.Equal(t, float32(lbl), xs[i*nCols+c], "row content must travel with its label")
			}
		}
	}
	checkSide(trainX, trainLabels)
	checkSide(validX, validLabels)
	assert.Len(t, seen, nRows)
}

func TestTrainTestSplitAtLeastOneEachSide(t *testing.T) {
	x := []float32{1, 2, 3}
	labels := []int32{0, 1, 2}
	_, validX, trainLabels, validLabels, err := TrainTestSplit(
		x, 3, 1, labels, 0.01, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Len(t, validLabels, 1)
	assert.Len(t, trainLabels, 2)
	assert.Len(t, validX, 1)
}

func TestTrainTestSplitErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, _, _, _, err := TrainTestSplit([]float32{1}, 1, 1, []int32{0}, 0.5, rng)
	assert.Error(t, err)
	_, _, _, _, err = TrainTestSplit([]float32{1, 2}, 2, 1, []int32{0}, 0.5, rng)
	assert.Error(t, err, "label count mismatch")
	_, _, _, _, err = TrainTestSplit([]float32{1, 2}, 2, 1, []int32{0, 1}, 1.5, rng)
	assert.Error(t, err)
}
