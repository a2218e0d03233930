package scgpt

import (
	"fmt"
	"math/rand"
)

// TrainTestSplit shuffles the rows of a matrix (nRows x nCols, row-major)
// and splits them, together with their per-row batch labels, into a train
// and a validation part. testSize is the validation fraction; at least one
// row lands on each side.
func TrainTestSplit(x []float32, nRows, nCols int, batchLabels []int32, testSize float64,
	rng *rand.Rand) (trainX, validX []float32, trainLabels, validLabels []int32, err error) {
	if nRows < 2 {
		return nil, nil, nil, nil, fmt.Errorf("need at least 2 rows to split, have %d", nRows)
	}
	if len(batchLabels) != nRows {
		return nil, nil, nil, nil, fmt.Errorf("have %d batch labels for %d rows", len(batchLabels), nRows)
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, nil, nil, fmt.Errorf("test size must be in (0,1), got %g", testSize)
	}
	nValid := int(float64(nRows)*testSize + 0.5)
	if nValid < 1 {
		nValid = 1
	}
	if nValid >= nRows {
		nValid = nRows - 1
	}
	perm := rng.Perm(nRows)
	nTrain := nRows - nValid
	trainX = make([]float32, nTrain*nCols)
	validX = make([]float32, nValid*nCols)
	trainLabels = make([]int32, nTrain)
	validLabels = make([]int32, nValid)
	for i, row := range perm[:nTrain] {
		copy(trainX[i*nCols:(i+1)*nCols], x[row*nCols:(row+1)*nCols])
		trainLabels[i] = batchLabels[row]
	}
	for i, row := range perm[nTrain:] {
		copy(validX[i*nCols:(i+1)*nCols], x[row*nCols:(row+1)*nCols])
		validLabels[i] = batchLabels[row]
	}
	return trainX, validX, trainLabels, validLabels, nil
}
