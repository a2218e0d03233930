package torch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSoftmaxCrossEntropy(t *testing.T) {
	B, T, V := 1, 1, 2
	logits := []float32{2, 1}
	probs := make([]float32, V)
	SoftmaxForward(probs, logits, B, T, V)
	assert.InDelta(t, 1, probs[0]+probs[1], 1e-6)
	assert.Greater(t, probs[0], probs[1])

	losses := make([]float32, 1)
	CrossEntropyForward(losses, probs, []int32{0}, B, T, V)
	assert.InDelta(t, 0.313, losses[0], 1e-2)
}

func TestCrossentropySoftmaxBackward(t *testing.T) {
	B, T, V := 1, 1, 3
	probs := []float32{0.2, 0.5, 0.3}
	dlogits := make([]float32, V)
	CrossentropySoftmaxBackward(dlogits, []float32{1}, probs, []int32{1}, B, T, V)
	assert.InDelta(t, 0.2, dlogits[0], 1e-6)
	assert.InDelta(t, -0.5, dlogits[1], 1e-6)
	assert.InDelta(t, 0.3, dlogits[2], 1e-6)
}

func TestMaskedMSE(t *testing.T) {
	pred := []float32{1, 2, 3, 4}
	target := []float32{1, 0, 5, 0}
	mask := []bool{true, false, true, false}

	loss := MaskedMSEForward(pred, target, mask, 4)
	// masked diffs: 0 and -2 -> mean 2
	assert.InDelta(t, 2, loss, 1e-6)

	dpred := make([]float32, 4)
	MaskedMSEBackward(dpred, pred, target, mask, 1, 4)
	assert.InDelta(t, 0, dpred[0], 1e-6)
	assert.Zero(t, dpred[1])
	assert.InDelta(t, -2, dpred[2], 1e-6) // 2*(3-5)/2
	assert.Zero(t, dpred[3])
}

func TestMaskedMSEEmptyMask(t *testing.T) {
	pred := []float32{1, 2}
	target := []float32{0, 0}
	mask := []bool{false, false}
	assert.Zero(t, MaskedMSEForward(pred, target, mask, 2))

	dpred := make([]float32, 2)
	MaskedMSEBackward(dpred, pred, target, mask, 1, 2)
	assert.Equal(t, []float32{0, 0}, dpred)
}

func TestMaskedRelativeError(t *testing.T) {
	pred := []float32{3, 100}
	target := []float32{1, 100}
	mask := []bool{true, false}
	// |3-1| / (1+1e-6) = 2
	assert.InDelta(t, 2, MaskedRelativeError(pred, target, mask, 2), 1e-4)
}

func TestMaskedRelativeErrorZeroTarget(t *testing.T) {
	pred := []float32{0.5, 2}
	target := []float32{0, 4}
	mask := []bool{true, true}
	// (0.5/1e-6 + 2/(4+1e-6)) / 2
	got := MaskedRelativeError(pred, target, mask, 2)
	assert.InDelta(t, (0.5/1e-6+0.5)/2, got, 1)
}
