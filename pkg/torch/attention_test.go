package torch

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttentionForwardRowsSumToOne(t *testing.T) {
	B, T, C, NH := 1, 4, 4, 2
	rng := rand.New(rand.NewSource(1))
	inp := make([]float32, B*T*3*C)
	for i := range inp {
		inp[i] = rng.Float32() - 0.5
	}
	padMask := make([]bool, B*T)
	padMask[3] = true

	out := make([]float32, B*T*C)
	preatt := make([]float32, B*NH*T*T)
	att := make([]float32, B*NH*T*T)
	AttentionForward(out, preatt, att, inp, padMask, B, T, C, NH)

	for h := 0; h < NH; h++ {
		for pos := 0; pos < T; pos++ {
			row := att[h*T*T+pos*T : h*T*T+(pos+1)*T]
			var sum float32
			for _, v := range row {
				sum += v
			}
			assert.InDelta(t, 1, sum, 1e-5, "head %d pos %d", h, pos)
			assert.Zero(t, row[3], "padded key must receive no attention")
		}
	}
}

func TestAttentionIsBidirectional(t *testing.T) {
	// Position 0 must attend to later positions: with distinct values per
	// position, the unmasked output at t=0 depends on the value at t=2.
	B, T, C, NH := 1, 3, 2, 1
	inp := make([]float32, B*T*3*C)
	// zero queries and keys -> uniform attention; values distinct per pos
	for pos := 0; pos < T; pos++ {
		for i := 0; i < C; i++ {
			inp[pos*3*C+2*C+i] = float32(pos)
		}
	}
	padMask := make([]bool, B*T)
	out := make([]float32, B*T*C)
	preatt := make([]float32, B*NH*T*T)
	att := make([]float32, B*NH*T*T)
	AttentionForward(out, preatt, att, inp, padMask, B, T, C, NH)

	// uniform over values {0,1,2} -> 1
	assert.InDelta(t, 1, out[0], 1e-5)
}

func TestAttentionBackwardFiniteDifference(t *testing.T) {
	B, T, C, NH := 1, 3, 4, 2
	rng := rand.New(rand.NewSource(7))
	inp := make([]float32, B*T*3*C)
	for i := range inp {
		inp[i] = 0.5 * (rng.Float32() - 0.5)
	}
	padMask := make([]bool, B*T)
	padMask[2] = true

	forward := func(x []float32) float32 {
		out := make([]float32, B*T*C)
		preatt := make([]float32, B*NH*T*T)
		att := make([]float32, B*NH*T*T)
		AttentionForward(out, preatt, att, x, padMask, B, T, C, NH)
		var loss float32
		for _, v := range out {
			loss += v * v
		}
		return loss
	}

	out := make([]float32, B*T*C)
	preatt := make([]float32, B*NH*T*T)
	att := make([]float32, B*NH*T*T)
	AttentionForward(out, preatt, att, inp, padMask, B, T, C, NH)
	dout := make([]float32, B*T*C)
	for i, v := range out {
		dout[i] = 2 * v
	}
	dinp := make([]float32, len(inp))
	dpreatt := make([]float32, len(preatt))
	datt := make([]float32, len(att))
	AttentionBackward(dinp, dpreatt, datt, dout, inp, att, padMask, B, T, C, NH)

	const h = 1e-2
	for i := range inp {
		orig := inp[i]
		inp[i] = orig + h
		up := forward(inp)
		inp[i] = orig - h
		down := forward(inp)
		inp[i] = orig
		fd := (up - down) / (2 * h)
		require.InDelta(t, fd, dinp[i], 5e-2, "dinp[%d]", i)
	}
}
