package scgpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedData(t *testing.T) {
	model, err := NewTransformerModel(tinyModelConfig(), 17)
	require.NoError(t, err)
	model.Allocate(4, 6)

	n, T := 10, 6
	genes := make([]int32, n*T)
	values := make([]float32, n*T)
	labels := make([]int32, n)
	for row := 0; row < n; row++ {
		labels[row] = int32(row % 2)
		for pos := 1; pos < T; pos++ {
			genes[row*T+pos] = int32((row*3 + pos) % 16)
			values[row*T+pos] = float32(pos % 4)
		}
	}
	tok := &TokenizedData{Genes: genes, Values: values, N: n, T: T}

	emb, err := EmbedData(model, tok, labels, 4)
	require.NoError(t, err)

	C := model.Config.EmbSize
	require.Len(t, emb, n*C)
	for row := 0; row < n; row++ {
		var norm float32
		for i := 0; i < C; i++ {
			v := emb[row*C+i]
			norm += v * v
		}
		assert.InDelta(t, 1, norm, 1e-4, "row %d should be unit length", row)
	}

	// identical inputs embed identically, across batch boundaries too
	same, err := EmbedData(model, tok, labels, 3)
	require.NoError(t, err)
	for i := range emb {
		assert.InDelta(t, emb[i], same[i], 1e-4)
	}
}
