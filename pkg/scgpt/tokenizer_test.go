package scgpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocab() *GeneVocab {
	v := &GeneVocab{
		tokenToID: make(map[string]int32),
		idToToken: make(map[int32]string),
		defaultID: -1,
	}
	for _, tok := range SpecialTokens {
		v.AddToken(tok)
	}
	for _, g := range []string{"G0", "G1", "G2", "G3"} {
		v.AddToken(g)
	}
	return v
}

func TestTokenizeAndPadFiltersZeros(t *testing.T) {
	v := testVocab()
	settings := DefaultModelSettings(4)
	geneIDs := v.IDs([]string{"G0", "G1", "G2", "G3"})
	x := []float32{0, 5, 0, 7}

	tok, err := TokenizeAndPad(x, 1, 4, geneIDs, 5, v, settings, true, false)
	require.NoError(t, err)

	assert.Equal(t, 1, tok.N)
	assert.Equal(t, 5, tok.T)
	// cls first, then the two expressed genes, then padding
	assert.Equal(t, v.ID(ClsToken), tok.Genes[0])
	assert.Equal(t, float32(0), tok.Values[0])
	assert.Equal(t, []int32{v.ID("G1"), v.ID("G3")}, tok.Genes[1:3])
	assert.Equal(t, []float32{5, 7}, tok.Values[1:3])
	assert.Equal(t, v.ID(PadToken), tok.Genes[3])
	assert.Equal(t, PadValue, tok.Values[3])
	assert.Equal(t, PadValue, tok.Values[4])
}

func TestTokenizeAndPadIncludeZero(t *testing.T) {
	v := testVocab()
	settings := DefaultModelSettings(4)
	geneIDs := v.IDs([]string{"G0", "G1", "G2", "G3"})
	x := []float32{0, 5, 0, 7}

	tok, err := TokenizeAndPad(x, 1, 4, geneIDs, 5, v, settings, true, true)
	require.NoError(t, err)
	assert.Equal(t, geneIDs, tok.Genes[1:5], "zero genes kept in order")
	assert.Equal(t, []float32{0, 5, 0, 7}, tok.Values[1:5])
}

func TestTokenizeAndPadTruncates(t *testing.T) {
	v := testVocab()
	settings := DefaultModelSettings(4)
	geneIDs := v.IDs([]string{"G0", "G1", "G2", "G3"})
	x := []float32{1, 2, 3, 4}

	tok, err := TokenizeAndPad(x, 1, 4, geneIDs, 3, v, settings, true, false)
	require.NoError(t, err)
	assert.Equal(t, []int32{v.ID(ClsToken), v.ID("G0"), v.ID("G1")}, tok.Genes[:3])
}

func TestTokenizeAndPadValidates(t *testing.T) {
	v := testVocab()
	settings := DefaultModelSettings(4)

	_, err := TokenizeAndPad([]float32{1}, 1, 1, []int32{0, 1}, 4, v, settings, true, false)
	assert.Error(t, err, "gene id count must match columns")

	_, err = TokenizeAndPad([]float32{1}, 1, 1, []int32{0}, 0, v, settings, true, false)
	assert.Error(t, err, "max_len must be positive")
}
